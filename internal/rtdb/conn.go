package rtdb

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Largest frame accepted from a peer. SDP blobs are the biggest values.
	maxMessageSize = 64 * 1024
)

// Conn is the server side of one client websocket.
type Conn struct {
	Hub *Hub

	Conn *websocket.Conn

	// ID identifies the connection in logs.
	ID string

	// Send carries outbound frames to WritePump.
	Send chan *Frame

	// done is closed by the hub once the connection is unregistered.
	done chan struct{}

	session *MemorySession
	subs    map[uint64]Unsubscribe

	kick sync.Once
}

func newConn(hub *Hub, ws *websocket.Conn) *Conn {
	return &Conn{
		Hub:     hub,
		Conn:    ws,
		ID:      uuid.NewString(),
		Send:    make(chan *Frame, 256),
		done:    make(chan struct{}),
		session: hub.mem.Session(),
		subs:    make(map[uint64]Unsubscribe),
	}
}

// send queues a frame without blocking. A client whose buffer is full is
// disconnected, and its ReadPump then unregisters it.
func (c *Conn) send(f *Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- f:
		return true
	default:
		c.kick.Do(func() {
			slog.Warn("client not reading, disconnecting", "conn", c.ID)
			c.Conn.Close()
		})
		return false
	}
}

// ReadPump decodes frames from the websocket and hands them to the hub.
// There is at most one reader per connection.
func (c *Conn) ReadPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.quit:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Info("connection dropped", "conn", c.ID, "err", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		var f Frame
		if err := msgpack.Unmarshal(data, &f); err != nil {
			slog.Warn("malformed frame", "conn", c.ID, "err", err)
			continue
		}

		select {
		case c.Hub.requests <- &request{conn: c, frame: &f}:
		case <-c.Hub.quit:
			return
		}
	}
}

// WritePump encodes frames from Send onto the websocket and keeps the
// connection alive with pings. There is at most one writer per connection.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case f := <-c.Send:
			data, err := msgpack.Marshal(f)
			if err != nil {
				slog.Error("encode frame", "conn", c.ID, "err", err)
				continue
			}
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
