package rtdb

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rehaani/mediconnect/internal/netutil"
	"github.com/vmihailenco/msgpack/v5"
)

const closeWait = 2 * time.Second

// Client is a Store backed by a remote hub over a websocket.
type Client struct {
	conn      *websocket.Conn
	serverURL string

	outgoing chan *Frame
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	pending map[uint64]chan *Frame
	subs    map[uint64]*mailbox

	nextID  atomic.Uint64
	nextSub atomic.Uint64
}

var _ Store = (*Client)(nil)

// Dial connects to the hub at serverURL (ws:// or wss://).
func Dial(ctx context.Context, serverURL string) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ip, err := netutil.Lookup(host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}
		var d net.Dialer
		return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:      conn,
		serverURL: serverURL,
		outgoing:  make(chan *Frame, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		pending:   make(map[uint64]chan *Frame),
		subs:      make(map[uint64]*mailbox),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

// Done is closed once the connection to the hub is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		c.fail()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			slog.Debug("store connection closed", "url", c.serverURL, "err", err)
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		var f Frame
		if err := msgpack.Unmarshal(data, &f); err != nil {
			slog.Warn("malformed frame from store", "err", err)
			continue
		}
		c.route(&f)
	}
}

func (c *Client) route(f *Frame) {
	switch f.Op {
	case OpAck:
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if ok {
			ch <- f
		}

	case OpEvent:
		c.mu.Lock()
		box, ok := c.subs[f.Sub]
		c.mu.Unlock()
		if !ok {
			return
		}
		v, err := decodeValue(f.Value)
		if err != nil {
			slog.Warn("undecodable event", "path", f.Path, "err", err)
			return
		}
		box.push(Snapshot{Path: f.Path, Value: v})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f := <-c.outgoing:
			data, err := msgpack.Marshal(f)
			if err != nil {
				slog.Error("encode frame", "op", f.Op, "err", err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-c.done:
			return
		}
	}
}

// fail releases everyone waiting on the connection.
func (c *Client) fail() {
	c.mu.Lock()
	close(c.done)
	pending := c.pending
	subs := c.subs
	c.pending = make(map[uint64]chan *Frame)
	c.subs = make(map[uint64]*mailbox)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	for _, box := range subs {
		box.close()
	}
}

func (c *Client) request(ctx context.Context, f *Frame) (*Frame, error) {
	f.ID = c.nextID.Add(1)
	reply := make(chan *Frame, 1)

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, ErrDisconnected
	default:
	}
	c.pending[f.ID] = reply
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
	}

	select {
	case c.outgoing <- f:
	case <-c.done:
		return nil, ErrDisconnected
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}

	select {
	case ack, ok := <-reply:
		if !ok {
			return nil, ErrDisconnected
		}
		if ack.Code != "" {
			return nil, codeError(ack.Code, ack.Error)
		}
		return ack, nil
	case <-c.done:
		return nil, ErrDisconnected
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

func (c *Client) Get(ctx context.Context, path string) (Snapshot, error) {
	ack, err := c.request(ctx, &Frame{Op: OpGet, Path: path})
	if err != nil {
		return Snapshot{}, err
	}
	v, err := decodeValue(ack.Value)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: ack.Path, Value: v}, nil
}

func (c *Client) Set(ctx context.Context, path string, value any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	_, err = c.request(ctx, &Frame{Op: OpSet, Path: path, Value: raw})
	return err
}

func (c *Client) Update(ctx context.Context, path string, fields map[string]any) error {
	return c.update(ctx, OpUpdate, path, fields)
}

func (c *Client) UpdateExisting(ctx context.Context, path string, fields map[string]any) error {
	return c.update(ctx, OpUpdateExisting, path, fields)
}

func (c *Client) update(ctx context.Context, op, path string, fields map[string]any) error {
	encoded := make(map[string]msgpack.RawMessage, len(fields))
	for k, v := range fields {
		raw, err := encodeValue(v)
		if err != nil {
			return err
		}
		encoded[k] = raw
	}
	_, err := c.request(ctx, &Frame{Op: op, Path: path, Fields: encoded})
	return err
}

func (c *Client) Create(ctx context.Context, path string, value any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	_, err = c.request(ctx, &Frame{Op: OpCreate, Path: path, Value: raw})
	return err
}

func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.request(ctx, &Frame{Op: OpDelete, Path: path})
	return err
}

func (c *Client) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error) {
	id := c.nextSub.Add(1)
	box := newMailbox(fn)

	// Registered before the request goes out: the first event may overtake the ack.
	c.mu.Lock()
	c.subs[id] = box
	c.mu.Unlock()

	if _, err := c.request(ctx, &Frame{Op: OpSubscribe, Path: path, Sub: id}); err != nil {
		c.dropSub(id)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if c.dropSub(id) {
				go c.post(&Frame{Op: OpUnsubscribe, Sub: id})
			}
		})
	}, nil
}

func (c *Client) dropSub(id uint64) bool {
	c.mu.Lock()
	box, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		box.close()
	}
	return ok
}

// post sends a frame without waiting for its ack.
func (c *Client) post(f *Frame) {
	select {
	case c.outgoing <- f:
	case <-c.done:
	}
}

func (c *Client) OnDisconnectRemove(ctx context.Context, path string) error {
	_, err := c.request(ctx, &Frame{Op: OpOnDisconnect, Path: path})
	return err
}

func (c *Client) CancelOnDisconnect(ctx context.Context, path string) error {
	_, err := c.request(ctx, &Frame{Op: OpCancelOnDisconnect, Path: path})
	return err
}

// Close sends a close frame and waits briefly for the hub to hang up.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	select {
	case <-c.done:
	case <-time.After(closeWait):
		c.conn.Close()
	}
	return nil
}
