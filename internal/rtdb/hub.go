package rtdb

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

type request struct {
	conn  *Conn
	frame *Frame
}

// Hub owns the shared tree and every client connection. All frames are
// applied from the single Run goroutine, so each client sees its own
// requests acknowledged in the order it sent them.
type Hub struct {
	mem   *Memory
	conns map[*Conn]struct{}

	Register   chan *Conn
	Unregister chan *Conn
	requests   chan *request

	quit     chan struct{}
	quitOnce sync.Once
}

// NewHub creates a hub over mem. A nil mem gets a fresh tree.
func NewHub(mem *Memory) *Hub {
	if mem == nil {
		mem = NewMemory()
	}
	return &Hub{
		mem:        mem,
		conns:      make(map[*Conn]struct{}),
		Register:   make(chan *Conn),
		Unregister: make(chan *Conn),
		requests:   make(chan *request),
		quit:       make(chan struct{}),
	}
}

// Memory exposes the tree the hub serves.
func (h *Hub) Memory() *Memory {
	return h.mem
}

// Run processes registrations and requests until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil

		case c := <-h.Register:
			h.conns[c] = struct{}{}
			slog.Info("client registered", "conn", c.ID, "addr", c.Conn.RemoteAddr())

		case c := <-h.Unregister:
			h.drop(c)

		case req := <-h.requests:
			if _, ok := h.conns[req.conn]; !ok {
				continue
			}
			h.handle(req.conn, req.frame)
		}
	}
}

func (h *Hub) shutdown() {
	h.quitOnce.Do(func() { close(h.quit) })
	for c := range h.conns {
		h.drop(c)
	}
}

// drop forgets a connection. Its subscriptions stop and its
// remove-on-disconnect paths are deleted, which notifies other clients.
func (h *Hub) drop(c *Conn) {
	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	close(c.done)
	c.session.Drop()
	slog.Info("client unregistered", "conn", c.ID)
}

func (h *Hub) handle(c *Conn, f *Frame) {
	slog.Debug("frame received", "conn", c.ID, "op", f.Op, "path", f.Path)

	ack := &Frame{ID: f.ID, Op: OpAck, Path: f.Path}
	ctx := context.Background()
	var err error

	switch f.Op {
	case OpGet:
		var snap Snapshot
		if snap, err = c.session.Get(ctx, f.Path); err == nil {
			ack.Path = snap.Path
			ack.Value, err = encodeValue(snap.Value)
		}

	case OpSet, OpCreate:
		var v any
		if v, err = decodeValue(f.Value); err == nil {
			if f.Op == OpSet {
				err = c.session.Set(ctx, f.Path, v)
			} else {
				err = c.session.Create(ctx, f.Path, v)
			}
		}

	case OpUpdate, OpUpdateExisting:
		fields := make(map[string]any, len(f.Fields))
		for k, raw := range f.Fields {
			if fields[k], err = decodeValue(raw); err != nil {
				break
			}
		}
		if err == nil {
			if f.Op == OpUpdate {
				err = c.session.Update(ctx, f.Path, fields)
			} else {
				err = c.session.UpdateExisting(ctx, f.Path, fields)
			}
		}

	case OpDelete:
		err = c.session.Delete(ctx, f.Path)

	case OpSubscribe:
		err = h.subscribe(c, f)

	case OpUnsubscribe:
		if unsub, ok := c.subs[f.Sub]; ok {
			unsub()
			delete(c.subs, f.Sub)
		}

	case OpOnDisconnect:
		err = c.session.OnDisconnectRemove(ctx, f.Path)

	case OpCancelOnDisconnect:
		err = c.session.CancelOnDisconnect(ctx, f.Path)

	default:
		slog.Warn("unknown frame op", "conn", c.ID, "op", f.Op)
		err = errUnknownOp
	}

	if err != nil {
		ack.Code = errorCode(err)
		ack.Error = err.Error()
	}
	if f.ID != 0 {
		c.send(ack)
	}
}

func (h *Hub) subscribe(c *Conn, f *Frame) error {
	if _, ok := c.subs[f.Sub]; ok || f.Sub == 0 {
		return errBadSubscription
	}
	sub := f.Sub
	unsub, err := c.session.Subscribe(context.Background(), f.Path, func(s Snapshot) {
		var raw msgpack.RawMessage
		if s.Value != nil {
			var err error
			if raw, err = encodeValue(s.Value); err != nil {
				slog.Error("encode event", "conn", c.ID, "path", s.Path, "err", err)
				return
			}
		}
		c.send(&Frame{Op: OpEvent, Sub: sub, Path: s.Path, Value: raw})
	})
	if err != nil {
		return err
	}
	c.subs[sub] = unsub
	return nil
}
