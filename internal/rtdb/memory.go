package rtdb

import (
	"context"
	"log/slog"
	"sync"
)

// Memory is an in-process document tree with change notification. It backs
// the websocket server and is used directly by tests. Clients talk to it
// through a MemorySession, which carries the per-connection state.
type Memory struct {
	mu   sync.Mutex
	data *tree
	subs map[uint64]*memSub
	next uint64
}

type memSub struct {
	path string
	box  *mailbox
	last any
}

func NewMemory() *Memory {
	return &Memory{
		data: newTree(),
		subs: make(map[uint64]*memSub),
	}
}

// Get returns a copy of the value at path.
func (m *Memory) Get(path string) (Snapshot, error) {
	p, err := CleanPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Path: p, Value: clone(m.data.get(p))}, nil
}

func (m *Memory) Set(path string, value any) error {
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	v, err := Normalize(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.set(p, v)
	m.notifyLocked(p)
	return nil
}

func (m *Memory) Update(path string, fields map[string]any) error {
	return m.update(path, fields, false)
}

// UpdateExisting merges fields only if path already holds data.
func (m *Memory) UpdateExisting(path string, fields map[string]any) error {
	return m.update(path, fields, true)
}

func (m *Memory) update(path string, fields map[string]any, mustExist bool) error {
	p, err := CleanPath(path)
	if err != nil {
		return err
	}

	type change struct {
		path  string
		value any
	}
	changes := make([]change, 0, len(fields))
	for k, raw := range fields {
		cp, err := CleanPath(Join(p, k))
		if err != nil || cp == p {
			return ErrInvalidPath
		}
		v, err := Normalize(raw)
		if err != nil {
			return err
		}
		changes = append(changes, change{path: cp, value: v})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if mustExist && m.data.get(p) == nil {
		return ErrNotFound
	}
	for _, c := range changes {
		m.data.set(c.path, c.value)
	}
	m.notifyLocked(p)
	return nil
}

// Create is a conditional Set: it fails with ErrExists if path holds data.
func (m *Memory) Create(path string, value any) error {
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	v, err := Normalize(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data.get(p) != nil {
		return ErrExists
	}
	m.data.set(p, v)
	m.notifyLocked(p)
	return nil
}

func (m *Memory) Delete(path string) error {
	return m.Set(path, nil)
}

// Subscribe registers fn for changes under path. fn first receives the
// current value.
func (m *Memory) Subscribe(path string, fn func(Snapshot)) (Unsubscribe, error) {
	p, err := CleanPath(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.next++
	id := m.next
	sub := &memSub{path: p, box: newMailbox(fn)}
	sub.last = clone(m.data.get(p))
	m.subs[id] = sub
	sub.box.push(Snapshot{Path: p, Value: clone(sub.last)})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			sub.box.close()
		})
	}, nil
}

// notifyLocked pushes a snapshot to every subscription whose value may have
// changed because of a write at path.
func (m *Memory) notifyLocked(path string) {
	for _, sub := range m.subs {
		if !related(sub.path, path) {
			continue
		}
		cur := m.data.get(sub.path)
		if equal(cur, sub.last) {
			continue
		}
		sub.last = clone(cur)
		sub.box.push(Snapshot{Path: sub.path, Value: clone(cur)})
	}
}

// Session opens a client view of the tree. Paths registered with
// OnDisconnectRemove are deleted when the session is dropped or closed.
func (m *Memory) Session() *MemorySession {
	return &MemorySession{
		mem:     m,
		removes: make(map[string]struct{}),
		done:    make(chan struct{}),
	}
}

// MemorySession implements Store on top of a shared Memory.
type MemorySession struct {
	mem *Memory

	mu      sync.Mutex
	removes map[string]struct{}
	unsubs  []Unsubscribe
	closed  bool
	done    chan struct{}
}

var _ Store = (*MemorySession)(nil)

func (s *MemorySession) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisconnected
	}
	return nil
}

func (s *MemorySession) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := s.check(ctx); err != nil {
		return Snapshot{}, err
	}
	return s.mem.Get(path)
}

func (s *MemorySession) Set(ctx context.Context, path string, value any) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.mem.Set(path, value)
}

func (s *MemorySession) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.mem.Update(path, fields)
}

func (s *MemorySession) UpdateExisting(ctx context.Context, path string, fields map[string]any) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.mem.UpdateExisting(path, fields)
}

func (s *MemorySession) Create(ctx context.Context, path string, value any) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.mem.Create(path, value)
}

func (s *MemorySession) Delete(ctx context.Context, path string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.mem.Delete(path)
}

func (s *MemorySession) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	unsub, err := s.mem.Subscribe(path, fn)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsub)
	s.mu.Unlock()
	return unsub, nil
}

func (s *MemorySession) OnDisconnectRemove(ctx context.Context, path string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.removes[p] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *MemorySession) CancelOnDisconnect(ctx context.Context, path string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	p, err := CleanPath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.removes, p)
	s.mu.Unlock()
	return nil
}

// Done is closed once the session has been dropped.
func (s *MemorySession) Done() <-chan struct{} {
	return s.done
}

// Drop simulates the connection going away: subscriptions stop, registered
// paths are deleted, and further calls fail with ErrDisconnected.
func (s *MemorySession) Drop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	unsubs := s.unsubs
	removes := s.removes
	s.unsubs = nil
	s.removes = nil
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	for p := range removes {
		if err := s.mem.Delete(p); err != nil {
			slog.Warn("remove on disconnect failed", "path", p, "err", err)
			continue
		}
		slog.Debug("removed on disconnect", "path", p)
	}
}

// Close ends the session. Like a dropped connection it runs the
// remove-on-disconnect registrations.
func (s *MemorySession) Close() error {
	s.Drop()
	return nil
}
