package rtdb

import "sync"

// mailbox delivers snapshots to one subscriber callback in order, from its own
// goroutine, so a callback may call back into the store without deadlocking.
type mailbox struct {
	fn func(Snapshot)

	mu     sync.Mutex
	queue  []Snapshot
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

func newMailbox(fn func(Snapshot)) *mailbox {
	m := &mailbox{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *mailbox) push(s Snapshot) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, s)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.queue = nil
	close(m.done)
}

func (m *mailbox) run() {
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}

		for {
			m.mu.Lock()
			if m.closed || len(m.queue) == 0 {
				m.mu.Unlock()
				break
			}
			s := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()

			m.fn(s)
		}
	}
}
