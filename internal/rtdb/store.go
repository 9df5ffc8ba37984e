// Package rtdb is a small realtime document-tree store. Clients read, write,
// merge and delete values at slash separated paths, subscribe to subtrees,
// and register paths to be removed when their connection drops.
package rtdb

import (
	"context"
	"errors"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrExists       = errors.New("path already exists")
	ErrNotFound     = errors.New("path does not exist")
	ErrInvalidPath  = errors.New("invalid path")
	ErrDisconnected = errors.New("store connection lost")
	ErrClosed       = errors.New("store closed")
)

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

// Store is the set of primitives a call session needs from the signaling
// channel. Every method may fail; callers treat a failure as a lost channel.
type Store interface {
	// Get reads the value at path once.
	Get(ctx context.Context, path string) (Snapshot, error)
	// Set replaces the subtree at path. A nil value deletes it.
	Set(ctx context.Context, path string, value any) error
	// Update merges fields under path without touching siblings. Field keys
	// may be relative paths; a nil field value deletes that child.
	Update(ctx context.Context, path string, fields map[string]any) error
	// UpdateExisting is Update that fails with ErrNotFound, writing nothing,
	// when path holds no data. It keeps late writes from recreating a
	// document somebody else deleted.
	UpdateExisting(ctx context.Context, path string, fields map[string]any) error
	// Create writes value at path only if nothing is there yet, else ErrExists.
	Create(ctx context.Context, path string, value any) error
	// Delete removes the subtree at path.
	Delete(ctx context.Context, path string) error
	// Subscribe calls fn with the current value at path and again after every
	// change to it, including deletion. Calls for one subscription never overlap.
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error)
	// OnDisconnectRemove asks the store to delete path when this client's
	// connection goes away.
	OnDisconnectRemove(ctx context.Context, path string) error
	// CancelOnDisconnect drops a registration made by OnDisconnectRemove.
	CancelOnDisconnect(ctx context.Context, path string) error
	Close() error
}

// Snapshot is the value at a path at some moment. A nil Value means the
// path does not exist.
type Snapshot struct {
	Path  string
	Value any
}

func (s Snapshot) Exists() bool {
	return s.Value != nil
}

// Key returns the last segment of the snapshot path.
func (s Snapshot) Key() string {
	return lastSegment(s.Path)
}

// Decode copies the snapshot value into out, which is usually a struct with
// msgpack tags.
func (s Snapshot) Decode(out any) error {
	b, err := msgpack.Marshal(s.Value)
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(b, out)
}

// Child returns the snapshot of a direct or nested child.
func (s Snapshot) Child(rel string) Snapshot {
	p := Join(s.Path, rel)
	cur := s.Value
	for _, seg := range splitPath(Join(rel)) {
		m, ok := cur.(map[string]any)
		if !ok {
			return Snapshot{Path: p}
		}
		cur = m[seg]
	}
	return Snapshot{Path: p, Value: cur}
}

// Children returns the child keys in sorted order.
func (s Snapshot) Children() []string {
	m, ok := s.Value.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
