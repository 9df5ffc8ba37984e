package rtdb

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// Normalize converts an arbitrary Go value (structs with msgpack tags, maps,
// scalars, msgpack.RawMessage) into the generic tree form the store keeps:
// map[string]any for branches, and int64/uint64/float64/string/bool/[]byte
// or []any for leaves. Empty branches collapse to nil, which means "absent".
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	out, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return prune(out), nil
}

// prune drops nil children and empty maps so that "no data" has a single
// representation.
func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		child = prune(child)
		if child == nil {
			delete(m, k)
			continue
		}
		m[k] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// clone deep-copies branches so snapshots handed to callers never alias the tree.
func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = clone(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = clone(child)
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}

func equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// tree is the in-memory document. It is not safe for concurrent use.
type tree struct {
	root map[string]any
}

func newTree() *tree {
	return &tree{root: map[string]any{}}
}

func (t *tree) get(p string) any {
	var cur any = t.root
	for _, seg := range splitPath(p) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	if m, ok := cur.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	return cur
}

// set replaces the subtree at p. A nil value removes it, and any ancestor
// left empty is removed as well.
func (t *tree) set(p string, v any) {
	segs := splitPath(p)
	if len(segs) == 0 {
		if m, ok := v.(map[string]any); ok {
			t.root = m
		} else {
			t.root = map[string]any{}
		}
		return
	}
	if v == nil {
		t.remove(segs)
		return
	}

	cur := t.root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
}

func (t *tree) remove(segs []string) {
	var walk func(m map[string]any, i int) bool
	walk = func(m map[string]any, i int) bool {
		seg := segs[i]
		if i == len(segs)-1 {
			delete(m, seg)
			return len(m) == 0
		}
		child, ok := m[seg].(map[string]any)
		if !ok {
			return false
		}
		if walk(child, i+1) {
			delete(m, seg)
		}
		return len(m) == 0
	}
	walk(t.root, 0)
}
