package rtdb

import (
	"strings"
)

// CleanPath normalises a slash separated document path. Leading and trailing
// slashes are dropped. An empty path addresses the root of the tree.
func CleanPath(p string) (string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", nil
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrInvalidPath
		}
	}
	return p, nil
}

// Join builds a path from segments.
func Join(segs ...string) string {
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		s = strings.Trim(s, "/")
		if s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "/")
}

func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// related reports whether a change at path b can affect the value at path a.
func related(a, b string) bool {
	return isWithin(a, b) || isWithin(b, a)
}

// isWithin reports whether p equals root or lies below it.
func isWithin(p, root string) bool {
	if root == "" || p == root {
		return true
	}
	return strings.HasPrefix(p, root+"/")
}

func lastSegment(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
