// Package statusid orders Mastodon status identifiers.
//
// Status IDs are decimal digit strings that grow with creation time but are
// not guaranteed to fit in a 64-bit integer on every server. They are ordered
// by length first and then lexicographically, which matches numeric order for
// digit strings without parsing them.
package statusid

import "strings"

// Compare returns -1 if a sorts before b, +1 if after, and 0 if equal.
func Compare(a, b string) int {
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return strings.Compare(a, b)
}

// Less reports whether a is older than b.
func Less(a, b string) bool {
	return Compare(a, b) < 0
}

// Max returns the newest identifier in ids, ignoring empty strings.
func Max(ids ...string) string {
	var out string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if out == "" || Compare(id, out) > 0 {
			out = id
		}
	}
	return out
}

// Min returns the oldest identifier in ids, ignoring empty strings.
func Min(ids ...string) string {
	var out string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if out == "" || Compare(id, out) < 0 {
			out = id
		}
	}
	return out
}

// Cursor bounds what has been stored for one instance. An empty field means
// nothing has been stored on that side yet.
type Cursor struct {
	Newest string
	Oldest string
}

// Extend returns the cursor widened to cover ids.
func (c Cursor) Extend(ids ...string) Cursor {
	all := append([]string{c.Newest, c.Oldest}, ids...)
	return Cursor{Newest: Max(all...), Oldest: Min(all...)}
}

// Valid reports whether Newest does not sort before Oldest.
func (c Cursor) Valid() bool {
	if c.Newest == "" || c.Oldest == "" {
		return c.Newest == c.Oldest
	}
	return Compare(c.Newest, c.Oldest) >= 0
}
