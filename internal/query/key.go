package query

import (
	"encoding/json"
	"slices"
)

// Key identifies a dataset in the query cache. Keys are ordered tuples so a
// record key such as Key{"customer", "42"} sits under the list key
// Key{"customer"} and is invalidated along with it.
type Key []string

// String returns an unambiguous encoding of the key.
func (k Key) String() string {
	encoded, _ := json.Marshal([]string(k))
	return string(encoded)
}

// HasPrefix reports whether the leading elements of k equal prefix. Every key
// has the empty prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	return slices.Equal(k[:len(prefix)], prefix)
}

// With returns a new key extended by parts.
func (k Key) With(parts ...string) Key {
	return append(slices.Clone(k), parts...)
}
