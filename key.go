package refetch

import (
	"encoding/json"
	"fmt"
)

// Key identifies one cached result. It is an ordered sequence of
// JSON-serializable parts; two keys address the same entry iff their
// canonical serializations match. The cache never inspects the parts
// beyond serializing them.
//
// Example:
//
//	refetch.K("events")
//	refetch.K("events", map[string]string{"search": "go"})
//	refetch.K("events", 42)
type Key []any

// K builds a Key from its parts.
func K(parts ...any) Key {
	return Key(parts)
}

// String returns the canonical serialization of the key.
// encoding/json sorts map keys, so structurally equal keys serialize
// identically regardless of construction order.
func (k Key) String() string {
	data, err := json.Marshal([]any(k))
	if err != nil {
		// Non-serializable key parts are a programming error; fall back to
		// a deterministic-enough representation instead of panicking.
		return fmt.Sprintf("!%#v", []any(k))
	}
	return string(data)
}

// Equal reports whether two keys address the same cache entry.
func (k Key) Equal(other Key) bool {
	return k.String() == other.String()
}

// HasPrefix reports whether the first len(prefix) parts of k serialize
// equal to prefix. Used for partial key matching when invalidating whole
// key families, e.g. K("events") matches K("events", 42).
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i, part := range prefix {
		if canonicalPart(part) != canonicalPart(k[i]) {
			return false
		}
	}
	return true
}

func canonicalPart(part any) string {
	data, err := json.Marshal(part)
	if err != nil {
		return fmt.Sprintf("!%#v", part)
	}
	return string(data)
}
