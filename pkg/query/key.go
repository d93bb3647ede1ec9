// Package query provides an in-memory query lifecycle engine: keyed queries that fetch,
// retry and refetch on a schedule, and a shared client that broadcasts invalidation and
// subscriber events to every query whose key matches.
package query

import (
	"fmt"
	"math"
	"strings"
)

// Key is an immutable, ordered identifier for a query, e.g. NewKey("users", 42).
// Segments are primitive values; anything else is stored as its fmt.Sprint string so
// that every Key is comparable. Integer segments of any width are stored as int64 and
// float32 as float64, so NewKey(42) and NewKey(int64(42)) are equal. Integers and
// floats never match each other: NewKey(1) does not match NewKey(1.0).
type Key struct {
	segments []any
}

// NewKey builds a Key from the given segments. The empty key is legal and is a
// complete subset of every other key.
func NewKey(segments ...any) Key {
	normalised := make([]any, len(segments))
	for i, s := range segments {
		normalised[i] = normaliseSegment(s)
	}
	return Key{segments: normalised}
}

func normaliseSegment(s any) any {
	switch v := s.(type) {
	case string, bool, float64:
		return v
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint:
		return normaliseUnsigned(uint64(v))
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return normaliseUnsigned(v)
	case uintptr:
		return normaliseUnsigned(uint64(v))
	case float32:
		return float64(v)
	default:
		return fmt.Sprint(s)
	}
}

// normaliseUnsigned keeps values above math.MaxInt64 as uint64.
func normaliseUnsigned(v uint64) any {
	if v > math.MaxInt64 {
		return v
	}
	return int64(v)
}

// Segments returns a copy of the key's segments.
func (k Key) Segments() []any {
	out := make([]any, len(k.segments))
	copy(out, k.segments)
	return out
}

// Len returns the number of segments.
func (k Key) Len() int {
	return len(k.segments)
}

// Equal reports whether both keys hold the same segments in the same order.
func (k Key) Equal(other Key) bool {
	if len(k.segments) != len(other.segments) {
		return false
	}
	for i := range k.segments {
		if k.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}

// IsCompleteSubset reports whether every segment of k occurs somewhere in other.
// Order is ignored and duplicates in k do not need matching duplicates in other, so
// NewKey("users").IsCompleteSubset(NewKey("users", "42")) is true.
func (k Key) IsCompleteSubset(other Key) bool {
	for _, seg := range k.segments {
		if !other.contains(seg) {
			return false
		}
	}
	return true
}

func (k Key) contains(seg any) bool {
	for _, s := range k.segments {
		if s == seg {
			return true
		}
	}
	return false
}

// Hash returns a canonical, type-tagged encoding of the key. Equal keys share a hash;
// NewKey(1) and NewKey("1") do not.
func (k Key) Hash() string {
	var b strings.Builder
	for _, seg := range k.segments {
		fmt.Fprintf(&b, "%T(%#v);", seg, seg)
	}
	return b.String()
}

// String renders the key for logs, e.g. "[users 42]".
func (k Key) String() string {
	return fmt.Sprint(k.segments)
}
