// Package vclock implements the causal-history algebra the in-flight
// transaction manager uses to detect conflicts between concurrent writes
// across replicas.
//
// A VClock is a dotted-version-vector: a map from node tag to a
// monotonically increasing counter. Two clocks are compared structurally —
// one "descends" another iff every counter in the second is less than or
// equal to the matching counter in the first. Clocks that neither descend
// nor equal each other are concurrent, which is exactly the situation the
// in-flight manager calls a conflict.
//
// Example:
//
//	a := vclock.New()
//	a = vclock.Next("node-a", a) // {node-a: 1}
//	b := vclock.Next("node-b", a) // {node-a: 1, node-b: 1}
//	vclock.Descends(b, a) // true — b has seen everything a has, plus more
//	vclock.Same(a, b)     // false
package vclock

import "sort"

// VClock is an immutable causal-history value. The zero value is the
// empty clock, the same value New() returns.
//
// Values are never mutated in place; Next returns a new VClock, leaving
// its argument untouched. This lets a VClock be shared freely across
// staged operations without defensive copying.
type VClock struct {
	counters map[string]uint64
}

// New returns an empty vector clock, representing a document with no
// recorded causal history.
func New() VClock {
	return VClock{}
}

// Next advances clock by one tick under the given node tag, returning a
// new VClock. The argument is never modified.
func Next(nodeTag string, prev VClock) VClock {
	next := make(map[string]uint64, len(prev.counters)+1)
	for tag, count := range prev.counters {
		next[tag] = count
	}
	next[nodeTag] = next[nodeTag] + 1
	return VClock{counters: next}
}

// Same reports whether a and b record identical causal history.
func Same(a, b VClock) bool {
	if len(a.counters) != len(b.counters) {
		return false
	}
	for tag, count := range a.counters {
		if b.counters[tag] != count {
			return false
		}
	}
	return true
}

// Descends reports whether a causally succeeds or equals b: every counter
// present in b is present in a with a value at least as large.
func Descends(a, b VClock) bool {
	for tag, bCount := range b.counters {
		if a.counters[tag] < bCount {
			return false
		}
	}
	return true
}

// Concurrent reports whether a and b are causally incomparable — neither
// descends the other and they are not equal. This is the condition the
// in-flight manager classifies as a conflict.
func Concurrent(a, b VClock) bool {
	return !Same(a, b) && !Descends(a, b) && !Descends(b, a)
}

// IsEmpty reports whether the clock has never been advanced.
func (v VClock) IsEmpty() bool {
	return len(v.counters) == 0
}

// Counter returns the tick count recorded for nodeTag, or 0 if the tag
// has never advanced this clock.
func (v VClock) Counter(nodeTag string) uint64 {
	return v.counters[nodeTag]
}

// Tags returns the node tags recorded in the clock, sorted for
// deterministic iteration (used by serialization and tests).
func (v VClock) Tags() []string {
	tags := make([]string, 0, len(v.counters))
	for tag := range v.counters {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Map returns the clock's counters as a plain map, safe for the caller to
// mutate — used by the storage codec for (de)serialization.
func (v VClock) Map() map[string]uint64 {
	m := make(map[string]uint64, len(v.counters))
	for tag, count := range v.counters {
		m[tag] = count
	}
	return m
}

// FromMap builds a VClock from a plain map, typically decoded from
// storage. The input is copied, not retained.
func FromMap(m map[string]uint64) VClock {
	if len(m) == 0 {
		return New()
	}
	counters := make(map[string]uint64, len(m))
	for tag, count := range m {
		counters[tag] = count
	}
	return VClock{counters: counters}
}
