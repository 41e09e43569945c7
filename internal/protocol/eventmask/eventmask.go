// Package eventmask implements the per-name event subscription set used by the dispatch layer.
//
// A Set maps names to 64-bit masks of event types. An empty Set is a wildcard: it contains
// every name and every event type. Sets carry no internal locking; the owner serializes access.
package eventmask

import (
	"fmt"
	"slices"
	"strings"

	"github.com/danmuck/edgeipc/internal/protocol"
)

// Mask is a bit set of event types.
type Mask uint64

// All selects every event type.
const All Mask = ^Mask(0)

// EventType is a bit position in a Mask.
type EventType uint8

const MaxEventType EventType = 63

func (t EventType) Bit() Mask {
	if t > MaxEventType {
		return 0
	}
	return Mask(1) << t
}

type entry struct {
	name string
	mask Mask
}

// Set is an ordered name to Mask map. The zero value is an empty, unbounded set.
type Set struct {
	entries []entry
	limit   int
}

func NewSet() *Set { return &Set{} }

// NewSetWithLimit bounds the number of entries. Growing past the limit fails with
// protocol.ErrNoMemory.
func NewSetWithLimit(limit int) *Set { return &Set{limit: limit} }

func (s *Set) Len() int    { return len(s.entries) }
func (s *Set) Empty() bool { return len(s.entries) == 0 }
func (s *Set) Limit() int  { return s.limit }

func (s *Set) find(name string) (int, bool) {
	return slices.BinarySearchFunc(s.entries, name, func(e entry, name string) int {
		return strings.Compare(e.name, name)
	})
}

// Add ORs mask into name's entry, creating it if needed. A zero mask means All.
func (s *Set) Add(name string, mask Mask) error {
	if mask == 0 {
		mask = All
	}
	i, ok := s.find(name)
	if ok {
		s.entries[i].mask |= mask
		return nil
	}
	if s.limit > 0 && len(s.entries) >= s.limit {
		return fmt.Errorf("%w: event mask set holds %d entries", protocol.ErrNoMemory, s.limit)
	}
	s.entries = slices.Insert(s.entries, i, entry{name: name, mask: mask})
	return nil
}

// Remove clears mask from name's entry and deletes the entry once it is empty. A zero mask
// removes the entry outright. It reports whether an entry existed.
func (s *Set) Remove(name string, mask Mask) bool {
	if mask == 0 {
		mask = All
	}
	i, ok := s.find(name)
	if !ok {
		return false
	}
	s.entries[i].mask &^= mask
	if s.entries[i].mask == 0 {
		s.entries = slices.Delete(s.entries, i, i+1)
	}
	return true
}

// Lookup returns name's mask without applying the wildcard rule.
func (s *Set) Lookup(name string) (Mask, bool) {
	i, ok := s.find(name)
	if !ok {
		return 0, false
	}
	return s.entries[i].mask, true
}

// Has reports whether name is selected for any event type.
func (s *Set) Has(name string) bool {
	if s.Empty() {
		return true
	}
	_, ok := s.find(name)
	return ok
}

// Contains reports whether name is selected for event type t.
func (s *Set) Contains(name string, t EventType) bool {
	if s.Empty() {
		return true
	}
	m, ok := s.Lookup(name)
	return ok && m&t.Bit() != 0
}

// Copy returns a deep clone, limit included.
func (s *Set) Copy() *Set {
	return &Set{entries: slices.Clone(s.entries), limit: s.limit}
}

// Merge unions every entry of src into s. On failure the entries merged so far stay merged.
func (s *Set) Merge(src *Set) error {
	if src == nil {
		return nil
	}
	for _, e := range src.entries {
		if err := s.Add(e.name, e.mask); err != nil {
			return fmt.Errorf("merge %q: %w", e.name, err)
		}
	}
	return nil
}

// MergeNew merges into s only the bits of src that baseline does not already hold for the same
// name, producing an incremental subscription delta. A nil baseline holds nothing. On failure
// the entries merged so far stay merged.
func (s *Set) MergeNew(baseline, src *Set) error {
	if src == nil {
		return nil
	}
	for _, e := range src.entries {
		delta := e.mask
		if baseline != nil {
			if have, ok := baseline.Lookup(e.name); ok {
				delta &^= have
			}
		}
		if delta == 0 {
			continue
		}
		if err := s.Add(e.name, delta); err != nil {
			return fmt.Errorf("merge new %q: %w", e.name, err)
		}
	}
	return nil
}

// Range calls fn for each entry in name order until fn returns false.
func (s *Set) Range(fn func(name string, mask Mask) bool) {
	for _, e := range s.entries {
		if !fn(e.name, e.mask) {
			return
		}
	}
}

func (s *Set) Names() []string {
	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.name
	}
	return names
}

func (s *Set) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, e := range s.entries {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s:%#x", e.name, uint64(e.mask))
	}
	b.WriteByte('}')
	return b.String()
}
