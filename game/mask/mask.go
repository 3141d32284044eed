// Package mask implements the slot-mask message: the set of board slot indices
// hidden from one viewer.
//
// Wire layout (big-endian):
//
//	uint32 count
//	uint32 index × count
//
// Indices are unique within a message and their order carries no meaning. A
// message with count 0 means nothing is hidden. Receivers replace their whole
// mask with each message, so a lost or reordered message only leaves a stale
// view until the next one arrives.
package mask

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrTruncated = errors.New("mask: truncated message")
	ErrTrailing  = errors.New("mask: trailing bytes")
	ErrDuplicate = errors.New("mask: duplicate slot index")
)

// maxSlots bounds count so a corrupt header cannot request a huge allocation.
const maxSlots = 1 << 16

// Set is a set of slot indices.
type Set map[uint32]struct{}

// Of builds a Set from indices.
func Of(indices ...uint32) Set {
	s := make(Set, len(indices))
	for _, i := range indices {
		s[i] = struct{}{}
	}
	return s
}

// Has reports whether index i is in the set.
func (s Set) Has(i uint32) bool {
	_, ok := s[i]
	return ok
}

// Sorted returns the indices in ascending order.
func (s Set) Sorted() []uint32 {
	out := make([]uint32, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// Equal reports whether s and o hold the same indices.
func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !o.Has(i) {
			return false
		}
	}
	return true
}

// Encode serializes s. Indices are written in ascending order.
func Encode(s Set) []byte {
	buf := make([]byte, 4+4*len(s))
	binary.BigEndian.PutUint32(buf, uint32(len(s)))
	off := 4
	for _, i := range s.Sorted() {
		binary.BigEndian.PutUint32(buf[off:], i)
		off += 4
	}
	return buf
}

// Decode parses a message produced by Encode.
func Decode(data []byte) (Set, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	n := binary.BigEndian.Uint32(data)
	if n > maxSlots {
		return nil, fmt.Errorf("mask: count %d exceeds limit", n)
	}
	want := 4 + 4*int(n)
	switch {
	case len(data) < want:
		return nil, ErrTruncated
	case len(data) > want:
		return nil, ErrTrailing
	}
	s := make(Set, n)
	for off := 4; off < want; off += 4 {
		i := binary.BigEndian.Uint32(data[off:])
		if s.Has(i) {
			return nil, fmt.Errorf("%w: %d", ErrDuplicate, i)
		}
		s[i] = struct{}{}
	}
	return s, nil
}

// View is the receiving side's copy of its mask.
type View struct {
	mu   sync.RWMutex
	mask Set
}

// Apply decodes data and replaces the current mask with it. A malformed message
// leaves the previous mask in place.
func (v *View) Apply(data []byte) error {
	s, err := Decode(data)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.mask = s
	v.mu.Unlock()
	return nil
}

// Hidden reports whether slot i is currently masked.
func (v *View) Hidden(i uint32) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.mask.Has(i)
}

// Snapshot returns a copy of the current mask.
func (v *View) Snapshot() Set {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Of(v.mask.Sorted()...)
}
