// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package array implements fixed-capacity tables with stable indices.
package array

import (
	"math"
	"math/bits"
)

func bitmapSize(sz int) int {
	bitmapSize := sz / 64
	if sz%64 != 0 {
		bitmapSize++
	}
	return bitmapSize
}

// Slots is a bitmap of used slots of a fixed-size table.
// A slot index stays the same for the whole lifetime of the object stored there.
// Slots is not safe for concurrent use.
type Slots struct {
	bitmap []uint64
	size   int
	used   int
	// hint is the first bucket, which may contain a free bit.
	hint int
}

// NewSlots returns a slot set of the given capacity.
func NewSlots(size int) *Slots {
	if size < 0 {
		panic("negative slot count")
	}
	return &Slots{bitmap: make([]uint64, bitmapSize(size)), size: size}
}

// Cap returns the capacity.
func (s *Slots) Cap() int {
	return s.size
}

// Len returns the number of used slots.
func (s *Slots) Len() int {
	return s.used
}

// Full returns true, if there are no free slots.
func (s *Slots) Full() bool {
	return s.used == s.size
}

// Reserve takes the lowest free slot.
// It returns false, if all slots are used.
func (s *Slots) Reserve() (int, bool) {
	if s.Full() {
		return -1, false
	}
	for i := s.hint; i < len(s.bitmap); i++ {
		b := s.bitmap[i]
		if b == math.MaxUint64 {
			continue
		}
		idx := i*64 + bits.TrailingZeros64(^b)
		if idx >= s.size {
			break
		}
		s.bitmap[i] |= 1 << uint(idx%64)
		s.used++
		s.hint = i
		return idx, true
	}
	return -1, false
}

// Release frees the slot. It returns false, if the slot was not used.
func (s *Slots) Release(idx int) bool {
	if !s.InUse(idx) {
		return false
	}
	bucket := idx / 64
	s.bitmap[bucket] &^= 1 << uint(idx%64)
	s.used--
	if bucket < s.hint {
		s.hint = bucket
	}
	return true
}

// InUse returns true, if the slot is reserved.
func (s *Slots) InUse(idx int) bool {
	if idx < 0 || idx >= s.size {
		return false
	}
	return s.bitmap[idx/64]&(1<<uint(idx%64)) != 0
}

// Each calls fn for every used slot in ascending order.
func (s *Slots) Each(fn func(idx int)) {
	for i, b := range s.bitmap {
		for b != 0 {
			bit := bits.TrailingZeros64(b)
			fn(i*64 + bit)
			b &^= 1 << uint(bit)
		}
	}
}
