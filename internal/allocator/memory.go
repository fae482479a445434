// Copyright 2015 Aleksandr Demakin. All rights reserved.

// Package allocator contains helpers to address data placed into mapped memory.
package allocator

import (
	"sync/atomic"
	"unsafe"
)

const wordSize = 4

// ByteSliceData returns a pointer to the data of the given byte slice.
func ByteSliceData(slice []byte) unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(slice))
}

// AdvancePointer adds shift value to 'p' pointer.
func AdvancePointer(p unsafe.Pointer, shift uintptr) unsafe.Pointer {
	return unsafe.Add(p, shift)
}

// Word is a 32-bit cell inside mapped memory.
// All accesses are atomic, so the cell can be shared with another processor.
type Word struct {
	ptr *uint32
}

// WordAt returns the word at the byte offset off of memory.
// off must be 4-byte aligned and the word must fit into memory.
func WordAt(memory []byte, off int) Word {
	if off < 0 || off%wordSize != 0 || off+wordSize > len(memory) {
		panic("invalid word offset")
	}
	if uintptr(ByteSliceData(memory))%wordSize != 0 {
		panic("unaligned memory")
	}
	return Word{ptr: (*uint32)(AdvancePointer(ByteSliceData(memory), uintptr(off)))}
}

// Load atomically reads the word.
func (w Word) Load() uint32 {
	return atomic.LoadUint32(w.ptr)
}

// Store atomically writes the word.
func (w Word) Store(v uint32) {
	atomic.StoreUint32(w.ptr, v)
}

// CompareAndSwap atomically replaces old with val.
func (w Word) CompareAndSwap(old, val uint32) bool {
	return atomic.CompareAndSwapUint32(w.ptr, old, val)
}

// Swap atomically stores v and returns the previous value.
func (w Word) Swap(v uint32) uint32 {
	return atomic.SwapUint32(w.ptr, v)
}

// Add atomically adds delta and returns the new value.
func (w Word) Add(delta uint32) uint32 {
	return atomic.AddUint32(w.ptr, delta)
}

// Words returns n consecutive words starting at off.
func Words(memory []byte, off, n int) []Word {
	result := make([]Word, n)
	for i := range result {
		result[i] = WordAt(memory, off+i*wordSize)
	}
	return result
}
