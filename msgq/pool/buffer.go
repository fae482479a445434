// Copyright 2016 Aleksandr Demakin. All rights reserved.

package pool

import (
	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/msgq"

	"github.com/pkg/errors"
)

// BufferAllocator allocates the pools from the process heap.
type BufferAllocator struct {
	pools
}

// NewBufferAllocator returns an allocator with the given pools. Call Open before use.
func NewBufferAllocator(params Params) *BufferAllocator {
	return &BufferAllocator{pools: pools{params: params}}
}

// Open allocates the pools.
func (a *BufferAllocator) Open() error {
	if err := a.params.validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open {
		return errors.Wrap(dsplink.ErrAlreadySetup, "allocator is open")
	}
	a.init(make([]byte, a.params.Size()))
	return nil
}

// Close frees the pools.
func (a *BufferAllocator) Close() error {
	return a.close()
}

// Alloc returns a message from the smallest fitting pool.
func (a *BufferAllocator) Alloc(size int) (*msgq.Msg, error) {
	return a.alloc(size)
}

// Free returns the message to its pool.
func (a *BufferAllocator) Free(m *msgq.Msg) error {
	return a.free(m)
}

// FreeCount returns the count of free buffers of every pool, ordered by message size.
func (a *BufferAllocator) FreeCount() []int {
	return a.stats()
}
