// Copyright 2016 Aleksandr Demakin. All rights reserved.

package pool

import (
	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/msgq"

	"github.com/pkg/errors"
)

// SharedMemoryAllocator carves the pools out of a shared memory area, usually shm.SmaPool.
type SharedMemoryAllocator struct {
	pools
	area []byte
}

// NewSharedMemoryAllocator returns an allocator, which places its pools into area.
func NewSharedMemoryAllocator(area []byte, params Params) *SharedMemoryAllocator {
	return &SharedMemoryAllocator{pools: pools{params: params}, area: area}
}

// Open splits the area into pools.
// Returns ErrOutOfMemory, if the pools do not fit.
func (a *SharedMemoryAllocator) Open() error {
	if err := a.params.validate(); err != nil {
		return err
	}
	if need := a.params.Size(); need > len(a.area) {
		return errors.Wrapf(dsplink.ErrOutOfMemory, "pools need %d bytes, the area is %d bytes", need, len(a.area))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open {
		return errors.Wrap(dsplink.ErrAlreadySetup, "allocator is open")
	}
	a.init(a.area)
	return nil
}

// Close releases the pools. The area stays mapped.
func (a *SharedMemoryAllocator) Close() error {
	return a.close()
}

// Alloc returns a message from the smallest fitting pool.
func (a *SharedMemoryAllocator) Alloc(size int) (*msgq.Msg, error) {
	return a.alloc(size)
}

// Free returns the message to its pool.
func (a *SharedMemoryAllocator) Free(m *msgq.Msg) error {
	return a.free(m)
}

// FreeCount returns the count of free buffers of every pool, ordered by message size.
func (a *SharedMemoryAllocator) FreeCount() []int {
	return a.stats()
}
