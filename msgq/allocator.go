// Copyright 2016 Aleksandr Demakin. All rights reserved.

package msgq

// Allocator provides message buffers of fixed sizes.
type Allocator interface {
	// Open prepares allocator's pools.
	Open() error
	// Close releases all the pools. Outstanding messages become invalid.
	Close() error
	// Alloc returns a message with at least 'size' bytes of payload capacity.
	Alloc(size int) (*Msg, error)
	// Free returns the message to its pool.
	Free(m *Msg) error
}
