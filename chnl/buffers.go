// Copyright 2016 Aleksandr Demakin. All rights reserved.

package chnl

import (
	"github.com/nxgtw/go-dsplink"

	"github.com/pkg/errors"
)

// buffers is the buffer pool of a channel.
// Freed buffers are kept and reused for allocations of the same size.
type buffers struct {
	limit   int
	owned   map[*byte]*bufEntry
	free    map[int][][]byte
	pending int
}

type bufEntry struct {
	buf     []byte
	pending bool
}

func newBuffers(limit int) *buffers {
	return &buffers{limit: limit, owned: make(map[*byte]*bufEntry), free: make(map[int][][]byte)}
}

func (b *buffers) allocate(count, size int) ([][]byte, error) {
	if len(b.owned)+count > b.limit {
		return nil, errors.Wrapf(dsplink.ErrOutOfMemory, "channel pool: %d of %d buffers are in use", len(b.owned), b.limit)
	}
	result := make([][]byte, count)
	for i := range result {
		var buf []byte
		if list := b.free[size]; len(list) > 0 {
			buf = list[len(list)-1]
			b.free[size] = list[:len(list)-1]
		} else {
			buf = make([]byte, size)
		}
		b.owned[&buf[0]] = &bufEntry{buf: buf}
		result[i] = buf
	}
	return result, nil
}

func (b *buffers) lookup(buf []byte) (*bufEntry, error) {
	if len(buf) == 0 {
		return nil, errors.Wrap(dsplink.ErrInvalidArgument, "empty buffer")
	}
	e, ok := b.owned[&buf[0]]
	if !ok || len(buf) > len(e.buf) {
		return nil, errors.Wrap(dsplink.ErrInvalidArgument, "buffer does not belong to the channel")
	}
	return e, nil
}

// release frees all the buffers or none of them.
func (b *buffers) release(bufs [][]byte) error {
	entries := make([]*bufEntry, len(bufs))
	for i, buf := range bufs {
		e, err := b.lookup(buf)
		if err != nil {
			return err
		}
		if e.pending {
			return errors.Wrap(dsplink.ErrWrongState, "buffer is pending")
		}
		entries[i] = e
	}
	for _, e := range entries {
		if _, ok := b.owned[&e.buf[0]]; !ok {
			continue
		}
		delete(b.owned, &e.buf[0])
		size := len(e.buf)
		b.free[size] = append(b.free[size], e.buf)
	}
	return nil
}

func (b *buffers) setPending(e *bufEntry, pending bool) {
	if e.pending == pending {
		return
	}
	e.pending = pending
	if pending {
		b.pending++
	} else {
		b.pending--
	}
}
