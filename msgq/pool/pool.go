// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package pool implements message allocators with fixed-size buffer pools.
package pool

import (
	"sort"
	"sync"

	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/internal/array"
	"github.com/nxgtw/go-dsplink/msgq"

	"github.com/pkg/errors"
)

// Attrs describes one pool.
type Attrs struct {
	// MsgSize is the size of every buffer of the pool.
	MsgSize int
	// NumMsg is the number of buffers.
	NumMsg int
}

// Params are allocator open parameters.
type Params struct {
	Pools []Attrs
}

// Size returns the number of bytes needed for all the pools.
// Each buffer is aligned to dsplink.WordAlign.
func (p Params) Size() int {
	var result int
	for _, a := range p.Pools {
		result += dsplink.AlignUp(a.MsgSize, dsplink.WordAlign) * a.NumMsg
	}
	return result
}

func (p Params) validate() error {
	if len(p.Pools) == 0 {
		return errors.Wrap(dsplink.ErrInvalidArgument, "no pools")
	}
	for i, a := range p.Pools {
		if a.MsgSize <= 0 || a.NumMsg <= 0 {
			return errors.Wrapf(dsplink.ErrInvalidArgument, "pool %d: size=%d, count=%d", i, a.MsgSize, a.NumMsg)
		}
	}
	return nil
}

// bufPool is a set of equally sized buffers.
type bufPool struct {
	msgSize int
	stride  int
	mem     []byte
	used    *array.Slots
	out     []*msgq.Msg
}

func (p *bufPool) buf(slot int) []byte {
	off := slot * p.stride
	return p.mem[off : off+p.msgSize : off+p.msgSize]
}

// pools is the common part of all allocators.
// pools are sorted by message size, the index in the list is the pool id.
type pools struct {
	mu     sync.Mutex
	params Params
	list   []*bufPool
	open   bool
}

func (ps *pools) init(mem []byte) {
	attrs := make([]Attrs, len(ps.params.Pools))
	copy(attrs, ps.params.Pools)
	sort.SliceStable(attrs, func(i, j int) bool { return attrs[i].MsgSize < attrs[j].MsgSize })
	ps.list = make([]*bufPool, 0, len(attrs))
	for _, a := range attrs {
		stride := dsplink.AlignUp(a.MsgSize, dsplink.WordAlign)
		size := stride * a.NumMsg
		ps.list = append(ps.list, &bufPool{
			msgSize: a.MsgSize,
			stride:  stride,
			mem:     mem[:size:size],
			used:    array.NewSlots(a.NumMsg),
			out:     make([]*msgq.Msg, a.NumMsg),
		})
		mem = mem[size:]
	}
	ps.open = true
}

// alloc takes a buffer from the smallest pool, which fits the size.
// If that pool is exhausted, alloc fails, larger pools are not used.
func (ps *pools) alloc(size int) (*msgq.Msg, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if !ps.open {
		return nil, errors.Wrap(dsplink.ErrWrongState, "allocator is not open")
	}
	for id, p := range ps.list {
		if p.msgSize < size {
			continue
		}
		slot, ok := p.used.Reserve()
		if !ok {
			return nil, errors.Wrapf(dsplink.ErrOutOfMemory, "pool of %d byte messages is exhausted", p.msgSize)
		}
		m := msgq.NewMsg(p.buf(slot), size, id, slot)
		p.out[slot] = m
		return m, nil
	}
	return nil, errors.Wrapf(dsplink.ErrOutOfMemory, "no pool for %d byte messages", size)
}

func (ps *pools) free(m *msgq.Msg) error {
	if m == nil {
		return errors.Wrap(dsplink.ErrInvalidArgument, "nil message")
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if !ps.open {
		return errors.Wrap(dsplink.ErrWrongState, "allocator is not open")
	}
	id, slot := m.Pool(), m.Slot()
	if id < 0 || id >= len(ps.list) {
		return errors.Wrapf(dsplink.ErrInvalidArgument, "pool %d", id)
	}
	p := ps.list[id]
	if slot < 0 || slot >= p.used.Cap() || p.out[slot] != m {
		return errors.Wrapf(dsplink.ErrInvalidArgument, "message does not belong to pool %d", id)
	}
	p.out[slot] = nil
	p.used.Release(slot)
	return nil
}

func (ps *pools) close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if !ps.open {
		return errors.Wrap(dsplink.ErrWrongState, "allocator is not open")
	}
	ps.open = false
	ps.list = nil
	return nil
}

// stats returns the number of free buffers in every pool, ordered by message size.
func (ps *pools) stats() []int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	result := make([]int, len(ps.list))
	for i, p := range ps.list {
		result[i] = p.used.Cap() - p.used.Len()
	}
	return result
}
