// Copyright 2016 Aleksandr Demakin. All rights reserved.

package chnl

import (
	"runtime"
	"sync"
	"time"

	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/internal/event"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

type request struct {
	entry *bufEntry
	info  IOInfo
}

// Channel is one direction of a data stream.
type Channel struct {
	m       *Manager
	id      int
	attrs   Attrs
	irp     irp
	staging []byte
	swap    bool
	slots   *semaphore.Weighted

	mu      sync.Mutex
	bufs    *buffers
	pending []request
	done    []request
	ready   *event.Event
	deleted bool
}

func newChannel(m *Manager, id int, attrs Attrs, slot irp, staging []byte, swap bool) *Channel {
	return &Channel{
		m:       m,
		id:      id,
		attrs:   attrs,
		irp:     slot,
		staging: staging,
		swap:    swap,
		slots:   semaphore.NewWeighted(int64(attrs.MaxPending)),
		bufs:    newBuffers(dsplink.MaxBuffers),
		ready:   event.New(false),
	}
}

// ID returns the channel id.
func (c *Channel) ID() int {
	return c.id
}

// Attrs returns creation attributes of the channel.
func (c *Channel) Attrs() Attrs {
	return c.attrs
}

// AllocateBuffer allocates count buffers of the given size from the channel pool.
func (c *Channel) AllocateBuffer(count, size int) ([][]byte, error) {
	if count <= 0 || size <= 0 || size > c.attrs.Size {
		return nil, errors.Wrapf(dsplink.ErrInvalidArgument, "chnl: %d buffers of %d bytes", count, size)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted {
		return nil, errors.Wrap(dsplink.ErrWrongState, "chnl: channel is deleted")
	}
	return c.bufs.allocate(count, size)
}

// FreeBuffer returns buffers to the channel pool. Pending buffers cannot be freed.
func (c *Channel) FreeBuffer(bufs [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bufs.release(bufs)
}

// Issue queues a buffer for transfer.
// Returns ErrFull, if the limit of pending buffers is reached.
func (c *Channel) Issue(info IOInfo) error {
	c.mu.Lock()
	if c.deleted {
		c.mu.Unlock()
		return errors.Wrap(dsplink.ErrWrongState, "chnl: channel is deleted")
	}
	e, err := c.bufs.lookup(info.Buffer)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if e.pending {
		c.mu.Unlock()
		return errors.Wrap(dsplink.ErrWrongState, "chnl: buffer is already pending")
	}
	if info.Size < 0 || info.Size > len(info.Buffer) {
		c.mu.Unlock()
		return errors.Wrapf(dsplink.ErrInvalidArgument, "chnl: size %d of a %d byte buffer", info.Size, len(info.Buffer))
	}
	if c.attrs.Mode == ModeInput && info.Size == 0 {
		info.Size = len(info.Buffer)
	}
	if !c.slots.TryAcquire(1) {
		c.mu.Unlock()
		return errors.Wrapf(dsplink.ErrFull, "chnl: %d buffers are pending", c.attrs.MaxPending)
	}
	c.bufs.setPending(e, true)
	c.pending = append(c.pending, request{entry: e, info: info})
	notify := c.progress()
	c.mu.Unlock()
	if notify {
		c.m.notify(c.id)
	}
	return nil
}

// Reclaim waits for the oldest issued buffer to complete.
//	timeout - dsplink.WaitNone to poll, dsplink.WaitForever to block.
// Returns ErrWrongState, if there are no issued buffers, ErrTimeout, if the transfer has not completed in time.
func (c *Channel) Reclaim(timeout time.Duration) (IOInfo, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		c.mu.Lock()
		if len(c.done) > 0 {
			req := c.done[0]
			c.done[0] = request{}
			c.done = c.done[1:]
			c.bufs.setPending(req.entry, false)
			if len(c.done) > 0 {
				c.ready.Set()
			}
			c.mu.Unlock()
			c.slots.Release(1)
			return req.info, nil
		}
		idle := len(c.pending) == 0 || c.deleted
		c.mu.Unlock()
		if idle {
			return IOInfo{}, errors.Wrap(dsplink.ErrWrongState, "chnl: no buffers are issued")
		}
		wait := timeout
		if timeout > 0 {
			if wait = time.Until(deadline); wait <= 0 {
				return IOInfo{}, errors.Wrap(dsplink.ErrTimeout, "chnl: transfer is not complete")
			}
		} else if timeout == 0 {
			return IOInfo{}, errors.Wrap(dsplink.ErrTimeout, "chnl: transfer is not complete")
		}
		if !c.ready.WaitTimeout(wait) {
			return IOInfo{}, errors.Wrap(dsplink.ErrTimeout, "chnl: transfer is not complete")
		}
	}
}

// Idle completes all pending buffers as cancelled with zero size.
// A request already posted to the peer is withdrawn.
func (c *Channel) Idle() error {
	c.mu.Lock()
	if c.deleted {
		c.mu.Unlock()
		return errors.Wrap(dsplink.ErrWrongState, "chnl: channel is deleted")
	}
	notify := false
	if c.attrs.Mode == ModeInput {
		notify = c.withdraw()
	}
	for _, req := range c.pending {
		req.info.Size = 0
		req.info.Cancelled = true
		c.done = append(c.done, req)
	}
	c.pending = nil
	if len(c.done) > 0 {
		c.ready.Set()
	}
	c.mu.Unlock()
	if notify {
		c.m.notify(c.id)
	}
	return nil
}

// withdraw returns the slot of an input channel into Idle state.
// Staged data, which is not consumed, is dropped.
func (c *Channel) withdraw() bool {
	for {
		switch st := c.irp.state.Load(); st {
		case stateIdle:
			return false
		case stateInputReady:
			if c.irp.state.CompareAndSwap(stateInputReady, stateIdle) {
				return true
			}
		case stateStaging:
			runtime.Gosched()
		default:
			c.irp.state.Store(stateIdle)
			return true
		}
	}
}

func (c *Channel) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted {
		return errors.Wrap(dsplink.ErrWrongState, "chnl: channel is deleted")
	}
	if len(c.pending) > 0 {
		return errors.Wrapf(dsplink.ErrWrongState, "chnl: %d buffers are pending", len(c.pending))
	}
	for _, req := range c.done {
		c.bufs.setPending(req.entry, false)
		c.slots.Release(1)
	}
	c.done = nil
	c.deleted = true
	// wake up reclaimers.
	c.ready.Set()
	return nil
}

// kick advances the transfer state machine after a doorbell.
func (c *Channel) kick() {
	c.mu.Lock()
	notify := false
	if !c.deleted {
		notify = c.progress()
	}
	c.mu.Unlock()
	if notify {
		c.m.notify(c.id)
	}
}

// progress performs all possible slot transitions. Must be called with c.mu held.
// Returns true, if the peer must be notified.
func (c *Channel) progress() bool {
	if c.attrs.Mode == ModeInput {
		return c.progressInput()
	}
	return c.progressOutput()
}

func (c *Channel) progressInput() bool {
	notify := false
	for {
		switch c.irp.state.Load() {
		case stateDataReady:
			size := int(c.irp.size.Load())
			if size > len(c.staging) {
				size = len(c.staging)
			}
			if len(c.pending) == 0 {
				// the request was withdrawn.
				c.irp.state.Store(stateIdle)
				notify = true
				continue
			}
			req := c.pending[0]
			c.pending[0] = request{}
			c.pending = c.pending[1:]
			dst := req.info.Buffer[:req.info.Size]
			req.info.Size = copyData(dst, c.staging[:size], c.swap)
			req.info.Arg = c.irp.arg.Load()
			c.irp.state.Store(stateIdle)
			c.complete(req)
			notify = true
		case stateIdle:
			if len(c.pending) == 0 {
				return notify
			}
			c.irp.capacity.Store(uint32(c.pending[0].info.Size))
			c.irp.state.Store(stateInputReady)
			return true
		default:
			return notify
		}
	}
}

func (c *Channel) progressOutput() bool {
	if len(c.pending) == 0 || !c.irp.state.CompareAndSwap(stateInputReady, stateStaging) {
		return false
	}
	req := c.pending[0]
	c.pending[0] = request{}
	c.pending = c.pending[1:]
	size := req.info.Size
	if capacity := int(c.irp.capacity.Load()); size > capacity {
		size = capacity
	}
	if size > len(c.staging) {
		size = len(c.staging)
	}
	copyData(c.staging[:size], req.info.Buffer[:size], c.swap)
	c.irp.size.Store(uint32(size))
	c.irp.arg.Store(req.info.Arg)
	c.irp.seq.Add(1)
	c.irp.state.Store(stateDataReady)
	req.info.Size = size
	c.complete(req)
	return true
}

func (c *Channel) complete(req request) {
	c.done = append(c.done, req)
	c.ready.Set()
}
