// Copyright 2016 Aleksandr Demakin. All rights reserved.

package msgq

import (
	"sync"
	"time"

	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/internal/array"

	"github.com/pkg/errors"
)

// Attrs are queue creation attributes.
type Attrs struct {
	// MqaID is the allocator used for messages delivered to the queue by transports.
	// dsplink.InvalidMqaID means the lowest open allocator.
	MqaID uint16
}

// LocateAttrs are queue lookup attributes.
type LocateAttrs struct {
	// Timeout bounds waiting for a remote queue to appear.
	Timeout time.Duration
}

// Registry is a table of queues of one processor together with its allocators and transports.
type Registry struct {
	procID int

	mu         sync.RWMutex
	closed     bool
	queues     [dsplink.MaxMsgqs]*queue
	used       *array.Slots
	names      map[string]uint16
	allocators [dsplink.MaxAllocators]Allocator
	transports [dsplink.MaxMqts]Transport
	local      *localTransport
	errQueue   Handle
	errMqa     uint16
}

// NewRegistry returns a registry for the processor procID.
func NewRegistry(procID int) (*Registry, error) {
	if procID < 0 || procID >= dsplink.MaxProcessors {
		return nil, errors.Wrapf(dsplink.ErrInvalidArgument, "processor id %d", procID)
	}
	r := &Registry{
		procID:   procID,
		used:     array.NewSlots(dsplink.MaxMsgqs),
		names:    make(map[string]uint16),
		errQueue: InvalidHandle,
		errMqa:   dsplink.InvalidMqaID,
	}
	for i := range r.queues {
		r.queues[i] = newQueue(uint16(i))
	}
	r.local = &localTransport{r: r}
	return r, nil
}

// ProcID returns the id of the processor the registry belongs to.
func (r *Registry) ProcID() int {
	return r.procID
}

// Shutdown deletes all queues, closes all transports and allocators.
// Returns the first error.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	var pending []*Msg
	r.used.Each(func(idx int) {
		q := r.queues[idx]
		pending = append(pending, q.drain()...)
		q.state = stateEmpty
		q.name = ""
		r.used.Release(idx)
	})
	r.names = make(map[string]uint16)
	transports, allocators := r.transports, r.allocators
	r.transports = [dsplink.MaxMqts]Transport{}
	r.errQueue = InvalidHandle
	r.mu.Unlock()
	var result error
	for _, t := range transports {
		if t == nil {
			continue
		}
		if err := t.Close(); err != nil && result == nil {
			result = errors.Wrap(err, "failed to close a transport")
		}
	}
	for _, m := range pending {
		if int(m.mqaID) < len(allocators) && allocators[m.mqaID] != nil {
			r.free(m, allocators[m.mqaID])
		}
	}
	r.mu.Lock()
	r.allocators = [dsplink.MaxAllocators]Allocator{}
	r.mu.Unlock()
	for id, a := range allocators {
		if a == nil {
			continue
		}
		if err := a.Close(); err != nil && result == nil {
			result = errors.Wrapf(err, "failed to close the allocator %d", id)
		}
	}
	return result
}

// OpenAllocator opens the allocator and registers it under mqaID.
func (r *Registry) OpenAllocator(mqaID uint16, a Allocator) error {
	if int(mqaID) >= dsplink.MaxAllocators || a == nil {
		return errors.Wrapf(dsplink.ErrInvalidArgument, "allocator %d", mqaID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.Wrap(dsplink.ErrWrongState, "registry is shut down")
	}
	if r.allocators[mqaID] != nil {
		return errors.Wrapf(dsplink.ErrAlreadyExists, "allocator %d", mqaID)
	}
	if err := a.Open(); err != nil {
		return errors.Wrapf(err, "failed to open the allocator %d", mqaID)
	}
	r.allocators[mqaID] = a
	return nil
}

// CloseAllocator closes and unregisters the allocator.
func (r *Registry) CloseAllocator(mqaID uint16) error {
	r.mu.Lock()
	a, err := r.allocator(mqaID)
	if err == nil {
		r.allocators[mqaID] = nil
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return a.Close()
}

// OpenTransport opens the transport to the processor procID.
func (r *Registry) OpenTransport(procID int, t Transport) error {
	if procID < 0 || procID >= dsplink.MaxMqts || procID == r.procID || t == nil {
		return errors.Wrapf(dsplink.ErrInvalidArgument, "transport to processor %d", procID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.Wrap(dsplink.ErrWrongState, "registry is shut down")
	}
	if r.transports[procID] != nil {
		return errors.Wrapf(dsplink.ErrAlreadyExists, "transport to processor %d", procID)
	}
	if err := t.Open(r); err != nil {
		return errors.Wrapf(err, "failed to open the transport to processor %d", procID)
	}
	r.transports[procID] = t
	return nil
}

// CloseTransport closes the transport to the processor procID.
func (r *Registry) CloseTransport(procID int) error {
	if procID < 0 || procID >= dsplink.MaxMqts {
		return errors.Wrapf(dsplink.ErrInvalidArgument, "transport to processor %d", procID)
	}
	r.mu.Lock()
	t := r.transports[procID]
	r.transports[procID] = nil
	r.mu.Unlock()
	if t == nil {
		return errors.Wrapf(dsplink.ErrNotFound, "transport to processor %d", procID)
	}
	return t.Close()
}

// Create creates a new local queue.
// Returns ErrAlreadyExists, if a queue with such name exists, ErrFull, if the table is full.
func (r *Registry) Create(name string, attrs *Attrs) (Handle, error) {
	if !checkName(name) {
		return InvalidHandle, errors.Wrapf(dsplink.ErrInvalidArgument, "queue name %q", name)
	}
	mqaID := dsplink.InvalidMqaID
	if attrs != nil {
		mqaID = attrs.MqaID
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return InvalidHandle, errors.Wrap(dsplink.ErrWrongState, "registry is shut down")
	}
	if _, has := r.names[name]; has {
		r.mu.Unlock()
		return InvalidHandle, errors.Wrapf(dsplink.ErrAlreadyExists, "queue %q", name)
	}
	idx, ok := r.used.Reserve()
	if !ok {
		r.mu.Unlock()
		return InvalidHandle, errors.Wrap(dsplink.ErrFull, "queue table")
	}
	q := r.queues[idx]
	q.state = stateReserved
	q.name = name
	r.names[name] = q.id
	if mqaID != dsplink.InvalidMqaID {
		if _, err := r.allocator(mqaID); err != nil {
			r.releaseQueue(q)
			r.mu.Unlock()
			return InvalidHandle, err
		}
	}
	q.mqaID = mqaID
	q.state = stateInUse
	h := Handle{Proc: uint16(r.procID), ID: q.id}
	transports := r.transports
	r.mu.Unlock()
	for _, t := range transports {
		if t == nil {
			continue
		}
		if err := t.Create(name, h); err != nil {
			dsplink.Logf("failed to announce queue %q: %v", name, err)
		}
	}
	return h, nil
}

// Delete deletes a local queue. Pending messages are freed.
func (r *Registry) Delete(h Handle) error {
	r.mu.Lock()
	q, err := r.localQueue(h)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	name := q.name
	pending := q.drain()
	r.releaseQueue(q)
	if r.errQueue == h {
		r.errQueue = InvalidHandle
	}
	transports := r.transports
	r.mu.Unlock()
	for _, m := range pending {
		if err := r.Free(m); err != nil {
			dsplink.Logf("failed to free a pending message of %q: %v", name, err)
		}
	}
	for _, t := range transports {
		if t == nil {
			continue
		}
		if err := t.Delete(name, h); err != nil {
			dsplink.Logf("failed to announce deletion of queue %q: %v", name, err)
		}
	}
	return nil
}

// Locate finds a queue by name, first among local queues, then via transports.
// Returns ErrNotFound, if no processor has such a queue,
// ErrTimeout, if a remote processor did not answer in time.
func (r *Registry) Locate(name string, attrs *LocateAttrs) (Handle, error) {
	if !checkName(name) {
		return InvalidHandle, errors.Wrapf(dsplink.ErrInvalidArgument, "queue name %q", name)
	}
	timeout := dsplink.WaitForever
	if attrs != nil {
		timeout = attrs.Timeout
	}
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return InvalidHandle, errors.Wrap(dsplink.ErrWrongState, "registry is shut down")
	}
	transports := r.transports
	r.mu.RUnlock()
	if h, err := r.local.Locate(name, timeout); err == nil {
		return h, nil
	}
	result := errors.Wrapf(dsplink.ErrNotFound, "queue %q", name)
	for _, t := range transports {
		if t == nil {
			continue
		}
		h, err := t.Locate(name, timeout)
		if err == nil {
			return h, nil
		}
		if !dsplink.Is(err, dsplink.ErrNotFound) {
			result = err
		}
	}
	return InvalidHandle, result
}

// Release drops a handle returned by Locate.
func (r *Registry) Release(h Handle) error {
	t, err := r.transportFor(h)
	if err != nil {
		return err
	}
	return t.Release(h)
}

// Put sends a message to a queue. On success the message is not owned by the caller anymore.
func (r *Registry) Put(h Handle, m *Msg) error {
	if m == nil {
		return errors.Wrap(dsplink.ErrInvalidArgument, "nil message")
	}
	if m.queued {
		return errors.Wrap(dsplink.ErrWrongState, "message is already queued")
	}
	t, err := r.transportFor(h)
	if err != nil {
		return err
	}
	m.dst = h
	return t.Put(h, m)
}

// Get receives a message from a local queue.
//	timeout - dsplink.WaitNone to poll, dsplink.WaitForever to block.
// Returns ErrTimeout, if there were no messages.
func (r *Registry) Get(h Handle, timeout time.Duration) (*Msg, error) {
	r.mu.RLock()
	q, err := r.localQueue(h)
	var gen uint64
	if err == nil {
		gen = q.generation()
	}
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return q.get(gen, timeout)
}

// Count returns the number of messages in a local queue.
func (r *Registry) Count(h Handle) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, err := r.localQueue(h)
	if err != nil {
		return 0, err
	}
	return q.len(), nil
}

// Alloc allocates a message from the allocator mqaID.
func (r *Registry) Alloc(mqaID uint16, size int) (*Msg, error) {
	if size <= 0 {
		return nil, errors.Wrapf(dsplink.ErrInvalidArgument, "message size %d", size)
	}
	r.mu.RLock()
	a, err := r.allocator(mqaID)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	m, err := a.Alloc(size)
	if err != nil {
		return nil, err
	}
	m.mqaID = mqaID
	return m, nil
}

// Free returns a message to its allocator.
func (r *Registry) Free(m *Msg) error {
	if m == nil {
		return errors.Wrap(dsplink.ErrInvalidArgument, "nil message")
	}
	if m.queued {
		return errors.Wrap(dsplink.ErrWrongState, "message is queued")
	}
	r.mu.RLock()
	a, err := r.allocator(m.mqaID)
	r.mu.RUnlock()
	if err != nil {
		return err
	}
	return a.Free(m)
}

// SetErrorQueue sets the queue, which receives asynchronous error messages.
// The messages are allocated from mqaID. InvalidHandle disables error reporting.
func (r *Registry) SetErrorQueue(h Handle, mqaID uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == InvalidHandle {
		r.errQueue = InvalidHandle
		return nil
	}
	if _, err := r.localQueue(h); err != nil {
		return err
	}
	if _, err := r.allocator(mqaID); err != nil {
		return err
	}
	r.errQueue, r.errMqa = h, mqaID
	return nil
}

// LookupLocal returns a handle of a local queue, if it is in use.
func (r *Registry) LookupLocal(name string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, has := r.names[name]
	if !has || r.queues[id].state != stateInUse {
		return InvalidHandle, false
	}
	return Handle{Proc: uint16(r.procID), ID: id}, true
}

// Deliver copies a message received by a transport into a local queue.
func (r *Registry) Deliver(queueID uint16, in Inbound) error {
	h := Handle{Proc: uint16(r.procID), ID: queueID}
	r.mu.RLock()
	q, err := r.localQueue(h)
	var a Allocator
	mqaID := dsplink.InvalidMqaID
	if err == nil {
		mqaID = q.mqaID
		if mqaID == dsplink.InvalidMqaID {
			mqaID = r.defaultAllocator()
		}
		a, err = r.allocator(mqaID)
	}
	r.mu.RUnlock()
	if err != nil {
		r.ReportError(ErrorDeliveryFailed, h, err)
		return err
	}
	size := len(in.Payload)
	if size == 0 {
		size = 1
	}
	m, err := a.Alloc(size)
	if err != nil {
		r.ReportError(ErrorDeliveryFailed, h, err)
		return errors.Wrapf(err, "failed to allocate a message for %v", h)
	}
	m.mqaID = mqaID
	m.data = m.data[:len(in.Payload)]
	copy(m.data, in.Payload)
	m.id = in.ID
	m.src = in.Src
	m.dst = h
	if err = r.enqueue(queueID, m); err != nil {
		r.free(m, a)
		r.ReportError(ErrorDeliveryFailed, h, err)
	}
	return err
}

// ReportError posts an error message to the error queue, if it is set.
func (r *Registry) ReportError(kind AsyncErrorKind, h Handle, err error) {
	r.mu.RLock()
	errQueue, mqaID := r.errQueue, r.errMqa
	r.mu.RUnlock()
	if errQueue == InvalidHandle {
		dsplink.Logf("async error %d on %v: %v", kind, h, err)
		return
	}
	// an error about the error queue itself is not posted to avoid recursion.
	if errQueue == h {
		dsplink.Logf("async error %d on the error queue %v: %v", kind, h, err)
		return
	}
	m, allocErr := r.Alloc(mqaID, asyncErrorSize)
	if allocErr != nil {
		dsplink.Logf("failed to allocate an async error message: %v", allocErr)
		return
	}
	m.id = AsyncErrorMsgID
	AsyncError{Kind: kind, Queue: h, Code: ErrorCode(err)}.encode(m.data)
	if putErr := r.enqueue(errQueue.ID, m); putErr != nil {
		r.free(m, nil)
		dsplink.Logf("failed to post an async error message: %v", putErr)
	}
}

func (r *Registry) enqueue(queueID uint16, m *Msg) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, err := r.localQueue(Handle{Proc: uint16(r.procID), ID: queueID})
	if err != nil {
		return err
	}
	q.push(m)
	return nil
}

func (r *Registry) free(m *Msg, a Allocator) {
	if a == nil {
		if err := r.Free(m); err != nil {
			dsplink.Logf("failed to free a message: %v", err)
		}
		return
	}
	if err := a.Free(m); err != nil {
		dsplink.Logf("failed to free a message: %v", err)
	}
}

// the following functions must be called with r.mu held.

func (r *Registry) localQueue(h Handle) (*queue, error) {
	if int(h.Proc) != r.procID || int(h.ID) >= dsplink.MaxMsgqs {
		return nil, errors.Wrapf(dsplink.ErrInvalidArgument, "%v is not a local queue", h)
	}
	q := r.queues[h.ID]
	if q.state != stateInUse {
		return nil, errors.Wrapf(dsplink.ErrNotFound, "%v is %v", h, q.state)
	}
	return q, nil
}

func (r *Registry) releaseQueue(q *queue) {
	delete(r.names, q.name)
	q.name = ""
	q.state = stateEmpty
	q.mqaID = dsplink.InvalidMqaID
	r.used.Release(int(q.id))
}

func (r *Registry) allocator(mqaID uint16) (Allocator, error) {
	if int(mqaID) >= dsplink.MaxAllocators {
		return nil, errors.Wrapf(dsplink.ErrInvalidArgument, "allocator %d", mqaID)
	}
	if a := r.allocators[mqaID]; a != nil {
		return a, nil
	}
	return nil, errors.Wrapf(dsplink.ErrNotFound, "allocator %d", mqaID)
}

func (r *Registry) defaultAllocator() uint16 {
	for id, a := range r.allocators {
		if a != nil {
			return uint16(id)
		}
	}
	return dsplink.InvalidMqaID
}

func (r *Registry) transportFor(h Handle) (Transport, error) {
	if !h.Valid() {
		return nil, errors.Wrapf(dsplink.ErrInvalidArgument, "handle %v", h)
	}
	if int(h.Proc) == r.procID {
		return r.local, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, errors.Wrap(dsplink.ErrWrongState, "registry is shut down")
	}
	if t := r.transports[h.Proc]; t != nil {
		return t, nil
	}
	return nil, errors.Wrapf(dsplink.ErrNotFound, "no transport to processor %d", h.Proc)
}
