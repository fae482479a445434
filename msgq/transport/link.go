// Copyright 2016 Aleksandr Demakin. All rights reserved.

package transport

import (
	"sync"
	"time"

	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/ips"
	"github.com/nxgtw/go-dsplink/link"
	"github.com/nxgtw/go-dsplink/msgq"
	"github.com/nxgtw/go-dsplink/shm"

	"github.com/pkg/errors"
)

// ctlBacklog is the number of control frames, which may wait for the sender.
const ctlBacklog = 32

// Link is the transport to the peer of an endpoint.
type Link struct {
	ep     *link.Endpoint
	policy dsplink.LocatePolicy
	peerTO time.Duration
	tx, rx *ring

	txMu       sync.Mutex
	rxMu       sync.Mutex
	// lookupHead is the tx head after the last lookup request. Guarded by txMu.
	lookupHead uint32
	lookupSent bool

	mu      sync.Mutex
	d       msgq.Dispatcher
	open    bool
	token   uint32
	pending map[uint32]chan msgq.Handle
	known   map[string]msgq.Handle
	changed chan struct{}

	ctl  chan frame
	quit chan struct{}
	done chan struct{}
}

// NewLink returns a transport for the endpoint.
// The ring written by the GPP goes first in the MQTCTRL region.
func NewLink(ep *link.Endpoint) *Link {
	cfg := ep.Config()
	area := ep.Area(shm.MqtCtrl)
	size := shm.MqtRingSize(cfg.MqtSlots, cfg.MqtMsgSize)
	rings := [2]*ring{
		newRing(area[:size], cfg.MqtSlots, cfg.MqtMsgSize),
		newRing(area[size:2*size], cfg.MqtSlots, cfg.MqtMsgSize),
	}
	t := &Link{
		ep:     ep,
		policy: cfg.Locate,
		peerTO: cfg.PeerTimeout,
	}
	if ep.IsGpp() {
		t.tx, t.rx = rings[0], rings[1]
	} else {
		t.tx, t.rx = rings[1], rings[0]
	}
	return t
}

// Open registers the doorbell listener and starts the control sender.
func (t *Link) Open(d msgq.Dispatcher) error {
	t.mu.Lock()
	if t.open {
		t.mu.Unlock()
		return errors.Wrap(dsplink.ErrAlreadySetup, "transport is open")
	}
	t.d = d
	t.pending = make(map[uint32]chan msgq.Handle)
	t.known = make(map[string]msgq.Handle)
	t.changed = make(chan struct{})
	t.ctl = make(chan frame, ctlBacklog)
	t.quit = make(chan struct{})
	t.done = make(chan struct{})
	t.open = true
	t.mu.Unlock()
	if err := t.ep.IPS().Register(ips.EventMsgq, t.onDoorbell); err != nil {
		t.mu.Lock()
		t.open = false
		t.mu.Unlock()
		return errors.Wrap(err, "failed to register the doorbell listener")
	}
	go t.sender()
	// frames could have been written before the listener was registered.
	t.drain()
	return nil
}

// Close unregisters the listener and fails pending lookups.
func (t *Link) Close() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = false
	for token, ch := range t.pending {
		close(ch)
		delete(t.pending, token)
	}
	close(t.quit)
	t.mu.Unlock()
	<-t.done
	return t.ep.IPS().Unregister(ips.EventMsgq)
}

// Locate asks the peer for a queue.
// With zero timeout a single lookup is made, which waits for an answer no longer than the reply timeout.
// Otherwise lookups are repeated with growing intervals. Retries are made at once,
// when the peer announces a new queue.
func (t *Link) Locate(name string, timeout time.Duration) (msgq.Handle, error) {
	if h, ok := t.lookupKnown(name); ok {
		return h, nil
	}
	if timeout == dsplink.WaitNone {
		return t.ask(name, t.policy.ReplyTimeout)
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	interval := t.policy.Interval
	for {
		changed, err := t.changes()
		if err != nil {
			return msgq.InvalidHandle, err
		}
		wait := t.policy.ReplyTimeout
		if !deadline.IsZero() {
			if left := time.Until(deadline); wait < 0 || left < wait {
				wait = max(left, 0)
			}
		}
		h, err := t.ask(name, wait)
		if err == nil {
			return h, nil
		}
		if !dsplink.IsTemporary(err) && !dsplink.Is(err, dsplink.ErrNotFound) {
			return msgq.InvalidHandle, err
		}
		if h, ok := t.lookupKnown(name); ok {
			return h, nil
		}
		sleep := interval
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return msgq.InvalidHandle, errors.Wrapf(dsplink.ErrTimeout, "queue %q was not found", name)
			}
			if left < sleep {
				sleep = left
			}
		}
		timer := time.NewTimer(sleep)
		select {
		case <-changed:
		case <-timer.C:
		}
		timer.Stop()
		if interval *= 2; interval > t.policy.MaxInterval {
			interval = t.policy.MaxInterval
		}
	}
}

// Create announces a new local queue to the peer.
func (t *Link) Create(name string, h msgq.Handle) error {
	return t.post(frame{kind: kindQueueCreated, name: name, src: h})
}

// Delete announces a deleted local queue to the peer.
func (t *Link) Delete(name string, h msgq.Handle) error {
	return t.post(frame{kind: kindQueueDeleted, name: name, src: h})
}

// Put copies the message into the ring and frees it.
func (t *Link) Put(h msgq.Handle, m *msgq.Msg) error {
	if int(h.Proc) != t.ep.Peer() {
		return errors.Wrapf(dsplink.ErrInvalidArgument, "%v is not served by this transport", h)
	}
	if m.Size() > t.tx.msgSize {
		return errors.Wrapf(dsplink.ErrInvalidArgument, "message of %d bytes exceeds the transport limit of %d", m.Size(), t.tx.msgSize)
	}
	t.mu.Lock()
	d, open := t.d, t.open
	t.mu.Unlock()
	if !open {
		return errors.Wrap(dsplink.ErrWrongState, "transport is closed")
	}
	f := frame{kind: kindMsg, msgID: m.ID(), dst: h, src: m.SrcQueue()}
	if err := t.send(&f, m.Data()); err != nil {
		return err
	}
	if err := d.Free(m); err != nil {
		dsplink.Logf("failed to free a sent message: %v", err)
	}
	return nil
}

// Release does nothing, remote handles hold no resources.
func (t *Link) Release(h msgq.Handle) error {
	if int(h.Proc) != t.ep.Peer() {
		return errors.Wrapf(dsplink.ErrInvalidArgument, "%v is not served by this transport", h)
	}
	return nil
}

func (t *Link) lookupKnown(name string) (msgq.Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.known[name]
	return h, ok
}

func (t *Link) changes() (<-chan struct{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil, errors.Wrap(dsplink.ErrWrongState, "transport is closed")
	}
	return t.changed, nil
}

// notifyChanged wakes all lookups. Must be called with t.mu held.
func (t *Link) notifyChanged() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// ask sends a lookup request and waits for the answer.
func (t *Link) ask(name string, wait time.Duration) (msgq.Handle, error) {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return msgq.InvalidHandle, errors.Wrap(dsplink.ErrWrongState, "transport is closed")
	}
	t.token++
	token := t.token
	ch := make(chan msgq.Handle, 1)
	t.pending[token] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, token)
		t.mu.Unlock()
	}()
	var deadline time.Time
	if wait >= 0 {
		deadline = time.Now().Add(wait)
	}
	f := frame{kind: kindLocateReq, token: token, name: name}
	if err := t.sendLookup(&f, deadline); err != nil {
		return msgq.InvalidHandle, err
	}
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case h, ok := <-ch:
		if !ok {
			return msgq.InvalidHandle, errors.Wrap(dsplink.ErrWrongState, "transport is closed")
		}
		if !h.Valid() {
			return msgq.InvalidHandle, errors.Wrapf(dsplink.ErrNotFound, "queue %q", name)
		}
		return h, nil
	case <-timeout:
		return msgq.InvalidHandle, errors.Wrapf(dsplink.ErrTimeout, "no answer for queue %q", name)
	}
}

// sendLookup writes a lookup request, when the peer has read the previous one,
// so that unanswered requests never pile up in the ring of a peer, which is not running.
// Zero deadline means no bound.
func (t *Link) sendLookup(f *frame, deadline time.Time) error {
	quit := t.quitChan()
	for {
		t.txMu.Lock()
		pos, sent := t.lookupHead, t.lookupSent
		if !sent || t.tx.consumed(pos) {
			err := t.write(f, nil, quit)
			if err == nil {
				t.lookupHead, t.lookupSent = t.tx.head.Load(), true
			}
			t.txMu.Unlock()
			if err != nil {
				return err
			}
			return t.ep.IPS().Notify(ips.EventMsgq, 0)
		}
		t.txMu.Unlock()
		left := dsplink.WaitForever
		if !deadline.IsZero() {
			if left = time.Until(deadline); left <= 0 {
				return errors.Wrap(dsplink.ErrTimeout, "peer has not read the previous lookup")
			}
		}
		if err := t.tx.waitConsumed(pos, left, quit); err != nil {
			return err
		}
	}
}

// post queues a control frame for the sender goroutine.
// It never blocks, so it can be called from the doorbell listener.
func (t *Link) post(f frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return errors.Wrap(dsplink.ErrWrongState, "transport is closed")
	}
	select {
	case t.ctl <- f:
		return nil
	default:
		return errors.Wrap(dsplink.ErrFull, "control backlog is full")
	}
}

func (t *Link) sender() {
	defer close(t.done)
	for {
		select {
		case f := <-t.ctl:
			if err := t.send(&f, nil); err != nil {
				dsplink.Logf("failed to send a control frame (%d): %v", f.kind, err)
			}
		case <-t.quit:
			return
		}
	}
}

func (t *Link) send(f *frame, payload []byte) error {
	quit := t.quitChan()
	t.txMu.Lock()
	err := t.write(f, payload, quit)
	t.txMu.Unlock()
	if err != nil {
		return err
	}
	return t.ep.IPS().Notify(ips.EventMsgq, 0)
}

// write waits for a free slot and fills it. Must be called with t.txMu held.
func (t *Link) write(f *frame, payload []byte, quit <-chan struct{}) error {
	if err := t.tx.waitSpace(t.peerTO, quit); err != nil {
		return err
	}
	t.tx.write(f, payload)
	return nil
}

// quitChan returns the channel closed by Close.
func (t *Link) quitChan() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.quit
}

func (t *Link) onDoorbell(uint16) {
	t.drain()
}

// drain handles all the frames in the incoming ring.
func (t *Link) drain() {
	t.rxMu.Lock()
	defer t.rxMu.Unlock()
	t.mu.Lock()
	d := t.d
	t.mu.Unlock()
	for {
		f, payload, ok := t.rx.read()
		if !ok {
			return
		}
		t.handle(d, f, payload)
		t.rx.consume()
	}
}

func (t *Link) handle(d msgq.Dispatcher, f frame, payload []byte) {
	switch f.kind {
	case kindMsg:
		// delivery errors are reported to the error queue by the dispatcher.
		d.Deliver(f.dst.ID, msgq.Inbound{ID: f.msgID, Src: f.src, Payload: payload})
	case kindLocateReq:
		h, ok := d.LookupLocal(f.name)
		if !ok {
			h = msgq.InvalidHandle
		}
		if err := t.post(frame{kind: kindLocateAck, token: f.token, name: f.name, src: h}); err != nil {
			dsplink.Logf("failed to answer a lookup of %q: %v", f.name, err)
		}
	case kindLocateAck:
		t.mu.Lock()
		if ch, ok := t.pending[f.token]; ok {
			ch <- f.src
			delete(t.pending, f.token)
		}
		t.mu.Unlock()
	case kindQueueCreated:
		t.mu.Lock()
		if t.open {
			t.known[f.name] = f.src
			t.notifyChanged()
		}
		t.mu.Unlock()
	case kindQueueDeleted:
		t.mu.Lock()
		if h, ok := t.known[f.name]; ok && h == f.src {
			delete(t.known, f.name)
		}
		t.mu.Unlock()
	default:
		d.ReportError(msgq.ErrorTransport, f.dst, errors.Errorf("unknown frame kind %d", f.kind))
	}
}
