// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package mailbox implements the doorbell used to interrupt the peer processor.
// Each direction has a register pair: a message register and a flag.
// Posting a doorbell writes the message and raises the flag; the receiving side
// clears the flag by reading the message register. Only one doorbell per direction
// may be outstanding, the next post waits until the peer clears the flag.
package mailbox

import (
	"sync"
	"time"

	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/internal/allocator"

	"github.com/pkg/errors"
)

// register block layout, per direction.
const (
	regMsg = iota * 4
	regFlag
	regEnable
	regLevel
	regPriority
	regEdge
	regCount
	lineRegsSize = 32
)

// RegsSize is the number of bytes needed for the registers of both directions.
const RegsSize = 2 * lineRegsSize

// IntType describes how the interrupt controller is programmed for the doorbell line.
type IntType struct {
	Level         uint32
	Priority      uint32
	EdgeSensitive bool
}

// ISR is a callback invoked for every doorbell received.
// value is the content of the message register, the latch is cleared before the call.
type ISR func(arg interface{}, value uint32)

type line struct {
	msg, flag, enable     allocator.Word
	level, priority, edge allocator.Word
	count                 allocator.Word

	mu     sync.Mutex
	cond   *sync.Cond
	isr    ISR
	arg    interface{}
	closed bool
}

func newLine(regs []byte) *line {
	l := &line{
		msg:      allocator.WordAt(regs, regMsg),
		flag:     allocator.WordAt(regs, regFlag),
		enable:   allocator.WordAt(regs, regEnable),
		level:    allocator.WordAt(regs, regLevel),
		priority: allocator.WordAt(regs, regPriority),
		edge:     allocator.WordAt(regs, regEdge),
		count:    allocator.WordAt(regs, regCount),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// waitCleared waits for the flag to be cleared. l.mu must be held.
func (l *line) waitCleared(timeout time.Duration) bool {
	if l.flag.Load() == 0 {
		return true
	}
	expired := false
	if timeout >= 0 {
		timer := time.AfterFunc(timeout, func() {
			l.mu.Lock()
			expired = true
			l.cond.Broadcast()
			l.mu.Unlock()
		})
		defer timer.Stop()
	}
	for l.flag.Load() != 0 && !l.closed {
		if expired {
			return false
		}
		l.cond.Wait()
	}
	return true
}

func (l *line) deliverable() bool {
	return l.flag.Load() != 0 && l.enable.Load() != 0 && l.isr != nil
}

// Mailbox is the view of the doorbell registers from one processor.
type Mailbox struct {
	in, out     *line
	peerTimeout time.Duration
	done        chan struct{}
	closeOnce   sync.Once
}

// NewPair creates mailboxes for both processors over the given register block.
// regs must be at least RegsSize bytes long and is expected to be zeroed.
// peerTimeout bounds the wait for the peer to consume a doorbell, negative value disables the bound.
// The first returned mailbox belongs to the processor, whose incoming line is placed first.
func NewPair(regs []byte, peerTimeout time.Duration) (*Mailbox, *Mailbox, error) {
	if len(regs) < RegsSize {
		return nil, nil, errors.Wrapf(dsplink.ErrInvalidArgument, "mailbox: %d bytes of registers needed", RegsSize)
	}
	first, second := newLine(regs[:lineRegsSize]), newLine(regs[lineRegsSize:RegsSize])
	a := newMailbox(first, second, peerTimeout)
	b := newMailbox(second, first, peerTimeout)
	return a, b, nil
}

func newMailbox(in, out *line, peerTimeout time.Duration) *Mailbox {
	mb := &Mailbox{in: in, out: out, peerTimeout: peerTimeout, done: make(chan struct{})}
	go mb.dispatch()
	return mb
}

// IntEnable programs the interrupt controller for the incoming doorbell and unmasks it.
// A doorbell latched while the interrupt was masked is delivered right away.
func (mb *Mailbox) IntEnable(t IntType) {
	l := mb.in
	l.mu.Lock()
	l.level.Store(t.Level)
	l.priority.Store(t.Priority)
	if t.EdgeSensitive {
		l.edge.Store(1)
	} else {
		l.edge.Store(0)
	}
	l.enable.Store(1)
	l.cond.Broadcast()
	l.mu.Unlock()
}

// IntDisable masks the incoming doorbell. Posted doorbells stay latched.
func (mb *Mailbox) IntDisable() {
	l := mb.in
	l.mu.Lock()
	l.enable.Store(0)
	l.mu.Unlock()
}

// IntType returns the current interrupt configuration and whether the interrupt is enabled.
func (mb *Mailbox) IntType() (IntType, bool) {
	l := mb.in
	l.mu.Lock()
	defer l.mu.Unlock()
	t := IntType{Level: l.level.Load(), Priority: l.priority.Load(), EdgeSensitive: l.edge.Load() != 0}
	return t, l.enable.Load() != 0
}

// IntClear reads the incoming message register, which acknowledges the pending doorbell.
func (mb *Mailbox) IntClear() uint32 {
	l := mb.in
	l.mu.Lock()
	value := l.msg.Load()
	l.flag.Store(0)
	l.cond.Broadcast()
	l.mu.Unlock()
	return value
}

// Pending returns true, if an incoming doorbell is latched.
func (mb *Mailbox) Pending() bool {
	return mb.in.flag.Load() != 0
}

// InterruptPeer posts value to the peer.
// If the previous doorbell has not been consumed yet, it waits for not longer than the peer timeout
// and returns ErrHardwareFailure, if the peer did not respond.
func (mb *Mailbox) InterruptPeer(value uint32) error {
	l := mb.out
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.waitCleared(mb.peerTimeout) {
		return errors.Wrapf(dsplink.ErrHardwareFailure, "mailbox: peer did not consume doorbell %#x", l.msg.Load())
	}
	if l.closed {
		return errors.Wrap(dsplink.ErrWrongState, "mailbox: peer is closed")
	}
	l.msg.Store(value)
	l.flag.Store(1)
	l.count.Add(1)
	l.cond.Broadcast()
	return nil
}

// Posted returns the number of doorbells posted to the peer.
func (mb *Mailbox) Posted() uint32 {
	return mb.out.count.Load()
}

// Install registers the interrupt service routine. It replaces the previous one.
func (mb *Mailbox) Install(isr ISR, arg interface{}) {
	l := mb.in
	l.mu.Lock()
	l.isr, l.arg = isr, arg
	l.cond.Broadcast()
	l.mu.Unlock()
}

// Uninstall removes the interrupt service routine.
func (mb *Mailbox) Uninstall() {
	mb.Install(nil, nil)
}

// Close stops delivering interrupts to this processor.
func (mb *Mailbox) Close() error {
	mb.closeOnce.Do(func() {
		l := mb.in
		l.mu.Lock()
		l.closed = true
		l.cond.Broadcast()
		l.mu.Unlock()
		<-mb.done
	})
	return nil
}

// dispatch plays the role of the interrupt controller: it waits for a latched
// enabled doorbell, clears it and calls the isr.
func (mb *Mailbox) dispatch() {
	defer close(mb.done)
	l := mb.in
	l.mu.Lock()
	for {
		for !l.closed && !l.deliverable() {
			l.cond.Wait()
		}
		if l.closed {
			l.mu.Unlock()
			return
		}
		value := l.msg.Load()
		l.flag.Store(0)
		isr, arg := l.isr, l.arg
		l.cond.Broadcast()
		l.mu.Unlock()
		isr(arg, value)
		l.mu.Lock()
	}
}
