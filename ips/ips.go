// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package ips implements inter-processor signaling on top of a mailbox.
// A doorbell value carries an event number in its high half and a payload in its low half.
// The interrupt handler only clears the doorbell and queues the value, listeners run
// in a separate goroutine, so they are allowed to notify the peer.
package ips

import (
	"sync"

	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/mailbox"

	"github.com/pkg/errors"
)

// Event is a signaling event number.
type Event uint16

// events used by the link.
const (
	// EventMsgq means new data in the message transport ring.
	EventMsgq Event = iota
	// EventChannel means a state change of a channel request slot, payload is the channel id.
	EventChannel
	// EventControl is reserved for driver control requests.
	EventControl
	// MaxEvents is the number of events a listener can be registered for.
	MaxEvents = 32
)

// Listener is called for every received event.
type Listener func(payload uint16)

// Pack builds a doorbell value.
func Pack(ev Event, payload uint16) uint32 {
	return uint32(ev)<<16 | uint32(payload)
}

// Unpack splits a doorbell value.
func Unpack(value uint32) (Event, uint16) {
	return Event(value >> 16), uint16(value)
}

// IPS dispatches doorbells of one processor to event listeners.
type IPS struct {
	mb *mailbox.Mailbox

	mu        sync.Mutex
	listeners [MaxEvents]Listener
	queue     []uint32
	closed    bool

	signal chan struct{}
	done   chan struct{}
}

// New installs the signaling isr into the mailbox and unmasks the interrupt.
func New(mb *mailbox.Mailbox, t mailbox.IntType) *IPS {
	s := &IPS{
		mb:     mb,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.dpc()
	mb.Install(isr, s)
	mb.IntEnable(t)
	return s
}

func isr(arg interface{}, value uint32) {
	s := arg.(*IPS)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, value)
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Register installs a listener for the event.
func (s *IPS) Register(ev Event, fn Listener) error {
	if ev >= MaxEvents || fn == nil {
		return errors.Wrapf(dsplink.ErrInvalidArgument, "ips: invalid listener for event %d", ev)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners[ev] != nil {
		return errors.Wrapf(dsplink.ErrAlreadyExists, "ips: event %d has a listener", ev)
	}
	s.listeners[ev] = fn
	return nil
}

// Unregister removes the listener of the event.
func (s *IPS) Unregister(ev Event) error {
	if ev >= MaxEvents {
		return errors.Wrapf(dsplink.ErrInvalidArgument, "ips: invalid event %d", ev)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners[ev] == nil {
		return errors.Wrapf(dsplink.ErrNotFound, "ips: event %d has no listener", ev)
	}
	s.listeners[ev] = nil
	return nil
}

// Notify signals the event to the peer processor.
func (s *IPS) Notify(ev Event, payload uint16) error {
	if ev >= MaxEvents {
		return errors.Wrapf(dsplink.ErrInvalidArgument, "ips: invalid event %d", ev)
	}
	if err := s.mb.InterruptPeer(Pack(ev, payload)); err != nil {
		return errors.Wrapf(err, "ips: failed to notify event %d", ev)
	}
	return nil
}

// Close detaches from the mailbox and stops the listener goroutine.
func (s *IPS) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.signal)
	s.mu.Unlock()
	s.mb.IntDisable()
	s.mb.Uninstall()
	<-s.done
	return nil
}

func (s *IPS) dpc() {
	defer close(s.done)
	for range s.signal {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			value := s.queue[0]
			s.queue = s.queue[1:]
			ev, payload := Unpack(value)
			var fn Listener
			if ev < MaxEvents {
				fn = s.listeners[ev]
			}
			s.mu.Unlock()
			if fn == nil {
				dsplink.Logf("ips: dropped event %d (payload %d)", ev, payload)
				continue
			}
			fn(payload)
		}
	}
}
