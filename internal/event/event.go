// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package event implements an in-process auto-reset event.
package event

import "time"

// Event is a synchronization primitive used for notification.
// If it is signaled by a call to Set(), it'll stay in this state,
// until someone calls Wait(). After it the event is reset into non-signaled state.
// The zero value is not usable, use New.
type Event struct {
	ch chan struct{}
}

// New returns a new event.
//	initial - if true, the event will be set after creation.
func New(initial bool) *Event {
	e := &Event{ch: make(chan struct{}, 1)}
	if initial {
		e.Set()
	}
	return e
}

// Set sets the event to the signaled state. Setting a signaled event does nothing.
func (e *Event) Set() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Reset clears the signaled state.
func (e *Event) Reset() {
	select {
	case <-e.ch:
	default:
	}
}

// Wait waits for the event to be signaled.
func (e *Event) Wait() {
	<-e.ch
}

// WaitTimeout waits until the event is signaled or the timeout elapses.
// Zero timeout checks the state without blocking, negative timeout waits forever.
func (e *Event) WaitTimeout(timeout time.Duration) bool {
	if timeout < 0 {
		e.Wait()
		return true
	}
	if timeout == 0 {
		select {
		case <-e.ch:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.ch:
		return true
	case <-timer.C:
		return false
	}
}

// C returns a channel, which receives a value, when the event is set.
// Receiving from it resets the event.
func (e *Event) C() <-chan struct{} {
	return e.ch
}
