// Copyright 2016 Aleksandr Demakin. All rights reserved.

package msgq

import (
	"sync"
	"time"

	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/internal/event"

	"github.com/pkg/errors"
)

type queueState int

const (
	stateEmpty queueState = iota
	stateReserved
	stateInUse
)

func (s queueState) String() string {
	switch s {
	case stateEmpty:
		return "empty"
	case stateReserved:
		return "reserved"
	case stateInUse:
		return "in use"
	}
	return "unknown"
}

// queue is a FIFO of messages with a counting notification for readers.
// state and name are guarded by the registry lock, msgs by q.mu.
type queue struct {
	id    uint16
	name  string
	state queueState
	mqaID uint16

	mu   sync.Mutex
	msgs []*Msg
	// gen is incremented on every delete, so that stale readers can notice it.
	gen   uint64
	ready *event.Event
}

func newQueue(id uint16) *queue {
	return &queue{id: id, mqaID: dsplink.InvalidMqaID, ready: event.New(false)}
}

func (q *queue) push(m *Msg) {
	q.mu.Lock()
	m.queued = true
	q.msgs = append(q.msgs, m)
	q.mu.Unlock()
	q.ready.Set()
}

// pop removes the first message. The event is re-armed, if there are more messages,
// as it does not count the number of Set calls.
func (q *queue) pop() *Msg {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) == 0 {
		return nil
	}
	m := q.msgs[0]
	q.msgs[0] = nil
	q.msgs = q.msgs[1:]
	m.queued = false
	if len(q.msgs) > 0 {
		q.ready.Set()
	}
	return m
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// drain removes all pending messages and invalidates waiters.
func (q *queue) drain() []*Msg {
	q.mu.Lock()
	msgs := q.msgs
	q.msgs = nil
	q.gen++
	for _, m := range msgs {
		m.queued = false
	}
	q.mu.Unlock()
	// wake up a reader, so that it sees the queue is gone.
	q.ready.Set()
	return msgs
}

func (q *queue) generation() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gen
}

// get waits for a message.
//	timeout - dsplink.WaitNone to poll, dsplink.WaitForever to block.
//	gen - generation of the queue observed by the caller.
func (q *queue) get(gen uint64, timeout time.Duration) (*Msg, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if m := q.pop(); m != nil {
			return m, nil
		}
		if q.generation() != gen {
			return nil, errors.Wrap(dsplink.ErrNotFound, "queue was deleted")
		}
		wait := timeout
		if timeout > 0 {
			if wait = time.Until(deadline); wait <= 0 {
				return nil, errors.Wrap(dsplink.ErrTimeout, "no messages")
			}
		} else if timeout == 0 {
			return nil, errors.Wrap(dsplink.ErrTimeout, "no messages")
		}
		if !q.ready.WaitTimeout(wait) {
			return nil, errors.Wrap(dsplink.ErrTimeout, "no messages")
		}
	}
}
