// Copyright 2016 Aleksandr Demakin. All rights reserved.

package msgq

import (
	"fmt"

	"github.com/nxgtw/go-dsplink"
)

// Handle identifies a queue on some processor.
type Handle struct {
	Proc uint16
	ID   uint16
}

// InvalidHandle does not refer to any queue.
var InvalidHandle = Handle{Proc: ^uint16(0), ID: dsplink.InvalidQueueID}

// Valid returns true, if the handle may refer to a queue.
func (h Handle) Valid() bool {
	return h.ID != dsplink.InvalidQueueID && int(h.Proc) < dsplink.MaxProcessors
}

func (h Handle) String() string {
	if !h.Valid() {
		return "msgq(invalid)"
	}
	return fmt.Sprintf("msgq(%d:%d)", h.Proc, h.ID)
}

// Msg is a message buffer. It is owned by exactly one party at a time:
// the producer until Put, the queue while enqueued, the consumer after Get until Free.
type Msg struct {
	data   []byte
	id     uint16
	src    Handle
	dst    Handle
	mqaID  uint16
	pool   int
	slot   int
	queued bool
}

// NewMsg wraps a buffer obtained by an allocator.
//	buf - the whole buffer, its length is the capacity of the message.
//	size - requested message size.
//	pool, slot - position of the buffer inside the allocator.
func NewMsg(buf []byte, size, pool, slot int) *Msg {
	return &Msg{
		data:  buf[:size:len(buf)],
		src:   InvalidHandle,
		dst:   InvalidHandle,
		mqaID: dsplink.InvalidMqaID,
		pool:  pool,
		slot:  slot,
	}
}

// Data returns the payload of the message.
func (m *Msg) Data() []byte {
	return m.data
}

// Size returns the payload size.
func (m *Msg) Size() int {
	return len(m.data)
}

// Cap returns the size of the underlying buffer.
func (m *Msg) Cap() int {
	return cap(m.data)
}

// ID returns the user defined message id.
func (m *Msg) ID() uint16 {
	return m.id
}

// SetID sets the user defined message id.
func (m *Msg) SetID(id uint16) {
	m.id = id
}

// SrcQueue returns the queue the receiver should reply to.
func (m *Msg) SrcQueue() Handle {
	return m.src
}

// SetSrcQueue sets the reply queue.
func (m *Msg) SetSrcQueue(h Handle) {
	m.src = h
}

// DstQueue returns the queue the message was put to.
func (m *Msg) DstQueue() Handle {
	return m.dst
}

// MqaID returns the id of the allocator the message belongs to.
func (m *Msg) MqaID() uint16 {
	return m.mqaID
}

// Pool returns the allocator pool index of the buffer.
func (m *Msg) Pool() int {
	return m.pool
}

// Slot returns the index of the buffer within its pool.
func (m *Msg) Slot() int {
	return m.slot
}

// Inbound is a message received by a transport, which must be placed into a local queue.
type Inbound struct {
	ID      uint16
	Src     Handle
	Payload []byte
}
