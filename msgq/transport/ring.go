// Copyright 2016 Aleksandr Demakin. All rights reserved.

package transport

import (
	"encoding/binary"
	"time"

	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/internal/allocator"
	"github.com/nxgtw/go-dsplink/msgq"
	"github.com/nxgtw/go-dsplink/shm"

	"github.com/pkg/errors"
)

// ring is a single producer single consumer queue of fixed slots inside shared memory.
// head and tail are free running counters. Only the producer writes head, only the consumer writes tail.
//	ring header: head(4) tail(4) reserved(8)
//	slot: frame header (shm.MqtMsgHeaderSize) + payload
type ring struct {
	head, tail allocator.Word
	slots      int
	slotSize   int
	msgSize    int
	mem        []byte
}

func newRing(mem []byte, slots, msgSize int) *ring {
	return &ring{
		head:     allocator.WordAt(mem, 0),
		tail:     allocator.WordAt(mem, 4),
		slots:    slots,
		slotSize: shm.MqtSlotSize(msgSize),
		msgSize:  msgSize,
		mem:      mem[shm.MqtRingHeaderSize:],
	}
}

func (r *ring) len() int {
	return int(r.head.Load() - r.tail.Load())
}

func (r *ring) slot(idx uint32) []byte {
	off := int(idx%uint32(r.slots)) * r.slotSize
	return r.mem[off : off+r.slotSize]
}

// waitSpace polls until there is a free slot.
// Returns ErrFull, if the timeout elapses, ErrWrongState, if quit is closed.
func (r *ring) waitSpace(timeout time.Duration, quit <-chan struct{}) error {
	err := poll(func() bool { return r.len() < r.slots }, timeout, quit)
	if dsplink.Is(err, dsplink.ErrTimeout) {
		return errors.Wrap(dsplink.ErrFull, "transport ring is full")
	}
	return err
}

// waitConsumed polls until the consumer has read the slots written before head pos.
func (r *ring) waitConsumed(pos uint32, timeout time.Duration, quit <-chan struct{}) error {
	err := poll(func() bool { return r.consumed(pos) }, timeout, quit)
	return errors.Wrap(err, "peer does not read the transport ring")
}

// consumed returns true, if the tail has reached pos.
func (r *ring) consumed(pos uint32) bool {
	return int32(r.tail.Load()-pos) >= 0
}

// poll calls cond with growing intervals until it returns true.
// Negative timeout means no bound. Returns ErrTimeout or ErrWrongState, if quit is closed.
func poll(cond func() bool, timeout time.Duration, quit <-chan struct{}) error {
	const maxPollInterval = time.Millisecond * 2
	start := time.Now()
	interval := time.Microsecond * 20
	for !cond() {
		if timeout >= 0 && time.Since(start) >= timeout {
			return errors.Wrap(dsplink.ErrTimeout, "poll")
		}
		timer := time.NewTimer(interval)
		select {
		case <-quit:
			timer.Stop()
			return errors.Wrap(dsplink.ErrWrongState, "transport is closed")
		case <-timer.C:
		}
		if interval < maxPollInterval {
			interval *= 2
		}
	}
	return nil
}

// write fills the slot at head and publishes it. The caller must ensure there is space.
func (r *ring) write(f *frame, payload []byte) {
	head := r.head.Load()
	s := r.slot(head)
	f.size = len(payload)
	f.encode(s[:shm.MqtMsgHeaderSize])
	copy(s[shm.MqtMsgHeaderSize:], payload)
	r.head.Store(head + 1)
}

// read returns the frame at tail. The payload refers to the slot memory
// and is valid until consume is called.
func (r *ring) read() (frame, []byte, bool) {
	tail := r.tail.Load()
	if r.head.Load() == tail {
		return frame{}, nil, false
	}
	s := r.slot(tail)
	var f frame
	f.decode(s[:shm.MqtMsgHeaderSize])
	size := f.size
	if size > r.msgSize {
		size = r.msgSize
	}
	return f, s[shm.MqtMsgHeaderSize : shm.MqtMsgHeaderSize+size], true
}

func (r *ring) consume() {
	r.tail.Add(1)
}

type frameKind uint16

const (
	kindMsg frameKind = iota + 1
	kindLocateReq
	kindLocateAck
	kindQueueCreated
	kindQueueDeleted
)

// frame header layout:
//	0 kind(2) 2 msgID(2) 4 size(4)
//	8 dst proc(2) 10 dst id(2) 12 src proc(2) 14 src id(2)
//	16 token(4) 20 name length(2) 24 name(32)
const (
	offKind    = 0
	offMsgID   = 2
	offSize    = 4
	offDst     = 8
	offSrc     = 12
	offToken   = 16
	offNameLen = 20
	offName    = 24
)

type frame struct {
	kind  frameKind
	msgID uint16
	size  int
	dst   msgq.Handle
	src   msgq.Handle
	token uint32
	name  string
}

func putHandle(b []byte, h msgq.Handle) {
	binary.LittleEndian.PutUint16(b, h.Proc)
	binary.LittleEndian.PutUint16(b[2:], h.ID)
}

func getHandle(b []byte) msgq.Handle {
	return msgq.Handle{Proc: binary.LittleEndian.Uint16(b), ID: binary.LittleEndian.Uint16(b[2:])}
}

func (f *frame) encode(b []byte) {
	le := binary.LittleEndian
	le.PutUint16(b[offKind:], uint16(f.kind))
	le.PutUint16(b[offMsgID:], f.msgID)
	le.PutUint32(b[offSize:], uint32(f.size))
	putHandle(b[offDst:], f.dst)
	putHandle(b[offSrc:], f.src)
	le.PutUint32(b[offToken:], f.token)
	n := copy(b[offName:offName+dsplink.MaxQueueNameLen], f.name)
	le.PutUint16(b[offNameLen:], uint16(n))
}

func (f *frame) decode(b []byte) {
	le := binary.LittleEndian
	f.kind = frameKind(le.Uint16(b[offKind:]))
	f.msgID = le.Uint16(b[offMsgID:])
	f.size = int(le.Uint32(b[offSize:]))
	f.dst = getHandle(b[offDst:])
	f.src = getHandle(b[offSrc:])
	f.token = le.Uint32(b[offToken:])
	n := int(le.Uint16(b[offNameLen:]))
	if n > dsplink.MaxQueueNameLen {
		n = dsplink.MaxQueueNameLen
	}
	f.name = string(b[offName : offName+n])
}
