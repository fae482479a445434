// Copyright 2016 Aleksandr Demakin. All rights reserved.

package msgq_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/internal/test"
	"github.com/nxgtw/go-dsplink/msgq"
	"github.com/nxgtw/go-dsplink/msgq/pool"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

const testMqa = 0

func newTestRegistry(t *testing.T, procID int, pools ...pool.Attrs) *msgq.Registry {
	r, err := msgq.NewRegistry(procID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pools) == 0 {
		pools = []pool.Attrs{{MsgSize: 16, NumMsg: 8}, {MsgSize: 256, NumMsg: 8}}
	}
	if err = r.OpenAllocator(testMqa, pool.NewBufferAllocator(pool.Params{Pools: pools})); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Shutdown() })
	return r
}

// loopback connects two registries in-process.
type loopback struct {
	local  msgq.Dispatcher
	remote *msgq.Registry
}

func (l *loopback) Open(d msgq.Dispatcher) error { l.local = d; return nil }
func (l *loopback) Close() error                 { return nil }
func (l *loopback) Create(string, msgq.Handle) error {
	return nil
}
func (l *loopback) Delete(string, msgq.Handle) error {
	return nil
}
func (l *loopback) Release(msgq.Handle) error { return nil }

func (l *loopback) Locate(name string, _ time.Duration) (msgq.Handle, error) {
	if h, ok := l.remote.LookupLocal(name); ok {
		return h, nil
	}
	return msgq.InvalidHandle, errors.Wrap(dsplink.ErrNotFound, name)
}

func (l *loopback) Put(h msgq.Handle, m *msgq.Msg) error {
	in := msgq.Inbound{ID: m.ID(), Src: m.SrcQueue(), Payload: m.Data()}
	if err := l.remote.Deliver(h.ID, in); err != nil {
		return err
	}
	return l.local.Free(m)
}

func TestRegistryInvalidProc(t *testing.T) {
	_, err := msgq.NewRegistry(dsplink.MaxProcessors)
	assert.True(t, dsplink.Is(err, dsplink.ErrInvalidArgument))
}

func TestCreateUniqueNames(t *testing.T) {
	a := assert.New(t)
	r := newTestRegistry(t, dsplink.IDGpp)
	h, err := r.Create("q", nil)
	if !a.NoError(err) {
		return
	}
	_, err = r.Create("q", nil)
	a.True(dsplink.Is(err, dsplink.ErrAlreadyExists))
	a.NoError(r.Delete(h))
	h2, err := r.Create("q", nil)
	a.NoError(err)
	a.Equal(h, h2)
	_, err = r.Create("", nil)
	a.True(dsplink.Is(err, dsplink.ErrInvalidArgument))
	_, err = r.Create(string(make([]byte, dsplink.MaxQueueNameLen+1)), nil)
	a.True(dsplink.Is(err, dsplink.ErrInvalidArgument))
}

func TestCreateTableFull(t *testing.T) {
	a := assert.New(t)
	r := newTestRegistry(t, dsplink.IDGpp)
	ids := make(map[uint16]bool)
	for i := 0; i < dsplink.MaxMsgqs; i++ {
		h, err := r.Create(msgq.GppQueueName(i), nil)
		if !a.NoError(err) {
			return
		}
		a.False(ids[h.ID])
		ids[h.ID] = true
	}
	_, err := r.Create("one more", nil)
	a.True(dsplink.Is(err, dsplink.ErrFull))
}

func TestCreateUnknownAllocator(t *testing.T) {
	a := assert.New(t)
	r := newTestRegistry(t, dsplink.IDGpp)
	_, err := r.Create("q", &msgq.Attrs{MqaID: 3})
	a.True(dsplink.Is(err, dsplink.ErrNotFound))
	_, has := r.LookupLocal("q")
	a.False(has)
	_, err = r.Create("q", &msgq.Attrs{MqaID: testMqa})
	a.NoError(err)
}

func TestRoundTrip(t *testing.T) {
	a := assert.New(t)
	r := newTestRegistry(t, dsplink.IDGpp)
	h, err := r.Create("q", &msgq.Attrs{MqaID: testMqa})
	if !a.NoError(err) {
		return
	}
	for size := 1; size <= 256; size *= 4 {
		m, err := r.Alloc(testMqa, size)
		if !a.NoError(err) {
			return
		}
		for i := range m.Data() {
			m.Data()[i] = byte(i + size)
		}
		m.SetID(uint16(size))
		expected := append([]byte(nil), m.Data()...)
		a.NoError(r.Put(h, m))
		cnt, err := r.Count(h)
		a.NoError(err)
		a.Equal(1, cnt)
		got, err := r.Get(h, dsplink.WaitNone)
		if !a.NoError(err) {
			return
		}
		a.True(got.Size() >= size)
		a.Equal(expected, got.Data()[:size])
		a.Equal(uint16(size), got.ID())
		a.Equal(h, got.DstQueue())
		a.NoError(r.Free(got))
	}
}

func TestPutOrder(t *testing.T) {
	a := assert.New(t)
	r := newTestRegistry(t, dsplink.IDGpp)
	h, err := r.Create("q", nil)
	if !a.NoError(err) {
		return
	}
	for i := 0; i < 8; i++ {
		m, err := r.Alloc(testMqa, 4)
		if !a.NoError(err) {
			return
		}
		m.SetID(uint16(i))
		a.NoError(r.Put(h, m))
	}
	for i := 0; i < 8; i++ {
		m, err := r.Get(h, dsplink.WaitNone)
		if !a.NoError(err) {
			return
		}
		a.Equal(uint16(i), m.ID())
		a.NoError(r.Free(m))
	}
}

func TestPutQueuedMessage(t *testing.T) {
	a := assert.New(t)
	r := newTestRegistry(t, dsplink.IDGpp)
	h, err := r.Create("q", nil)
	if !a.NoError(err) {
		return
	}
	m, err := r.Alloc(testMqa, 4)
	if !a.NoError(err) {
		return
	}
	a.NoError(r.Put(h, m))
	a.True(dsplink.Is(r.Put(h, m), dsplink.ErrWrongState))
	a.True(dsplink.Is(r.Free(m), dsplink.ErrWrongState))
}

func TestGetTimeout(t *testing.T) {
	a := assert.New(t)
	r := newTestRegistry(t, dsplink.IDGpp)
	h, err := r.Create("q", nil)
	if !a.NoError(err) {
		return
	}
	_, err = r.Get(h, dsplink.WaitNone)
	a.True(dsplink.Is(err, dsplink.ErrTimeout))
	start := time.Now()
	_, err = r.Get(h, time.Millisecond*30)
	a.True(dsplink.Is(err, dsplink.ErrTimeout))
	a.True(time.Since(start) >= time.Millisecond*25)
}

func TestGetWakesOnPut(t *testing.T) {
	a := assert.New(t)
	r := newTestRegistry(t, dsplink.IDGpp)
	h, err := r.Create("q", nil)
	if !a.NoError(err) {
		return
	}
	go func() {
		time.Sleep(time.Millisecond * 20)
		m, err := r.Alloc(testMqa, 1)
		if err == nil {
			r.Put(h, m)
		}
	}()
	var m *msgq.Msg
	a.True(linktest.WaitForFunc(func() {
		m, err = r.Get(h, dsplink.WaitForever)
	}, time.Second))
	if a.NoError(err) {
		a.NoError(r.Free(m))
	}
}

func TestGetOnDeletedQueue(t *testing.T) {
	a := assert.New(t)
	r := newTestRegistry(t, dsplink.IDGpp)
	h, err := r.Create("q", nil)
	if !a.NoError(err) {
		return
	}
	go func() {
		time.Sleep(time.Millisecond * 20)
		r.Delete(h)
	}()
	_, err = r.Get(h, time.Second)
	a.True(dsplink.Is(err, dsplink.ErrNotFound))
	_, err = r.Get(h, dsplink.WaitNone)
	a.True(dsplink.Is(err, dsplink.ErrNotFound))
}

func TestDeleteFreesPending(t *testing.T) {
	a := assert.New(t)
	alloc := pool.NewBufferAllocator(pool.Params{Pools: []pool.Attrs{{MsgSize: 8, NumMsg: 2}}})
	r, err := msgq.NewRegistry(dsplink.IDGpp)
	if !a.NoError(err) {
		return
	}
	defer r.Shutdown()
	a.NoError(r.OpenAllocator(1, alloc))
	h, err := r.Create("q", nil)
	if !a.NoError(err) {
		return
	}
	for i := 0; i < 2; i++ {
		m, err := r.Alloc(1, 8)
		if !a.NoError(err) {
			return
		}
		a.NoError(r.Put(h, m))
	}
	a.Equal([]int{0}, alloc.FreeCount())
	a.NoError(r.Delete(h))
	a.Equal([]int{2}, alloc.FreeCount())
	a.True(dsplink.Is(r.Delete(h), dsplink.ErrNotFound))
}

func TestConcurrentProducers(t *testing.T) {
	a := assert.New(t)
	const producers, perProducer = 4, 50
	r := newTestRegistry(t, dsplink.IDGpp, pool.Attrs{MsgSize: 8, NumMsg: producers * perProducer})
	h, err := r.Create("q", nil)
	if !a.NoError(err) {
		return
	}
	var g errgroup.Group
	for p := 0; p < producers; p++ {
		p := p
		g.Go(func() error {
			for i := 0; i < perProducer; i++ {
				m, err := r.Alloc(testMqa, 2)
				if err != nil {
					return err
				}
				m.SetID(uint16(p<<8 | i))
				if err = r.Put(h, m); err != nil {
					return err
				}
			}
			return nil
		})
	}
	seen := make(map[uint16]bool)
	var last [producers]int
	for i := range last {
		last[i] = -1
	}
	for i := 0; i < producers*perProducer; i++ {
		m, err := r.Get(h, time.Second)
		if !a.NoError(err) {
			break
		}
		seen[m.ID()] = true
		p, n := int(m.ID()>>8), int(m.ID()&0xff)
		// messages of a single producer stay in order.
		a.True(n > last[p])
		last[p] = n
		a.NoError(r.Free(m))
	}
	a.NoError(g.Wait())
	a.Len(seen, producers*perProducer)
}

func TestLocateLocal(t *testing.T) {
	a := assert.New(t)
	r := newTestRegistry(t, dsplink.IDGpp)
	h, err := r.Create("local", nil)
	if !a.NoError(err) {
		return
	}
	found, err := r.Locate("local", &msgq.LocateAttrs{Timeout: dsplink.WaitNone})
	a.NoError(err)
	a.Equal(h, found)
	_, err = r.Locate("missing", &msgq.LocateAttrs{Timeout: dsplink.WaitNone})
	a.True(dsplink.Is(err, dsplink.ErrNotFound))
}

func newLinkedRegistries(t *testing.T) (gpp, dsp *msgq.Registry) {
	gpp = newTestRegistry(t, dsplink.IDGpp)
	dsp = newTestRegistry(t, dsplink.IDDsp)
	if err := gpp.OpenTransport(dsplink.IDDsp, &loopback{remote: dsp}); err != nil {
		t.Fatal(err)
	}
	if err := dsp.OpenTransport(dsplink.IDGpp, &loopback{remote: gpp}); err != nil {
		t.Fatal(err)
	}
	return gpp, dsp
}

func TestRemotePutAndReply(t *testing.T) {
	a := assert.New(t)
	gpp, dsp := newLinkedRegistries(t)
	dspQ, err := dsp.Create(msgq.DspQueueName(0, 0), nil)
	if !a.NoError(err) {
		return
	}
	gppQ, err := gpp.Create(msgq.GppQueueName(0), nil)
	if !a.NoError(err) {
		return
	}
	remote, err := gpp.Locate(msgq.DspQueueName(0, 0), nil)
	if !a.NoError(err) {
		return
	}
	a.Equal(dspQ, remote)
	m, err := gpp.Alloc(testMqa, 5)
	if !a.NoError(err) {
		return
	}
	copy(m.Data(), "hello")
	m.SetSrcQueue(gppQ)
	a.NoError(gpp.Put(remote, m))

	in, err := dsp.Get(dspQ, time.Second)
	if !a.NoError(err) {
		return
	}
	a.Equal("hello", string(in.Data()))
	a.Equal(gppQ, in.SrcQueue())
	reply := in.SrcQueue()
	a.NoError(dsp.Put(reply, in))

	back, err := gpp.Get(gppQ, time.Second)
	if a.NoError(err) {
		a.Equal("hello", string(back.Data()))
		a.NoError(gpp.Free(back))
	}
	a.NoError(gpp.Release(remote))
}

func TestPutNoTransport(t *testing.T) {
	a := assert.New(t)
	r := newTestRegistry(t, dsplink.IDGpp)
	m, err := r.Alloc(testMqa, 1)
	if !a.NoError(err) {
		return
	}
	err = r.Put(msgq.Handle{Proc: dsplink.IDDsp, ID: 0}, m)
	a.True(dsplink.Is(err, dsplink.ErrNotFound))
	a.True(dsplink.Is(r.Put(msgq.InvalidHandle, m), dsplink.ErrInvalidArgument))
}

func TestAsyncErrorQueue(t *testing.T) {
	a := assert.New(t)
	gpp, dsp := newLinkedRegistries(t)
	errQ, err := dsp.Create("errors", nil)
	if !a.NoError(err) {
		return
	}
	a.NoError(dsp.SetErrorQueue(errQ, testMqa))
	dspQ, err := dsp.Create("target", nil)
	if !a.NoError(err) {
		return
	}
	remote, err := gpp.Locate("target", nil)
	if !a.NoError(err) {
		return
	}
	// the queue is gone, but the gpp still has the handle.
	a.NoError(dsp.Delete(dspQ))
	m, err := gpp.Alloc(testMqa, 1)
	if !a.NoError(err) {
		return
	}
	a.True(dsplink.Is(gpp.Put(remote, m), dsplink.ErrNotFound))
	a.NoError(gpp.Free(m))

	em, err := dsp.Get(errQ, dsplink.WaitNone)
	if !a.NoError(err) {
		return
	}
	a.Equal(uint16(msgq.AsyncErrorMsgID), em.ID())
	ae, err := msgq.ParseAsyncError(em)
	a.NoError(err)
	a.Equal(msgq.ErrorDeliveryFailed, ae.Kind)
	a.Equal(dspQ, ae.Queue)
	a.Equal(dsplink.ErrNotFound, msgq.CodeError(ae.Code))
	a.NoError(dsp.Free(em))
	_, err = msgq.ParseAsyncError(m)
	a.True(dsplink.Is(err, dsplink.ErrInvalidArgument))
}

func TestShutdown(t *testing.T) {
	a := assert.New(t)
	r, err := msgq.NewRegistry(dsplink.IDGpp)
	if !a.NoError(err) {
		return
	}
	a.NoError(r.OpenAllocator(testMqa, pool.NewBufferAllocator(pool.Params{Pools: []pool.Attrs{{MsgSize: 4, NumMsg: 1}}})))
	a.True(dsplink.Is(r.OpenAllocator(testMqa, pool.NewBufferAllocator(pool.Params{})), dsplink.ErrAlreadyExists))
	h, err := r.Create("q", nil)
	a.NoError(err)
	m, err := r.Alloc(testMqa, 4)
	a.NoError(err)
	a.NoError(r.Put(h, m))
	a.NoError(r.Shutdown())
	a.NoError(r.Shutdown())
	_, err = r.Create("q", nil)
	a.True(dsplink.Is(err, dsplink.ErrWrongState))
}

func TestQueueNames(t *testing.T) {
	a := assert.New(t)
	a.Equal("DSPLINK_DSP00MSGQ03", msgq.DspQueueName(0, 3))
	a.Equal("DSPLINK_GPPMSGQ12", msgq.GppQueueName(12))
	for _, tc := range []struct {
		name        string
		proc, index int
		ok          bool
	}{
		{"DSPLINK_DSP00MSGQ03", dsplink.IDDsp, 3, true},
		{"DSPLINK_GPPMSGQ12", dsplink.IDGpp, 12, true},
		{"DSPLINK_DSP01MSGQ03", 0, 0, false},
		{"DSPLINK_GPPMSGQ", 0, 0, false},
		{"DSPLINK_DSP00MSG03", 0, 0, false},
		{"queue", 0, 0, false},
	} {
		proc, index, ok := msgq.ParseQueueName(tc.name)
		a.Equal(tc.ok, ok, tc.name)
		a.Equal(tc.proc, proc, tc.name)
		a.Equal(tc.index, index, tc.name)
	}
	a.Equal("msgq(1:2)", fmt.Sprint(msgq.Handle{Proc: 1, ID: 2}))
}
