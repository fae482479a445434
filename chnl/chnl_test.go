// Copyright 2016 Aleksandr Demakin. All rights reserved.

package chnl

import (
	"bytes"
	"testing"
	"time"

	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/internal/test"
	"github.com/nxgtw/go-dsplink/link"

	"github.com/stretchr/testify/assert"
)

const testChnl = 3

func newTestManagers(t *testing.T) (gpp, dsp *Manager) {
	l, err := link.New(dsplink.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	if gpp, err = NewManager(l.Gpp()); err != nil {
		t.Fatal(err)
	}
	if dsp, err = NewManager(l.Dsp()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		gpp.Close()
		dsp.Close()
	})
	return gpp, dsp
}

// newTestStream creates an output channel on the gpp and the matching input channel on the dsp.
func newTestStream(t *testing.T, attrs Attrs) (out, in *Channel) {
	gpp, dsp := newTestManagers(t)
	attrs.Mode = ModeOutput
	out, err := gpp.Create(dsplink.IDDsp, testChnl, attrs)
	if err != nil {
		t.Fatal(err)
	}
	attrs.Mode = ModeInput
	attrs.Endianism = dsplink.EndianDefault
	if in, err = dsp.Create(dsplink.IDGpp, testChnl, attrs); err != nil {
		t.Fatal(err)
	}
	return out, in
}

func allocOne(t *testing.T, c *Channel, size int) []byte {
	bufs, err := c.AllocateBuffer(1, size)
	if err != nil {
		t.Fatal(err)
	}
	return bufs[0]
}

func TestCreateValidation(t *testing.T) {
	a := assert.New(t)
	gpp, _ := newTestManagers(t)
	attrs := Attrs{Mode: ModeOutput, Size: 128}
	_, err := gpp.Create(dsplink.IDGpp, 0, attrs)
	a.True(dsplink.Is(err, dsplink.ErrInvalidArgument))
	_, err = gpp.Create(dsplink.IDDsp, dsplink.MaxChannels, attrs)
	a.True(dsplink.Is(err, dsplink.ErrInvalidArgument))
	_, err = gpp.Create(dsplink.IDDsp, 0, Attrs{Mode: ModeInput | ModeOutput, Size: 128})
	a.True(dsplink.Is(err, dsplink.ErrInvalidArgument))
	_, err = gpp.Create(dsplink.IDDsp, 0, Attrs{Mode: ModeOutput, Size: dsplink.ZcpyDataMaxBufSize + 1})
	a.True(dsplink.Is(err, dsplink.ErrInvalidArgument))
	_, err = gpp.Create(dsplink.IDDsp, 0, Attrs{Mode: ModeOutput, Size: 128, MaxPending: dsplink.MaxBuffers + 1})
	a.True(dsplink.Is(err, dsplink.ErrInvalidArgument))
	ch, err := gpp.Create(dsplink.IDDsp, 0, attrs)
	if !a.NoError(err) {
		return
	}
	a.Equal(0, ch.ID())
	a.Equal(dsplink.MaxBuffers, ch.Attrs().MaxPending)
	_, err = gpp.Create(dsplink.IDDsp, 0, attrs)
	a.True(dsplink.Is(err, dsplink.ErrAlreadyExists))
	found, err := gpp.Channel(0)
	a.NoError(err)
	a.Equal(ch, found)
	a.NoError(gpp.Delete(0))
	_, err = gpp.Channel(0)
	a.True(dsplink.Is(err, dsplink.ErrNotFound))
}

func TestTransfer(t *testing.T) {
	a := assert.New(t)
	out, in := newTestStream(t, Attrs{Size: 256})
	src := allocOne(t, out, 256)
	dst := allocOne(t, in, 256)
	copy(src, linktest.Pattern(256, 0x5a))
	a.NoError(in.Issue(IOInfo{Buffer: dst, Arg: 1}))
	a.NoError(out.Issue(IOInfo{Buffer: src, Size: 200, Arg: 42}))
	sent, err := out.Reclaim(time.Second)
	if !a.NoError(err) {
		return
	}
	a.Equal(200, sent.Size)
	a.False(sent.Cancelled)
	got, err := in.Reclaim(time.Second)
	if !a.NoError(err) {
		return
	}
	a.Equal(200, got.Size)
	a.Equal(uint32(42), got.Arg)
	a.Equal(src[:200], got.Buffer[:got.Size])
}

func TestPartialTransfer(t *testing.T) {
	a := assert.New(t)
	out, in := newTestStream(t, Attrs{Size: 128})
	src := allocOne(t, out, 128)
	small := allocOne(t, in, 40)
	copy(src, bytes.Repeat([]byte{7}, 128))
	a.NoError(out.Issue(IOInfo{Buffer: src, Size: 128}))
	a.NoError(in.Issue(IOInfo{Buffer: small}))
	sent, err := out.Reclaim(time.Second)
	if !a.NoError(err) {
		return
	}
	// the receiver has room for 40 bytes only.
	a.Equal(40, sent.Size)
	got, err := in.Reclaim(time.Second)
	if !a.NoError(err) {
		return
	}
	a.Equal(40, got.Size)
	a.Equal(bytes.Repeat([]byte{7}, 40), got.Buffer)
}

func TestReclaimOrder(t *testing.T) {
	a := assert.New(t)
	out, in := newTestStream(t, Attrs{Size: 64})
	srcs, err := out.AllocateBuffer(3, 64)
	if !a.NoError(err) {
		return
	}
	dsts, err := in.AllocateBuffer(3, 64)
	if !a.NoError(err) {
		return
	}
	for i := range dsts {
		a.NoError(in.Issue(IOInfo{Buffer: dsts[i], Arg: uint32(i)}))
	}
	for i := range srcs {
		srcs[i][0] = byte(i + 10)
		a.NoError(out.Issue(IOInfo{Buffer: srcs[i], Size: i + 1, Arg: uint32(i)}))
	}
	for i := range srcs {
		info, err := out.Reclaim(time.Second)
		if !a.NoError(err) {
			return
		}
		a.Equal(&srcs[i][0], &info.Buffer[0])
	}
	for i := range dsts {
		info, err := in.Reclaim(time.Second)
		if !a.NoError(err) {
			return
		}
		a.Equal(&dsts[i][0], &info.Buffer[0])
		a.Equal(i+1, info.Size)
		a.Equal(byte(i+10), info.Buffer[0])
		a.Equal(uint32(i), info.Arg)
	}
}

func TestBufferLifecycle(t *testing.T) {
	a := assert.New(t)
	gpp, _ := newTestManagers(t)
	out, err := gpp.Create(dsplink.IDDsp, testChnl, Attrs{Mode: ModeOutput, Size: 64})
	if !a.NoError(err) {
		return
	}
	buf := allocOne(t, out, 64)
	a.NoError(out.Issue(IOInfo{Buffer: buf, Size: 8}))
	a.True(dsplink.Is(out.Issue(IOInfo{Buffer: buf, Size: 8}), dsplink.ErrWrongState))
	a.True(dsplink.Is(out.FreeBuffer([][]byte{buf}), dsplink.ErrWrongState))
	a.True(dsplink.Is(gpp.Delete(testChnl), dsplink.ErrWrongState))
	_, err = out.Reclaim(dsplink.WaitNone)
	a.True(dsplink.Is(err, dsplink.ErrTimeout))

	a.NoError(out.Idle())
	info, err := out.Reclaim(dsplink.WaitNone)
	if !a.NoError(err) {
		return
	}
	a.True(info.Cancelled)
	a.Equal(0, info.Size)
	_, err = out.Reclaim(dsplink.WaitNone)
	a.True(dsplink.Is(err, dsplink.ErrWrongState))
	a.NoError(out.FreeBuffer([][]byte{buf}))
	a.True(dsplink.Is(out.Issue(IOInfo{Buffer: buf}), dsplink.ErrInvalidArgument))
	a.NoError(gpp.Delete(testChnl))
}

func TestIdleInput(t *testing.T) {
	a := assert.New(t)
	out, in := newTestStream(t, Attrs{Size: 64})
	dst := allocOne(t, in, 64)
	a.NoError(in.Issue(IOInfo{Buffer: dst}))
	a.NoError(in.Idle())
	info, err := in.Reclaim(time.Second)
	if !a.NoError(err) {
		return
	}
	a.True(info.Cancelled)
	// the withdrawn request must not be served.
	src := allocOne(t, out, 64)
	a.NoError(out.Issue(IOInfo{Buffer: src, Size: 4}))
	_, err = out.Reclaim(time.Millisecond * 50)
	a.True(dsplink.Is(err, dsplink.ErrTimeout))
	a.NoError(in.Issue(IOInfo{Buffer: dst}))
	_, err = out.Reclaim(time.Second)
	a.NoError(err)
	got, err := in.Reclaim(time.Second)
	if a.NoError(err) {
		a.Equal(4, got.Size)
	}
}

func TestMaxPending(t *testing.T) {
	a := assert.New(t)
	gpp, _ := newTestManagers(t)
	out, err := gpp.Create(dsplink.IDDsp, testChnl, Attrs{Mode: ModeOutput, Size: 16, MaxPending: 2})
	if !a.NoError(err) {
		return
	}
	bufs, err := out.AllocateBuffer(3, 16)
	if !a.NoError(err) {
		return
	}
	a.NoError(out.Issue(IOInfo{Buffer: bufs[0]}))
	a.NoError(out.Issue(IOInfo{Buffer: bufs[1]}))
	a.True(dsplink.Is(out.Issue(IOInfo{Buffer: bufs[2]}), dsplink.ErrFull))
	a.NoError(out.Idle())
	_, err = out.Reclaim(dsplink.WaitNone)
	a.NoError(err)
	a.NoError(out.Issue(IOInfo{Buffer: bufs[2]}))
}

func TestAllocateBufferLimits(t *testing.T) {
	a := assert.New(t)
	gpp, _ := newTestManagers(t)
	out, err := gpp.Create(dsplink.IDDsp, testChnl, Attrs{Mode: ModeOutput, Size: 16})
	if !a.NoError(err) {
		return
	}
	_, err = out.AllocateBuffer(1, 17)
	a.True(dsplink.Is(err, dsplink.ErrInvalidArgument))
	bufs, err := out.AllocateBuffer(dsplink.MaxBuffers, 16)
	if !a.NoError(err) {
		return
	}
	_, err = out.AllocateBuffer(1, 16)
	a.True(dsplink.Is(err, dsplink.ErrOutOfMemory))
	a.NoError(out.FreeBuffer(bufs[:1]))
	again, err := out.AllocateBuffer(1, 16)
	a.NoError(err)
	a.Equal(&bufs[0][0], &again[0][0])
}

func TestBigEndianSwap(t *testing.T) {
	a := assert.New(t)
	out, in := newTestStream(t, Attrs{Size: 16, Endianism: dsplink.EndianBig})
	src := allocOne(t, out, 5)
	copy(src, []byte{1, 2, 3, 4, 5})
	dst := allocOne(t, in, 16)
	a.NoError(in.Issue(IOInfo{Buffer: dst}))
	a.NoError(out.Issue(IOInfo{Buffer: src, Size: 5}))
	got, err := in.Reclaim(time.Second)
	if !a.NoError(err) {
		return
	}
	a.Equal([]byte{2, 1, 4, 3, 5}, got.Buffer[:got.Size])
}
