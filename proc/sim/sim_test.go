// Copyright 2016 Aleksandr Demakin. All rights reserved.

package sim

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/internal/test"
	"github.com/nxgtw/go-dsplink/msgq"
	"github.com/nxgtw/go-dsplink/msgq/pool"
	"github.com/nxgtw/go-dsplink/msgq/transport"
	"github.com/nxgtw/go-dsplink/proc"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

const (
	echoEntry  = 0x1000
	failEntry  = 0x2000
	fatalEntry = 0x3000
	testMqa    = 0
)

var testPools = pool.Params{Pools: []pool.Attrs{{MsgSize: 64, NumMsg: 32}}}

// echo sends every message back to its source queue.
func echo(ctx context.Context, env *Env) error {
	r, err := msgq.NewRegistry(env.Endpoint.ID())
	if err != nil {
		return err
	}
	defer r.Shutdown()
	if err = r.OpenAllocator(testMqa, pool.NewBufferAllocator(testPools)); err != nil {
		return err
	}
	if err = r.OpenTransport(env.Endpoint.Peer(), transport.NewLink(env.Endpoint)); err != nil {
		return err
	}
	q, err := r.Create(msgq.DspQueueName(env.Endpoint.ID(), 0), nil)
	if err != nil {
		return err
	}
	env.Ready()
	for ctx.Err() == nil {
		m, err := r.Get(q, time.Millisecond*10)
		if err != nil {
			if dsplink.Is(err, dsplink.ErrTimeout) {
				continue
			}
			return err
		}
		if err = r.Put(m.SrcQueue(), m); err != nil {
			env.Fail(err)
			r.Free(m)
		}
	}
	return nil
}

func writeImage(t *testing.T, entry uint32) string {
	var buf bytes.Buffer
	if err := proc.WriteFlatImage(&buf, &proc.Image{Entry: entry, LoadAddr: 0x10, Data: []byte("code")}); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "image.flat")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// newTestProc returns an attached dsp. The failing programs report ready and wait for release before failing.
func newTestProc(t *testing.T, release <-chan struct{}) (*proc.Manager, *Driver) {
	cfg := dsplink.DefaultConfig()
	cfg.HandshakeTimeout = time.Second
	drv := New(cfg.Dsp.MemSize)
	drv.Register(echoEntry, echo)
	drv.Register(failEntry, func(ctx context.Context, env *Env) error {
		env.Ready()
		<-release
		return errors.New("bad coefficient")
	})
	drv.Register(fatalEntry, func(ctx context.Context, env *Env) error {
		env.Ready()
		<-release
		env.Fatal(errors.New("stack overflow"))
		return nil
	})
	m, err := proc.NewManager(proc.FlatLoader{}, drv)
	if err != nil {
		t.Fatal(err)
	}
	if err = m.Setup(cfg); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Destroy() })
	if err = m.Attach(dsplink.IDDsp); err != nil {
		t.Fatal(err)
	}
	return m, drv
}

func TestEcho(t *testing.T) {
	a := assert.New(t)
	m, drv := newTestProc(t, nil)
	a.NoError(m.Load(dsplink.IDDsp, writeImage(t, echoEntry), nil))
	code := make([]byte, 4)
	_, err := drv.Read(0x10, code)
	a.NoError(err)
	a.Equal("code", string(code))
	if !a.NoError(m.Start(dsplink.IDDsp)) {
		return
	}
	l, err := m.Link()
	if !a.NoError(err) {
		return
	}
	r, err := msgq.NewRegistry(dsplink.IDGpp)
	if !a.NoError(err) {
		return
	}
	defer r.Shutdown()
	a.NoError(r.OpenAllocator(testMqa, pool.NewBufferAllocator(testPools)))
	a.NoError(r.OpenTransport(dsplink.IDDsp, transport.NewLink(l.Gpp())))
	reply, err := r.Create(msgq.GppQueueName(0), nil)
	if !a.NoError(err) {
		return
	}
	dspQ, err := r.Locate(msgq.DspQueueName(dsplink.IDDsp, 0), &msgq.LocateAttrs{Timeout: time.Second})
	if !a.NoError(err) {
		return
	}
	for i := 0; i < 10; i++ {
		msg, err := r.Alloc(testMqa, 16)
		if !a.NoError(err) {
			return
		}
		msg.SetID(uint16(i))
		msg.SetSrcQueue(reply)
		copy(msg.Data(), "ping")
		a.NoError(r.Put(dspQ, msg))
		back, err := r.Get(reply, time.Second)
		if !a.NoError(err) {
			return
		}
		a.Equal(uint16(i), back.ID())
		a.Equal("ping", string(back.Data()[:4]))
		a.NoError(r.Free(back))
	}
	a.NoError(m.Stop(dsplink.IDDsp))
	_, err = m.Control(dsplink.IDDsp, CmdGetFailure, nil)
	a.True(dsplink.Is(err, dsplink.ErrNotFound))
}

func TestProgramFailure(t *testing.T) {
	a := assert.New(t)
	release := make(chan struct{})
	m, _ := newTestProc(t, release)
	a.NoError(m.Load(dsplink.IDDsp, writeImage(t, failEntry), nil))
	if !a.NoError(m.Start(dsplink.IDDsp)) {
		close(release)
		return
	}
	close(release)
	l, _ := m.Link()
	a.True(linktest.WaitFor(func() bool { return !l.Control().Ready(dsplink.IDDsp) }, time.Second))
	res, err := m.Control(dsplink.IDDsp, CmdGetFailure, nil)
	if a.NoError(err) {
		f := res.(dsplink.Failure)
		a.EqualError(f.Err, "bad coefficient")
	}
	err = m.Stop(dsplink.IDDsp)
	a.Error(err)
	a.Contains(err.Error(), "bad coefficient")
	_, err = m.Control(dsplink.IDDsp, CmdReset, nil)
	a.NoError(err)
	_, err = m.Control(dsplink.IDDsp, CmdGetFailure, nil)
	a.True(dsplink.Is(err, dsplink.ErrNotFound))
}

func TestProgramFatal(t *testing.T) {
	a := assert.New(t)
	release := make(chan struct{})
	m, drv := newTestProc(t, release)
	a.NoError(m.Load(dsplink.IDDsp, writeImage(t, fatalEntry), nil))
	if !a.NoError(m.Start(dsplink.IDDsp)) {
		close(release)
		return
	}
	close(release)
	err := m.Stop(dsplink.IDDsp)
	a.Error(err)
	f, ok := drv.failure.First()
	if a.True(ok) {
		a.EqualError(f.Err, "stack overflow")
		a.Equal("sim.go", f.File)
	}
	a.Equal(0, drv.failure.Dropped())
}

func TestDriverErrors(t *testing.T) {
	a := assert.New(t)
	drv := New(16)
	a.True(dsplink.Is(drv.Start(echoEntry), dsplink.ErrWrongState))
	a.True(dsplink.Is(drv.Stop(), dsplink.ErrWrongState))
	a.True(dsplink.Is(drv.Load(&proc.Image{LoadAddr: 10, Data: make([]byte, 7)}), dsplink.ErrInvalidArgument))
	_, err := drv.Write(15, []byte{1, 2})
	a.True(dsplink.Is(err, dsplink.ErrInvalidArgument))
	n, err := drv.Write(14, []byte{1, 2})
	a.NoError(err)
	a.Equal(2, n)
	_, err = drv.Control(100, nil)
	a.True(dsplink.Is(err, dsplink.ErrNotImplemented))
	a.True(dsplink.Is(drv.Detach(), dsplink.ErrWrongState))
}
