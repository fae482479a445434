// Copyright 2016 Aleksandr Demakin. All rights reserved.

package ips

import (
	"sync"
	"testing"
	"time"

	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/mailbox"

	"github.com/stretchr/testify/assert"
)

func newTestIPS(t *testing.T) (*IPS, *IPS) {
	dspMb, gppMb, err := mailbox.NewPair(make([]byte, mailbox.RegsSize), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	dsp, gpp := New(dspMb, mailbox.IntType{}), New(gppMb, mailbox.IntType{})
	t.Cleanup(func() {
		dsp.Close()
		gpp.Close()
		dspMb.Close()
		gppMb.Close()
	})
	return dsp, gpp
}

func TestPackUnpack(t *testing.T) {
	a := assert.New(t)
	ev, payload := Unpack(Pack(EventChannel, 0xBEEF))
	a.Equal(EventChannel, ev)
	a.Equal(uint16(0xBEEF), payload)
}

func TestRegister(t *testing.T) {
	a := assert.New(t)
	dsp, _ := newTestIPS(t)
	fn := func(uint16) {}
	a.NoError(dsp.Register(EventMsgq, fn))
	a.True(dsplink.Is(dsp.Register(EventMsgq, fn), dsplink.ErrAlreadyExists))
	a.True(dsplink.Is(dsp.Register(MaxEvents, fn), dsplink.ErrInvalidArgument))
	a.True(dsplink.Is(dsp.Register(EventChannel, nil), dsplink.ErrInvalidArgument))
	a.NoError(dsp.Unregister(EventMsgq))
	a.True(dsplink.Is(dsp.Unregister(EventMsgq), dsplink.ErrNotFound))
}

func TestNotifyDispatch(t *testing.T) {
	a := assert.New(t)
	dsp, gpp := newTestIPS(t)
	var mu sync.Mutex
	var got []uint16
	done := make(chan struct{})
	a.NoError(dsp.Register(EventChannel, func(payload uint16) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, payload)
		if len(got) == 50 {
			close(done)
		}
	}))
	for i := 0; i < 50; i++ {
		a.NoError(gpp.Notify(EventChannel, uint16(i)))
	}
	select {
	case <-done:
	case <-time.After(time.Second * 2):
		t.Fatal("timeout")
	}
	for i, p := range got {
		a.Equal(uint16(i), p)
	}
}

// listeners of both sides notify each other, which must not deadlock the dispatchers.
func TestPingPong(t *testing.T) {
	a := assert.New(t)
	dsp, gpp := newTestIPS(t)
	const rounds = 200
	done := make(chan struct{})
	a.NoError(dsp.Register(EventControl, func(payload uint16) {
		a.NoError(dsp.Notify(EventControl, payload+1))
		a.NoError(dsp.Notify(EventControl, payload+1))
	}))
	var mu sync.Mutex
	seen := 0
	a.NoError(gpp.Register(EventControl, func(payload uint16) {
		mu.Lock()
		seen++
		n := seen
		mu.Unlock()
		if n == 2*rounds {
			close(done)
		}
	}))
	for i := 0; i < rounds; i++ {
		a.NoError(gpp.Notify(EventControl, uint16(i)))
	}
	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal("timeout")
	}
}
