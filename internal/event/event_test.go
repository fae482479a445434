// Copyright 2016 Aleksandr Demakin. All rights reserved.

package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventWait(t *testing.T) {
	ev := New(false)
	go func() {
		time.Sleep(time.Millisecond * 50)
		ev.Set()
	}()
	ch := make(chan struct{})
	go func() {
		ev.Wait()
		ch <- struct{}{}
	}()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Error("timeout")
	}
}

func TestEventWaitTimeout(t *testing.T) {
	a := assert.New(t)
	ev := New(false)
	a.False(ev.WaitTimeout(0))
	a.False(ev.WaitTimeout(time.Millisecond * 20))
	ev.Set()
	ev.Set()
	a.True(ev.WaitTimeout(0))
	a.False(ev.WaitTimeout(0))
}

func TestEventInitial(t *testing.T) {
	a := assert.New(t)
	ev := New(true)
	a.True(ev.WaitTimeout(time.Millisecond * 10))
	ev.Set()
	ev.Reset()
	a.False(ev.WaitTimeout(0))
}
