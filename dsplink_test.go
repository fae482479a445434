// Copyright 2016 Aleksandr Demakin. All rights reserved.

package dsplink

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestAlignUp(t *testing.T) {
	a := assert.New(t)
	a.Equal(0, AlignUp(0, WordAlign))
	a.Equal(8, AlignUp(1, WordAlign))
	a.Equal(8, AlignUp(8, WordAlign))
	a.Equal(16, AlignUp(9, WordAlign))
	a.Equal(256, AlignUp(129, BufAlign))
}

func TestIs(t *testing.T) {
	a := assert.New(t)
	err := errors.Wrap(errors.Wrap(ErrTimeout, "inner"), "outer")
	a.True(Is(err, ErrTimeout))
	a.False(Is(err, ErrFull))
	a.False(Is(nil, ErrTimeout))
}

func TestSucceeded(t *testing.T) {
	a := assert.New(t)
	a.True(Succeeded(nil))
	a.True(Succeeded(errors.Wrap(ErrAlreadyAttached, "proc")))
	a.True(Succeeded(ErrAlreadySetup))
	a.False(Succeeded(ErrWrongState))
}

func TestIsTemporary(t *testing.T) {
	a := assert.New(t)
	a.True(IsTemporary(errors.Wrap(ErrFull, "chnl")))
	a.True(IsTemporary(ErrTimeout))
	a.True(IsTemporary(ErrOutOfMemory))
	a.False(IsTemporary(ErrNotFound))
	a.False(IsTemporary(nil))
}

func TestFailureLatch(t *testing.T) {
	a := assert.New(t)
	var l FailureLatch
	_, ok := l.First()
	a.False(ok)
	a.False(l.Set(nil))
	a.True(l.Set(ErrHardwareFailure))
	a.False(l.Set(ErrTimeout))
	a.False(l.Set(ErrFull))
	f, ok := l.First()
	if !a.True(ok) {
		return
	}
	a.Equal(ErrHardwareFailure, f.Err)
	a.Equal("dsplink_test.go", f.File)
	a.True(f.Line > 0)
	a.Equal(2, l.Dropped())
	a.True(strings.HasPrefix(f.String(), "dsplink_test.go:"))
	l.Reset()
	_, ok = l.First()
	a.False(ok)
	a.Equal(0, l.Dropped())
}

func TestFailureLatchFatal(t *testing.T) {
	a := assert.New(t)
	var buf bytes.Buffer
	SetLogger(log.New(&buf, "", 0))
	defer SetLogger(nil)
	var l FailureLatch
	a.True(l.Set(ErrWrongState))
	a.PanicsWithValue(ErrHardwareFailure, func() {
		l.Fatal(ErrHardwareFailure)
	})
	f, _ := l.First()
	a.Equal(ErrWrongState, f.Err)
	a.Equal(1, l.Dropped())
	a.Contains(buf.String(), "fatal: hardware failure")
}

func TestLogger(t *testing.T) {
	a := assert.New(t)
	var buf bytes.Buffer
	SetLogger(log.New(&buf, "", 0))
	defer SetLogger(nil)
	Logf("state %d", 3)
	a.Equal("state 3\n", buf.String())
	SetLogger(nil)
	Logf("dropped")
	a.Equal("state 3\n", buf.String())
}

func TestConfigValidate(t *testing.T) {
	a := assert.New(t)
	cfg := DefaultConfig()
	a.NoError(cfg.Validate())
	modifiers := []func(c *Config){
		func(c *Config) { c.WindowSize = 0 },
		func(c *Config) { c.Channels = MaxChannels + 1 },
		func(c *Config) { c.ChannelBufSize = ZcpyDataMaxBufSize + 1 },
		func(c *Config) { c.PoolSize = -1 },
		func(c *Config) { c.MqtSlots = 0 },
		func(c *Config) { c.Dsp.MMU = make([]MMUEntry, MaxMMUEntries+1) },
		func(c *Config) { c.Dsp.MauSize = 3 },
		func(c *Config) { c.Dsp.MemSize = -1 },
		func(c *Config) { c.Locate.ReplyTimeout = 0 },
	}
	for i, mod := range modifiers {
		c := DefaultConfig()
		mod(&c)
		err := c.Validate()
		a.True(Is(err, ErrInvalidArgument), fmt.Sprintf("modifier %d: %v", i, err))
	}
}
