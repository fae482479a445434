// Copyright 2016 Aleksandr Demakin. All rights reserved.

package transport

import (
	"time"

	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/msgq"
)

// Null is a transport for a processor, which is not connected.
type Null struct{}

// Open does nothing.
func (Null) Open(msgq.Dispatcher) error { return nil }

// Close does nothing.
func (Null) Close() error { return nil }

func (Null) Locate(string, time.Duration) (msgq.Handle, error) {
	return msgq.InvalidHandle, dsplink.ErrNotImplemented
}

func (Null) Create(string, msgq.Handle) error { return nil }

func (Null) Delete(string, msgq.Handle) error { return nil }

func (Null) Put(msgq.Handle, *msgq.Msg) error { return dsplink.ErrNotImplemented }

func (Null) Release(msgq.Handle) error { return dsplink.ErrNotImplemented }
