// Copyright 2016 Aleksandr Demakin. All rights reserved.

package msgq

import (
	"time"
)

// Transport moves messages to queues of one remote processor.
type Transport interface {
	// Open attaches the transport to the local registry.
	Open(d Dispatcher) error
	// Close detaches the transport.
	Close() error
	// Locate finds a queue by name on the remote processor.
	// timeout == dsplink.WaitNone performs a single lookup.
	Locate(name string, timeout time.Duration) (Handle, error)
	// Create notifies the remote side about a local queue.
	Create(name string, h Handle) error
	// Delete notifies the remote side about a deleted local queue.
	Delete(name string, h Handle) error
	// Put sends a message to a remote queue.
	// On success the transport takes the ownership of the message.
	Put(h Handle, m *Msg) error
	// Release drops a handle previously returned by Locate.
	Release(h Handle) error
}

// Dispatcher is the part of the registry a transport uses to deliver messages.
type Dispatcher interface {
	// ProcID returns the id of the local processor.
	ProcID() int
	// LookupLocal returns a handle of a local queue, which is in use.
	LookupLocal(name string) (Handle, bool)
	// Deliver places a received message into a local queue.
	Deliver(queueID uint16, in Inbound) error
	// Free returns a message to its allocator.
	Free(m *Msg) error
	// ReportError posts an asynchronous error to the error queue, if one is set.
	ReportError(kind AsyncErrorKind, h Handle, err error)
}
