// Copyright 2016 Aleksandr Demakin. All rights reserved.

package msgq

import (
	"time"

	"github.com/nxgtw/go-dsplink"

	"github.com/pkg/errors"
)

// localTransport serves queues of the registry's own processor.
type localTransport struct {
	r *Registry
}

func (t *localTransport) Open(Dispatcher) error { return nil }

func (t *localTransport) Close() error { return nil }

func (t *localTransport) Locate(name string, _ time.Duration) (Handle, error) {
	if h, ok := t.r.LookupLocal(name); ok {
		return h, nil
	}
	return InvalidHandle, errors.Wrapf(dsplink.ErrNotFound, "queue %q", name)
}

func (t *localTransport) Create(string, Handle) error { return nil }

func (t *localTransport) Delete(string, Handle) error { return nil }

func (t *localTransport) Put(h Handle, m *Msg) error {
	return t.r.enqueue(h.ID, m)
}

func (t *localTransport) Release(Handle) error { return nil }
