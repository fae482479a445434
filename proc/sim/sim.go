// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package sim implements a processor driver, which runs Go functions as DSP programs.
// A program is registered at an entry address. When the DSP is started at that address,
// the program runs in its own goroutine on the DSP side of the link.
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/link"
	"github.com/nxgtw/go-dsplink/proc"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Control commands.
const (
	// CmdGetFailure returns the first failure of the DSP as dsplink.Failure.
	CmdGetFailure = iota + 1
	// CmdReset clears the failure latch and the memory of a stopped DSP.
	CmdReset
)

// Program is the code of the DSP. It must return, when ctx is done.
type Program func(ctx context.Context, env *Env) error

// Env is what a program can access.
type Env struct {
	// Endpoint is the DSP side of the link.
	Endpoint *link.Endpoint
	Args     []string
	// Memory is the internal memory of the DSP.
	Memory  []byte
	failure *dsplink.FailureLatch
}

// Ready reports the end of initialization to the GPP.
func (e *Env) Ready() {
	e.Endpoint.Ready()
}

// Fail records a failure, the first one is kept.
func (e *Env) Fail(err error) {
	e.failure.Set(err)
}

// Fatal records the failure and halts the DSP.
func (e *Env) Fatal(err error) {
	e.failure.Fatal(err)
}

// Driver is a simulated DSP.
type Driver struct {
	mu       sync.Mutex
	programs map[uint32]Program
	mem      []byte
	ep       *link.Endpoint
	args     []string
	failure  dsplink.FailureLatch
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// New returns a DSP with memSize bytes of memory.
func New(memSize int) *Driver {
	return &Driver{programs: make(map[uint32]Program), mem: make([]byte, memSize)}
}

// Register sets the program started at the entry address.
func (d *Driver) Register(entry uint32, p Program) {
	d.mu.Lock()
	d.programs[entry] = p
	d.mu.Unlock()
}

// Attach connects the DSP to the link.
func (d *Driver) Attach(ep *link.Endpoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ep != nil {
		return errors.Wrap(dsplink.ErrAlreadyAttached, "sim: dsp is attached")
	}
	d.ep = ep
	return nil
}

// Detach disconnects the DSP.
func (d *Driver) Detach() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ep == nil {
		return errors.Wrap(dsplink.ErrWrongState, "sim: dsp is not attached")
	}
	if d.group != nil {
		return errors.Wrap(dsplink.ErrWrongState, "sim: dsp is running")
	}
	d.ep = nil
	return nil
}

// Load copies the image into the memory.
func (d *Driver) Load(img *proc.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.rangeOf(img.LoadAddr, len(img.Data)); err != nil {
		return err
	}
	copy(d.mem[img.LoadAddr:], img.Data)
	d.args = img.Args
	return nil
}

// Start runs the program registered at entry.
func (d *Driver) Start(entry uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ep == nil {
		return errors.Wrap(dsplink.ErrWrongState, "sim: dsp is not attached")
	}
	if d.group != nil {
		return errors.Wrap(dsplink.ErrWrongState, "sim: dsp is running")
	}
	p, ok := d.programs[entry]
	if !ok {
		return errors.Wrapf(dsplink.ErrNotFound, "sim: no program at %#x", entry)
	}
	env := &Env{Endpoint: d.ep, Args: d.args, Memory: d.mem, failure: &d.failure}
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.run(ctx, p, env)
	})
	// the supervisor withdraws the ready flag, when the program is halted or stopped.
	ep := d.ep
	g.Go(func() error {
		<-ctx.Done()
		ep.Control().SetReady(ep.ID(), false)
		return nil
	})
	d.cancel, d.group = cancel, g
	return nil
}

// run executes the program. A program error or a panic halts it, the first failure is latched.
func (d *Driver) run(ctx context.Context, p Program, env *Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(error)
			if !ok {
				e = fmt.Errorf("%v", r)
			}
			if f, latched := d.failure.First(); !latched || !errors.Is(f.Err, e) {
				d.failure.Set(e)
			}
			err = errors.Wrap(e, "sim: dsp halted")
		}
	}()
	if err = p(ctx, env); err != nil && ctx.Err() == nil {
		d.failure.Set(err)
		dsplink.Logf("sim: dsp program failed: %v", err)
		return errors.Wrap(err, "sim: dsp halted")
	}
	return nil
}

// Stop cancels the program and waits for it to return.
// Returns the failure, which halted the program, if any.
func (d *Driver) Stop() error {
	d.mu.Lock()
	cancel, g := d.cancel, d.group
	d.cancel, d.group = nil, nil
	d.mu.Unlock()
	if g == nil {
		return errors.Wrap(dsplink.ErrWrongState, "sim: dsp is not running")
	}
	cancel()
	return g.Wait()
}

// Read copies DSP memory.
func (d *Driver) Read(addr uint32, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.rangeOf(addr, len(buf))
	if err != nil {
		return 0, err
	}
	return copy(buf, d.mem[addr:addr+uint32(n)]), nil
}

// Write copies into DSP memory.
func (d *Driver) Write(addr uint32, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.rangeOf(addr, len(buf))
	if err != nil {
		return 0, err
	}
	return copy(d.mem[addr:addr+uint32(n)], buf), nil
}

// Control performs CmdGetFailure and CmdReset.
func (d *Driver) Control(cmd int, _ interface{}) (interface{}, error) {
	switch cmd {
	case CmdGetFailure:
		f, ok := d.failure.First()
		if !ok {
			return nil, errors.Wrap(dsplink.ErrNotFound, "sim: no failures")
		}
		return f, nil
	case CmdReset:
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.group != nil {
			return nil, errors.Wrap(dsplink.ErrWrongState, "sim: dsp is running")
		}
		d.failure.Reset()
		for i := range d.mem {
			d.mem[i] = 0
		}
		return nil, nil
	}
	return nil, errors.Wrapf(dsplink.ErrNotImplemented, "sim: command %d", cmd)
}

// rangeOf checks that [addr, addr+size) lies within the memory. Must be called with d.mu held.
func (d *Driver) rangeOf(addr uint32, size int) (int, error) {
	if uint64(addr)+uint64(size) > uint64(len(d.mem)) {
		return 0, errors.Wrapf(dsplink.ErrInvalidArgument, "sim: [%#x, %#x) is outside of %d bytes of memory", addr, uint64(addr)+uint64(size), len(d.mem))
	}
	return size, nil
}
