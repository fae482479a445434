// Copyright 2016 Aleksandr Demakin. All rights reserved.

package proc

import (
	"sync"

	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/link"

	"github.com/pkg/errors"
)

// State is the state of a processor.
type State int

const (
	StateReset State = iota
	StateIdle
	StateLoaded
	StateStarted
	StateStopped
	// StateStarting means the processor runs, but has not reported readiness yet.
	StateStarting
)

func (s State) String() string {
	switch s {
	case StateReset:
		return "reset"
	case StateIdle:
		return "idle"
	case StateLoaded:
		return "loaded"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	}
	return "unknown"
}

// Driver performs hardware specific operations on one DSP.
type Driver interface {
	// Attach reserves the processor. ep is the DSP side of the link.
	Attach(ep *link.Endpoint) error
	// Detach releases the processor.
	Detach() error
	// Load places the image into DSP memory.
	Load(img *Image) error
	// Start releases the DSP from reset at the entry address.
	Start(entry uint32) error
	// Stop puts the DSP into reset.
	Stop() error
	// Read copies DSP memory at addr into buf.
	Read(addr uint32, buf []byte) (int, error)
	// Write copies buf into DSP memory at addr.
	Write(addr uint32, buf []byte) (int, error)
	// Control performs a driver specific command.
	Control(cmd int, arg interface{}) (interface{}, error)
}

type processor struct {
	drv   Driver
	state State
	refs  int
	entry uint32
}

// Manager is the entry point of an application.
// Setup must be called first, Destroy releases everything.
type Manager struct {
	loader Loader

	mu    sync.Mutex
	link  *link.Link
	procs [dsplink.MaxDsps]*processor
}

// NewManager returns a manager, which uses loader to read images.
// drivers[i] serves the DSP with id i.
func NewManager(loader Loader, drivers ...Driver) (*Manager, error) {
	if len(drivers) > dsplink.MaxDsps {
		return nil, errors.Wrapf(dsplink.ErrInvalidArgument, "proc: at most %d drivers", dsplink.MaxDsps)
	}
	if loader == nil {
		loader = FlatLoader{}
	}
	m := &Manager{loader: loader}
	for i, drv := range drivers {
		if drv != nil {
			m.procs[i] = &processor{drv: drv}
		}
	}
	return m, nil
}

// Setup creates the shared window and the signaling with the configuration.
// A repeated call returns ErrAlreadySetup.
func (m *Manager) Setup(cfg dsplink.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link != nil {
		return errors.Wrap(dsplink.ErrAlreadySetup, "proc: link is set up")
	}
	l, err := link.New(cfg)
	if err != nil {
		return errors.Wrap(err, "proc: setup failed")
	}
	m.link = l
	return nil
}

// Link returns the link created by Setup.
func (m *Manager) Link() (*link.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link == nil {
		return nil, errors.Wrap(dsplink.ErrWrongState, "proc: link is not set up")
	}
	return m.link, nil
}

// Destroy stops and detaches all the processors and closes the link.
func (m *Manager) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link == nil {
		return errors.Wrap(dsplink.ErrWrongState, "proc: link is not set up")
	}
	for id, p := range m.procs {
		if p != nil && p.state == StateStarting {
			return errors.Wrapf(dsplink.ErrWrongState, "proc: dsp %d is starting", id)
		}
	}
	var result error
	for id, p := range m.procs {
		if p == nil || p.state == StateReset {
			continue
		}
		p.refs = 1
		if err := m.detach(id, p); err != nil && result == nil {
			result = err
		}
	}
	if err := m.link.Close(); err != nil && result == nil {
		result = err
	}
	m.link = nil
	return result
}

// Attach attaches to the processor. If it is already attached, the reference count is incremented
// and ErrAlreadyAttached is returned. Use dsplink.Succeeded to check the result.
func (m *Manager) Attach(procID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.proc(procID)
	if err != nil {
		return err
	}
	if p.state != StateReset {
		p.refs++
		return errors.Wrapf(dsplink.ErrAlreadyAttached, "proc: dsp %d", procID)
	}
	if err = p.drv.Attach(m.link.Dsp()); err != nil {
		return errors.Wrapf(err, "proc: failed to attach to dsp %d", procID)
	}
	p.refs = 1
	m.setState(procID, p, StateIdle)
	return nil
}

// Detach drops a reference to the processor. The last reference stops and releases it.
func (m *Manager) Detach(procID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.attached(procID)
	if err != nil {
		return err
	}
	return m.detach(procID, p)
}

func (m *Manager) detach(procID int, p *processor) error {
	if p.refs--; p.refs > 0 {
		return nil
	}
	var result error
	if p.state == StateStarted || p.state == StateStarting {
		result = m.stop(procID, p)
	}
	if err := p.drv.Detach(); err != nil && result == nil {
		result = errors.Wrapf(err, "proc: failed to detach from dsp %d", procID)
	}
	p.refs = 0
	m.setState(procID, p, StateReset)
	return result
}

// Load reads the image at path and places it into the memory of the processor.
// args, if not empty, replace the arguments stored in the image.
// The entry point and the MMU table are published in the driver control block.
func (m *Manager) Load(procID int, path string, args []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.attached(procID)
	if err != nil {
		return err
	}
	if p.state == StateStarted || p.state == StateStarting {
		return errors.Wrapf(dsplink.ErrWrongState, "proc: dsp %d is running", procID)
	}
	img, err := m.loader.Load(path)
	if err != nil {
		return errors.Wrapf(err, "proc: failed to load dsp %d", procID)
	}
	if len(args) > 0 {
		img.Args = args
	}
	if err = p.drv.Load(img); err != nil {
		return errors.Wrapf(err, "proc: failed to load dsp %d", procID)
	}
	ctrl := m.link.Control()
	if err = ctrl.SetMMU(m.link.Config().Dsp.MMU); err != nil {
		return errors.Wrapf(err, "proc: dsp %d", procID)
	}
	ctrl.SetEntry(img.Entry)
	p.entry = img.Entry
	m.setState(procID, p, StateLoaded)
	return nil
}

// Start starts a loaded processor and waits until it reports readiness.
// The manager is not locked during the wait, the processor is in StateStarting meanwhile.
func (m *Manager) Start(procID int) error {
	m.mu.Lock()
	p, err := m.attached(procID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if p.state != StateLoaded {
		m.mu.Unlock()
		return errors.Wrapf(dsplink.ErrWrongState, "proc: dsp %d is %v, not loaded", procID, p.state)
	}
	ctrl := m.link.Control()
	ctrl.SetReady(procID, false)
	ctrl.SetReady(dsplink.IDGpp, true)
	if err = p.drv.Start(p.entry); err != nil {
		m.mu.Unlock()
		return errors.Wrapf(err, "proc: failed to start dsp %d", procID)
	}
	m.setState(procID, p, StateStarting)
	timeout := m.link.Config().HandshakeTimeout
	m.mu.Unlock()

	err = ctrl.WaitReady(procID, timeout)

	m.mu.Lock()
	defer m.mu.Unlock()
	if p.state != StateStarting {
		// detached while waiting, the driver is already stopped.
		return errors.Wrapf(dsplink.ErrWrongState, "proc: dsp %d was released during start", procID)
	}
	if err != nil {
		if stopErr := p.drv.Stop(); stopErr != nil {
			dsplink.Logf("proc: failed to stop dsp %d after a failed start: %v", procID, stopErr)
		}
		m.setState(procID, p, StateLoaded)
		return errors.Wrapf(err, "proc: dsp %d handshake failed", procID)
	}
	m.setState(procID, p, StateStarted)
	return nil
}

// Stop stops a running processor. Stopping a processor, which is not running, returns ErrWrongState.
func (m *Manager) Stop(procID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.attached(procID)
	if err != nil {
		return err
	}
	if p.state != StateStarted {
		return errors.Wrapf(dsplink.ErrWrongState, "proc: dsp %d is %v", procID, p.state)
	}
	return m.stop(procID, p)
}

func (m *Manager) stop(procID int, p *processor) error {
	err := p.drv.Stop()
	m.link.Control().SetReady(procID, false)
	m.setState(procID, p, StateStopped)
	return errors.Wrapf(err, "proc: failed to stop dsp %d", procID)
}

// Control passes a command to the driver of the processor.
func (m *Manager) Control(procID int, cmd int, arg interface{}) (interface{}, error) {
	m.mu.Lock()
	p, err := m.attached(procID)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.drv.Control(cmd, arg)
}

// Read reads DSP memory.
func (m *Manager) Read(procID int, addr uint32, buf []byte) (int, error) {
	m.mu.Lock()
	p, err := m.attached(procID)
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return p.drv.Read(addr, buf)
}

// Write writes DSP memory.
func (m *Manager) Write(procID int, addr uint32, buf []byte) (int, error) {
	m.mu.Lock()
	p, err := m.attached(procID)
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return p.drv.Write(addr, buf)
}

// State returns the state of the processor.
func (m *Manager) State(procID int) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.proc(procID)
	if err != nil {
		return StateReset, err
	}
	return p.state, nil
}

func (m *Manager) proc(procID int) (*processor, error) {
	if m.link == nil {
		return nil, errors.Wrap(dsplink.ErrWrongState, "proc: link is not set up")
	}
	if procID < 0 || procID >= dsplink.MaxDsps {
		return nil, errors.Wrapf(dsplink.ErrInvalidArgument, "proc: invalid dsp id %d", procID)
	}
	p := m.procs[procID]
	if p == nil {
		return nil, errors.Wrapf(dsplink.ErrNotFound, "proc: no driver for dsp %d", procID)
	}
	return p, nil
}

func (m *Manager) attached(procID int) (*processor, error) {
	p, err := m.proc(procID)
	if err != nil {
		return nil, err
	}
	if p.state == StateReset {
		return nil, errors.Wrapf(dsplink.ErrWrongState, "proc: dsp %d is not attached", procID)
	}
	return p, nil
}

func (m *Manager) setState(procID int, p *processor, s State) {
	dsplink.Logf("proc: dsp %d: %v -> %v", procID, p.state, s)
	p.state = s
}
