// Copyright 2016 Aleksandr Demakin. All rights reserved.

package chnl

import (
	"sync"

	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/ips"
	"github.com/nxgtw/go-dsplink/link"
	"github.com/nxgtw/go-dsplink/shm"

	"github.com/pkg/errors"
)

// Mode is the direction of a channel.
type Mode int

const (
	// ModeInput channels receive data from the peer.
	ModeInput Mode = iota + 1
	// ModeOutput channels send data to the peer.
	ModeOutput
)

func (m Mode) String() string {
	switch m {
	case ModeInput:
		return "input"
	case ModeOutput:
		return "output"
	}
	return "invalid"
}

// Attrs are channel creation attributes.
type Attrs struct {
	Mode Mode
	// Endianism of data produced or consumed by the DSP. EndianBig makes the GPP side
	// swap bytes of every 16-bit unit.
	Endianism dsplink.Endianism
	// Size is the largest buffer, which can be allocated for the channel.
	Size int
	// MaxPending limits the number of issued, but not reclaimed, buffers.
	// Zero means dsplink.MaxBuffers.
	MaxPending int
}

// IOInfo describes an issued or a reclaimed buffer.
type IOInfo struct {
	Buffer []byte
	// Size is the data length for output buffers and the capacity for input buffers, when issued.
	// On reclaim it is the number of transferred bytes.
	Size int
	Arg  uint32
	// Cancelled is set for buffers completed by Idle.
	Cancelled bool
}

// Manager holds channels of one processor.
type Manager struct {
	ep       *link.Endpoint
	mu       sync.Mutex
	channels [dsplink.MaxChannels]*Channel
	closed   bool
}

// NewManager returns the channel manager of the endpoint.
// It takes the ips.EventChannel event of the endpoint.
func NewManager(ep *link.Endpoint) (*Manager, error) {
	m := &Manager{ep: ep}
	if err := ep.IPS().Register(ips.EventChannel, m.onDoorbell); err != nil {
		return nil, errors.Wrap(err, "chnl: failed to register the doorbell listener")
	}
	return m, nil
}

// Create creates the channel chnlID to the processor procID.
func (m *Manager) Create(procID, chnlID int, attrs Attrs) (*Channel, error) {
	cfg := m.ep.Config()
	switch {
	case procID != m.ep.Peer():
		return nil, errors.Wrapf(dsplink.ErrInvalidArgument, "chnl: processor %d is not the peer", procID)
	case chnlID < 0 || chnlID >= cfg.Channels:
		return nil, errors.Wrapf(dsplink.ErrInvalidArgument, "chnl: channel id %d", chnlID)
	case attrs.Mode != ModeInput && attrs.Mode != ModeOutput:
		return nil, errors.Wrapf(dsplink.ErrInvalidArgument, "chnl: mode %d", attrs.Mode)
	case attrs.Size <= 0 || attrs.Size > cfg.ChannelBufSize:
		return nil, errors.Wrapf(dsplink.ErrInvalidArgument, "chnl: buffer size must be in (0, %d]", cfg.ChannelBufSize)
	case attrs.MaxPending < 0 || attrs.MaxPending > dsplink.MaxBuffers:
		return nil, errors.Wrapf(dsplink.ErrInvalidArgument, "chnl: max pending must be in [0, %d]", dsplink.MaxBuffers)
	}
	if attrs.MaxPending == 0 {
		attrs.MaxPending = dsplink.MaxBuffers
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.Wrap(dsplink.ErrWrongState, "chnl: manager is closed")
	}
	if m.channels[chnlID] != nil {
		m.mu.Unlock()
		return nil, errors.Wrapf(dsplink.ErrAlreadyExists, "chnl: channel %d", chnlID)
	}
	stride := shm.StagingSize(cfg.ChannelBufSize)
	irps := m.ep.Area(shm.IpsIrp)
	staging := m.ep.Area(shm.ZcpyData)
	ch := newChannel(m, chnlID, attrs,
		newIrp(irps[chnlID*shm.IrpSize:(chnlID+1)*shm.IrpSize]),
		staging[chnlID*stride:chnlID*stride+cfg.ChannelBufSize],
		attrs.Endianism == dsplink.EndianBig && m.ep.IsGpp())
	m.channels[chnlID] = ch
	m.mu.Unlock()
	// the peer could have already posted a request.
	ch.kick()
	return ch, nil
}

// Channel returns a created channel.
func (m *Manager) Channel(chnlID int) (*Channel, error) {
	if chnlID < 0 || chnlID >= dsplink.MaxChannels {
		return nil, errors.Wrapf(dsplink.ErrInvalidArgument, "chnl: channel id %d", chnlID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch := m.channels[chnlID]; ch != nil {
		return ch, nil
	}
	return nil, errors.Wrapf(dsplink.ErrNotFound, "chnl: channel %d", chnlID)
}

// Delete deletes the channel. It fails with ErrWrongState, if there are pending buffers.
// Completed, but not reclaimed buffers are dropped.
func (m *Manager) Delete(chnlID int) error {
	ch, err := m.Channel(chnlID)
	if err != nil {
		return err
	}
	if err = ch.close(); err != nil {
		return err
	}
	m.mu.Lock()
	m.channels[chnlID] = nil
	m.mu.Unlock()
	return nil
}

// Close deletes all the channels and releases the doorbell event.
// Channels with pending buffers are idled first.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	channels := m.channels
	m.channels = [dsplink.MaxChannels]*Channel{}
	m.mu.Unlock()
	for _, ch := range channels {
		if ch == nil {
			continue
		}
		if err := ch.Idle(); err != nil {
			dsplink.Logf("chnl: failed to idle channel %d: %v", ch.id, err)
		}
		if err := ch.close(); err != nil {
			dsplink.Logf("chnl: failed to delete channel %d: %v", ch.id, err)
		}
	}
	return m.ep.IPS().Unregister(ips.EventChannel)
}

func (m *Manager) onDoorbell(payload uint16) {
	if int(payload) >= dsplink.MaxChannels {
		dsplink.Logf("chnl: doorbell for invalid channel %d", payload)
		return
	}
	m.mu.Lock()
	ch := m.channels[payload]
	m.mu.Unlock()
	if ch != nil {
		ch.kick()
	}
}

func (m *Manager) notify(chnlID int) {
	if err := m.ep.IPS().Notify(ips.EventChannel, uint16(chnlID)); err != nil {
		dsplink.Logf("chnl: failed to notify channel %d: %v", chnlID, err)
	}
}
