// Copyright 2016 Aleksandr Demakin. All rights reserved.

package dsplink

import (
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultWindowSize is the default size of the shared memory window.
	DefaultWindowSize = 1 << 20
	// DefaultPoolSize is the default size of the shared memory allocator area.
	DefaultPoolSize = 64 * 1024
	// DefaultMqtSlots is the default number of message slots per transport ring.
	DefaultMqtSlots = 16
	// DefaultMqtMsgSize is the default maximum size of a message passed by the transport.
	DefaultMqtMsgSize = 512
	// MaxMMUEntries is the size of the MMU table kept in the driver control block.
	MaxMMUEntries = 16
)

// MMUEntry describes one static translation programmed for the DSP.
type MMUEntry struct {
	Virt uint32
	Phys uint32
	Size uint32
}

// DspConfig describes the DSP object.
type DspConfig struct {
	Name string
	// MauSize is the size of the minimum addressable unit in bytes.
	MauSize int
	// WordSize is the native word size in bytes.
	WordSize int
	Endian   Endianism
	// MemSize is the size of the DSP internal memory available to the loader.
	MemSize int
	MMU     []MMUEntry
}

// LocatePolicy controls how a remote queue is looked up.
type LocatePolicy struct {
	// Interval is the delay before the first retry of an unsuccessful lookup.
	Interval time.Duration
	// MaxInterval limits the exponential growth of the retry delay.
	MaxInterval time.Duration
	// ReplyTimeout bounds the wait for a single answer from the remote side.
	ReplyTimeout time.Duration
}

// Config is the configuration of the link.
type Config struct {
	Dsp DspConfig
	// WindowSize is the size of the physically mapped shared window.
	WindowSize int
	// Channels is the number of data channels.
	Channels int
	// ChannelBufSize is the size of the staging area of each channel.
	ChannelBufSize int
	// PoolSize is the size of the shared memory allocator area.
	PoolSize int
	// MqtSlots is the number of slots in each transport ring.
	MqtSlots int
	// MqtMsgSize is the largest message the transport passes.
	MqtMsgSize int
	// PeerTimeout bounds the wait for the peer to consume a posted doorbell.
	// Negative value means no bound.
	PeerTimeout time.Duration
	// HandshakeTimeout bounds the wait for the DSP to report it is ready after start.
	HandshakeTimeout time.Duration
	Locate           LocatePolicy
}

// DefaultConfig returns the configuration used by the reference board.
func DefaultConfig() Config {
	return Config{
		Dsp: DspConfig{
			Name:     "DSP",
			MauSize:  DspMauSize,
			WordSize: 2,
			Endian:   EndianLittle,
			MemSize:  256 * 1024,
		},
		WindowSize:       DefaultWindowSize,
		Channels:         MaxChannels,
		ChannelBufSize:   ZcpyDataMaxBufSize,
		PoolSize:         DefaultPoolSize,
		MqtSlots:         DefaultMqtSlots,
		MqtMsgSize:       DefaultMqtMsgSize,
		PeerTimeout:      time.Second,
		HandshakeTimeout: 2 * time.Second,
		Locate: LocatePolicy{
			Interval:     time.Millisecond,
			MaxInterval:  50 * time.Millisecond,
			ReplyTimeout: 500 * time.Millisecond,
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch {
	case c.WindowSize <= 0:
		return errors.Wrap(ErrInvalidArgument, "config: window size must be positive")
	case c.Channels < 0 || c.Channels > MaxChannels:
		return errors.Wrapf(ErrInvalidArgument, "config: channels must be in [0, %d]", MaxChannels)
	case c.ChannelBufSize <= 0 || c.ChannelBufSize > ZcpyDataMaxBufSize:
		return errors.Wrapf(ErrInvalidArgument, "config: channel buffer size must be in (0, %d]", ZcpyDataMaxBufSize)
	case c.PoolSize < 0:
		return errors.Wrap(ErrInvalidArgument, "config: pool size cannot be negative")
	case c.MqtSlots <= 0 || c.MqtMsgSize <= 0:
		return errors.Wrap(ErrInvalidArgument, "config: transport ring cannot be empty")
	case len(c.Dsp.MMU) > MaxMMUEntries:
		return errors.Wrapf(ErrInvalidArgument, "config: at most %d mmu entries are allowed", MaxMMUEntries)
	case c.Dsp.MauSize != 1 && c.Dsp.MauSize != 2 && c.Dsp.MauSize != 4:
		return errors.Wrap(ErrInvalidArgument, "config: mau size must be 1, 2 or 4")
	case c.Dsp.MemSize < 0:
		return errors.Wrap(ErrInvalidArgument, "config: dsp memory size cannot be negative")
	case c.Locate.ReplyTimeout <= 0:
		return errors.Wrap(ErrInvalidArgument, "config: locate reply timeout must be positive")
	}
	return nil
}
