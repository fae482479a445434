// Copyright 2016 Aleksandr Demakin. All rights reserved.

package shm

import (
	"fmt"

	"github.com/nxgtw/go-dsplink"

	"github.com/pkg/errors"
)

// RegionID identifies a sub-region of the shared window.
type RegionID int

// sub-regions in the order they are placed in memory.
const (
	// DrvCtrl is the driver bootstrap and handshake block.
	DrvCtrl RegionID = iota
	// IpsCtrl holds the mailbox registers.
	IpsCtrl
	// IpsIrp holds one interrupt request slot per channel.
	IpsIrp
	// ZcpyData is the bulk data staging area of the channels.
	ZcpyData
	// SmaPool is the memory of the shared memory allocator.
	SmaPool
	// MqtCtrl holds the message rings of the transport.
	MqtCtrl
	// NumRegions is the number of sub-regions.
	NumRegions
)

var regionNames = [NumRegions]string{
	DrvCtrl:  "SHMDRV_CTRL",
	IpsCtrl:  "SHMIPS_CTRL",
	IpsIrp:   "SHMIPS_IRP",
	ZcpyData: "ZCPYDATA",
	SmaPool:  "SMAPOOL",
	MqtCtrl:  "MQTCTRL",
}

func (id RegionID) String() string {
	if id < 0 || id >= NumRegions {
		return fmt.Sprintf("RegionID(%d)", int(id))
	}
	return regionNames[id]
}

// sizes of fixed structures placed into the window.
const (
	// DrvCtrlSize is the size of the driver control block.
	DrvCtrlSize = 256
	// IpsCtrlSize is the size of the mailbox register block.
	IpsCtrlSize = 64
	// IrpSize is the size of one channel interrupt request slot.
	IrpSize = 32
	// MqtRingHeaderSize is the size of a transport ring header.
	MqtRingHeaderSize = 16
	// MqtMsgHeaderSize is the size of a message header inside a transport slot.
	MqtMsgHeaderSize = 64
)

// Spec describes one sub-region.
type Spec struct {
	ID   RegionID
	Size int
}

// Layout is a computed partition of the window.
type Layout struct {
	window  int
	offsets [NumRegions]int
	sizes   [NumRegions]int
	total   int
}

// Compute returns a layout for the given ordered list of regions.
// Offset of a region is the sum of sizes of all preceding regions.
// Every region must be listed exactly once, in the RegionID order.
// The total size must not exceed the window.
func Compute(window int, specs []Spec) (Layout, error) {
	var l Layout
	if len(specs) != int(NumRegions) {
		return l, errors.Wrapf(dsplink.ErrInvalidArgument, "layout: %d regions expected, got %d", NumRegions, len(specs))
	}
	l.window = window
	offset := 0
	for i, spec := range specs {
		if spec.ID != RegionID(i) {
			return Layout{}, errors.Wrapf(dsplink.ErrInvalidArgument, "layout: region %v at position %d", spec.ID, i)
		}
		if spec.Size < 0 || spec.Size%dsplink.WordAlign != 0 {
			return Layout{}, errors.Wrapf(dsplink.ErrInvalidArgument, "layout: size of %v must be a non-negative multiple of %d", spec.ID, dsplink.WordAlign)
		}
		l.offsets[i] = offset
		l.sizes[i] = spec.Size
		offset += spec.Size
	}
	if offset > window {
		return Layout{}, errors.Wrapf(dsplink.ErrInvalidArgument, "layout: %d bytes needed, window is %d bytes", offset, window)
	}
	l.total = offset
	return l, nil
}

// Offset returns the byte offset of the region from the start of the window.
func (l Layout) Offset(id RegionID) int {
	return l.offsets[id]
}

// Size returns the size of the region.
func (l Layout) Size(id RegionID) int {
	return l.sizes[id]
}

// Total returns the number of bytes used by all regions.
func (l Layout) Total() int {
	return l.total
}

// Window returns the size of the mapped window.
func (l Layout) Window() int {
	return l.window
}

// Config holds geometry of the link, from which region sizes are derived.
type Config struct {
	Window         int
	Channels       int
	ChannelBufSize int
	PoolSize       int
	MqtSlots       int
	MqtMsgSize     int
}

// ConfigFrom extracts layout parameters from the link configuration.
func ConfigFrom(cfg dsplink.Config) Config {
	return Config{
		Window:         cfg.WindowSize,
		Channels:       cfg.Channels,
		ChannelBufSize: cfg.ChannelBufSize,
		PoolSize:       cfg.PoolSize,
		MqtSlots:       cfg.MqtSlots,
		MqtMsgSize:     cfg.MqtMsgSize,
	}
}

// MqtSlotSize returns the size of a transport slot for the given message size.
func MqtSlotSize(msgSize int) int {
	return MqtMsgHeaderSize + dsplink.AlignUp(msgSize, dsplink.WordAlign)
}

// MqtRingSize returns the size of one transport ring.
func MqtRingSize(slots, msgSize int) int {
	return MqtRingHeaderSize + slots*MqtSlotSize(msgSize)
}

// StagingSize returns the size of the staging area of one channel.
func StagingSize(bufSize int) int {
	return dsplink.AlignUp(bufSize, dsplink.WordAlign)
}

// Specs returns sizes of all regions in placement order.
func (c Config) Specs() []Spec {
	return []Spec{
		{ID: DrvCtrl, Size: DrvCtrlSize},
		{ID: IpsCtrl, Size: IpsCtrlSize},
		{ID: IpsIrp, Size: c.Channels * IrpSize},
		{ID: ZcpyData, Size: c.Channels * StagingSize(c.ChannelBufSize)},
		{ID: SmaPool, Size: dsplink.AlignUp(c.PoolSize, dsplink.WordAlign)},
		{ID: MqtCtrl, Size: 2 * MqtRingSize(c.MqtSlots, c.MqtMsgSize)},
	}
}

// NewLayout computes the layout for the configuration.
func NewLayout(c Config) (Layout, error) {
	if c.ChannelBufSize > dsplink.ZcpyDataMaxBufSize {
		return Layout{}, errors.Wrapf(dsplink.ErrInvalidArgument, "layout: channel staging is capped at %d bytes", dsplink.ZcpyDataMaxBufSize)
	}
	return Compute(c.Window, c.Specs())
}
