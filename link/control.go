// Copyright 2016 Aleksandr Demakin. All rights reserved.

package link

import (
	"time"

	"github.com/nxgtw/go-dsplink"
	"github.com/nxgtw/go-dsplink/internal/allocator"
	"github.com/nxgtw/go-dsplink/shm"

	"github.com/pkg/errors"
)

// driver control block layout.
const (
	ctrlMagicOff    = 0
	ctrlVersionOff  = 4
	ctrlReadyOff    = 8 // one word per processor
	ctrlEntryOff    = ctrlReadyOff + 4*dsplink.MaxProcessors
	ctrlMMUCountOff = ctrlEntryOff + 4
	ctrlMMUOff      = 32
	mmuEntryWords   = 3

	ctrlMagic   = 0x4C4E4B31
	ctrlVersion = 1
)

// Control is the driver bootstrap block placed at the start of the window.
// The GPP writes the entry point and the MMU table before releasing the DSP,
// each processor sets its own ready flag once its link components are initialized.
type Control struct {
	magic, version allocator.Word
	ready          []allocator.Word
	entry          allocator.Word
	mmuCount       allocator.Word
	mmu            []allocator.Word
}

func newControl(mem []byte) *Control {
	if len(mem) < ctrlMMUOff+dsplink.MaxMMUEntries*mmuEntryWords*4 || len(mem) > shm.DrvCtrlSize {
		panic("invalid driver control block size")
	}
	return &Control{
		magic:    allocator.WordAt(mem, ctrlMagicOff),
		version:  allocator.WordAt(mem, ctrlVersionOff),
		ready:    allocator.Words(mem, ctrlReadyOff, dsplink.MaxProcessors),
		entry:    allocator.WordAt(mem, ctrlEntryOff),
		mmuCount: allocator.WordAt(mem, ctrlMMUCountOff),
		mmu:      allocator.Words(mem, ctrlMMUOff, dsplink.MaxMMUEntries*mmuEntryWords),
	}
}

func (c *Control) init() {
	c.Reset()
	c.version.Store(ctrlVersion)
	c.magic.Store(ctrlMagic)
}

// Valid returns true, if the block has been initialized by the GPP.
func (c *Control) Valid() bool {
	return c.magic.Load() == ctrlMagic && c.version.Load() == ctrlVersion
}

// Reset clears handshake state, entry point and MMU table.
func (c *Control) Reset() {
	for _, w := range c.ready {
		w.Store(0)
	}
	c.entry.Store(0)
	c.mmuCount.Store(0)
	for _, w := range c.mmu {
		w.Store(0)
	}
}

// SetEntry stores the DSP entry point.
func (c *Control) SetEntry(entry uint32) {
	c.entry.Store(entry)
}

// Entry returns the DSP entry point.
func (c *Control) Entry() uint32 {
	return c.entry.Load()
}

// SetMMU writes the MMU table.
func (c *Control) SetMMU(entries []dsplink.MMUEntry) error {
	if len(entries) > dsplink.MaxMMUEntries {
		return errors.Wrapf(dsplink.ErrInvalidArgument, "link: at most %d mmu entries", dsplink.MaxMMUEntries)
	}
	for i, e := range entries {
		c.mmu[i*mmuEntryWords].Store(e.Virt)
		c.mmu[i*mmuEntryWords+1].Store(e.Phys)
		c.mmu[i*mmuEntryWords+2].Store(e.Size)
	}
	c.mmuCount.Store(uint32(len(entries)))
	return nil
}

// MMU reads the MMU table.
func (c *Control) MMU() []dsplink.MMUEntry {
	n := int(c.mmuCount.Load())
	if n > dsplink.MaxMMUEntries {
		n = dsplink.MaxMMUEntries
	}
	result := make([]dsplink.MMUEntry, n)
	for i := range result {
		result[i] = dsplink.MMUEntry{
			Virt: c.mmu[i*mmuEntryWords].Load(),
			Phys: c.mmu[i*mmuEntryWords+1].Load(),
			Size: c.mmu[i*mmuEntryWords+2].Load(),
		}
	}
	return result
}

// SetReady sets or clears the ready flag of the processor. Only the processor itself writes its flag.
func (c *Control) SetReady(procID int, ready bool) {
	var v uint32
	if ready {
		v = 1
	}
	c.ready[procID].Store(v)
}

// Ready returns the ready flag of the processor.
func (c *Control) Ready(procID int) bool {
	return c.ready[procID].Load() != 0
}

// WaitReady polls the ready flag of the processor until it is set or the timeout elapses.
func (c *Control) WaitReady(procID int, timeout time.Duration) error {
	const maxPollInterval = time.Millisecond * 5
	start := time.Now()
	interval := time.Microsecond * 50
	for !c.Ready(procID) {
		if timeout >= 0 && time.Since(start) >= timeout {
			return errors.Wrapf(dsplink.ErrTimeout, "link: processor %d did not report ready", procID)
		}
		time.Sleep(interval)
		if interval < maxPollInterval {
			interval *= 2
		}
	}
	return nil
}
