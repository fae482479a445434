// Copyright 2016 Aleksandr Demakin. All rights reserved.

package dsplink

import "time"

// processor configuration
const (
	// MaxDsps is the number of DSPs supported by the link.
	MaxDsps = 1
	// MaxProcessors is the number of processors taking part in the link, including the GPP.
	MaxProcessors = MaxDsps + 1
	// IDGpp is the processor id of the GPP. DSPs are numbered starting from 0.
	IDGpp = MaxDsps
	// IDDsp is the processor id of the only DSP.
	IDDsp = 0
)

// message queue configuration
const (
	// MaxMsgqs is the maximum number of queues per processor.
	MaxMsgqs = 16
	// MaxAllocators is the size of the allocator table.
	MaxAllocators = 4
	// MaxMqts is the size of the transport table, one entry per processor.
	MaxMqts = MaxProcessors
	// MaxQueueNameLen is the maximum length of a queue name.
	MaxQueueNameLen = 32
	// InvalidMqaID marks an unset allocator id.
	InvalidMqaID = ^uint16(0)
	// InvalidMqtID marks an unset transport id.
	InvalidMqtID = ^uint16(0)
	// InvalidQueueID marks an unset queue id.
	InvalidQueueID = ^uint16(0)
)

// channel configuration
const (
	// MaxChannels is the number of data channels per processor.
	MaxChannels = 16
	// MaxBuffers is the maximum number of buffers a channel may own.
	MaxBuffers = 100
	// ZcpyDataMaxBufSize is the maximum size of a single channel transfer.
	ZcpyDataMaxBufSize = 16384
)

// memory configuration
const (
	// DspMauSize is the size of the minimum addressable unit on the DSP.
	DspMauSize = 2
	// BufAlign is the alignment of buffers placed into shared memory.
	BufAlign = 128
	// WordAlign is the alignment of every sub-region of the shared window.
	WordAlign = 8
)

// timeouts
const (
	// WaitNone makes a blocking operation poll once and return immediately.
	WaitNone time.Duration = 0
	// WaitForever makes a blocking operation wait without a time limit.
	WaitForever time.Duration = -1
)

// Endianism is the byte order of data exchanged with a processor.
type Endianism int

// byte orders
const (
	EndianDefault Endianism = iota
	EndianLittle
	EndianBig
)

// AlignUp rounds size up to the given power of two alignment.
func AlignUp(size, align int) int {
	return (size + align - 1) &^ (align - 1)
}
