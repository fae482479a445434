// Copyright 2016 Aleksandr Demakin. All rights reserved.

package chnl

import (
	"github.com/nxgtw/go-dsplink/internal/allocator"
)

// slot states.
const (
	stateIdle uint32 = iota
	stateInputReady
	// stateStaging means the output side is copying data into the staging area.
	stateStaging
	stateDataReady
)

// irp is the request slot of a channel.
//	0 state 4 capacity 8 size 12 arg 16 seq
type irp struct {
	state    allocator.Word
	capacity allocator.Word
	size     allocator.Word
	arg      allocator.Word
	seq      allocator.Word
}

func newIrp(mem []byte) irp {
	w := allocator.Words(mem, 0, 5)
	return irp{state: w[0], capacity: w[1], size: w[2], arg: w[3], seq: w[4]}
}

// copyData copies src into dst, swapping bytes of every 16-bit unit if swap is true.
// A trailing odd byte is copied as is.
func copyData(dst, src []byte, swap bool) int {
	n := copy(dst, src)
	if !swap {
		return n
	}
	for i := 0; i+1 < n; i += 2 {
		dst[i], dst[i+1] = src[i+1], src[i]
	}
	return n
}
