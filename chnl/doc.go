// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package chnl implements streaming data channels between the GPP and the DSP.
//
// A channel with the same id is created on both processors, as an output on one side
// and as an input on the other. Buffers are issued to a channel and reclaimed when
// the transfer completes. Data is moved through the staging area of the channel in ZCPYDATA,
// the handoff is controlled by the channel's request slot in SHMIPS_IRP:
//	input:  Idle -> InputReady       the capacity of the first pending buffer is posted
//	output: InputReady -> DataReady  min(length, capacity) bytes are staged
//	input:  DataReady -> Idle        the staged data is copied, the buffer is completed
// Every transition is followed by an ips.EventChannel doorbell with the channel id.
package chnl
