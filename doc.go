// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package dsplink provides inter-processor communication between a general purpose
// processor (GPP) and a DSP co-processor sharing a block of physical memory.
// It implements the following mechanisms:
//	shared memory window with a fixed layout (shm)
//	mailbox doorbell interrupts (mailbox, ips)
//	named message queues with pluggable allocators and transports (msgq)
//	issue/reclaim streaming channels (chnl)
//	processor lifecycle control (proc)
// This package holds the constants, configuration and status codes shared by all of them.
package dsplink
