// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package msgq implements named message queues.
// Queues live in a per-processor Registry. Message buffers come from pluggable allocators,
// messages for queues of another processor are passed to a pluggable transport.
// The registry itself never moves message bytes, it only dispatches:
//	Alloc/Free  -> the allocator the message came from
//	Put/Locate  -> the transport of the destination processor
//	Get         -> the local queue
package msgq
