// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package transport implements message queue transports.
//
// Link passes messages between the two sides of a link.Endpoint pair through
// two rings placed into the MQTCTRL region, one per direction.
// Every written frame is followed by an ips.EventMsgq doorbell.
// Message bytes are copied into the ring, so the sender's buffer is freed right after Put.
//
// Null refuses all the operations with dsplink.ErrNotImplemented.
package transport
