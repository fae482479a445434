// Copyright 2016 Aleksandr Demakin. All rights reserved.

package msgq

import (
	"encoding/binary"

	"github.com/nxgtw/go-dsplink"

	"github.com/pkg/errors"
)

// AsyncErrorMsgID is the id of messages posted to the error queue.
const AsyncErrorMsgID = 0xFF00

// AsyncErrorKind describes an asynchronous failure.
type AsyncErrorKind uint16

const (
	// ErrorDeliveryFailed means a remote message could not be placed into a local queue.
	ErrorDeliveryFailed AsyncErrorKind = iota + 1
	// ErrorTransport means the transport lost a message.
	ErrorTransport
)

const asyncErrorSize = 8

// AsyncError is the payload of an error queue message.
type AsyncError struct {
	Kind  AsyncErrorKind
	Queue Handle
	Code  uint16
}

func (e AsyncError) encode(b []byte) {
	binary.LittleEndian.PutUint16(b[0:], uint16(e.Kind))
	binary.LittleEndian.PutUint16(b[2:], e.Queue.Proc)
	binary.LittleEndian.PutUint16(b[4:], e.Queue.ID)
	binary.LittleEndian.PutUint16(b[6:], e.Code)
}

// ParseAsyncError decodes an error queue message.
func ParseAsyncError(m *Msg) (AsyncError, error) {
	if m.ID() != AsyncErrorMsgID || m.Size() < asyncErrorSize {
		return AsyncError{}, errors.Wrap(dsplink.ErrInvalidArgument, "not an async error message")
	}
	b := m.Data()
	return AsyncError{
		Kind:  AsyncErrorKind(binary.LittleEndian.Uint16(b[0:])),
		Queue: Handle{Proc: binary.LittleEndian.Uint16(b[2:]), ID: binary.LittleEndian.Uint16(b[4:])},
		Code:  binary.LittleEndian.Uint16(b[6:]),
	}, nil
}

// error codes carried in AsyncError.Code.
const (
	codeUnknown uint16 = iota
	codeOutOfMemory
	codeNotFound
	codeFull
	codeHardware
)

// ErrorCode maps an error to the code put into an async error message.
func ErrorCode(err error) uint16 {
	switch {
	case dsplink.Is(err, dsplink.ErrOutOfMemory):
		return codeOutOfMemory
	case dsplink.Is(err, dsplink.ErrNotFound):
		return codeNotFound
	case dsplink.Is(err, dsplink.ErrFull):
		return codeFull
	case dsplink.Is(err, dsplink.ErrHardwareFailure):
		return codeHardware
	}
	return codeUnknown
}

// CodeError maps an async error code back to a sentinel error.
func CodeError(code uint16) error {
	switch code {
	case codeOutOfMemory:
		return dsplink.ErrOutOfMemory
	case codeNotFound:
		return dsplink.ErrNotFound
	case codeFull:
		return dsplink.ErrFull
	case codeHardware:
		return dsplink.ErrHardwareFailure
	}
	return errors.New("unknown error")
}
