// Copyright 2016 Aleksandr Demakin. All rights reserved.

package dsplink

import (
	"github.com/pkg/errors"
)

// status codes shared by all link components.
// components wrap them with errors.Wrap, use Is or errors.Cause to classify.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrOutOfMemory     = errors.New("out of memory")
	ErrFull            = errors.New("no free slot")
	ErrNotFound        = errors.New("not found")
	ErrTimeout         = errors.New("timeout")
	ErrAlreadyExists   = errors.New("already exists")
	ErrAlreadyAttached = errors.New("already attached")
	ErrAlreadySetup    = errors.New("already set up")
	ErrWrongState      = errors.New("wrong state")
	ErrHardwareFailure = errors.New("hardware failure")
	ErrNotImplemented  = errors.New("not implemented")
)

// Is returns true, if the root cause of err is target.
func Is(err, target error) bool {
	return err != nil && errors.Cause(err) == target
}

// Succeeded returns true for nil and for informational statuses,
// which report that the operation had been already done before.
func Succeeded(err error) bool {
	if err == nil {
		return true
	}
	cause := errors.Cause(err)
	return cause == ErrAlreadyAttached || cause == ErrAlreadySetup
}

// IsTemporary returns true, if the operation may succeed if retried later.
func IsTemporary(err error) bool {
	cause := errors.Cause(err)
	return cause == ErrFull || cause == ErrTimeout || cause == ErrOutOfMemory
}
