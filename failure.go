// Copyright 2016 Aleksandr Demakin. All rights reserved.

package dsplink

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
)

// Failure describes a recorded failure.
type Failure struct {
	Err  error
	File string
	Line int
}

func (f Failure) String() string {
	return fmt.Sprintf("%s:%d: %v", f.File, f.Line, f.Err)
}

// FailureLatch keeps the first failure reported to it.
// Subsequent failures, which are usually caused by the first one, are counted, but not stored.
// The zero value is ready to use.
type FailureLatch struct {
	mu      sync.Mutex
	first   *Failure
	dropped int
}

// Set records err, if no failure has been recorded yet.
// It returns true, if err has been stored.
func (l *FailureLatch) Set(err error) bool {
	return l.set(err, 2)
}

func (l *FailureLatch) set(err error, skip int) bool {
	if err == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.first != nil {
		l.dropped++
		return false
	}
	f := &Failure{Err: err}
	if _, file, line, ok := runtime.Caller(skip); ok {
		f.File, f.Line = filepath.Base(file), line
	}
	l.first = f
	return true
}

// First returns the first recorded failure.
func (l *FailureLatch) First() (Failure, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.first == nil {
		return Failure{}, false
	}
	return *l.first, true
}

// Dropped returns the number of failures reported after the first one.
func (l *FailureLatch) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Reset clears the latch.
func (l *FailureLatch) Reset() {
	l.mu.Lock()
	l.first, l.dropped = nil, 0
	l.mu.Unlock()
}

// Fatal records err, logs the first failure and panics.
// It is used instead of halting the processor in a tight loop.
func (l *FailureLatch) Fatal(err error) {
	l.set(err, 2)
	first, _ := l.First()
	Logf("fatal: %v (first failure at %s)", err, first)
	panic(err)
}
