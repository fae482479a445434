// Copyright 2016 Aleksandr Demakin. All rights reserved.

package dsplink

import (
	"io"
	"log"
	"os"
	"sync/atomic"
)

var logger atomic.Value

func init() {
	logger.Store(log.New(os.Stderr, "dsplink: ", log.LstdFlags))
}

// SetLogger replaces the logger used by all link components.
// Passing nil discards the output.
func SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}
	logger.Store(l)
}

// Logger returns the current logger.
func Logger() *log.Logger {
	return logger.Load().(*log.Logger)
}

// Logf prints a formatted line to the current logger.
func Logf(format string, args ...interface{}) {
	Logger().Printf(format, args...)
}
