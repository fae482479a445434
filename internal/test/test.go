// Copyright 2015 Aleksandr Demakin. All rights reserved.

// Package linktest contains helpers for tests, which run both sides of a link.
package linktest

import (
	"time"
)

// WaitForFunc calls f asynchronously leaving it some time to finish.
// It returns true, if f completed.
func WaitForFunc(f func(), d time.Duration) bool {
	ch := make(chan bool, 1)
	go func() {
		f()
		ch <- true
	}()
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}

// WaitFor polls cond until it returns true or d elapses.
func WaitFor(cond func() bool, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// Pattern returns n bytes, which differ for different seeds and positions.
func Pattern(n int, seed byte) []byte {
	result := make([]byte, n)
	for i := range result {
		result[i] = byte(i*7) ^ seed
	}
	return result
}
