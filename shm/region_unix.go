// Copyright 2016 Aleksandr Demakin. All rights reserved.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package shm

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func mapWindow(size int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(err, "mmap failed")
	}
	return data, nil
}

func unmapWindow(data []byte) error {
	if err := unix.Munmap(data); err != nil {
		return errors.Wrap(err, "munmap failed")
	}
	return nil
}
