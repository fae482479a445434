// Copyright 2016 Aleksandr Demakin. All rights reserved.

package shm

import (
	"github.com/nxgtw/go-dsplink"

	"github.com/pkg/errors"
)

// Region is a mapped shared window partitioned by a layout.
type Region struct {
	layout Layout
	data   []byte
}

// Map maps a zeroed window of the layout's size.
func Map(l Layout) (*Region, error) {
	if l.Window() <= 0 {
		return nil, errors.Wrap(dsplink.ErrInvalidArgument, "shm: empty window")
	}
	data, err := mapWindow(l.Window())
	if err != nil {
		return nil, errors.Wrap(err, "shm: failed to map the window")
	}
	return &Region{layout: l, data: data}, nil
}

// Layout returns the layout of the region.
func (r *Region) Layout() Layout {
	return r.layout
}

// Data returns the whole window.
func (r *Region) Data() []byte {
	return r.data
}

// Area returns the memory of a sub-region. Its capacity is limited by the region size,
// so appending to it never touches the next region.
func (r *Region) Area(id RegionID) []byte {
	off, size := r.layout.Offset(id), r.layout.Size(id)
	return r.data[off : off+size : off+size]
}

// Close unmaps the window.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	err := unmapWindow(r.data)
	r.data = nil
	if err != nil {
		return errors.Wrap(err, "shm: failed to unmap the window")
	}
	return nil
}
