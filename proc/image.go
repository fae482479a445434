// Copyright 2016 Aleksandr Demakin. All rights reserved.

package proc

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/nxgtw/go-dsplink"

	"github.com/pkg/errors"
)

// Image is an executable ready to be placed into DSP memory.
type Image struct {
	// Entry is the address execution starts from.
	Entry uint32
	// LoadAddr is the DSP address of the first byte of Data.
	LoadAddr uint32
	Args     []string
	Data     []byte
}

// Loader reads images.
type Loader interface {
	Load(path string) (*Image, error)
}

// FlatMagic starts every flat image.
const FlatMagic = 0x464C4154

// flat image layout, all fields are little-endian uint32:
//	magic entry loadAddr argc {len bytes}*argc dataLen data
const maxFlatArgs = 32

// FlatLoader reads flat images from files.
type FlatLoader struct{}

// Load reads the image file at path.
func (FlatLoader) Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read image %q", path)
	}
	img, err := ParseFlatImage(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid image %q", path)
	}
	return img, nil
}

// ParseFlatImage decodes a flat image.
func ParseFlatImage(data []byte) (*Image, error) {
	r := flatReader{data: data}
	if magic := r.word(); magic != FlatMagic {
		return nil, errors.Wrapf(dsplink.ErrInvalidArgument, "bad magic %#x", magic)
	}
	img := &Image{Entry: r.word(), LoadAddr: r.word()}
	argc := int(r.word())
	if argc > maxFlatArgs {
		return nil, errors.Wrapf(dsplink.ErrInvalidArgument, "too many arguments: %d", argc)
	}
	for i := 0; i < argc && r.err == nil; i++ {
		img.Args = append(img.Args, string(r.bytes()))
	}
	img.Data = r.bytes()
	if r.err != nil {
		return nil, r.err
	}
	return img, nil
}

// WriteFlatImage encodes img as a flat image.
func WriteFlatImage(w io.Writer, img *Image) error {
	if len(img.Args) > maxFlatArgs {
		return errors.Wrapf(dsplink.ErrInvalidArgument, "too many arguments: %d", len(img.Args))
	}
	buf := binary.LittleEndian.AppendUint32(nil, FlatMagic)
	buf = binary.LittleEndian.AppendUint32(buf, img.Entry)
	buf = binary.LittleEndian.AppendUint32(buf, img.LoadAddr)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(img.Args)))
	for _, arg := range img.Args {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(arg)))
		buf = append(buf, arg...)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(img.Data)))
	buf = append(buf, img.Data...)
	_, err := w.Write(buf)
	return errors.Wrap(err, "failed to write the image")
}

type flatReader struct {
	data []byte
	err  error
}

func (r *flatReader) word() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.data) < 4 {
		r.err = errors.Wrap(dsplink.ErrInvalidArgument, "image is truncated")
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data)
	r.data = r.data[4:]
	return v
}

func (r *flatReader) bytes() []byte {
	n := int(r.word())
	if r.err != nil {
		return nil
	}
	if n > len(r.data) {
		r.err = errors.Wrap(dsplink.ErrInvalidArgument, "image is truncated")
		return nil
	}
	result := r.data[:n:n]
	r.data = r.data[n:]
	return result
}
