// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import (
	"bytes"
	"encoding/binary"
	"reflect"

	"github.com/cyberbisson/pstack-sub001/internal/perr"
)

// structSize returns the on-disk size in bytes of a fixed-layout struct as
// encoding/binary would read or write it. Every struct passed through here
// is composed solely of fixed-width integers and byte arrays, so this never
// needs struct tags or custom encoders.
func structSize(v any) int {
	return binary.Size(v)
}

// structUnpack decodes a little-endian, fixed-layout struct out of the
// image at the given file offset, first bounds-checking the read against
// the mapped length. Every header parser in this package goes through here
// so a truncated or malicious file turns into an ImageFormatError instead
// of a panic.
func (f *File) structUnpack(v any, offset, size uint32) error {
	end := uint64(offset) + uint64(size)
	if end > uint64(f.size) {
		return perr.NewImageFormatError("read of %d bytes at offset %#x exceeds image size %#x", size, offset, f.size)
	}
	r := bytes.NewReader(f.data[offset:end])
	if err := binary.Read(r, binary.LittleEndian, v); err != nil {
		return perr.NewImageFormatError("decoding %s at offset %#x: %v", reflect.TypeOf(v), offset, err)
	}
	return nil
}

// readUint8 reads a single byte at offset.
func (f *File) readUint8(offset uint32) (uint8, error) {
	if uint64(offset)+1 > uint64(f.size) {
		return 0, perr.NewImageFormatError("read of 1 byte at offset %#x exceeds image size %#x", offset, f.size)
	}
	return f.data[offset], nil
}

// readUint16 reads a little-endian uint16 at offset.
func (f *File) readUint16(offset uint32) (uint16, error) {
	if uint64(offset)+2 > uint64(f.size) {
		return 0, perr.NewImageFormatError("read of 2 bytes at offset %#x exceeds image size %#x", offset, f.size)
	}
	return binary.LittleEndian.Uint16(f.data[offset : offset+2]), nil
}

// readUint32 reads a little-endian uint32 at offset.
func (f *File) readUint32(offset uint32) (uint32, error) {
	if uint64(offset)+4 > uint64(f.size) {
		return 0, perr.NewImageFormatError("read of 4 bytes at offset %#x exceeds image size %#x", offset, f.size)
	}
	return binary.LittleEndian.Uint32(f.data[offset : offset+4]), nil
}

// readUint64 reads a little-endian uint64 at offset.
func (f *File) readUint64(offset uint32) (uint64, error) {
	if uint64(offset)+8 > uint64(f.size) {
		return 0, perr.NewImageFormatError("read of 8 bytes at offset %#x exceeds image size %#x", offset, f.size)
	}
	return binary.LittleEndian.Uint64(f.data[offset : offset+8]), nil
}

// readBytesAt returns a copy of n bytes at offset.
func (f *File) readBytesAt(offset, n uint32) ([]byte, error) {
	end := uint64(offset) + uint64(n)
	if end > uint64(f.size) {
		return nil, perr.NewImageFormatError("read of %d bytes at offset %#x exceeds image size %#x", n, offset, f.size)
	}
	out := make([]byte, n)
	copy(out, f.data[offset:end])
	return out, nil
}

// readASCIIStringAt reads a NUL-terminated ASCII string starting at offset,
// never scanning past maxLen bytes or the end of the image. It returns the
// number of bytes consumed up to (but not including) the terminator, and
// the decoded string; a return of (0, "") means no string could be read.
func (f *File) readASCIIStringAt(offset, maxLen uint32) (uint32, string) {
	limit := offset + maxLen
	if uint64(limit) > uint64(f.size) {
		limit = f.size
	}
	if offset >= limit {
		return 0, ""
	}
	end := offset
	for end < limit && f.data[end] != 0 {
		end++
	}
	return end - offset, string(f.data[offset:end])
}
