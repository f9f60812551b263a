// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import "encoding/binary"

// imageBuilder assembles a minimal, valid PE32+ image byte-by-byte so tests
// never need a real binary fixture on disk.
type imageBuilder struct {
	buf []byte
}

func newImageBuilder() *imageBuilder {
	return &imageBuilder{buf: make([]byte, 0, 4096)}
}

func (b *imageBuilder) growTo(n int) {
	if len(b.buf) < n {
		b.buf = append(b.buf, make([]byte, n-len(b.buf))...)
	}
}

func (b *imageBuilder) putU16(off int, v uint16) {
	b.growTo(off + 2)
	binary.LittleEndian.PutUint16(b.buf[off:], v)
}

func (b *imageBuilder) putU32(off int, v uint32) {
	b.growTo(off + 4)
	binary.LittleEndian.PutUint32(b.buf[off:], v)
}

func (b *imageBuilder) putU64(off int, v uint64) {
	b.growTo(off + 8)
	binary.LittleEndian.PutUint64(b.buf[off:], v)
}

func (b *imageBuilder) putBytes(off int, data []byte) {
	b.growTo(off + len(data))
	copy(b.buf[off:], data)
}

func (b *imageBuilder) putASCIIZ(off int, s string) {
	b.putBytes(off, append([]byte(s), 0))
}

const (
	testNTOffset      = 0x80
	testFileHdrOffset = testNTOffset + 4
	testOptHdrOffset  = testFileHdrOffset + 20 // sizeof(FileHeader)
	testOptHdrSize64  = 112 + 16*8             // fixed fields + 16 data directories
	testSectionOffset = testOptHdrOffset + testOptHdrSize64
)

// newMinimalPE64 builds a zero-section PE32+ image with a valid DOS header,
// PE signature, file header, and optional header, leaving every data
// directory empty. Callers append sections and directory payloads with the
// returned builder.
func newMinimalPE64() *imageBuilder {
	b := newImageBuilder()

	b.putU16(0, imageDOSSignature)
	b.putU32(0x3c, testNTOffset)

	b.putU32(testNTOffset, imageNTSignature)

	// FileHeader
	b.putU16(testFileHdrOffset+0, 0x8664) // Machine: AMD64
	b.putU16(testFileHdrOffset+2, 0)      // NumberOfSections, patched by addSection
	b.putU16(testFileHdrOffset+16, uint16(testOptHdrSize64))

	// OptionalHeader64
	b.putU16(testOptHdrOffset, imageNtOptionalHdr64Magic)
	b.putU64(testOptHdrOffset+24, 0x180000000) // ImageBase

	b.growTo(testSectionOffset)
	return b
}

// addSection appends one section header at the next free slot and bumps
// NumberOfSections; it does not place any section payload bytes.
func (b *imageBuilder) addSection(name string, va, vsize, rawOffset, rawSize uint32) {
	count, _ := readU16(b.buf, testFileHdrOffset+2)
	off := testSectionOffset + int(count)*40
	b.growTo(off + 40)

	var nameBytes [8]byte
	copy(nameBytes[:], name)
	b.putBytes(off, nameBytes[:])
	b.putU32(off+8, vsize)
	b.putU32(off+12, va)
	b.putU32(off+16, rawSize)
	b.putU32(off+20, rawOffset)

	b.putU16(testFileHdrOffset+2, count+1)
}

func (b *imageBuilder) setDataDirectory(index int, va, size uint32) {
	off := testOptHdrOffset + 112 + index*8
	b.putU32(off, va)
	b.putU32(off+4, size)
}

func readU16(data []byte, off int) (uint16, bool) {
	if off+2 > len(data) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(data[off:]), true
}

func (b *imageBuilder) bytes() []byte {
	return b.buf
}
