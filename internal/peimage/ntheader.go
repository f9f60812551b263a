// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import "github.com/cyberbisson/pstack-sub001/internal/perr"

// FileHeader mirrors IMAGE_FILE_HEADER: the COFF header that immediately
// follows the PE signature.
type FileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

// DataDirectory is one entry of the 16-slot optional-header directory
// table: an RVA plus the size in bytes of whatever it points at.
type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

const numberOfDirectoryEntries = 16

// OptionalHeader32 is the subset of IMAGE_OPTIONAL_HEADER (PE32) this
// reader needs: the preferred image base and the data directory array.
type OptionalHeader32 struct {
	Magic                  uint16
	MajorLinkerVersion     uint8
	MinorLinkerVersion     uint8
	SizeOfCode             uint32
	SizeOfInitializedData  uint32
	SizeOfUninitializedData uint32
	AddressOfEntryPoint    uint32
	BaseOfCode             uint32
	BaseOfData             uint32
	ImageBase              uint32
	SectionAlignment       uint32
	FileAlignment          uint32
	MajorOSVersion         uint16
	MinorOSVersion         uint16
	MajorImageVersion      uint16
	MinorImageVersion      uint16
	MajorSubsystemVersion  uint16
	MinorSubsystemVersion  uint16
	Win32VersionValue      uint32
	SizeOfImage            uint32
	SizeOfHeaders          uint32
	CheckSum               uint32
	Subsystem              uint16
	DllCharacteristics     uint16
	SizeOfStackReserve     uint32
	SizeOfStackCommit      uint32
	SizeOfHeapReserve      uint32
	SizeOfHeapCommit       uint32
	LoaderFlags            uint32
	NumberOfRvaAndSizes    uint32
	DataDirectory          [numberOfDirectoryEntries]DataDirectory
}

// OptionalHeader64 is the PE32+ variant: identical except ImageBase and the
// stack/heap reserve/commit sizes widen to 64 bits and BaseOfData is absent.
type OptionalHeader64 struct {
	Magic                  uint16
	MajorLinkerVersion     uint8
	MinorLinkerVersion     uint8
	SizeOfCode             uint32
	SizeOfInitializedData  uint32
	SizeOfUninitializedData uint32
	AddressOfEntryPoint    uint32
	BaseOfCode             uint32
	ImageBase              uint64
	SectionAlignment       uint32
	FileAlignment          uint32
	MajorOSVersion         uint16
	MinorOSVersion         uint16
	MajorImageVersion      uint16
	MinorImageVersion      uint16
	MajorSubsystemVersion  uint16
	MinorSubsystemVersion  uint16
	Win32VersionValue      uint32
	SizeOfImage            uint32
	SizeOfHeaders          uint32
	CheckSum               uint32
	Subsystem              uint16
	DllCharacteristics     uint16
	SizeOfStackReserve     uint64
	SizeOfStackCommit      uint64
	SizeOfHeapReserve      uint64
	SizeOfHeapCommit       uint64
	LoaderFlags            uint32
	NumberOfRvaAndSizes    uint32
	DataDirectory          [numberOfDirectoryEntries]DataDirectory
}

// parseNTHeader parses IMAGE_NT_HEADERS: validates the PE signature,
// rejects the handful of non-PE signatures a DOS stub can also carry
// (NE/LE/LX/TE), and reads whichever optional header variant (PE32 or
// PE32+) the magic indicates.
func (f *File) parseNTHeader() error {
	ntOffset := f.dos.AddressOfNewEXEHeader
	signature, err := f.readUint32(ntOffset)
	if err != nil {
		return perr.NewImageFormatError("NT header offset out of range")
	}

	switch signature & 0xFFFF {
	case imageOS2Signature:
		return perr.NewImageFormatError("not a PE image: NE signature found")
	case imageOS2LE:
		return perr.NewImageFormatError("not a PE image: LE/LX signature found")
	case imageTESignature:
		return perr.NewImageFormatError("not a PE image: TE signature found")
	}
	if signature != imageNTSignature {
		return perr.NewImageFormatError("PE signature not found")
	}

	fileHeaderOffset := ntOffset + 4
	fileHeaderSize := uint32(structSize(FileHeader{}))
	var fh FileHeader
	if err := f.structUnpack(&fh, fileHeaderOffset, fileHeaderSize); err != nil {
		return err
	}
	f.fileHeader = fh

	optHeaderOffset := fileHeaderOffset + fileHeaderSize
	magic, err := f.readUint16(optHeaderOffset)
	if err != nil {
		return err
	}

	switch magic {
	case imageNtOptionalHdr64Magic:
		var oh OptionalHeader64
		if err := f.structUnpack(&oh, optHeaderOffset, uint32(structSize(oh))); err != nil {
			return err
		}
		f.is64 = true
		f.opt64 = oh
		f.preferredBase = oh.ImageBase
	case imageNtOptionalHdr32Magic:
		var oh OptionalHeader32
		if err := f.structUnpack(&oh, optHeaderOffset, uint32(structSize(oh))); err != nil {
			return err
		}
		f.opt32 = oh
		f.preferredBase = uint64(oh.ImageBase)
	default:
		return perr.NewImageFormatError("optional header magic not found")
	}

	return nil
}

// dataDirectory returns directory index idx from whichever optional header
// variant was parsed.
func (f *File) dataDirectory(idx int) DataDirectory {
	if f.is64 {
		return f.opt64.DataDirectory[idx]
	}
	return f.opt32.DataDirectory[idx]
}
