// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import "github.com/cyberbisson/pstack-sub001/internal/perr"

// DOSHeader is the MS-DOS stub every PE image begins with. The reader keeps
// the full on-disk layout (matching IMAGE_DOS_HEADER) even though only
// Magic and AddressOfNewEXEHeader are consulted, so structUnpack reads a
// single correctly-sized block.
type DOSHeader struct {
	Magic                    uint16
	BytesOnLastPageOfFile    uint16
	PagesInFile              uint16
	Relocations              uint16
	SizeOfHeader             uint16
	MinExtraParagraphsNeeded uint16
	MaxExtraParagraphsNeeded uint16
	InitialSS                uint16
	InitialSP                uint16
	Checksum                 uint16
	InitialIP                uint16
	InitialCS                uint16
	AddressOfRelocationTable uint16
	OverlayNumber            uint16
	ReservedWords1           [4]uint16
	OEMIdentifier            uint16
	OEMInformation           uint16
	ReservedWords2           [10]uint16
	AddressOfNewEXEHeader    uint32
}

// parseDOSHeader validates the DOS stub and locates the NT header offset.
func (f *File) parseDOSHeader() error {
	var hdr DOSHeader
	if err := f.structUnpack(&hdr, 0, uint32(structSize(hdr))); err != nil {
		return err
	}

	if hdr.Magic != imageDOSSignature && hdr.Magic != imageDOSZMSignature {
		return perr.NewImageFormatError("DOS header magic not found")
	}

	if hdr.AddressOfNewEXEHeader < 4 || hdr.AddressOfNewEXEHeader > f.size {
		return perr.NewImageFormatError("invalid e_lfanew value %#x", hdr.AddressOfNewEXEHeader)
	}

	f.dos = hdr
	return nil
}
