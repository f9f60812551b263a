// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import "sort"

// SectionHeader mirrors IMAGE_SECTION_HEADER.
type SectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLineNumbers uint32
	NumberOfRelocations  uint16
	NumberOfLineNumbers  uint16
	Characteristics      uint32
}

// Section is one entry of the section table, in the order the image
// declares it (not sorted).
type Section struct {
	Header SectionHeader
}

// Name returns the section's 8-byte name with trailing NULs stripped.
func (s Section) Name() string {
	n := 0
	for n < len(s.Header.Name) && s.Header.Name[n] != 0 {
		n++
	}
	return string(s.Header.Name[:n])
}

// Contains reports whether rva falls within this section's mapped virtual
// range.
func (s Section) Contains(rva uint32) bool {
	size := s.Header.VirtualSize
	if size == 0 {
		size = s.Header.SizeOfRawData
	}
	return s.Header.VirtualAddress <= rva && rva < s.Header.VirtualAddress+size
}

// parseSectionHeader reads the section table, which immediately follows the
// optional header, and keeps it both in file order and sorted by virtual
// address for RVA-to-offset translation.
func (f *File) parseSectionHeader() error {
	optHeaderOffset := f.dos.AddressOfNewEXEHeader + 4 + uint32(structSize(FileHeader{}))
	offset := optHeaderOffset + uint32(f.fileHeader.SizeOfOptionalHeader)

	headerSize := uint32(structSize(SectionHeader{}))
	for i := uint16(0); i < f.fileHeader.NumberOfSections; i++ {
		var hdr SectionHeader
		if err := f.structUnpack(&hdr, offset, headerSize); err != nil {
			return err
		}
		f.sections = append(f.sections, Section{Header: hdr})
		offset += headerSize
	}

	sorted := make([]Section, len(f.sections))
	copy(sorted, f.sections)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Header.VirtualAddress < sorted[j].Header.VirtualAddress
	})
	f.sectionsByVA = sorted

	return nil
}

// sectionForRVA returns the section containing rva, or nil if none does.
func (f *File) sectionForRVA(rva uint32) *Section {
	for i := range f.sectionsByVA {
		if f.sectionsByVA[i].Contains(rva) {
			return &f.sectionsByVA[i]
		}
	}
	return nil
}

// offsetFromRVA translates a relative virtual address into a file offset by
// locating its owning section; RVAs that fall before any section (header
// data) pass through unchanged.
func (f *File) offsetFromRVA(rva uint32) uint32 {
	section := f.sectionForRVA(rva)
	if section == nil {
		return rva
	}
	return rva - section.Header.VirtualAddress + section.Header.PointerToRawData
}
