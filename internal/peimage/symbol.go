// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import (
	"encoding/binary"
	"strings"

	"github.com/cyberbisson/pstack-sub001/internal/perr"
)

// COFFSymbol is one 18-byte record of the COFF symbol table inherited from
// the traditional object-file format. A standard record defines a symbol or
// name; it may be followed by NumberOfAuxSymbols auxiliary records that
// this reader skips over without interpreting.
type COFFSymbol struct {
	Name               [8]byte
	Value              uint32
	SectionNumber      int16
	Type               uint16
	StorageClass       uint8
	NumberOfAuxSymbols uint8
}

// IsFunction reports whether the symbol's Type encodes "function" (the
// ISFCN test: the derived-type bits equal DT_FUNCTION). Records that are
// not functions, or whose Value is zero (no address), are skipped by the
// symbol engine per the resolution algorithm.
func (s COFFSymbol) IsFunction() bool {
	const derivedTypeMask = 0x30
	const dtFunction = 0x20
	return s.Value != 0 && s.Type&derivedTypeMask == dtFunction
}

// COFFSymbolTable holds the parsed symbol records plus the string table
// backing any "long name" (>8 byte) symbol.
type COFFSymbolTable struct {
	Symbols           []COFFSymbol
	stringTableOffset uint32
	stringTable       map[uint32]string
}

// Name resolves a symbol's name: a short name is the 8 inline bytes
// (NUL-padded, not NUL-terminated when exactly 8 bytes long); a long name
// is an offset into the string table, tested by the first 4 bytes of Name
// being zero.
func (t *COFFSymbolTable) Name(sym COFFSymbol) string {
	short := binary.LittleEndian.Uint32(sym.Name[:4])
	if short != 0 {
		return strings.TrimRight(string(sym.Name[:]), "\x00")
	}
	long := binary.LittleEndian.Uint32(sym.Name[4:])
	return t.stringTable[t.stringTableOffset+long]
}

// parseCOFFSymbolTable reads the COFF symbol table the file header points
// at, then the string table immediately following it.
func (f *File) parseCOFFSymbolTable() error {
	pointerToSymbolTable := f.fileHeader.PointerToSymbolTable
	if pointerToSymbolTable == 0 {
		return perr.NewImageFormatError("no COFF symbol table present")
	}

	symCount := f.fileHeader.NumberOfSymbols
	if symCount == 0 {
		return nil
	}
	if symCount > maxDefaultCOFFSymbolsCount {
		return perr.NewImageFormatError("COFF symbol count %d exceeds limit", symCount)
	}

	// Auxiliary records follow their primary record in the table and share
	// its 18-byte layout without being symbols themselves; each primary
	// declares how many to skip.
	recordSize := uint32(structSize(COFFSymbol{}))
	symbols := make([]COFFSymbol, 0, symCount)
	offset := pointerToSymbolTable
	for i := uint32(0); i < symCount; {
		var sym COFFSymbol
		if err := f.structUnpack(&sym, offset, recordSize); err != nil {
			return err
		}
		symbols = append(symbols, sym)
		skip := uint32(sym.NumberOfAuxSymbols) + 1
		i += skip
		offset += recordSize * skip
	}

	table := &COFFSymbolTable{Symbols: symbols, stringTableOffset: pointerToSymbolTable + recordSize*symCount}
	if err := f.parseCOFFStringTable(table); err != nil {
		f.logger.Debugf("peimage: COFF string table: %v", err)
	}
	f.coff = table
	return nil
}

// parseCOFFStringTable reads the NUL-terminated strings following the COFF
// symbol table. The table is prefixed by a 4-byte total-size field; a value
// of 4 or less means no strings are present.
func (f *File) parseCOFFStringTable(table *COFFSymbolTable) error {
	size, err := f.readUint32(table.stringTableOffset)
	if err != nil {
		return err
	}
	if size <= 4 {
		return nil
	}

	m := make(map[uint32]string)
	offset := table.stringTableOffset + 4
	end := table.stringTableOffset + size
	for offset < end {
		n, str := f.readASCIIStringAt(offset, maxCOFFSymStrLength)
		if n == 0 {
			break
		}
		m[offset] = str
		offset += n + 1
	}
	table.stringTable = m
	return nil
}
