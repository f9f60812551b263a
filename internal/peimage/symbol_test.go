// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import "testing"

func TestCOFFSymbolIsFunction(t *testing.T) {
	tests := []struct {
		name string
		sym  COFFSymbol
		want bool
	}{
		{"function with value", COFFSymbol{Value: 0x1000, Type: 0x20}, true},
		{"function type but no address", COFFSymbol{Value: 0, Type: 0x20}, false},
		{"data symbol", COFFSymbol{Value: 0x1000, Type: 0x00}, false},
		{"derived pointer, not function", COFFSymbol{Value: 0x1000, Type: 0x10}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sym.IsFunction(); got != tt.want {
				t.Fatalf("IsFunction() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCOFFSymbolTableShortName(t *testing.T) {
	table := &COFFSymbolTable{}
	sym := COFFSymbol{}
	copy(sym.Name[:], "main")
	if got := table.Name(sym); got != "main" {
		t.Fatalf("Name() = %q, want %q", got, "main")
	}
}

func TestCOFFSymbolTableShortNameExactlyEightBytes(t *testing.T) {
	// an 8-byte name fills the field completely, with no NUL terminator
	table := &COFFSymbolTable{}
	sym := COFFSymbol{}
	copy(sym.Name[:], "ABCDEFGH")
	if got := table.Name(sym); got != "ABCDEFGH" {
		t.Fatalf("Name() = %q, want %q", got, "ABCDEFGH")
	}
}

func TestCOFFSymbolTableLongName(t *testing.T) {
	table := &COFFSymbolTable{
		stringTableOffset: 100,
		stringTable:       map[uint32]string{104: "LongFunctionName"},
	}
	var sym COFFSymbol
	// first 4 bytes zero signals a long name; last 4 bytes hold the
	// string-table-relative offset (4, since stringTableOffset+4=104).
	sym.Name[4] = 4

	if got := table.Name(sym); got != "LongFunctionName" {
		t.Fatalf("Name() = %q, want %q", got, "LongFunctionName")
	}
}

func TestParseCOFFSymbolTable(t *testing.T) {
	b := newMinimalPE64()
	b.addSection(".text", 0x1000, 0x200, 0x400, 0x200)

	const symTableOffset = 0xA00
	b.putU32(testFileHdrOffset+8, symTableOffset) // PointerToSymbolTable
	b.putU32(testFileHdrOffset+12, 1)             // NumberOfSymbols

	off := symTableOffset
	var name [8]byte
	copy(name[:], "foo")
	b.putBytes(off, name[:])
	b.putU32(off+8, 0x1010)  // Value
	b.putU16(off+12, 1)      // SectionNumber
	b.putU16(off+14, 0x20)   // Type: function
	b.putBytes(off+16, []byte{0, 0})

	// string table: 4-byte size field, no strings.
	b.putU32(off+18, 4)

	f, err := NewBytes(b.bytes(), nil)
	if err != nil {
		t.Fatalf("NewBytes failed: %v", err)
	}
	defer f.Close()

	table := f.COFFSymbols()
	if table == nil {
		t.Fatal("expected a parsed COFF symbol table")
	}
	if len(table.Symbols) != 1 {
		t.Fatalf("symbols = %d, want 1", len(table.Symbols))
	}
	if table.Name(table.Symbols[0]) != "foo" {
		t.Fatalf("symbol name = %q, want foo", table.Name(table.Symbols[0]))
	}
	if !table.Symbols[0].IsFunction() {
		t.Fatal("expected symbol to be a function")
	}
}
