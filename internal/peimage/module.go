// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import (
	"fmt"
	"io"
	"sort"

	"github.com/cyberbisson/pstack-sub001/internal/addr"
)

// SymbolFile binds a parsed image to the base address it was actually
// loaded at in a target process, letting callers translate between
// runtime virtual addresses and the RVAs the image's own tables use.
type SymbolFile struct {
	file *File
	base addr.Address
	path string
}

// NewSymbolFile opens the image at path and pairs it with the base address
// it is (or will be) mapped at in a target process.
func NewSymbolFile(path string, base addr.Address, opts *Options) (*SymbolFile, error) {
	file, err := New(path, opts)
	if err != nil {
		return nil, err
	}
	return &SymbolFile{file: file, base: base, path: path}, nil
}

// NewSymbolFileFromFile pairs an already-parsed image with a base address
// and a display path, without opening anything. The addr2ln workflow and
// dumpModule use it after opening the image themselves, and tests use it
// to exercise the symbol engine against synthetic images.
func NewSymbolFileFromFile(file *File, base addr.Address, path string) *SymbolFile {
	return &SymbolFile{file: file, base: base, path: path}
}

// Close releases the underlying image.
func (m *SymbolFile) Close() error {
	return m.file.Close()
}

// Path returns the path the image was opened from.
func (m *SymbolFile) Path() string {
	return m.path
}

// Base returns the address this image is mapped at.
func (m *SymbolFile) Base() addr.Address {
	return m.base
}

// File returns the underlying parsed image.
func (m *SymbolFile) File() *File {
	return m.file
}

// RVA translates a runtime address within this module into an RVA,
// relative to the image's own base, the form its internal tables index by.
func (m *SymbolFile) RVA(a addr.Address) uint32 {
	return uint32(a.Sub(m.base))
}

// Address translates an RVA back into a runtime address in this module.
func (m *SymbolFile) Address(rva uint32) addr.Address {
	return m.base.Add(uint64(rva))
}

// DumpModuleInfo writes a human-readable summary of the image's headers,
// section table, and export/unwind table sizes, for the diagnostic dump
// command. It never fails on a well-formed File; any write error from w
// is returned as-is.
func (m *SymbolFile) DumpModuleInfo(w io.Writer) error {
	f := m.file
	bitness := "PE32"
	if f.is64 {
		bitness = "PE32+"
	}

	if _, err := fmt.Fprintf(w, "module: %s\n", m.path); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "  base:            %s\n", m.base); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "  format:          %s\n", bitness); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "  preferred base:  %#x\n", f.preferredBase); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "  sections:        %d\n", len(f.sections)); err != nil {
		return err
	}
	for _, s := range f.sections {
		if _, err := fmt.Fprintf(w, "    %-8s va=%#08x size=%#08x\n", s.Name(), s.Header.VirtualAddress, s.Header.VirtualSize); err != nil {
			return err
		}
	}

	coffCount := 0
	if f.coff != nil {
		coffCount = len(f.coff.Symbols)
	}
	if _, err := fmt.Fprintf(w, "  COFF symbols:    %d\n", coffCount); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "  exports:         %d\n", len(f.export.Functions)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "  unwind entries:  %d\n", len(f.unwindEntries)); err != nil {
		return err
	}
	return nil
}

// DumpSymbols writes every resolvable name this image offers -- exported
// functions and, where present, COFF function symbols -- one per line,
// sorted by address.
func (m *SymbolFile) DumpSymbols(w io.Writer) error {
	type entry struct {
		rva  uint32
		name string
		kind string
	}
	var entries []entry

	for _, fn := range m.file.export.Functions {
		if fn.Name == "" || fn.Forwarder != "" {
			continue
		}
		entries = append(entries, entry{rva: fn.FunctionRVA, name: fn.Name, kind: "export"})
	}
	if m.file.coff != nil {
		for _, sym := range m.file.coff.Symbols {
			if !sym.IsFunction() {
				continue
			}
			name := m.file.coff.Name(sym)
			if name == "" {
				continue
			}
			entries = append(entries, entry{rva: sym.Value, name: name, kind: "coff"})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rva < entries[j].rva })

	for _, e := range entries {
		a := m.Address(e.rva)
		if _, err := fmt.Fprintf(w, "%s %-8s %s\n", a, e.kind, e.name); err != nil {
			return err
		}
	}
	return nil
}
