// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package stackwalk

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/cyberbisson/pstack-sub001/internal/addr"
	"github.com/cyberbisson/pstack-sub001/internal/model"
	"github.com/cyberbisson/pstack-sub001/internal/peimage"
)

type fakeMemory struct {
	pages map[addr.Address][]byte
}

func (f *fakeMemory) ReadMemory(_ context.Context, address addr.Address, size int) ([]byte, error) {
	data, ok := f.pages[address]
	if !ok {
		return make([]byte, size), nil
	}
	out := make([]byte, size)
	copy(out, data)
	return out, nil
}

type fakeResolver struct {
	mod model.Module
	sf  *peimage.SymbolFile
}

func (r *fakeResolver) ModuleAt(address addr.Address) (model.Module, bool) {
	if r.mod.Contains(address) {
		return r.mod, true
	}
	return model.Module{}, false
}

func (r *fakeResolver) OpenSymbolFile(m model.Module) (*peimage.SymbolFile, error) {
	return r.sf, nil
}

func TestWalkStopsWithoutModule(t *testing.T) {
	mem := &fakeMemory{pages: map[addr.Address][]byte{}}
	resolver := &fakeResolver{mod: model.Module{Base: 0x400000, Size: 0x1000}}

	w := New(mem, resolver, 10)
	frames, err := w.Walk(context.Background(), addr.Address(0x500000), addr.Address(0x1000))
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if len(frames) != 1 || frames[0].HasModule {
		t.Fatalf("frames = %+v, want a single frame with no module", frames)
	}
}

// buildPE64WithPdata assembles a minimal PE32+ image with one .pdata
// RUNTIME_FUNCTION entry covering [0x1000, 0x1010) with no unwind codes
// (a leaf-equivalent frame: FrameSize contributes only the 8-byte return
// address slot).
func buildPE64WithPdata(t *testing.T) []byte {
	t.Helper()
	const ntOffset = 0x80
	const fileHdr = ntOffset + 4
	const optHdr = fileHdr + 20
	const optHdrSize = 112 + 16*8
	const sectionTable = optHdr + optHdrSize
	const pdataRaw = 0x600
	const pdataVA = 0x3000

	buf := make([]byte, pdataRaw+16)

	binary.LittleEndian.PutUint16(buf[0:], 0x5A4D)
	binary.LittleEndian.PutUint32(buf[0x3c:], ntOffset)
	binary.LittleEndian.PutUint32(buf[ntOffset:], 0x00004550)

	binary.LittleEndian.PutUint16(buf[fileHdr:], 0x8664)
	binary.LittleEndian.PutUint16(buf[fileHdr+2:], 1) // NumberOfSections
	binary.LittleEndian.PutUint16(buf[fileHdr+16:], optHdrSize)

	binary.LittleEndian.PutUint16(buf[optHdr:], 0x20b)
	binary.LittleEndian.PutUint64(buf[optHdr+24:], 0x140000000)
	// data directory 3 (exception) -> pdataVA, 12 bytes (one entry)
	ddOff := optHdr + 112 + 3*8
	binary.LittleEndian.PutUint32(buf[ddOff:], pdataVA)
	binary.LittleEndian.PutUint32(buf[ddOff+4:], 12)

	// section header for .pdata
	copy(buf[sectionTable:], ".pdata\x00\x00")
	binary.LittleEndian.PutUint32(buf[sectionTable+8:], 0x100)     // VirtualSize
	binary.LittleEndian.PutUint32(buf[sectionTable+12:], pdataVA)  // VirtualAddress
	binary.LittleEndian.PutUint32(buf[sectionTable+16:], 0x100)    // SizeOfRawData
	binary.LittleEndian.PutUint32(buf[sectionTable+20:], pdataRaw) // PointerToRawData

	binary.LittleEndian.PutUint32(buf[pdataRaw:], 0x1000)   // BeginAddress
	binary.LittleEndian.PutUint32(buf[pdataRaw+4:], 0x1010) // EndAddress
	binary.LittleEndian.PutUint32(buf[pdataRaw+8:], 0)      // UnwindInfoAddress

	return buf
}

func TestWalkSingleFrame(t *testing.T) {
	data := buildPE64WithPdata(t)
	file, err := peimage.NewBytes(data, nil)
	if err != nil {
		t.Fatalf("NewBytes failed: %v", err)
	}

	const base = addr.Address(0x140000000)
	sf := peimage.NewSymbolFileFromFile(file, base, "test.dll")

	returnAddrLoc := addr.Address(0x2000)
	retBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(retBuf, 0) // terminate the walk

	mem := &fakeMemory{pages: map[addr.Address][]byte{returnAddrLoc: retBuf}}
	resolver := &fakeResolver{mod: model.Module{Base: base, Size: 0x4000}, sf: sf}

	w := New(mem, resolver, 10)
	pc := base.Add(0x1008) // within [0x1000, 0x1010)
	frames, err := w.Walk(context.Background(), pc, returnAddrLoc)
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1 (return address reads as zero, ending the walk)", len(frames))
	}
	if !frames[0].HasModule {
		t.Fatal("expected the first frame to resolve to the test module")
	}
}
