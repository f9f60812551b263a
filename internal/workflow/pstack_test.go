// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package workflow

import (
	"context"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/cyberbisson/pstack-sub001/internal/addr"
	"github.com/cyberbisson/pstack-sub001/internal/debugger"
	"github.com/cyberbisson/pstack-sub001/internal/model"
	"github.com/cyberbisson/pstack-sub001/internal/peimage"
	"github.com/cyberbisson/pstack-sub001/internal/stackwalk"
)

// imageWithOneSymbol builds a minimal PE64 image, zero sections, carrying a
// single COFF function symbol -- just enough for the symbol engine's debug
// symbol table to resolve one name, mirroring internal/symbols' own
// synthetic-image test helper. A name longer than 8 bytes is stored in the
// COFF string table and referenced by offset.
func imageWithOneSymbol(t *testing.T, name string, value uint32) []byte {
	t.Helper()
	le := binary.LittleEndian

	const ntOffset = 0x80
	headerEnd := uint32(ntOffset + 4 + 20 + 240)
	coffOffset := headerEnd
	stringTableOffset := coffOffset + 18

	strTabSize := uint32(4)
	if len(name) > 8 {
		strTabSize += uint32(len(name)) + 1
	}
	buf := make([]byte, stringTableOffset+strTabSize)

	le.PutUint16(buf[0:], 0x5A4D)
	le.PutUint32(buf[0x3c:], ntOffset)
	le.PutUint32(buf[ntOffset:], 0x00004550)

	fileHdr := uint32(ntOffset + 4)
	le.PutUint16(buf[fileHdr:], 0x8664)
	le.PutUint32(buf[fileHdr+8:], coffOffset)
	le.PutUint32(buf[fileHdr+12:], 1)
	le.PutUint16(buf[fileHdr+16:], 240)

	optHdr := fileHdr + 20
	le.PutUint16(buf[optHdr:], 0x20b)
	le.PutUint64(buf[optHdr+24:], 0x140000000)

	if len(name) > 8 {
		le.PutUint32(buf[coffOffset+4:], 4) // first string-table entry
		copy(buf[stringTableOffset+4:], name)
	} else {
		var nameBytes [8]byte
		copy(nameBytes[:], name)
		copy(buf[coffOffset:coffOffset+8], nameBytes[:])
	}
	le.PutUint32(buf[coffOffset+8:], value)
	le.PutUint16(buf[coffOffset+12:], 1)
	le.PutUint16(buf[coffOffset+14:], 0x20) // DT_FUNCTION
	le.PutUint32(buf[stringTableOffset:], strTabSize)

	return buf
}

// newTestResolver builds a moduleResolver whose module cache is seeded
// directly with an already-built SymbolFile, so OpenSymbolFile never tries
// to open a real file on disk.
func newTestResolver(t *testing.T, proc *model.Process, mod model.Module, image []byte) *moduleResolver {
	t.Helper()
	file, err := peimage.NewBytes(image, nil)
	if err != nil {
		t.Fatalf("NewBytes failed: %v", err)
	}
	sf := peimage.NewSymbolFileFromFile(file, mod.Base, mod.Path)

	r := newModuleResolver(proc, &peimage.Options{})
	r.cache[mod.Base] = sf
	return r
}

func TestRenderFrameResolvesSymbolWithBracketedOffset(t *testing.T) {
	mod := model.Module{Path: "kernel32", Base: addr.Address(0x7FFE1A2B0000)}
	proc := model.NewProcess(1, addr.Handle{})
	proc.AddModule(mod)

	resolver := newTestResolver(t, proc, mod, imageWithOneSymbol(t, "BaseThreadInitThunk", 0x3C33))

	eng := debugger.New()
	frame := stackwalk.Frame{
		ReturnAddress: addr.Address(0x7FFE1A2B3C40),
		HasModule:     true,
		Module:        mod,
	}

	var out strings.Builder
	renderFrame(&out, eng, proc.Handle, frame, resolver, PStackConfig{ScanImage: true})

	got := out.String()
	if !strings.Contains(got, "BaseThreadInitThunk [+0xD]") {
		t.Fatalf("renderFrame output = %q, want it to contain the bracketed offset for BaseThreadInitThunk", got)
	}
	if strings.Contains(got, " +0xD\n") {
		t.Fatalf("renderFrame output = %q, want no unbracketed offset", got)
	}
}

func TestRenderFrameExactMatchOmitsOffset(t *testing.T) {
	mod := model.Module{Path: "app", Base: addr.Address(0x400000)}
	proc := model.NewProcess(1, addr.Handle{})
	proc.AddModule(mod)

	resolver := newTestResolver(t, proc, mod, imageWithOneSymbol(t, "main", 0x1000))

	eng := debugger.New()
	frame := stackwalk.Frame{
		ReturnAddress: addr.Address(0x401000),
		HasModule:     true,
		Module:        mod,
	}

	var out strings.Builder
	renderFrame(&out, eng, proc.Handle, frame, resolver, PStackConfig{ScanImage: true})

	got := out.String()
	if !strings.Contains(got, " - main") {
		t.Fatalf("renderFrame output = %q, want it to name main with no offset", got)
	}
	if strings.Contains(got, "[+") {
		t.Fatalf("renderFrame output = %q, want no bracketed offset on an exact match", got)
	}
}

// TestRenderFrameWithoutScanImageSkipsEmbeddedTables mirrors pstack's /I
// switch: without ScanImage, a live-service miss must not fall through to
// the module's own debug symbols, even when the module has one.
func TestRenderFrameWithoutScanImageSkipsEmbeddedTables(t *testing.T) {
	mod := model.Module{Path: "app", Base: addr.Address(0x400000)}
	proc := model.NewProcess(1, addr.Handle{})
	proc.AddModule(mod)

	resolver := newTestResolver(t, proc, mod, imageWithOneSymbol(t, "main", 0x1000))

	eng := debugger.New()
	frame := stackwalk.Frame{
		ReturnAddress: addr.Address(0x401000),
		HasModule:     true,
		Module:        mod,
	}

	var out strings.Builder
	renderFrame(&out, eng, proc.Handle, frame, resolver, PStackConfig{ScanImage: false})

	got := out.String()
	if strings.Contains(got, "main") {
		t.Fatalf("renderFrame output = %q, want no symbol name without ScanImage set", got)
	}
}

func TestRenderFrameUnknownModule(t *testing.T) {
	eng := debugger.New()
	frame := stackwalk.Frame{ReturnAddress: addr.Address(0xDEADBEEF), HasModule: false}

	var out strings.Builder
	renderFrame(&out, eng, addr.SharedHandle{}, frame, nil, PStackConfig{})

	got := out.String()
	if !strings.HasPrefix(got, "(Unknown)") {
		t.Fatalf("renderFrame output = %q, want it to start with (Unknown)", got)
	}
}

// TestRenderThreadPropagatesThreadContextFailure exercises renderThread's
// error path: a thread with no real OS handle can never yield a valid
// register context, on any platform, and renderThread must report that
// rather than printing a header over an empty stack.
func TestRenderThreadPropagatesThreadContextFailure(t *testing.T) {
	mod := model.Module{Path: "app", Base: addr.Address(0x400000)}
	proc := model.NewProcess(1, addr.Handle{})
	proc.AddModule(mod)

	resolver := newTestResolver(t, proc, mod, imageWithOneSymbol(t, "main", 0x1000))
	thread := &model.Thread{ID: 7, Handle: addr.Handle{}}
	proc.AddThread(thread)

	eng := debugger.New()
	var out strings.Builder
	err := renderThread(context.Background(), eng, proc, thread, resolver, PStackConfig{}, &out)

	if err == nil {
		t.Fatal("expected renderThread to report an error for a thread with no valid handle")
	}
}
