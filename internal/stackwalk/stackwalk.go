// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package stackwalk reconstructs a thread's call stack by walking return
// addresses up through memory, using each frame's module's x64 native
// unwind table to recover how much stack the frame's prolog consumed.
//
// This intentionally does not implement DWARF-based unwinding (the symbol
// tables involved here are Windows COFF/export tables, not DWARF), and it
// only follows a single unwind-info hop per frame: chained unwind info
// (UnwFlagChainInfo) is left unresolved, matching this reader's scope.
package stackwalk

import (
	"context"
	"encoding/binary"

	"github.com/cyberbisson/pstack-sub001/internal/addr"
	"github.com/cyberbisson/pstack-sub001/internal/model"
	"github.com/cyberbisson/pstack-sub001/internal/peimage"
)

// Frame is one level of a reconstructed call stack: the return address
// that was on the stack, the stack pointer at entry to that frame (this
// walker's closest equivalent to the frame pointer STACKFRAME64 tracks,
// since native unwind-table stepping recovers frame size rather than
// following an RBP chain), and the module that owns it, if any module's
// mapped range contains it.
type Frame struct {
	ReturnAddress addr.Address
	FramePointer  addr.Address
	Module        model.Module
	HasModule     bool
}

// MemoryReader reads bytes out of a target process's address space. The
// debugger package supplies the live implementation; tests supply an
// in-memory fake.
type MemoryReader interface {
	ReadMemory(ctx context.Context, address addr.Address, size int) ([]byte, error)
}

// ModuleResolver finds which loaded module owns an address, and opens that
// module's symbol file lazily (most stack walks touch only a handful of
// the process's modules).
type ModuleResolver interface {
	ModuleAt(address addr.Address) (model.Module, bool)
	OpenSymbolFile(m model.Module) (*peimage.SymbolFile, error)
}

// Walker reconstructs a thread's stack, one frame at a time.
type Walker struct {
	mem       MemoryReader
	resolver  ModuleResolver
	maxFrames int
}

// New builds a Walker over the given process's memory and module map.
// maxFrames bounds how many frames a single Walk call will produce,
// guarding against a corrupted stack sending the walker into the weeds.
func New(mem MemoryReader, resolver ModuleResolver, maxFrames int) *Walker {
	if maxFrames <= 0 {
		maxFrames = 256
	}
	return &Walker{mem: mem, resolver: resolver, maxFrames: maxFrames}
}

// Walk reconstructs the call stack starting at pc (the thread's current
// instruction pointer) and sp (its current stack pointer). Each frame's
// return address is recovered by adding the owning function's unwind-table
// frame size to sp, then reading the return address just above it; a
// module that cannot be resolved, or whose address has no matching
// RUNTIME_FUNCTION entry (a leaf function with no frame allocation), ends
// the walk rather than guessing.
func (w *Walker) Walk(ctx context.Context, pc, sp addr.Address) ([]Frame, error) {
	var frames []Frame

	curPC, curSP := pc, sp
	for i := 0; i < w.maxFrames; i++ {
		mod, ok := w.resolver.ModuleAt(curPC)
		frame := Frame{ReturnAddress: curPC, FramePointer: curSP, Module: mod, HasModule: ok}
		frames = append(frames, frame)

		if !ok {
			break
		}

		sym, err := w.resolver.OpenSymbolFile(mod)
		if err != nil {
			return frames, err
		}

		rva := sym.RVA(curPC)
		entry, ok := sym.File().FunctionEntryForRVA(rva)
		if !ok {
			break
		}
		info, ok := sym.File().UnwindInfoFor(entry)
		if !ok {
			break
		}

		frameSize := info.FrameSize() + 8 // +8 for the return address slot itself
		returnAddrLoc := curSP.Add(frameSize - 8)

		data, err := w.mem.ReadMemory(ctx, returnAddrLoc, 8)
		if err != nil {
			return frames, err
		}
		nextPC := addr.Address(binary.LittleEndian.Uint64(data))
		if nextPC == 0 {
			break
		}

		curSP = curSP.Add(frameSize)
		curPC = nextPC
	}

	return frames, nil
}
