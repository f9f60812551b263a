// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import (
	"sort"
)

// UnwindOpType is one opcode in an UNWIND_INFO's unwind code array.
type UnwindOpType uint8

// Unwind opcodes the stack walker needs in order to recover a frame's
// return address and caller stack pointer. Codes this reader does not
// interpret (XMM saves, epilogue markers) are skipped by size but never
// applied, since addr2ln and pstack only need RSP recovery across a single
// hop, not full register restoration.
const (
	UwOpPushNonVol    = UnwindOpType(0)
	UwOpAllocLarge    = UnwindOpType(1)
	UwOpAllocSmall    = UnwindOpType(2)
	UwOpSetFpReg      = UnwindOpType(3)
	UwOpSaveNonVol    = UnwindOpType(4)
	UwOpSaveNonVolFar = UnwindOpType(5)
	UwOpEpilog        = UnwindOpType(6)
	UwOpSpareCode     = UnwindOpType(7)
	UwOpSaveXmm128    = UnwindOpType(8)
	UwOpSaveXmm128Far = UnwindOpType(9)
	UwOpPushMachFrame = UnwindOpType(10)
	UwOpSetFpRegLarge = UnwindOpType(11)
)

// Unwind info flags.
const (
	UnwFlagNHandler  = uint8(0x0)
	UnwFlagEHandler  = uint8(0x1)
	UnwFlagUHandler  = uint8(0x2)
	UnwFlagChainInfo = uint8(0x4)
)

// RuntimeFunctionEntry mirrors IMAGE_RUNTIME_FUNCTION_ENTRY, the .pdata
// record describing one non-leaf function's extent and the unwind data
// that explains its stack-frame setup.
type RuntimeFunctionEntry struct {
	BeginAddress      uint32
	EndAddress        uint32
	UnwindInfoAddress uint32
}

// Contains reports whether rva falls within this function's extent.
func (e RuntimeFunctionEntry) Contains(rva uint32) bool {
	return e.BeginAddress <= rva && rva < e.EndAddress
}

// UnwindCode is one 1-or-2-slot entry of an UNWIND_INFO's unwind code
// array, recording a single prolog operation's effect on RSP or a
// nonvolatile register.
type UnwindCode struct {
	CodeOffset  uint8
	UnwindOp    UnwindOpType
	OpInfo      uint8
	FrameOffset uint32
}

// UnwindInfo mirrors UNWIND_INFO: it records the total fixed-size stack
// allocation a function's prolog performs, which is all the stack walker
// needs to recover the caller's RSP at a call site within this function.
type UnwindInfo struct {
	Version       uint8
	Flags         uint8
	SizeOfProlog  uint8
	CountOfCodes  uint8
	FrameRegister uint8
	FrameOffset   uint8
	UnwindCodes   []UnwindCode

	ExceptionHandler uint32
	ChainedFunction  RuntimeFunctionEntry
}

// FrameSize returns the combined stack allocation recorded by this
// function's push/alloc unwind codes: the number of bytes to add to RSP,
// after the prolog, to reach the slot holding the return address (the
// caller's stack pointer is 8 bytes above that slot). This is
// the one-hop contribution the native unwind reader is scoped to; chained
// unwind info (UnwFlagChainInfo) is left for the caller to follow.
func (u UnwindInfo) FrameSize() uint64 {
	var size uint64
	for _, c := range u.UnwindCodes {
		switch c.UnwindOp {
		case UwOpPushNonVol, UwOpPushMachFrame:
			size += 8
		case UwOpAllocSmall:
			size += uint64(c.OpInfo)*8 + 8
		case UwOpAllocLarge:
			if c.OpInfo == 0 {
				size += uint64(c.FrameOffset) * 8 // scaled slot count
			} else {
				size += uint64(c.FrameOffset) // unscaled byte count
			}
		}
	}
	return size
}

// parseUnwindCode decodes one unwind code slot at offset, returning the
// decoded code and how many 2-byte slots it occupies (0 means the opcode
// was unrecognized and decoding should stop).
func (f *File) parseUnwindCode(offset uint32, version uint8) (UnwindCode, int) {
	var code UnwindCode

	raw, err := f.readUint16(offset)
	if err != nil {
		return code, 0
	}
	code.CodeOffset = uint8(raw & 0xff)
	code.UnwindOp = UnwindOpType(raw & 0xf00 >> 8)
	code.OpInfo = uint8(raw & 0xf000 >> 12)

	switch code.UnwindOp {
	case UwOpAllocSmall:
		return code, 1
	case UwOpAllocLarge:
		if code.OpInfo == 0 {
			v, err := f.readUint16(offset + 2)
			if err != nil {
				return code, 0
			}
			code.FrameOffset = uint32(v)
			return code, 2
		}
		v, err := f.readUint32(offset + 2)
		if err != nil {
			return code, 0
		}
		code.FrameOffset = v
		return code, 3
	case UwOpSetFpReg, UwOpPushNonVol:
		return code, 1
	case UwOpSaveNonVol, UwOpSaveXmm128:
		if _, err := f.readUint16(offset + 2); err != nil {
			return code, 0
		}
		return code, 2
	case UwOpSaveNonVolFar, UwOpSaveXmm128Far:
		if _, err := f.readUint32(offset + 2); err != nil {
			return code, 0
		}
		return code, 3
	case UwOpSetFpRegLarge:
		return code, 2
	case UwOpPushMachFrame:
		return code, 1
	case UwOpEpilog:
		return code, 2
	case UwOpSpareCode:
		return code, 3
	default:
		f.logger.Warnf("peimage: unrecognized unwind opcode %d at offset %#x", code.UnwindOp, offset)
		return code, 0
	}
}

// parseUnwindInfo decodes the UNWIND_INFO structure at the given RVA.
func (f *File) parseUnwindInfo(unwindInfoRVA uint32) UnwindInfo {
	var ui UnwindInfo

	offset := f.offsetFromRVA(unwindInfoRVA)
	header, err := f.readUint32(offset)
	if err != nil {
		return ui
	}

	ui.Version = uint8(header & 0x7)
	ui.Flags = uint8(header & 0xf8 >> 3)
	ui.SizeOfProlog = uint8(header & 0xff00 >> 8)
	ui.CountOfCodes = uint8(header & 0xff0000 >> 16)
	ui.FrameRegister = uint8(header & 0x0f000000 >> 24)
	ui.FrameOffset = uint8(header&0xf0000000>>28) * 16 // scaled in 16-byte units

	offset += 4
	i := 0
	for i < int(ui.CountOfCodes) {
		code, advanceBy := f.parseUnwindCode(offset+2*uint32(i), ui.Version)
		if advanceBy == 0 {
			return ui
		}
		ui.UnwindCodes = append(ui.UnwindCodes, code)
		i += advanceBy
	}
	if ui.CountOfCodes&1 == 1 {
		offset += 2
	}

	if ui.Flags&(UnwFlagEHandler|UnwFlagUHandler) != 0 && ui.Flags&UnwFlagChainInfo == 0 {
		handlerOffset := offset + 2*uint32(i)
		if v, err := f.readUint32(handlerOffset); err == nil {
			ui.ExceptionHandler = v
		}
	}

	if ui.Flags&UnwFlagChainInfo != 0 {
		chainOffset := offset + 2*uint32(i)
		var rf RuntimeFunctionEntry
		if err := f.structUnpack(&rf, chainOffset, uint32(structSize(rf))); err == nil {
			ui.ChainedFunction = rf
		}
	}

	return ui
}

// parseExceptionDirectory reads the .pdata function table: an array of
// RUNTIME_FUNCTION entries, each carrying the RVA of an UNWIND_INFO
// structure describing how to recover the caller's frame. This reader
// decodes unwind info eagerly rather than lazily, since addr2ln and pstack
// always need it immediately after locating a function.
func (f *File) parseExceptionDirectory(rva, size uint32) error {
	if rva == 0 || size == 0 || !f.is64 {
		return nil
	}

	entrySize := uint32(structSize(RuntimeFunctionEntry{}))
	if entrySize == 0 {
		return nil
	}
	count := size / entrySize
	offset := f.offsetFromRVA(rva)

	entries := make([]RuntimeFunctionEntry, 0, count)
	infos := make(map[uint32]UnwindInfo, count)
	for i := uint32(0); i < count; i++ {
		var rf RuntimeFunctionEntry
		if err := f.structUnpack(&rf, offset+entrySize*i, entrySize); err != nil {
			return err
		}
		entries = append(entries, rf)
		infos[rf.BeginAddress] = f.parseUnwindInfo(rf.UnwindInfoAddress)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].BeginAddress < entries[j].BeginAddress })

	f.unwindEntries = entries
	f.unwindInfo = infos
	return nil
}

// FunctionEntryForRVA returns the RUNTIME_FUNCTION entry covering rva, if
// any, located by binary search over the begin-address-sorted table.
func (f *File) FunctionEntryForRVA(rva uint32) (RuntimeFunctionEntry, bool) {
	entries := f.unwindEntries
	i := sort.Search(len(entries), func(i int) bool { return entries[i].BeginAddress > rva })
	if i == 0 {
		return RuntimeFunctionEntry{}, false
	}
	e := entries[i-1]
	if !e.Contains(rva) {
		return RuntimeFunctionEntry{}, false
	}
	return e, true
}

// UnwindInfoFor returns the decoded UNWIND_INFO for a RUNTIME_FUNCTION
// entry previously returned by FunctionEntryForRVA.
func (f *File) UnwindInfoFor(entry RuntimeFunctionEntry) (UnwindInfo, bool) {
	ui, ok := f.unwindInfo[entry.BeginAddress]
	return ui, ok
}
