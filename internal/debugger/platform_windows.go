// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build windows

package debugger

import (
	"context"
	"encoding/binary"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/cyberbisson/pstack-sub001/internal/addr"
	"github.com/cyberbisson/pstack-sub001/internal/perr"
)

var (
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")
	modadvapi32 = windows.NewLazySystemDLL("advapi32.dll")
	moddbghelp  = windows.NewLazySystemDLL("dbghelp.dll")

	procDebugActiveProcess       = modkernel32.NewProc("DebugActiveProcess")
	procDebugActiveProcessStop  = modkernel32.NewProc("DebugActiveProcessStop")
	procDebugSetProcessKillOnExit = modkernel32.NewProc("DebugSetProcessKillOnExit")
	procWaitForDebugEvent    = modkernel32.NewProc("WaitForDebugEvent")
	procContinueDebugEvent   = modkernel32.NewProc("ContinueDebugEvent")
	procReadProcessMemory    = modkernel32.NewProc("ReadProcessMemory")
	procGetThreadContext     = modkernel32.NewProc("GetThreadContext")
	procOpenProcessToken     = modadvapi32.NewProc("OpenProcessToken")
	procLookupPrivilegeValue = modadvapi32.NewProc("LookupPrivilegeValueW")
	procAdjustTokenPriv      = modadvapi32.NewProc("AdjustTokenPrivileges")

	procGetFinalPathNameByHandle = modkernel32.NewProc("GetFinalPathNameByHandleW")

	procSymInitialize = moddbghelp.NewProc("SymInitialize")
	procSymFromAddr   = moddbghelp.NewProc("SymFromAddr")
)

const (
	dbgExceptionDebugEvent    = 1
	dbgCreateThreadDebugEvent = 2
	dbgCreateProcessDebugEvent = 3
	dbgExitThreadDebugEvent   = 4
	dbgExitProcessDebugEvent  = 5
	dbgLoadDLLDebugEvent      = 6
	dbgUnloadDLLDebugEvent    = 7
	dbgOutputDebugStringEvent = 8
	dbgRIPEvent               = 9

	dbgContinue              = 0x00010002
	dbgExceptionNotHandled   = 0x80010001

	sePrivilegeEnabled = 0x00000002
	tokenAdjustPrivs   = 0x0020
	tokenQuery         = 0x0008

	contextAmd64Flag   = 0x00100000
	contextControl     = contextAmd64Flag | 0x1
	contextInteger     = contextAmd64Flag | 0x2
	contextSegments    = contextAmd64Flag | 0x4
	contextFull        = contextControl | contextInteger | contextSegments

	maxSymName = 2000
)

// contextAmd64 mirrors the fixed layout of Win32's x64 CONTEXT structure
// closely enough to read the general-purpose and control registers the
// stack walker needs (Rip, Rsp, Rbp); the large floating-point/vector save
// area is kept only as padding since nothing here reads it.
type contextAmd64 struct {
	P1Home, P2Home, P3Home, P4Home, P5Home, P6Home uint64

	ContextFlags uint32
	MxCsr        uint32

	SegCs, SegDs, SegEs, SegFs, SegGs, SegSs uint16
	EFlags                                   uint32

	Dr0, Dr1, Dr2, Dr3, Dr6, Dr7 uint64

	Rax, Rcx, Rdx, Rbx, Rsp, Rbp, Rsi, Rdi uint64
	R8, R9, R10, R11, R12, R13, R14, R15   uint64

	Rip uint64

	fltSave [512]byte

	vectorRegister [26][2]uint64
	vectorControl  uint64

	debugControl, lastBranchToRip, lastBranchFromRip       uint64
	lastExceptionToRip, lastExceptionFromRip uint64
}

// symbolInfo mirrors DbgHelp's SYMBOL_INFO, sized to hold names up to
// maxSymName bytes inline, matching the layout fixed-size callers (including
// this codebase's own shim headers) use for SymFromAddr.
type symbolInfo struct {
	SizeOfStruct uint32
	TypeIndex    uint32
	Reserved     [2]uint64
	Index        uint32
	Size         uint32
	ModBase      uint64
	Flags        uint32
	Value        uint64
	Address      uint64
	Register     uint32
	Scope        uint32
	Tag          uint32
	NameLen      uint32
	MaxNameLen   uint32
	Name         [maxSymName]byte
}

// rawDebugEvent mirrors Win32's x64 DEBUG_EVENT: the discriminant, the
// originating process/thread, explicit padding (the union that follows is
// pointer-aligned, so it starts at offset 16, not 12), and the union
// payload itself -- 160 bytes, sized by its largest member,
// EXCEPTION_DEBUG_INFO -- which this reader decodes by hand based on
// dwDebugEventCode.
type rawDebugEvent struct {
	Code      uint32
	ProcessID uint32
	ThreadID  uint32
	_         uint32
	Info      [160]byte
}

type winPlatform struct {
	// symInitialized tracks which process handles SymInitialize has already
	// been called for: the DbgHelp API is a once-per-process session, and a
	// second SymInitialize call on the same handle fails.
	symInitialized map[uintptr]bool
}

func newPlatform() platform {
	return &winPlatform{
		symInitialized: make(map[uintptr]bool),
	}
}

func (p *winPlatform) attachToProcess(pid addr.ProcessID) error {
	r1, _, err := procDebugActiveProcess.Call(uintptr(pid))
	if r1 == 0 {
		return perr.NewOsError("DebugActiveProcess", int(err.(syscall.Errno)), "attaching to pid %d: %v", pid, err)
	}

	// Without this, the debuggee dies the moment we detach (or exit):
	// Windows kills every debuggee of a terminating debugger unless each was
	// told otherwise.
	r1, _, err = procDebugSetProcessKillOnExit.Call(0)
	if r1 == 0 {
		return perr.NewOsError("DebugSetProcessKillOnExit", int(err.(syscall.Errno)), "disabling kill-on-exit for pid %d: %v", pid, err)
	}
	return nil
}

func (p *winPlatform) detachProcess(pid addr.ProcessID) error {
	r1, _, err := procDebugActiveProcessStop.Call(uintptr(pid))
	if r1 == 0 {
		return perr.NewOsError("DebugActiveProcessStop", int(err.(syscall.Errno)), "detaching from pid %d: %v", pid, err)
	}
	return nil
}

func (p *winPlatform) waitForEvent(ctx context.Context) (Event, error) {
	var raw rawDebugEvent
	r1, _, err := procWaitForDebugEvent.Call(
		uintptr(unsafe.Pointer(&raw)),
		uintptr(windows.INFINITE),
	)
	if r1 == 0 {
		return Event{}, perr.NewOsError("WaitForDebugEvent", int(err.(syscall.Errno)), "waiting for debug event: %v", err)
	}
	return decodeEvent(raw), nil
}

func (p *winPlatform) continueEvent(ev Event, handled bool) error {
	status := uint32(dbgContinue)
	if ev.Kind == EventException && !handled {
		status = dbgExceptionNotHandled
	}

	r1, _, err := procContinueDebugEvent.Call(
		uintptr(ev.ProcessID), uintptr(ev.ThreadID), uintptr(status),
	)
	if r1 == 0 {
		return perr.NewOsError("ContinueDebugEvent", int(err.(syscall.Errno)), "continuing pid %d: %v", ev.ProcessID, err)
	}
	return nil
}

func (p *winPlatform) readMemory(ctx context.Context, process addr.Handle, address addr.Address, size int) ([]byte, error) {
	buf := make([]byte, size)
	var read uintptr

	r1, _, err := procReadProcessMemory.Call(
		process.Raw(),
		uintptr(address),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(size),
		uintptr(unsafe.Pointer(&read)),
	)
	if r1 == 0 {
		return nil, perr.NewOsError("ReadProcessMemory", int(err.(syscall.Errno)), "reading %d bytes at %s: %v", size, address, err)
	}
	return buf[:read], nil
}

func (p *winPlatform) enableDebugPrivilege() error {
	var token windows.Token
	proc := windows.CurrentProcess()

	r1, _, err := procOpenProcessToken.Call(
		uintptr(proc), uintptr(tokenAdjustPrivs|tokenQuery), uintptr(unsafe.Pointer(&token)),
	)
	if r1 == 0 {
		return perr.NewOsError("OpenProcessToken", int(err.(syscall.Errno)), "opening process token: %v", err)
	}
	defer token.Close()

	var luid windows.LUID
	namePtr, nameErr := windows.UTF16PtrFromString("SeDebugPrivilege")
	if nameErr != nil {
		return perr.NewOsError("UTF16PtrFromString", -1, "encoding privilege name: %v", nameErr)
	}

	r1, _, err = procLookupPrivilegeValue.Call(
		0, uintptr(unsafe.Pointer(namePtr)), uintptr(unsafe.Pointer(&luid)),
	)
	if r1 == 0 {
		return perr.NewOsError("LookupPrivilegeValue", int(err.(syscall.Errno)), "looking up SeDebugPrivilege: %v", err)
	}

	privs := struct {
		PrivilegeCount uint32
		Luid           windows.LUID
		Attributes     uint32
	}{PrivilegeCount: 1, Luid: luid, Attributes: sePrivilegeEnabled}

	r1, _, err = procAdjustTokenPriv.Call(
		uintptr(token), 0, uintptr(unsafe.Pointer(&privs)), 0, 0, 0,
	)
	if r1 == 0 {
		return perr.NewOsError("AdjustTokenPrivileges", int(err.(syscall.Errno)), "enabling SeDebugPrivilege: %v", err)
	}
	return nil
}

// threadContext reads a stopped thread's register context and reports the
// three registers the stack walker seeds its first frame from.
//
// GetThreadContext requires its CONTEXT argument 16-byte aligned; Go's
// allocator gives no such guarantee, so the buffer is over-allocated and the
// struct pointer nudged forward to the next aligned address.
func (p *winPlatform) threadContext(thread addr.Handle) (pc, sp, fp addr.Address, err error) {
	var raw [unsafe.Sizeof(contextAmd64{}) + 16]byte
	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := (base + 15) &^ 15
	ctx := (*contextAmd64)(unsafe.Pointer(aligned))
	ctx.ContextFlags = contextFull

	r1, _, e := procGetThreadContext.Call(thread.Raw(), uintptr(unsafe.Pointer(ctx)))
	if r1 == 0 {
		return 0, 0, 0, perr.NewOsError("GetThreadContext", int(e.(syscall.Errno)), "reading thread context: %v", e)
	}
	return addr.Address(ctx.Rip), addr.Address(ctx.Rsp), addr.Address(ctx.Rbp), nil
}

// findLiveSymbol consults DbgHelp's in-memory symbol engine, which can
// resolve a PDB-backed symbol for a live process even when this repository's
// own COFF/export-table reader finds nothing in the on-disk image. A process
// is SymInitialize'd at most once; SymFromAddr's third argument receives the
// displacement past the symbol's start directly, so no subtraction is needed
// on the caller's side.
func (p *winPlatform) findLiveSymbol(process addr.Handle, address addr.Address) (string, uint64, bool) {
	raw := process.Raw()
	if !p.symInitialized[raw] {
		procSymInitialize.Call(raw, 0, 1) // fInvadeProcess=TRUE
		p.symInitialized[raw] = true
	}

	var info symbolInfo
	info.SizeOfStruct = uint32(unsafe.Sizeof(info)) - maxSymName + 1
	info.MaxNameLen = maxSymName

	var displacement uint64
	r1, _, _ := procSymFromAddr.Call(
		raw, uintptr(address), uintptr(unsafe.Pointer(&displacement)), uintptr(unsafe.Pointer(&info)),
	)
	if r1 == 0 {
		return "", 0, false
	}

	n := info.NameLen
	if n > maxSymName {
		n = maxSymName
	}
	return string(info.Name[:n]), displacement, true
}

func decodeEvent(raw rawDebugEvent) Event {
	ev := Event{
		ProcessID: addr.ProcessID(raw.ProcessID),
		ThreadID:  addr.ThreadID(raw.ThreadID),
	}

	le := binary.LittleEndian
	info := raw.Info[:]

	switch raw.Code {
	case dbgCreateProcessDebugEvent:
		// CREATE_PROCESS_DEBUG_INFO: hFile@0, hProcess@8, hThread@16,
		// lpBaseOfImage@24, lpThreadLocalBase@40, lpStartAddress@48.
		// lpImageName@56 is a pointer into debuggee memory and notoriously
		// unreliable; the image path is recovered from hFile instead.
		ev.Kind = EventCreateProcess
		fileHandle := addr.NewHandle(uintptr(le.Uint64(info[0:])), closeWindowsHandle)
		ev.CreateProcess = &CreateProcessInfo{
			FileHandle:    fileHandle,
			ProcessHandle: addr.NewHandle(uintptr(le.Uint64(info[8:])), closeWindowsHandle),
			ThreadHandle:  addr.NewHandle(uintptr(le.Uint64(info[16:])), closeWindowsHandle),
			BaseOfImage:   addr.Address(le.Uint64(info[24:])),
			LocalBase:     addr.Address(le.Uint64(info[40:])),
			StartAddress:  addr.Address(le.Uint64(info[48:])),
			ImageName:     imageNameFromHandle(fileHandle),
		}
	case dbgCreateThreadDebugEvent:
		ev.Kind = EventCreateThread
		ev.CreateThread = &CreateThreadInfo{
			ThreadHandle: addr.NewHandle(uintptr(le.Uint64(info[0:])), closeWindowsHandle),
			LocalBase:    addr.Address(le.Uint64(info[8:])),
			StartAddress: addr.Address(le.Uint64(info[16:])),
		}
	case dbgExitThreadDebugEvent:
		ev.Kind = EventExitThread
		ev.ExitThread = &ExitThreadInfo{ExitCode: le.Uint32(info[0:])}
	case dbgExitProcessDebugEvent:
		ev.Kind = EventExitProcess
		ev.ExitProcess = &ExitProcessInfo{ExitCode: le.Uint32(info[0:])}
	case dbgLoadDLLDebugEvent:
		ev.Kind = EventLoadDLL
		fileHandle := addr.NewHandle(uintptr(le.Uint64(info[0:])), closeWindowsHandle)
		ev.LoadDLL = &LoadDLLInfo{
			FileHandle: fileHandle,
			BaseOfDLL:  addr.Address(le.Uint64(info[8:])),
			ImageName:  imageNameFromHandle(fileHandle),
		}
	case dbgUnloadDLLDebugEvent:
		ev.Kind = EventUnloadDLL
		ev.UnloadDLL = &UnloadDLLInfo{BaseOfDLL: addr.Address(le.Uint64(info[0:]))}
	case dbgExceptionDebugEvent:
		// EXCEPTION_DEBUG_INFO: an EXCEPTION_RECORD (code@0, flags@4,
		// chained-record pointer@8, faulting address@16) followed by
		// dwFirstChance@152.
		ev.Kind = EventException
		ev.Exception = &ExceptionInfo{
			Code:           le.Uint32(info[0:]),
			Address:        addr.Address(le.Uint64(info[16:])),
			FirstChance:    le.Uint32(info[152:]) != 0,
			NonContinuable: le.Uint32(info[4:])&1 != 0,
		}
	case dbgOutputDebugStringEvent:
		ev.Kind = EventOutputDebugString
		ev.OutputDebugString = &OutputDebugStringInfo{}
	case dbgRIPEvent:
		ev.Kind = EventRIP
	}

	return ev
}

// imageNameFromHandle recovers the file-system path behind an image file
// handle supplied by a create-process or load-dll debug event. Failure
// leaves the module unnamed rather than failing the event: a nameless
// module still anchors its address range, it just cannot be opened for
// symbols later.
func imageNameFromHandle(h addr.Handle) string {
	if !h.Valid() {
		return ""
	}
	var buf [windows.MAX_PATH + 4]uint16
	n, _, _ := procGetFinalPathNameByHandle.Call(
		h.Raw(),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
		0, // FILE_NAME_NORMALIZED | VOLUME_NAME_DOS
	)
	if n == 0 || n >= uintptr(len(buf)) {
		return ""
	}
	name := windows.UTF16ToString(buf[:n])
	// The normalized form carries a \\?\ prefix callers never want to see.
	return strings.TrimPrefix(name, `\\?\`)
}

func closeWindowsHandle(raw uintptr) error {
	if raw == 0 {
		return nil
	}
	return windows.CloseHandle(windows.Handle(raw))
}
