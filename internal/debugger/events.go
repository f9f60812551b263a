// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package debugger drives the Win32 user-mode debugging API: attaching to
// a process, pumping its debug-event queue, and dispatching each event to
// a chain of listeners that build up the live process model.
package debugger

import (
	"github.com/cyberbisson/pstack-sub001/internal/addr"
)

// EventKind identifies which of the Win32 debug event types a raw
// DEBUG_EVENT carries.
type EventKind int

const (
	EventCreateProcess EventKind = iota
	EventCreateThread
	EventExitThread
	EventExitProcess
	EventLoadDLL
	EventUnloadDLL
	EventOutputDebugString
	EventException
	EventRIP
)

// Event is the debugger's normalized view of one debug event: the common
// fields every event carries, plus whichever kind-specific payload
// applies.
type Event struct {
	Kind      EventKind
	ProcessID addr.ProcessID
	ThreadID  addr.ThreadID

	CreateProcess *CreateProcessInfo
	CreateThread  *CreateThreadInfo
	LoadDLL       *LoadDLLInfo
	UnloadDLL     *UnloadDLLInfo
	ExitProcess   *ExitProcessInfo
	ExitThread    *ExitThreadInfo
	Exception     *ExceptionInfo
	OutputDebugString *OutputDebugStringInfo
}

// CreateProcessInfo mirrors CREATE_PROCESS_DEBUG_INFO: the debuggee's
// initial module, its image file handle, and its first thread's entry
// point and stack/TEB locations.
type CreateProcessInfo struct {
	FileHandle    addr.Handle
	ProcessHandle addr.Handle
	ThreadHandle  addr.Handle
	BaseOfImage   addr.Address
	ImageName     string
	LocalBase     addr.Address
	StartAddress  addr.Address
}

// CreateThreadInfo mirrors CREATE_THREAD_DEBUG_INFO.
type CreateThreadInfo struct {
	ThreadHandle addr.Handle
	LocalBase    addr.Address
	StartAddress addr.Address
}

// LoadDLLInfo mirrors LOAD_DLL_DEBUG_INFO.
type LoadDLLInfo struct {
	FileHandle  addr.Handle
	BaseOfDLL   addr.Address
	ImageName   string
}

// UnloadDLLInfo mirrors UNLOAD_DLL_DEBUG_INFO.
type UnloadDLLInfo struct {
	BaseOfDLL addr.Address
}

// ExitProcessInfo mirrors EXIT_PROCESS_DEBUG_INFO.
type ExitProcessInfo struct {
	ExitCode uint32
}

// ExitThreadInfo mirrors EXIT_THREAD_DEBUG_INFO.
type ExitThreadInfo struct {
	ExitCode uint32
}

// ExceptionInfo mirrors EXCEPTION_DEBUG_INFO: the faulting address, the
// exception code, and whether this is the first-chance notification of the
// exception (FirstChance false means a second, last-chance notification).
type ExceptionInfo struct {
	Code              uint32
	Address           addr.Address
	FirstChance       bool
	NonContinuable    bool
}

// OutputDebugStringInfo mirrors OUTPUT_DEBUG_STRING_INFO.
type OutputDebugStringInfo struct {
	Text string
}

// Listener observes debug events as the debugger pumps them. A listener
// returns true to claim it handled the event; the pump OR-combines every
// listener's result into the continuation status it resumes the debuggee
// with. Most listeners simply observe and return false.
type Listener interface {
	OnEvent(ev Event) (handled bool)
}

// ListenerFunc adapts a plain function to the Listener interface.
type ListenerFunc func(ev Event) bool

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(ev Event) bool { return f(ev) }
