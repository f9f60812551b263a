// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package debugger

import (
	"context"

	"github.com/cyberbisson/pstack-sub001/internal/addr"
)

// platform is implemented separately for Windows (the real debug API) and
// every other GOOS (a stub that reports Unimplemented), letting addr2ln's
// portable workflows link against this package without pulling in a
// Windows-only dependency.
type platform interface {
	attachToProcess(pid addr.ProcessID) error
	detachProcess(pid addr.ProcessID) error
	waitForEvent(ctx context.Context) (Event, error)
	continueEvent(ev Event, handled bool) error
	readMemory(ctx context.Context, process addr.Handle, address addr.Address, size int) ([]byte, error)
	enableDebugPrivilege() error
	threadContext(thread addr.Handle) (pc, sp, fp addr.Address, err error)
	findLiveSymbol(process addr.Handle, address addr.Address) (name string, displacement uint64, ok bool)
}

// Engine attaches to one or more target processes and pumps their debug
// events, dispatching each to every registered Listener in order.
type Engine struct {
	platform  platform
	listeners []Listener
}

// New builds an Engine bound to the current platform's debug API
// implementation.
func New() *Engine {
	return &Engine{platform: newPlatform()}
}

// AddEventListener registers a listener to receive every subsequent event.
// Listeners are invoked in registration order.
func (e *Engine) AddEventListener(l Listener) {
	e.listeners = append(e.listeners, l)
}

// EnableDebugPrivilege requests SeDebugPrivilege for the current process,
// needed to attach to processes owned by other users or running
// elevated.
func (e *Engine) EnableDebugPrivilege() error {
	return e.platform.enableDebugPrivilege()
}

// AttachToProcess begins debugging pid. The caller must continue pumping
// events with WaitForEvent until it has gathered whatever state it needs.
func (e *Engine) AttachToProcess(pid addr.ProcessID) error {
	return e.platform.attachToProcess(pid)
}

// Detach stops debugging pid and lets it run free, issuing the
// continue-and-detach teardown every attached process needs on exit from a
// stack-printing session, success or failure alike.
func (e *Engine) Detach(pid addr.ProcessID) error {
	return e.platform.detachProcess(pid)
}

// WaitForEvent blocks for the next debug event, dispatches it to every
// registered listener, and continues the debuggee.
func (e *Engine) WaitForEvent(ctx context.Context) error {
	ev, err := e.platform.waitForEvent(ctx)
	if err != nil {
		return err
	}

	handled := false
	for _, l := range e.listeners {
		if l.OnEvent(ev) {
			handled = true
		}
	}

	return e.platform.continueEvent(ev, handled)
}

// ReadMemory reads size bytes from the target process's address space at
// address, used by the stack walker to read return addresses off the
// target's stack.
func (e *Engine) ReadMemory(ctx context.Context, process addr.Handle, address addr.Address, size int) ([]byte, error) {
	return e.platform.readMemory(ctx, process, address, size)
}

// ThreadContext reads a stopped thread's register context, returning the
// instruction pointer, stack pointer, and frame pointer the stack walker
// seeds its first frame from. The thread must already be stopped at a debug
// event; this is never called against a freely running thread.
func (e *Engine) ThreadContext(thread addr.Handle) (pc, sp, fp addr.Address, err error) {
	return e.platform.threadContext(thread)
}

// FindLiveSymbol consults the platform's in-memory debug-info service (step
// 1 of the symbol engine's algorithm), which can see PDB-backed symbols
// SymInitialize loaded for the live process even when the on-disk image
// carries no COFF debug directory. It reports ok=false, not an error, when
// the service has nothing for this address (or is unavailable on this
// platform) so callers fall through to the embedded symbol/export tables.
func (e *Engine) FindLiveSymbol(process addr.Handle, address addr.Address) (name string, displacement uint64, ok bool) {
	return e.platform.findLiveSymbol(process, address)
}
