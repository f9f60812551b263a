// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package model holds the debugger's live view of a target: the process
// itself, its threads, and the modules (EXE/DLLs) mapped into its address
// space.
package model

import (
	"sort"

	"github.com/cyberbisson/pstack-sub001/internal/addr"
)

// Thread is one thread of execution within a debugged process.
type Thread struct {
	ID     addr.ThreadID
	Handle addr.Handle

	// StartAddress is the thread's entry-point function, as reported by
	// the create-thread debug event. It may be zero for the process's
	// initial thread, which the create-PROCESS event reports instead.
	StartAddress addr.Address

	// LocalBase is the thread's environment block (TEB) address.
	LocalBase addr.Address
}

// Module is one executable image mapped into a process's address space,
// either the main executable or a loaded DLL.
type Module struct {
	Path string
	Base addr.Address
	Size uint64
}

// Contains reports whether address falls within this module's mapped
// range. A module whose Size is not yet known (debug events report only a
// module's base address; its size comes from the image's own optional
// header, read lazily the first time the module's symbol file is opened)
// is treated as extending from Base onward, since LowerBound has already
// established that no later-based module claims address first.
func (m Module) Contains(address addr.Address) bool {
	if m.Size == 0 {
		return m.Base <= address
	}
	return m.Base <= address && uint64(address.Sub(m.Base)) < m.Size
}

// Process is the debugger's view of one debugged target: its identity, its
// known threads, and the modules loaded into it, kept current as debug
// events arrive. Handle is reference-counted: the model holds the first
// reference, and the symbol engine acquires its own transient reference
// while resolving a live frame, so the OS handle stays open as long as
// either side still needs it.
type Process struct {
	ID      addr.ProcessID
	Handle  addr.SharedHandle
	Threads map[addr.ThreadID]*Thread
	modules ModuleMap
}

// NewProcess creates an empty process record ready to be populated from
// the create-process debug event and subsequent load/unload events,
// taking the model's own reference on handle.
func NewProcess(id addr.ProcessID, handle addr.Handle) *Process {
	return &Process{
		ID:      id,
		Handle:  addr.NewSharedHandle(handle),
		Threads: make(map[addr.ThreadID]*Thread),
	}
}

// Close releases the model's reference to the process handle, on process
// exit or final teardown. The underlying OS handle only actually closes
// once every other holder (e.g. a symbol engine resolving a frame at the
// moment of exit) has released its own reference too.
func (p *Process) Close() error {
	return p.Handle.Release()
}

// AddThread records a newly created thread.
func (p *Process) AddThread(t *Thread) {
	p.Threads[t.ID] = t
}

// RemoveThread drops a thread that has exited.
func (p *Process) RemoveThread(id addr.ThreadID) {
	delete(p.Threads, id)
}

// AddModule records a newly loaded module, keeping the module map sorted
// by base address.
func (p *Process) AddModule(m Module) {
	p.modules.insert(m)
}

// RemoveModule drops a module that has been unloaded.
func (p *Process) RemoveModule(base addr.Address) {
	p.modules.remove(base)
}

// ModuleAt returns the module containing address, if any.
func (p *Process) ModuleAt(address addr.Address) (Module, bool) {
	return p.modules.LowerBound(address)
}

// Modules returns every currently-mapped module, sorted by base address.
func (p *Process) Modules() []Module {
	return p.modules.entries
}

// ModuleMap is a base-address-sorted collection of a process's modules,
// supporting the binary search a stack walker needs to map a return
// address to the module that owns it.
type ModuleMap struct {
	entries []Module
}

func (mm *ModuleMap) insert(m Module) {
	i := sort.Search(len(mm.entries), func(i int) bool { return mm.entries[i].Base >= m.Base })
	mm.entries = append(mm.entries, Module{})
	copy(mm.entries[i+1:], mm.entries[i:])
	mm.entries[i] = m
}

func (mm *ModuleMap) remove(base addr.Address) {
	i := sort.Search(len(mm.entries), func(i int) bool { return mm.entries[i].Base >= base })
	if i < len(mm.entries) && mm.entries[i].Base == base {
		mm.entries = append(mm.entries[:i], mm.entries[i+1:]...)
	}
}

// LowerBound returns the module with the greatest base address not
// exceeding addr, the module that would contain addr if any does.
func (mm *ModuleMap) LowerBound(address addr.Address) (Module, bool) {
	i := sort.Search(len(mm.entries), func(i int) bool { return mm.entries[i].Base > address })
	if i == 0 {
		return Module{}, false
	}
	m := mm.entries[i-1]
	if !m.Contains(address) {
		return Module{}, false
	}
	return m, true
}
