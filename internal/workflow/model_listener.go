// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package workflow wires the debugger engine, process model, image reader,
// symbol engine, and stack walker into the two operator-facing tools: the
// address resolver and the stack printer.
package workflow

import (
	"github.com/cyberbisson/pstack-sub001/internal/addr"
	"github.com/cyberbisson/pstack-sub001/internal/debugger"
	"github.com/cyberbisson/pstack-sub001/internal/model"
)

// modelListener builds up the process/thread/module model from debug
// events and tracks the "debugger ready" signal each process needs before
// its stack is meaningful to walk: process-create observed and the initial
// breakpoint exception has passed through.
type modelListener struct {
	procs map[addr.ProcessID]*model.Process
	ready map[addr.ProcessID]bool
	done  map[addr.ProcessID]bool

	activeThread map[addr.ProcessID]addr.ThreadID
}

func newModelListener() *modelListener {
	return &modelListener{
		procs:        make(map[addr.ProcessID]*model.Process),
		ready:        make(map[addr.ProcessID]bool),
		done:         make(map[addr.ProcessID]bool),
		activeThread: make(map[addr.ProcessID]addr.ThreadID),
	}
}

// OnEvent implements debugger.Listener, growing and shrinking the process
// model as create/exit/load/unload events arrive.
func (l *modelListener) OnEvent(ev debugger.Event) bool {
	switch ev.Kind {
	case debugger.EventCreateProcess:
		info := ev.CreateProcess
		proc := model.NewProcess(ev.ProcessID, info.ProcessHandle)
		proc.AddThread(&model.Thread{
			ID:           ev.ThreadID,
			Handle:       info.ThreadHandle,
			StartAddress: info.StartAddress,
			LocalBase:    info.LocalBase,
		})
		proc.AddModule(model.Module{Path: info.ImageName, Base: info.BaseOfImage})
		l.procs[ev.ProcessID] = proc
		l.activeThread[ev.ProcessID] = ev.ThreadID

	case debugger.EventCreateThread:
		if proc, ok := l.procs[ev.ProcessID]; ok {
			proc.AddThread(&model.Thread{
				ID:           ev.ThreadID,
				Handle:       ev.CreateThread.ThreadHandle,
				StartAddress: ev.CreateThread.StartAddress,
				LocalBase:    ev.CreateThread.LocalBase,
			})
		}

	case debugger.EventExitThread:
		if proc, ok := l.procs[ev.ProcessID]; ok {
			proc.RemoveThread(ev.ThreadID)
		}

	case debugger.EventLoadDLL:
		if proc, ok := l.procs[ev.ProcessID]; ok {
			proc.AddModule(model.Module{Path: ev.LoadDLL.ImageName, Base: ev.LoadDLL.BaseOfDLL})
		}

	case debugger.EventUnloadDLL:
		if proc, ok := l.procs[ev.ProcessID]; ok {
			proc.RemoveModule(ev.UnloadDLL.BaseOfDLL)
		}

	case debugger.EventException:
		// The very first exception a freshly attached process reports is
		// the implicit initial breakpoint every Windows debuggee raises
		// before any user code runs; by then process-create has already
		// been dispatched, so the process and its startup DLLs are known.
		if ev.Exception.FirstChance && !l.ready[ev.ProcessID] {
			l.ready[ev.ProcessID] = true
		}

	case debugger.EventExitProcess:
		if proc, ok := l.procs[ev.ProcessID]; ok {
			proc.Close()
		}
		l.ready[ev.ProcessID] = true
		l.done[ev.ProcessID] = true
	}

	return false
}

// Process returns the model built for pid, if any event for it has been
// observed.
func (l *modelListener) Process(pid addr.ProcessID) (*model.Process, bool) {
	p, ok := l.procs[pid]
	return p, ok
}

// ActiveThread returns the thread ID the debugger considers "current" for
// pid: the one reported on the process-create event.
func (l *modelListener) ActiveThread(pid addr.ProcessID) addr.ThreadID {
	return l.activeThread[pid]
}

// Ready reports whether pid has reached the "debugger ready" state.
func (l *modelListener) Ready(pid addr.ProcessID) bool {
	return l.ready[pid]
}

// AllReady reports whether every pid in pids has reached "debugger ready"
// (a process that has already exited counts as ready: there is nothing
// further to wait for).
func (l *modelListener) AllReady(pids []addr.ProcessID) bool {
	for _, pid := range pids {
		if !l.ready[pid] {
			return false
		}
	}
	return true
}
