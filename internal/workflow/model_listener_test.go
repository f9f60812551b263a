// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package workflow

import (
	"testing"

	"github.com/cyberbisson/pstack-sub001/internal/addr"
	"github.com/cyberbisson/pstack-sub001/internal/debugger"
)

func TestModelListenerBuildsProcessOnCreate(t *testing.T) {
	l := newModelListener()

	l.OnEvent(debugger.Event{
		Kind:      debugger.EventCreateProcess,
		ProcessID: 100,
		ThreadID:  1,
		CreateProcess: &debugger.CreateProcessInfo{
			BaseOfImage:  0x400000,
			ImageName:    "target.exe",
			StartAddress: 0x401000,
		},
	})

	proc, ok := l.Process(100)
	if !ok {
		t.Fatal("expected a process record after EventCreateProcess")
	}
	if len(proc.Threads) != 1 {
		t.Fatalf("Threads = %d, want 1", len(proc.Threads))
	}
	if l.ActiveThread(100) != 1 {
		t.Fatalf("ActiveThread = %d, want 1", l.ActiveThread(100))
	}
	if l.Ready(100) {
		t.Fatal("process should not be ready before its initial breakpoint")
	}
}

func TestModelListenerReadyAfterFirstException(t *testing.T) {
	l := newModelListener()
	l.OnEvent(debugger.Event{Kind: debugger.EventCreateProcess, ProcessID: 1, ThreadID: 1, CreateProcess: &debugger.CreateProcessInfo{}})

	l.OnEvent(debugger.Event{
		Kind:      debugger.EventException,
		ProcessID: 1,
		Exception: &debugger.ExceptionInfo{FirstChance: true},
	})

	if !l.Ready(1) {
		t.Fatal("expected process to be ready after its first first-chance exception")
	}
}

func TestModelListenerExitProcessMarksReady(t *testing.T) {
	l := newModelListener()
	l.OnEvent(debugger.Event{Kind: debugger.EventExitProcess, ProcessID: 7})

	if !l.Ready(7) {
		t.Fatal("expected an exited process to count as ready")
	}
}

func TestModelListenerAllReady(t *testing.T) {
	l := newModelListener()
	pids := []addr.ProcessID{1, 2}

	if l.AllReady(pids) {
		t.Fatal("expected AllReady to be false before any event")
	}

	l.OnEvent(debugger.Event{Kind: debugger.EventExitProcess, ProcessID: 1})
	if l.AllReady(pids) {
		t.Fatal("expected AllReady to be false with one pid still pending")
	}

	l.OnEvent(debugger.Event{Kind: debugger.EventExitProcess, ProcessID: 2})
	if !l.AllReady(pids) {
		t.Fatal("expected AllReady to be true once every pid is ready")
	}
}

func TestModelListenerLoadUnloadDLL(t *testing.T) {
	l := newModelListener()
	l.OnEvent(debugger.Event{Kind: debugger.EventCreateProcess, ProcessID: 1, ThreadID: 1, CreateProcess: &debugger.CreateProcessInfo{BaseOfImage: 0x400000}})
	l.OnEvent(debugger.Event{Kind: debugger.EventLoadDLL, ProcessID: 1, LoadDLL: &debugger.LoadDLLInfo{BaseOfDLL: 0x600000, ImageName: "dep.dll"}})

	proc, _ := l.Process(1)
	if _, ok := proc.ModuleAt(0x600010); !ok {
		t.Fatal("expected dep.dll to be recorded after EventLoadDLL")
	}

	l.OnEvent(debugger.Event{Kind: debugger.EventUnloadDLL, ProcessID: 1, UnloadDLL: &debugger.UnloadDLLInfo{BaseOfDLL: 0x600000}})
	// The exe has no recorded size, so it still covers 0x600010 once
	// dep.dll is removed; the lookup must no longer land on dep.dll.
	if m, ok := proc.ModuleAt(0x600010); ok && m.Path == "dep.dll" {
		t.Fatal("expected dep.dll to be gone after EventUnloadDLL")
	}
}
