// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build !windows

package debugger

import (
	"context"

	"github.com/cyberbisson/pstack-sub001/internal/addr"
	"github.com/cyberbisson/pstack-sub001/internal/perr"
)

// stubPlatform backs Engine on every non-Windows GOOS. The Win32 debugging
// API this package drives has no portable equivalent, so every operation
// reports Unimplemented rather than attempting a best-effort translation
// to ptrace or another platform's debug facility; addr2ln's file-based
// workflows never call into this type.
type stubPlatform struct{}

func newPlatform() platform {
	return stubPlatform{}
}

func (stubPlatform) attachToProcess(pid addr.ProcessID) error {
	return perr.NewUnimplemented("process debugging is only supported on Windows")
}

func (stubPlatform) detachProcess(pid addr.ProcessID) error {
	return perr.NewUnimplemented("process debugging is only supported on Windows")
}

func (stubPlatform) waitForEvent(ctx context.Context) (Event, error) {
	return Event{}, perr.NewUnimplemented("process debugging is only supported on Windows")
}

func (stubPlatform) continueEvent(ev Event, handled bool) error {
	return perr.NewUnimplemented("process debugging is only supported on Windows")
}

func (stubPlatform) readMemory(ctx context.Context, process addr.Handle, address addr.Address, size int) ([]byte, error) {
	return nil, perr.NewUnimplemented("process debugging is only supported on Windows")
}

func (stubPlatform) enableDebugPrivilege() error {
	return perr.NewUnimplemented("process debugging is only supported on Windows")
}

func (stubPlatform) threadContext(thread addr.Handle) (pc, sp, fp addr.Address, err error) {
	return 0, 0, 0, perr.NewUnimplemented("process debugging is only supported on Windows")
}

// findLiveSymbol reports no match rather than an error: the in-memory
// debug-info service is an optional first step in the symbol engine's
// fallback chain, and its absence on this platform is no
// different from it simply not recognizing an address.
func (stubPlatform) findLiveSymbol(process addr.Handle, address addr.Address) (string, uint64, bool) {
	return "", 0, false
}
