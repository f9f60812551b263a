// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package addr defines the typed process/thread identifiers and virtual
// address used throughout the debugger and symbol-resolution packages.
package addr

import "fmt"

// Address is an unsigned 64-bit virtual address in a target process's
// address space.
type Address uint64

// String renders the address as a zero-padded 16-digit hex string, matching
// the pointer format the stack-printer and address-resolver workflows use.
func (a Address) String() string {
	return fmt.Sprintf("%016X", uint64(a))
}

// Add returns a+delta, saturating is not required: overflow wraps per Go's
// unsigned-integer semantics, matching native pointer arithmetic.
func (a Address) Add(delta uint64) Address {
	return Address(uint64(a) + delta)
}

// Sub returns the signed displacement a-b. Callers that expect a
// non-negative code offset should check the sign themselves.
func (a Address) Sub(b Address) int64 {
	return int64(uint64(a) - uint64(b))
}

// ProcessID identifies an OS process. Value-compared only.
type ProcessID uint32

func (p ProcessID) String() string { return fmt.Sprintf("%d", uint32(p)) }

// ThreadID identifies an OS thread. Value-compared only.
type ThreadID uint32

func (t ThreadID) String() string { return fmt.Sprintf("%d", uint32(t)) }
