// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package addr

import "sync"

// Closer releases the OS resource backing a Handle. It must be safe to call
// exactly once and must not panic.
type Closer func(raw uintptr) error

// Handle is a scoped OS resource identifier: it takes ownership on
// construction and closes exactly once, on the first Close call, regardless
// of how many exit paths a caller has. Handle is movable (plain assignment in
// Go) but must not be copied after a Close call; use Share to obtain a
// reference-counted variant when ownership is genuinely joint.
type Handle struct {
	raw    uintptr
	closer Closer
	once   *sync.Once
}

// NewHandle wraps raw, taking ownership. closer is invoked at most once, the
// first time Close is called.
func NewHandle(raw uintptr, closer Closer) Handle {
	return Handle{raw: raw, closer: closer, once: &sync.Once{}}
}

// Raw returns the underlying platform handle value for passing to OS calls.
func (h Handle) Raw() uintptr { return h.raw }

// Valid reports whether the handle wraps a non-zero raw value.
func (h Handle) Valid() bool { return h.raw != 0 }

// Close releases the handle. Safe to call multiple times; only the first
// call invokes the closer.
func (h Handle) Close() error {
	if h.closer == nil || h.once == nil {
		return nil
	}
	var err error
	h.once.Do(func() {
		err = h.closer(h.raw)
	})
	return err
}

// SharedHandle reference-counts ownership of a Handle among cooperating
// components, e.g. a process handle held jointly by the process model and
// the symbol engine. The underlying Handle is closed when the last owner
// releases it.
type SharedHandle struct {
	state *sharedState
}

type sharedState struct {
	mu   sync.Mutex
	h    Handle
	refs int
}

// NewSharedHandle wraps h with an initial reference count of one.
func NewSharedHandle(h Handle) SharedHandle {
	return SharedHandle{state: &sharedState{h: h, refs: 1}}
}

// Acquire increments the reference count and returns the same shared handle.
func (s SharedHandle) Acquire() SharedHandle {
	s.state.mu.Lock()
	s.state.refs++
	s.state.mu.Unlock()
	return s
}

// Raw returns the underlying platform handle value.
func (s SharedHandle) Raw() uintptr { return s.state.h.Raw() }

// View returns a non-owning Handle exposing the same raw value, for passing
// to APIs that only need to read through the handle (e.g. ReadProcessMemory,
// SymFromAddr). Closing the view has no effect; only Release drops a
// reference.
func (s SharedHandle) View() Handle {
	return Handle{raw: s.state.h.Raw()}
}

// Release decrements the reference count, closing the underlying handle when
// it reaches zero.
func (s SharedHandle) Release() error {
	s.state.mu.Lock()
	s.state.refs--
	closeNow := s.state.refs <= 0
	s.state.mu.Unlock()
	if closeNow {
		return s.state.h.Close()
	}
	return nil
}
