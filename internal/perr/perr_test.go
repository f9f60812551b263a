// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package perr

import "testing"

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"user input", NewUserInputError("bad pid %q", "xyz"), -1},
		{"os error carries code", NewOsError("OpenProcess", 5, "access denied"), 5},
		{"image format", NewImageFormatError("bad signature"), -2},
		{"null reference", NewNullReference("nil module"), -2},
		{"unimplemented", NewUnimplemented("not supported here"), -2},
		{"cancellation is success", NewCancellation("user aborted"), 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExitCode(tc.err); got != tc.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestLocationCaptured(t *testing.T) {
	err := NewUserInputError("bad flag")
	loc := Location(err)
	if loc == "" {
		t.Fatal("expected a non-empty captured location")
	}
}

func TestErrorMessages(t *testing.T) {
	if got := NewOsError("ReadProcessMemory", 6, "invalid handle").Error(); got == "" {
		t.Fatal("expected non-empty error message")
	}
}
