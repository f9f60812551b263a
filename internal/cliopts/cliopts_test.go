// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package cliopts

import (
	"errors"
	"testing"

	"github.com/cyberbisson/pstack-sub001/internal/perr"
)

func TestParseAddressForms(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"4096", 4096},
		{"0x1000", 0x1000},
		{"010", 8},
	}
	for _, tt := range tests {
		got, err := ParseAddress(tt.in)
		if err != nil {
			t.Fatalf("ParseAddress(%q) failed: %v", tt.in, err)
		}
		if uint64(got) != tt.want {
			t.Fatalf("ParseAddress(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	if _, err := ParseAddress("not-a-number"); err == nil {
		t.Fatal("expected an error for a non-numeric address")
	}
}

func TestParsePIDForms(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"10", 10},
		{"010", 8},
		{"0x10", 16},
	}
	for _, tt := range tests {
		got, err := ParsePID(tt.in)
		if err != nil {
			t.Fatalf("ParsePID(%q) failed: %v", tt.in, err)
		}
		if uint32(got) != tt.want {
			t.Fatalf("ParsePID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParsePIDRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "garbage", "4294967296"} {
		_, err := ParsePID(in)
		if err == nil {
			t.Fatalf("ParsePID(%q) succeeded, want an error", in)
		}
		var uerr *perr.UserInputError
		if !errors.As(err, &uerr) {
			t.Fatalf("ParsePID(%q) error = %T, want *perr.UserInputError", in, err)
		}
	}
}

func TestScanSlashFlags(t *testing.T) {
	args := []string{"/B", "140000000", "/V", "myapp.exe", "12345"}
	flags, positional := ScanSlashFlags(args, map[string]bool{"B": true})

	if len(flags) != 2 {
		t.Fatalf("flags = %+v, want 2 entries", flags)
	}
	if flags[0].Letter != "B" || flags[0].Value != "140000000" {
		t.Fatalf("flags[0] = %+v", flags[0])
	}
	if flags[1].Letter != "V" || flags[1].Value != "" {
		t.Fatalf("flags[1] = %+v, want a valueless switch", flags[1])
	}
	if len(positional) != 2 || positional[0] != "myapp.exe" || positional[1] != "12345" {
		t.Fatalf("positional = %+v", positional)
	}
}
