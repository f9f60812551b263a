// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

import "testing"

func TestParseRejectsTooSmallImage(t *testing.T) {
	_, err := NewBytes(make([]byte, 10), nil)
	if err == nil {
		t.Fatal("expected error parsing a too-small image, got nil")
	}
}

func TestParseRejectsBadDOSMagic(t *testing.T) {
	b := newMinimalPE64()
	data := b.bytes()
	data[0] = 'X'
	_, err := NewBytes(data, nil)
	if err == nil {
		t.Fatal("expected error for bad DOS magic, got nil")
	}
}

func TestParseMinimalImage(t *testing.T) {
	b := newMinimalPE64()
	b.addSection(".text", 0x1000, 0x200, 0x400, 0x200)

	f, err := NewBytes(b.bytes(), nil)
	if err != nil {
		t.Fatalf("NewBytes failed: %v", err)
	}
	defer f.Close()

	if !f.Is64() {
		t.Fatal("expected a PE32+ image")
	}
	if f.PreferredBase() != 0x180000000 {
		t.Fatalf("preferred base = %#x, want %#x", f.PreferredBase(), 0x180000000)
	}
	if len(f.Sections()) != 1 {
		t.Fatalf("sections = %d, want 1", len(f.Sections()))
	}
	if f.Sections()[0].Name() != ".text" {
		t.Fatalf("section name = %q, want .text", f.Sections()[0].Name())
	}
}

func TestOffsetFromRVA(t *testing.T) {
	b := newMinimalPE64()
	b.addSection(".text", 0x1000, 0x200, 0x400, 0x200)

	f, err := NewBytes(b.bytes(), nil)
	if err != nil {
		t.Fatalf("NewBytes failed: %v", err)
	}
	defer f.Close()

	if got := f.offsetFromRVA(0x1010); got != 0x410 {
		t.Fatalf("offsetFromRVA(0x1010) = %#x, want %#x", got, 0x410)
	}
	if got := f.offsetFromRVA(0x10); got != 0x10 {
		t.Fatalf("offsetFromRVA before any section = %#x, want passthrough %#x", got, 0x10)
	}
}
