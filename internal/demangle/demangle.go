// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package demangle implements a best-effort Itanium C++ ABI name
// undecorator. It never returns an error and never panics: on any input it
// cannot confidently undecorate, it returns the empty string and the caller
// falls back to the original mangled name.
package demangle

import "strings"

// Demangle attempts to undecorate a mangled function name. On success it
// returns the readable form; on any failure (unrecognized prefix, malformed
// length-prefixed component, trailing garbage) it returns "".
func Demangle(name string) string {
	defer func() { recover() }()

	rest := name
	switch {
	case strings.HasPrefix(rest, "_Z"):
		rest = rest[2:]
	case strings.HasPrefix(rest, "__Z"):
		rest = rest[3:]
	default:
		return ""
	}

	d := &decoder{src: rest}
	out, ok := d.parseMangledName()
	if !ok || d.pos != len(d.src) {
		return ""
	}
	return out
}

// decoder walks a stripped (prefix-removed) Itanium mangled-name string.
// It implements just enough of the grammar to undecorate the common case
// emitted by native toolchains for free functions and simple member
// functions: nested-name components and a template-less function name. An
// encoded parameter list is not decoded: a name with any text left after
// its name part is reported as a decode failure. Anything more exotic
// (templates, substitutions, operators) is likewise left unrecognized and
// reported as a decode failure, matching the demangler's "best effort,
// never wrong" contract.
type decoder struct {
	src string
	pos int
}

func (d *decoder) parseMangledName() (string, bool) {
	if d.pos < len(d.src) && d.src[d.pos] == 'N' {
		return d.parseNestedName()
	}
	return d.parseSourceNameChain("")
}

func (d *decoder) parseNestedName() (string, bool) {
	d.pos++ // consume 'N'
	// Optional CV-qualifiers and ref-qualifiers are not supported; bail if
	// present so the demangler reports failure rather than guessing.
	for d.pos < len(d.src) && strings.ContainsRune("rVKRO", rune(d.src[d.pos])) {
		return "", false
	}
	name, ok := d.parseSourceNameChain("::")
	if !ok {
		return "", false
	}
	if d.pos >= len(d.src) || d.src[d.pos] != 'E' {
		return "", false
	}
	d.pos++ // consume 'E'
	return name, true
}

func (d *decoder) parseSourceNameChain(sep string) (string, bool) {
	var parts []string
	for {
		if d.pos >= len(d.src) || d.src[d.pos] < '0' || d.src[d.pos] > '9' {
			break
		}
		part, ok := d.parseSourceName()
		if !ok {
			return "", false
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, sep), true
}

func (d *decoder) parseSourceName() (string, bool) {
	start := d.pos
	for d.pos < len(d.src) && d.src[d.pos] >= '0' && d.src[d.pos] <= '9' {
		d.pos++
	}
	if d.pos == start {
		return "", false
	}
	n := 0
	for _, c := range d.src[start:d.pos] {
		n = n*10 + int(c-'0')
	}
	if n <= 0 || d.pos+n > len(d.src) {
		return "", false
	}
	name := d.src[d.pos : d.pos+n]
	d.pos += n
	return name, true
}
