// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package cliopts parses the command-line conventions both pstack and
// addr2ln inherited from their Windows ancestry: options introduced with a
// forward slash rather than a dash, and numeric arguments accepted in
// decimal, octal (0-prefixed), or hexadecimal (0x-prefixed) form.
package cliopts

import (
	"strconv"
	"strings"

	"github.com/cyberbisson/pstack-sub001/internal/addr"
	"github.com/cyberbisson/pstack-sub001/internal/perr"
)

// ParseAddress parses a single address literal in decimal, octal, or
// hexadecimal form, the same three forms strconv.ParseInt's base-0 mode
// recognizes.
func ParseAddress(s string) (addr.Address, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, perr.NewUserInputError("invalid address %q: %v", s, err)
	}
	return addr.Address(v), nil
}

// ParsePID parses a process ID in the same three numeric forms.
func ParsePID(s string) (addr.ProcessID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, perr.NewUserInputError("invalid process ID %q: %v", s, err)
	}
	return addr.ProcessID(v), nil
}

// Flag is one parsed slash-prefixed option: its letter (uppercased) and,
// for an option that takes an argument, the text of the next token. Text
// after the slash on the same token is all kept in Letter.
type Flag struct {
	Letter string
	Value  string
}

// IsSlashFlag reports whether token looks like a Windows-style slash
// option ("/A", "/output", ...) rather than a positional argument.
func IsSlashFlag(token string) bool {
	return strings.HasPrefix(token, "/") && len(token) > 1
}

// ScanSlashFlags splits args into slash-prefixed flags and the remaining
// positional arguments, in the order they appeared. A flag token's text
// after the slash becomes its Letter; argTakers names which letters (case
// insensitive) consume the following token as their Value rather than
// standing alone as a boolean switch.
func ScanSlashFlags(args []string, argTakers map[string]bool) ([]Flag, []string) {
	var flags []Flag
	var positional []string

	for i := 0; i < len(args); i++ {
		tok := args[i]
		if !IsSlashFlag(tok) {
			positional = append(positional, tok)
			continue
		}

		letter := strings.ToUpper(tok[1:])
		flag := Flag{Letter: letter}
		if argTakers[letter] && i+1 < len(args) {
			i++
			flag.Value = args[i]
		}
		flags = append(flags, flag)
	}

	return flags, positional
}
