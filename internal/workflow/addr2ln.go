// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package workflow

import (
	"fmt"

	"github.com/cyberbisson/pstack-sub001/internal/addr"
	"github.com/cyberbisson/pstack-sub001/internal/peimage"
	"github.com/cyberbisson/pstack-sub001/internal/symbols"
)

// Addr2LnResult is one resolved (or unresolved) address from an address
// resolver run.
type Addr2LnResult struct {
	Address addr.Address
	Symbol  symbols.Symbol
	Found   bool
}

// ResolveAddresses implements the address resolver workflow: open the
// image at path, bind it to base (or the image's own preferred base when
// base is nil), and resolve every address in addrs against the module's
// embedded debug symbols and export table. This workflow has no live
// process, so the in-memory debug-info service is never consulted.
func ResolveAddresses(path string, base *addr.Address, addrs []addr.Address, opts *peimage.Options) ([]Addr2LnResult, error) {
	file, err := peimage.New(path, opts)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	effectiveBase := addr.Address(file.PreferredBase())
	if base != nil {
		effectiveBase = *base
	}

	sf := peimage.NewSymbolFileFromFile(file, effectiveBase, path)
	engine := symbols.NewEngine(sf)

	results := make([]Addr2LnResult, 0, len(addrs))
	for _, a := range addrs {
		sym, ok := engine.FindSymbol(a)
		results = append(results, Addr2LnResult{Address: a, Symbol: sym, Found: ok})
	}
	return results, nil
}

// FormatAddr2LnLine renders one resolver result:
// `0x<addr> - <name>[ [+0x<offset>]]` or `0x<addr> - NOT FOUND.`.
func FormatAddr2LnLine(r Addr2LnResult) string {
	if !r.Found {
		return fmt.Sprintf("0x%s - NOT FOUND.", r.Address)
	}
	if r.Symbol.CodeOffset == 0 {
		return fmt.Sprintf("0x%s - %s", r.Address, r.Symbol.Name)
	}
	return fmt.Sprintf("0x%s - %s [+0x%X]", r.Address, r.Symbol.Name, r.Symbol.CodeOffset)
}
