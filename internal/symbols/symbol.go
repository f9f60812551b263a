// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package symbols resolves a virtual address to the nearest named symbol
// in a loaded module, combining the module's embedded COFF debug symbols
// with its export table the way a release-mode Windows debugger must: most
// production binaries ship no debug symbols at all, so the export table is
// often the only source of names available.
package symbols

import (
	"github.com/cyberbisson/pstack-sub001/internal/addr"
	"github.com/cyberbisson/pstack-sub001/internal/demangle"
	"github.com/cyberbisson/pstack-sub001/internal/peimage"
)

// Symbol is a named location resolved from an address: the symbol's own
// address, a human-readable name (demangled where possible), and the
// address's offset past the symbol's start.
type Symbol struct {
	Address    addr.Address
	Name       string
	CodeOffset uint64
}

// LiveSource is the optional in-memory debug-info service consulted before
// the embedded image tables: a debugger attached to a
// running process can see PDB-backed symbols the on-disk image's own COFF
// directory never carries. It is satisfied by *debugger.Engine without this
// package importing debugger, avoiding an import cycle (the debugger
// package has no reason to know about symbol resolution).
type LiveSource interface {
	FindLiveSymbol(process addr.Handle, address addr.Address) (name string, displacement uint64, ok bool)
}

// Engine resolves addresses against one module's debug and export symbols,
// optionally preferring a live debug-info service over either when one is
// attached.
type Engine struct {
	module    *peimage.SymbolFile
	live      LiveSource
	process   addr.Handle
	scanImage bool
}

// NewEngine builds a resolution engine bound to an already-opened module.
// Used as-is by the address resolver workflow, which has no live process to
// consult and so always scans the module's own debug symbols and exports --
// they are its only source of names.
func NewEngine(module *peimage.SymbolFile) *Engine {
	return &Engine{module: module, scanImage: true}
}

// NewLiveEngine builds a resolution engine that consults a live debug-info
// service attached to process before falling back to the module's own
// tables, the algorithm the stack-printer workflow needs. scanImage mirrors
// pstack's /I switch: when false, a live-service miss is reported as
// unresolved rather than falling through to the on-disk image's debug
// symbols and export table.
func NewLiveEngine(module *peimage.SymbolFile, live LiveSource, process addr.Handle, scanImage bool) *Engine {
	return &Engine{module: module, live: live, process: process, scanImage: scanImage}
}

// FindSymbol locates the symbol that best explains address: the live
// debug-info service is tried first and returned immediately on a
// hit; otherwise, if scanImage is set, the module's COFF debug symbols and
// export table are checked independently and the closer (smaller code
// offset) candidate wins, debug symbols breaking a tie.
func (e *Engine) FindSymbol(address addr.Address) (Symbol, bool) {
	if e.live != nil {
		if name, displacement, ok := e.live.FindLiveSymbol(e.process, address); ok {
			return Symbol{
				Address:    address.Add(0 - displacement),
				Name:       name,
				CodeOffset: displacement,
			}, true
		}
	}

	if !e.scanImage {
		return Symbol{}, false
	}

	debugSym, debugOK := e.checkDebugSymbols(address)
	exportSym, exportOK := e.checkExports(address)

	switch {
	case !debugOK && !exportOK:
		return Symbol{}, false
	case !debugOK:
		return exportSym, true
	case !exportOK:
		return debugSym, true
	case debugSym.CodeOffset <= exportSym.CodeOffset:
		return debugSym, true
	default:
		return exportSym, true
	}
}

// checkDebugSymbols scans the module's COFF function symbols for the
// nearest address not exceeding the query address.
func (e *Engine) checkDebugSymbols(address addr.Address) (Symbol, bool) {
	table := e.module.File().COFFSymbols()
	if table == nil {
		return Symbol{}, false
	}

	base := e.module.Base()
	var nearest *peimage.COFFSymbol
	var nearestAddr addr.Address

	for i := range table.Symbols {
		sym := &table.Symbols[i]
		if !sym.IsFunction() {
			continue
		}

		curAddr := base.Add(uint64(sym.Value))
		if curAddr == address {
			nearest = sym
			nearestAddr = curAddr
			break
		}
		if curAddr.Sub(address) > 0 {
			continue
		}
		if nearest != nil && curAddr.Sub(nearestAddr) <= 0 {
			continue
		}

		nearest = sym
		nearestAddr = curAddr
	}

	if nearest == nil {
		return Symbol{}, false
	}

	name := table.Name(*nearest)
	if demangled := demangle.Demangle(name); demangled != "" {
		name = demangled
	}

	return Symbol{
		Address:    nearestAddr,
		Name:       name,
		CodeOffset: uint64(address.Sub(nearestAddr)),
	}, true
}

// checkExports scans the module's export table the same way, since an
// exported DLL entry point is effectively the same kind of "nearest
// function start" fact as a debug symbol, just sourced from a different
// table.
func (e *Engine) checkExports(address addr.Address) (Symbol, bool) {
	exports := e.module.File().Exports()
	if len(exports.Functions) == 0 {
		return Symbol{}, false
	}

	base := e.module.Base()
	var nearest *peimage.ExportFunction
	var nearestAddr addr.Address

	for i := range exports.Functions {
		fn := &exports.Functions[i]
		if fn.Name == "" || fn.Forwarder != "" {
			continue
		}

		curAddr := base.Add(uint64(fn.FunctionRVA))
		if curAddr == address {
			nearest = fn
			nearestAddr = curAddr
			break
		}
		if curAddr.Sub(address) > 0 {
			continue
		}
		if nearest != nil && fn.FunctionRVA <= nearest.FunctionRVA {
			continue
		}

		nearest = fn
		nearestAddr = curAddr
	}

	if nearest == nil {
		return Symbol{}, false
	}

	return Symbol{
		Address:    nearestAddr,
		Name:       nearest.Name,
		CodeOffset: uint64(address.Sub(nearestAddr)),
	}, true
}
