// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cyberbisson/pstack-sub001/internal/addr"
	"github.com/cyberbisson/pstack-sub001/internal/cliopts"
	"github.com/cyberbisson/pstack-sub001/internal/peimage"
	"github.com/cyberbisson/pstack-sub001/internal/perr"
	"github.com/cyberbisson/pstack-sub001/internal/workflow"
)

const version = "0.0.1"

// run parses addr2ln's `<module-path> [/b <base-hex>] <addr>...` grammar,
// resolves every address against the module, and prints one line per
// address, each resolved independently of whether earlier ones failed.
func run(args []string) int {
	flags, positional := cliopts.ScanSlashFlags(args, map[string]bool{"B": true})

	var base *addr.Address
	dumpInfo := false
	for _, f := range flags {
		switch f.Letter {
		case "X":
			// undocumented: dump the module's parsed views instead of
			// resolving addresses
			dumpInfo = true
		case "B":
			v, err := cliopts.ParseAddress(f.Value)
			if err != nil {
				fmt.Fprintf(os.Stderr, "addr2ln: %v\n", err)
				return perr.ExitCode(err)
			}
			base = &v
		case "V":
			fmt.Fprintf(os.Stdout, "addr2ln version %s\n", version)
			return 0
		case "?", "H":
			printUsage(os.Stdout)
			return 0
		default:
			fmt.Fprintf(os.Stderr, "Unrecognized option: /%s\n", f.Letter)
			return perr.ExitCode(perr.NewUserInputError("unrecognized option /%s", f.Letter))
		}
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	opts := &peimage.Options{Logger: logger}

	if dumpInfo {
		if len(positional) < 1 {
			fmt.Fprintln(os.Stderr, "usage: addr2ln <module-path> [/b <base-hex>] <addr> [<addr>...]")
			return perr.ExitCode(perr.NewUserInputError("expected a module path"))
		}
		return dumpModule(positional[0], base, opts)
	}

	if len(positional) < 2 {
		fmt.Fprintln(os.Stderr, "usage: addr2ln <module-path> [/b <base-hex>] <addr> [<addr>...]")
		return perr.ExitCode(perr.NewUserInputError("expected a module path and at least one address"))
	}

	modulePath := positional[0]
	var addrs []addr.Address
	for _, a := range positional[1:] {
		v, err := cliopts.ParseAddress(a)
		if err != nil {
			fmt.Fprintf(os.Stderr, "addr2ln: %v\n", err)
			return perr.ExitCode(err)
		}
		addrs = append(addrs, v)
	}

	results, err := workflow.ResolveAddresses(modulePath, base, addrs, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "addr2ln: %v\n", err)
		return perr.ExitCode(err)
	}

	for _, r := range results {
		fmt.Fprintln(os.Stdout, workflow.FormatAddr2LnLine(r))
	}
	return 0
}

// dumpModule prints the module's parsed header, section, symbol, and export
// views instead of resolving any addresses.
func dumpModule(path string, base *addr.Address, opts *peimage.Options) int {
	file, err := peimage.New(path, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "addr2ln: %v\n", err)
		return perr.ExitCode(err)
	}
	defer file.Close()

	effectiveBase := addr.Address(file.PreferredBase())
	if base != nil {
		effectiveBase = *base
	}
	sf := peimage.NewSymbolFileFromFile(file, effectiveBase, path)

	if err := sf.DumpModuleInfo(os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "addr2ln: %v\n", err)
		return perr.ExitCode(err)
	}
	if err := sf.DumpSymbols(os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "addr2ln: %v\n", err)
		return perr.ExitCode(err)
	}
	return 0
}

func printUsage(w *os.File) {
	fmt.Fprintln(w, "usage: addr2ln <module-path> [/b <base-hex>] <addr> [<addr>...]")
	fmt.Fprintln(w, "  /b <base>  treat the module as loaded at <base> instead of its preferred base")
	fmt.Fprintln(w, "  /V         print version and exit")
	fmt.Fprintln(w, "  /? or /H   print this message and exit")
}

func main() {
	var rootCmd = &cobra.Command{
		Use:                "addr2ln <module-path> <addr> [<addr>...]",
		Short:              "Resolves addresses within a module to symbol names",
		Long:               "addr2ln opens a single executable image and resolves one or more addresses within it to the nearest named symbol, using the image's embedded debug symbols and export table.",
		DisableFlagParsing: true,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(run(args))
		},
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "addr2ln: %v\n", err)
		os.Exit(perr.ExitCode(perr.NewUserInputError("%v", err)))
	}
}
