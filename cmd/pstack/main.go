// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cyberbisson/pstack-sub001/internal/addr"
	"github.com/cyberbisson/pstack-sub001/internal/cliopts"
	"github.com/cyberbisson/pstack-sub001/internal/debugger"
	"github.com/cyberbisson/pstack-sub001/internal/perr"
	"github.com/cyberbisson/pstack-sub001/internal/workflow"
)

const version = "0.0.1"

// run parses pstack's slash-flag grammar out of args, attaches to every
// named process, and prints each one's call stack(s). Returns the process
// exit code for whatever error surfaces.
func run(args []string) int {
	argTakers := map[string]bool{} // every pstack flag is a boolean switch

	flags, positional := cliopts.ScanSlashFlags(args, argTakers)

	cfg := workflow.PStackConfig{ShowAllThreads: true}
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	for _, f := range flags {
		switch f.Letter {
		case "A":
			cfg.ShowAllThreads = true
		case "O":
			cfg.ShowAllThreads = false
		case "F":
			cfg.ShowFrames = true
		case "I":
			cfg.ScanImage = true
		case "P":
			// handled below, after the engine exists
		case "X":
			cfg.DumpModuleInfo = true
		case "D":
			// undocumented: turn on debug logging and the event dumper
			logger.SetLevel(logrus.DebugLevel)
		case "V":
			fmt.Fprintf(os.Stdout, "pstack version %s\n", version)
			return 0
		case "?", "H":
			printUsage(os.Stdout)
			return 0
		default:
			fmt.Fprintf(os.Stderr, "Unrecognized option: /%s\n", f.Letter)
			return perr.ExitCode(perr.NewUserInputError("unrecognized option /%s", f.Letter))
		}
	}

	if len(positional) == 0 {
		fmt.Fprintln(os.Stderr, "No processes specified.")
		return perr.ExitCode(perr.NewUserInputError("no processes specified"))
	}

	var pids []addr.ProcessID
	for _, a := range positional {
		pid, err := cliopts.ParsePID(a)
		if err != nil {
			printError(err, logger)
			return perr.ExitCode(err)
		}
		pids = append(pids, pid)
	}

	cfg.Verbose = logger.IsLevelEnabled(logrus.DebugLevel)
	cfg.Logger = logger

	eng := debugger.New()
	for _, f := range flags {
		if f.Letter == "P" {
			if err := eng.EnableDebugPrivilege(); err != nil {
				logger.WithError(err).Warn("failed to acquire debug privilege")
			}
		}
	}

	err := workflow.RunPStack(context.Background(), eng, pids, cfg, os.Stdout)
	if err != nil {
		printError(err, logger)
	}
	return perr.ExitCode(err)
}

// printError writes one program-name-prefixed line to stderr; at debug log
// level the line also carries the error's captured source location.
func printError(err error, logger *logrus.Logger) {
	if logger != nil && logger.IsLevelEnabled(logrus.DebugLevel) {
		if loc := perr.Location(err); loc != "" {
			fmt.Fprintf(os.Stderr, "pstack: %v [%s]\n", err, loc)
			return
		}
	}
	fmt.Fprintf(os.Stderr, "pstack: %v\n", err)
}

func printUsage(w *os.File) {
	fmt.Fprintln(w, "usage: pstack [/A|/O] [/F] [/I] [/P] <pid> [<pid>...]")
	fmt.Fprintln(w, "  /A  show all threads (default)")
	fmt.Fprintln(w, "  /O  show only the active thread")
	fmt.Fprintln(w, "  /F  include frame pointers")
	fmt.Fprintln(w, "  /I  scan on-disk image if runtime symbols are missing")
	fmt.Fprintln(w, "  /P  request elevated debug privilege")
	fmt.Fprintln(w, "  /V  print version and exit")
	fmt.Fprintln(w, "  /? or /H  print this message and exit")
}

func main() {
	var rootCmd = &cobra.Command{
		Use:                "pstack <pid> [<pid>...]",
		Short:              "Prints the call stack of one or more running processes",
		Long:               "pstack attaches to one or more live processes and prints each one's current call stack, resolving return addresses to symbol names where possible.",
		DisableFlagParsing: true,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(run(args))
		},
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pstack: %v\n", err)
		os.Exit(perr.ExitCode(perr.NewUserInputError("%v", err)))
	}
}
