// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package workflow

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cyberbisson/pstack-sub001/internal/addr"
	"github.com/cyberbisson/pstack-sub001/internal/debugger"
	"github.com/cyberbisson/pstack-sub001/internal/model"
	"github.com/cyberbisson/pstack-sub001/internal/peimage"
	"github.com/cyberbisson/pstack-sub001/internal/perr"
	"github.com/cyberbisson/pstack-sub001/internal/stackwalk"
	"github.com/cyberbisson/pstack-sub001/internal/symbols"
)

// PStackConfig mirrors the options pstack's CLI accepts, built once in main
// and passed by reference rather than held in a package-level singleton.
type PStackConfig struct {
	ShowAllThreads bool // /A (default true; /O sets this false)
	ShowFrames     bool // /F
	ScanImage      bool // /I -- also consult the on-disk image's debug symbols/exports
	Verbose        bool // hidden diagnostic flag driving the debug-event dumper
	DumpModuleInfo bool // /X -- undocumented: dump module info instead of walking

	Logger *logrus.Logger
}

// RunPStack implements the stack-printer workflow: attach to every pid,
// pump debug events until each is "debugger ready", then render each
// thread's call stack. A PID that fails to attach does not stop the others
// from being printed; its error is returned once every reachable PID has
// been processed. The per-process banner is printed only when more than one
// PID was given.
func RunPStack(ctx context.Context, eng *debugger.Engine, pids []addr.ProcessID, cfg PStackConfig, out io.Writer) error {
	ml := newModelListener()
	eng.AddEventListener(ml)
	if cfg.Verbose {
		eng.AddEventListener(debugger.NewEventDumper(cfg.Logger))
	}

	var attached []addr.ProcessID
	var firstErr error

	// Every attached PID gets a final continue-and-detach on the way out,
	// even on a cancellation or error path: the slice is closed over, not
	// copied, so PIDs attached after this defer runs are still covered.
	defer func() {
		for _, pid := range attached {
			if err := eng.Detach(pid); err != nil && cfg.Logger != nil {
				cfg.Logger.WithError(err).WithField("pid", pid).Warn("failed to detach")
			}
		}
	}()

	for _, pid := range pids {
		if err := eng.AttachToProcess(pid); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		attached = append(attached, pid)
	}

	render := attached
	for !ml.AllReady(attached) {
		select {
		case <-ctx.Done():
			firstErr = perr.NewCancellation("stack printer canceled: %v", ctx.Err())
			render = readyOnly(ml, attached)
		default:
		}
		if ctx.Err() != nil {
			break
		}
		if err := eng.WaitForEvent(ctx); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			break
		}
	}

	opts := &peimage.Options{Logger: cfg.Logger}

	for _, pid := range render {
		if len(pids) > 1 {
			fmt.Fprintf(out, "\n---------- PROCESS %s ----------\n", pid)
		}

		proc, ok := ml.Process(pid)
		if !ok {
			continue
		}

		if err := renderProcess(ctx, eng, proc, ml.ActiveThread(pid), cfg, opts, out); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// readyOnly filters pids down to those the model already marked ready,
// used when the pump is abandoned early by context cancellation so the
// workflow still prints whatever became available.
func readyOnly(ml *modelListener, pids []addr.ProcessID) []addr.ProcessID {
	var out []addr.ProcessID
	for _, pid := range pids {
		if ml.Ready(pid) {
			out = append(out, pid)
		}
	}
	return out
}

// renderProcess prints one process's requested thread(s): the active
// thread only, or every thread, depending on cfg.ShowAllThreads.
func renderProcess(
	ctx context.Context,
	eng *debugger.Engine,
	proc *model.Process,
	activeThread addr.ThreadID,
	cfg PStackConfig,
	opts *peimage.Options,
	out io.Writer,
) error {
	resolver := newModuleResolver(proc, opts)
	defer resolver.Close()

	if cfg.DumpModuleInfo {
		for _, mod := range proc.Modules() {
			sf, err := resolver.OpenSymbolFile(mod)
			if err != nil {
				continue
			}
			sf.DumpModuleInfo(out)
		}
		return nil
	}

	var firstErr error
	if !cfg.ShowAllThreads {
		if t, ok := proc.Threads[activeThread]; ok {
			if err := renderThread(ctx, eng, proc, t, resolver, cfg, out); err != nil {
				firstErr = err
			}
		}
		return firstErr
	}

	for _, t := range proc.Threads {
		if err := renderThread(ctx, eng, proc, t, resolver, cfg, out); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// renderThread walks one thread's stack and prints the per-thread header
// followed by one line per frame.
func renderThread(
	ctx context.Context,
	eng *debugger.Engine,
	proc *model.Process,
	t *model.Thread,
	resolver *moduleResolver,
	cfg PStackConfig,
	out io.Writer,
) error {
	pc, sp, _, err := eng.ThreadContext(t.Handle)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nCall stack (thread: %s):\n", t.ID)
	header := "Module\t\tAddress"
	if cfg.ShowFrames {
		header += "\t\t\tFrame"
	}
	fmt.Fprintln(out, header)

	walker := stackwalk.New(memReader{eng: eng, process: proc.Handle.View()}, resolver, 0)
	frames, walkErr := walker.Walk(ctx, pc, sp)

	for _, frame := range frames {
		renderFrame(out, eng, proc.Handle, frame, resolver, cfg)
	}
	return walkErr
}

// renderFrame prints one frame line: `<module, 15-wide left-aligned>
// <pc>[<TAB><fp>][ - <name> [+<hex offset>]]`.
func renderFrame(out io.Writer, eng *debugger.Engine, process addr.SharedHandle, frame stackwalk.Frame, resolver *moduleResolver, cfg PStackConfig) {
	modName := "(Unknown)"
	if frame.HasModule {
		modName = moduleDisplayName(frame.Module.Path)
	}
	fmt.Fprintf(out, "%-15s %s", modName, frame.ReturnAddress)

	if cfg.ShowFrames {
		fmt.Fprintf(out, "\t%s", frame.FramePointer)
	}

	if frame.HasModule {
		if sym, ok := resolveFrameSymbol(eng, process, resolver, frame, cfg); ok {
			if sym.CodeOffset != 0 {
				fmt.Fprintf(out, " - %s [+0x%X]", sym.Name, sym.CodeOffset)
			} else {
				fmt.Fprintf(out, " - %s", sym.Name)
			}
		}
	}

	fmt.Fprint(out, "\n")
}

// moduleDisplayName reduces a module's full file-system path to the bare
// image name the stack listing prints: no directory, no extension. Paths
// arrive with either separator depending on how the load event reported
// them.
func moduleDisplayName(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		path = path[i+1:]
	}
	if i := strings.LastIndexByte(path, '.'); i > 0 {
		path = path[:i]
	}
	return path
}

// resolveFrameSymbol names a frame's return address, consulting the live
// in-memory debug-info service first and falling back to the module's own
// embedded debug symbols and export table. process is acquired for the
// duration of the live lookup; the handle stays open as long as either the
// model or this lookup still needs it.
func resolveFrameSymbol(eng *debugger.Engine, process addr.SharedHandle, resolver *moduleResolver, frame stackwalk.Frame, cfg PStackConfig) (symbols.Symbol, bool) {
	sf, err := resolver.OpenSymbolFile(frame.Module)
	if err != nil {
		return symbols.Symbol{}, false
	}
	ref := process.Acquire()
	defer ref.Release()
	engine := symbols.NewLiveEngine(sf, eng, ref.View(), cfg.ScanImage)
	return engine.FindSymbol(frame.ReturnAddress)
}

// memReader adapts debugger.Engine's process-scoped memory read to the
// stackwalk.MemoryReader interface, binding it to one process for the
// lifetime of a single Walk call.
type memReader struct {
	eng     *debugger.Engine
	process addr.Handle
}

func (m memReader) ReadMemory(ctx context.Context, address addr.Address, size int) ([]byte, error) {
	return m.eng.ReadMemory(ctx, m.process, address, size)
}

// moduleResolver satisfies stackwalk.ModuleResolver by looking modules up
// in the live process model and lazily opening (and caching) each module's
// on-disk image the first time its unwind table or symbols are needed.
type moduleResolver struct {
	proc  *model.Process
	opts  *peimage.Options
	cache map[addr.Address]*peimage.SymbolFile
}

func newModuleResolver(proc *model.Process, opts *peimage.Options) *moduleResolver {
	return &moduleResolver{proc: proc, opts: opts, cache: make(map[addr.Address]*peimage.SymbolFile)}
}

func (r *moduleResolver) ModuleAt(address addr.Address) (model.Module, bool) {
	return r.proc.ModuleAt(address)
}

func (r *moduleResolver) OpenSymbolFile(m model.Module) (*peimage.SymbolFile, error) {
	if sf, ok := r.cache[m.Base]; ok {
		return sf, nil
	}
	sf, err := peimage.NewSymbolFile(m.Path, m.Base, r.opts)
	if err != nil {
		return nil, err
	}
	r.cache[m.Base] = sf
	return sf, nil
}

// Close releases every image opened over the lifetime of this resolver.
func (r *moduleResolver) Close() {
	for _, sf := range r.cache {
		sf.Close()
	}
}
