// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package peimage reads the structures of a Windows PE image needed to
// resolve an address to a symbol and recover a caller's frame: the COFF
// symbol table, the export table, and the x64 native unwind table. It does
// not attempt a general-purpose PE parse; directories unrelated to symbol
// and unwind resolution (imports, resources, certificates, relocations,
// and the rest) are out of scope.
package peimage

import (
	"io"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/sirupsen/logrus"

	"github.com/cyberbisson/pstack-sub001/internal/perr"
)

// File represents an open, parsed PE image.
type File struct {
	dos         DOSHeader
	fileHeader  FileHeader
	opt32       OptionalHeader32
	opt64       OptionalHeader64
	is64        bool
	preferredBase uint64

	sections     []Section
	sectionsByVA []Section

	coff   *COFFSymbolTable
	export Export

	unwindEntries []RuntimeFunctionEntry
	unwindInfo    map[uint32]UnwindInfo

	data   mmap.MMap
	size   uint32
	f      *os.File
	opts   *Options
	logger *logrus.Logger
}

// Options configures how a File is parsed.
type Options struct {
	// Logger receives parse diagnostics; a discarding logger is used when
	// nil so callers that do not care about warnings never see output.
	Logger *logrus.Logger
}

func defaultOptions(opts *Options) *Options {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetOutput(io.Discard)
		opts.Logger.SetLevel(logrus.WarnLevel)
	}
	return opts
}

// New opens and parses the PE image at the given path, memory-mapping it
// read-only for the lifetime of the returned File.
func New(name string, opts *Options) (*File, error) {
	osFile, err := os.Open(name)
	if err != nil {
		return nil, perr.NewOsError("open", -1, "opening %s: %v", name, err)
	}

	data, err := mmap.Map(osFile, mmap.RDONLY, 0)
	if err != nil {
		osFile.Close()
		return nil, perr.NewOsError("mmap", -1, "mapping %s: %v", name, err)
	}

	opts = defaultOptions(opts)
	file := &File{
		data:   data,
		size:   uint32(len(data)),
		f:      osFile,
		opts:   opts,
		logger: opts.Logger,
	}
	if err := file.Parse(); err != nil {
		file.Close()
		return nil, err
	}
	return file, nil
}

// NewBytes parses a PE image already held in memory, useful for tests and
// for images read out of a live process's address space rather than a
// file on disk.
func NewBytes(data []byte, opts *Options) (*File, error) {
	opts = defaultOptions(opts)
	file := &File{
		data:   mmap.MMap(data),
		size:   uint32(len(data)),
		opts:   opts,
		logger: opts.Logger,
	}
	if err := file.Parse(); err != nil {
		return nil, err
	}
	return file, nil
}

// Close unmaps the image and releases the underlying file handle. A File
// built from NewBytes has neither; Close is a no-op for it.
func (f *File) Close() error {
	if f.f == nil {
		return nil
	}
	err := f.data.Unmap()
	if closeErr := f.f.Close(); err == nil {
		err = closeErr
	}
	f.data = nil
	f.f = nil
	return err
}

// Parse walks the image headers in dependency order: DOS header locates
// the NT header, the NT header locates the section table and the data
// directories, and the COFF symbol table and data directories are read
// last since either can be absent without invalidating the rest.
func (f *File) Parse() error {
	if f.size < tinyImageSize {
		return perr.NewImageFormatError("image too small to be a valid PE file (%d bytes)", f.size)
	}

	if err := f.parseDOSHeader(); err != nil {
		return err
	}
	if err := f.parseNTHeader(); err != nil {
		return err
	}
	if err := f.parseSectionHeader(); err != nil {
		return err
	}
	if err := f.parseCOFFSymbolTable(); err != nil {
		f.logger.Debugf("peimage: COFF symbol table: %v", err)
	}

	exportDir := f.dataDirectory(imageDirectoryEntryExport)
	if err := f.parseExportDirectory(exportDir.VirtualAddress, exportDir.Size); err != nil {
		f.logger.Warnf("peimage: export directory: %v", err)
	}

	exceptionDir := f.dataDirectory(imageDirectoryEntryException)
	if err := f.parseExceptionDirectory(exceptionDir.VirtualAddress, exceptionDir.Size); err != nil {
		f.logger.Warnf("peimage: exception directory: %v", err)
	}

	return nil
}

// PreferredBase returns the image's preferred load address, used as the
// module base when no explicit base is given (the addr2ln workflow and
// dumpModule).
func (f *File) PreferredBase() uint64 {
	return f.preferredBase
}

// Is64 reports whether this image is PE32+ (x64).
func (f *File) Is64() bool {
	return f.is64
}

// COFFSymbols returns the parsed COFF symbol table, or nil if the image
// carried none (common for release-built DLLs and EXEs).
func (f *File) COFFSymbols() *COFFSymbolTable {
	return f.coff
}

// Exports returns the parsed export table.
func (f *File) Exports() Export {
	return f.export
}

// Sections returns the section table in file order.
func (f *File) Sections() []Section {
	return f.sections
}
