// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

// ImageExportDirectory mirrors IMAGE_EXPORT_DIRECTORY: the header of the
// export table, giving the three parallel arrays used to resolve both
// named and ordinal-only exports.
type ImageExportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// ExportFunction is one resolved entry of the export table: either a direct
// export (FunctionRVA points into code/data) or a forwarder (FunctionRVA
// points at an ASCII "DLL.Symbol" string instead, captured in Forwarder).
type ExportFunction struct {
	Ordinal     uint32
	FunctionRVA uint32
	NameRVA     uint32
	Name        string
	Forwarder   string
	ForwarderRVA uint32
}

// Export holds the parsed export directory and the flattened list of
// functions it advertises, including ordinal-only entries with no Name.
type Export struct {
	Struct    ImageExportDirectory
	Functions []ExportFunction
}

// parseExportDirectory reads the export data directory at the given RVA and
// size (zero size means the image has none). AddressOfFunctions is indexed
// by ordinal minus Base; AddressOfNames and AddressOfNameOrdinals are
// parallel arrays mapping a subset of those ordinals to names.
func (f *File) parseExportDirectory(rva, size uint32) error {
	if rva == 0 || size == 0 {
		return nil
	}

	offset := f.offsetFromRVA(rva)
	var dir ImageExportDirectory
	if err := f.structUnpack(&dir, offset, uint32(structSize(dir))); err != nil {
		return err
	}

	functions := make([]ExportFunction, dir.NumberOfFunctions)
	funcsOffset := f.offsetFromRVA(dir.AddressOfFunctions)
	for i := uint32(0); i < dir.NumberOfFunctions; i++ {
		fnRVA, err := f.readUint32(funcsOffset + i*4)
		if err != nil {
			return err
		}
		functions[i] = ExportFunction{
			Ordinal:     dir.Base + i,
			FunctionRVA: fnRVA,
		}
	}

	namesOffset := f.offsetFromRVA(dir.AddressOfNames)
	ordinalsOffset := f.offsetFromRVA(dir.AddressOfNameOrdinals)
	for i := uint32(0); i < dir.NumberOfNames; i++ {
		nameRVA, err := f.readUint32(namesOffset + i*4)
		if err != nil {
			return err
		}
		nameIndex, err := f.readUint16(ordinalsOffset + i*2)
		if err != nil {
			return err
		}
		if uint32(nameIndex) >= uint32(len(functions)) {
			continue
		}
		_, name := f.readASCIIStringAt(f.offsetFromRVA(nameRVA), 512)
		functions[nameIndex].NameRVA = nameRVA
		functions[nameIndex].Name = name
	}

	for i := range functions {
		fnRVA := functions[i].FunctionRVA
		if fnRVA >= rva && fnRVA < rva+size {
			_, fwd := f.readASCIIStringAt(f.offsetFromRVA(fnRVA), 512)
			functions[i].Forwarder = fwd
			functions[i].ForwarderRVA = fnRVA
		}
	}

	f.export = Export{Struct: dir, Functions: functions}
	return nil
}
