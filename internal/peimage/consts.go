// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package peimage

// Signature and magic constants recognized while validating image headers.
const (
	imageDOSSignature   = 0x5A4D // MZ
	imageDOSZMSignature = 0x4D5A // ZM, an older DOS stub ordering still seen in the wild

	imageOS2Signature = 0x454E // NE
	imageOS2LE        = 0x454C // LE
	imageVXDSignature = 0x454C // LX/LE share a low word with VXD stubs
	imageTESignature  = 0x5A54 // TE, a trimmed "terse executable" header

	imageNTSignature = 0x00004550 // PE\0\0

	imageNtOptionalHdr32Magic = 0x10b
	imageNtOptionalHdr64Magic = 0x20b
)

// Data directory indices this reader understands; the rest of the 16-entry
// array is skipped.
const (
	imageDirectoryEntryExport    = 0
	imageDirectoryEntryException = 3
)

// tinyImageSize is the smallest file this reader will attempt to parse as a
// PE image; anything shorter cannot possibly hold a DOS header and NT
// header.
const tinyImageSize = 97

// maxDefaultCOFFSymbolsCount bounds how many COFF symbol records a single
// parseCOFFSymbolTable call will read, guarding against a forged
// NumberOfSymbols field driving an unbounded allocation.
const maxDefaultCOFFSymbolsCount = 0x10000

// maxCOFFSymStrLength bounds a single COFF string-table entry's length.
const maxCOFFSymStrLength = 0x50

// COFF symbol type/storage-class values this reader cares about (see
// symbol.go's IsFunction for how these combine).
const (
	imageSymTypeNull = 0
	imageSymDTypeFCN = 0x20 // "derived type" bits identifying a function

	imageSymUndefined = 0
	imageSymAbsolute  = -1
	imageSymDebug     = -2
)
