package blockfs

import "github.com/lunixbochs/struc"

// On-disk format constants (spec §3). These are bit-exact and must never
// change within a build; an existing image is only readable by the exact
// geometry that formatted it.
const (
	blockSize  = 4096
	blockCount = 65536

	totalInodes = 32768

	direct              = 12   // direct pointers per inode
	indirect            = 2    // indirect pointer slots per inode
	pointerSize         = 4    // bytes per block pointer
	pointersPerIndirect = blockSize / pointerSize // 1024

	maxNameLen = 24 // not counting the mandatory trailing NUL

	bitmapWordBits = 32
	bitmapWords    = 1024 // one bitmap block covers bitmapWords*bitmapWordBits bits

	superblockMagic = 0x12345678

	sentinel = -1 // reserved "unallocated" pointer/inode-number value
)

// Block layout (logical block numbers, spec §3 "Block layout").
const (
	blockSuperblock  = 0
	blockInodeBitmap = 1
	blockDataBitmap0 = 2
	blockDataBitmap1 = 3
	inodeTableStart  = 4

	dataBitmapCapacity = bitmapWords * bitmapWordBits // bits covered by one bitmap block
)

// maxFileSize is the largest size in bytes a regular file can reach (its
// last addressable offset is maxFileSize-1): every direct pointer plus every
// slot of every indirect block, in bytes.
const maxFileSize = int64(direct+indirect*pointersPerIndirect) * blockSize

// Geometry derived at init time from the packed size of the on-disk
// records, rather than hand-counted, so a change to inodeDisk/dirEntryDisk
// cannot silently desynchronize from the block math around it.
var (
	inodeSize      int
	inodesPerBlock int
	inodeTableSize int // blocks
	firstDataBlock int // first block of the data region (absolute)

	dirEntrySize   int
	entriesPerBlock int
)

func init() {
	var err error
	inodeSize, err = struc.Sizeof(&inodeDisk{})
	if err != nil {
		panic("blockfs: cannot size inodeDisk: " + err.Error())
	}
	inodesPerBlock = blockSize / inodeSize
	inodeTableSize = ceilDiv(totalInodes, inodesPerBlock)
	firstDataBlock = inodeTableStart + inodeTableSize

	dirEntrySize, err = struc.Sizeof(&dirEntryDisk{})
	if err != nil {
		panic("blockfs: cannot size dirEntryDisk: " + err.Error())
	}
	entriesPerBlock = blockSize / dirEntrySize
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
