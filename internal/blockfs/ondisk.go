package blockfs

import (
	"bytes"

	"github.com/lunixbochs/struc"
)

// superblockDisk is the on-disk image of block 0.
type superblockDisk struct {
	Magic       uint32 `struc:"uint32,little"`
	BlockSize   uint32 `struc:"uint32,little"`
	TotalBlocks uint32 `struc:"uint32,little"`
	FreeBlocks  uint32 `struc:"uint32,little"`
	TotalInodes uint32 `struc:"uint32,little"`
	FreeInodes  uint32 `struc:"uint32,little"`
	MaxNameLen  uint32 `struc:"uint32,little"`
}

// inodeDisk is the on-disk image of one inode-table record.
type inodeDisk struct {
	Mode       uint32    `struc:"uint32,little"`
	Size       uint64    `struc:"uint64,little"`
	ATimeSec   int64     `struc:"int64,little"`
	ATimeNsec  int64     `struc:"int64,little"`
	MTimeSec   int64     `struc:"int64,little"`
	MTimeNsec  int64     `struc:"int64,little"`
	CTimeSec   int64     `struc:"int64,little"`
	CTimeNsec  int64     `struc:"int64,little"`
	BlockCount uint32    `struc:"uint32,little"`
	Direct     [direct]int32 `struc:"[12]int32,little"`
	Indirect   [indirect]int32 `struc:"[2]int32,little"`
}

// dirEntryDisk is the on-disk image of one directory entry. The name field
// is one byte longer than maxNameLen to guarantee NUL-termination; a
// trailing pad keeps the record a round 32 bytes (128 entries/block).
type dirEntryDisk struct {
	InodeNum int32                `struc:"int32,little"`
	Name     [maxNameLen + 1]byte `struc:"[25]byte"`
	Pad      [3]byte              `struc:"[3]byte"`
}

// indirectBlockDisk is the on-disk image of one indirect pointer block: a
// full block of pointersPerIndirect int32 slots.
type indirectBlockDisk struct {
	Pointers [pointersPerIndirect]int32 `struc:"[1024]int32,little"`
}

// bitmapBlockDisk is the on-disk image of one bitmap block: bitmapWords
// 32-bit words, exactly one block.
type bitmapBlockDisk struct {
	Words [bitmapWords]uint32 `struc:"[1024]uint32,little"`
}

func packInto(buf []byte, v interface{}) error {
	var b bytes.Buffer
	if err := struc.Pack(&b, v); err != nil {
		return err
	}
	for i := range buf {
		buf[i] = 0
	}
	copy(buf, b.Bytes())
	return nil
}

func unpackFrom(buf []byte, v interface{}) error {
	return struc.Unpack(bytes.NewReader(buf), v)
}

func packAt(block []byte, offset int, v interface{}) error {
	var b bytes.Buffer
	if err := struc.Pack(&b, v); err != nil {
		return err
	}
	copy(block[offset:], b.Bytes())
	return nil
}

func unpackAt(block []byte, offset, size int, v interface{}) error {
	return struc.Unpack(bytes.NewReader(block[offset:offset+size]), v)
}
