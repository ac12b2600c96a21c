package blockfs

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// superblock is the in-memory copy of block 0: the single source of truth
// for free counts between callbacks (spec §5 "Shared resources").
type superblock struct {
	totalBlocks uint32
	freeBlocks  uint32
	totalInodes uint32
	freeInodes  uint32
	maxNameLen  uint32
}

func (fsys *Filesystem) loadSuperblock() error {
	var buf [blockSize]byte
	if err := fsys.dev.ReadBlock(blockSuperblock, buf[:]); err != nil {
		return errors.Wrap(err, "blockfs: read superblock")
	}
	var d superblockDisk
	if err := unpackFrom(buf[:], &d); err != nil {
		return errors.Wrap(err, "blockfs: decode superblock")
	}
	if d.Magic != superblockMagic {
		return errors.Errorf("blockfs: bad superblock magic %#x", d.Magic)
	}
	fsys.sb = superblock{
		totalBlocks: d.TotalBlocks,
		freeBlocks:  d.FreeBlocks,
		totalInodes: d.TotalInodes,
		freeInodes:  d.FreeInodes,
		maxNameLen:  d.MaxNameLen,
	}
	return nil
}

func (fsys *Filesystem) persistSuperblock() error {
	d := superblockDisk{
		Magic:       superblockMagic,
		BlockSize:   blockSize,
		TotalBlocks: fsys.sb.totalBlocks,
		FreeBlocks:  fsys.sb.freeBlocks,
		TotalInodes: fsys.sb.totalInodes,
		FreeInodes:  fsys.sb.freeInodes,
		MaxNameLen:  fsys.sb.maxNameLen,
	}
	var buf [blockSize]byte
	if err := packInto(buf[:], &d); err != nil {
		return errors.Wrap(err, "blockfs: encode superblock")
	}
	if err := fsys.dev.WriteBlock(blockSuperblock, buf[:]); err != nil {
		return errors.Wrap(err, "blockfs: write superblock")
	}
	return nil
}

func (fsys *Filesystem) readBitmap(blockID int) ([bitmapWords]uint32, error) {
	var buf [blockSize]byte
	var words [bitmapWords]uint32
	if err := fsys.dev.ReadBlock(blockID, buf[:]); err != nil {
		return words, errors.Wrapf(err, "blockfs: read bitmap block %d", blockID)
	}
	var d bitmapBlockDisk
	if err := unpackFrom(buf[:], &d); err != nil {
		return words, errors.Wrapf(err, "blockfs: decode bitmap block %d", blockID)
	}
	return d.Words, nil
}

func (fsys *Filesystem) writeBitmap(blockID int, words [bitmapWords]uint32) error {
	d := bitmapBlockDisk{Words: words}
	var buf [blockSize]byte
	if err := packInto(buf[:], &d); err != nil {
		return errors.Wrapf(err, "blockfs: encode bitmap block %d", blockID)
	}
	if err := fsys.dev.WriteBlock(blockID, buf[:]); err != nil {
		return errors.Wrapf(err, "blockfs: write bitmap block %d", blockID)
	}
	return nil
}

func bitmapTest(words [bitmapWords]uint32, bit int) bool {
	return words[bit/bitmapWordBits]&(1<<uint(bit%bitmapWordBits)) != 0
}

func bitmapSet(words *[bitmapWords]uint32, bit int) {
	words[bit/bitmapWordBits] |= 1 << uint(bit%bitmapWordBits)
}

func bitmapClear(words *[bitmapWords]uint32, bit int) {
	words[bit/bitmapWordBits] &^= 1 << uint(bit%bitmapWordBits)
}

// allocInode returns the first free inode number, marking it allocated, or
// sentinel if the inode bitmap is exhausted.
func (fsys *Filesystem) allocInode() (int, error) {
	words, err := fsys.readBitmap(blockInodeBitmap)
	if err != nil {
		return sentinel, err
	}
	idx := -1
	for i := 0; i < int(fsys.sb.totalInodes); i++ {
		if !bitmapTest(words, i) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return sentinel, nil
	}
	bitmapSet(&words, idx)
	if err := fsys.writeBitmap(blockInodeBitmap, words); err != nil {
		return sentinel, err
	}
	fsys.sb.freeInodes--
	if err := fsys.persistSuperblock(); err != nil {
		return sentinel, err
	}
	logrus.WithField("inode", idx).Debug("blockfs: allocated inode")
	return idx, nil
}

func (fsys *Filesystem) freeInode(i int) error {
	if i < 0 || i >= int(fsys.sb.totalInodes) {
		return nil
	}
	words, err := fsys.readBitmap(blockInodeBitmap)
	if err != nil {
		return err
	}
	bitmapClear(&words, i)
	if err := fsys.writeBitmap(blockInodeBitmap, words); err != nil {
		return err
	}
	fsys.sb.freeInodes++
	return fsys.persistSuperblock()
}

// dataBitmapLocation maps a data-region-relative slot to the bitmap block
// that covers it (spec §4.1: block 2 covers [0,32768), block 3 covers
// [32768,65536)) and the bit offset within that block.
func dataBitmapLocation(slot int) (blockID, bit int) {
	if slot < dataBitmapCapacity {
		return blockDataBitmap0, slot
	}
	return blockDataBitmap1, slot - dataBitmapCapacity
}

// allocDataBlock returns the first free data-region-relative block index,
// marking it allocated, or sentinel if both data bitmap blocks are full.
func (fsys *Filesystem) allocDataBlock() (int, error) {
	words0, err := fsys.readBitmap(blockDataBitmap0)
	if err != nil {
		return sentinel, err
	}
	for i := 0; i < dataBitmapCapacity; i++ {
		if !bitmapTest(words0, i) {
			bitmapSet(&words0, i)
			if err := fsys.writeBitmap(blockDataBitmap0, words0); err != nil {
				return sentinel, err
			}
			return fsys.finishDataAlloc(i)
		}
	}

	words1, err := fsys.readBitmap(blockDataBitmap1)
	if err != nil {
		return sentinel, err
	}
	for i := 0; i < dataBitmapCapacity; i++ {
		if !bitmapTest(words1, i) {
			bitmapSet(&words1, i)
			if err := fsys.writeBitmap(blockDataBitmap1, words1); err != nil {
				return sentinel, err
			}
			return fsys.finishDataAlloc(i + dataBitmapCapacity)
		}
	}
	return sentinel, nil
}

func (fsys *Filesystem) finishDataAlloc(slot int) (int, error) {
	fsys.sb.freeBlocks--
	if err := fsys.persistSuperblock(); err != nil {
		return sentinel, err
	}
	logrus.WithField("block", slot).Debug("blockfs: allocated data block")
	return slot, nil
}

func (fsys *Filesystem) freeDataBlock(slot int) error {
	if slot < 0 || slot >= dataBitmapCapacity*2 {
		return nil
	}
	blockID, bit := dataBitmapLocation(slot)
	words, err := fsys.readBitmap(blockID)
	if err != nil {
		return err
	}
	bitmapClear(&words, bit)
	if err := fsys.writeBitmap(blockID, words); err != nil {
		return err
	}
	fsys.sb.freeBlocks++
	return fsys.persistSuperblock()
}
