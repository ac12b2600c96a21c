package blockfs

import (
	"syscall"

	"github.com/pkg/errors"
)

func absoluteBlock(relative int32) int {
	return firstDataBlock + int(relative)
}

// readDataBlock returns the contents of inode ino's logical block
// logicalIndex, zero-filled if that index has never been written (spec
// §4.3). It errors only when logicalIndex is beyond the file's maximum
// addressable range.
func (fsys *Filesystem) readDataBlock(ino *Inode, logicalIndex int) ([]byte, syscall.Errno) {
	buf := make([]byte, blockSize)
	if logicalIndex < 0 || logicalIndex >= direct+indirect*pointersPerIndirect {
		return nil, syscall.EINVAL
	}

	if logicalIndex < direct {
		ptr := ino.Direct[logicalIndex]
		if ptr == sentinel {
			return buf, 0
		}
		if err := fsys.dev.ReadBlock(absoluteBlock(ptr), buf); err != nil {
			return nil, syscall.EIO
		}
		return buf, 0
	}

	t := logicalIndex - direct
	bucket, slot := t/pointersPerIndirect, t%pointersPerIndirect
	indPtr := ino.Indirect[bucket]
	if indPtr == sentinel {
		return buf, 0
	}
	ib, err := fsys.readIndirectBlock(indPtr)
	if err != nil {
		return nil, syscall.EIO
	}
	dataPtr := ib.Pointers[slot]
	if dataPtr == sentinel {
		return buf, 0
	}
	if err := fsys.dev.ReadBlock(absoluteBlock(dataPtr), buf); err != nil {
		return nil, syscall.EIO
	}
	return buf, 0
}

func (fsys *Filesystem) readIndirectBlock(relative int32) (*indirectBlockDisk, error) {
	var raw [blockSize]byte
	if err := fsys.dev.ReadBlock(absoluteBlock(relative), raw[:]); err != nil {
		return nil, errors.Wrapf(err, "blockfs: read indirect block %d", relative)
	}
	var ib indirectBlockDisk
	if err := unpackFrom(raw[:], &ib); err != nil {
		return nil, errors.Wrapf(err, "blockfs: decode indirect block %d", relative)
	}
	return &ib, nil
}

func (fsys *Filesystem) writeIndirectBlock(relative int32, ib *indirectBlockDisk) error {
	var raw [blockSize]byte
	if err := packInto(raw[:], ib); err != nil {
		return errors.Wrapf(err, "blockfs: encode indirect block %d", relative)
	}
	return fsys.dev.WriteBlock(absoluteBlock(relative), raw[:])
}

// writeDataBlock implements allocate-on-write for inode ino's logical block
// logicalIndex (spec §4.3). Any allocation failure returns ENOSPC; state
// persisted before the failure point is left in place, matching the
// documented partial-mutation semantics of spec §7/§9.
func (fsys *Filesystem) writeDataBlock(ino *Inode, logicalIndex int, buf []byte) syscall.Errno {
	if logicalIndex < 0 || logicalIndex >= direct+indirect*pointersPerIndirect {
		return syscall.EINVAL
	}

	if logicalIndex < direct {
		ptr := ino.Direct[logicalIndex]
		if ptr == sentinel {
			slot, err := fsys.allocDataBlock()
			if err != nil {
				return syscall.EIO
			}
			if slot == sentinel {
				return syscall.ENOSPC
			}
			ptr = int32(slot)
			ino.Direct[logicalIndex] = ptr
			if uint32(logicalIndex+1) > ino.BlockCount {
				ino.BlockCount = uint32(logicalIndex + 1)
			}
			if err := fsys.writeInode(ino); err != nil {
				return syscall.EIO
			}
		}
		if err := fsys.dev.WriteBlock(absoluteBlock(ptr), buf); err != nil {
			return syscall.EIO
		}
		return 0
	}

	t := logicalIndex - direct
	bucket, slotIdx := t/pointersPerIndirect, t%pointersPerIndirect
	if bucket >= indirect {
		return syscall.EFBIG
	}

	indPtr := ino.Indirect[bucket]
	if indPtr == sentinel {
		newIndBlock, err := fsys.allocDataBlock()
		if err != nil {
			return syscall.EIO
		}
		if newIndBlock == sentinel {
			return syscall.ENOSPC
		}
		indPtr = int32(newIndBlock)
		var fresh indirectBlockDisk
		for i := range fresh.Pointers {
			fresh.Pointers[i] = sentinel
		}
		if err := fsys.writeIndirectBlock(indPtr, &fresh); err != nil {
			return syscall.EIO
		}
		ino.Indirect[bucket] = indPtr
		if err := fsys.writeInode(ino); err != nil {
			return syscall.EIO
		}
	}

	ib, err := fsys.readIndirectBlock(indPtr)
	if err != nil {
		return syscall.EIO
	}
	dataPtr := ib.Pointers[slotIdx]
	if dataPtr == sentinel {
		newDataBlock, err := fsys.allocDataBlock()
		if err != nil {
			return syscall.EIO
		}
		if newDataBlock == sentinel {
			return syscall.ENOSPC
		}
		dataPtr = int32(newDataBlock)
		ib.Pointers[slotIdx] = dataPtr
		if err := fsys.writeIndirectBlock(indPtr, ib); err != nil {
			return syscall.EIO
		}
		if uint32(logicalIndex+1) > ino.BlockCount {
			ino.BlockCount = uint32(logicalIndex + 1)
		}
		if err := fsys.writeInode(ino); err != nil {
			return syscall.EIO
		}
	}

	if err := fsys.dev.WriteBlock(absoluteBlock(dataPtr), buf); err != nil {
		return syscall.EIO
	}
	return 0
}

// freeInodeBlocks releases every data block owned by ino: direct pointers,
// then every block referenced by a non-sentinel indirect pointer, then the
// indirect blocks themselves (spec §4.3).
func (fsys *Filesystem) freeInodeBlocks(ino *Inode) error {
	for i, ptr := range ino.Direct {
		if ptr != sentinel {
			if err := fsys.freeDataBlock(int(ptr)); err != nil {
				return err
			}
			ino.Direct[i] = sentinel
		}
	}
	for b, indPtr := range ino.Indirect {
		if indPtr == sentinel {
			continue
		}
		ib, err := fsys.readIndirectBlock(indPtr)
		if err != nil {
			return err
		}
		for i, dataPtr := range ib.Pointers {
			if dataPtr != sentinel {
				if err := fsys.freeDataBlock(int(dataPtr)); err != nil {
					return err
				}
				ib.Pointers[i] = sentinel
			}
		}
		if err := fsys.freeDataBlock(int(indPtr)); err != nil {
			return err
		}
		ino.Indirect[b] = sentinel
	}
	ino.BlockCount = 0
	return nil
}
