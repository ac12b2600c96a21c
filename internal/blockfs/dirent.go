package blockfs

import (
	"bytes"
	"syscall"
	"time"
)

// DirEntry is the in-memory form of one stored directory entry, as
// returned to callers of ReadDir. The synthetic "." and ".." entries are
// not stored; they are synthesized by the operations facade (spec §4.6).
type DirEntry struct {
	InodeNum int
	Name     string
}

func encodeName(name string) ([maxNameLen + 1]byte, syscall.Errno) {
	var out [maxNameLen + 1]byte
	if len(name) > maxNameLen {
		return out, syscall.ENAMETOOLONG
	}
	copy(out[:], name)
	return out, 0
}

func nameFromBytes(b [maxNameLen + 1]byte) string {
	n := bytes.IndexByte(b[:], 0)
	if n < 0 {
		n = len(b)
	}
	return string(b[:n])
}

// dirScanRange bounds directory iteration to the logical blocks that could
// possibly hold data, per spec §4.4 ("[0, min(blockCount, D+K*B/P))").
func dirScanRange(ino *Inode) int {
	limit := direct + indirect*pointersPerIndirect
	if int(ino.BlockCount) < limit {
		return int(ino.BlockCount)
	}
	return limit
}

// logicalBlockPointer resolves logical index li of ino to the
// data-region-relative block id actually backing it, without the
// allocate-on-write side effects of writeDataBlock.
func (fsys *Filesystem) logicalBlockPointer(ino *Inode, li int) (int32, bool) {
	if li < direct {
		p := ino.Direct[li]
		return p, p != sentinel
	}
	t := li - direct
	bucket, slot := t/pointersPerIndirect, t%pointersPerIndirect
	if bucket >= indirect {
		return sentinel, false
	}
	indPtr := ino.Indirect[bucket]
	if indPtr == sentinel {
		return sentinel, false
	}
	ib, err := fsys.readIndirectBlock(indPtr)
	if err != nil {
		return sentinel, false
	}
	p := ib.Pointers[slot]
	return p, p != sentinel
}

func (fsys *Filesystem) logicalBlockAllocated(ino *Inode, li int) bool {
	_, ok := fsys.logicalBlockPointer(ino, li)
	return ok
}

// findInDir returns the inode number stored under name in dirIno, or
// sentinel if no such entry exists (spec §4.4).
func (fsys *Filesystem) findInDir(dirIno *Inode, name string) (int, syscall.Errno) {
	for li := 0; li < dirScanRange(dirIno); li++ {
		if !fsys.logicalBlockAllocated(dirIno, li) {
			continue
		}
		buf, errno := fsys.readDataBlock(dirIno, li)
		if errno != 0 {
			return sentinel, errno
		}
		for e := 0; e < entriesPerBlock; e++ {
			off := e * dirEntrySize
			var d dirEntryDisk
			if err := unpackAt(buf, off, dirEntrySize, &d); err != nil {
				return sentinel, syscall.EIO
			}
			if d.InodeNum != sentinel && nameFromBytes(d.Name) == name {
				return int(d.InodeNum), 0
			}
		}
	}
	return sentinel, 0
}

func freshEntryBlock(nameBytes [maxNameLen + 1]byte, target int) []byte {
	buf := make([]byte, blockSize)
	for e := 0; e < entriesPerBlock; e++ {
		d := dirEntryDisk{InodeNum: sentinel}
		if e == 0 {
			d.InodeNum = int32(target)
			d.Name = nameBytes
		}
		packAt(buf, e*dirEntrySize, &d)
	}
	return buf
}

// placeEntry writes {nameBytes, target} into the first free (InodeNum ==
// sentinel) slot of buf, reporting whether a slot was found.
func placeEntry(buf []byte, nameBytes [maxNameLen + 1]byte, target int) bool {
	for e := 0; e < entriesPerBlock; e++ {
		off := e * dirEntrySize
		var d dirEntryDisk
		if err := unpackAt(buf, off, dirEntrySize, &d); err != nil {
			continue
		}
		if d.InodeNum == sentinel {
			d.InodeNum = int32(target)
			d.Name = nameBytes
			packAt(buf, off, &d)
			return true
		}
	}
	return false
}

// addDirEntry inserts {name -> target} into dirIno following the three-step
// placement algorithm of spec §4.4: reuse a hole in an already-allocated
// direct block, else grow into the next free direct slot, else grow into
// the indirect-addressed region.
func (fsys *Filesystem) addDirEntry(dirIno *Inode, name string, target int, now time.Time) syscall.Errno {
	nameBytes, errno := encodeName(name)
	if errno != 0 {
		return errno
	}

	for li := 0; li < direct; li++ {
		if dirIno.Direct[li] == sentinel {
			continue
		}
		buf, errno := fsys.readDataBlock(dirIno, li)
		if errno != 0 {
			return errno
		}
		if placeEntry(buf, nameBytes, target) {
			if err := fsys.dev.WriteBlock(absoluteBlock(dirIno.Direct[li]), buf); err != nil {
				return syscall.EIO
			}
			return fsys.finishAddDirEntry(dirIno, now)
		}
	}

	for li := 0; li < direct; li++ {
		if dirIno.Direct[li] != sentinel {
			continue
		}
		buf := freshEntryBlock(nameBytes, target)
		if errno := fsys.writeDataBlock(dirIno, li, buf); errno != 0 {
			return errno
		}
		return fsys.finishAddDirEntry(dirIno, now)
	}

	for li := direct; li < direct+indirect*pointersPerIndirect; li++ {
		if fsys.logicalBlockAllocated(dirIno, li) {
			continue
		}
		buf := freshEntryBlock(nameBytes, target)
		if errno := fsys.writeDataBlock(dirIno, li, buf); errno != 0 {
			return errno
		}
		return fsys.finishAddDirEntry(dirIno, now)
	}

	return syscall.ENOSPC
}

func (fsys *Filesystem) finishAddDirEntry(dirIno *Inode, now time.Time) syscall.Errno {
	dirIno.Size += uint64(dirEntrySize)
	dirIno.Atime, dirIno.Mtime, dirIno.Ctime = now, now, now
	if err := fsys.writeInode(dirIno); err != nil {
		return syscall.EIO
	}
	return 0
}

// removeDirEntry clears the entry named name in dirIno. The block it lived
// in is not freed even if it becomes empty, and dirIno.Size is not
// decremented, matching the source behavior flagged as an open question in
// spec §9.
func (fsys *Filesystem) removeDirEntry(dirIno *Inode, name string, now time.Time) syscall.Errno {
	for li := 0; li < dirScanRange(dirIno); li++ {
		ptr, ok := fsys.logicalBlockPointer(dirIno, li)
		if !ok {
			continue
		}
		buf, errno := fsys.readDataBlock(dirIno, li)
		if errno != 0 {
			return errno
		}
		for e := 0; e < entriesPerBlock; e++ {
			off := e * dirEntrySize
			var d dirEntryDisk
			if err := unpackAt(buf, off, dirEntrySize, &d); err != nil {
				return syscall.EIO
			}
			if d.InodeNum == sentinel || nameFromBytes(d.Name) != name {
				continue
			}
			d.InodeNum = sentinel
			d.Name = [maxNameLen + 1]byte{}
			packAt(buf, off, &d)
			if err := fsys.dev.WriteBlock(absoluteBlock(ptr), buf); err != nil {
				return syscall.EIO
			}
			dirIno.Atime, dirIno.Mtime, dirIno.Ctime = now, now, now
			if err := fsys.writeInode(dirIno); err != nil {
				return syscall.EIO
			}
			return 0
		}
	}
	return syscall.ENOENT
}

// isEmpty reports whether dirIno has no live entries (spec §4.4). "." and
// ".." are virtual and never counted.
func (fsys *Filesystem) isEmpty(dirIno *Inode) (bool, syscall.Errno) {
	for li := 0; li < dirScanRange(dirIno); li++ {
		if !fsys.logicalBlockAllocated(dirIno, li) {
			continue
		}
		buf, errno := fsys.readDataBlock(dirIno, li)
		if errno != 0 {
			return false, errno
		}
		for e := 0; e < entriesPerBlock; e++ {
			var d dirEntryDisk
			if err := unpackAt(buf, e*dirEntrySize, dirEntrySize, &d); err != nil {
				return false, syscall.EIO
			}
			if d.InodeNum != sentinel {
				return false, 0
			}
		}
	}
	return true, 0
}

// listDir returns every live entry stored in dirIno, in storage order
// (spec §4.6 "readdir ... in storage order").
func (fsys *Filesystem) listDir(dirIno *Inode) ([]DirEntry, syscall.Errno) {
	var out []DirEntry
	for li := 0; li < dirScanRange(dirIno); li++ {
		if !fsys.logicalBlockAllocated(dirIno, li) {
			continue
		}
		buf, errno := fsys.readDataBlock(dirIno, li)
		if errno != 0 {
			return nil, errno
		}
		for e := 0; e < entriesPerBlock; e++ {
			var d dirEntryDisk
			if err := unpackAt(buf, e*dirEntrySize, dirEntrySize, &d); err != nil {
				return nil, syscall.EIO
			}
			if d.InodeNum != sentinel {
				out = append(out, DirEntry{InodeNum: int(d.InodeNum), Name: nameFromBytes(d.Name)})
			}
		}
	}
	return out, 0
}
