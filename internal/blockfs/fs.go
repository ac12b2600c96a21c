// Package blockfs implements the on-disk filesystem core: superblock and
// bitmap management, the inode table, file-data addressing, the directory
// module, path resolution, and the operations facade a FUSE host drives.
package blockfs

import (
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jedward225/fslab/internal/blockdev"
)

// Filesystem is the live, mounted core. It holds no caches beyond the
// superblock: every other read goes straight to the block device, matching
// spec §1's "caching is disabled".
type Filesystem struct {
	dev *blockdev.Device
	sb  superblock
}

// Format lays down a brand-new filesystem image: a zeroed superblock,
// inode bitmap, data bitmaps, and inode table, followed by a freshly
// allocated empty root directory at inode 0 (spec §3 invariant 4, §4.7
// "fs_mount" with init requested).
func Format(dev *blockdev.Device) (*Filesystem, error) {
	fsys := &Filesystem{
		dev: dev,
		sb: superblock{
			totalBlocks: uint32(dataBitmapCapacity * 2),
			freeBlocks:  uint32(dataBitmapCapacity * 2),
			totalInodes: totalInodes,
			freeInodes:  totalInodes,
			maxNameLen:  maxNameLen,
		},
	}
	if err := fsys.persistSuperblock(); err != nil {
		return nil, err
	}

	var zero [bitmapWords]uint32
	if err := fsys.writeBitmap(blockInodeBitmap, zero); err != nil {
		return nil, err
	}
	if err := fsys.writeBitmap(blockDataBitmap0, zero); err != nil {
		return nil, err
	}
	if err := fsys.writeBitmap(blockDataBitmap1, zero); err != nil {
		return nil, err
	}

	zeroBlock := make([]byte, blockSize)
	for b := 0; b < inodeTableSize; b++ {
		if err := dev.WriteBlock(inodeTableStart+b, zeroBlock); err != nil {
			return nil, errors.Wrapf(err, "blockfs: zero inode table block %d", b)
		}
	}

	rootNum, err := fsys.allocInode()
	if err != nil {
		return nil, err
	}
	if rootNum != RootInode {
		return nil, errors.Errorf("blockfs: root inode allocated as %d, want %d", rootNum, RootInode)
	}

	now := time.Now()
	root := &Inode{
		Num:   RootInode,
		Mode:  ModeDir,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	for i := range root.Direct {
		root.Direct[i] = sentinel
	}
	for i := range root.Indirect {
		root.Indirect[i] = sentinel
	}
	if err := fsys.writeInode(root); err != nil {
		return nil, err
	}

	logrus.Info("blockfs: formatted new filesystem image")
	return fsys, nil
}

// Load attaches to an existing filesystem image, trusting it as-is (spec
// §4.7 "fs_mount" without init requested).
func Load(dev *blockdev.Device) (*Filesystem, error) {
	fsys := &Filesystem{dev: dev}
	if err := fsys.loadSuperblock(); err != nil {
		return nil, err
	}
	logrus.Info("blockfs: loaded existing filesystem image")
	return fsys, nil
}

// Close finalizes the mount (spec §4.7 "fs_finalize"). Every write is
// already durable by the time it returns, so there is nothing left to
// flush; this exists as a lifecycle hook for the CLI to call on shutdown.
func (fsys *Filesystem) Close() error {
	logrus.Info("blockfs: filesystem closed")
	return nil
}

func newChildInode(num int, mode uint32, now time.Time) *Inode {
	ino := &Inode{Num: num, Mode: mode, Atime: now, Mtime: now, Ctime: now}
	for i := range ino.Direct {
		ino.Direct[i] = sentinel
	}
	for i := range ino.Indirect {
		ino.Indirect[i] = sentinel
	}
	return ino
}

// GetAttr resolves path and returns its inode (spec §4.6 "getattr").
func (fsys *Filesystem) GetAttr(path string) (*Inode, syscall.Errno) {
	logrus.WithField("path", path).Debug("blockfs: getattr")
	return fsys.resolvePath(path)
}

// ReadDir lists path's stored entries in storage order (spec §4.6
// "readdir"). The caller is responsible for prepending "." and "..".
func (fsys *Filesystem) ReadDir(path string) ([]DirEntry, syscall.Errno) {
	logrus.WithField("path", path).Debug("blockfs: readdir")
	ino, errno := fsys.resolvePath(path)
	if errno != 0 {
		return nil, errno
	}
	if !ino.IsDir() {
		return nil, syscall.ENOTDIR
	}
	entries, errno := fsys.listDir(ino)
	if errno != 0 {
		return nil, errno
	}
	fsys.touchAtime(ino, time.Now())
	return entries, 0
}

// Read copies up to len(buf) bytes from path starting at offset, returning
// the number of bytes actually copied (spec §4.6 "read"). Reads past
// end-of-file return 0 bytes and no error.
func (fsys *Filesystem) Read(path string, buf []byte, offset int64) (int, syscall.Errno) {
	logrus.WithFields(logrus.Fields{"path": path, "offset": offset, "len": len(buf)}).Debug("blockfs: read")
	ino, errno := fsys.resolvePath(path)
	if errno != 0 {
		return 0, errno
	}
	if ino.IsDir() {
		return 0, syscall.EISDIR
	}
	if offset < 0 {
		return 0, syscall.EINVAL
	}
	if offset >= int64(ino.Size) {
		fsys.touchAtime(ino, time.Now())
		return 0, 0
	}

	end := offset + int64(len(buf))
	if end > int64(ino.Size) {
		end = int64(ino.Size)
	}

	n := 0
	for off := offset; off < end; {
		logicalIndex := int(off / blockSize)
		blockOff := int(off % blockSize)
		blockBuf, errno := fsys.readDataBlock(ino, logicalIndex)
		if errno != 0 {
			return n, errno
		}
		want := int(end - off)
		if avail := blockSize - blockOff; want > avail {
			want = avail
		}
		copy(buf[n:n+want], blockBuf[blockOff:blockOff+want])
		n += want
		off += int64(want)
	}
	fsys.touchAtime(ino, time.Now())
	return n, 0
}

// Write stores len(buf) bytes into path starting at offset, allocating
// blocks and extending Size as needed (spec §4.6 "write"). When appending
// is set, offset is forced to the file's current size first, matching the
// O_APPEND contract of spec §6 ("If flags include append, set offset =
// size; allocate-on-write").
func (fsys *Filesystem) Write(path string, buf []byte, offset int64, appending bool) (int, syscall.Errno) {
	logrus.WithFields(logrus.Fields{"path": path, "offset": offset, "len": len(buf), "append": appending}).Debug("blockfs: write")
	ino, errno := fsys.resolvePath(path)
	if errno != 0 {
		return 0, errno
	}
	if ino.IsDir() {
		return 0, syscall.EISDIR
	}
	if appending {
		offset = int64(ino.Size)
	}
	if offset < 0 {
		return 0, syscall.EINVAL
	}
	end := offset + int64(len(buf))
	if end > maxFileSize {
		return 0, syscall.EFBIG
	}
	if len(buf) == 0 {
		return 0, 0
	}

	n := 0
	for off := offset; off < end; {
		logicalIndex := int(off / blockSize)
		blockOff := int(off % blockSize)
		want := int(end - off)
		if avail := blockSize - blockOff; want > avail {
			want = avail
		}

		var blockBuf []byte
		if blockOff != 0 || want < blockSize {
			blockBuf, errno = fsys.readDataBlock(ino, logicalIndex)
			if errno != 0 {
				return n, errno
			}
		} else {
			blockBuf = make([]byte, blockSize)
		}
		copy(blockBuf[blockOff:blockOff+want], buf[n:n+want])
		if errno := fsys.writeDataBlock(ino, logicalIndex, blockBuf); errno != 0 {
			return n, errno
		}
		n += want
		off += int64(want)
	}

	fresh, err := fsys.readInode(ino.Num)
	if err != nil {
		return n, syscall.EIO
	}
	if uint64(end) > fresh.Size {
		fresh.Size = uint64(end)
	}
	now := time.Now()
	fresh.Mtime, fresh.Ctime = now, now
	if err := fsys.writeInode(fresh); err != nil {
		return n, syscall.EIO
	}
	return n, 0
}

// Mknod creates a new regular file at path (spec §4.6 "mknod").
func (fsys *Filesystem) Mknod(path string) syscall.Errno {
	return fsys.createChild(path, ModeReg)
}

// Mkdir creates a new, empty directory at path (spec §4.6 "mkdir").
func (fsys *Filesystem) Mkdir(path string) syscall.Errno {
	return fsys.createChild(path, ModeDir)
}

func (fsys *Filesystem) createChild(path string, mode uint32) syscall.Errno {
	logrus.WithField("path", path).Debug("blockfs: create")
	parent, name, errno := fsys.resolveParent(path)
	if errno != 0 {
		return errno
	}
	if len(name) > maxNameLen {
		return syscall.ENAMETOOLONG
	}
	existing, errno := fsys.findInDir(parent, name)
	if errno != 0 {
		return errno
	}
	if existing != sentinel {
		return syscall.EEXIST
	}

	num, err := fsys.allocInode()
	if err != nil {
		return syscall.EIO
	}
	if num == sentinel {
		return syscall.ENOSPC
	}

	now := time.Now()
	child := newChildInode(num, mode, now)
	if err := fsys.writeInode(child); err != nil {
		fsys.freeInode(num)
		return syscall.EIO
	}
	if errno := fsys.addDirEntry(parent, name, num, now); errno != 0 {
		fsys.freeInode(num)
		return errno
	}
	return 0
}

// Unlink removes the regular file at path (spec §4.6 "unlink").
func (fsys *Filesystem) Unlink(path string) syscall.Errno {
	logrus.WithField("path", path).Debug("blockfs: unlink")
	if len(splitComponents(path)) == 0 {
		return syscall.EBUSY
	}
	parent, name, errno := fsys.resolveParent(path)
	if errno != 0 {
		return errno
	}
	num, errno := fsys.findInDir(parent, name)
	if errno != 0 {
		return errno
	}
	if num == sentinel {
		return syscall.ENOENT
	}
	ino, err := fsys.readInode(num)
	if err != nil {
		return syscall.EIO
	}
	if ino.IsDir() {
		return syscall.EISDIR
	}
	if err := fsys.freeInodeBlocks(ino); err != nil {
		return syscall.EIO
	}
	if err := fsys.writeInode(ino); err != nil {
		return syscall.EIO
	}
	if err := fsys.freeInode(num); err != nil {
		return syscall.EIO
	}
	return fsys.removeDirEntry(parent, name, time.Now())
}

// Rmdir removes the empty directory at path (spec §4.6 "rmdir").
func (fsys *Filesystem) Rmdir(path string) syscall.Errno {
	logrus.WithField("path", path).Debug("blockfs: rmdir")
	if path == "/" || len(splitComponents(path)) == 0 {
		return syscall.EBUSY
	}
	parent, name, errno := fsys.resolveParent(path)
	if errno != 0 {
		return errno
	}
	num, errno := fsys.findInDir(parent, name)
	if errno != 0 {
		return errno
	}
	if num == sentinel {
		return syscall.ENOENT
	}
	ino, err := fsys.readInode(num)
	if err != nil {
		return syscall.EIO
	}
	if !ino.IsDir() {
		return syscall.ENOTDIR
	}
	empty, errno := fsys.isEmpty(ino)
	if errno != 0 {
		return errno
	}
	if !empty {
		return syscall.ENOTEMPTY
	}
	if err := fsys.freeInodeBlocks(ino); err != nil {
		return syscall.EIO
	}
	if err := fsys.writeInode(ino); err != nil {
		return syscall.EIO
	}
	if err := fsys.freeInode(num); err != nil {
		return syscall.EIO
	}
	return fsys.removeDirEntry(parent, name, time.Now())
}

// Rename moves the entry at oldPath to newPath (spec §4.6 "rename"). A
// pre-existing entry at newPath is rejected with EEXIST rather than
// silently replaced; this repository does not implement POSIX's
// replace-on-rename semantics (spec §9 open question).
func (fsys *Filesystem) Rename(oldPath, newPath string) syscall.Errno {
	logrus.WithFields(logrus.Fields{"old": oldPath, "new": newPath}).Debug("blockfs: rename")
	if len(splitComponents(oldPath)) == 0 {
		return syscall.EBUSY
	}
	oldParent, oldName, errno := fsys.resolveParent(oldPath)
	if errno != 0 {
		return errno
	}
	newParent, newName, errno := fsys.resolveParent(newPath)
	if errno != 0 {
		return errno
	}
	if newParent.Num == oldParent.Num {
		// Share one copy so removeDirEntry does not write back a stale inode.
		newParent = oldParent
	}
	num, errno := fsys.findInDir(oldParent, oldName)
	if errno != 0 {
		return errno
	}
	if num == sentinel {
		return syscall.ENOENT
	}
	existing, errno := fsys.findInDir(newParent, newName)
	if errno != 0 {
		return errno
	}
	if existing != sentinel {
		return syscall.EEXIST
	}
	if len(newName) > maxNameLen {
		return syscall.ENAMETOOLONG
	}

	now := time.Now()
	if errno := fsys.addDirEntry(newParent, newName, num, now); errno != 0 {
		return errno
	}
	if errno := fsys.removeDirEntry(oldParent, oldName, now); errno != 0 {
		fsys.removeDirEntry(newParent, newName, now)
		return errno
	}
	return 0
}

// Truncate sets path's size (spec §4.6 "truncate"). Shrinking never frees
// blocks and growing never eagerly allocates them: a shrink zeroes every
// byte past the new size in the blocks that stay allocated, and a grow is
// made visible purely through Size, so bytes in the gap read back as zero
// the same way any never-written logical block does (spec §9).
func (fsys *Filesystem) Truncate(path string, size int64) syscall.Errno {
	logrus.WithFields(logrus.Fields{"path": path, "size": size}).Debug("blockfs: truncate")
	if size < 0 {
		return syscall.EINVAL
	}
	if size > maxFileSize {
		return syscall.EFBIG
	}
	ino, errno := fsys.resolvePath(path)
	if errno != 0 {
		return errno
	}
	if ino.IsDir() {
		return syscall.EISDIR
	}
	if uint64(size) < ino.Size {
		for li := int(size / blockSize); li < int(ino.BlockCount); li++ {
			if !fsys.logicalBlockAllocated(ino, li) {
				continue
			}
			buf, errno := fsys.readDataBlock(ino, li)
			if errno != 0 {
				return errno
			}
			clear(buf[max(size-int64(li)*blockSize, 0):])
			if errno := fsys.writeDataBlock(ino, li, buf); errno != 0 {
				return errno
			}
		}
	}
	now := time.Now()
	ino.Size = uint64(size)
	ino.Mtime, ino.Ctime = now, now
	if err := fsys.writeInode(ino); err != nil {
		return syscall.EIO
	}
	return 0
}

// Utimens sets path's access and modification times (spec §4.6 "utimens").
func (fsys *Filesystem) Utimens(path string, atime, mtime time.Time) syscall.Errno {
	ino, errno := fsys.resolvePath(path)
	if errno != 0 {
		return errno
	}
	ino.Atime = atime
	ino.Mtime = mtime
	ino.Ctime = time.Now()
	if err := fsys.writeInode(ino); err != nil {
		return syscall.EIO
	}
	return 0
}

// StatfsResult mirrors the subset of struct statvfs the facade populates
// (spec §4.6 "statfs").
type StatfsResult struct {
	TotalBlocks uint64
	FreeBlocks  uint64
	TotalInodes uint64
	FreeInodes  uint64
	BlockSize   uint32
	MaxNameLen  uint32
}

// Statfs reports aggregate space and inode usage from the in-memory
// superblock (spec §4.6 "statfs"); it never touches the device.
func (fsys *Filesystem) Statfs() StatfsResult {
	return StatfsResult{
		TotalBlocks: uint64(fsys.sb.totalBlocks),
		FreeBlocks:  uint64(fsys.sb.freeBlocks),
		TotalInodes: uint64(fsys.sb.totalInodes),
		FreeInodes:  uint64(fsys.sb.freeInodes),
		BlockSize:   blockSize,
		MaxNameLen:  fsys.sb.maxNameLen,
	}
}

// Open validates that path names a regular file (spec §4.6 "open": No-op
// success beyond existence/type checking — there is no kernel file
// descriptor to allocate).
func (fsys *Filesystem) Open(path string) syscall.Errno {
	ino, errno := fsys.resolvePath(path)
	if errno != 0 {
		return errno
	}
	if ino.IsDir() {
		return syscall.EISDIR
	}
	return 0
}

// Release is a no-op success (spec §4.6 "release").
func (fsys *Filesystem) Release(path string) syscall.Errno { return 0 }

// OpenDir validates that path names a directory (spec §4.6 "opendir").
func (fsys *Filesystem) OpenDir(path string) syscall.Errno {
	ino, errno := fsys.resolvePath(path)
	if errno != 0 {
		return errno
	}
	if !ino.IsDir() {
		return syscall.ENOTDIR
	}
	return 0
}

// ReleaseDir is a no-op success (spec §4.6 "releasedir").
func (fsys *Filesystem) ReleaseDir(path string) syscall.Errno { return 0 }
