package blockfs

import (
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// Mode bits, matching the subset of S_IF* the spec requires (spec §6
// "Block layout"/original DIRMODE,REGMODE): regular files and directories
// only, no permission bits beyond a fixed default.
const (
	ModeDir uint32 = syscall.S_IFDIR | 0755
	ModeReg uint32 = syscall.S_IFREG | 0644
)

// RootInode is the inode number of "/" (spec §3 invariant 4).
const RootInode = 0

// Inode is the in-memory form of one inode-table record.
type Inode struct {
	Num        int
	Mode       uint32
	Size       uint64
	Atime      time.Time
	Mtime      time.Time
	Ctime      time.Time
	BlockCount uint32
	Direct     [direct]int32
	Indirect   [indirect]int32
}

// IsDir reports whether the inode is a directory.
func (ino *Inode) IsDir() bool { return ino.Mode&syscall.S_IFMT == syscall.S_IFDIR }

func inodeLocation(num int) (blockID, offset int) {
	blockID = inodeTableStart + num/inodesPerBlock
	offset = (num % inodesPerBlock) * inodeSize
	return
}

func timeToDisk(t time.Time) (sec, nsec int64) {
	return t.Unix(), int64(t.Nanosecond())
}

func timeFromDisk(sec, nsec int64) time.Time {
	return time.Unix(sec, nsec)
}

// readInode loads inode num from the inode table.
func (fsys *Filesystem) readInode(num int) (*Inode, error) {
	blockID, offset := inodeLocation(num)
	var buf [blockSize]byte
	if err := fsys.dev.ReadBlock(blockID, buf[:]); err != nil {
		return nil, errors.Wrapf(err, "blockfs: read inode table block %d", blockID)
	}
	var d inodeDisk
	if err := unpackAt(buf[:], offset, inodeSize, &d); err != nil {
		return nil, errors.Wrapf(err, "blockfs: decode inode %d", num)
	}
	return &Inode{
		Num:        num,
		Mode:       d.Mode,
		Size:       d.Size,
		Atime:      timeFromDisk(d.ATimeSec, d.ATimeNsec),
		Mtime:      timeFromDisk(d.MTimeSec, d.MTimeNsec),
		Ctime:      timeFromDisk(d.CTimeSec, d.CTimeNsec),
		BlockCount: d.BlockCount,
		Direct:     d.Direct,
		Indirect:   d.Indirect,
	}, nil
}

// writeInode is a whole-block read-modify-write: it reads the owning
// inode-table block, overwrites just this inode's record, and writes the
// block back (spec §4.2).
func (fsys *Filesystem) writeInode(ino *Inode) error {
	blockID, offset := inodeLocation(ino.Num)
	var buf [blockSize]byte
	if err := fsys.dev.ReadBlock(blockID, buf[:]); err != nil {
		return errors.Wrapf(err, "blockfs: read inode table block %d", blockID)
	}

	aSec, aNsec := timeToDisk(ino.Atime)
	mSec, mNsec := timeToDisk(ino.Mtime)
	cSec, cNsec := timeToDisk(ino.Ctime)
	d := inodeDisk{
		Mode:       ino.Mode,
		Size:       ino.Size,
		ATimeSec:   aSec,
		ATimeNsec:  aNsec,
		MTimeSec:   mSec,
		MTimeNsec:  mNsec,
		CTimeSec:   cSec,
		CTimeNsec:  cNsec,
		BlockCount: ino.BlockCount,
		Direct:     ino.Direct,
		Indirect:   ino.Indirect,
	}
	if err := packAt(buf[:], offset, &d); err != nil {
		return errors.Wrapf(err, "blockfs: encode inode %d", ino.Num)
	}
	if err := fsys.dev.WriteBlock(blockID, buf[:]); err != nil {
		return errors.Wrapf(err, "blockfs: write inode table block %d", blockID)
	}
	return nil
}

// touch stamps the inode's mtime/ctime (and atime, since every mutating
// operation also counts as an access) to now and persists it.
func (fsys *Filesystem) touch(ino *Inode, now time.Time) error {
	ino.Atime, ino.Mtime, ino.Ctime = now, now, now
	return fsys.writeInode(ino)
}

// touchAtime stamps only atime, for pure read/traverse operations.
func (fsys *Filesystem) touchAtime(ino *Inode, now time.Time) error {
	ino.Atime = now
	return fsys.writeInode(ino)
}
