// Package fsnode adapts the blockfs core to go-fuse's InodeEmbedder tree,
// the way fs/loopback.go adapts a real directory: every call recomputes
// the virtual path from the kernel-provided Inode tree and forwards to the
// core by path, rather than caching any state of its own.
package fsnode

import (
	"context"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/jedward225/fslab/internal/blockdev"
	"github.com/jedward225/fslab/internal/blockfs"
)

// Node is the single InodeEmbedder type used throughout the tree; its
// behavior is identical for files and directories; the NodeXxxer methods
// that don't apply to one or the other simply get rejected by the core
// (e.g. Read on a directory returns EISDIR).
type Node struct {
	fs.Inode

	fsys *blockfs.Filesystem
}

// NewRoot returns the InodeEmbedder for "/", to be passed to fs.Mount.
func NewRoot(fsys *blockfs.Filesystem) fs.InodeEmbedder {
	return &Node{fsys: fsys}
}

func (n *Node) path() string {
	return "/" + n.Path(n.Root())
}

func stableAttr(ino *blockfs.Inode) fs.StableAttr {
	mode := uint32(0)
	if ino.IsDir() {
		mode = syscall.S_IFDIR
	} else {
		mode = syscall.S_IFREG
	}
	return fs.StableAttr{
		Mode: mode,
		Ino:  uint64(ino.Num),
	}
}

func fillAttr(ino *blockfs.Inode, out *fuse.Attr) {
	out.Ino = uint64(ino.Num)
	out.Mode = ino.Mode
	out.Size = ino.Size
	out.Blocks = uint64(ino.BlockCount) * blockdev.BlockSize / 512
	out.Nlink = 1
	out.Owner = fuse.Owner{Uid: uint32(os.Getuid()), Gid: uint32(os.Getgid())}
	out.SetTimes(&ino.Atime, &ino.Mtime, &ino.Ctime)
}

var (
	_ = (fs.NodeStatfser)((*Node)(nil))
	_ = (fs.NodeGetattrer)((*Node)(nil))
	_ = (fs.NodeSetattrer)((*Node)(nil))
	_ = (fs.NodeLookuper)((*Node)(nil))
	_ = (fs.NodeOpendirer)((*Node)(nil))
	_ = (fs.NodeReaddirer)((*Node)(nil))
	_ = (fs.NodeMkdirer)((*Node)(nil))
	_ = (fs.NodeCreater)((*Node)(nil))
	_ = (fs.NodeUnlinker)((*Node)(nil))
	_ = (fs.NodeRmdirer)((*Node)(nil))
	_ = (fs.NodeRenamer)((*Node)(nil))
	_ = (fs.NodeOpener)((*Node)(nil))
	_ = (fs.NodeReader)((*Node)(nil))
	_ = (fs.NodeWriter)((*Node)(nil))
	_ = (fs.NodeReleaser)((*Node)(nil))
)

// Statfs reports aggregate usage from the core's superblock (spec §4.6
// "statfs").
func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	s := n.fsys.Statfs()
	out.Blocks = s.TotalBlocks
	out.Bfree = s.FreeBlocks
	out.Bavail = s.FreeBlocks
	out.Files = s.TotalInodes
	out.Ffree = s.FreeInodes
	out.Bsize = s.BlockSize
	out.NameLen = s.MaxNameLen
	out.Frsize = s.BlockSize
	return 0
}

func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	ino, errno := n.fsys.GetAttr(n.path())
	if errno != 0 {
		return errno
	}
	fillAttr(ino, &out.Attr)
	return 0
}

// Setattr handles truncate and utimens; chmod/chown are accepted
// no-ops since the core carries no permission bits beyond a fixed
// default (spec Non-goals: multi-user permissions).
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	path := n.path()

	if sz, ok := in.GetSize(); ok {
		if errno := n.fsys.Truncate(path, int64(sz)); errno != 0 {
			return errno
		}
	}

	mtime, mok := in.GetMTime()
	atime, aok := in.GetATime()
	if mok || aok {
		ino, errno := n.fsys.GetAttr(path)
		if errno != 0 {
			return errno
		}
		at, mt := ino.Atime, ino.Mtime
		if aok {
			at = atime
		}
		if mok {
			mt = mtime
		}
		if errno := n.fsys.Utimens(path, at, mt); errno != 0 {
			return errno
		}
	}

	ino, errno := n.fsys.GetAttr(path)
	if errno != 0 {
		return errno
	}
	fillAttr(ino, &out.Attr)
	return 0
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := n.path() + "/" + name
	ino, errno := n.fsys.GetAttr(childPath)
	if errno != 0 {
		return nil, errno
	}
	fillAttr(ino, &out.Attr)
	child := &Node{fsys: n.fsys}
	return n.NewInode(ctx, child, stableAttr(ino)), 0
}

func (n *Node) Opendir(ctx context.Context) syscall.Errno {
	return n.fsys.OpenDir(n.path())
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, errno := n.fsys.ReadDir(n.path())
	if errno != 0 {
		return nil, errno
	}
	dirPath := n.path()
	list := make([]fuse.DirEntry, 0, len(entries)+2)
	list = append(list,
		fuse.DirEntry{Mode: blockfs.ModeDir, Name: ".", Ino: uint64(n.StableAttr().Ino)},
		fuse.DirEntry{Mode: blockfs.ModeDir, Name: ".."},
	)
	for _, e := range entries {
		mode := uint32(blockfs.ModeReg)
		if child, errno := n.fsys.GetAttr(dirPath + "/" + e.Name); errno == 0 && child.IsDir() {
			mode = blockfs.ModeDir
		}
		list = append(list, fuse.DirEntry{Mode: mode, Name: e.Name, Ino: uint64(e.InodeNum)})
	}
	return fs.NewListDirStream(list), 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := n.path() + "/" + name
	if errno := n.fsys.Mkdir(childPath); errno != 0 {
		return nil, errno
	}
	ino, errno := n.fsys.GetAttr(childPath)
	if errno != 0 {
		return nil, errno
	}
	fillAttr(ino, &out.Attr)
	child := &Node{fsys: n.fsys}
	return n.NewInode(ctx, child, stableAttr(ino)), 0
}

// Create implements mknod-then-open in one step, matching FUSE's usual
// O_CREAT path (spec §4.6 "mknod" + "open").
func (n *Node) Create(ctx context.Context, name string, flags, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	childPath := n.path() + "/" + name
	if errno := n.fsys.Mknod(childPath); errno != 0 {
		return nil, nil, 0, errno
	}
	ino, errno := n.fsys.GetAttr(childPath)
	if errno != 0 {
		return nil, nil, 0, errno
	}
	fillAttr(ino, &out.Attr)
	child := &Node{fsys: n.fsys}
	fh := &fileHandle{appendFlag: flags&syscall.O_APPEND != 0}
	return n.NewInode(ctx, child, stableAttr(ino)), fh, 0, 0
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.fsys.Unlink(n.path() + "/" + name)
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.fsys.Rmdir(n.path() + "/" + name)
}

func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	newParentNode, ok := newParent.(*Node)
	if !ok {
		return syscall.EINVAL
	}
	oldPath := n.path() + "/" + name
	newPath := newParentNode.path() + "/" + newName
	return n.fsys.Rename(oldPath, newPath)
}

// fileHandle carries nothing but the open-time flags this tree cares
// about: every read/write still goes through the core by path and logical
// block, not a kernel file descriptor (spec §6 open/release contract:
// "No-op success" beyond that).
type fileHandle struct {
	appendFlag bool
}

// Open validates the target and records whether it was opened O_APPEND,
// so Write can force offset = size on every write (spec §6 "write": "If
// flags include append, set offset = size; allocate-on-write").
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if errno := n.fsys.Open(n.path()); errno != 0 {
		return nil, 0, errno
	}
	return &fileHandle{appendFlag: flags&syscall.O_APPEND != 0}, 0, 0
}

func (n *Node) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	nRead, errno := n.fsys.Read(n.path(), dest, off)
	if errno != 0 {
		return nil, errno
	}
	return fuse.ReadResultData(dest[:nRead]), 0
}

func (n *Node) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	appending := false
	if fh, ok := f.(*fileHandle); ok {
		appending = fh.appendFlag
	}
	written, errno := n.fsys.Write(n.path(), data, off, appending)
	return uint32(written), errno
}

func (n *Node) Release(ctx context.Context, f fs.FileHandle) syscall.Errno {
	return n.fsys.Release(n.path())
}

func (n *Node) Releasedir(ctx context.Context, releaseFlags uint32) {
	n.fsys.ReleaseDir(n.path())
}
