package blockfs

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/kylelemons/godebug/pretty"

	"github.com/jedward225/fslab/internal/blockdev"
)

func newTestFS(t *testing.T) *Filesystem {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "disk")
	sidecar := filepath.Join(dir, "fuse~")
	if err := os.WriteFile(sidecar, []byte(root+"\n"), 0644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
	dev, err := blockdev.Open(sidecar)
	if err != nil {
		t.Fatalf("blockdev.Open: %v", err)
	}
	if err := dev.Mount(true); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	fsys, err := Format(dev)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	return fsys
}

func TestRootExistsAfterFormat(t *testing.T) {
	fsys := newTestFS(t)
	ino, errno := fsys.GetAttr("/")
	if errno != 0 {
		t.Fatalf("GetAttr(/): errno %v", errno)
	}
	if !ino.IsDir() {
		t.Fatalf("root is not a directory")
	}
	if ino.Num != RootInode {
		t.Fatalf("root inode number = %d, want %d", ino.Num, RootInode)
	}
	entries, errno := fsys.ReadDir("/")
	if errno != 0 {
		t.Fatalf("ReadDir(/): errno %v", errno)
	}
	if len(entries) != 0 {
		t.Fatalf("fresh root has %d entries, want 0", len(entries))
	}
}

func TestMknodAndReadWrite(t *testing.T) {
	fsys := newTestFS(t)
	if errno := fsys.Mknod("/hello.txt"); errno != 0 {
		t.Fatalf("Mknod: errno %v", errno)
	}
	if errno := fsys.Mknod("/hello.txt"); errno != syscall.EEXIST {
		t.Fatalf("second Mknod errno = %v, want EEXIST", errno)
	}

	data := []byte("hello, block filesystem")
	n, errno := fsys.Write("/hello.txt", data, 0, false)
	if errno != 0 {
		t.Fatalf("Write: errno %v", errno)
	}
	if n != len(data) {
		t.Fatalf("wrote %d bytes, want %d", n, len(data))
	}

	buf := make([]byte, len(data))
	n, errno = fsys.Read("/hello.txt", buf, 0)
	if errno != 0 {
		t.Fatalf("Read: errno %v", errno)
	}
	if string(buf[:n]) != string(data) {
		t.Fatalf("read back %q, want %q", buf[:n], data)
	}

	ino, errno := fsys.GetAttr("/hello.txt")
	if errno != 0 {
		t.Fatalf("GetAttr: errno %v", errno)
	}
	if ino.Size != uint64(len(data)) {
		t.Fatalf("Size = %d, want %d", ino.Size, len(data))
	}
}

func TestWriteSpanningMultipleBlocks(t *testing.T) {
	fsys := newTestFS(t)
	if errno := fsys.Mknod("/big.bin"); errno != 0 {
		t.Fatalf("Mknod: errno %v", errno)
	}

	data := make([]byte, blockSize*3+17)
	for i := range data {
		data[i] = byte(i)
	}
	if _, errno := fsys.Write("/big.bin", data, 0, false); errno != 0 {
		t.Fatalf("Write: errno %v", errno)
	}

	buf := make([]byte, len(data))
	n, errno := fsys.Read("/big.bin", buf, 0)
	if errno != 0 {
		t.Fatalf("Read: errno %v", errno)
	}
	if n != len(data) {
		t.Fatalf("read %d bytes, want %d", n, len(data))
	}
	for i := range data {
		if buf[i] != data[i] {
			t.Fatalf("byte %d mismatch: got %d, want %d", i, buf[i], data[i])
		}
	}
}

func TestReadPastEndOfFileReturnsZero(t *testing.T) {
	fsys := newTestFS(t)
	if errno := fsys.Mknod("/short.txt"); errno != 0 {
		t.Fatalf("Mknod: errno %v", errno)
	}
	if _, errno := fsys.Write("/short.txt", []byte("hi"), 0, false); errno != 0 {
		t.Fatalf("Write: errno %v", errno)
	}
	buf := make([]byte, 10)
	n, errno := fsys.Read("/short.txt", buf, 100)
	if errno != 0 {
		t.Fatalf("Read: errno %v", errno)
	}
	if n != 0 {
		t.Fatalf("Read past EOF returned %d bytes, want 0", n)
	}
}

func TestMkdirAndNesting(t *testing.T) {
	fsys := newTestFS(t)
	if errno := fsys.Mkdir("/sub"); errno != 0 {
		t.Fatalf("Mkdir: errno %v", errno)
	}
	if errno := fsys.Mknod("/sub/file"); errno != 0 {
		t.Fatalf("Mknod nested: errno %v", errno)
	}

	entries, errno := fsys.ReadDir("/sub")
	if errno != 0 {
		t.Fatalf("ReadDir: errno %v", errno)
	}
	if len(entries) != 1 || entries[0].Name != "file" {
		t.Fatalf("ReadDir(/sub) = %+v, want [{file}]", entries)
	}

	if _, errno := fsys.GetAttr("/sub/missing"); errno != syscall.ENOENT {
		t.Fatalf("GetAttr(missing) errno = %v, want ENOENT", errno)
	}
	if _, errno := fsys.GetAttr("/sub/file/x"); errno != syscall.ENOTDIR {
		t.Fatalf("GetAttr through file errno = %v, want ENOTDIR", errno)
	}
}

func TestUnlinkAndRmdir(t *testing.T) {
	fsys := newTestFS(t)
	if errno := fsys.Mkdir("/d"); errno != 0 {
		t.Fatalf("Mkdir: errno %v", errno)
	}
	if errno := fsys.Mknod("/d/f"); errno != 0 {
		t.Fatalf("Mknod: errno %v", errno)
	}

	if errno := fsys.Rmdir("/d"); errno != syscall.ENOTEMPTY {
		t.Fatalf("Rmdir non-empty errno = %v, want ENOTEMPTY", errno)
	}
	if errno := fsys.Unlink("/d/f"); errno != 0 {
		t.Fatalf("Unlink: errno %v", errno)
	}
	if errno := fsys.Rmdir("/d"); errno != 0 {
		t.Fatalf("Rmdir: errno %v", errno)
	}
	if _, errno := fsys.GetAttr("/d"); errno != syscall.ENOENT {
		t.Fatalf("GetAttr after Rmdir errno = %v, want ENOENT", errno)
	}

	if errno := fsys.Unlink("/d/f"); errno != syscall.ENOENT {
		t.Fatalf("Unlink missing errno = %v, want ENOENT", errno)
	}

	if errno := fsys.Mknod("/reg"); errno != 0 {
		t.Fatalf("Mknod: errno %v", errno)
	}
	if errno := fsys.Rmdir("/reg"); errno != syscall.ENOTDIR {
		t.Fatalf("Rmdir on regular file errno = %v, want ENOTDIR", errno)
	}
	if errno := fsys.Unlink("/"); errno != syscall.EBUSY {
		t.Fatalf("Unlink(/) errno = %v, want EBUSY", errno)
	}
}

func TestRename(t *testing.T) {
	fsys := newTestFS(t)
	if errno := fsys.Mknod("/a"); errno != 0 {
		t.Fatalf("Mknod: errno %v", errno)
	}
	if errno := fsys.Rename("/a", "/b"); errno != 0 {
		t.Fatalf("Rename: errno %v", errno)
	}
	if _, errno := fsys.GetAttr("/a"); errno != syscall.ENOENT {
		t.Fatalf("GetAttr(/a) after rename errno = %v, want ENOENT", errno)
	}
	if _, errno := fsys.GetAttr("/b"); errno != 0 {
		t.Fatalf("GetAttr(/b) after rename errno = %v", errno)
	}

	if errno := fsys.Mknod("/c"); errno != 0 {
		t.Fatalf("Mknod: errno %v", errno)
	}
	if errno := fsys.Rename("/b", "/c"); errno != syscall.EEXIST {
		t.Fatalf("Rename onto existing errno = %v, want EEXIST", errno)
	}
}

func TestTruncateGrowAndShrink(t *testing.T) {
	fsys := newTestFS(t)
	if errno := fsys.Mknod("/t"); errno != 0 {
		t.Fatalf("Mknod: errno %v", errno)
	}
	if _, errno := fsys.Write("/t", []byte("0123456789"), 0, false); errno != 0 {
		t.Fatalf("Write: errno %v", errno)
	}
	if errno := fsys.Truncate("/t", 4); errno != 0 {
		t.Fatalf("Truncate shrink: errno %v", errno)
	}
	ino, errno := fsys.GetAttr("/t")
	if errno != 0 || ino.Size != 4 {
		t.Fatalf("after shrink: errno=%v size=%d, want size 4", errno, ino.Size)
	}

	if errno := fsys.Truncate("/t", 100); errno != 0 {
		t.Fatalf("Truncate grow: errno %v", errno)
	}
	buf := make([]byte, 100)
	n, errno := fsys.Read("/t", buf, 0)
	if errno != 0 {
		t.Fatalf("Read after grow: errno %v", errno)
	}
	if n != 100 {
		t.Fatalf("read %d bytes after grow, want 100", n)
	}
	for i := 4; i < 100; i++ {
		if buf[i] != 0 {
			t.Fatalf("byte %d in grown gap = %d, want 0", i, buf[i])
		}
	}
}

func TestUtimens(t *testing.T) {
	fsys := newTestFS(t)
	if errno := fsys.Mknod("/u"); errno != 0 {
		t.Fatalf("Mknod: errno %v", errno)
	}
	at := time.Unix(1000, 0)
	mt := time.Unix(2000, 0)
	if errno := fsys.Utimens("/u", at, mt); errno != 0 {
		t.Fatalf("Utimens: errno %v", errno)
	}
	ino, errno := fsys.GetAttr("/u")
	if errno != 0 {
		t.Fatalf("GetAttr: errno %v", errno)
	}
	if !ino.Atime.Equal(at) || !ino.Mtime.Equal(mt) {
		t.Fatalf("times = %v/%v, want %v/%v", ino.Atime, ino.Mtime, at, mt)
	}
}

func TestStatfsReflectsAllocation(t *testing.T) {
	fsys := newTestFS(t)
	before := fsys.Statfs()
	if errno := fsys.Mknod("/s"); errno != 0 {
		t.Fatalf("Mknod: errno %v", errno)
	}
	if _, errno := fsys.Write("/s", make([]byte, blockSize), 0, false); errno != 0 {
		t.Fatalf("Write: errno %v", errno)
	}
	after := fsys.Statfs()
	if after.FreeInodes != before.FreeInodes-1 {
		t.Fatalf("FreeInodes = %d, want %d", after.FreeInodes, before.FreeInodes-1)
	}
	// One block for the fresh root's first directory block, one for /s's data.
	if after.FreeBlocks != before.FreeBlocks-2 {
		t.Fatalf("FreeBlocks = %d, want %d", after.FreeBlocks, before.FreeBlocks-2)
	}
}

func TestMknodNameTooLong(t *testing.T) {
	fsys := newTestFS(t)
	long := make([]byte, maxNameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if errno := fsys.Mknod("/" + string(long)); errno != syscall.ENAMETOOLONG {
		t.Fatalf("Mknod with long name errno = %v, want ENAMETOOLONG", errno)
	}
}

func TestLoadExistingImage(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "disk")
	sidecar := filepath.Join(dir, "fuse~")
	if err := os.WriteFile(sidecar, []byte(root+"\n"), 0644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
	dev, err := blockdev.Open(sidecar)
	if err != nil {
		t.Fatalf("blockdev.Open: %v", err)
	}
	if err := dev.Mount(true); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	fsys, err := Format(dev)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if errno := fsys.Mknod("/persisted"); errno != 0 {
		t.Fatalf("Mknod: errno %v", errno)
	}
	before, errno := fsys.GetAttr("/persisted")
	if errno != 0 {
		t.Fatalf("GetAttr before reload: errno %v", errno)
	}

	dev2, err := blockdev.Open(sidecar)
	if err != nil {
		t.Fatalf("blockdev.Open (reload): %v", err)
	}
	if err := dev2.Mount(false); err != nil {
		t.Fatalf("Mount (reload): %v", err)
	}
	reloaded, err := Load(dev2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	after, errno := reloaded.GetAttr("/persisted")
	if errno != 0 {
		t.Fatalf("GetAttr(/persisted) after reload: errno %v", errno)
	}
	if diff := pretty.Compare(before, after); diff != "" {
		t.Fatalf("inode changed across reload: %s", diff)
	}
}
