package blockfs

import "testing"

func TestAddDirEntryReusesFreedSlot(t *testing.T) {
	fsys := newTestFS(t)
	if errno := fsys.Mknod("/one"); errno != 0 {
		t.Fatalf("Mknod(/one): errno %v", errno)
	}
	if errno := fsys.Mknod("/two"); errno != 0 {
		t.Fatalf("Mknod(/two): errno %v", errno)
	}

	root, err := fsys.readInode(RootInode)
	if err != nil {
		t.Fatalf("readInode(root): %v", err)
	}
	sizeBefore := root.Size

	if errno := fsys.Unlink("/one"); errno != 0 {
		t.Fatalf("Unlink(/one): errno %v", errno)
	}

	root, err = fsys.readInode(RootInode)
	if err != nil {
		t.Fatalf("readInode(root): %v", err)
	}
	if root.Size != sizeBefore {
		t.Fatalf("dir Size changed on unlink: got %d, want unchanged %d", root.Size, sizeBefore)
	}

	if errno := fsys.Mknod("/three"); errno != 0 {
		t.Fatalf("Mknod(/three): errno %v", errno)
	}
	root, err = fsys.readInode(RootInode)
	if err != nil {
		t.Fatalf("readInode(root): %v", err)
	}
	if root.BlockCount != 1 {
		t.Fatalf("root BlockCount = %d after hole reuse, want 1 (no new block should have been allocated)", root.BlockCount)
	}

	entries, errno := fsys.listDir(root)
	if errno != 0 {
		t.Fatalf("listDir: errno %v", errno)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	if names["one"] || !names["two"] || !names["three"] {
		t.Fatalf("listDir = %+v, want {two,three} without one", entries)
	}
}

func TestIsEmpty(t *testing.T) {
	fsys := newTestFS(t)
	if errno := fsys.Mkdir("/d"); errno != 0 {
		t.Fatalf("Mkdir: errno %v", errno)
	}
	dirIno, errno := fsys.resolvePath("/d")
	if errno != 0 {
		t.Fatalf("resolvePath: errno %v", errno)
	}
	empty, errno := fsys.isEmpty(dirIno)
	if errno != 0 || !empty {
		t.Fatalf("isEmpty = %v, %v; want true, nil", empty, errno)
	}

	if errno := fsys.Mknod("/d/x"); errno != 0 {
		t.Fatalf("Mknod: errno %v", errno)
	}
	dirIno, _ = fsys.resolvePath("/d")
	empty, errno = fsys.isEmpty(dirIno)
	if errno != 0 || empty {
		t.Fatalf("isEmpty after add = %v, %v; want false, nil", empty, errno)
	}
}
