package blockfs

import (
	"strings"
	"syscall"
)

// splitComponents splits a virtual path into its non-empty components,
// ignoring repeated or trailing slashes (spec §4.5).
func splitComponents(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolvePath walks path component by component from the root inode,
// returning the inode it names (spec §4.5). "/" itself resolves to the
// root inode.
func (fsys *Filesystem) resolvePath(path string) (*Inode, syscall.Errno) {
	cur, err := fsys.readInode(RootInode)
	if err != nil {
		return nil, syscall.EIO
	}
	for _, name := range splitComponents(path) {
		if !cur.IsDir() {
			return nil, syscall.ENOTDIR
		}
		num, errno := fsys.findInDir(cur, name)
		if errno != 0 {
			return nil, errno
		}
		if num == sentinel {
			return nil, syscall.ENOENT
		}
		cur, err = fsys.readInode(num)
		if err != nil {
			return nil, syscall.EIO
		}
	}
	return cur, 0
}

// resolveParent splits path into its parent directory's inode and the
// final component's name (spec §4.5). The parent must already exist; the
// final component need not.
func (fsys *Filesystem) resolveParent(path string) (*Inode, string, syscall.Errno) {
	comps := splitComponents(path)
	if len(comps) == 0 {
		return nil, "", syscall.EINVAL
	}
	parentPath := "/" + strings.Join(comps[:len(comps)-1], "/")
	parent, errno := fsys.resolvePath(parentPath)
	if errno != 0 {
		return nil, "", errno
	}
	if !parent.IsDir() {
		return nil, "", syscall.ENOTDIR
	}
	return parent, comps[len(comps)-1], 0
}
