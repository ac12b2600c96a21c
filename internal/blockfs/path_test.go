package blockfs

import (
	"reflect"
	"syscall"
	"testing"
)

func TestSplitComponents(t *testing.T) {
	cases := []struct {
		path string
		want []string
	}{
		{"/", []string{}},
		{"", []string{}},
		{"/a", []string{"a"}},
		{"/a/b/c", []string{"a", "b", "c"}},
		{"/a//b/", []string{"a", "b"}},
	}
	for _, c := range cases {
		got := splitComponents(c.path)
		if !reflect.DeepEqual(got, c.want) && !(len(got) == 0 && len(c.want) == 0) {
			t.Errorf("splitComponents(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}

func TestResolveParentRejectsRoot(t *testing.T) {
	fsys := newTestFS(t)
	if _, _, errno := fsys.resolveParent("/"); errno == 0 {
		t.Fatalf("resolveParent(/) succeeded, want an error")
	}
}

func TestResolveParentThroughFileIsNotDir(t *testing.T) {
	fsys := newTestFS(t)
	if errno := fsys.Mknod("/f"); errno != 0 {
		t.Fatalf("Mknod: errno %v", errno)
	}
	if _, _, errno := fsys.resolveParent("/f/child"); errno != syscall.ENOTDIR {
		t.Fatalf("resolveParent through a file errno = %v, want ENOTDIR", errno)
	}
}
