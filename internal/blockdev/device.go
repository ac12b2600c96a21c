// Package blockdev emulates the 256 MiB block device the filesystem core is
// built on: 65,536 blocks of 4,096 bytes each, stored one-file-per-block
// under a directory named by a "fuse~" sidecar file in the process working
// directory.
package blockdev

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/pkg/errors"
)

const (
	// BlockSize is the size in bytes of every block, direct or indirect.
	BlockSize = 4096
	// BlockCount is the total number of addressable blocks on the device.
	BlockCount = 65536

	sidecarName = "fuse~"
)

// Device is a handle onto the emulated block device. It is safe for use by
// one caller at a time; the filesystem core never issues overlapping I/O.
type Device struct {
	rootDir string
}

// Open reads the sidecar file and returns a Device rooted at the directory
// it names. The sidecar's first whitespace-delimited token is the absolute
// path of the directory holding block0..block65535.
func Open(sidecarPath string) (*Device, error) {
	f, err := os.Open(sidecarPath)
	if err != nil {
		return nil, errors.Wrapf(err, "blockdev: open sidecar %q", sidecarPath)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Split(bufio.ScanWords)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, errors.Wrapf(err, "blockdev: read sidecar %q", sidecarPath)
		}
		return nil, errors.Errorf("blockdev: sidecar %q is empty", sidecarPath)
	}

	root := strings.TrimSpace(sc.Text())
	if root == "" {
		return nil, errors.Errorf("blockdev: sidecar %q names an empty path", sidecarPath)
	}
	return &Device{rootDir: root}, nil
}

// Mount prepares the backing directory. When initFlag is set every block is
// zeroed, matching disk_mount's formatting loop; otherwise Mount is a no-op
// and the existing block files are trusted as-is.
func (d *Device) Mount(initFlag bool) error {
	if !initFlag {
		return nil
	}
	if err := os.MkdirAll(d.rootDir, 0755); err != nil {
		return errors.Wrapf(err, "blockdev: create root %q", d.rootDir)
	}
	zero := make([]byte, BlockSize)
	for id := 0; id < BlockCount; id++ {
		if err := d.WriteBlock(id, zero); err != nil {
			return errors.Wrapf(err, "blockdev: zero block %d", id)
		}
	}
	return nil
}

func (d *Device) blockPath(id int) string {
	return filepath.Join(d.rootDir, fmt.Sprintf("block%d", id))
}

// ReadBlock reads exactly BlockSize bytes for block id into buf.
func (d *Device) ReadBlock(id int, buf []byte) error {
	if id < 0 || id >= BlockCount {
		return errors.Errorf("blockdev: block id %d out of range", id)
	}
	if len(buf) != BlockSize {
		return errors.Errorf("blockdev: read buffer has length %d, want %d", len(buf), BlockSize)
	}
	f, err := os.Open(d.blockPath(id))
	if err != nil {
		return errors.Wrapf(err, "blockdev: open block %d", id)
	}
	defer f.Close()

	if _, err := io.ReadFull(f, buf); err != nil {
		return errors.Wrapf(err, "blockdev: read block %d", id)
	}
	return nil
}

// WriteBlock writes buf (which must be exactly BlockSize bytes) as block id.
// The write is atomic: a crash mid-write leaves either the old or the new
// contents in place, never a truncated file, since it goes through a
// temp-file-then-rename.
func (d *Device) WriteBlock(id int, buf []byte) error {
	if id < 0 || id >= BlockCount {
		return errors.Errorf("blockdev: block id %d out of range", id)
	}
	if len(buf) != BlockSize {
		return errors.Errorf("blockdev: write buffer has length %d, want %d", len(buf), BlockSize)
	}
	if err := renameio.WriteFile(d.blockPath(id), buf, 0644); err != nil {
		return errors.Wrapf(err, "blockdev: write block %d", id)
	}
	return nil
}
