// Command fslabfs mounts the block-device-backed filesystem core at a
// given mountpoint, serving FUSE requests until the mount is unmounted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"

	"github.com/jedward225/fslab/internal/blockdev"
	"github.com/jedward225/fslab/internal/blockfs"
	"github.com/jedward225/fslab/internal/config"
	"github.com/jedward225/fslab/internal/fsnode"
	"github.com/jedward225/fslab/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fslabfs:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		return err
	}
	logging.Configure(cfg.Debug)

	dev, err := blockdev.Open(cfg.SidecarPath)
	if err != nil {
		return err
	}
	if err := dev.Mount(!cfg.NoInit); err != nil {
		return err
	}

	var fsys *blockfs.Filesystem
	if cfg.NoInit {
		fsys, err = blockfs.Load(dev)
	} else {
		fsys, err = blockfs.Format(dev)
	}
	if err != nil {
		return err
	}
	defer fsys.Close()

	root := fsnode.NewRoot(fsys)
	server, err := gofs.Mount(cfg.Mountpoint, root, &gofs.Options{
		UID: uint32(os.Getuid()),
		GID: uint32(os.Getgid()),
		MountOptions: fuse.MountOptions{
			Debug:      cfg.FuseDebug,
			FsName:     "fslabfs",
			Name:       "fslabfs",
			AllowOther: false,
		},
	})
	if err != nil {
		return err
	}

	logging.Important("mounted", logrus.Fields{"mountpoint": cfg.Mountpoint})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		server.Unmount()
	}()

	server.Wait()
	return nil
}
