// Package config resolves the command-line configuration for the fslabfs
// binary: the mountpoint, the block-device sidecar path, and the mount
// flags recognized by the original fs_opt.c.
package config

import (
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
)

const defaultSidecarPath = "fuse~"

// Config is the resolved set of everything the CLI needs to mount.
type Config struct {
	Mountpoint   string
	SidecarPath  string
	NoInit       bool
	Debug        bool
	FuseDebug    bool
}

// Parse parses args (excluding the program name) into a Config. The
// mountpoint is the first non-flag argument, matching FUSE's own
// convention of taking the mountpoint positionally.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("fslabfs", flag.ContinueOnError)
	sidecar := fs.String("sidecar", defaultSidecarPath, "path to the block-device sidecar file")
	noInit := fs.Bool("noinit", false, "attach to an existing filesystem image instead of formatting a new one")
	debug := fs.Bool("debug", false, "enable debug-level application logging")
	fuseDebug := fs.Bool("fuse-debug", false, "enable go-fuse's own protocol debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(err, "config: parse flags")
	}

	rest := fs.Args()
	if len(rest) < 1 {
		return nil, errors.New("config: missing mountpoint argument")
	}

	return &Config{
		Mountpoint:  rest[0],
		SidecarPath: *sidecar,
		NoInit:      *noInit,
		Debug:       *debug,
		FuseDebug:   *fuseDebug,
	}, nil
}
