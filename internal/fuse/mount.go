// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-shardfs.
//
// go-shardfs is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.


// Package fuse mounts a shardfs storepoint through go-fuse. Directories are
// passed through to the storepoint; regular file content is read and written
// through the shard engine.
package fuse

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/jeremyhahn/go-shardfs/pkg/engine"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted. It is
	// created if it does not exist.
	Mountpoint string

	// Storepoint holds the file headers and the .shards directory.
	Storepoint string

	// Engine serves regular file content.
	Engine *engine.Engine

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Debug logs every FUSE request.
	Debug bool

	// EntryTimeout and AttrTimeout bound kernel caching. Zero uses one
	// second.
	EntryTimeout time.Duration
	AttrTimeout  time.Duration

	// Logger receives diagnostic messages. If nil, errors only go to a
	// discarding logger.
	Logger *slog.Logger
}

// filesystem is shared by every node of a mount.
type filesystem struct {
	storepoint string
	engine     *engine.Engine
	logger     *slog.Logger
}

// backing returns the storepoint path of a mount-relative path.
func (f *filesystem) backing(rel string) string {
	return filepath.Join(f.storepoint, filepath.FromSlash(rel))
}

// Mount mounts the storepoint at the configured mountpoint. The caller must
// call Unmount on the returned Server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Storepoint == "" {
		return nil, fmt.Errorf("storepoint is required")
	}
	if options.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if options.EntryTimeout <= 0 {
		options.EntryTimeout = time.Second
	}
	if options.AttrTimeout <= 0 {
		options.AttrTimeout = time.Second
	}

	storepoint, err := filepath.Abs(options.Storepoint)
	if err != nil {
		return nil, fmt.Errorf("resolving storepoint %s: %w", options.Storepoint, err)
	}
	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &dirNode{fs: &filesystem{
		storepoint: storepoint,
		engine:     options.Engine,
		logger:     options.Logger,
	}}

	negativeTimeout := 100 * time.Millisecond
	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &options.EntryTimeout,
		AttrTimeout:     &options.AttrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     storepoint,
			Name:       "shardfs",
			AllowOther: options.AllowOther,
			Debug:      options.Debug,
			MaxWrite:   fuse.MAX_KERNEL_WRITE,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("shardfs mounted",
		"mountpoint", options.Mountpoint,
		"storepoint", storepoint)
	return server, nil
}
