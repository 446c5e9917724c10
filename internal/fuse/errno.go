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


package fuse

import (
	"errors"
	"io/fs"
	"syscall"

	"github.com/jeremyhahn/go-shardfs/pkg/engine"
	"github.com/jeremyhahn/go-shardfs/pkg/header"
	"github.com/jeremyhahn/go-shardfs/pkg/shard"
	"github.com/jeremyhahn/go-shardfs/pkg/storage"
	"github.com/jeremyhahn/go-shardfs/pkg/transport"
)

// toErrno translates an engine or storage error into the errno returned to
// the kernel. Unreachable machines are checked first because their errors
// also match storage.ErrIO.
func toErrno(err error) syscall.Errno {
	var errno syscall.Errno
	switch {
	case err == nil:
		return 0
	case errors.Is(err, transport.ErrConnect):
		return syscall.EHOSTUNREACH
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, engine.ErrInvalidParameters),
		errors.Is(err, shard.ErrInvalidParameters),
		errors.Is(err, storage.ErrInvalidKey):
		return syscall.EINVAL
	case errors.Is(err, engine.ErrNotImplemented):
		return syscall.EOPNOTSUPP
	case errors.Is(err, engine.ErrFileTooLarge):
		return syscall.EFBIG
	case errors.Is(err, header.ErrCorruptHeader),
		errors.Is(err, header.ErrMissingHeader),
		errors.Is(err, shard.ErrCorruptShard):
		return syscall.EIO
	case errors.As(err, &errno):
		return errno
	default:
		return syscall.EIO
	}
}
