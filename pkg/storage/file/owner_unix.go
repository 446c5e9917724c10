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


//go:build unix

package file

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// keepOwner gives tmp the owner and group of the file it is about to
// replace. An unprivileged process cannot give a file away; in that case the
// replaced file can only have been owned by it, so EPERM is ignored.
func keepOwner(tmp *os.File, filePath string) error {
	var old, cur unix.Stat_t
	if err := unix.Stat(filePath, &old); err != nil {
		return nil
	}
	if err := unix.Fstat(int(tmp.Fd()), &cur); err != nil {
		return err
	}
	if old.Uid == cur.Uid && old.Gid == cur.Gid {
		return nil
	}
	err := unix.Fchown(int(tmp.Fd()), int(old.Uid), int(old.Gid))
	if err != nil && !errors.Is(err, unix.EPERM) {
		return err
	}
	return nil
}
