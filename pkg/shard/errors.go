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

package shard

import "errors"

var (
	// ErrInvalidParameters is returned for a machine count below one, a
	// negative offset or a size that does not fit the layout.
	ErrInvalidParameters = errors.New("shard: invalid parameters")

	// ErrCorruptShard is returned when a shard is missing, truncated or
	// inconsistent with the rest of its group.
	ErrCorruptShard = errors.New("shard: corrupt shard")

	// ErrStaleLayout is returned when an existing shard directory was created
	// with a different layout.
	ErrStaleLayout = errors.New("shard: stale shard directory layout")
)
