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


package engine

import (
	"errors"

	"github.com/jeremyhahn/go-shardfs/pkg/header"
	"github.com/jeremyhahn/go-shardfs/pkg/shard"
	"github.com/jeremyhahn/go-shardfs/pkg/storage"
)

var (
	// ErrInvalidParameters is returned for a bad configuration, offset or size.
	ErrInvalidParameters = errors.New("engine: invalid parameters")

	// ErrNotImplemented is returned for truncation to a non-zero size.
	ErrNotImplemented = errors.New("engine: not implemented")

	// ErrFileTooLarge is returned when a write would grow a file past the
	// largest size a header can describe.
	ErrFileTooLarge = errors.New("engine: file too large")
)

// errorType returns a short label for err used in metrics.
func errorType(err error) string {
	switch {
	case errors.Is(err, shard.ErrCorruptShard):
		return "corrupt_shard"
	case errors.Is(err, header.ErrCorruptHeader):
		return "corrupt_header"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotImplemented):
		return "not_implemented"
	case errors.Is(err, ErrInvalidParameters), errors.Is(err, shard.ErrInvalidParameters):
		return "invalid_parameters"
	case errors.Is(err, ErrFileTooLarge):
		return "too_large"
	case errors.Is(err, storage.ErrIO):
		return "io"
	default:
		return "other"
	}
}
