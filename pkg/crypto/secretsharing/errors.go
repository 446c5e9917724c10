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

package secretsharing

import "errors"

var (
	// ErrInvalidParameters is returned when share counts or thresholds are out of range.
	ErrInvalidParameters = errors.New("secretsharing: invalid parameters")

	// ErrInsufficientShares is returned when fewer shares than the threshold are supplied.
	ErrInsufficientShares = errors.New("secretsharing: insufficient shares")

	// ErrDuplicateShare is returned when two shares used for recovery have the same x coordinate.
	ErrDuplicateShare = errors.New("secretsharing: duplicate share")

	// ErrInvalidShare is returned when a share lies outside the field.
	ErrInvalidShare = errors.New("secretsharing: invalid share")
)
