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

package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when attempting to use a closed storage.
	ErrClosed = errors.New("storage: closed")

	// ErrNotFound is returned when a key is not found.
	ErrNotFound = errors.New("storage: not found")

	// ErrInvalidKey is returned when a key is empty or escapes the store root.
	ErrInvalidKey = errors.New("storage: invalid key")

	// ErrIO is matched by every IOError.
	ErrIO = errors.New("storage: i/o failure")
)

// IOError reports a failed storage operation on a key. It matches both ErrIO
// and the underlying cause with errors.Is.
type IOError struct {
	Op  string
	Key string
	Err error
}

// NewIOError wraps err for op on key.
func NewIOError(op, key string, err error) *IOError {
	return &IOError{Op: op, Key: key, Err: err}
}

func (e *IOError) Error() string {
	return fmt.Sprintf("storage: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() []error {
	return []error{ErrIO, e.Err}
}
