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

// Package header stores the per-file header record that points a logical
// file at its current shard group.
//
// A header is exactly 36 bytes:
//
//	[0:32]  raw 256-bit group digest
//	[32:36] chunk size, u32 little-endian
//
// The record is the whole content of the logical file's backing entry in the
// storepoint. An empty entry means the logical file is empty.
package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"

	"github.com/jeremyhahn/go-shardfs/pkg/crypto/digest"
	"github.com/jeremyhahn/go-shardfs/pkg/shard"
	"github.com/jeremyhahn/go-shardfs/pkg/storage"
)

// Size is the encoded length of a Record.
const Size = digest.Size + 4

var (
	// ErrMissingHeader is returned when a file has no header (it is empty).
	ErrMissingHeader = errors.New("header: missing header")

	// ErrCorruptHeader is returned when a header has the wrong length, a
	// zero chunk size or disagrees with its shards.
	ErrCorruptHeader = errors.New("header: corrupt header")
)

// Record names the shard group holding a file's content.
type Record struct {
	ID        string // 64 hex characters
	ChunkSize uint32
}

// Marshal encodes r into its 36-byte form.
func Marshal(r Record) ([]byte, error) {
	sum, err := digest.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}
	buf := make([]byte, Size)
	copy(buf, sum[:])
	binary.LittleEndian.PutUint32(buf[digest.Size:], r.ChunkSize)
	return buf, nil
}

// Unmarshal decodes a 36-byte header. A zero chunk size is corrupt.
func Unmarshal(data []byte) (Record, error) {
	if len(data) != Size {
		return Record{}, fmt.Errorf("%w: %d bytes, want %d", ErrCorruptHeader, len(data), Size)
	}
	r := Record{
		ID:        digest.Format([digest.Size]byte(data[:digest.Size])),
		ChunkSize: binary.LittleEndian.Uint32(data[digest.Size:]),
	}
	if r.ChunkSize == 0 {
		return Record{}, fmt.Errorf("%w: chunk size is zero", ErrCorruptHeader)
	}
	return r, nil
}

// ChunkSizeFor converts a payload size to the header field, rejecting sizes
// the field cannot hold.
func ChunkSizeFor(n int) (uint32, error) {
	if n <= 0 || uint64(n) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: chunk size %d", shard.ErrInvalidParameters, n)
	}
	return uint32(n), nil
}

// Store reads and writes header records in the storepoint and cascades
// deletes to the shard store.
type Store struct {
	entries storage.Backend
	shards  *shard.Store
	logger  *slog.Logger
}

// NewStore returns a Store keeping headers in entries and shards in shards.
func NewStore(entries storage.Backend, shards *shard.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{entries: entries, shards: shards, logger: logger}
}

// Create makes an empty backing entry with the given permissions.
func (s *Store) Create(handle string, perm fs.FileMode) error {
	return s.entries.Put(handle, nil, &storage.Options{Permissions: perm})
}

// Exists reports whether the backing entry exists.
func (s *Store) Exists(handle string) (bool, error) {
	return s.entries.Exists(handle)
}

// Read loads the header of handle. An empty entry yields ErrMissingHeader; a
// missing entry yields storage.ErrNotFound.
func (s *Store) Read(handle string) (Record, error) {
	data, err := s.entries.Get(handle)
	if err != nil {
		return Record{}, err
	}
	if len(data) == 0 {
		return Record{}, ErrMissingHeader
	}
	return Unmarshal(data)
}

// Write replaces the header of handle. The replacement is atomic and keeps
// the entry's permissions.
func (s *Store) Write(handle string, r Record) error {
	data, err := Marshal(r)
	if err != nil {
		return err
	}
	return s.entries.Put(handle, data, nil)
}

// DeleteCascade removes every shard of the group named by handle's header
// and leaves the entry empty. An already empty entry is left untouched.
func (s *Store) DeleteCascade(handle string) error {
	r, err := s.Read(handle)
	switch {
	case errors.Is(err, ErrMissingHeader):
		return nil
	case errors.Is(err, ErrCorruptHeader):
		// Nothing to cascade to; clearing the entry is all that can be done.
		s.logger.Warn("clearing corrupt header", "path", handle, "error", err)
		return s.entries.Put(handle, nil, nil)
	case err != nil:
		return err
	}

	// Header first: a crash in between leaves orphan shards, never a header
	// pointing at missing shards.
	if err := s.entries.Put(handle, nil, nil); err != nil {
		return err
	}
	if _, err := s.shards.DeleteGroup(r.ID); err != nil {
		return fmt.Errorf("failed to delete shards of %s: %w", r.ID, err)
	}
	return nil
}

// Rename moves the entry of oldHandle to newHandle. The caller clears any
// populated entry at newHandle first.
func (s *Store) Rename(oldHandle, newHandle string) error {
	if r, ok := s.entries.(storage.Renamer); ok {
		return r.Rename(oldHandle, newHandle)
	}
	data, err := s.entries.Get(oldHandle)
	if err != nil {
		return err
	}
	if err := s.entries.Put(newHandle, data, nil); err != nil {
		return err
	}
	return s.entries.Delete(oldHandle)
}

// Remove deletes handle's shards and then the entry itself.
func (s *Store) Remove(handle string) error {
	if err := s.DeleteCascade(handle); err != nil {
		return err
	}
	return s.entries.Delete(handle)
}
