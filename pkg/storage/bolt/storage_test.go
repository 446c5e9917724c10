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

package bolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-shardfs/pkg/storage"
)

var _ storage.Backend = (*Storage)(nil)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "shards.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStorageCRUD(t *testing.T) {
	s := openTestStorage(t)

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Put("abc-0000.shard", []byte("one"), nil))
	require.NoError(t, s.Put("abc-0001.shard", []byte("two"), nil))
	require.NoError(t, s.Put("abd-0000.shard", []byte("three"), nil))

	v, err := s.Get("abc-0001.shard")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), v)

	keys, err := s.List("abc")
	require.NoError(t, err)
	assert.Equal(t, []string{"abc-0000.shard", "abc-0001.shard"}, keys)

	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	ok, err := s.Exists("abd-0000.shard")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete("abd-0000.shard"))
	assert.ErrorIs(t, s.Delete("abd-0000.shard"), storage.ErrNotFound)

	assert.ErrorIs(t, s.Put("", []byte("x"), nil), storage.ErrInvalidKey)
}

func TestStorageReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shards.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("k", []byte("v"), nil))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestDeletePrefix(t *testing.T) {
	s := openTestStorage(t)
	for _, k := range []string{"g1-0000.shard", "g1-0001.shard", "g2-0000.shard"} {
		require.NoError(t, s.Put(k, []byte("x"), nil))
	}

	n, err := storage.DeletePrefix(s, "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := s.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"g2-0000.shard"}, keys)
}
