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

package header

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-shardfs/pkg/shard"
	"github.com/jeremyhahn/go-shardfs/pkg/storage"
	"github.com/jeremyhahn/go-shardfs/pkg/storage/file"
)

const testID = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func TestMarshalLayout(t *testing.T) {
	data, err := Marshal(Record{ID: testID, ChunkSize: 9})
	require.NoError(t, err)
	require.Len(t, data, Size)
	assert.Equal(t, 36, Size)

	assert.Equal(t, []byte{0xe3, 0xb0, 0xc4, 0x42}, data[:4])
	assert.Equal(t, []byte{9, 0, 0, 0}, data[32:])

	r, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, Record{ID: testID, ChunkSize: 9}, r)
}

func TestUnmarshalErrors(t *testing.T) {
	good, err := Marshal(Record{ID: testID, ChunkSize: 1})
	require.NoError(t, err)
	zero := append([]byte{}, good...)
	copy(zero[32:], []byte{0, 0, 0, 0})

	tests := []struct {
		name string
		data []byte
	}{
		{"short", good[:35]},
		{"long", append(append([]byte{}, good...), 0)},
		{"zero chunk size", zero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.data)
			assert.ErrorIs(t, err, ErrCorruptHeader)
		})
	}

	_, err = Marshal(Record{ID: "nothex", ChunkSize: 1})
	assert.ErrorIs(t, err, ErrCorruptHeader)
}

func TestChunkSizeFor(t *testing.T) {
	v, err := ChunkSizeFor(9)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), v)

	_, err = ChunkSizeFor(0)
	assert.ErrorIs(t, err, shard.ErrInvalidParameters)
}

func newTestStore(t *testing.T) (*Store, string, *storage.MemoryBackend) {
	t.Helper()
	root := t.TempDir()
	entries, err := file.New(root)
	require.NoError(t, err)
	machine := storage.NewMemory()
	shards, err := shard.NewStore([]storage.Backend{machine}, nil)
	require.NoError(t, err)
	return NewStore(entries, shards, nil), root, machine
}

func TestStoreLifecycle(t *testing.T) {
	s, root, machine := newTestStore(t)

	require.NoError(t, s.Create("docs/a.txt", 0640))
	info, err := os.Stat(filepath.Join(root, "docs", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())

	_, err = s.Read("docs/a.txt")
	assert.ErrorIs(t, err, ErrMissingHeader)

	_, err = s.Read("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, machine.Put(shard.Name(testID, 0), []byte("x"), nil))
	require.NoError(t, machine.Put(shard.Name(testID, 1), []byte("y"), nil))
	require.NoError(t, s.Write("docs/a.txt", Record{ID: testID, ChunkSize: 1}))

	raw, err := os.ReadFile(filepath.Join(root, "docs", "a.txt"))
	require.NoError(t, err)
	assert.Len(t, raw, Size)

	info, err = os.Stat(filepath.Join(root, "docs", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm(), "rewrite keeps the mode")

	r, err := s.Read("docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, testID, r.ID)

	require.NoError(t, s.DeleteCascade("docs/a.txt"))
	_, err = s.Read("docs/a.txt")
	assert.ErrorIs(t, err, ErrMissingHeader)
	keys, _ := machine.List("")
	assert.Empty(t, keys)

	require.NoError(t, s.DeleteCascade("docs/a.txt"), "cascade on empty entry is a no-op")

	require.NoError(t, s.Remove("docs/a.txt"))
	ok, err := s.Exists("docs/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteCascadeKeepsOtherGroups(t *testing.T) {
	s, _, machine := newTestStore(t)
	other := strings.Repeat("a", 64)

	require.NoError(t, machine.Put(shard.Name(testID, 0), []byte("x"), nil))
	require.NoError(t, machine.Put(shard.Name(other, 0), []byte("y"), nil))
	require.NoError(t, s.Create("f", 0600))
	require.NoError(t, s.Write("f", Record{ID: testID, ChunkSize: 1}))

	require.NoError(t, s.DeleteCascade("f"))
	keys, _ := machine.List("")
	assert.Equal(t, []string{shard.Name(other, 0)}, keys)
}

func TestDeleteCascadeCorruptHeader(t *testing.T) {
	s, root, _ := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "bad"), bytes.Repeat([]byte{1}, 10), 0600))

	require.NoError(t, s.DeleteCascade("bad"))
	_, err := s.Read("bad")
	assert.ErrorIs(t, err, ErrMissingHeader)
}

func TestRename(t *testing.T) {
	s, _, _ := newTestStore(t)
	require.NoError(t, s.Create("a", 0600))
	require.NoError(t, s.Write("a", Record{ID: testID, ChunkSize: 4}))

	require.NoError(t, s.Rename("a", "dir/b"))
	r, err := s.Read("dir/b")
	require.NoError(t, err)
	assert.Equal(t, uint32(4), r.ChunkSize)

	ok, err := s.Exists("a")
	require.NoError(t, err)
	assert.False(t, ok)
}
