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
	"bytes"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-shardfs/pkg/crypto/aead"
	"github.com/jeremyhahn/go-shardfs/pkg/crypto/digest"
	"github.com/jeremyhahn/go-shardfs/pkg/header"
	"github.com/jeremyhahn/go-shardfs/pkg/logging"
	"github.com/jeremyhahn/go-shardfs/pkg/shard"
	"github.com/jeremyhahn/go-shardfs/pkg/storage"
)

const hello = "Hello, distributed world!"

type fixture struct {
	engine   *Engine
	entries  *storage.MemoryBackend
	machines []*storage.MemoryBackend
	headers  *header.Store
	shards   *shard.Store
}

// newFixture builds an engine over in-memory stores with one machine per
// shard, so shard i lives on machines[i].
func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{entries: storage.NewMemory()}
	backends := make([]storage.Backend, cfg.Machines+cfg.Parity)
	for i := range backends {
		m := storage.NewMemory()
		f.machines = append(f.machines, m)
		backends[i] = m
	}

	var err error
	f.shards, err = shard.NewStore(backends, logging.Discard())
	require.NoError(t, err)
	f.headers = header.NewStore(f.entries, f.shards, logging.Discard())

	cfg.Logger = logging.Discard()
	f.engine, err = New(cfg, f.headers, f.shards)
	require.NoError(t, err)
	return f
}

// reopen returns a second engine over the same stores.
func (f *fixture) reopen(t *testing.T, cfg Config) *Engine {
	t.Helper()
	cfg.Logger = logging.Discard()
	e, err := New(cfg, f.headers, f.shards)
	require.NoError(t, err)
	return e
}

func (f *fixture) shardKeys(t *testing.T) []string {
	t.Helper()
	var keys []string
	for _, m := range f.machines {
		k, err := m.List("")
		require.NoError(t, err)
		keys = append(keys, k...)
	}
	return keys
}

func (f *fixture) readAll(t *testing.T, path string) []byte {
	t.Helper()
	size, err := f.engine.Size(path)
	require.NoError(t, err)
	buf := make([]byte, size)
	n, err := f.engine.Read(path, buf, 0)
	require.NoError(t, err)
	return buf[:n]
}

func TestWriteRead(t *testing.T) {
	f := newFixture(t, Config{Machines: 3})
	e := f.engine

	require.NoError(t, e.Create("f", 0644))
	n, err := e.Write("f", []byte(hello), 0)
	require.NoError(t, err)
	assert.Equal(t, len(hello), n)

	r, err := f.headers.Read("f")
	require.NoError(t, err)
	assert.Equal(t, uint32(9), r.ChunkSize)
	assert.Len(t, r.ID, digest.HexLen)

	for i, m := range f.machines {
		keys, err := m.List("")
		require.NoError(t, err)
		assert.Equal(t, []string{shard.Name(r.ID, i)}, keys)
	}

	buf := make([]byte, len(hello))
	n, err = e.Read("f", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, len(hello), n)
	assert.Equal(t, hello, string(buf))

	size, err := e.Size("f")
	require.NoError(t, err)
	assert.Equal(t, int64(len(hello)), size)

	state, err := e.State("f")
	require.NoError(t, err)
	assert.Equal(t, StatePopulated, state)
}

func TestWritePatchReplacesGroup(t *testing.T) {
	f := newFixture(t, Config{Machines: 3})
	e := f.engine

	require.NoError(t, e.Create("f", 0644))
	_, err := e.Write("f", []byte(hello), 0)
	require.NoError(t, err)
	before, err := f.headers.Read("f")
	require.NoError(t, err)

	n, err := e.Write("f", []byte("XX"), 8)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	after, err := f.headers.Read("f")
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, after.ID)
	assert.Equal(t, "Hello, XXstributed world!", string(f.readAll(t, "f")))

	keys := f.shardKeys(t)
	assert.Len(t, keys, 3)
	for _, k := range keys {
		id, _, ok := shard.ParseName(k)
		require.True(t, ok)
		assert.Equal(t, after.ID, id)
	}
}

func TestSameContentDistinctGroups(t *testing.T) {
	f := newFixture(t, Config{Machines: 2})
	e := f.engine

	for _, p := range []string{"a", "b"} {
		require.NoError(t, e.Create(p, 0644))
		_, err := e.Write(p, []byte("same"), 0)
		require.NoError(t, err)
	}
	ra, err := f.headers.Read("a")
	require.NoError(t, err)
	rb, err := f.headers.Read("b")
	require.NoError(t, err)
	assert.NotEqual(t, ra.ID, rb.ID)

	require.NoError(t, e.Unlink("a"))
	assert.Equal(t, "same", string(f.readAll(t, "b")))
}

func TestWriteGapZeroFill(t *testing.T) {
	f := newFixture(t, Config{Machines: 2})
	e := f.engine

	require.NoError(t, e.Create("f", 0644))
	_, err := e.Write("f", []byte("ab"), 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 'a', 'b'}, f.readAll(t, "f"))

	_, err = e.Write("f", []byte("cd"), 9)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 'a', 'b', 0, 0, 'c', 'd'}, f.readAll(t, "f"))
}

func TestWriteEmptyData(t *testing.T) {
	f := newFixture(t, Config{Machines: 2})
	e := f.engine

	require.NoError(t, e.Create("f", 0644))
	n, err := e.Write("f", nil, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	state, err := e.State("f")
	require.NoError(t, err)
	assert.Equal(t, StateEmpty, state)
}

func TestReadZeroFill(t *testing.T) {
	f := newFixture(t, Config{Machines: 3})
	e := f.engine

	require.NoError(t, e.Create("f", 0644))

	t.Run("empty file", func(t *testing.T) {
		buf := bytes.Repeat([]byte{0xff}, 8)
		n, err := e.Read("f", buf, 0)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, make([]byte, 8), buf)
	})

	_, err := e.Write("f", []byte(hello), 0)
	require.NoError(t, err)

	tests := []struct {
		name string
		off  int64
		size int
		want string
		n    int
	}{
		{"prefix", 0, 5, "Hello", 5},
		{"middle", 7, 11, "distributed", 11},
		{"past end", 19, 10, "world!\x00\x00\x00\x00", 6},
		{"at end", 25, 4, "\x00\x00\x00\x00", 0},
		{"beyond end", 100, 2, "\x00\x00", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := bytes.Repeat([]byte{0xff}, tt.size)
			n, err := e.Read("f", buf, tt.off)
			require.NoError(t, err)
			assert.Equal(t, tt.n, n)
			assert.Equal(t, tt.want, string(buf))
		})
	}

	_, err = e.Read("f", make([]byte, 1), -1)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestTruncate(t *testing.T) {
	f := newFixture(t, Config{Machines: 3})
	e := f.engine

	require.NoError(t, e.Create("f", 0644))
	require.NoError(t, e.Truncate("f", 0), "truncating an empty file is a no-op")

	_, err := e.Write("f", []byte(hello), 0)
	require.NoError(t, err)

	assert.ErrorIs(t, e.Truncate("f", 5), ErrNotImplemented)
	assert.ErrorIs(t, e.Truncate("f", -1), ErrInvalidParameters)
	assert.Equal(t, hello, string(f.readAll(t, "f")))

	require.NoError(t, e.Truncate("f", 0))
	state, err := e.State("f")
	require.NoError(t, err)
	assert.Equal(t, StateEmpty, state)
	assert.Empty(t, f.shardKeys(t))

	size, err := e.Size("f")
	require.NoError(t, err)
	assert.Zero(t, size)

	assert.ErrorIs(t, e.Truncate("missing", 0), storage.ErrNotFound)
}

func TestUnlink(t *testing.T) {
	f := newFixture(t, Config{Machines: 3})
	e := f.engine

	require.NoError(t, e.Create("f", 0644))
	_, err := e.Write("f", []byte(hello), 0)
	require.NoError(t, err)

	require.NoError(t, e.Unlink("f"))
	state, err := e.State("f")
	require.NoError(t, err)
	assert.Equal(t, StateDeleted, state)
	assert.Empty(t, f.shardKeys(t))

	_, err = e.Read("f", make([]byte, 4), 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, e.Unlink("f"), storage.ErrNotFound)
}

func TestCreateEmptiesExisting(t *testing.T) {
	f := newFixture(t, Config{Machines: 2})
	e := f.engine

	require.NoError(t, e.Create("f", 0644))
	_, err := e.Write("f", []byte("data"), 0)
	require.NoError(t, err)

	require.NoError(t, e.Create("f", 0644))
	state, err := e.State("f")
	require.NoError(t, err)
	assert.Equal(t, StateEmpty, state)
	assert.Empty(t, f.shardKeys(t))
}

func TestRename(t *testing.T) {
	f := newFixture(t, Config{Machines: 2})
	e := f.engine

	for p, data := range map[string]string{"a": "first", "b": "second"} {
		require.NoError(t, e.Create(p, 0644))
		_, err := e.Write(p, []byte(data), 0)
		require.NoError(t, err)
	}

	require.NoError(t, e.Rename("a", "b"))
	assert.Equal(t, "first", string(f.readAll(t, "b")))
	assert.Len(t, f.shardKeys(t), 2)

	state, err := e.State("a")
	require.NoError(t, err)
	assert.Equal(t, StateDeleted, state)

	require.NoError(t, e.Rename("b", "b"))
	require.NoError(t, e.Rename("b", "dir/c"))
	assert.Equal(t, "first", string(f.readAll(t, "dir/c")))
}

func TestRenameMissingSourceKeepsTarget(t *testing.T) {
	f := newFixture(t, Config{Machines: 3})
	e := f.engine

	require.NoError(t, e.Create("b", 0644))
	_, err := e.Write("b", []byte("keep me"), 0)
	require.NoError(t, err)
	shards := f.shardKeys(t)
	require.Len(t, shards, 3)

	err = e.Rename("missing", "b")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	state, err := e.State("b")
	require.NoError(t, err)
	assert.Equal(t, StatePopulated, state)
	assert.Equal(t, "keep me", string(f.readAll(t, "b")))
	assert.Equal(t, shards, f.shardKeys(t))
}

func TestRenameOntoEmptyTarget(t *testing.T) {
	f := newFixture(t, Config{Machines: 2})
	e := f.engine

	require.NoError(t, e.Create("a", 0644))
	_, err := e.Write("a", []byte("moved"), 0)
	require.NoError(t, err)
	require.NoError(t, e.Create("b", 0644))

	require.NoError(t, e.Rename("a", "b"))
	assert.Equal(t, "moved", string(f.readAll(t, "b")))
	assert.Len(t, f.shardKeys(t), 2)
}

func TestEncryptedRoundTrip(t *testing.T) {
	for _, alg := range []string{aead.AES256GCM, aead.ChaCha20Poly1305} {
		t.Run(alg, func(t *testing.T) {
			f := newFixture(t, Config{Machines: 3, Encryption: alg, Threshold: 2})
			e := f.engine
			assert.Equal(t, alg, e.Algorithm())

			require.NoError(t, e.Create("f", 0600))
			_, err := e.Write("f", []byte(hello), 0)
			require.NoError(t, err)

			for _, m := range f.machines {
				keys, err := m.List("")
				require.NoError(t, err)
				require.Len(t, keys, 1)
				file, err := m.Get(keys[0])
				require.NoError(t, err)

				meta, payload, err := shard.Decode(file)
				require.NoError(t, err)
				assert.True(t, meta.Encrypted())
				assert.Equal(t, uint16(2), meta.Threshold)
				assert.NotZero(t, meta.ShareX)
				assert.False(t, bytes.Contains(payload, []byte("Hello")))
			}

			assert.Equal(t, hello, string(f.readAll(t, "f")))

			_, err = e.Write("f", []byte("XX"), 8)
			require.NoError(t, err)
			assert.Equal(t, "Hello, XXstributed world!", string(f.readAll(t, "f")))
		})
	}
}

func TestEncryptedTamperedPayload(t *testing.T) {
	f := newFixture(t, Config{Machines: 2, Encryption: aead.ChaCha20Poly1305})
	e := f.engine

	require.NoError(t, e.Create("f", 0600))
	_, err := e.Write("f", []byte(hello), 0)
	require.NoError(t, err)

	r, err := f.headers.Read("f")
	require.NoError(t, err)
	name := shard.Name(r.ID, 1)
	file, err := f.machines[1].Get(name)
	require.NoError(t, err)
	file[len(file)-1] ^= 0x01
	require.NoError(t, f.machines[1].Put(name, file, nil))

	_, err = e.Read("f", make([]byte, 4), 0)
	assert.ErrorIs(t, err, shard.ErrCorruptShard)
}

func TestParityReconstruction(t *testing.T) {
	cfg := Config{Machines: 3, Parity: 2, Encryption: aead.AES256GCM}
	f := newFixture(t, cfg)
	e := f.engine

	require.NoError(t, e.Create("f", 0644))
	_, err := e.Write("f", []byte(hello), 0)
	require.NoError(t, err)
	assert.Len(t, f.shardKeys(t), 5)

	r, err := f.headers.Read("f")
	require.NoError(t, err)

	// Shard i lives on machine i.
	require.NoError(t, f.machines[0].Delete(shard.Name(r.ID, 0)))
	require.NoError(t, f.machines[2].Put(shard.Name(r.ID, 2), []byte("garbage"), nil))
	assert.Equal(t, hello, string(f.readAll(t, "f")))

	require.NoError(t, f.machines[4].Delete(shard.Name(r.ID, 4)))
	_, err = e.Read("f", make([]byte, 4), 0)
	assert.ErrorIs(t, err, shard.ErrCorruptShard)
}

func TestCorruptShards(t *testing.T) {
	tests := []struct {
		name   string
		damage func(t *testing.T, f *fixture, id string)
	}{
		{
			name: "missing shard",
			damage: func(t *testing.T, f *fixture, id string) {
				require.NoError(t, f.machines[1].Delete(shard.Name(id, 1)))
			},
		},
		{
			name: "truncated shard",
			damage: func(t *testing.T, f *fixture, id string) {
				require.NoError(t, f.machines[2].Put(shard.Name(id, 2), []byte("SHRD"), nil))
			},
		},
		{
			name: "flipped payload byte",
			damage: func(t *testing.T, f *fixture, id string) {
				name := shard.Name(id, 1)
				file, err := f.machines[1].Get(name)
				require.NoError(t, err)
				file[shard.MetaLen] ^= 0xff
				require.NoError(t, f.machines[1].Put(name, file, nil))
			},
		},
		{
			name: "short payload",
			damage: func(t *testing.T, f *fixture, id string) {
				name := shard.Name(id, 0)
				file, err := f.machines[0].Get(name)
				require.NoError(t, err)
				require.NoError(t, f.machines[0].Put(name, file[:len(file)-1], nil))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{Machines: 3})
			require.NoError(t, f.engine.Create("f", 0644))
			_, err := f.engine.Write("f", []byte(hello), 0)
			require.NoError(t, err)

			r, err := f.headers.Read("f")
			require.NoError(t, err)
			tt.damage(t, f, r.ID)

			_, err = f.engine.Read("f", make([]byte, 4), 0)
			assert.ErrorIs(t, err, shard.ErrCorruptShard)

			_, err = f.engine.Write("f", []byte("x"), 0)
			assert.ErrorIs(t, err, shard.ErrCorruptShard)
		})
	}
}

func TestCorruptHeader(t *testing.T) {
	f := newFixture(t, Config{Machines: 3})
	e := f.engine

	require.NoError(t, f.entries.Put("zero", make([]byte, header.Size), nil))
	_, err := e.Read("zero", make([]byte, 4), 0)
	assert.ErrorIs(t, err, header.ErrCorruptHeader)

	state, err := e.State("zero")
	assert.ErrorIs(t, err, header.ErrCorruptHeader)
	assert.Equal(t, StatePopulated, state)

	require.NoError(t, f.entries.Put("short", []byte("abc"), nil))
	_, err = e.Size("short")
	assert.ErrorIs(t, err, header.ErrCorruptHeader)

	// A chunk size too small for the logical size.
	require.NoError(t, e.Create("f", 0644))
	_, err = e.Write("f", []byte(hello), 0)
	require.NoError(t, err)
	r, err := f.headers.Read("f")
	require.NoError(t, err)
	require.NoError(t, f.headers.Write("f", header.Record{ID: r.ID, ChunkSize: 1}))

	fresh := f.reopen(t, Config{Machines: 3})
	_, err = fresh.Read("f", make([]byte, 4), 0)
	assert.ErrorIs(t, err, header.ErrCorruptHeader)
	_, err = fresh.Size("f")
	assert.ErrorIs(t, err, header.ErrCorruptHeader)

	// Truncation clears a corrupt header.
	require.NoError(t, e.Truncate("zero", 0))
	state, err = e.State("zero")
	require.NoError(t, err)
	assert.Equal(t, StateEmpty, state)
}

func TestMachineCountMismatch(t *testing.T) {
	f := newFixture(t, Config{Machines: 3})
	require.NoError(t, f.engine.Create("f", 0644))
	_, err := f.engine.Write("f", []byte(hello), 0)
	require.NoError(t, err)

	other := f.reopen(t, Config{Machines: 2})
	_, err = other.Read("f", make([]byte, 4), 0)
	assert.ErrorIs(t, err, header.ErrCorruptHeader)
}

func TestSizeFromMetadata(t *testing.T) {
	f := newFixture(t, Config{Machines: 3, Digest: digest.BLAKE3})
	require.NoError(t, f.engine.Create("f", 0644))
	_, err := f.engine.Write("f", []byte(hello), 0)
	require.NoError(t, err)

	fresh := f.reopen(t, Config{Machines: 3, Digest: digest.BLAKE3})
	size, err := fresh.Size("f")
	require.NoError(t, err)
	assert.Equal(t, int64(len(hello)), size)

	// Content ids are algorithm specific.
	wrong := f.reopen(t, Config{Machines: 3})
	_, err = wrong.Read("f", make([]byte, 4), 0)
	assert.ErrorIs(t, err, shard.ErrCorruptShard)
}

func TestWriteTooLarge(t *testing.T) {
	f := newFixture(t, Config{Machines: 1})
	require.NoError(t, f.engine.Create("f", 0644))

	_, err := f.engine.Write("f", []byte("x"), math.MaxUint32)
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = f.engine.Write("f", []byte("x"), -1)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestConcurrentWrites(t *testing.T) {
	f := newFixture(t, Config{Machines: 3})
	e := f.engine

	const writers = 8
	require.NoError(t, e.Create("shared", 0644))
	for i := range writers {
		require.NoError(t, e.Create(fmt.Sprintf("file-%d", i), 0644))
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2*writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			block := bytes.Repeat([]byte{byte('a' + i)}, 4)
			if _, err := e.Write("shared", block, int64(i*4)); err != nil {
				errs <- err
			}
			if _, err := e.Write(fmt.Sprintf("file-%d", i), block, 0); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var want []byte
	for i := range writers {
		block := bytes.Repeat([]byte{byte('a' + i)}, 4)
		want = append(want, block...)
		assert.Equal(t, block, f.readAll(t, fmt.Sprintf("file-%d", i)))
	}
	assert.Equal(t, want, f.readAll(t, "shared"))
	assert.Len(t, f.shardKeys(t), 3*(writers+1))
	assert.Zero(t, e.locks.size())
}

func TestNewInvalidConfig(t *testing.T) {
	headers := header.NewStore(storage.NewMemory(), nil, nil)
	shards, err := shard.NewStore([]storage.Backend{storage.NewMemory()}, nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no machines", Config{Machines: 0}},
		{"negative parity", Config{Machines: 2, Parity: -1}},
		{"threshold above total", Config{Machines: 2, Parity: 1, Threshold: 4}},
		{"negative threshold", Config{Machines: 2, Threshold: -1}},
		{"unknown cipher", Config{Machines: 2, Encryption: "rot13"}},
		{"unknown digest", Config{Machines: 2, Digest: "md5"}},
		{"too many shards", Config{Machines: 200, Parity: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, headers, shards)
			assert.Error(t, err)
		})
	}

	_, err = New(Config{Machines: 1}, nil, shards)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "empty", StateEmpty.String())
	assert.Equal(t, "populated", StatePopulated.String())
	assert.Equal(t, "deleted", StateDeleted.String())
	assert.Equal(t, "State(7)", State(7).String())
}
