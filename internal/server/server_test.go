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


package server

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-shardfs/internal/config"
	"github.com/jeremyhahn/go-shardfs/pkg/crypto/aead"
	"github.com/jeremyhahn/go-shardfs/pkg/health"
	"github.com/jeremyhahn/go-shardfs/pkg/logging"
	"github.com/jeremyhahn/go-shardfs/pkg/shard"
	"github.com/jeremyhahn/go-shardfs/pkg/storage"
	"github.com/jeremyhahn/go-shardfs/pkg/storage/bolt"
	"github.com/jeremyhahn/go-shardfs/pkg/storage/file"
	"github.com/jeremyhahn/go-shardfs/pkg/transport"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Transport.Address = "127.0.0.1"
	cfg.Transport.Port = 0
	cfg.Transport.Retries = 3
	cfg.Transport.RetryInterval = 10 * time.Millisecond
	cfg.Transport.DialTimeout = 500 * time.Millisecond
	return cfg
}

// startShardServer runs a shard server over backend and returns its port.
func startShardServer(t *testing.T, backend storage.Backend) int {
	t.Helper()
	srv := New(testConfig(), logging.Discard())
	require.NoError(t, srv.Start())
	l, err := srv.ServeShards(backend)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(ctx))
	})
	return l.Port()
}

func TestOpenStoresLocal(t *testing.T) {
	cfg := testConfig()
	cfg.Shards.Machines = 3

	stores, err := OpenStores(context.Background(), cfg, t.TempDir(), logging.Discard())
	require.NoError(t, err)
	defer stores.Close()

	assert.Len(t, stores.Machines, 1)
	assert.Equal(t, filepath.Join(stores.Storepoint, shard.DirName), stores.ShardDir)

	eng, err := stores.Engine(cfg, logging.Discard())
	require.NoError(t, err)

	require.NoError(t, eng.Create("notes.txt", 0o644))
	_, err = eng.Write("notes.txt", []byte("Hello, distributed world!"), 0)
	require.NoError(t, err)

	shards, err := stores.Machines[0].List("")
	require.NoError(t, err)
	assert.Len(t, shards, 3)

	keys, err := stores.Entries.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt"}, keys, "shard directory stays out of the entry listing")
}

func TestOpenStoresStaleLayout(t *testing.T) {
	storepoint := t.TempDir()

	cfg := testConfig()
	cfg.Shards.Machines = 2
	stores, err := OpenStores(context.Background(), cfg, storepoint, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, stores.Close())

	cfg.Shards.Machines = 3
	_, err = OpenStores(context.Background(), cfg, storepoint, logging.Discard())
	assert.ErrorIs(t, err, shard.ErrStaleLayout)
}

func TestOpenStoresWithPeers(t *testing.T) {
	remote := storage.NewMemory()
	port := startShardServer(t, remote)

	cfg := testConfig()
	cfg.Shards.Machines = 2
	cfg.Shards.Peers = []string{fmt.Sprintf("127.0.0.1:%d", port)}
	cfg.Crypto.Encryption = aead.ChaCha20Poly1305

	stores, err := OpenStores(context.Background(), cfg, t.TempDir(), logging.Discard())
	require.NoError(t, err)
	defer stores.Close()
	require.Len(t, stores.Machines, 2)

	eng, err := stores.Engine(cfg, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, eng.Create("f", 0o600))
	_, err = eng.Write("f", []byte("split across two machines"), 0)
	require.NoError(t, err)

	remoteKeys, err := remote.List("")
	require.NoError(t, err)
	assert.Len(t, remoteKeys, 1, "shard 1 lives on the peer")

	buf := make([]byte, 25)
	n, err := eng.Read("f", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "split across two machines", string(buf[:n]))
}

func TestOpenStoresUnreachablePeer(t *testing.T) {
	cfg := testConfig()
	cfg.Shards.Machines = 2
	cfg.Shards.Peers = []string{"127.0.0.1:1"}
	cfg.Transport.Retries = 1

	_, err := OpenStores(context.Background(), cfg, t.TempDir(), logging.Discard())
	assert.ErrorIs(t, err, transport.ErrConnect)
}

func TestOpenShardBackend(t *testing.T) {
	cfg := testConfig()

	dir := t.TempDir()
	b, err := OpenShardBackend(cfg, dir)
	require.NoError(t, err)
	assert.IsType(t, &file.FileStorage{}, b)
	require.NoError(t, b.Close())

	cfg.Transport.Backend = config.BackendBolt
	b, err = OpenShardBackend(cfg, dir)
	require.NoError(t, err)
	assert.IsType(t, &bolt.Storage{}, b)
	assert.FileExists(t, filepath.Join(dir, BoltFile))
	require.NoError(t, b.Close())

	cfg.Transport.Backend = "tape"
	_, err = OpenShardBackend(cfg, dir)
	assert.Error(t, err)
}

func TestServerGoReportsErrors(t *testing.T) {
	srv := New(testConfig(), logging.Discard())
	require.NoError(t, srv.Start())

	boom := errors.New("boom")
	srv.Go("failing", func(context.Context) error { return boom })
	srv.Go("waiting", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := srv.Shutdown(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestServerHealth(t *testing.T) {
	srv := New(testConfig(), logging.Discard())
	srv.RegisterStorageChecks(t.TempDir(), []storage.Backend{storage.NewMemory()})
	assert.False(t, srv.Health().IsStarted())

	require.NoError(t, srv.Start())
	assert.True(t, srv.Health().IsStarted())
	assert.Equal(t, health.StatusHealthy, health.AggregateStatus(srv.Health().Ready(context.Background())))
	require.NoError(t, srv.Shutdown(context.Background()))
}
