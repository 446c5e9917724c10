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
	"log/slog"
	"path/filepath"

	"github.com/jeremyhahn/go-shardfs/internal/config"
	"github.com/jeremyhahn/go-shardfs/pkg/crypto/digest"
	"github.com/jeremyhahn/go-shardfs/pkg/engine"
	"github.com/jeremyhahn/go-shardfs/pkg/header"
	"github.com/jeremyhahn/go-shardfs/pkg/shard"
	"github.com/jeremyhahn/go-shardfs/pkg/storage"
	"github.com/jeremyhahn/go-shardfs/pkg/storage/bolt"
	"github.com/jeremyhahn/go-shardfs/pkg/storage/file"
	"github.com/jeremyhahn/go-shardfs/pkg/transport"
)

// BoltFile is the database a bolt-backed shard server keeps in its
// storepoint.
const BoltFile = "shards.db"

// Stores is the storage stack behind a mount: headers in the storepoint,
// shards in the local .shards directory and on any configured peers.
type Stores struct {
	Storepoint string
	ShardDir   string
	Entries    *file.FileStorage
	Machines   []storage.Backend
	Headers    *header.Store
	Shards     *shard.Store
}

// OpenStores prepares the storepoint and connects to the configured peers.
// A stale shard directory yields shard.ErrStaleLayout and an unreachable
// peer transport.ErrConnect.
func OpenStores(ctx context.Context, cfg *config.Config, storepoint string, logger *slog.Logger) (*Stores, error) {
	storepoint, err := filepath.Abs(storepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storepoint: %w", err)
	}

	hasher, err := digest.New(cfg.Shards.Digest)
	if err != nil {
		return nil, err
	}
	dir, err := shard.PrepareDir(storepoint, shard.Layout{
		Machines: cfg.Shards.Machines,
		Parity:   cfg.Shards.Parity,
		Digest:   hasher.Algorithm(),
	})
	if err != nil {
		return nil, err
	}

	entries, err := file.New(storepoint, file.WithSkipDir(shard.DirName))
	if err != nil {
		return nil, err
	}
	local, err := file.New(dir)
	if err != nil {
		return nil, err
	}

	s := &Stores{
		Storepoint: storepoint,
		ShardDir:   dir,
		Entries:    entries,
		Machines:   []storage.Backend{local},
	}

	tcfg, err := clientConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	for _, peer := range cfg.Shards.Peers {
		host, port, err := cfg.PeerAddress(peer)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		logger.Info("Connecting to shard server", "peer", peer)
		rb, err := transport.Dial(ctx, host, port, cfg.Transport.Retries, tcfg)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("peer %s: %w", peer, err)
		}
		s.Machines = append(s.Machines, rb)
	}

	if s.Shards, err = shard.NewStore(s.Machines, logger); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Headers = header.NewStore(entries, s.Shards, logger)
	return s, nil
}

// Engine builds the engine for the stores.
func (s *Stores) Engine(cfg *config.Config, logger *slog.Logger) (*engine.Engine, error) {
	return engine.New(cfg.Engine(logger), s.Headers, s.Shards)
}

// Close releases every machine connection.
func (s *Stores) Close() error {
	var errs []error
	for _, m := range s.Machines {
		errs = append(errs, m.Close())
	}
	return errors.Join(errs...)
}

func clientConfig(cfg *config.Config, logger *slog.Logger) (*transport.Config, error) {
	tcfg := &transport.Config{
		RetryInterval:    cfg.Transport.RetryInterval,
		HandshakeTimeout: cfg.Transport.DialTimeout,
		Logger:           logger,
	}
	if !cfg.Transport.TLS.IsZero() {
		tlsConf, err := transport.LoadTLS(cfg.Transport.TLS, false)
		if err != nil {
			return nil, err
		}
		tcfg.TLS = tlsConf
	}
	return tcfg, nil
}

// OpenShardBackend opens the storage a shard server exposes: shard files in
// storepoint/.shards or a bolt database in storepoint.
func OpenShardBackend(cfg *config.Config, storepoint string) (storage.Backend, error) {
	switch cfg.Transport.Backend {
	case config.BackendBolt:
		return bolt.Open(filepath.Join(storepoint, BoltFile))
	case config.BackendFile, "":
		return file.New(filepath.Join(storepoint, shard.DirName))
	default:
		return nil, fmt.Errorf("unknown shard backend %q", cfg.Transport.Backend)
	}
}
