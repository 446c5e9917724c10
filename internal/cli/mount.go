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


package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-shardfs/internal/config"
	"github.com/jeremyhahn/go-shardfs/internal/fuse"
	"github.com/jeremyhahn/go-shardfs/internal/server"
)

type mountFlags struct {
	machines   int
	port       int
	parity     int
	threshold  int
	encryption string
	digest     string
	peers      []string
	allowOther bool
	debug      bool
}

func newMountCommand(opts *Options) *cobra.Command {
	flags := &mountFlags{}
	cmd := &cobra.Command{
		Use:   "mount MOUNTPOINT STOREPOINT",
		Short: "Mount a sharded filesystem",
		Long: `Mount STOREPOINT at MOUNTPOINT. Every regular file written through
the mount is split into n_machines shards. Shard 0 and every shard
without a peer stay in STOREPOINT/.shards; the others are sent to the
configured peers, each running "shardfs serve".

The command blocks until interrupted or until the filesystem is
unmounted externally.`,
		Example: `  shardfs mount /mnt/shardfs /var/lib/shardfs -n 3
  shardfs mount /mnt/shardfs /var/lib/shardfs -n 3 --encrypt auto --peer node1 --peer node2:13036`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			applyMountFlags(cmd, cfg, flags)
			return runMount(server.SetupSignalHandler(), cfg, args[0], args[1])
		},
	}

	bindMountFlags(cmd, flags)
	return cmd
}

func bindMountFlags(cmd *cobra.Command, flags *mountFlags) {
	f := cmd.Flags()
	f.IntVarP(&flags.machines, "n_machines", "n", 1, "number of shards per file (>= 1)")
	f.IntVarP(&flags.port, "port", "p", 0, "default shard server port for peers")
	f.IntVar(&flags.parity, "parity", 0, "Reed-Solomon parity shards per group")
	f.IntVar(&flags.threshold, "threshold", 0, "key shares needed to decrypt (0 = n_machines)")
	f.StringVar(&flags.encryption, "encrypt", "", "payload encryption (none, auto, aes256-gcm, chacha20-poly1305)")
	f.StringVar(&flags.digest, "digest", "", "shard group digest (sha256, blake3)")
	f.StringArrayVar(&flags.peers, "peer", nil, "shard server host[:port] for the next machine (repeatable)")
	f.BoolVar(&flags.allowOther, "allow-other", false, "allow other users to access the mount")
	f.BoolVar(&flags.debug, "debug", false, "log every FUSE request")
}

// applyMountFlags overrides cfg with the flags given on the command line.
// Unset flags leave the file and environment values alone.
func applyMountFlags(cmd *cobra.Command, cfg *config.Config, flags *mountFlags) {
	f := cmd.Flags()
	if f.Changed("n_machines") {
		cfg.Shards.Machines = flags.machines
	}
	if f.Changed("port") {
		cfg.Transport.Port = flags.port
	}
	if f.Changed("parity") {
		cfg.Shards.Parity = flags.parity
	}
	if f.Changed("threshold") {
		cfg.Crypto.Threshold = flags.threshold
	}
	if f.Changed("encrypt") {
		cfg.Crypto.Encryption = flags.encryption
	}
	if f.Changed("digest") {
		cfg.Shards.Digest = flags.digest
	}
	if f.Changed("peer") {
		cfg.Shards.Peers = flags.peers
	}
	if f.Changed("allow-other") {
		cfg.Mount.AllowOther = flags.allowOther
	}
	if f.Changed("debug") {
		cfg.Mount.Debug = flags.debug
	}
}

func runMount(ctx context.Context, cfg *config.Config, mountpoint, storepoint string) error {
	log, err := logger(cfg)
	if err != nil {
		return err
	}

	stores, err := server.OpenStores(ctx, cfg, storepoint, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Warn("failed to close stores", "error", err)
		}
	}()

	eng, err := stores.Engine(cfg, log)
	if err != nil {
		return err
	}

	srv := server.New(cfg, log)
	srv.RegisterStorageChecks(stores.Storepoint, stores.Machines)

	fs, err := fuse.Mount(fuse.Options{
		Mountpoint:   mountpoint,
		Storepoint:   stores.Storepoint,
		Engine:       eng,
		AllowOther:   cfg.Mount.AllowOther,
		Debug:        cfg.Mount.Debug,
		EntryTimeout: cfg.Mount.EntryTimeout,
		AttrTimeout:  cfg.Mount.AttrTimeout,
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("failed to mount %s: %w", mountpoint, err)
	}

	if err := srv.Start(); err != nil {
		_ = fs.Unmount()
		return err
	}
	log.Info("mounted",
		"mountpoint", mountpoint,
		"storepoint", stores.Storepoint,
		"n_machines", cfg.Shards.Machines,
		"peers", len(cfg.Shards.Peers))

	unmounted := make(chan struct{})
	go func() {
		fs.Wait()
		close(unmounted)
	}()

	select {
	case <-ctx.Done():
		log.Info("unmounting", "mountpoint", mountpoint)
		if err := fs.Unmount(); err != nil {
			log.Error("failed to unmount", "mountpoint", mountpoint, "error", err)
		}
		<-unmounted
	case <-unmounted:
		log.Info("filesystem unmounted externally", "mountpoint", mountpoint)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
