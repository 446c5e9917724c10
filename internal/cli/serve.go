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
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-shardfs/internal/config"
	"github.com/jeremyhahn/go-shardfs/internal/server"
)

type serveFlags struct {
	address string
	port    int
	backend string
}

func newServeCommand(opts *Options) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve STOREPOINT",
		Short: "Serve shards to remote mounts",
		Long: `Expose a shard store over QUIC so a remote "shardfs mount" can place
shards on this machine. The file backend keeps one file per shard under
STOREPOINT/.shards; the bolt backend keeps them in STOREPOINT/shards.db.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if f.Changed("address") {
				cfg.Transport.Address = flags.address
			}
			if f.Changed("port") {
				cfg.Transport.Port = flags.port
			}
			if f.Changed("backend") {
				cfg.Transport.Backend = flags.backend
			}
			return runServe(server.SetupSignalHandler(), cfg, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.address, "address", "", "listen address (empty for all interfaces)")
	f.IntVarP(&flags.port, "port", "p", 0, "listen port")
	f.StringVar(&flags.backend, "backend", "", "shard store backend (file, bolt)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, storepoint string) error {
	log, err := logger(cfg)
	if err != nil {
		return err
	}

	backend, err := server.OpenShardBackend(cfg, storepoint)
	if err != nil {
		return err
	}
	defer backend.Close()

	srv := server.New(cfg, log)
	if err := srv.Start(); err != nil {
		return err
	}
	l, err := srv.ServeShards(backend)
	if err != nil {
		_ = srv.Shutdown(context.Background())
		return err
	}
	log.Info("serving shards",
		"addr", l.Addr().String(),
		"storepoint", storepoint,
		"backend", cfg.Transport.Backend)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
