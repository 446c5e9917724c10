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


// Package cli implements the shardfs command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-shardfs/internal/config"
)

// Options holds flags shared by every command.
type Options struct {
	ConfigFile   string
	LogLevel     string
	LogFormat    string
	OutputFormat string
}

// NewRootCommand builds the shardfs command tree.
func NewRootCommand() *cobra.Command {
	opts := &Options{}

	root := &cobra.Command{
		Use:   "shardfs",
		Short: "shardfs - a filesystem that shards every file across machines",
		Long: `shardfs mounts a FUSE filesystem whose files are split into one
chunk per machine. Each write produces a new content-addressed shard
group; a 36-byte header in the storepoint names the current group.
Chunks may be encrypted under a per-group key that is itself split
with Shamir secret sharing and stored alongside the shards.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.ConfigFile, "config", "",
		"config file (YAML)")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "",
		"log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "",
		"log format (text, json)")
	root.PersistentFlags().StringVarP(&opts.OutputFormat, "output", "o", string(OutputFormatText),
		"output format (text, json)")

	root.AddCommand(newMountCommand(opts))
	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newShamirCommand(opts))
	root.AddCommand(newVersionCommand(opts))
	return root
}

// Execute runs the root command with args.
func Execute(args []string, stdout, stderr io.Writer) error {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.Execute()
}

// load reads the configuration and applies the global logging flags.
func (o *Options) load() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return nil, err
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Logging.Format = o.LogFormat
	}
	return cfg, nil
}

// logger validates cfg and builds its logger, making it the default so
// library code logging through slog.Default follows the flags too.
func logger(cfg *config.Config) (*slog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	l, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l)
	return l, nil
}
