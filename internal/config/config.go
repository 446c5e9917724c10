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


// Package config loads the shardfs YAML configuration and applies
// SHARDFS_* environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-shardfs/pkg/crypto/aead"
	"github.com/jeremyhahn/go-shardfs/pkg/crypto/digest"
	"github.com/jeremyhahn/go-shardfs/pkg/engine"
	"github.com/jeremyhahn/go-shardfs/pkg/logging"
	"github.com/jeremyhahn/go-shardfs/pkg/ratelimit"
	"github.com/jeremyhahn/go-shardfs/pkg/transport"
)

// Storage backends a shard server can expose.
const (
	BackendFile = "file"
	BackendBolt = "bolt"
)

// Config represents the complete shardfs configuration
type Config struct {
	Mount     MountConfig     `yaml:"mount"`
	Shards    ShardsConfig    `yaml:"shards"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// MountConfig controls the FUSE mount
type MountConfig struct {
	AllowOther   bool          `yaml:"allow_other"`
	Debug        bool          `yaml:"debug"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
}

// ShardsConfig controls how files are cut into shards and where the
// shards live
type ShardsConfig struct {
	Machines int    `yaml:"n_machines"`
	Parity   int    `yaml:"parity"`
	Digest   string `yaml:"digest"`

	// Peers are shard servers for machines 1..len(Peers); machine 0 is the
	// local .shards directory. Entries are host or host:port.
	Peers []string `yaml:"peers,omitempty"`
}

// CryptoConfig controls payload encryption
type CryptoConfig struct {
	Encryption string `yaml:"encryption"` // none, auto, aes256-gcm, chacha20-poly1305
	Threshold  int    `yaml:"threshold"`  // shares needed to recover a key, 0 = n_machines
}

// TransportConfig controls the shard transport
type TransportConfig struct {
	Address       string             `yaml:"address"` // serve listen address, empty for all interfaces
	Port          int                `yaml:"port"`
	Retries       int                `yaml:"retries"`
	RetryInterval time.Duration      `yaml:"retry_interval"`
	DialTimeout   time.Duration      `yaml:"dial_timeout"`
	MaxConns      int                `yaml:"max_conns"`
	Backend       string             `yaml:"backend"`
	TLS           transport.TLSFiles `yaml:"tls"`
	RateLimit     ratelimit.Config   `yaml:"ratelimit"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the metrics and health endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Mount: MountConfig{
			EntryTimeout: time.Second,
			AttrTimeout:  time.Second,
		},
		Shards: ShardsConfig{
			Machines: 1,
			Digest:   digest.SHA256,
		},
		Crypto: CryptoConfig{
			Encryption: aead.None,
		},
		Transport: TransportConfig{
			Port:          transport.DefaultPort,
			Retries:       5,
			RetryInterval: time.Second,
			DialTimeout:   10 * time.Second,
			MaxConns:      transport.DefaultMaxConns,
			Backend:       BackendFile,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
		Metrics: MetricsConfig{
			Address: "127.0.0.1:9090",
			Path:    "/metrics",
		},
	}
}

// Load reads configuration from a YAML file on top of Default and applies
// environment variable overrides
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		// #nosec G304 - Config file path is provided by the user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if n, ok := envInt("SHARDFS_N_MACHINES", cfg.Shards.Machines); ok {
		cfg.Shards.Machines = n
	}
	if n, ok := envInt("SHARDFS_PARITY", cfg.Shards.Parity); ok {
		cfg.Shards.Parity = n
	}
	if port, ok := envInt("SHARDFS_PORT", cfg.Transport.Port); ok {
		if port < 1 || port > 65535 {
			slog.Warn("ignoring SHARDFS_PORT out of range 1-65535", "value", port, "using", cfg.Transport.Port)
		} else {
			cfg.Transport.Port = port
		}
	}
	if level := os.Getenv("SHARDFS_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("SHARDFS_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if enc := os.Getenv("SHARDFS_ENCRYPTION"); enc != "" {
		cfg.Crypto.Encryption = enc
	}
	if alg := os.Getenv("SHARDFS_DIGEST"); alg != "" {
		cfg.Shards.Digest = alg
	}
}

// envInt parses an integer variable, warning about and ignoring bad values.
func envInt(name string, current int) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("ignoring invalid "+name, "value", raw, "using", current, "error", err)
		return 0, false
	}
	return n, true
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	s := c.Shards
	if s.Machines < 1 {
		return fmt.Errorf("n_machines must be at least 1, got %d", s.Machines)
	}
	if s.Parity < 0 {
		return fmt.Errorf("parity must not be negative, got %d", s.Parity)
	}
	if s.Machines+s.Parity > math.MaxUint16 {
		return fmt.Errorf("n_machines + parity must not exceed %d", math.MaxUint16)
	}
	if len(s.Peers) > s.Machines+s.Parity-1 {
		return fmt.Errorf("%d peers configured but only %d shards per group", len(s.Peers), s.Machines+s.Parity)
	}
	for _, p := range s.Peers {
		if _, _, err := c.PeerAddress(p); err != nil {
			return err
		}
	}
	if _, err := digest.New(s.Digest); err != nil {
		return fmt.Errorf("invalid digest: %w", err)
	}

	if _, err := aead.Resolve(c.Crypto.Encryption); err != nil {
		return fmt.Errorf("invalid encryption: %w", err)
	}
	if c.Crypto.Threshold < 0 || c.Crypto.Threshold > s.Machines+s.Parity {
		return fmt.Errorf("threshold %d outside [0, %d]", c.Crypto.Threshold, s.Machines+s.Parity)
	}

	t := c.Transport
	if t.Port < 1 || t.Port > 65535 {
		return fmt.Errorf("invalid port: %d", t.Port)
	}
	if t.Retries == 0 || t.Retries < transport.UnboundedRetries {
		return fmt.Errorf("retries must be positive or %d, got %d", transport.UnboundedRetries, t.Retries)
	}
	if t.MaxConns < 0 {
		return fmt.Errorf("max_conns must not be negative, got %d", t.MaxConns)
	}
	switch t.Backend {
	case BackendFile, BackendBolt:
	default:
		return fmt.Errorf("invalid backend: %q (must be %s or %s)", t.Backend, BackendFile, BackendBolt)
	}
	if t.RateLimit.Enabled && t.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("ratelimit requests_per_second must be positive when enabled")
	}
	if (t.TLS.CertFile == "") != (t.TLS.KeyFile == "") {
		return fmt.Errorf("tls cert_file and key_file must be set together")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return fmt.Errorf("metrics address is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics path must start with /, got %q", c.Metrics.Path)
		}
	}
	return nil
}

// PeerAddress splits a peer entry into host and port, defaulting the port
// to the transport port.
func (c *Config) PeerAddress(peer string) (string, int, error) {
	if peer == "" {
		return "", 0, fmt.Errorf("empty peer address")
	}
	host, rawPort, err := net.SplitHostPort(peer)
	if err != nil {
		// No port; bracketed IPv6 literals lose their brackets here.
		return strings.Trim(peer, "[]"), c.Transport.Port, nil
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in peer %q", peer)
	}
	if host == "" {
		return "", 0, fmt.Errorf("missing host in peer %q", peer)
	}
	return host, port, nil
}

// Engine returns the engine parameters.
func (c *Config) Engine(logger *slog.Logger) engine.Config {
	return engine.Config{
		Machines:   c.Shards.Machines,
		Parity:     c.Shards.Parity,
		Encryption: c.Crypto.Encryption,
		Threshold:  c.Crypto.Threshold,
		Digest:     c.Shards.Digest,
		Logger:     logger,
	}
}

// Logger builds the configured logger.
func (c *Config) Logger() (*slog.Logger, error) {
	return logging.NewLogger(logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
	})
}
