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


// Package server runs the long-lived parts of shardfs: the storage stack
// behind a mount, the shard server and the metrics and health endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-shardfs/internal/config"
	"github.com/jeremyhahn/go-shardfs/pkg/health"
	"github.com/jeremyhahn/go-shardfs/pkg/metrics"
	"github.com/jeremyhahn/go-shardfs/pkg/ratelimit"
	"github.com/jeremyhahn/go-shardfs/pkg/storage"
	"github.com/jeremyhahn/go-shardfs/pkg/transport"
)

// resourceInterval is how often process gauges are refreshed.
const resourceInterval = 30 * time.Second

// Server owns the background services of one shardfs process.
type Server struct {
	config *config.Config
	logger *slog.Logger

	healthChecker    *health.Checker
	metricsServer    *metrics.Server
	metricsCollector *metrics.ResourceCollector

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	errMu  sync.Mutex
	errs   []error
}

// New creates a server. Nothing runs until Start.
func New(cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:        cfg,
		logger:        logger,
		healthChecker: health.NewChecker(),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Health returns the checker so callers can register checks before Start.
func (s *Server) Health() *health.Checker {
	return s.healthChecker
}

// RegisterStorageChecks adds the readiness checks of a mount: the storepoint
// must be writable and the machines reachable. Parity shards let reads
// survive that many unreachable machines, which reports degraded.
func (s *Server) RegisterStorageChecks(storepoint string, machines []storage.Backend) {
	s.healthChecker.RegisterCheck("storepoint", health.DirWritableCheck("storepoint", storepoint))
	s.healthChecker.RegisterCheck("machines", health.MachinesCheck("machines", machines, s.config.Shards.Parity))
}

// Start enables metrics when configured and marks the process started.
func (s *Server) Start() error {
	if s.config.Metrics.Enabled {
		metrics.Enable()
		s.metricsCollector = metrics.StartResourceCollector(s.ctx, resourceInterval)
		s.metricsServer = metrics.NewServer(s.config.Metrics.Address, s.config.Metrics.Path, s.healthChecker, s.logger)
		s.metricsServer.Start()
	} else {
		metrics.Disable()
	}

	s.healthChecker.MarkStarted()
	return nil
}

// Go runs fn in the background until Shutdown. Its error, if any, is
// returned by Shutdown.
func (s *Server) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Service failed", "service", name, "error", err)
			s.errMu.Lock()
			s.errs = append(s.errs, fmt.Errorf("%s: %w", name, err))
			s.errMu.Unlock()
		}
	}()
}

// ServeShards runs a shard server for backend on the configured address and
// port until Shutdown.
func (s *Server) ServeShards(backend storage.Backend) (*transport.Listener, error) {
	tcfg := &transport.Config{Logger: s.logger}
	if !s.config.Transport.TLS.IsZero() {
		tlsConf, err := transport.LoadTLS(s.config.Transport.TLS, true)
		if err != nil {
			return nil, err
		}
		tcfg.TLS = tlsConf
	}

	l, err := transport.Listen(s.config.Transport.Address, s.config.Transport.Port, tcfg)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(&s.config.Transport.RateLimit)
	srv := transport.NewServer(backend, transport.ServerConfig{
		MaxConns: s.config.Transport.MaxConns,
		Limiter:  limiter,
		Logger:   s.logger,
	})
	s.healthChecker.RegisterCheck("shard-backend", health.StorageCheck("shard-backend", backend))

	s.Go("shard-server", func(ctx context.Context) error {
		defer limiter.Stop()
		defer func() { _ = l.Close() }()
		return srv.Serve(ctx, l)
	})
	return l, nil
}

// Shutdown stops every background service and waits for them.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.wg.Wait()

	if s.metricsCollector != nil {
		s.metricsCollector.Stop()
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.errs = append(s.errs, err)
		}
	}
	return errors.Join(s.errs...)
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		slog.Info("Received shutdown signal")
		cancel()
	}()

	return ctx
}
