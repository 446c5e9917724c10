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


package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeremyhahn/go-shardfs/pkg/correlation"
	"github.com/jeremyhahn/go-shardfs/pkg/metrics"
	"github.com/jeremyhahn/go-shardfs/pkg/ratelimit"
	"github.com/jeremyhahn/go-shardfs/pkg/storage"
)

// DefaultMaxConns bounds concurrently served connections.
const DefaultMaxConns = 64

// ServerConfig configures a Server.
type ServerConfig struct {
	// MaxConns bounds concurrently served connections. Further connections
	// wait in the listener backlog.
	MaxConns int

	// MaxFrame bounds request frames. Defaults to DefaultMaxFrame.
	MaxFrame int

	// Limiter admits requests per peer host. Nil admits everything.
	Limiter *ratelimit.Limiter

	Logger *slog.Logger
}

// Server exposes a local storage.Backend to RemoteBackend clients.
type Server struct {
	backend  storage.Backend
	maxConns int
	maxFrame int
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
}

// NewServer returns a Server for backend.
func NewServer(backend storage.Backend, cfg ServerConfig) *Server {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	if cfg.MaxFrame <= 0 {
		cfg.MaxFrame = DefaultMaxFrame
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		backend:  backend,
		maxConns: cfg.MaxConns,
		maxFrame: cfg.MaxFrame,
		limiter:  cfg.Limiter,
		logger:   cfg.Logger,
	}
}

// Serve accepts connections from l until ctx is cancelled or l is closed,
// serving at most MaxConns of them at a time. It returns nil on
// cancellation.
func (s *Server) Serve(ctx context.Context, l *Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConns)

	s.logger.Info("Shard server listening", "addr", l.Addr(), "max_conns", s.maxConns)

	var acceptErr error
	for {
		c, err := l.Accept(gctx)
		if err != nil {
			if gctx.Err() == nil && !errors.Is(err, ErrClosed) {
				acceptErr = err
			}
			break
		}
		g.Go(func() error {
			s.serveConn(gctx, c)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return acceptErr
}

func (s *Server) serveConn(ctx context.Context, c *Conn) {
	tracker := metrics.NewConnectionTracker(metrics.ProtocolQUIC)
	defer tracker.Close()

	peer := ratelimit.PeerID(c.RemoteAddr())
	logger := s.logger.With("peer", c.RemoteAddr().String())
	logger.Debug("peer connected")

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	defer func() { _ = c.Close() }()

	for {
		frame, err := c.Recv(s.maxFrame)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Warn("dropping connection", "error", err)
			}
			logger.Debug("peer disconnected", "duration", tracker.Duration())
			return
		}

		resp := s.respond(frame, peer, logger)
		out, err := encode(resp)
		if err == nil {
			err = c.Send(out)
		}
		if err != nil {
			logger.Warn("failed to send response", "error", err)
			return
		}
	}
}

// respond decodes and runs one request.
func (s *Server) respond(frame []byte, peer string, logger *slog.Logger) *Response {
	var req Request
	if err := decode(frame, &req); err != nil {
		return &Response{Code: CodeBadRequest, Err: err.Error()}
	}

	start := time.Now()
	var resp *Response
	if !s.limiter.Allow(peer) {
		resp = &Response{Code: CodeRateLimited}
	} else {
		resp = s.handle(&req)
	}
	resp.ID = req.ID

	status := metrics.StatusSuccess
	if resp.Code != CodeOK && resp.Code != CodeNotFound {
		status = metrics.StatusError
	}
	metrics.RecordTransportRequest(req.Op.String(), status, time.Since(start).Seconds())

	if resp.Code == CodeInternal {
		correlation.Logger(logger, req.ID).Error("shard request failed",
			"op", req.Op, "key", req.Key, "error", resp.Err)
	}
	return resp
}

func (s *Server) handle(req *Request) *Response {
	resp := &Response{}
	var err error

	switch req.Op {
	case OpGet:
		resp.Value, err = s.backend.Get(req.Key)
	case OpPut:
		opts := storage.DefaultOptions()
		if req.Perm != 0 {
			opts.Permissions = fs.FileMode(req.Perm) & fs.ModePerm
		}
		err = s.backend.Put(req.Key, req.Value, opts)
	case OpDelete:
		err = s.backend.Delete(req.Key)
	case OpList:
		resp.Keys, err = s.backend.List(req.Prefix)
	case OpExists:
		resp.Exists, err = s.backend.Exists(req.Key)
	default:
		err = fmt.Errorf("%w: unknown op %d", ErrProtocol, req.Op)
	}

	if err != nil {
		return &Response{Code: codeFor(err), Err: err.Error()}
	}
	return resp
}
