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
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/quic-go/quic-go"
)

// acceptBacklog bounds connections that have opened their stream but have
// not yet been taken by Accept.
const acceptBacklog = 64

// Listener accepts shardfs connections. Each QUIC connection is handed out
// once its peer has opened the stream.
type Listener struct {
	ln     *quic.Listener
	conns  chan *Conn
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// Listen binds address:port. An empty address listens on every interface
// and port 0 picks a free port.
func Listen(address string, port int, cfg *Config) (*Listener, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d", ErrInvalidParameters, port)
	}
	cfg = cfg.withDefaults()

	tlsConf, err := serverTLS(cfg.TLS, cfg.Logger)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(address, strconv.Itoa(port))
	ln, err := quic.ListenAddr(addr, tlsConf, cfg.quicConfig())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		ln:     ln,
		conns:  make(chan *Conn, acceptBacklog),
		ctx:    ctx,
		cancel: cancel,
		logger: cfg.Logger,
	}

	l.wg.Add(1)
	go l.acceptLoop(cfg)
	return l, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Port returns the bound UDP port.
func (l *Listener) Port() int {
	if a, ok := l.ln.Addr().(*net.UDPAddr); ok {
		return a.Port
	}
	return 0
}

// Accept waits for the next connection.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.ctx.Done():
		return nil, ErrClosed
	}
}

// Close stops accepting and closes connections not yet accepted.
func (l *Listener) Close() error {
	l.cancel()
	err := l.ln.Close()
	l.wg.Wait()

	for {
		select {
		case c := <-l.conns:
			_ = c.Close()
		default:
			return err
		}
	}
}

func (l *Listener) acceptLoop(cfg *Config) {
	defer l.wg.Done()

	for {
		qc, err := l.ln.Accept(l.ctx)
		if err != nil {
			if l.ctx.Err() == nil && !errors.Is(err, quic.ErrServerClosed) {
				l.logger.Error("accept failed", "error", err)
			}
			return
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.awaitStream(qc, cfg)
		}()
	}
}

// awaitStream waits for the peer's stream and queues the connection.
func (l *Listener) awaitStream(qc *quic.Conn, cfg *Config) {
	ctx, cancel := context.WithTimeout(l.ctx, cfg.HandshakeTimeout)
	defer cancel()

	stream, err := qc.AcceptStream(ctx)
	if err != nil {
		l.logger.Debug("peer opened no stream", "peer", qc.RemoteAddr(), "error", err)
		_ = qc.CloseWithError(0, "no stream")
		return
	}

	c := newConn(qc, stream)
	select {
	case l.conns <- c:
	case <-l.ctx.Done():
		_ = c.Close()
	}
}
