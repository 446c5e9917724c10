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


// Package transport moves shard files between machines. A connection is a
// single bidirectional QUIC stream carrying length-prefixed frames:
//
//	[u32 big-endian payload length][payload]
//
// On top of the frames, RemoteBackend and Server speak a CBOR request /
// response protocol that exposes a storage.Backend on a remote machine.
package transport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/quic-go/quic-go"
)

const (
	// ALPN is the TLS application protocol of shardfs connections.
	ALPN = "shardfs/1"

	// DefaultPort is the default shard server port.
	DefaultPort = 13035

	// DefaultMaxFrame bounds frames when no limit is configured.
	DefaultMaxFrame = 64 << 20

	// UnboundedRetries makes Connect retry until its context ends.
	UnboundedRetries = -1

	frameHeaderLen = 4
)

// Config holds connection settings shared by clients and servers.
type Config struct {
	// TLS is the TLS configuration. Servers without one use an ephemeral
	// self-signed certificate; clients without one skip verification.
	TLS *tls.Config

	// RetryInterval is the first backoff delay of Connect; every further
	// delay doubles. Defaults to one second.
	RetryInterval time.Duration

	// HandshakeTimeout bounds each connection attempt. Defaults to 10s.
	HandshakeTimeout time.Duration

	// IdleTimeout closes silent connections. Defaults to 5 minutes.
	IdleTimeout time.Duration

	// RequestTimeout bounds one remote request. Defaults to 30s.
	RequestTimeout time.Duration

	// MaxFrame bounds received frames. Defaults to DefaultMaxFrame.
	MaxFrame int

	Logger *slog.Logger
}

func (c *Config) withDefaults() *Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.RetryInterval <= 0 {
		out.RetryInterval = time.Second
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = 5 * time.Minute
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = 30 * time.Second
	}
	if out.MaxFrame <= 0 {
		out.MaxFrame = DefaultMaxFrame
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}

func (c *Config) quicConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: c.HandshakeTimeout,
		MaxIdleTimeout:       c.IdleTimeout,
		KeepAlivePeriod:      c.IdleTimeout / 2,
	}
}

// Conn is an established connection. Send and Recv may be used from
// different goroutines; concurrent Sends are serialised.
type Conn struct {
	conn   *quic.Conn
	stream *quic.Stream

	sendMu sync.Mutex
	recvMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func newConn(conn *quic.Conn, stream *quic.Stream) *Conn {
	return &Conn{conn: conn, stream: stream}
}

// Connect dials address:port, making up to retries attempts with
// exponential backoff (1, 2, 4... RetryInterval units). retries of
// UnboundedRetries keeps trying until ctx ends. Exhaustion yields
// ErrConnect.
func Connect(ctx context.Context, address string, port, retries int, cfg *Config) (*Conn, error) {
	if address == "" || port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: address %q port %d", ErrInvalidParameters, address, port)
	}
	if retries < 1 && retries != UnboundedRetries {
		return nil, fmt.Errorf("%w: retries must be at least 1 or %d, got %d",
			ErrInvalidParameters, UnboundedRetries, retries)
	}
	cfg = cfg.withDefaults()
	target := net.JoinHostPort(address, strconv.Itoa(port))
	tlsConf := clientTLS(cfg.TLS, cfg.Logger)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.RetryInterval
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = time.Duration(1<<62 - 1)
	eb.MaxElapsedTime = 0
	eb.Reset()

	var policy backoff.BackOff = eb
	if retries != UnboundedRetries {
		policy = backoff.WithMaxRetries(eb, uint64(retries-1))
	}
	policy = backoff.WithContext(policy, ctx)

	var c *Conn
	attempt := 0
	dial := func() error {
		attempt++
		conn, err := dialOnce(ctx, target, tlsConf, cfg)
		if err != nil {
			return err
		}
		c = conn
		return nil
	}
	notify := func(err error, wait time.Duration) {
		cfg.Logger.Debug("connect failed, retrying",
			"addr", target,
			"attempt", attempt,
			"wait", wait,
			"error", err)
	}

	if err := backoff.RetryNotify(dial, policy, notify); err != nil {
		return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrConnect, target, attempt, err)
	}
	cfg.Logger.Debug("connected", "addr", target, "attempts", attempt)
	return c, nil
}

func dialOnce(ctx context.Context, target string, tlsConf *tls.Config, cfg *Config) (*Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	qc, err := quic.DialAddr(dctx, target, tlsConf, cfg.quicConfig())
	if err != nil {
		return nil, err
	}
	stream, err := qc.OpenStreamSync(dctx)
	if err != nil {
		_ = qc.CloseWithError(0, "stream open failed")
		return nil, err
	}
	return newConn(qc, stream), nil
}

// Send writes one frame.
func (c *Conn) Send(p []byte) error {
	if uint64(len(p)) > 1<<32-1 {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(p))
	}
	frame := make([]byte, frameHeaderLen+len(p))
	binary.BigEndian.PutUint32(frame, uint32(len(p)))
	copy(frame[frameHeaderLen:], p)

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if _, err := c.stream.Write(frame); err != nil {
		return c.wrap("send", err)
	}
	return nil
}

// Recv reads one frame of at most maxLen bytes.
func (c *Conn) Recv(maxLen int) ([]byte, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(c.stream, hdr[:]); err != nil {
		return nil, c.wrap("recv", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if maxLen < 0 || uint64(n) > uint64(maxLen) {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, n, maxLen)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(c.stream, buf); err != nil {
		return nil, c.wrap("recv", err)
	}
	return buf, nil
}

// SetDeadline bounds pending and future Send and Recv calls.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.stream.SetDeadline(t)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the stream and the connection.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.stream.Close()
		c.closeErr = c.conn.CloseWithError(0, "closed")
	})
	return c.closeErr
}

// wrap maps end-of-stream conditions to io.EOF and keeps other errors.
func (c *Conn) wrap(op string, err error) error {
	var appErr *quic.ApplicationError
	if errors.Is(err, io.EOF) || (errors.As(err, &appErr) && appErr.ErrorCode == 0) {
		return io.EOF
	}
	return fmt.Errorf("%s: %w", op, err)
}
