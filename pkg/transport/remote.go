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
	"io/fs"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jeremyhahn/go-shardfs/pkg/correlation"
	"github.com/jeremyhahn/go-shardfs/pkg/storage"
)

// RemoteBackend is a storage.Backend served by a shard server on another
// machine. Requests are issued one at a time over a single connection,
// which is re-established after a transport failure.
type RemoteBackend struct {
	mu      sync.Mutex
	conn    *Conn
	addr    string
	port    int
	retries int
	cfg     *Config
	closed  bool
	logger  *slog.Logger
}

// Dial connects to the shard server at address:port and returns a backend
// for it. retries has the meaning of Connect and also governs reconnects.
func Dial(ctx context.Context, address string, port, retries int, cfg *Config) (*RemoteBackend, error) {
	cfg = cfg.withDefaults()
	conn, err := Connect(ctx, address, port, retries, cfg)
	if err != nil {
		return nil, err
	}
	return &RemoteBackend{
		conn:    conn,
		addr:    address,
		port:    port,
		retries: retries,
		cfg:     cfg,
		logger:  cfg.Logger.With("peer", net.JoinHostPort(address, strconv.Itoa(port))),
	}, nil
}

// call sends req and waits for its response.
func (r *RemoteBackend) call(ctx context.Context, req Request) (*Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, storage.ErrClosed
	}
	if r.conn == nil {
		conn, err := Connect(ctx, r.addr, r.port, r.retries, r.cfg)
		if err != nil {
			return nil, err
		}
		r.conn = conn
	}

	req.ID = correlation.GetOrGenerate(ctx)
	resp, err := r.roundTrip(req)
	if err != nil {
		correlation.Logger(r.logger, req.ID).Warn("shard request failed, dropping connection",
			"op", req.Op, "key", req.Key, "error", err)
		_ = r.conn.Close()
		r.conn = nil
		return nil, err
	}
	return resp, nil
}

func (r *RemoteBackend) roundTrip(req Request) (*Response, error) {
	frame, err := encode(req)
	if err != nil {
		return nil, err
	}
	if err := r.conn.SetDeadline(time.Now().Add(r.cfg.RequestTimeout)); err != nil {
		return nil, err
	}
	if err := r.conn.Send(frame); err != nil {
		return nil, err
	}
	data, err := r.conn.Recv(r.cfg.MaxFrame)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := decode(data, &resp); err != nil {
		return nil, err
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("%w: response %q for request %q", ErrProtocol, resp.ID, req.ID)
	}
	return &resp, nil
}

// do runs a request and converts both transport and remote failures.
func (r *RemoteBackend) do(op string, req Request) (*Response, error) {
	resp, err := r.call(context.Background(), req)
	if err != nil {
		if errors.Is(err, storage.ErrClosed) {
			return nil, err
		}
		return nil, storage.NewIOError(op, req.Key, err)
	}
	if err := resp.err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// Get retrieves the value for the given key.
func (r *RemoteBackend) Get(key string) ([]byte, error) {
	resp, err := r.do("get", Request{Op: OpGet, Key: key})
	if err != nil {
		return nil, err
	}
	if resp.Value == nil {
		return []byte{}, nil
	}
	return resp.Value, nil
}

// Put stores value under key on the remote machine.
func (r *RemoteBackend) Put(key string, value []byte, opts *storage.Options) error {
	req := Request{Op: OpPut, Key: key, Value: value}
	if opts != nil {
		req.Perm = uint32(opts.Permissions & fs.ModePerm)
	}
	_, err := r.do("put", req)
	return err
}

// Delete removes key.
func (r *RemoteBackend) Delete(key string) error {
	_, err := r.do("delete", Request{Op: OpDelete, Key: key})
	return err
}

// List returns the keys with the given prefix in sorted order.
func (r *RemoteBackend) List(prefix string) ([]string, error) {
	resp, err := r.do("list", Request{Op: OpList, Prefix: prefix})
	if err != nil {
		return nil, err
	}
	if resp.Keys == nil {
		return []string{}, nil
	}
	return resp.Keys, nil
}

// Exists checks if a key exists.
func (r *RemoteBackend) Exists(key string) (bool, error) {
	resp, err := r.do("exists", Request{Op: OpExists, Key: key})
	if err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// Close closes the connection. Later calls fail with storage.ErrClosed.
func (r *RemoteBackend) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
