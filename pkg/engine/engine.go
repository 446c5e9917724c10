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


// Package engine implements the logical file lifecycle of shardfs. A file is
// a header entry in the storepoint naming an immutable shard group; every
// write builds a new group, repoints the header and removes the old group.
//
// Operations on one path are serialised by a per-path reader/writer lock:
// Create, Write, Truncate, Unlink and Rename take the write lock while Read,
// Size and State take the read lock. The engine starts no goroutines of its
// own.
package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jeremyhahn/go-shardfs/pkg/crypto/aead"
	"github.com/jeremyhahn/go-shardfs/pkg/crypto/digest"
	"github.com/jeremyhahn/go-shardfs/pkg/header"
	"github.com/jeremyhahn/go-shardfs/pkg/metrics"
	"github.com/jeremyhahn/go-shardfs/pkg/shard"
	"github.com/jeremyhahn/go-shardfs/pkg/storage"
)

// State is the lifecycle state of a logical file.
type State int

const (
	// StateEmpty is a file with an empty header entry.
	StateEmpty State = iota
	// StatePopulated is a file whose header names a shard group.
	StatePopulated
	// StateDeleted is a file without a header entry.
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePopulated:
		return "populated"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds the engine parameters. They must match the layout the shard
// directory was prepared with.
type Config struct {
	// Machines is the number of data shards per group (n_machines).
	Machines int

	// Parity is the number of Reed-Solomon parity shards per group.
	Parity int

	// Encryption names the payload cipher, see package aead. Empty or
	// "none" stores payloads in the clear.
	Encryption string

	// Threshold is the number of shards needed to recover a payload key.
	// Zero means Machines.
	Threshold int

	// Digest names the group id hash, see package digest.
	Digest string

	Logger *slog.Logger
}

// Engine runs file operations against a header store and a shard store.
type Engine struct {
	cfg       Config
	algorithm string
	hasher    *digest.Hasher
	parity    *shard.Parity
	maxSize   int64

	headers *header.Store
	shards  *shard.Store
	locks   *lockTable
	sizes   sync.Map // group id -> logical size
	logger  *slog.Logger
}

// New validates cfg and returns an Engine.
func New(cfg Config, headers *header.Store, shards *shard.Store) (*Engine, error) {
	if headers == nil || shards == nil {
		return nil, fmt.Errorf("%w: header and shard stores are required", ErrInvalidParameters)
	}
	if cfg.Machines < 1 || cfg.Parity < 0 || cfg.Machines+cfg.Parity > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d machines, %d parity shards", ErrInvalidParameters, cfg.Machines, cfg.Parity)
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = cfg.Machines
	}
	if cfg.Threshold < 1 || cfg.Threshold > cfg.Machines+cfg.Parity {
		return nil, fmt.Errorf("%w: key threshold %d outside [1, %d]",
			ErrInvalidParameters, cfg.Threshold, cfg.Machines+cfg.Parity)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	algorithm, err := aead.Resolve(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	hasher, err := digest.New(cfg.Digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}

	e := &Engine{
		cfg:       cfg,
		algorithm: algorithm,
		hasher:    hasher,
		maxSize:   min(int64(cfg.Machines)*math.MaxUint32, math.MaxInt),
		headers:   headers,
		shards:    shards,
		locks:     newLockTable(),
		logger:    cfg.Logger,
	}
	if cfg.Parity > 0 {
		if e.parity, err = shard.NewParity(cfg.Machines, cfg.Parity); err != nil {
			return nil, err
		}
	}

	e.logger.Debug("engine ready",
		"machines", cfg.Machines,
		"parity", cfg.Parity,
		"encryption", algorithm,
		"threshold", cfg.Threshold,
		"digest", hasher.Algorithm())
	return e, nil
}

// Algorithm returns the resolved payload cipher name.
func (e *Engine) Algorithm() string {
	return e.algorithm
}

func (e *Engine) total() int {
	return e.cfg.Machines + e.cfg.Parity
}

// observe records an operation; it is deferred with a pointer to the
// operation's named error result.
func (e *Engine) observe(op string, start time.Time, errp *error) {
	err := *errp
	metrics.RecordOperation(op, metrics.Status(err), time.Since(start).Seconds())
	if err != nil {
		metrics.RecordError(op, errorType(err))
	}
}

// Create makes path an empty file with permissions perm. An existing file is
// emptied first.
func (e *Engine) Create(path string, perm fs.FileMode) (err error) {
	defer e.observe(metrics.OpCreate, time.Now(), &err)

	unlock := e.locks.Lock(path)
	defer unlock()

	exists, err := e.headers.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		if err = e.clear(path); err != nil {
			return err
		}
	}
	return e.headers.Create(path, perm)
}

// Read fills p with the content of path starting at off. Bytes of p past the
// end of the file are zeroed. It returns the number of file bytes copied.
func (e *Engine) Read(path string, p []byte, off int64) (n int, err error) {
	defer e.observe(metrics.OpRead, time.Now(), &err)

	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrInvalidParameters, off)
	}

	unlock := e.locks.RLock(path)
	defer unlock()

	c, _, err := e.current(path)
	if err != nil {
		return 0, err
	}
	clear(p)
	if off >= int64(c.size) {
		return 0, nil
	}
	data, err := c.bytes()
	if err != nil {
		return 0, err
	}
	return copy(p, data[off:]), nil
}

// Write stores data at off in path, zero filling any gap past the current
// end of file, and returns len(data).
func (e *Engine) Write(path string, data []byte, off int64) (n int, err error) {
	defer e.observe(metrics.OpWrite, time.Now(), &err)

	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrInvalidParameters, off)
	}
	if off > e.maxSize-int64(len(data)) {
		return 0, fmt.Errorf("%w: write of %d bytes at %d exceeds %d bytes",
			ErrFileTooLarge, len(data), off, e.maxSize)
	}

	unlock := e.locks.Lock(path)
	defer unlock()

	c, old, err := e.current(path)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}

	chunks, size, err := shard.Patch(c.chunks, c.size, off, data, e.cfg.Machines)
	if err != nil {
		return 0, err
	}
	rec, err := e.storeGroup(content{chunks: chunks, size: size})
	if err != nil {
		return 0, err
	}
	if err = e.headers.Write(path, rec); err != nil {
		if _, derr := e.shards.DeleteGroup(rec.ID); derr != nil {
			e.logger.Warn("failed to remove unreferenced shard group", "group", rec.ID, "error", derr)
		}
		return 0, err
	}
	e.sizes.Store(rec.ID, int64(size))

	if old.ID != "" {
		e.dropGroup(path, old.ID)
	}

	e.logger.Debug("wrote shard group",
		"path", path,
		"group", rec.ID,
		"size", size,
		"chunk_size", rec.ChunkSize)
	return len(data), nil
}

// Truncate empties path. Only truncation to zero is supported.
func (e *Engine) Truncate(path string, size int64) (err error) {
	defer e.observe(metrics.OpTruncate, time.Now(), &err)

	switch {
	case size < 0:
		return fmt.Errorf("%w: negative size %d", ErrInvalidParameters, size)
	case size > 0:
		return fmt.Errorf("%w: truncate to %d bytes", ErrNotImplemented, size)
	}

	unlock := e.locks.Lock(path)
	defer unlock()

	return e.clear(path)
}

// Unlink removes path and its shards.
func (e *Engine) Unlink(path string) (err error) {
	defer e.observe(metrics.OpUnlink, time.Now(), &err)

	unlock := e.locks.Lock(path)
	defer unlock()

	e.forget(path)
	return e.headers.Remove(path)
}

// Rename moves the file at oldPath to newPath, replacing any file already
// there. The replaced file's shards are deleted only once the move has
// succeeded; a failed rename leaves newPath untouched.
func (e *Engine) Rename(oldPath, newPath string) (err error) {
	defer e.observe(metrics.OpRename, time.Now(), &err)

	if oldPath == newPath {
		return nil
	}

	unlock := e.locks.LockPair(oldPath, newPath)
	defer unlock()

	replaced, err := e.headers.Read(newPath)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, header.ErrMissingHeader),
		errors.Is(err, header.ErrCorruptHeader):
		replaced = header.Record{}
	default:
		return err
	}

	if err = e.headers.Rename(oldPath, newPath); err != nil {
		return err
	}
	if replaced.ID != "" {
		e.dropGroup(newPath, replaced.ID)
	}
	return nil
}

// Size returns the logical size of path, zero when it is empty.
func (e *Engine) Size(path string) (n int64, err error) {
	defer e.observe(metrics.OpSize, time.Now(), &err)

	unlock := e.locks.RLock(path)
	defer unlock()

	r, err := e.headers.Read(path)
	if errors.Is(err, header.ErrMissingHeader) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if v, ok := e.sizes.Load(r.ID); ok {
		return v.(int64), nil
	}

	m, err := e.shards.GetMeta(r.ID, e.total())
	if err != nil {
		return 0, err
	}
	if m.Size > uint64(r.ChunkSize)*uint64(e.cfg.Machines) {
		return 0, fmt.Errorf("%w: size %d exceeds %d chunks of %d bytes",
			header.ErrCorruptHeader, m.Size, e.cfg.Machines, r.ChunkSize)
	}
	e.sizes.Store(r.ID, int64(m.Size))
	return int64(m.Size), nil
}

// State reports the lifecycle state of path. A file whose header cannot be
// parsed is reported as populated together with the parse error.
func (e *Engine) State(path string) (State, error) {
	unlock := e.locks.RLock(path)
	defer unlock()

	_, err := e.headers.Read(path)
	switch {
	case err == nil:
		return StatePopulated, nil
	case errors.Is(err, header.ErrMissingHeader):
		return StateEmpty, nil
	case errors.Is(err, storage.ErrNotFound):
		return StateDeleted, nil
	case errors.Is(err, header.ErrCorruptHeader):
		return StatePopulated, err
	default:
		return StateDeleted, err
	}
}

// current loads the content of path and the header it came from. An empty
// file yields empty content and a zero Record.
func (e *Engine) current(path string) (content, header.Record, error) {
	r, err := e.headers.Read(path)
	if errors.Is(err, header.ErrMissingHeader) {
		return content{}, header.Record{}, nil
	}
	if err != nil {
		return content{}, header.Record{}, err
	}
	c, err := e.loadGroup(path, r)
	if err != nil {
		return content{}, header.Record{}, err
	}
	return c, r, nil
}

// clear empties path, deleting its shard group.
func (e *Engine) clear(path string) error {
	e.forget(path)
	return e.headers.DeleteCascade(path)
}

// forget drops the cached size of the group path points at.
func (e *Engine) forget(path string) {
	if r, err := e.headers.Read(path); err == nil {
		e.sizes.Delete(r.ID)
	}
}

// dropGroup deletes a replaced group. Failures leave orphan shards but never
// affect the file, so they are only logged.
func (e *Engine) dropGroup(path, id string) {
	e.sizes.Delete(id)
	if _, err := e.shards.DeleteGroup(id); err != nil {
		e.logger.Warn("failed to delete replaced shard group",
			"path", path,
			"group", id,
			"error", err)
	}
}
