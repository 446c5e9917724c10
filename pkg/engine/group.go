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


package engine

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/jeremyhahn/go-shardfs/pkg/crypto/aead"
	"github.com/jeremyhahn/go-shardfs/pkg/crypto/digest"
	"github.com/jeremyhahn/go-shardfs/pkg/crypto/secretsharing"
	"github.com/jeremyhahn/go-shardfs/pkg/header"
	"github.com/jeremyhahn/go-shardfs/pkg/metrics"
	"github.com/jeremyhahn/go-shardfs/pkg/shard"
)

// keyLimbs is the number of share limbs of a payload key.
var keyLimbs = secretsharing.Limbs(aead.KeySize)

// content is a decoded shard group: the plaintext chunks and the logical size.
type content struct {
	chunks [][]byte
	size   int
}

// bytes returns the logical file content.
func (c content) bytes() ([]byte, error) {
	return shard.Join(c.chunks, c.size)
}

// payloadAAD binds a sealed payload to its group and position.
func payloadAAD(id string, index int) ([]byte, error) {
	sum, err := digest.Parse(id)
	if err != nil {
		return nil, err
	}
	aad := make([]byte, digest.Size+2)
	copy(aad, sum[:])
	binary.LittleEndian.PutUint16(aad[digest.Size:], uint16(index))
	return aad, nil
}

// storeGroup writes chunks as a new shard group and returns its header.
func (e *Engine) storeGroup(c content) (header.Record, error) {
	chunkSize, err := header.ChunkSizeFor(len(c.chunks[0]))
	if err != nil {
		return header.Record{}, err
	}
	data, err := c.bytes()
	if err != nil {
		return header.Record{}, err
	}

	meta := shard.Meta{
		Data:   uint16(e.cfg.Machines),
		Parity: uint16(e.cfg.Parity),
		Size:   uint64(c.size),
	}
	if _, err := rand.Read(meta.Salt[:]); err != nil {
		return header.Record{}, fmt.Errorf("failed to generate salt: %w", err)
	}
	id := e.hasher.Hex(meta.Salt[:], data)

	payloads := c.chunks
	var shares []secretsharing.KeyShare
	if e.algorithm != aead.None {
		payloads, shares, err = e.seal(id, c.chunks)
		if err != nil {
			return header.Record{}, err
		}
		meta.Flags |= shard.FlagEncrypted
		if aead.IsChaCha(e.algorithm) {
			meta.Flags |= shard.FlagChaCha
		}
		meta.Threshold = uint16(e.cfg.Threshold)
	}

	if e.parity != nil {
		payloads, err = e.parity.Encode(payloads)
		if err != nil {
			return header.Record{}, err
		}
	}

	files := make([][]byte, len(payloads))
	written := 0
	for i, p := range payloads {
		m := meta
		m.Index = uint16(i)
		if shares != nil {
			m.ShareX = shares[i].X
			copy(m.ShareY[:], shares[i].Y)
		}
		files[i] = m.Encode(p)
		written += len(files[i])
	}

	if err := e.shards.PutGroup(id, files); err != nil {
		return header.Record{}, fmt.Errorf("failed to store shard group %s: %w", id, err)
	}
	metrics.RecordGroupWritten()
	metrics.RecordShardBytes(metrics.DirectionOut, written)

	return header.Record{ID: id, ChunkSize: chunkSize}, nil
}

// seal encrypts every chunk under a fresh key and shares the key across all
// shards of the group.
func (e *Engine) seal(id string, chunks [][]byte) ([][]byte, []secretsharing.KeyShare, error) {
	key, err := aead.NewKey()
	if err != nil {
		return nil, nil, err
	}
	c, err := aead.New(e.algorithm, key)
	if err != nil {
		return nil, nil, err
	}

	sealed := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		aad, err := payloadAAD(id, i)
		if err != nil {
			return nil, nil, err
		}
		if sealed[i], err = c.Seal(chunk, aad); err != nil {
			return nil, nil, err
		}
	}

	shares, err := secretsharing.SplitKey(key, e.total(), e.cfg.Threshold)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to share payload key: %w", err)
	}
	return sealed, shares, nil
}

// loadGroup fetches, checks and decodes the group named by r.
func (e *Engine) loadGroup(path string, r header.Record) (content, error) {
	total := e.total()
	files, ferr := e.shards.GetGroup(r.ID, total)
	if ferr != nil {
		e.logger.Warn("shard group incomplete", "path", path, "group", r.ID, "error", ferr)
	}

	var (
		ref      *shard.Meta
		refLen   int
		metas    = make([]*shard.Meta, total)
		payloads = make([][]byte, total)
		read     int
	)
	for i, f := range files {
		if f == nil {
			continue
		}
		read += len(f)

		m, payload, err := shard.Decode(f)
		if err != nil {
			e.logger.Warn("discarding unreadable shard", "group", r.ID, "index", i, "error", err)
			continue
		}
		if int(m.Data) != e.cfg.Machines || int(m.Parity) != e.cfg.Parity {
			return content{}, fmt.Errorf("%w: shard %d of %s describes %d+%d shards, mount uses %d+%d",
				header.ErrCorruptHeader, i, r.ID, m.Data, m.Parity, e.cfg.Machines, e.cfg.Parity)
		}
		if int(m.Index) != i || (ref != nil && (!sameGroup(*ref, m) || len(payload) != refLen)) {
			e.logger.Warn("discarding inconsistent shard", "group", r.ID, "index", i)
			continue
		}
		if ref == nil {
			ref, refLen = &m, len(payload)
		}
		metas[i] = &m
		payloads[i] = payload
	}
	metrics.RecordShardBytes(metrics.DirectionIn, read)

	if ref == nil {
		return content{}, fmt.Errorf("%w: no readable shard in group %s", shard.ErrCorruptShard, r.ID)
	}
	if ref.Size > uint64(r.ChunkSize)*uint64(e.cfg.Machines) {
		return content{}, fmt.Errorf("%w: size %d exceeds %d chunks of %d bytes",
			header.ErrCorruptHeader, ref.Size, e.cfg.Machines, r.ChunkSize)
	}

	if err := e.repair(r.ID, payloads); err != nil {
		return content{}, err
	}

	chunks := payloads[:e.cfg.Machines]
	if ref.Encrypted() {
		var err error
		if chunks, err = e.open(r.ID, *ref, metas, chunks); err != nil {
			return content{}, err
		}
	}
	for i, c := range chunks {
		if len(c) != int(r.ChunkSize) {
			return content{}, fmt.Errorf("%w: chunk %d of %s has %d bytes, header says %d",
				shard.ErrCorruptShard, i, r.ID, len(c), r.ChunkSize)
		}
	}

	c := content{chunks: chunks, size: int(ref.Size)}
	data, err := c.bytes()
	if err != nil {
		return content{}, err
	}
	sum, err := digest.Parse(r.ID)
	if err != nil {
		return content{}, fmt.Errorf("%w: %v", header.ErrCorruptHeader, err)
	}
	got := e.hasher.Sum(ref.Salt[:], data)
	if subtle.ConstantTimeCompare(got[:], sum[:]) != 1 {
		return content{}, fmt.Errorf("%w: content of %s does not match its id", shard.ErrCorruptShard, r.ID)
	}
	return c, nil
}

// sameGroup reports whether two shards carry the same group-wide metadata.
func sameGroup(a, b shard.Meta) bool {
	return a.Flags == b.Flags &&
		a.Threshold == b.Threshold &&
		a.Size == b.Size &&
		a.Salt == b.Salt
}

// repair rebuilds missing data payloads from parity.
func (e *Engine) repair(id string, payloads [][]byte) error {
	lost := 0
	for _, p := range payloads[:e.cfg.Machines] {
		if p == nil {
			lost++
		}
	}
	if lost == 0 {
		return nil
	}
	if e.parity == nil {
		return fmt.Errorf("%w: %d of %d data shards of %s unavailable", shard.ErrCorruptShard, lost, e.cfg.Machines, id)
	}
	if err := e.parity.Reconstruct(payloads); err != nil {
		return fmt.Errorf("group %s: %w", id, err)
	}
	metrics.RecordReconstructed(lost)
	e.logger.Info("reconstructed shards from parity", "group", id, "count", lost)
	return nil
}

// open recovers the payload key from the key shares of the readable shards
// and decrypts the data chunks.
func (e *Engine) open(id string, ref shard.Meta, metas []*shard.Meta, sealed [][]byte) ([][]byte, error) {
	var shares []secretsharing.KeyShare
	for _, m := range metas {
		if m != nil {
			shares = append(shares, secretsharing.KeyShare{X: m.ShareX, Y: m.ShareY[:keyLimbs]})
		}
	}
	key, err := secretsharing.RecoverKey(shares, int(ref.Threshold), aead.KeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot recover key of %s: %v", shard.ErrCorruptShard, id, err)
	}

	algorithm := aead.AES256GCM
	if ref.Flags&shard.FlagChaCha != 0 {
		algorithm = aead.ChaCha20Poly1305
	}
	c, err := aead.New(algorithm, key)
	if err != nil {
		return nil, err
	}

	chunks := make([][]byte, len(sealed))
	for i, s := range sealed {
		aad, err := payloadAAD(id, i)
		if err != nil {
			return nil, err
		}
		if chunks[i], err = c.Open(s, aad); err != nil {
			return nil, fmt.Errorf("%w: chunk %d of %s: %v", shard.ErrCorruptShard, i, id, err)
		}
	}
	return chunks, nil
}
