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

// Package shard splits file content into equal chunks, frames each chunk as a
// shard file and places shard files across machines.
//
// A group of shards is named by a 64-character content digest. Shard i of
// group id is stored under the key "{id}-{i:04d}.shard".
package shard

import (
	"fmt"
	"math"
)

// ChunkSize returns ceil(size / n), the per-shard payload size for size bytes
// split n ways.
func ChunkSize(size, n int) int {
	if n < 1 || size <= 0 {
		return 0
	}
	return (size + n - 1) / n
}

// Split cuts data into n chunks of ChunkSize(len(data), n) bytes. The final
// chunk is zero padded. Empty input yields n empty chunks.
func Split(data []byte, n int) ([][]byte, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: machine count must be at least 1, got %d", ErrInvalidParameters, n)
	}

	cs := ChunkSize(len(data), n)
	buf := make([]byte, cs*n)
	copy(buf, data)

	chunks := make([][]byte, n)
	for i := range chunks {
		chunks[i] = buf[i*cs : (i+1)*cs : (i+1)*cs]
	}
	return chunks, nil
}

// Join concatenates chunks in index order and truncates to logicalSize.
func Join(chunks [][]byte, logicalSize int) ([]byte, error) {
	if logicalSize < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrInvalidParameters, logicalSize)
	}
	if len(chunks) == 0 {
		if logicalSize == 0 {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("%w: no chunks for %d bytes", ErrCorruptShard, logicalSize)
	}

	cs := len(chunks[0])
	for i, c := range chunks {
		if len(c) != cs {
			return nil, fmt.Errorf("%w: chunk %d has %d bytes, want %d", ErrCorruptShard, i, len(c), cs)
		}
	}
	if cs*len(chunks) < logicalSize {
		return nil, fmt.Errorf("%w: %d chunks of %d bytes cannot hold %d bytes",
			ErrCorruptShard, len(chunks), cs, logicalSize)
	}

	out := make([]byte, 0, cs*len(chunks))
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out[:logicalSize], nil
}

// Patch overwrites [offset, offset+len(data)) of the content held by chunks
// and re-splits the result n ways. A gap between logicalSize and offset reads
// back as zeros. It returns the new chunks and the new logical size.
func Patch(chunks [][]byte, logicalSize int, offset int64, data []byte, n int) ([][]byte, int, error) {
	if offset < 0 {
		return nil, 0, fmt.Errorf("%w: negative offset %d", ErrInvalidParameters, offset)
	}
	if offset > int64(math.MaxInt-len(data)) {
		return nil, 0, fmt.Errorf("%w: offset %d overflows", ErrInvalidParameters, offset)
	}

	content, err := Join(chunks, logicalSize)
	if err != nil {
		return nil, 0, err
	}

	end := int(offset) + len(data)
	newSize := max(logicalSize, end)

	buf := make([]byte, newSize)
	copy(buf, content)
	copy(buf[offset:], data)

	out, err := Split(buf, n)
	if err != nil {
		return nil, 0, err
	}
	return out, newSize, nil
}
