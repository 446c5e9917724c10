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

package shard

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// Parity computes Reed-Solomon parity shards over equally sized data payloads
// and rebuilds lost data payloads from the survivors.
type Parity struct {
	enc    reedsolomon.Encoder
	data   int
	parity int
}

// NewParity returns a Parity for data data shards and parity parity shards.
// parity must be at least 1.
func NewParity(data, parity int) (*Parity, error) {
	if data < 1 || parity < 1 || data+parity > 256 {
		return nil, fmt.Errorf("%w: %d data + %d parity shards", ErrInvalidParameters, data, parity)
	}
	enc, err := reedsolomon.New(data, parity)
	if err != nil {
		return nil, fmt.Errorf("failed to create reed-solomon encoder: %w", err)
	}
	return &Parity{enc: enc, data: data, parity: parity}, nil
}

// Encode returns the data payloads followed by freshly computed parity
// payloads. Payloads must be non-empty and equally sized.
func (p *Parity) Encode(payloads [][]byte) ([][]byte, error) {
	if len(payloads) != p.data {
		return nil, fmt.Errorf("%w: got %d payloads, want %d", ErrInvalidParameters, len(payloads), p.data)
	}
	size := len(payloads[0])
	all := make([][]byte, p.data+p.parity)
	copy(all, payloads)
	for i := p.data; i < len(all); i++ {
		all[i] = make([]byte, size)
	}
	if err := p.enc.Encode(all); err != nil {
		return nil, fmt.Errorf("failed to encode parity: %w", err)
	}
	return all, nil
}

// Reconstruct fills nil data payloads in place. Up to parity entries of
// payloads may be nil.
func (p *Parity) Reconstruct(payloads [][]byte) error {
	if len(payloads) != p.data+p.parity {
		return fmt.Errorf("%w: got %d payloads, want %d", ErrInvalidParameters, len(payloads), p.data+p.parity)
	}
	if err := p.enc.ReconstructData(payloads); err != nil {
		return fmt.Errorf("%w: reconstruction failed: %v", ErrCorruptShard, err)
	}
	return nil
}
