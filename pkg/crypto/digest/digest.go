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

// Package digest computes the content identifiers used to name shard groups.
// Identifiers are 256-bit digests rendered as 64 lowercase hex characters.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"

	"github.com/zeebo/blake3"
)

const (
	// Size is the raw digest length in bytes.
	Size = 32

	// HexLen is the length of a rendered identifier.
	HexLen = Size * 2
)

// Algorithm names
const (
	SHA256 = "sha256"
	BLAKE3 = "blake3"
)

// ErrInvalidDigest is returned when an identifier is not 64 lowercase hex characters.
var ErrInvalidDigest = errors.New("digest: invalid digest")

// ErrUnknownAlgorithm is returned for an unsupported algorithm name.
var ErrUnknownAlgorithm = errors.New("digest: unknown algorithm")

// Hasher produces 256-bit content identifiers.
type Hasher struct {
	algorithm string
	newHash   func() hash.Hash
}

// New returns a Hasher for the named algorithm. An empty name selects SHA256.
func New(algorithm string) (*Hasher, error) {
	switch algorithm {
	case "", SHA256:
		return &Hasher{algorithm: SHA256, newHash: sha256.New}, nil
	case BLAKE3:
		return &Hasher{algorithm: BLAKE3, newHash: func() hash.Hash { return blake3.New() }}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}

// Algorithm returns the algorithm name.
func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// Sum returns the raw digest of the concatenation of parts.
func (h *Hasher) Sum(parts ...[]byte) [Size]byte {
	d := h.newHash()
	for _, p := range parts {
		d.Write(p)
	}
	var out [Size]byte
	copy(out[:], d.Sum(nil))
	return out
}

// Hex returns the identifier of the concatenation of parts.
func (h *Hasher) Hex(parts ...[]byte) string {
	sum := h.Sum(parts...)
	return hex.EncodeToString(sum[:])
}

// Parse decodes a hex identifier into its raw bytes.
func Parse(id string) ([Size]byte, error) {
	var out [Size]byte
	if len(id) != HexLen {
		return out, fmt.Errorf("%w: length %d", ErrInvalidDigest, len(id))
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return out, fmt.Errorf("%w: %q", ErrInvalidDigest, id)
		}
	}
	if _, err := hex.Decode(out[:], []byte(id)); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	return out, nil
}

// Format renders raw digest bytes as an identifier.
func Format(sum [Size]byte) string {
	return hex.EncodeToString(sum[:])
}
