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

package secretsharing

import (
	"encoding/binary"
	"fmt"
)

const (
	// LimbSize is the number of key bytes carried by one field element.
	LimbSize = 7

	// MaxKeyLen is the longest key accepted by SplitKey.
	MaxKeyLen = 64
)

// KeyShare holds one share of every limb of a byte key. All limbs share the
// same x coordinate.
type KeyShare struct {
	X uint64
	Y []uint64
}

// Limbs returns the number of limbs needed for a key of keyLen bytes.
func Limbs(keyLen int) int {
	return (keyLen + LimbSize - 1) / LimbSize
}

// SplitKey shares a byte key limb by limb.
func SplitKey(key []byte, nShares, nRequired int) ([]KeyShare, error) {
	if len(key) == 0 || len(key) > MaxKeyLen {
		return nil, fmt.Errorf("%w: key length %d outside [1, %d]", ErrInvalidParameters, len(key), MaxKeyLen)
	}
	if err := checkCounts(nShares, nRequired); err != nil {
		return nil, err
	}

	limbs := Limbs(len(key))
	out := make([]KeyShare, nShares)

	for l := 0; l < limbs; l++ {
		shares, err := Split(limbValue(key, l), nShares, nRequired)
		if err != nil {
			return nil, err
		}
		for i, s := range shares {
			if out[i].Y == nil {
				out[i] = KeyShare{X: s.X, Y: make([]uint64, limbs)}
			}
			out[i].Y[l] = s.Y
		}
	}
	return out, nil
}

// RecoverKey reconstructs a keyLen-byte key from the first threshold key shares.
func RecoverKey(shares []KeyShare, threshold, keyLen int) ([]byte, error) {
	if keyLen < 1 || keyLen > MaxKeyLen {
		return nil, fmt.Errorf("%w: key length %d outside [1, %d]", ErrInvalidParameters, keyLen, MaxKeyLen)
	}
	if threshold < 1 {
		return nil, fmt.Errorf("%w: threshold must be at least 1, got %d", ErrInvalidParameters, threshold)
	}
	if len(shares) < threshold {
		return nil, fmt.Errorf("%w: need %d, got %d", ErrInsufficientShares, threshold, len(shares))
	}

	limbs := Limbs(keyLen)
	points := make([]Share, threshold)
	key := make([]byte, limbs*LimbSize)

	for l := 0; l < limbs; l++ {
		for i := 0; i < threshold; i++ {
			if len(shares[i].Y) < limbs {
				return nil, fmt.Errorf("%w: share %d has %d limbs, need %d",
					ErrInvalidShare, i, len(shares[i].Y), limbs)
			}
			points[i] = Share{X: shares[i].X, Y: shares[i].Y[l]}
		}
		v, err := Recover(points, threshold)
		if err != nil {
			return nil, err
		}
		putLimb(key, l, v)
	}
	return key[:keyLen], nil
}

// limbValue reads limb l of key as a big-endian integer, zero padded.
func limbValue(key []byte, l int) uint64 {
	var buf [8]byte
	start := l * LimbSize
	end := min(start+LimbSize, len(key))
	copy(buf[1:], key[start:end])
	return binary.BigEndian.Uint64(buf[:])
}

func putLimb(key []byte, l int, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	copy(key[l*LimbSize:(l+1)*LimbSize], buf[1:])
}
