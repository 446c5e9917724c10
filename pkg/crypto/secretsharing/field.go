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
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/bits"
)

// Prime is the field modulus, the Mersenne prime 2^61 - 1.
const Prime uint64 = 1<<61 - 1

// fold reduces s < 2^63 into [0, Prime-1].
func fold(s uint64) uint64 {
	s = (s & Prime) + (s >> 61)
	if s >= Prime {
		s -= Prime
	}
	return s
}

// addMod returns (a + b) mod p for a, b < p.
func addMod(a, b uint64) uint64 {
	return fold(a + b)
}

// subMod returns (a - b) mod p for a, b < p.
func subMod(a, b uint64) uint64 {
	if a >= b {
		return a - b
	}
	return a + Prime - b
}

// mulMod returns (a * b) mod p for a, b < p using the full 128-bit product.
func mulMod(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	// hi*2^64 + lo with 2^64 = 8 (mod p)
	return fold((hi<<3 | lo>>61) + (lo & Prime))
}

// invMod returns the multiplicative inverse of a modulo p.
// The boolean is false when a is zero (mod p).
func invMod(a uint64) (uint64, bool) {
	a %= Prime
	if a == 0 {
		return 0, false
	}

	t, newT := int64(0), int64(1)
	r, newR := int64(Prime), int64(a)
	for newR != 0 {
		q := r / newR
		t, newT = newT, t-q*newT
		r, newR = newR, r-q*newR
	}
	if t < 0 {
		t += int64(Prime)
	}
	return uint64(t), true
}

// randomElement draws a uniform field element in [0, p-1].
func randomElement() (uint64, error) {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("failed to generate random coefficient: %w", err)
		}
		v := binary.LittleEndian.Uint64(buf[:]) & Prime
		if v < Prime {
			return v, nil
		}
	}
}
