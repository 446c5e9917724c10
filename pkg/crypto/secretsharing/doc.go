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

// Package secretsharing implements Shamir's Secret Sharing over the prime
// field GF(p) with p = 2^61 - 1.
//
// A secret is the constant term of a random polynomial of degree
// nRequired-1. Each share is the polynomial evaluated at a distinct
// nonzero x. Any nRequired shares recover the secret by Lagrange
// interpolation at x = 0; fewer shares are statistically independent of it.
//
// # Field Arithmetic
//
// All values are kept in [0, p-1]. Products are computed as 128-bit values
// with math/bits.Mul64 and reduced with the Mersenne identity
// 2^61 = 1 (mod p), so no intermediate ever wraps. Division uses the modular
// inverse from the extended Euclidean algorithm.
//
// # Usage Example
//
//	shares, err := secretsharing.Split(65, 4, 3)
//	if err != nil {
//	    return err
//	}
//
//	// any three shares recover the secret
//	secret, err := secretsharing.Recover(shares[1:], 3)
//
// # Keys
//
// SplitKey and RecoverKey share byte keys of up to MaxKeyLen bytes by cutting
// them into 7-byte limbs (each limb is below p) and sharing every limb with
// the same x coordinates. The shard engine stores one KeyShare per shard.
//
// Shares carry no checksum. Callers verify the recovered value through
// other means (for example an AEAD tag).
package secretsharing
