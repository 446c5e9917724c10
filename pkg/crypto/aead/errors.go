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

package aead

import "errors"

var (
	// ErrNonceReuse is returned when a nonce is drawn twice under the same key.
	// The message is not encrypted.
	ErrNonceReuse = errors.New("aead: nonce reuse detected - encryption rejected")

	// ErrUnknownAlgorithm is returned for an unsupported algorithm name.
	ErrUnknownAlgorithm = errors.New("aead: unknown algorithm")

	// ErrInvalidKey is returned when the key length does not match KeySize.
	ErrInvalidKey = errors.New("aead: invalid key")

	// ErrDecrypt is returned when a sealed message fails authentication.
	ErrDecrypt = errors.New("aead: message authentication failed")
)
