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

// Package aead provides the authenticated ciphers used to protect shard
// payloads and picks the faster one for the running CPU.
//
//   - AES-256-GCM: used when the CPU has AES instructions.
//   - ChaCha20-Poly1305: used otherwise; faster in software and constant time.
//
// Example usage:
//
//	algorithm, err := aead.Resolve(aead.Auto)
//	c, err := aead.New(algorithm, key)
//	sealed, err := c.Seal(plaintext, aad)
//	plaintext, err := c.Open(sealed, aad)
package aead

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/cpu"
)

// Algorithm names accepted in configuration.
const (
	// None disables payload encryption.
	None = "none"

	// Auto selects AES256GCM or ChaCha20Poly1305 from CPU capabilities.
	Auto = "auto"

	// AES256GCM is AES-256 in Galois/Counter Mode.
	AES256GCM = "aes256-gcm"

	// ChaCha20Poly1305 is the ChaCha20-Poly1305 AEAD.
	ChaCha20Poly1305 = "chacha20-poly1305"
)

// HasAESNI returns true if the CPU has AES-NI (AES New Instructions) support.
//
// Supported architectures:
//   - amd64: Checks X86.HasAES
//   - arm64: Checks ARM64.HasAES
//   - Other architectures return false
func HasAESNI() bool {
	switch runtime.GOARCH {
	case "amd64":
		return cpu.X86.HasAES
	case "arm64":
		return cpu.ARM64.HasAES
	default:
		return false
	}
}

// SelectOptimal returns AES256GCM when the CPU accelerates AES and
// ChaCha20Poly1305 otherwise.
func SelectOptimal() string {
	if HasAESNI() {
		return AES256GCM
	}
	return ChaCha20Poly1305
}

// Resolve validates a configured algorithm name and expands Auto.
// An empty name is treated as None.
func Resolve(algorithm string) (string, error) {
	switch algorithm {
	case "", None:
		return None, nil
	case Auto:
		return SelectOptimal(), nil
	case AES256GCM, ChaCha20Poly1305:
		return algorithm, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}

// IsAESGCM returns true if the algorithm is AES-GCM.
func IsAESGCM(algorithm string) bool {
	return algorithm == AES256GCM
}

// IsChaCha returns true if the algorithm is ChaCha20-Poly1305.
func IsChaCha(algorithm string) bool {
	return algorithm == ChaCha20Poly1305
}
