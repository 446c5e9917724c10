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

package storage

import (
	"errors"
	"fmt"
)

// DeletePrefix removes every key starting with prefix and returns the number
// removed. Keys that vanish concurrently are not counted as errors.
func DeletePrefix(backend Backend, prefix string) (int, error) {
	if prefix == "" {
		return 0, fmt.Errorf("%w: empty prefix", ErrInvalidKey)
	}

	keys, err := backend.List(prefix)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		if err := backend.Delete(key); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}
