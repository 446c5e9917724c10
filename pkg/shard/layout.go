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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// DirName is the hidden shard directory inside a storepoint.
	DirName = ".shards"

	// LayoutFile records the layout a shard directory was created with.
	LayoutFile = ".layout"
)

// Layout describes how the shards in a directory were produced. A directory
// may only be reused with an identical layout.
type Layout struct {
	Version  int    `yaml:"version"`
	Machines int    `yaml:"machines"`
	Parity   int    `yaml:"parity"`
	Digest   string `yaml:"digest,omitempty"`
}

// PrepareDir ensures storepoint/.shards exists and matches layout, creating
// it and its marker when absent. It returns the directory path. An existing
// directory with foreign content, no marker or a different layout yields
// ErrStaleLayout.
func PrepareDir(storepoint string, layout Layout) (string, error) {
	if layout.Version == 0 {
		layout.Version = Version
	}
	if layout.Machines < 1 || layout.Parity < 0 {
		return "", fmt.Errorf("%w: layout %+v", ErrInvalidParameters, layout)
	}

	dir := filepath.Join(storepoint, DirName)
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(dir, 0700); err != nil {
			return "", fmt.Errorf("failed to create shard directory: %w", err)
		}
		return dir, writeLayout(dir, layout)
	case err != nil:
		return "", fmt.Errorf("failed to stat shard directory: %w", err)
	case !info.IsDir():
		return "", fmt.Errorf("%w: %s is not a directory", ErrStaleLayout, dir)
	}

	data, err := os.ReadFile(filepath.Join(dir, LayoutFile))
	if errors.Is(err, fs.ErrNotExist) {
		entries, rerr := os.ReadDir(dir)
		if rerr != nil {
			return "", fmt.Errorf("failed to read shard directory: %w", rerr)
		}
		if len(entries) > 0 {
			return "", fmt.Errorf("%w: %s has %d entries and no layout marker", ErrStaleLayout, dir, len(entries))
		}
		return dir, writeLayout(dir, layout)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read layout marker: %w", err)
	}

	var found Layout
	if err := yaml.Unmarshal(data, &found); err != nil {
		return "", fmt.Errorf("%w: unreadable layout marker: %v", ErrStaleLayout, err)
	}
	if found != layout {
		return "", fmt.Errorf("%w: directory has %+v, mount wants %+v", ErrStaleLayout, found, layout)
	}
	return dir, nil
}

func writeLayout(dir string, layout Layout) error {
	data, err := yaml.Marshal(layout)
	if err != nil {
		return fmt.Errorf("failed to encode layout marker: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, LayoutFile), data, 0600); err != nil {
		return fmt.Errorf("failed to write layout marker: %w", err)
	}
	return nil
}
