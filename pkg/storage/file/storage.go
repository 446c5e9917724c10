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

// Package file provides a file-based implementation of the storage.Backend interface.
// Values are written atomically through a temporary file and rename.
package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-shardfs/pkg/storage"
)

const (
	// Default directory permissions for directories created on demand
	defaultDirPerms = 0755

	// Default permissions for new files when no mode is given
	defaultPerms = 0600

	// TempPrefix marks in-flight writes; List skips these entries.
	TempPrefix = ".shardfs-tmp-"
)

// FileStorage is a file-based implementation of storage.Backend.
// It stores key-value pairs as files in a directory hierarchy and is thread-safe.
type FileStorage struct {
	mu      sync.RWMutex
	rootDir string
	skip    map[string]struct{}
}

// Option configures a FileStorage.
type Option func(*FileStorage)

// WithSkipDir hides a top-level directory from List.
func WithSkipDir(name string) Option {
	return func(f *FileStorage) {
		f.skip[name] = struct{}{}
	}
}

// New creates a new FileStorage instance with the specified root directory.
// The root directory is created if it doesn't exist.
func New(rootDir string, opts ...Option) (*FileStorage, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("file storage: root directory cannot be empty")
	}

	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("file storage: failed to resolve root directory: %w", err)
	}

	if err := os.MkdirAll(abs, defaultDirPerms); err != nil {
		return nil, fmt.Errorf("file storage: failed to create root directory: %w", err)
	}

	f := &FileStorage{
		rootDir: abs,
		skip:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Root returns the absolute root directory.
func (f *FileStorage) Root() string {
	return f.rootDir
}

// Get retrieves the value for the given key.
// Returns storage.ErrNotFound if the key does not exist.
func (f *FileStorage) Get(key string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	filePath, err := f.keyToPath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.NewIOError("read", key, err)
	}

	return data, nil
}

// Put stores the value for the given key, replacing the previous file in a
// single rename. The mode comes from opts, else from the existing file, else
// the default.
func (f *FileStorage) Put(key string, value []byte, opts *storage.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	filePath, err := f.keyToPath(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, defaultDirPerms); err != nil {
		return storage.NewIOError("mkdir", key, err)
	}

	perms := f.getFilePermissions(filePath, opts)

	tmp, err := os.CreateTemp(dir, TempPrefix+"*")
	if err != nil {
		return storage.NewIOError("create", key, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		cleanup()
		return storage.NewIOError("write", key, err)
	}
	if err := tmp.Chmod(perms); err != nil {
		_ = tmp.Close()
		cleanup()
		return storage.NewIOError("chmod", key, err)
	}
	if err := keepOwner(tmp, filePath); err != nil {
		_ = tmp.Close()
		cleanup()
		return storage.NewIOError("chown", key, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return storage.NewIOError("close", key, err)
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		cleanup()
		return storage.NewIOError("rename", key, err)
	}

	return nil
}

// Delete removes the key and its value from storage.
// Returns storage.ErrNotFound if the key does not exist.
func (f *FileStorage) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	filePath, err := f.keyToPath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.ErrNotFound
		}
		return storage.NewIOError("delete", key, err)
	}

	return nil
}

// Rename moves oldKey to newKey, replacing newKey if present.
func (f *FileStorage) Rename(oldKey, newKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	oldPath, err := f.keyToPath(oldKey)
	if err != nil {
		return err
	}
	newPath, err := f.keyToPath(newKey)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(newPath), defaultDirPerms); err != nil {
		return storage.NewIOError("mkdir", newKey, err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.ErrNotFound
		}
		return storage.NewIOError("rename", oldKey, err)
	}
	return nil
}

// List returns all keys with the given prefix in sorted order.
func (f *FileStorage) List(prefix string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	keys := make([]string, 0)

	err := filepath.WalkDir(f.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != f.rootDir && filepath.Dir(path) == f.rootDir {
				if _, hidden := f.skip[d.Name()]; hidden {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), TempPrefix) {
			return nil
		}

		key, err := f.pathToKey(path)
		if err != nil {
			return err
		}

		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, storage.NewIOError("list", prefix, err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Exists checks if a key exists in storage.
func (f *FileStorage) Exists(key string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	filePath, err := f.keyToPath(key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, storage.NewIOError("stat", key, err)
	}

	return true, nil
}

// Close releases any resources held by the backend.
// For file storage, this is a no-op but provided for interface compliance.
func (f *FileStorage) Close() error {
	return nil
}

// keyToPath converts a storage key to a file path inside the root.
func (f *FileStorage) keyToPath(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", fmt.Errorf("%w: %v", storage.ErrInvalidKey, err)
	}
	return filepath.Join(f.rootDir, filepath.FromSlash(key)), nil
}

// ValidateKey rejects empty keys, absolute paths and traversal outside the root.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	if strings.Contains(key, "\x00") {
		return fmt.Errorf("key contains null byte")
	}

	if filepath.IsAbs(key) {
		return fmt.Errorf("key cannot be an absolute path")
	}

	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || cleaned == ".." ||
		strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return fmt.Errorf("key contains path traversal attempt")
	}

	return nil
}

// pathToKey converts a file path to a storage key.
func (f *FileStorage) pathToKey(path string) (string, error) {
	rel, err := filepath.Rel(f.rootDir, path)
	if err != nil {
		return "", fmt.Errorf("file storage: failed to convert path to key: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// getFilePermissions picks the mode for a write to filePath.
func (f *FileStorage) getFilePermissions(filePath string, opts *storage.Options) fs.FileMode {
	if opts != nil && opts.Permissions != 0 {
		return opts.Permissions.Perm()
	}
	if info, err := os.Stat(filePath); err == nil {
		return info.Mode().Perm()
	}
	return defaultPerms
}
