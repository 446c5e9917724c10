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

// Package bolt provides a storage.Backend on a single BoltDB file. The shard
// server uses it to keep every shard of a machine in one database.
package bolt

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"github.com/jeremyhahn/go-shardfs/pkg/storage"
)

// DefaultBucket holds all keys.
const DefaultBucket = "shards"

var errStop = errors.New("bolt: stop")

// Storage is a BoltDB-backed storage.Backend.
type Storage struct {
	db     *bolt.DB
	bucket []byte
}

// Open opens or creates the database at path and ensures the bucket exists.
func Open(path string) (*Storage, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt storage: path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("bolt storage: failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt storage: failed to open %s: %w", path, err)
	}

	s := &Storage{db: db, bucket: []byte(DefaultBucket)}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt storage: failed to create bucket: %w", err)
	}
	return s, nil
}

// Get retrieves the value for the given key.
func (s *Storage) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v == nil {
			return storage.ErrNotFound
		}
		// bolt memory is only valid inside the transaction
		out = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		return nil, s.wrap("read", key, err)
	}
	return out, nil
}

// Put stores the value for the given key. Options are ignored.
func (s *Storage) Put(key string, value []byte, _ *storage.Options) error {
	if key == "" {
		return storage.ErrInvalidKey
	}
	if value == nil {
		value = []byte{}
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), value)
	})
	return s.wrap("write", key, err)
}

// Delete removes the key. Returns storage.ErrNotFound if it does not exist.
func (s *Storage) Delete(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b.Get([]byte(key)) == nil {
			return storage.ErrNotFound
		}
		return b.Delete([]byte(key))
	})
	return s.wrap("delete", key, err)
}

// List returns the keys with the given prefix in byte order.
func (s *Storage) List(prefix string) ([]string, error) {
	keys := make([]string, 0)
	p := []byte(prefix)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, _ := c.Seek(p); k != nil; k, _ = c.Next() {
			if !bytes.HasPrefix(k, p) {
				return errStop
			}
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, s.wrap("list", prefix, err)
	}
	return keys, nil
}

// Exists checks if a key exists.
func (s *Storage) Exists(key string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(s.bucket).Get([]byte(key)) != nil
		return nil
	})
	if err != nil {
		return false, s.wrap("stat", key, err)
	}
	return ok, nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) wrap(op, key string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return storage.ErrNotFound
	case errors.Is(err, bolt.ErrDatabaseNotOpen):
		return storage.ErrClosed
	default:
		return storage.NewIOError(op, key, err)
	}
}
