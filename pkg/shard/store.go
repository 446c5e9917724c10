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
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/jeremyhahn/go-shardfs/pkg/storage"
)

// maxInFlight bounds concurrent shard transfers per group operation.
const maxInFlight = 8

// Store places shard files on machines. Shard i of a group lives on machine
// i mod len(machines); machine 0 is normally the local shard directory.
type Store struct {
	machines []storage.Backend
	logger   *slog.Logger
}

// NewStore returns a Store over the given machines.
func NewStore(machines []storage.Backend, logger *slog.Logger) (*Store, error) {
	if len(machines) == 0 {
		return nil, fmt.Errorf("%w: no machines", ErrInvalidParameters)
	}
	for i, m := range machines {
		if m == nil {
			return nil, fmt.Errorf("%w: machine %d is nil", ErrInvalidParameters, i)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{machines: machines, logger: logger}, nil
}

// Machines returns the number of machines.
func (s *Store) Machines() int {
	return len(s.machines)
}

func (s *Store) machine(index int) storage.Backend {
	return s.machines[index%len(s.machines)]
}

// Put writes one shard file.
func (s *Store) Put(id string, index int, file []byte) error {
	return s.machine(index).Put(Name(id, index), file, storage.DefaultOptions())
}

// Get reads one shard file.
func (s *Store) Get(id string, index int) ([]byte, error) {
	return s.machine(index).Get(Name(id, index))
}

// PutGroup writes every file of a group, files[i] as shard i. On failure the
// shards already written are removed.
func (s *Store) PutGroup(id string, files [][]byte) error {
	var g errgroup.Group
	g.SetLimit(maxInFlight)
	for i, f := range files {
		g.Go(func() error {
			if err := s.Put(id, i, f); err != nil {
				return fmt.Errorf("shard %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if _, derr := s.DeleteGroup(id); derr != nil {
			s.logger.Warn("failed to remove partial shard group", "group", id, "error", derr)
		}
		return err
	}
	return nil
}

// GetGroup reads total shards of group id. Unavailable shards are left nil
// and reported in the joined error.
func (s *Store) GetGroup(id string, total int) ([][]byte, error) {
	files := make([][]byte, total)
	errs := make([]error, total)

	var g errgroup.Group
	g.SetLimit(maxInFlight)
	for i := range files {
		g.Go(func() error {
			f, err := s.Get(id, i)
			if err != nil {
				errs[i] = fmt.Errorf("shard %d: %w", i, err)
				return nil
			}
			files[i] = f
			return nil
		})
	}
	_ = g.Wait()

	return files, errors.Join(errs...)
}

// GetMeta returns the metadata of the first readable shard among the total
// shards of group id.
func (s *Store) GetMeta(id string, total int) (Meta, error) {
	var errs []error
	for i := range total {
		f, err := s.Get(id, i)
		if err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", i, err))
			continue
		}
		m, _, err := Decode(f)
		if err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", i, err))
			continue
		}
		return m, nil
	}
	return Meta{}, fmt.Errorf("%w: no readable shard in group %s: %w", ErrCorruptShard, id, errors.Join(errs...))
}

// DeleteGroup removes every shard of group id from every machine and returns
// the number of files removed.
func (s *Store) DeleteGroup(id string) (int, error) {
	if id == "" {
		return 0, fmt.Errorf("%w: empty group id", ErrInvalidParameters)
	}

	removed := 0
	var errs []error
	seen := make(map[storage.Backend]struct{}, len(s.machines))
	for i, m := range s.machines {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}

		n, err := storage.DeletePrefix(m, GroupPrefix(id))
		removed += n
		if err != nil {
			errs = append(errs, fmt.Errorf("machine %d: %w", i, err))
		}
	}
	return removed, errors.Join(errs...)
}
