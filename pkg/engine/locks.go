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


package engine

import "sync"

// pathLock is a reader/writer lock shared by every operation on one path.
type pathLock struct {
	sync.RWMutex
	refs int
}

// lockTable hands out per-path locks and drops them once unreferenced.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*pathLock)}
}

func (t *lockTable) acquire(path string) *pathLock {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[path]
	if !ok {
		l = &pathLock{}
		t.locks[path] = l
	}
	l.refs++
	return l
}

func (t *lockTable) release(path string, l *pathLock) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(t.locks, path)
	}
}

// Lock takes the write lock of path and returns its release function.
func (t *lockTable) Lock(path string) func() {
	l := t.acquire(path)
	l.Lock()
	return func() {
		l.Unlock()
		t.release(path, l)
	}
}

// RLock takes the read lock of path and returns its release function.
func (t *lockTable) RLock(path string) func() {
	l := t.acquire(path)
	l.RLock()
	return func() {
		l.RUnlock()
		t.release(path, l)
	}
}

// LockPair write-locks two paths in a fixed order.
func (t *lockTable) LockPair(a, b string) func() {
	if a == b {
		return t.Lock(a)
	}
	if b < a {
		a, b = b, a
	}
	ua := t.Lock(a)
	ub := t.Lock(b)
	return func() {
		ub()
		ua()
	}
}

// size returns the number of live entries.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
