// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package relay

import (
	"sync"

	"github.com/luxfi/ids"
)

// txLock is one transaction id's lock plus the number of operations
// holding or waiting on it.
type txLock struct {
	mu   sync.Mutex
	refs int
}

// lockTable hands out per-transaction-id locks so operations on the same
// id run one at a time while different ids proceed independently. An
// entry exists only while an operation holds or waits on it.
type lockTable struct {
	mu    sync.Mutex
	locks map[ids.ID]*txLock
}

func newLockTable() *lockTable {
	return &lockTable{
		locks: make(map[ids.ID]*txLock),
	}
}

// Lock acquires the lock for txID and returns the matching release
// function.
func (t *lockTable) Lock(txID ids.ID) func() {
	t.mu.Lock()
	entry, ok := t.locks[txID]
	if !ok {
		entry = &txLock{}
		t.locks[txID] = entry
	}
	entry.refs++
	t.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()

		t.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(t.locks, txID)
		}
		t.mu.Unlock()
	}
}
