// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package silo

import (
	"sync"
	"sync/atomic"
)

// frozenQueue holds the frozen memtables awaiting flush, oldest at the front.
//
// The list is copy-on-write: readers atomically load an immutable snapshot
// and never block the writer or the flusher. The flusher's pop is
// peek-and-mark, not destructive: it reads the first unflushed table, and
// after the flush commits it advances the flushed-prefix counter. compact
// physically drops the flushed prefix. Readers see tables[flushed:], newest
// first, so a table disappears from the read view exactly when the manifest
// references its data.
type queueState struct {
	tables  []*frozenMemTable
	flushed int
}

type frozenQueue struct {
	state atomic.Pointer[queueState]
	// mu serializes mutations (push from the writer, mark/compact from the
	// flusher). Readers never take it.
	mu sync.Mutex
}

func newFrozenQueue() *frozenQueue {
	q := &frozenQueue{}
	q.state.Store(&queueState{})
	return q
}

// live returns the unflushed tables, oldest first. The returned slice is an
// immutable snapshot.
func (q *frozenQueue) live() []*frozenMemTable {
	s := q.state.Load()
	return s.tables[s.flushed:]
}

// push appends a newly frozen table at the back.
func (q *frozenQueue) push(t *frozenMemTable) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.state.Load()
	tables := make([]*frozenMemTable, len(s.tables), len(s.tables)+1)
	copy(tables, s.tables)
	q.state.Store(&queueState{tables: append(tables, t), flushed: s.flushed})
}

// peekFront returns the oldest unflushed table without removing it, or nil.
func (q *frozenQueue) peekFront() *frozenMemTable {
	s := q.state.Load()
	if s.flushed >= len(s.tables) {
		return nil
	}
	return s.tables[s.flushed]
}

// markFlushed advances the flushed prefix past the current front. Called by
// the flusher only after the table's sstables are durably recorded in the
// manifest.
func (q *frozenQueue) markFlushed() {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.state.Load()
	if s.flushed < len(s.tables) {
		q.state.Store(&queueState{tables: s.tables, flushed: s.flushed + 1})
	}
}

// compact physically drops the flushed prefix.
func (q *frozenQueue) compact() {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.state.Load()
	if s.flushed == 0 {
		return
	}
	tables := make([]*frozenMemTable, len(s.tables)-s.flushed)
	copy(tables, s.tables[s.flushed:])
	q.state.Store(&queueState{tables: tables})
}

// fullyFlushed reports whether no unflushed table remains.
func (q *frozenQueue) fullyFlushed() bool {
	s := q.state.Load()
	return s.flushed >= len(s.tables)
}

// depth returns the number of unflushed tables.
func (q *frozenQueue) depth() int {
	return len(q.live())
}
