// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package skiplist provides the ordered map at the heart of the memtable:
// internal keys to tagged values, ordered by base.InternalCompare (ascending
// user key, descending seqno).
//
// Writes are serialized by the owning memtable's single-writer discipline;
// reads may run concurrently with the writer and are synchronized with a
// read-write mutex around pointer traversal.
package skiplist

import (
	"math/rand"
	"sync"

	"github.com/silodb/silo/internal/base"
)

const maxHeight = 16

type node struct {
	key   base.InternalKey
	value base.Value
	next  []*node
}

// Skiplist is an ordered map from internal key to value.
type Skiplist struct {
	mu     sync.RWMutex
	head   *node
	height int
	length int
	rng    *rand.Rand
}

// New returns an empty skiplist.
func New() *Skiplist {
	return &Skiplist{
		head:   &node{next: make([]*node, maxHeight)},
		height: 1,
		rng:    rand.New(rand.NewSource(0xdecafbad)),
	}
}

func (s *Skiplist) randomHeight() int {
	h := 1
	for h < maxHeight && s.rng.Intn(2) == 0 {
		h++
	}
	return h
}

// findGE returns the first node whose key is >= key, and fills prev with the
// rightmost node before that position at every level (when prev != nil).
func (s *Skiplist) findGE(key base.InternalKey, prev []*node) *node {
	n := s.head
	for i := s.height - 1; i >= 0; i-- {
		for n.next[i] != nil && base.InternalCompare(n.next[i].key, key) < 0 {
			n = n.next[i]
		}
		if prev != nil {
			prev[i] = n
		}
	}
	return n.next[0]
}

// Set inserts key with value, overwriting any existing entry with an equal
// internal key. It returns the previous value and whether one was replaced.
func (s *Skiplist) Set(key base.InternalKey, value base.Value) (prev base.Value, replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevNodes := make([]*node, maxHeight)
	if n := s.findGE(key, prevNodes); n != nil && base.InternalCompare(n.key, key) == 0 {
		old := n.value
		n.value = value
		return old, true
	}

	h := s.randomHeight()
	if h > s.height {
		for i := s.height; i < h; i++ {
			prevNodes[i] = s.head
		}
		s.height = h
	}

	n := &node{key: key, value: value, next: make([]*node, h)}
	for i := 0; i < h; i++ {
		n.next[i] = prevNodes[i].next[i]
		prevNodes[i].next[i] = n
	}
	s.length++
	return base.Value{}, false
}

// Len returns the number of entries.
func (s *Skiplist) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.length
}

// Iterator walks the list in key order. It is valid to use an iterator
// concurrently with writes to the list; the iterator observes a consistent
// linked structure but no particular snapshot of it.
type Iterator struct {
	list *Skiplist
	n    *node
}

// NewIter returns an unpositioned iterator over the list.
func (s *Skiplist) NewIter() *Iterator {
	return &Iterator{list: s}
}

// First positions the iterator at the smallest entry.
func (it *Iterator) First() {
	it.list.mu.RLock()
	defer it.list.mu.RUnlock()
	it.n = it.list.head.next[0]
}

// SeekGE positions the iterator at the first entry whose key is >= key.
func (it *Iterator) SeekGE(key base.InternalKey) {
	it.list.mu.RLock()
	defer it.list.mu.RUnlock()
	it.n = it.list.findGE(key, nil)
}

// Next advances the iterator.
func (it *Iterator) Next() {
	it.list.mu.RLock()
	defer it.list.mu.RUnlock()
	if it.n != nil {
		it.n = it.n.next[0]
	}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.n != nil }

// Key returns the current entry's internal key.
func (it *Iterator) Key() base.InternalKey { return it.n.key }

// Value returns the current entry's value.
func (it *Iterator) Value() base.Value { return it.n.value }
