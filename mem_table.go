// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package silo

import (
	"bytes"
	"sync/atomic"

	"github.com/silodb/silo/internal/base"
	"github.com/silodb/silo/internal/skiplist"
)

// memTable is the mutable in-memory tier: an ordered map from internal key to
// value, plus a running byte-size estimate (the sum over entries of user-key
// length and value payload length). It is owned exclusively by the writer;
// readers reach it through lookups that are safe against a concurrent writer.
//
// The mutable/immutable split is a type split, not a runtime flag: memTable
// exposes the mutators, frozenMemTable only the read side. freeze hands the
// contents across the boundary; the rotating writer then installs a fresh,
// empty active table in place of the frozen one.
type memTable struct {
	data *skiplist.Skiplist

	// size and maxSeqNum are written by the single writer and read by anyone;
	// atomics keep the reads tear-free.
	size      int64
	maxSeqNum uint64

	freezeSize int
}

func newMemTable(freezeSize int) *memTable {
	return &memTable{data: skiplist.New(), freezeSize: freezeSize}
}

// set inserts or overwrites an entry and adjusts the size estimate by the
// delta between the old and new payloads. A brand-new internal key also adds
// its user-key length.
func (m *memTable) set(key base.InternalKey, value base.Value) {
	prev, replaced := m.data.Set(key, value)
	delta := int64(value.PayloadLen())
	if replaced {
		delta -= int64(prev.PayloadLen())
	} else {
		delta += int64(key.Size())
	}
	atomic.AddInt64(&m.size, delta)

	if s := uint64(key.SeqNum); s > atomic.LoadUint64(&m.maxSeqNum) {
		atomic.StoreUint64(&m.maxSeqNum, s)
	}
}

// shouldFreeze reports whether the table has reached its freeze threshold.
func (m *memTable) shouldFreeze() bool {
	return atomic.LoadInt64(&m.size) >= int64(m.freezeSize)
}

// empty reports whether the table holds no entries.
func (m *memTable) empty() bool {
	return m.data.Len() == 0
}

// freeze wraps the contents in an immutable frozen handle. The receiver must
// not be mutated afterwards; the rotating writer publishes the frozen handle
// to the queue and then installs a fresh active table in its place, so a
// reader observes either the old populated table or the new empty one plus
// the queued frozen handle, never a gap.
func (m *memTable) freeze() *frozenMemTable {
	return &frozenMemTable{
		data:      m.data,
		size:      atomic.LoadInt64(&m.size),
		maxSeqNum: base.SeqNum(atomic.LoadUint64(&m.maxSeqNum)),
	}
}

// getLatest returns the value of the freshest version of userKey, if the
// table holds any version of it.
func (m *memTable) getLatest(userKey []byte) (base.Value, bool) {
	return getLatest(m.data, userKey)
}

// iter returns an iterator over the table's entries in internal-key order.
func (m *memTable) iter() *skiplist.Iterator {
	return m.data.NewIter()
}

// frozenMemTable is an immutable memtable awaiting flush. It is shared
// between readers and the flusher; the handle is cheap to copy.
type frozenMemTable struct {
	data      *skiplist.Skiplist
	size      int64
	maxSeqNum base.SeqNum
}

func (m *frozenMemTable) getLatest(userKey []byte) (base.Value, bool) {
	return getLatest(m.data, userKey)
}

func (m *frozenMemTable) iter() *skiplist.Iterator {
	return m.data.NewIter()
}

// getLatest seeks to the smallest internal key of userKey's range; under the
// inverted seqno ordering the first entry with a matching user key is the
// freshest version.
func getLatest(data *skiplist.Skiplist, userKey []byte) (base.Value, bool) {
	it := data.NewIter()
	it.SeekGE(base.MakeSearchKey(userKey))
	if it.Valid() && bytes.Equal(it.Key().UserKey, userKey) {
		return it.Value(), true
	}
	return base.Value{}, false
}
