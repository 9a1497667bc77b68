// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import "bytes"

// InternalIterator iterates over internal key/value pairs in key order. Keys
// for identical user keys are returned in descending sequence order: newer
// entries before older entries. That makes the first entry for a user key its
// freshest version, which CollapseIter exploits.
type InternalIterator interface {
	// First positions the iterator at the smallest entry.
	First()

	// Next advances the iterator.
	Next()

	// Valid reports whether the iterator is positioned at an entry.
	Valid() bool

	// Key returns the current entry's internal key. The returned key may be
	// invalidated by the next call to Next.
	Key() InternalKey

	// Value returns the current entry's value.
	Value() Value
}

// CollapseIter wraps an InternalIterator and collapses shadowed entries: it
// emits exactly one entry per user key, the freshest one, and optionally
// elides user keys whose freshest entry is a tombstone. The simplest case is
// an input holding k#2 and k#1: only k#2 is emitted, the older version is
// shadowed.
//
// This is the visible-state view of an entry stream. It powers offline
// inspection and is the collapsing step a future level compaction reuses.
type CollapseIter struct {
	iter            InternalIterator
	elideTombstones bool
	key             InternalKey
	value           Value
	valid           bool
}

// NewCollapseIter wraps iter. When elideTombstones is true, user keys whose
// freshest version is a tombstone are dropped entirely; otherwise the
// tombstone itself is emitted.
func NewCollapseIter(iter InternalIterator, elideTombstones bool) *CollapseIter {
	return &CollapseIter{iter: iter, elideTombstones: elideTombstones}
}

// First positions the iterator at the freshest entry of the smallest visible
// user key.
func (c *CollapseIter) First() {
	c.iter.First()
	c.settle()
}

// Next advances to the freshest entry of the next visible user key.
func (c *CollapseIter) Next() {
	if !c.valid {
		return
	}
	c.skipUserKey(c.key.UserKey)
	c.settle()
}

// settle accepts the entry the inner iterator is positioned at, skipping over
// elided tombstones and their shadowed versions.
func (c *CollapseIter) settle() {
	for c.iter.Valid() {
		key, value := c.iter.Key(), c.iter.Value()
		if c.elideTombstones && value.Kind == ValueKindTombstone {
			c.skipUserKey(key.UserKey)
			continue
		}
		c.key, c.value, c.valid = key, value, true
		return
	}
	c.valid = false
}

// skipUserKey advances the inner iterator past every remaining entry of
// userKey. The caller's userKey must remain stable across the skip, so it is
// copied first: advancing the inner iterator may invalidate it.
func (c *CollapseIter) skipUserKey(userKey []byte) {
	userKey = append([]byte(nil), userKey...)
	for c.iter.Valid() && bytes.Equal(c.iter.Key().UserKey, userKey) {
		c.iter.Next()
	}
}

// Valid reports whether the iterator is positioned at an entry.
func (c *CollapseIter) Valid() bool { return c.valid }

// Key returns the current entry's internal key.
func (c *CollapseIter) Key() InternalKey { return c.key }

// Value returns the current entry's value.
func (c *CollapseIter) Value() Value { return c.value }
