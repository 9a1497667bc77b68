// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type sliceIter struct {
	keys   []InternalKey
	values []Value
	i      int
}

func (s *sliceIter) First()           { s.i = 0 }
func (s *sliceIter) Next()            { s.i++ }
func (s *sliceIter) Valid() bool      { return s.i < len(s.keys) }
func (s *sliceIter) Key() InternalKey { return s.keys[s.i] }
func (s *sliceIter) Value() Value     { return s.values[s.i] }

// entry is a test input row; an empty val means a tombstone.
type entry struct {
	key string
	seq SeqNum
	val string
}

func makeInput(entries ...entry) *sliceIter {
	it := &sliceIter{}
	for _, e := range entries {
		it.keys = append(it.keys, MakeInternalKey([]byte(e.key), e.seq))
		if e.val == "" {
			it.values = append(it.values, Tombstone)
		} else {
			it.values = append(it.values, MakeValue([]byte(e.val)))
		}
	}
	return it
}

func collect(t *testing.T, it *CollapseIter) map[string]string {
	t.Helper()
	got := map[string]string{}
	for it.First(); it.Valid(); it.Next() {
		k := string(it.Key().UserKey)
		require.NotContains(t, got, k, "user key emitted twice")
		if it.Value().Kind == ValueKindTombstone {
			got[k] = "<del>"
		} else {
			got[k] = string(it.Value().Data)
		}
	}
	return got
}

func TestCollapseShadowedVersions(t *testing.T) {
	// a.PUT.2 shadows a.PUT.1; only the freshest version of each user key
	// survives.
	in := makeInput(
		entry{"a", 2, "new"},
		entry{"a", 1, "old"},
		entry{"b", 7, "b7"},
		entry{"c", 9, "c9"},
		entry{"c", 3, "c3"},
		entry{"c", 1, "c1"},
	)
	got := collect(t, NewCollapseIter(in, false))
	require.Equal(t, map[string]string{"a": "new", "b": "b7", "c": "c9"}, got)
}

func TestCollapseTombstones(t *testing.T) {
	in := func() *sliceIter {
		return makeInput(
			entry{"a", 5, ""},
			entry{"a", 2, "shadowed"},
			entry{"b", 3, "live"},
			entry{"c", 8, ""},
		)
	}

	// Without eliding, the freshest tombstone is emitted like any entry.
	got := collect(t, NewCollapseIter(in(), false))
	require.Equal(t, map[string]string{"a": "<del>", "b": "live", "c": "<del>"}, got)

	// With eliding, deleted user keys vanish entirely, including the
	// shadowed older versions beneath the tombstone.
	got = collect(t, NewCollapseIter(in(), true))
	require.Equal(t, map[string]string{"b": "live"}, got)
}

func TestCollapseEmptyAndSingle(t *testing.T) {
	it := NewCollapseIter(makeInput(), false)
	it.First()
	require.False(t, it.Valid())

	it = NewCollapseIter(makeInput(entry{"only", 1, "v"}), true)
	it.First()
	require.True(t, it.Valid())
	require.Equal(t, "only", string(it.Key().UserKey))
	it.Next()
	require.False(t, it.Valid())
}
