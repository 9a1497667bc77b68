// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package skiplist

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/silodb/silo/internal/base"
)

func TestSetAndOrder(t *testing.T) {
	s := New()

	// Insert out of order; iteration must come back sorted with the seqno
	// component inverted.
	ins := []struct {
		key string
		seq base.SeqNum
	}{
		{"b", 3}, {"a", 1}, {"a", 5}, {"c", 2}, {"a", 2}, {"b", 9},
	}
	for _, e := range ins {
		_, replaced := s.Set(base.MakeInternalKey([]byte(e.key), e.seq), base.MakeValue([]byte(e.key)))
		require.False(t, replaced)
	}
	require.Equal(t, len(ins), s.Len())

	want := []string{"a#5", "a#2", "a#1", "b#9", "b#3", "c#2"}
	var got []string
	it := s.NewIter()
	for it.First(); it.Valid(); it.Next() {
		got = append(got, it.Key().String())
	}
	require.Equal(t, want, got)
}

func TestSetOverwrite(t *testing.T) {
	s := New()
	k := base.MakeInternalKey([]byte("k"), 7)

	prev, replaced := s.Set(k, base.MakeValue([]byte("v1")))
	require.False(t, replaced)
	require.Equal(t, base.Value{}, prev)

	prev, replaced = s.Set(k, base.MakeValue([]byte("v2")))
	require.True(t, replaced)
	require.Equal(t, []byte("v1"), prev.Data)
	require.Equal(t, 1, s.Len())

	prev, replaced = s.Set(k, base.Tombstone)
	require.True(t, replaced)
	require.Equal(t, []byte("v2"), prev.Data)
}

func TestSeekGE(t *testing.T) {
	s := New()
	for i := 0; i < 100; i += 2 {
		key := []byte(fmt.Sprintf("key%03d", i))
		s.Set(base.MakeInternalKey(key, base.SeqNum(i)), base.MakeValue(key))
	}

	it := s.NewIter()

	// Exact hit.
	it.SeekGE(base.MakeInternalKey([]byte("key010"), 10))
	require.True(t, it.Valid())
	require.Equal(t, "key010#10", it.Key().String())

	// Between keys: lands on the next user key.
	it.SeekGE(base.MakeSearchKey([]byte("key011")))
	require.True(t, it.Valid())
	require.Equal(t, "key012#12", it.Key().String())

	// The search key for an existing user key lands on its freshest version.
	it.SeekGE(base.MakeSearchKey([]byte("key012")))
	require.True(t, it.Valid())
	require.Equal(t, "key012#12", it.Key().String())

	// Past the end.
	it.SeekGE(base.MakeSearchKey([]byte("zzz")))
	require.False(t, it.Valid())
}
