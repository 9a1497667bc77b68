// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package silo

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/silodb/silo/internal/base"
	"github.com/silodb/silo/sstable"
)

// TestFlushSplitsLargeFrozenTable drives the manager's flush directly with a
// frozen table whose projected output exceeds the L0 file budget several
// times over, and checks the split: every produced file respects the budget,
// parses, and together they hold exactly the table's entries.
func TestFlushSplitsLargeFrozenTable(t *testing.T) {
	dir := t.TempDir()
	opts := &Options{
		MemTableFreezeSize: 1 << 30,
		WALCompactSize:     1 << 30,
		L0TargetFileSize:   2048,
		BlockSize:          256,
		Logger:             base.NopLogger,
	}
	d := openTestDB(t, dir, opts)

	mem := newMemTable(opts.MemTableFreezeSize)
	want := map[string]string{}
	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("key%04d", i)
		v := fmt.Sprintf("value-%04d-abcdefghijklmnop", i)
		want[k] = v
		mem.set(base.MakeInternalKey([]byte(k), base.SeqNum(i+1)), base.MakeValue([]byte(v)))
	}

	require.NoError(t, d.tm.flushFrozen(mem.freeze()))

	man := d.tm.manifestSnapshot()
	files := man.Levels[0].SortedFiles()
	require.Greater(t, len(files), 1)

	got := map[string]string{}
	var prevLargest base.InternalKey
	for i, fm := range files {
		require.LessOrEqual(t, fm.Size, opts.L0TargetFileSize)

		r, err := sstable.Open(base.MakeFilepath(dir, base.FileTypeTable, fm.FileNum))
		require.NoError(t, err)

		it := r.Iter()
		first := true
		var last base.InternalKey
		for it.Next() {
			if first {
				require.Equal(t, fm.Smallest.String(), it.Key().String())
				first = false
			}
			last = it.Key().Clone()
			got[string(it.Key().UserKey)] = string(it.Value().Data)
		}
		require.NoError(t, it.Error())
		require.Equal(t, fm.Largest.String(), last.String())

		// Files produced from one sorted table are disjoint and ordered.
		if i > 0 {
			require.Negative(t, base.InternalCompare(prevLargest, fm.Smallest))
		}
		prevLargest = fm.Largest
		require.NoError(t, r.Close())
	}
	require.Equal(t, want, got)
}

// TestFlushEmptyFrozenTable covers the degenerate case: nothing to write,
// nothing cataloged.
func TestFlushEmptyFrozenTable(t *testing.T) {
	d := openTestDB(t, t.TempDir(), nil)

	mem := newMemTable(d.opts.MemTableFreezeSize)
	require.NoError(t, d.tm.flushFrozen(mem.freeze()))

	man := d.tm.manifestSnapshot()
	require.Empty(t, man.Levels[0].Files)
}
