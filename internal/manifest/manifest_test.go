// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package manifest

import (
	"testing"

	"github.com/kr/pretty"
	"github.com/stretchr/testify/require"

	"github.com/silodb/silo/internal/base"
)

func meta(fn base.FileNum, size uint64, smallest, largest string, lo, hi base.SeqNum) FileMeta {
	return FileMeta{
		FileNum:  fn,
		Size:     size,
		Smallest: base.MakeInternalKey([]byte(smallest), hi),
		Largest:  base.MakeInternalKey([]byte(largest), lo),
	}
}

func TestNewHasL0(t *testing.T) {
	m := New()
	require.Contains(t, m.Levels, Level(0))
	require.Empty(t, m.Levels[0].Files)
	require.Equal(t, base.FileNum(0), m.NextFileNum)
	require.Equal(t, base.SeqNum(0), m.LastSeqNum)
}

func TestAllocFileNum(t *testing.T) {
	m := New()
	fn, rec := m.AllocFileNum()
	require.Equal(t, base.FileNum(0), fn)
	require.Equal(t, RecordAllocFileNum, rec.Kind)
	require.Equal(t, base.FileNum(1), m.NextFileNum)

	// Replaying the alloc record onto a fresh manifest advances past the
	// allocated number.
	fresh := New()
	fresh.Apply(rec)
	require.Equal(t, base.FileNum(1), fresh.NextFileNum)

	// Applying a stale alloc never lowers the counter.
	fresh.NextFileNum = 10
	fresh.Apply(rec)
	require.Equal(t, base.FileNum(10), fresh.NextFileNum)
}

func TestApply(t *testing.T) {
	m := New()

	f := meta(3, 128, "a", "m", 1, 9)
	m.Apply(Record{Kind: RecordCreateFile, Level: 0, File: f})
	require.Len(t, m.Levels[0].Files, 1)

	m.Apply(Record{Kind: RecordSetLastSeqNum, SeqNum: 9})
	require.Equal(t, base.SeqNum(9), m.LastSeqNum)
	// SetLastSeqNum is a max-merge: stale values are ignored.
	m.Apply(Record{Kind: RecordSetLastSeqNum, SeqNum: 4})
	require.Equal(t, base.SeqNum(9), m.LastSeqNum)

	m.Apply(Record{Kind: RecordDeleteFile, Level: 0, FileNum: 3})
	require.Empty(t, m.Levels[0].Files)

	// Deleting from an untouched level materializes it empty rather than
	// exploding.
	m.Apply(Record{Kind: RecordDeleteFile, Level: 2, FileNum: 99})
	require.Contains(t, m.Levels, Level(2))
}

func TestSnapshotReplacesWholesale(t *testing.T) {
	m := New()
	m.Apply(Record{Kind: RecordCreateFile, Level: 0, File: meta(1, 10, "x", "y", 1, 2)})

	snap := New()
	snap.NextFileNum = 7
	snap.LastSeqNum = 42
	snap.Apply(Record{Kind: RecordCreateFile, Level: 1, File: meta(5, 99, "a", "b", 3, 4)})

	m.Apply(Record{Kind: RecordSnapshot, Snapshot: snap})
	require.Equal(t, base.FileNum(7), m.NextFileNum)
	require.Equal(t, base.SeqNum(42), m.LastSeqNum)
	require.Empty(t, m.Levels[0].Files)
	require.Len(t, m.Levels[1].Files, 1)

	// The applied copy is deep: mutating the source snapshot afterwards must
	// not leak through.
	snap.Levels[1].Files[5].Size = 1
	require.Equal(t, uint64(99), m.Levels[1].Files[5].Size)
}

func TestRecordRoundTrip(t *testing.T) {
	snap := New()
	snap.NextFileNum = 12
	snap.LastSeqNum = 100
	snap.Apply(Record{Kind: RecordCreateFile, Level: 0, File: meta(4, 2048, "aaa", "zzz", 50, 90)})
	snap.Apply(Record{Kind: RecordCreateFile, Level: 0, File: meta(9, 512, "b", "c", 91, 100)})
	snap.Apply(Record{Kind: RecordCreateFile, Level: 1, File: meta(2, 1<<20, "a", "q", 1, 49)})

	recs := []Record{
		{Kind: RecordSnapshot, Snapshot: snap},
		{Kind: RecordCreateFile, Level: 0, File: meta(13, 64, "k", "k", 101, 101)},
		{Kind: RecordDeleteFile, Level: 0, FileNum: 4},
		{Kind: RecordSetLastSeqNum, SeqNum: 101},
		{Kind: RecordAllocFileNum, FileNum: 13},
	}

	for _, rec := range recs {
		payload := rec.Encode(nil)
		got, err := DecodeRecord(payload)
		require.NoError(t, err)
		require.Equal(t, rec.Kind, got.Kind)

		switch rec.Kind {
		case RecordSnapshot:
			if diff := pretty.Diff(rec.Snapshot, got.Snapshot); len(diff) > 0 {
				t.Fatalf("snapshot round trip:\n%v", diff)
			}
		case RecordCreateFile:
			require.Equal(t, rec.Level, got.Level)
			require.Equal(t, rec.File.FileNum, got.File.FileNum)
			require.Equal(t, rec.File.Size, got.File.Size)
			require.Equal(t, rec.File.Smallest.String(), got.File.Smallest.String())
			require.Equal(t, rec.File.Largest.String(), got.File.Largest.String())
		case RecordDeleteFile:
			require.Equal(t, rec.Level, got.Level)
			require.Equal(t, rec.FileNum, got.FileNum)
		case RecordSetLastSeqNum:
			require.Equal(t, rec.SeqNum, got.SeqNum)
		case RecordAllocFileNum:
			require.Equal(t, rec.FileNum, got.FileNum)
		}
	}
}

func TestReplayDeterminism(t *testing.T) {
	// Applying the records in order from the most recent snapshot yields the
	// same manifest on every replay.
	snap := New()
	snap.NextFileNum = 3
	snap.Apply(Record{Kind: RecordCreateFile, Level: 0, File: meta(1, 10, "a", "f", 1, 5)})

	var payloads [][]byte
	for _, rec := range []Record{
		{Kind: RecordSnapshot, Snapshot: snap},
		{Kind: RecordAllocFileNum, FileNum: 3},
		{Kind: RecordCreateFile, Level: 0, File: meta(3, 20, "g", "p", 6, 11)},
		{Kind: RecordSetLastSeqNum, SeqNum: 11},
	} {
		payloads = append(payloads, rec.Encode(nil))
	}

	m1, err := Replay(payloads)
	require.NoError(t, err)
	m2, err := Replay(payloads)
	require.NoError(t, err)
	if diff := pretty.Diff(m1, m2); len(diff) > 0 {
		t.Fatalf("replay is not deterministic:\n%v", diff)
	}

	require.Equal(t, base.FileNum(4), m1.NextFileNum)
	require.Equal(t, base.SeqNum(11), m1.LastSeqNum)
	require.Len(t, m1.Levels[0].Files, 2)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := DecodeRecord(nil)
	require.Error(t, err)

	_, err = DecodeRecord([]byte{0xff, 0x01})
	require.Error(t, err)

	// Trailing junk after a well-formed record body is corruption.
	payload := Record{Kind: RecordSetLastSeqNum, SeqNum: 1}.Encode(nil)
	_, err = DecodeRecord(append(payload, 0x00))
	require.Error(t, err)
}
