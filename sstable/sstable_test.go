// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/silodb/silo/internal/base"
)

func writeTable(t *testing.T, path string, opts WriterOptions, add func(w *Writer)) TableMeta {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	require.NoError(t, err)
	defer f.Close()

	w := NewWriter(f, opts)
	add(w)
	meta, err := w.Finish()
	require.NoError(t, err)
	return meta
}

func TestFooterRoundTrip(t *testing.T) {
	f := Footer{IndexOffset: 12345, IndexSize: 678}
	buf := f.Encode(nil)
	require.Len(t, buf, FooterLen)

	got, err := DecodeFooter(buf)
	require.NoError(t, err)
	require.Equal(t, f, got)

	// Corrupt the magic.
	binary.LittleEndian.PutUint32(buf[28:], 0xFEEDFACE)
	_, err = DecodeFooter(buf)
	require.True(t, errors.Is(err, base.ErrCorruption))
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.sstable")

	const n = 500
	meta := writeTable(t, path, WriterOptions{BlockSize: 256}, func(w *Writer) {
		for i := 0; i < n; i++ {
			key := base.MakeInternalKey([]byte(fmt.Sprintf("key%04d", i)), base.SeqNum(i+1))
			require.NoError(t, w.Add(key, base.MakeValue([]byte(fmt.Sprintf("val%04d", i)))))
		}
	})
	require.Equal(t, n, meta.Entries)
	require.Equal(t, "key0000#1", meta.Smallest.String())
	require.Equal(t, fmt.Sprintf("key%04d#%d", n-1, n), meta.Largest.String())

	st, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(meta.Size), st.Size())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	require.Greater(t, r.BlockCount(), 1)

	// Every entry comes back, in order.
	it := r.Iter()
	for i := 0; i < n; i++ {
		require.True(t, it.Next())
		require.Equal(t, fmt.Sprintf("key%04d", i), string(it.Key().UserKey))
		require.Equal(t, []byte(fmt.Sprintf("val%04d", i)), it.Value().Data)
	}
	require.False(t, it.Next())
	require.NoError(t, it.Error())

	// Point lookups.
	v, err := r.Get([]byte("key0123"))
	require.NoError(t, err)
	require.Equal(t, []byte("val0123"), v.Data)

	_, err = r.Get([]byte("missing"))
	require.True(t, errors.Is(err, base.ErrNotFound))
	_, err = r.Get([]byte("key9999"))
	require.True(t, errors.Is(err, base.ErrNotFound))
}

func TestGetFreshestVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.sstable")

	// Multiple versions of one user key: descending seqno order within the
	// table, so the freshest version is the first match.
	writeTable(t, path, WriterOptions{}, func(w *Writer) {
		require.NoError(t, w.Add(base.MakeInternalKey([]byte("k"), 9), base.MakeValue([]byte("new"))))
		require.NoError(t, w.Add(base.MakeInternalKey([]byte("k"), 5), base.MakeValue([]byte("mid"))))
		require.NoError(t, w.Add(base.MakeInternalKey([]byte("k"), 1), base.MakeValue([]byte("old"))))
		require.NoError(t, w.Add(base.MakeInternalKey([]byte("l"), 3), base.Tombstone))
	})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	v, err := r.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), v.Data)

	// A tombstone is returned as a value; interpreting it is the caller's
	// concern.
	v, err = r.Get([]byte("l"))
	require.NoError(t, err)
	require.Equal(t, base.ValueKindTombstone, v.Kind)
}

func TestOversizedEntryMakesOversizedBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.sstable")

	big := make([]byte, 4096)
	for i := range big {
		big[i] = byte(i)
	}
	writeTable(t, path, WriterOptions{BlockSize: 64}, func(w *Writer) {
		require.NoError(t, w.Add(base.MakeInternalKey([]byte("a"), 1), base.MakeValue(big)))
		require.NoError(t, w.Add(base.MakeInternalKey([]byte("b"), 2), base.MakeValue([]byte("small"))))
	})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	v, err := r.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, big, v.Data)
	v, err = r.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("small"), v.Data)
}

func TestFinishEmpty(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "empty.sstable"))
	require.NoError(t, err)
	defer f.Close()

	w := NewWriter(f, WriterOptions{})
	_, err = w.Finish()
	require.True(t, errors.Is(err, ErrEmptyTable))
}

func TestEstimatedSizeMatchesFinish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.sstable")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := NewWriter(f, WriterOptions{BlockSize: 128})
	for i := 0; i < 64; i++ {
		key := base.MakeInternalKey([]byte(fmt.Sprintf("k%02d", i)), base.SeqNum(i+1))
		require.NoError(t, w.Add(key, base.MakeValue([]byte("0123456789"))))
	}
	est := w.EstimatedSize()
	meta, err := w.Finish()
	require.NoError(t, err)
	require.Equal(t, est, meta.Size)
}

func TestOpenRejectsGarbage(t *testing.T) {
	dir := t.TempDir()

	// Too short to hold a footer.
	short := filepath.Join(dir, "short.sstable")
	require.NoError(t, os.WriteFile(short, []byte("tiny"), 0o644))
	_, err := Open(short)
	require.True(t, errors.Is(err, base.ErrCorruption))

	// Garbage larger than a footer, with no magic.
	junk := filepath.Join(dir, "junk.sstable")
	require.NoError(t, os.WriteFile(junk, make([]byte, 64), 0o644))
	_, err = Open(junk)
	require.True(t, errors.Is(err, base.ErrCorruption))
}
