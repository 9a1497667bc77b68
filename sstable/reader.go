// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import (
	"bytes"
	"io"
	"os"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/silodb/silo/internal/base"
)

// Reader reads a finished sstable: it validates the footer magic on open,
// decodes the index block, and serves block reads on demand.
type Reader struct {
	f     *os.File
	path  string
	size  int64
	index []BlockMeta
}

// Open opens path, validates the footer, and loads the index. A bad magic or
// an index entry pointing outside the data region is fatal for the file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "sstable: open")
	}
	r := &Reader{f: f, path: path}
	if err := r.init(); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "sstable: %s", path)
	}
	return r, nil
}

func (r *Reader) init() error {
	st, err := r.f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat")
	}
	r.size = st.Size()
	if r.size < FooterLen {
		return errors.Wrapf(base.ErrCorruption, "file is %d bytes, smaller than the footer", r.size)
	}

	buf := make([]byte, FooterLen)
	if _, err := r.f.ReadAt(buf, r.size-FooterLen); err != nil {
		return errors.Wrap(err, "read footer")
	}
	footer, err := DecodeFooter(buf)
	if err != nil {
		return err
	}
	if footer.IndexOffset+footer.IndexSize > uint64(r.size-FooterLen) {
		return errors.Wrapf(base.ErrCorruption,
			"index [%d, %d) lies outside the file", footer.IndexOffset, footer.IndexOffset+footer.IndexSize)
	}

	ibuf := make([]byte, footer.IndexSize)
	if _, err := r.f.ReadAt(ibuf, int64(footer.IndexOffset)); err != nil {
		return errors.Wrap(err, "read index block")
	}
	index, err := decodeIndexBlock(ibuf)
	if err != nil {
		return err
	}
	for i := range index {
		end := index[i].Offset + uint64(index[i].Size)
		if end > footer.IndexOffset {
			return errors.Wrapf(base.ErrCorruption,
				"block %d [%d, %d) overlaps the index at %d", i, index[i].Offset, end, footer.IndexOffset)
		}
	}
	r.index = index
	return nil
}

// Path returns the file path the reader was opened with.
func (r *Reader) Path() string { return r.path }

// BlockCount returns the number of data blocks.
func (r *Reader) BlockCount() int { return len(r.index) }

// readBlock reads and returns the i'th data block.
func (r *Reader) readBlock(i int) ([]byte, error) {
	meta := r.index[i]
	buf := make([]byte, meta.Size)
	if _, err := r.f.ReadAt(buf, int64(meta.Offset)); err != nil {
		return nil, errors.Wrapf(err, "sstable: read block %d", i)
	}
	return buf, nil
}

// Get returns the value of the freshest version of userKey stored in this
// table, which may be a tombstone. It returns base.ErrNotFound when the table
// holds no version of userKey at all.
func (r *Reader) Get(userKey []byte) (base.Value, error) {
	search := base.MakeSearchKey(userKey)
	// The first block whose last key is >= the search key is the only block
	// that can hold the freshest version.
	i := sort.Search(len(r.index), func(i int) bool {
		return base.InternalCompare(r.index[i].LastKey, search) >= 0
	})
	if i == len(r.index) {
		return base.Value{}, base.ErrNotFound
	}
	block, err := r.readBlock(i)
	if err != nil {
		return base.Value{}, err
	}
	for len(block) > 0 {
		key, rest, err := base.DecodeInternalKey(block)
		if err != nil {
			return base.Value{}, err
		}
		value, rest, err := base.DecodeValue(rest)
		if err != nil {
			return base.Value{}, err
		}
		if base.InternalCompare(key, search) >= 0 {
			if bytes.Equal(key.UserKey, userKey) {
				return value, nil
			}
			break
		}
		block = rest
	}
	return base.Value{}, base.ErrNotFound
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// Iter returns an iterator over every entry of the table in key order.
type Iter struct {
	r     *Reader
	block []byte
	next  int
	key   base.InternalKey
	value base.Value
	err   error
	valid bool
}

// Iter returns an unpositioned iterator; call Next to advance onto the first
// entry.
func (r *Reader) Iter() *Iter {
	return &Iter{r: r}
}

// Next advances to the next entry, loading blocks as needed. It returns false
// at the end of the table or on error.
func (i *Iter) Next() bool {
	i.valid = false
	for len(i.block) == 0 {
		if i.err != nil || i.next >= len(i.r.index) {
			return false
		}
		i.block, i.err = i.r.readBlock(i.next)
		i.next++
		if i.err != nil {
			return false
		}
	}
	var rest []byte
	i.key, rest, i.err = base.DecodeInternalKey(i.block)
	if i.err != nil {
		return false
	}
	i.value, rest, i.err = base.DecodeValue(rest)
	if i.err != nil {
		return false
	}
	i.block = rest
	i.valid = true
	return true
}

// Key returns the current entry's internal key.
func (i *Iter) Key() base.InternalKey { return i.key }

// Value returns the current entry's value.
func (i *Iter) Value() base.Value { return i.value }

// Valid reports whether the iterator is positioned at an entry.
func (i *Iter) Valid() bool { return i.valid }

// Error returns the first error the iterator encountered, if any.
func (i *Iter) Error() error {
	if i.err == io.EOF {
		return nil
	}
	return i.err
}

// tableIter adapts Iter to base.InternalIterator so the table can feed
// iterator compositions such as base.CollapseIter.
type tableIter struct {
	r  *Reader
	it *Iter
}

// NewInternalIter returns a base.InternalIterator over the table's entries.
func (r *Reader) NewInternalIter() base.InternalIterator {
	return &tableIter{r: r}
}

func (t *tableIter) First() {
	t.it = t.r.Iter()
	t.it.Next()
}

func (t *tableIter) Next() {
	if t.it != nil {
		t.it.Next()
	}
}

func (t *tableIter) Valid() bool { return t.it != nil && t.it.Valid() }

func (t *tableIter) Key() base.InternalKey { return t.it.Key() }

func (t *tableIter) Value() base.Value { return t.it.Value() }
