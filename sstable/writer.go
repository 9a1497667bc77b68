// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import (
	"os"

	"github.com/cockroachdb/errors"

	"github.com/silodb/silo/internal/base"
)

// ErrEmptyTable is returned by Finish when no entries were added.
var ErrEmptyTable = errors.New("sstable: no entries")

// WriterOptions tunes a Writer. Zero values take defaults.
type WriterOptions struct {
	// BlockSize is the target data-block size.
	BlockSize int
}

func (o WriterOptions) ensureDefaults() WriterOptions {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	return o
}

// Writer builds one sstable from entries added in ascending internal-key
// order. The caller decides when to stop adding (the per-level file budget
// lives in the table manager); Finish writes the index and footer.
type Writer struct {
	f    *os.File
	opts WriterOptions

	block   []byte
	offset  uint64
	meta    []BlockMeta
	lastKey base.InternalKey

	smallest base.InternalKey
	largest  base.InternalKey
	entries  int
}

// NewWriter wraps an empty file opened for writing.
func NewWriter(f *os.File, opts WriterOptions) *Writer {
	return &Writer{f: f, opts: opts.ensureDefaults()}
}

// Add appends one entry. Keys must arrive in strictly ascending internal-key
// order; this is not rechecked, the memtable iteration supplies it.
func (w *Writer) Add(key base.InternalKey, value base.Value) error {
	if w.entries == 0 {
		w.smallest = key.Clone()
	}
	w.lastKey = key.Clone()
	w.largest = w.lastKey
	w.entries++

	w.block = key.Encode(w.block)
	w.block = value.Encode(w.block)

	if len(w.block) >= w.opts.BlockSize {
		return w.flushBlock()
	}
	return nil
}

func (w *Writer) flushBlock() error {
	if len(w.block) == 0 {
		return nil
	}
	meta := BlockMeta{
		LastKey: w.lastKey,
		Offset:  w.offset,
		Size:    uint32(len(w.block)),
	}
	if _, err := w.f.Write(w.block); err != nil {
		return errors.Wrap(err, "sstable: write block")
	}
	w.offset += uint64(len(w.block))
	w.meta = append(w.meta, meta)
	w.block = w.block[:0]
	return nil
}

// EstimatedSize returns the projected final file size were Finish called now:
// data written, the open block, the index block, and the footer.
func (w *Writer) EstimatedSize() uint64 {
	blocks := w.meta
	if len(w.block) > 0 {
		// The open block adds one index entry.
		blocks = append(blocks, BlockMeta{LastKey: w.lastKey})
	}
	return w.offset + uint64(len(w.block)) + uint64(indexBlockLen(blocks)) + FooterLen
}

// EntryCount returns the number of entries added so far.
func (w *Writer) EntryCount() int { return w.entries }

// TableMeta summarizes a finished table.
type TableMeta struct {
	Size     uint64
	Smallest base.InternalKey
	Largest  base.InternalKey
	Entries  int
}

// Finish flushes the final partial block, writes the index block and footer,
// and fsyncs. The file handle remains owned by the caller.
func (w *Writer) Finish() (TableMeta, error) {
	if w.entries == 0 {
		return TableMeta{}, ErrEmptyTable
	}
	if err := w.flushBlock(); err != nil {
		return TableMeta{}, err
	}

	index := encodeIndexBlock(make([]byte, 0, indexBlockLen(w.meta)), w.meta)
	if _, err := w.f.Write(index); err != nil {
		return TableMeta{}, errors.Wrap(err, "sstable: write index block")
	}

	footer := Footer{IndexOffset: w.offset, IndexSize: uint64(len(index))}
	if _, err := w.f.Write(footer.Encode(make([]byte, 0, FooterLen))); err != nil {
		return TableMeta{}, errors.Wrap(err, "sstable: write footer")
	}
	if err := w.f.Sync(); err != nil {
		return TableMeta{}, errors.Wrap(err, "sstable: sync")
	}

	return TableMeta{
		Size:     w.offset + uint64(len(index)) + FooterLen,
		Smallest: w.smallest,
		Largest:  w.largest,
		Entries:  w.entries,
	}, nil
}
