// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package wal implements the write-ahead log: an append-only, fsync-on-append
// stream of framed mutation records. Every record is durable before the
// corresponding mutation is acknowledged, which is the anchor of the store's
// crash-consistency story.
package wal

import (
	"bufio"
	"io"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/silodb/silo/internal/base"
	"github.com/silodb/silo/record"
)

// DefaultCompactSize is the file size beyond which the WAL asks to be
// compacted (the owning database rotates the memtable so the log can
// eventually be truncated).
const DefaultCompactSize = 64 << 10

// A Record is one logged mutation: a put carries a Data value, a delete
// carries a Tombstone. The body encoding is identical to an SSTable entry:
//
//	internal_key | value
type Record struct {
	Key   base.InternalKey
	Value base.Value
}

// Encode appends the record body (frame payload) to buf.
func (r Record) Encode(buf []byte) []byte {
	buf = r.Key.Encode(buf)
	return r.Value.Encode(buf)
}

// DecodeRecord decodes a record body. The whole payload must be consumed.
func DecodeRecord(payload []byte) (Record, error) {
	key, rest, err := base.DecodeInternalKey(payload)
	if err != nil {
		return Record{}, errors.Wrap(err, "wal: record key")
	}
	value, rest, err := base.DecodeValue(rest)
	if err != nil {
		return Record{}, errors.Wrap(err, "wal: record value")
	}
	if len(rest) != 0 {
		return Record{}, errors.Wrapf(base.ErrCorruption,
			"wal: %d trailing bytes in record", len(rest))
	}
	return Record{Key: key, Value: value}, nil
}

// WAL is an append-only record log backed by a single file. The file is
// opened in append mode and exclusively advisory-locked for the lifetime of
// the WAL; appends are serialized by the single-writer discipline, so no
// internal locking is needed.
type WAL struct {
	file *os.File
	path string
	// size is the byte length of the valid record stream; len is the record
	// count. Both are recomputed by scanning the file at open.
	size        int64
	len         int
	compactSize int64
}

// Open opens (creating if necessary) and locks the WAL at path, then scans it
// to recover the stream size and record count. A scan that ends inside a
// frame or record body fails with corruption: the database refuses to open.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "wal: open")
	}
	if err := base.LockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	w := &WAL{file: f, path: path, compactSize: DefaultCompactSize}
	if err := w.readStats(); err != nil {
		_ = base.UnlockFile(f)
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func (w *WAL) readStats() error {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "wal: seek")
	}
	r := bufio.NewReader(w.file)
	var size int64
	var n int
	for {
		payload, err := record.Read(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if _, err := DecodeRecord(payload); err != nil {
			return err
		}
		size += 4 + int64(len(payload))
		n++
	}
	w.size = size
	w.len = n
	return nil
}

// Append serializes rec, writes one frame, and fsyncs. The record is not
// durable, and must not be acknowledged, unless Append returns nil.
func (w *WAL) Append(rec Record) error {
	payload := rec.Encode(make([]byte, 0, rec.Key.EncodedLen()+rec.Value.EncodedLen()))
	n, err := record.Write(w.file, payload)
	if err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return errors.Wrap(err, "wal: sync")
	}
	w.size += int64(n)
	w.len++
	return nil
}

// Replay rewinds to the start of the file and returns the decoded record
// stream. The scan stops cleanly at EOF; a decode error mid-stream is fatal.
func (w *WAL) Replay() ([]Record, error) {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "wal: seek")
	}
	payloads, err := record.ReadAll(bufio.NewReader(w.file))
	if err != nil {
		return nil, err
	}
	recs := make([]Record, 0, len(payloads))
	for _, p := range payloads {
		rec, err := DecodeRecord(p)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// ShouldCompact reports whether the log has outgrown its size threshold.
func (w *WAL) ShouldCompact() bool {
	return w.size > w.compactSize
}

// SetCompactSize overrides the compaction threshold. Zero restores the
// default.
func (w *WAL) SetCompactSize(n int64) {
	if n <= 0 {
		n = DefaultCompactSize
	}
	w.compactSize = n
}

// Clear truncates the log to zero length and resets the counters. Only legal
// once every record the log holds has been durably committed elsewhere.
func (w *WAL) Clear() error {
	if err := w.file.Truncate(0); err != nil {
		return errors.Wrap(err, "wal: truncate")
	}
	if err := w.file.Sync(); err != nil {
		return errors.Wrap(err, "wal: sync after truncate")
	}
	w.size = 0
	w.len = 0
	return nil
}

// Size returns the byte length of the record stream.
func (w *WAL) Size() int64 { return w.size }

// Len returns the number of records in the log.
func (w *WAL) Len() int { return w.len }

// Close fsyncs, releases the advisory lock, and closes the file.
func (w *WAL) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Sync()
	if uerr := base.UnlockFile(w.file); err == nil {
		err = uerr
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	return err
}
