// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package silo provides an embedded, single-writer, persistent key/value
// store organized as a log-structured merge tree.
//
// A DB's basic operations (Get, Set, Delete) should be self-explanatory. Get
// returns ErrNotFound if the requested key is not in the store; callers are
// free to ignore this error.
//
// Every mutation is assigned a sequence number, appended to a write-ahead log
// and fsynced before it becomes visible, so acknowledged writes survive a
// process kill. The in-memory tier is an active memtable plus a queue of
// frozen memtables; a background worker drains the queue into L0 sstables and
// records them in the manifest.
package silo

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/silodb/silo/internal/base"
	"github.com/silodb/silo/wal"
)

// Exported aliases of the errors callers are expected to test for.
var (
	// ErrNotFound means the key is absent or deleted.
	ErrNotFound = base.ErrNotFound
	// ErrClosed is returned by operations on a closed DB.
	ErrClosed = base.ErrDBClosed
	// ErrLocked means another process has the database open.
	ErrLocked = base.ErrLocked
)

// DB is a silo database handle. A single goroutine may mutate it; Get may be
// called concurrently with mutations and with the background flusher.
type DB struct {
	opts    *Options
	dataDir string

	wal *wal.WAL
	tm  *tableManager

	// mem is the active memtable. Rotation publishes the frozen handle to the
	// queue before storing a fresh table, so readers never observe a gap.
	mem   atomic.Pointer[memTable]
	queue *frozenQueue

	// seqNum is the next sequence number to assign. Written under mu.
	seqNum uint64

	// mu serializes mutations (and WAL truncation against them).
	mu     sync.Mutex
	closed atomic.Bool

	flushC  chan struct{}
	stopC   chan struct{}
	flushWG sync.WaitGroup

	flushCount   int64
	flushRetries int64
}

// Open opens the database in dataDir, creating it (and its sstables/ and
// manifests/ subdirectories) as needed. The write-ahead log is replayed into
// the in-memory tier, skipping records already committed to sstables, and the
// background flush worker is started. Only one process may hold a database
// open; a second Open fails with ErrLocked.
func Open(dataDir string, opts *Options) (*DB, error) {
	opts = opts.EnsureDefaults()

	for _, dir := range []string{
		dataDir,
		filepath.Join(dataDir, "sstables"),
		filepath.Join(dataDir, "manifests"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create data dir")
		}
	}

	w, err := wal.Open(base.MakeFilepath(dataDir, base.FileTypeWAL, 0))
	if err != nil {
		return nil, err
	}
	w.SetCompactSize(opts.WALCompactSize)

	tm, err := openTableManager(dataDir, opts)
	if err != nil {
		_ = w.Close()
		return nil, err
	}

	d := &DB{
		opts:    opts,
		dataDir: dataDir,
		wal:     w,
		tm:      tm,
		queue:   newFrozenQueue(),
		flushC:  make(chan struct{}, 1),
		stopC:   make(chan struct{}),
	}
	d.mem.Store(newMemTable(opts.MemTableFreezeSize))

	if err := d.replayWAL(); err != nil {
		_ = tm.close()
		_ = w.Close()
		return nil, err
	}

	d.flushWG.Add(1)
	go d.flushLoop()
	if d.queue.depth() > 0 {
		d.signalFlush()
	}
	return d, nil
}

// replayWAL rebuilds the in-memory tier from the log. Records at or above the
// committed horizon are applied to a fresh active memtable, freezing into the
// queue whenever it crosses the threshold; the next sequence number ends up
// strictly above everything durable.
func (d *DB) replayWAL() error {
	recs, err := d.wal.Replay()
	if err != nil {
		return err
	}
	lastCommitted := d.tm.lastSeqNum()
	maxSeen := lastCommitted

	mem := d.mem.Load()
	for _, rec := range recs {
		if rec.Key.SeqNum < lastCommitted {
			continue
		}
		if rec.Key.SeqNum > maxSeen {
			maxSeen = rec.Key.SeqNum
		}
		mem.set(rec.Key, rec.Value)
		if mem.shouldFreeze() {
			d.queue.push(mem.freeze())
			mem = newMemTable(d.opts.MemTableFreezeSize)
			d.mem.Store(mem)
		}
	}
	d.seqNum = uint64(maxSeen) + 1
	return nil
}

// Get returns the value of key. The in-memory tiers are searched newest
// first: the active memtable, then the frozen queue back to front. The first
// version found wins; a tombstone terminates the search as ErrNotFound. The
// sstable tier is not yet consulted.
func (d *DB) Get(key []byte) ([]byte, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}

	if v, ok := d.mem.Load().getLatest(key); ok {
		return v.Interpret()
	}
	live := d.queue.live()
	for i := len(live) - 1; i >= 0; i-- {
		if v, ok := live[i].getLatest(key); ok {
			return v.Interpret()
		}
	}
	return nil, ErrNotFound
}

// Set maps key to value. The mutation is fsynced to the write-ahead log
// before it is applied to the memtable; if the append fails the store is
// unchanged and the error is returned.
func (d *DB) Set(key, value []byte) error {
	return d.apply(key, base.MakeValue(append([]byte(nil), value...)))
}

// Delete removes key by writing a tombstone at a fresh sequence number.
func (d *DB) Delete(key []byte) error {
	return d.apply(key, base.Tombstone)
}

func (d *DB) apply(key []byte, value base.Value) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return ErrClosed
	}

	ikey := base.MakeInternalKey(append([]byte(nil), key...), base.SeqNum(d.seqNum))
	if err := d.wal.Append(wal.Record{Key: ikey, Value: value}); err != nil {
		// The record is not durable: the seqno is not consumed and the
		// memtable is left untouched.
		return err
	}
	d.seqNum++
	d.mem.Load().set(ikey, value)
	d.maybeRotate()
	return nil
}

// maybeRotate freezes the active memtable when it (or the WAL) has outgrown
// its threshold, queues the frozen handle, and wakes the flusher. The WAL is
// not truncated here: that happens only after the flushed data is committed
// in the manifest.
func (d *DB) maybeRotate() {
	mem := d.mem.Load()
	if mem.empty() {
		return
	}
	if !mem.shouldFreeze() && !d.wal.ShouldCompact() {
		return
	}
	d.queue.push(mem.freeze())
	d.mem.Store(newMemTable(d.opts.MemTableFreezeSize))
	d.signalFlush()
}

// Close stops the flush worker, syncs and releases the write-ahead log and
// the catalog files, and marks the handle closed. Unflushed memtables are not
// lost: their records remain in the WAL and are replayed by the next Open.
func (d *DB) Close() error {
	d.mu.Lock()
	if d.closed.Swap(true) {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	close(d.stopC)
	d.flushWG.Wait()

	err := d.wal.Close()
	if terr := d.tm.close(); err == nil {
		err = terr
	}
	return err
}
