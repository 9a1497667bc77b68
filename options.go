// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package silo

import (
	"github.com/silodb/silo/internal/base"
	"github.com/silodb/silo/sstable"
)

const (
	// defaultMemTableFreezeSize is the active memtable size at which it
	// becomes eligible to freeze.
	defaultMemTableFreezeSize = 64 << 10

	// defaultWALCompactSize is the WAL size beyond which the memtable is
	// rotated so the log can eventually be truncated.
	defaultWALCompactSize = 64 << 10

	// defaultL0TargetFileSize is the size budget of an L0 sstable produced by
	// a flush.
	defaultL0TargetFileSize = 64 << 20

	// defaultLevelSizeRatio is the per-level growth factor:
	// budget(L) = L0 budget * ratio^L.
	defaultLevelSizeRatio = 10
)

// Options holds the optional parameters for Open. A nil *Options, and any
// zero field of a non-nil *Options, means the default value.
type Options struct {
	// MemTableFreezeSize is the byte-size estimate at which the active
	// memtable is frozen and queued for flush.
	MemTableFreezeSize int

	// WALCompactSize is the WAL byte size beyond which the active memtable is
	// rotated even if it has not reached MemTableFreezeSize.
	WALCompactSize int64

	// BlockSize is the target sstable data-block size.
	BlockSize int

	// L0TargetFileSize is the size budget of one flushed L0 sstable. A frozen
	// memtable whose projected output exceeds it is split into several files.
	L0TargetFileSize uint64

	// LevelSizeRatio is the per-level file-size growth factor.
	LevelSizeRatio uint64

	// Logger receives background-error and lifecycle messages.
	Logger base.Logger
}

// EnsureDefaults fills in any zero field with its default, returning the
// receiver (or a fresh Options when nil) for convenience.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.MemTableFreezeSize <= 0 {
		o.MemTableFreezeSize = defaultMemTableFreezeSize
	}
	if o.WALCompactSize <= 0 {
		o.WALCompactSize = defaultWALCompactSize
	}
	if o.BlockSize <= 0 {
		o.BlockSize = sstable.DefaultBlockSize
	}
	if o.L0TargetFileSize == 0 {
		o.L0TargetFileSize = defaultL0TargetFileSize
	}
	if o.LevelSizeRatio == 0 {
		o.LevelSizeRatio = defaultLevelSizeRatio
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger()
	}
	return o
}

// targetFileSize returns the per-level sstable size budget:
// L0TargetFileSize * LevelSizeRatio^level.
func (o *Options) targetFileSize(level uint32) uint64 {
	size := o.L0TargetFileSize
	for i := uint32(0); i < level; i++ {
		size *= o.LevelSizeRatio
	}
	return size
}
