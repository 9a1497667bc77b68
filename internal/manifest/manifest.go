// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package manifest defines the database catalog: the set of live SSTables per
// level, the next file number, and the last committed sequence number. The
// catalog evolves as an append-only log of deltas; applying the log from the
// most recent snapshot is deterministic and yields the same catalog on every
// replay.
package manifest

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"

	"github.com/silodb/silo/internal/base"
)

// Level identifies a tier of the LSM tree. L0 is the flush target and the
// only level whose files may overlap in user-key range.
type Level uint32

// FileMeta describes one live SSTable. Smallest and Largest are internal
// keys: the first and last entries of the file.
type FileMeta struct {
	FileNum  base.FileNum
	Size     uint64
	Smallest base.InternalKey
	Largest  base.InternalKey
}

func (f *FileMeta) String() string {
	return fmt.Sprintf("%s: %d bytes [%s, %s]", f.FileNum, f.Size, f.Smallest, f.Largest)
}

// LevelMeta is the set of live files in one level.
type LevelMeta struct {
	Level Level
	Files map[base.FileNum]*FileMeta
}

// SortedFiles returns the level's files ordered by file number.
func (l *LevelMeta) SortedFiles() []*FileMeta {
	files := make([]*FileMeta, 0, len(l.Files))
	for _, f := range l.Files {
		files = append(files, f)
	}
	slices.SortFunc(files, func(a, b *FileMeta) bool { return a.FileNum < b.FileNum })
	return files
}

// Manifest is the in-memory catalog.
type Manifest struct {
	// NextFileNum is strictly greater than every file number ever allocated
	// in this database's history.
	NextFileNum base.FileNum

	// LastSeqNum is the last committed sequence number: every mutation with a
	// seqno at or below it is durable in some SSTable. It never decreases.
	LastSeqNum base.SeqNum

	Levels map[Level]*LevelMeta
}

// New returns an empty manifest. Level 0 is always present, even when empty.
func New() *Manifest {
	return &Manifest{
		Levels: map[Level]*LevelMeta{
			0: {Level: 0, Files: map[base.FileNum]*FileMeta{}},
		},
	}
}

func (m *Manifest) level(l Level) *LevelMeta {
	lm, ok := m.Levels[l]
	if !ok {
		lm = &LevelMeta{Level: l, Files: map[base.FileNum]*FileMeta{}}
		m.Levels[l] = lm
	}
	return lm
}

// SortedLevels returns the levels in ascending order.
func (m *Manifest) SortedLevels() []*LevelMeta {
	levels := make([]*LevelMeta, 0, len(m.Levels))
	for _, lm := range m.Levels {
		levels = append(levels, lm)
	}
	slices.SortFunc(levels, func(a, b *LevelMeta) bool { return a.Level < b.Level })
	return levels
}

// FileNums returns the numbers of every file referenced by the manifest,
// across all levels.
func (m *Manifest) FileNums() map[base.FileNum]bool {
	nums := make(map[base.FileNum]bool)
	for _, lm := range m.Levels {
		for fn := range lm.Files {
			nums[fn] = true
		}
	}
	return nums
}

// AllocFileNum hands out the next file number and returns the record that
// must be durably logged before any file bearing the number is created.
func (m *Manifest) AllocFileNum() (base.FileNum, Record) {
	fn := m.NextFileNum
	m.NextFileNum++
	return fn, Record{Kind: RecordAllocFileNum, FileNum: fn}
}

// Clone returns a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	c := &Manifest{
		NextFileNum: m.NextFileNum,
		LastSeqNum:  m.LastSeqNum,
		Levels:      make(map[Level]*LevelMeta, len(m.Levels)),
	}
	for l, lm := range m.Levels {
		files := make(map[base.FileNum]*FileMeta, len(lm.Files))
		for fn, f := range lm.Files {
			fc := *f
			fc.Smallest = f.Smallest.Clone()
			fc.Largest = f.Largest.Clone()
			files[fn] = &fc
		}
		c.Levels[l] = &LevelMeta{Level: l, Files: files}
	}
	return c
}

// Apply folds one record into the manifest. Application is deterministic:
// replaying the same record stream always yields the same catalog.
func (m *Manifest) Apply(rec Record) {
	switch rec.Kind {
	case RecordSnapshot:
		*m = *rec.Snapshot.Clone()
	case RecordCreateFile:
		f := rec.File
		m.level(rec.Level).Files[f.FileNum] = &f
	case RecordDeleteFile:
		delete(m.level(rec.Level).Files, rec.FileNum)
	case RecordSetLastSeqNum:
		if rec.SeqNum > m.LastSeqNum {
			m.LastSeqNum = rec.SeqNum
		}
	case RecordAllocFileNum:
		if rec.FileNum+1 > m.NextFileNum {
			m.NextFileNum = rec.FileNum + 1
		}
	}
}

// RecordKind tags a manifest record. The numeric values are part of the file
// format and must not change.
type RecordKind uint8

const (
	RecordSnapshot RecordKind = iota
	RecordCreateFile
	RecordDeleteFile
	RecordSetLastSeqNum
	RecordAllocFileNum
)

func (k RecordKind) String() string {
	switch k {
	case RecordSnapshot:
		return "Snapshot"
	case RecordCreateFile:
		return "CreateFile"
	case RecordDeleteFile:
		return "DeleteFile"
	case RecordSetLastSeqNum:
		return "SetLastSeqNum"
	case RecordAllocFileNum:
		return "AllocFileNum"
	}
	return fmt.Sprintf("Unknown(%d)", uint8(k))
}

// Record is one catalog delta. Which fields are meaningful depends on Kind:
//
//	Snapshot       Snapshot
//	CreateFile     Level, File
//	DeleteFile     Level, FileNum
//	SetLastSeqNum  SeqNum
//	AllocFileNum   FileNum
type Record struct {
	Kind     RecordKind
	Snapshot *Manifest
	Level    Level
	File     FileMeta
	FileNum  base.FileNum
	SeqNum   base.SeqNum
}

func encodeFileMeta(buf []byte, f *FileMeta) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(f.FileNum))
	buf = binary.LittleEndian.AppendUint64(buf, f.Size)
	buf = f.Smallest.Encode(buf)
	return f.Largest.Encode(buf)
}

func decodeFileMeta(buf []byte) (FileMeta, []byte, error) {
	if len(buf) < 16 {
		return FileMeta{}, nil, errors.Wrap(base.ErrCorruption, "manifest: truncated file meta")
	}
	var f FileMeta
	f.FileNum = base.FileNum(binary.LittleEndian.Uint64(buf))
	f.Size = binary.LittleEndian.Uint64(buf[8:])
	buf = buf[16:]

	var err error
	if f.Smallest, buf, err = base.DecodeInternalKey(buf); err != nil {
		return FileMeta{}, nil, errors.Wrap(err, "manifest: file meta smallest key")
	}
	if f.Largest, buf, err = base.DecodeInternalKey(buf); err != nil {
		return FileMeta{}, nil, errors.Wrap(err, "manifest: file meta largest key")
	}
	return f, buf, nil
}

func encodeManifest(buf []byte, m *Manifest) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.NextFileNum))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.LastSeqNum))
	levels := m.SortedLevels()
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(levels)))
	for _, lm := range levels {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(lm.Level))
		files := lm.SortedFiles()
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(files)))
		for _, f := range files {
			buf = encodeFileMeta(buf, f)
		}
	}
	return buf
}

func decodeManifest(buf []byte) (*Manifest, []byte, error) {
	if len(buf) < 20 {
		return nil, nil, errors.Wrap(base.ErrCorruption, "manifest: truncated snapshot")
	}
	m := New()
	m.NextFileNum = base.FileNum(binary.LittleEndian.Uint64(buf))
	m.LastSeqNum = base.SeqNum(binary.LittleEndian.Uint64(buf[8:]))
	levelCount := binary.LittleEndian.Uint32(buf[16:])
	buf = buf[20:]

	for i := uint32(0); i < levelCount; i++ {
		if len(buf) < 8 {
			return nil, nil, errors.Wrap(base.ErrCorruption, "manifest: truncated level meta")
		}
		level := Level(binary.LittleEndian.Uint32(buf))
		fileCount := binary.LittleEndian.Uint32(buf[4:])
		buf = buf[8:]

		lm := m.level(level)
		for j := uint32(0); j < fileCount; j++ {
			f, rest, err := decodeFileMeta(buf)
			if err != nil {
				return nil, nil, err
			}
			f.Smallest = f.Smallest.Clone()
			f.Largest = f.Largest.Clone()
			fc := f
			lm.Files[f.FileNum] = &fc
			buf = rest
		}
	}
	return m, buf, nil
}

// Encode appends the record's byte encoding (a framed-log payload) to buf.
func (r Record) Encode(buf []byte) []byte {
	buf = append(buf, byte(r.Kind))
	switch r.Kind {
	case RecordSnapshot:
		buf = encodeManifest(buf, r.Snapshot)
	case RecordCreateFile:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(r.Level))
		buf = encodeFileMeta(buf, &r.File)
	case RecordDeleteFile:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(r.Level))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(r.FileNum))
	case RecordSetLastSeqNum:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(r.SeqNum))
	case RecordAllocFileNum:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(r.FileNum))
	}
	return buf
}

// DecodeRecord decodes one record body. The whole payload must be consumed.
func DecodeRecord(payload []byte) (Record, error) {
	if len(payload) < 1 {
		return Record{}, errors.Wrap(base.ErrCorruption, "manifest: empty record")
	}
	rec := Record{Kind: RecordKind(payload[0])}
	buf := payload[1:]

	var err error
	switch rec.Kind {
	case RecordSnapshot:
		rec.Snapshot, buf, err = decodeManifest(buf)
		if err != nil {
			return Record{}, err
		}
	case RecordCreateFile:
		if len(buf) < 4 {
			return Record{}, errors.Wrap(base.ErrCorruption, "manifest: truncated CreateFile")
		}
		rec.Level = Level(binary.LittleEndian.Uint32(buf))
		rec.File, buf, err = decodeFileMeta(buf[4:])
		if err != nil {
			return Record{}, err
		}
		rec.File.Smallest = rec.File.Smallest.Clone()
		rec.File.Largest = rec.File.Largest.Clone()
	case RecordDeleteFile:
		if len(buf) < 12 {
			return Record{}, errors.Wrap(base.ErrCorruption, "manifest: truncated DeleteFile")
		}
		rec.Level = Level(binary.LittleEndian.Uint32(buf))
		rec.FileNum = base.FileNum(binary.LittleEndian.Uint64(buf[4:]))
		buf = buf[12:]
	case RecordSetLastSeqNum:
		if len(buf) < 8 {
			return Record{}, errors.Wrap(base.ErrCorruption, "manifest: truncated SetLastSeqNum")
		}
		rec.SeqNum = base.SeqNum(binary.LittleEndian.Uint64(buf))
		buf = buf[8:]
	case RecordAllocFileNum:
		if len(buf) < 8 {
			return Record{}, errors.Wrap(base.ErrCorruption, "manifest: truncated AllocFileNum")
		}
		rec.FileNum = base.FileNum(binary.LittleEndian.Uint64(buf))
		buf = buf[8:]
	default:
		return Record{}, errors.Wrapf(base.ErrCorruption, "manifest: unknown record kind %d", rec.Kind)
	}

	if len(buf) != 0 {
		return Record{}, errors.Wrapf(base.ErrCorruption,
			"manifest: %d trailing bytes in %s record", len(buf), rec.Kind)
	}
	return rec, nil
}

// Replay folds a stream of record payloads into a fresh manifest.
func Replay(payloads [][]byte) (*Manifest, error) {
	m := New()
	for _, p := range payloads {
		rec, err := DecodeRecord(p)
		if err != nil {
			return nil, err
		}
		m.Apply(rec)
	}
	return m, nil
}
