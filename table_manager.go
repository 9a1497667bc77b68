// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package silo

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/silodb/silo/internal/base"
	"github.com/silodb/silo/internal/manifest"
	"github.com/silodb/silo/record"
	"github.com/silodb/silo/sstable"
)

// tableManager owns the manifest lifecycle: the CURRENT pointer, the active
// manifest log, file-number allocation, and the creation of L0 sstables from
// frozen memtables.
//
// CURRENT names the active manifest so that a future manifest rotation can be
// atomic: a new manifest is fully written and fsynced before CURRENT is
// repointed. Both files are exclusively advisory-locked for the lifetime of
// the manager; a second process opening the same database fails on the lock.
type tableManager struct {
	opts    *Options
	dataDir string

	current *os.File
	active  *os.File

	// mu serializes manifest reads and appends between the writer, the
	// flusher, and metrics snapshots.
	mu       sync.Mutex
	manifest *manifest.Manifest
}

// openTableManager probes manifests/CURRENT and either loads the catalog it
// names or bootstraps a fresh one. CURRENT absent while manifest files exist
// is an inconsistent state and fails hard.
func openTableManager(dataDir string, opts *Options) (*tableManager, error) {
	tm := &tableManager{
		opts:    opts,
		dataDir: dataDir,
	}

	currentPath := filepath.Join(dataDir, "manifests", base.CurrentFilename)
	_, statErr := os.Stat(currentPath)
	switch {
	case statErr == nil:
		if err := tm.load(currentPath); err != nil {
			tm.closeFiles()
			return nil, err
		}
	case os.IsNotExist(statErr):
		empty, err := dirIsEmpty(filepath.Join(dataDir, "manifests"))
		if err != nil {
			return nil, err
		}
		if !empty {
			return nil, errors.Wrap(base.ErrInvalidState,
				"manifest files exist but CURRENT does not")
		}
		if err := tm.bootstrap(currentPath); err != nil {
			tm.closeFiles()
			return nil, err
		}
	default:
		return nil, errors.Wrap(statErr, "probe CURRENT")
	}

	if err := tm.cleanAndVerifyTables(); err != nil {
		tm.closeFiles()
		return nil, err
	}
	return tm, nil
}

func dirIsEmpty(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, errors.Wrap(err, "read manifests dir")
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err == io.EOF {
		return true, nil
	} else if err != nil {
		return false, errors.Wrap(err, "read manifests dir")
	}
	return false, nil
}

// bootstrap creates the initial catalog for a fresh database: a new manifest
// that allocates its own file number, CURRENT naming it (fsynced before the
// manifest is first written), and an initial Snapshot record.
func (tm *tableManager) bootstrap(currentPath string) error {
	current, err := os.OpenFile(currentPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrap(err, "create CURRENT")
	}
	tm.current = current
	if err := base.LockFile(current); err != nil {
		return err
	}

	m := manifest.New()
	// The snapshot written below already carries the advanced counter, so the
	// alloc record itself never hits the log.
	manifestNum, _ := m.AllocFileNum()
	name := base.MakeFilename(base.FileTypeManifest, manifestNum)

	if _, err := current.WriteString(name); err != nil {
		return errors.Wrap(err, "write CURRENT")
	}
	if err := current.Sync(); err != nil {
		return errors.Wrap(err, "sync CURRENT")
	}

	active, err := os.OpenFile(filepath.Join(tm.dataDir, "manifests", name),
		os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "create initial manifest")
	}
	tm.active = active
	if err := base.LockFile(active); err != nil {
		return err
	}

	tm.manifest = m
	return tm.appendLocked(manifest.Record{Kind: manifest.RecordSnapshot, Snapshot: m})
}

// load opens the catalog CURRENT points at and replays its record log.
func (tm *tableManager) load(currentPath string) error {
	current, err := os.OpenFile(currentPath, os.O_RDWR, 0o644)
	if err != nil {
		return errors.Wrap(err, "open CURRENT")
	}
	tm.current = current
	if err := base.LockFile(current); err != nil {
		return err
	}

	nameBytes, err := io.ReadAll(current)
	if err != nil {
		return errors.Wrap(err, "read CURRENT")
	}
	name := strings.TrimSpace(string(nameBytes))
	if ft, _, ok := base.ParseFilename(name); !ok || ft != base.FileTypeManifest {
		return errors.Wrapf(base.ErrInvalidState, "CURRENT names %q", name)
	}

	active, err := os.OpenFile(filepath.Join(tm.dataDir, "manifests", name),
		os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open manifest %s", name)
	}
	tm.active = active
	if err := base.LockFile(active); err != nil {
		return err
	}

	if _, err := active.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek manifest")
	}
	payloads, err := record.ReadAll(active)
	if err != nil {
		return errors.Wrapf(err, "replay manifest %s", name)
	}
	m, err := manifest.Replay(payloads)
	if err != nil {
		return errors.Wrapf(err, "replay manifest %s", name)
	}
	tm.manifest = m
	return nil
}

// appendLocked writes one manifest record and fsyncs. Callers hold tm's lock
// (or are still single-threaded in open).
func (tm *tableManager) appendLocked(rec manifest.Record) error {
	if _, err := record.Write(tm.active, rec.Encode(nil)); err != nil {
		return err
	}
	if err := tm.active.Sync(); err != nil {
		return errors.Wrap(err, "sync manifest")
	}
	return nil
}

// allocFileNum durably allocates the next file number. Any file number
// observed in the filesystem has been recorded as allocated before the file
// was created.
func (tm *tableManager) allocFileNum() (base.FileNum, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	fn, rec := tm.manifest.AllocFileNum()
	if err := tm.appendLocked(rec); err != nil {
		return 0, err
	}
	return fn, nil
}

// lastSeqNum returns the catalog's last committed sequence number.
func (tm *tableManager) lastSeqNum() base.SeqNum {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.manifest.LastSeqNum
}

// setLastSeqNum durably raises the last committed sequence number. Stale
// values are dropped without touching the log.
func (tm *tableManager) setLastSeqNum(seq base.SeqNum) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if seq <= tm.manifest.LastSeqNum {
		return nil
	}
	rec := manifest.Record{Kind: manifest.RecordSetLastSeqNum, SeqNum: seq}
	if err := tm.appendLocked(rec); err != nil {
		return err
	}
	tm.manifest.Apply(rec)
	return nil
}

// manifestSnapshot returns a deep copy of the catalog.
func (tm *tableManager) manifestSnapshot() *manifest.Manifest {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.manifest.Clone()
}

// flushFrozen writes one frozen memtable to L0, splitting into several
// sstables when the projected file size would exceed the level budget. Each
// finished file is fsynced and then recorded in the manifest (fsynced) before
// the next file starts; only once every entry is durably cataloged does the
// flush count as done.
func (tm *tableManager) flushFrozen(frozen *frozenMemTable) error {
	budget := tm.opts.targetFileSize(0)

	var (
		file *os.File
		w    *sstable.Writer
		fn   base.FileNum
	)
	// On an error return the current output file is abandoned; it is not
	// referenced by the manifest and open-time GC collects it.
	defer func() {
		if file != nil {
			_ = file.Close()
		}
	}()
	openFile := func() error {
		var err error
		if fn, err = tm.allocFileNum(); err != nil {
			return err
		}
		path := base.MakeFilepath(tm.dataDir, base.FileTypeTable, fn)
		if file, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644); err != nil {
			return errors.Wrap(err, "create sstable")
		}
		w = sstable.NewWriter(file, sstable.WriterOptions{BlockSize: tm.opts.BlockSize})
		return nil
	}
	finalize := func() error {
		meta, err := w.Finish()
		if err != nil {
			return err
		}
		if err := file.Close(); err != nil {
			return errors.Wrap(err, "close sstable")
		}
		file, w = nil, nil

		tm.mu.Lock()
		defer tm.mu.Unlock()
		rec := manifest.Record{
			Kind:  manifest.RecordCreateFile,
			Level: 0,
			File: manifest.FileMeta{
				FileNum:  fn,
				Size:     meta.Size,
				Smallest: meta.Smallest,
				Largest:  meta.Largest,
			},
		}
		if err := tm.appendLocked(rec); err != nil {
			return err
		}
		tm.manifest.Apply(rec)
		return nil
	}

	it := frozen.iter()
	for it.First(); it.Valid(); it.Next() {
		key, value := it.Key(), it.Value()
		if w == nil {
			if err := openFile(); err != nil {
				return err
			}
		} else {
			// Worst case the entry also opens a fresh block, which costs one
			// more index entry.
			entryLen := uint64(key.EncodedLen()+value.EncodedLen()) +
				uint64(key.EncodedLen()+12)
			if w.EntryCount() > 0 && w.EstimatedSize()+entryLen > budget {
				if err := finalize(); err != nil {
					return err
				}
				if err := openFile(); err != nil {
					return err
				}
			}
		}
		if err := w.Add(key, value); err != nil {
			return err
		}
	}

	if w != nil && w.EntryCount() > 0 {
		return finalize()
	}
	return nil
}

// cleanAndVerifyTables garbage-collects sstable files the manifest does not
// reference (a crash between sstable write and CreateFile fsync leaves such
// orphans) and verifies that every referenced file parses: footer magic,
// index bounds.
func (tm *tableManager) cleanAndVerifyTables() error {
	dir := filepath.Join(tm.dataDir, "sstables")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "read sstables dir")
	}
	referenced := tm.manifest.FileNums()

	var g errgroup.Group
	for _, ent := range entries {
		ft, fn, ok := base.ParseFilename(ent.Name())
		if !ok || ft != base.FileTypeTable {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		if !referenced[fn] {
			tm.opts.Logger.Infof("removing orphan sstable %s", path)
			if err := os.Remove(path); err != nil {
				return errors.Wrap(err, "remove orphan sstable")
			}
			continue
		}
		g.Go(func() error {
			r, err := sstable.Open(path)
			if err != nil {
				return err
			}
			return r.Close()
		})
	}
	return g.Wait()
}

func (tm *tableManager) closeFiles() {
	if tm.active != nil {
		_ = base.UnlockFile(tm.active)
		_ = tm.active.Close()
		tm.active = nil
	}
	if tm.current != nil {
		_ = base.UnlockFile(tm.current)
		_ = tm.current.Close()
		tm.current = nil
	}
}

// close fsyncs and releases the catalog files and their locks.
func (tm *tableManager) close() error {
	var err error
	if tm.active != nil {
		err = tm.active.Sync()
	}
	tm.closeFiles()
	return err
}
