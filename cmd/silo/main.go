// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Command silo offers offline inspection of a silo database directory: the
// write-ahead log, the manifest, and individual sstables. It reads the files
// directly and never takes the database locks, so it is safe to point at a
// directory while the owning process is running (the output is then merely a
// racy snapshot).
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/silodb/silo/internal/base"
	"github.com/silodb/silo/internal/manifest"
	"github.com/silodb/silo/internal/skiplist"
	"github.com/silodb/silo/record"
	"github.com/silodb/silo/sstable"
	"github.com/silodb/silo/wal"
)

func main() {
	root := &cobra.Command{
		Use:          "silo",
		Short:        "silo database inspection tool",
		SilenceUsage: true,
	}
	root.AddCommand(walCmd(), manifestCmd(), sstableCmd(), dumpCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func describeValue(v base.Value) string {
	if v.Kind == base.ValueKindTombstone {
		return "<tombstone>"
	}
	return fmt.Sprintf("%q", v.Data)
}

func walCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wal <data-dir>",
		Short: "dump the write-ahead log record by record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(filepath.Join(args[0], base.WALFilename))
			if err != nil {
				return err
			}
			defer f.Close()

			payloads, err := record.ReadAll(bufio.NewReader(f))
			if err != nil {
				return err
			}
			for i, p := range payloads {
				rec, err := wal.DecodeRecord(p)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%4d: %s = %s\n",
					i, rec.Key, describeValue(rec.Value))
			}
			return nil
		},
	}
}

func manifestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "manifest <data-dir>",
		Short: "dump the active manifest and the catalog it replays to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifestsDir := filepath.Join(args[0], "manifests")
			nameBytes, err := os.ReadFile(filepath.Join(manifestsDir, base.CurrentFilename))
			if err != nil {
				return err
			}
			name := strings.TrimSpace(string(nameBytes))
			fmt.Fprintf(cmd.OutOrStdout(), "CURRENT -> %s\n", name)

			f, err := os.Open(filepath.Join(manifestsDir, name))
			if err != nil {
				return err
			}
			defer f.Close()

			payloads, err := record.ReadAll(bufio.NewReader(f))
			if err != nil {
				return err
			}
			m := manifest.New()
			for i, p := range payloads {
				rec, err := manifest.DecodeRecord(p)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%4d: %s\n", i, describeManifestRecord(rec))
				m.Apply(rec)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\ncatalog: next file %s, committed seqno %d\n",
				m.NextFileNum, m.LastSeqNum)
			for _, lm := range m.SortedLevels() {
				fmt.Fprintf(cmd.OutOrStdout(), "L%d:\n", lm.Level)
				for _, fm := range lm.SortedFiles() {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", fm)
				}
			}
			return nil
		},
	}
}

func describeManifestRecord(rec manifest.Record) string {
	switch rec.Kind {
	case manifest.RecordSnapshot:
		return fmt.Sprintf("Snapshot{next file %s, committed seqno %d}",
			rec.Snapshot.NextFileNum, rec.Snapshot.LastSeqNum)
	case manifest.RecordCreateFile:
		return fmt.Sprintf("CreateFile{L%d, %s}", rec.Level, &rec.File)
	case manifest.RecordDeleteFile:
		return fmt.Sprintf("DeleteFile{L%d, %s}", rec.Level, rec.FileNum)
	case manifest.RecordSetLastSeqNum:
		return fmt.Sprintf("SetLastSeqNum{%d}", rec.SeqNum)
	case manifest.RecordAllocFileNum:
		return fmt.Sprintf("AllocFileNum{%s}", rec.FileNum)
	}
	return rec.Kind.String()
}

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <data-dir>",
		Short: "print the latest-visible key/value view of the whole database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir := args[0]
			manifestsDir := filepath.Join(dataDir, "manifests")
			nameBytes, err := os.ReadFile(filepath.Join(manifestsDir, base.CurrentFilename))
			if err != nil {
				return err
			}
			name := strings.TrimSpace(string(nameBytes))

			f, err := os.Open(filepath.Join(manifestsDir, name))
			if err != nil {
				return err
			}
			payloads, err := record.ReadAll(bufio.NewReader(f))
			f.Close()
			if err != nil {
				return err
			}
			m, err := manifest.Replay(payloads)
			if err != nil {
				return err
			}

			// Merge every tier into one ordered list. Entries carry their
			// seqnos, so the collapse picks the freshest version per user key
			// no matter which tier it came from.
			merged := skiplist.New()
			for _, lm := range m.SortedLevels() {
				for _, fm := range lm.SortedFiles() {
					r, err := sstable.Open(base.MakeFilepath(dataDir, base.FileTypeTable, fm.FileNum))
					if err != nil {
						return err
					}
					it := r.Iter()
					for it.Next() {
						merged.Set(it.Key().Clone(), it.Value())
					}
					if err := it.Error(); err != nil {
						r.Close()
						return err
					}
					if err := r.Close(); err != nil {
						return err
					}
				}
			}

			wf, err := os.Open(filepath.Join(dataDir, base.WALFilename))
			if err == nil {
				payloads, rerr := record.ReadAll(bufio.NewReader(wf))
				wf.Close()
				if rerr != nil {
					return rerr
				}
				for _, p := range payloads {
					rec, err := wal.DecodeRecord(p)
					if err != nil {
						return err
					}
					merged.Set(rec.Key, rec.Value)
				}
			} else if !os.IsNotExist(err) {
				return err
			}

			it := base.NewCollapseIter(merged.NewIter(), true)
			for it.First(); it.Valid(); it.Next() {
				fmt.Fprintf(cmd.OutOrStdout(), "%q = %s\n", it.Key().UserKey, describeValue(it.Value()))
			}
			return nil
		},
	}
}

func sstableCmd() *cobra.Command {
	var latest bool
	cmd := &cobra.Command{
		Use:   "sstable <file>",
		Short: "dump one sstable entry by entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := sstable.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d blocks\n", args[0], r.BlockCount())

			if latest {
				// Collapse to the visible state: one entry per user key,
				// tombstoned keys elided.
				it := base.NewCollapseIter(r.NewInternalIter(), true)
				for it.First(); it.Valid(); it.Next() {
					fmt.Fprintf(out, "%q = %s\n", it.Key().UserKey, describeValue(it.Value()))
				}
				return nil
			}

			it := r.Iter()
			for it.Next() {
				fmt.Fprintf(out, "%s = %s\n", it.Key(), describeValue(it.Value()))
			}
			return it.Error()
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false,
		"collapse entries to the freshest version per key and elide tombstones")
	return cmd
}
