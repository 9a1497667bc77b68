// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// FileNum is an identifier for a file within a database. File numbers are
// allocated by the manifest and are strictly increasing over the database's
// entire history.
type FileNum uint64

func (fn FileNum) String() string { return fmt.Sprintf("%06d", uint64(fn)) }

// FileType enumerates the kinds of files found in a database directory.
type FileType int

const (
	FileTypeManifest FileType = iota
	FileTypeTable
	FileTypeWAL
	FileTypeCurrent
)

const (
	// WALFilename is the write-ahead log, directly under the data dir.
	WALFilename = "wal.log"
	// CurrentFilename names the active manifest, under manifests/.
	CurrentFilename = "CURRENT"

	manifestExt = ".manifest"
	tableExt    = ".sstable"
)

// MakeFilename builds the bare filename for a file of the given type.
func MakeFilename(fileType FileType, fileNum FileNum) string {
	switch fileType {
	case FileTypeManifest:
		return fmt.Sprintf("%06d%s", uint64(fileNum), manifestExt)
	case FileTypeTable:
		return fmt.Sprintf("%06d%s", uint64(fileNum), tableExt)
	case FileTypeWAL:
		return WALFilename
	case FileTypeCurrent:
		return CurrentFilename
	}
	panic("unreachable")
}

// MakeFilepath builds the full path for a file of the given type rooted at
// the database directory.
func MakeFilepath(dataDir string, fileType FileType, fileNum FileNum) string {
	switch fileType {
	case FileTypeManifest, FileTypeCurrent:
		return filepath.Join(dataDir, "manifests", MakeFilename(fileType, fileNum))
	case FileTypeTable:
		return filepath.Join(dataDir, "sstables", MakeFilename(fileType, fileNum))
	case FileTypeWAL:
		return filepath.Join(dataDir, WALFilename)
	}
	panic("unreachable")
}

// ParseFilename parses the bare filename of a manifest or sstable file,
// returning its type and number. ok is false for anything else, including
// CURRENT and the WAL.
func ParseFilename(filename string) (fileType FileType, fileNum FileNum, ok bool) {
	switch {
	case strings.HasSuffix(filename, manifestExt):
		fileType = FileTypeManifest
		filename = strings.TrimSuffix(filename, manifestExt)
	case strings.HasSuffix(filename, tableExt):
		fileType = FileTypeTable
		filename = strings.TrimSuffix(filename, tableExt)
	default:
		return 0, 0, false
	}
	u, err := strconv.ParseUint(filename, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return fileType, FileNum(u), true
}
