// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package base defines the fundamental types shared by every silo subsystem:
// internal keys, sequence numbers, tagged values and their byte encodings,
// file numbers, and the logging interface.
package base

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Sentinel errors shared across the store. Wrapped errors are compared with
// errors.Is, so callers never match on message text.
var (
	// ErrNotFound means the requested user key is not present, or its newest
	// version is a tombstone.
	ErrNotFound = errors.New("silo: not found")

	// ErrCorruption means an on-disk structure failed to decode. Replay-time
	// corruption is fatal for the open.
	ErrCorruption = errors.New("silo: corruption")

	// ErrDBClosed is returned by operations on a closed database.
	ErrDBClosed = errors.New("silo: closed")

	// ErrLocked means another process holds the advisory lock on this
	// database's files.
	ErrLocked = errors.New("silo: database is locked by another process")

	// ErrInvalidState means the on-disk catalog is in a state the store
	// refuses to touch (e.g. manifests exist but CURRENT does not).
	ErrInvalidState = errors.New("silo: inconsistent database state")
)

// SeqNum is a monotonically increasing 64-bit mutation counter. The database
// assigns one per mutating operation; it never decreases within a process
// lifetime and is re-seeded past all durable state on open.
type SeqNum uint64

// SeqNumMax sorts before every other sequence number for the same user key
// under the inverted ordering, which makes it the seek target for "the
// freshest version of this user key".
const SeqNumMax = SeqNum(1<<64 - 1)

// ValueKind tags a Value as live data or a deletion marker. The numeric
// values are part of the file format and must not change.
type ValueKind uint8

const (
	ValueKindData      ValueKind = 0
	ValueKindTombstone ValueKind = 1
)

func (k ValueKind) String() string {
	switch k {
	case ValueKindData:
		return "DATA"
	case ValueKindTombstone:
		return "TOMBSTONE"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
}

// Value is a tagged value: Data carries a payload, Tombstone carries none but
// still consumes a key slot.
type Value struct {
	Kind ValueKind
	Data []byte
}

// MakeValue returns a Data value wrapping v.
func MakeValue(v []byte) Value {
	return Value{Kind: ValueKindData, Data: v}
}

// Tombstone is the deletion marker value.
var Tombstone = Value{Kind: ValueKindTombstone}

// PayloadLen returns the number of payload bytes the value contributes to
// size accounting. Tombstones contribute zero.
func (v Value) PayloadLen() int {
	if v.Kind == ValueKindTombstone {
		return 0
	}
	return len(v.Data)
}

// Interpret converts the value into a lookup result: a copy of the payload
// for data, ErrNotFound for a tombstone (the key is deleted as of the seqno
// that wrote it).
func (v Value) Interpret() ([]byte, error) {
	if v.Kind == ValueKindTombstone {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v.Data...), nil
}

// EncodedLen returns the length of the value's byte encoding.
func (v Value) EncodedLen() int {
	if v.Kind == ValueKindTombstone {
		return 1
	}
	return 1 + 4 + len(v.Data)
}

// Encode appends the value encoding to buf:
//
//	u8 tag | (if Data) u32 LE val_len | val_bytes
func (v Value) Encode(buf []byte) []byte {
	buf = append(buf, byte(v.Kind))
	if v.Kind == ValueKindData {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Data)))
		buf = append(buf, v.Data...)
	}
	return buf
}

// DecodeValue decodes one value from the front of buf, returning the value
// and the remaining bytes.
func DecodeValue(buf []byte) (Value, []byte, error) {
	if len(buf) < 1 {
		return Value{}, nil, errors.Wrap(ErrCorruption, "value: empty buffer")
	}
	kind := ValueKind(buf[0])
	buf = buf[1:]
	switch kind {
	case ValueKindTombstone:
		return Tombstone, buf, nil
	case ValueKindData:
		if len(buf) < 4 {
			return Value{}, nil, errors.Wrap(ErrCorruption, "value: truncated length")
		}
		n := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]
		if uint64(len(buf)) < uint64(n) {
			return Value{}, nil, errors.Wrapf(ErrCorruption,
				"value: %d payload bytes, want %d", len(buf), n)
		}
		return MakeValue(buf[:n:n]), buf[n:], nil
	}
	return Value{}, nil, errors.Wrapf(ErrCorruption, "value: invalid tag %d", kind)
}

// InternalKey is a key used for the in-memory and on-disk partial stores that
// make up a silo database. It consists of the user key (as given by the code
// that uses package silo) plus the sequence number at which the entry was
// written.
//
// Ordering is ascending by user key and descending by sequence number, so
// that in a forward scan the first entry for a given user key is its freshest
// version. Every encoder preserves the raw seqno; every comparator inverts
// it.
type InternalKey struct {
	UserKey []byte
	SeqNum  SeqNum
}

// MakeInternalKey constructs an internal key from a user key and seqno.
func MakeInternalKey(userKey []byte, seqNum SeqNum) InternalKey {
	return InternalKey{UserKey: userKey, SeqNum: seqNum}
}

// MakeSearchKey returns the smallest internal key for userKey under the
// inverted ordering. Seeking to it lands on the freshest version of userKey,
// if any version exists.
func MakeSearchKey(userKey []byte) InternalKey {
	return InternalKey{UserKey: userKey, SeqNum: SeqNumMax}
}

// InternalCompare orders internal keys ascending by user key and descending
// by sequence number.
func InternalCompare(a, b InternalKey) int {
	if c := bytes.Compare(a.UserKey, b.UserKey); c != 0 {
		return c
	}
	switch {
	case a.SeqNum > b.SeqNum:
		return -1
	case a.SeqNum < b.SeqNum:
		return 1
	}
	return 0
}

// EncodedLen returns the length of the key's byte encoding.
func (k InternalKey) EncodedLen() int {
	return 4 + len(k.UserKey) + 8
}

// Encode appends the key encoding to buf:
//
//	u32 LE key_len | key_bytes | u64 LE seqno
func (k InternalKey) Encode(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(k.UserKey)))
	buf = append(buf, k.UserKey...)
	return binary.LittleEndian.AppendUint64(buf, uint64(k.SeqNum))
}

// DecodeInternalKey decodes one internal key from the front of buf, returning
// the key and the remaining bytes. The returned key aliases buf.
func DecodeInternalKey(buf []byte) (InternalKey, []byte, error) {
	if len(buf) < 4 {
		return InternalKey{}, nil, errors.Wrap(ErrCorruption, "key: truncated length")
	}
	n := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	if uint64(len(buf)) < uint64(n)+8 {
		return InternalKey{}, nil, errors.Wrapf(ErrCorruption,
			"key: %d bytes remain, want %d", len(buf), uint64(n)+8)
	}
	userKey := buf[:n:n]
	seqNum := binary.LittleEndian.Uint64(buf[n : n+8])
	return InternalKey{UserKey: userKey, SeqNum: SeqNum(seqNum)}, buf[n+8:], nil
}

// Clone returns a copy of the key that does not alias its buffer.
func (k InternalKey) Clone() InternalKey {
	return InternalKey{
		UserKey: append([]byte(nil), k.UserKey...),
		SeqNum:  k.SeqNum,
	}
}

// Size returns the memtable size-accounting contribution of the key.
func (k InternalKey) Size() int {
	return len(k.UserKey)
}

func (k InternalKey) String() string {
	return fmt.Sprintf("%s#%d", k.UserKey, k.SeqNum)
}
