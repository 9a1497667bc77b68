// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package sstable implements the on-disk sorted-table format: a sequence of
// data blocks, one index block, and a fixed-size footer terminated by a magic
// constant.
//
// Each data block is a packed sequence of (internal_key, value) entries in
// the shared base encoding. A block closes as soon as it reaches the target
// size, so the final block may be short and a single oversized entry produces
// an over-target block, which readers tolerate.
package sstable

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/silodb/silo/internal/base"
)

const (
	// DefaultBlockSize is the target size of a data block.
	DefaultBlockSize = 16 << 10

	// Magic terminates every sstable footer.
	Magic = uint32(0xDEADBEEF)

	// FooterLen is the fixed byte length of the footer:
	//
	//	u64 index_offset | u64 index_size | u64 reserved | u32 reserved | u32 magic
	FooterLen = 8 + 8 + 8 + 4 + 4
)

// BlockMeta locates one data block and records its last internal key, which
// is the index's separator for block selection.
type BlockMeta struct {
	LastKey base.InternalKey
	Offset  uint64
	Size    uint32
}

// Footer is the fixed-size trailer at the physical end of every sstable.
type Footer struct {
	IndexOffset uint64
	IndexSize   uint64
}

// Encode appends the footer's fixed 32-byte encoding to buf.
func (f Footer) Encode(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, f.IndexOffset)
	buf = binary.LittleEndian.AppendUint64(buf, f.IndexSize)
	buf = binary.LittleEndian.AppendUint64(buf, 0) // reserved
	buf = binary.LittleEndian.AppendUint32(buf, 0) // reserved
	return binary.LittleEndian.AppendUint32(buf, Magic)
}

// DecodeFooter validates the magic and decodes the footer from its fixed
// 32-byte encoding.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) != FooterLen {
		return Footer{}, errors.Wrapf(base.ErrCorruption,
			"sstable: footer is %d bytes, want %d", len(buf), FooterLen)
	}
	if magic := binary.LittleEndian.Uint32(buf[28:]); magic != Magic {
		return Footer{}, errors.Wrapf(base.ErrCorruption,
			"sstable: bad footer magic %#x", magic)
	}
	return Footer{
		IndexOffset: binary.LittleEndian.Uint64(buf),
		IndexSize:   binary.LittleEndian.Uint64(buf[8:]),
	}, nil
}

// indexBlockLen returns the encoded size of the index block for the given
// block metadata.
func indexBlockLen(meta []BlockMeta) int {
	n := 4
	for i := range meta {
		n += meta[i].LastKey.EncodedLen() + 8 + 4
	}
	return n
}

// encodeIndexBlock appends the index block to buf:
//
//	u32 block_count | (last_internal_key | u64 offset | u32 size)*
func encodeIndexBlock(buf []byte, meta []BlockMeta) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(meta)))
	for i := range meta {
		buf = meta[i].LastKey.Encode(buf)
		buf = binary.LittleEndian.AppendUint64(buf, meta[i].Offset)
		buf = binary.LittleEndian.AppendUint32(buf, meta[i].Size)
	}
	return buf
}

// decodeIndexBlock decodes the index block. The decoded keys do not alias
// buf.
func decodeIndexBlock(buf []byte) ([]BlockMeta, error) {
	if len(buf) < 4 {
		return nil, errors.Wrap(base.ErrCorruption, "sstable: truncated index block")
	}
	count := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]

	meta := make([]BlockMeta, 0, count)
	for i := uint32(0); i < count; i++ {
		key, rest, err := base.DecodeInternalKey(buf)
		if err != nil {
			return nil, errors.Wrap(err, "sstable: index entry key")
		}
		if len(rest) < 12 {
			return nil, errors.Wrap(base.ErrCorruption, "sstable: truncated index entry")
		}
		meta = append(meta, BlockMeta{
			LastKey: key.Clone(),
			Offset:  binary.LittleEndian.Uint64(rest),
			Size:    binary.LittleEndian.Uint32(rest[8:]),
		})
		buf = rest[12:]
	}
	if len(buf) != 0 {
		return nil, errors.Wrapf(base.ErrCorruption,
			"sstable: %d trailing bytes in index block", len(buf))
	}
	return meta, nil
}
