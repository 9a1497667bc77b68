// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package record implements the framed log codec shared by the write-ahead
// log and the manifest: each frame is a little-endian u32 length followed by
// that many payload bytes. The payload is a self-describing record body; the
// codec does not interpret it.
//
// Reading stops cleanly at EOF on a frame boundary. A frame truncated
// mid-read is corruption: the caller cannot distinguish it from a torn write
// of a record it already acknowledged, so it must not be silently dropped.
package record

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/silodb/silo/internal/base"
)

// frameHeaderLen is the length prefix preceding every frame.
const frameHeaderLen = 4

// Write writes one framed record and returns the number of bytes written
// (header included).
func Write(w io.Writer, payload []byte) (int, error) {
	var hdr [frameHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return 0, errors.Wrap(err, "record: write frame header")
	}
	if _, err := w.Write(payload); err != nil {
		return 0, errors.Wrap(err, "record: write frame payload")
	}
	return frameHeaderLen + len(payload), nil
}

// Read reads one framed record. io.EOF is returned untouched when the reader
// is exhausted at a frame boundary; a frame that ends mid-header or
// mid-payload returns an error wrapping base.ErrCorruption.
func Read(r io.Reader) ([]byte, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(base.ErrCorruption, "record: truncated frame header")
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrapf(base.ErrCorruption,
			"record: truncated frame payload, want %d bytes", n)
	}
	return payload, nil
}

// ReadAll reads framed records until clean EOF and returns their payloads.
func ReadAll(r io.Reader) ([][]byte, error) {
	var res [][]byte
	for {
		payload, err := Read(r)
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		res = append(res, payload)
	}
}
