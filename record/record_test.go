// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package record

import (
	"bytes"
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/silodb/silo/internal/base"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	payloads := [][]byte{
		[]byte("first"),
		{},
		bytes.Repeat([]byte{0xab}, 1<<16),
		[]byte("last"),
	}
	for _, p := range payloads {
		n, err := Write(&buf, p)
		require.NoError(t, err)
		require.Equal(t, 4+len(p), n)
	}

	r := bytes.NewReader(buf.Bytes())
	for _, want := range payloads {
		got, err := Read(r)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := Read(r)
	require.Equal(t, io.EOF, err)
}

func TestReadAll(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 10; i++ {
		_, err := Write(&buf, []byte{byte(i)})
		require.NoError(t, err)
	}

	got, err := ReadAll(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, got, 10)
	for i, p := range got {
		require.Equal(t, []byte{byte(i)}, p)
	}

	// Empty stream is a clean EOF, not an error.
	got, err = ReadAll(bytes.NewReader(nil))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestTruncatedFrameIsCorruption(t *testing.T) {
	var buf bytes.Buffer
	_, err := Write(&buf, []byte("hello, frame"))
	require.NoError(t, err)

	full := buf.Bytes()
	// Any strict prefix that cuts into the frame must surface corruption, not
	// EOF, except the empty prefix which is a clean end of stream.
	for i := 1; i < len(full); i++ {
		_, err := Read(bytes.NewReader(full[:i]))
		require.Truef(t, errors.Is(err, base.ErrCorruption), "prefix of %d bytes: %v", i, err)

		_, err = ReadAll(bytes.NewReader(full[:i]))
		require.Truef(t, errors.Is(err, base.ErrCorruption), "prefix of %d bytes: %v", i, err)
	}
}
