// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/vault/lib/chunkid"
	"github.com/bureau-foundation/vault/lib/manifest"
	"github.com/bureau-foundation/vault/lib/testutil"
)

// memorySource is a chunkSource backed by a map. It counts reads.
type memorySource struct {
	chunks map[chunkid.ID][]byte
	reads  int
}

func (m *memorySource) ReadChunk(_ context.Context, id chunkid.ID) ([]byte, error) {
	m.reads++
	data, ok := m.chunks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

// splitContent cuts content into chunks of the given sizes, the last
// taking the remainder.
func splitContent(content []byte, sizes ...int) (*memorySource, []manifest.ChunkRef) {
	source := &memorySource{chunks: make(map[chunkid.ID][]byte)}
	var refs []manifest.ChunkRef
	for len(content) > 0 {
		size := len(content)
		if len(sizes) > 0 {
			size = min(sizes[0], size)
			sizes = sizes[1:]
		}
		id := chunkid.ID(blake3.Sum256(content[:size]))
		source.chunks[id] = content[:size]
		refs = append(refs, manifest.ChunkRef{ID: id, Size: uint32(size)})
		content = content[size:]
	}
	return source, refs
}

func TestFindSpan(t *testing.T) {
	source, refs := splitContent(make([]byte, 300), 100, 50)
	reader := newFileReader(context.Background(), source, refs)

	tests := []struct {
		offset int64
		want   int
	}{
		{-1, -1},
		{0, 0},
		{99, 0},
		{100, 1},
		{149, 1},
		{150, 2},
		{299, 2},
		{300, -1},
	}
	for _, test := range tests {
		if got := reader.findSpan(test.offset); got != test.want {
			t.Errorf("findSpan(%d) = %d, want %d", test.offset, got, test.want)
		}
	}

	empty := newFileReader(context.Background(), source, nil)
	if empty.findSpan(0) != -1 {
		t.Error("findSpan on an empty file should return -1")
	}
	if _, err := empty.ReadAt(make([]byte, 1), 0); err != io.EOF {
		t.Errorf("ReadAt on an empty file error = %v, want io.EOF", err)
	}
}

func TestFileReaderCachesChunk(t *testing.T) {
	source, refs := splitContent(testutil.RandomBytes(30, 1000), 400, 400)
	reader := newFileReader(context.Background(), source, refs)

	buffer := make([]byte, 10)
	for offset := int64(0); offset < 400; offset += 10 {
		if _, err := reader.ReadAt(buffer, offset); err != nil {
			t.Fatalf("ReadAt(%d): %v", offset, err)
		}
	}
	if source.reads != 1 {
		t.Errorf("40 reads within one chunk fetched it %d times", source.reads)
	}
}

func TestFileReaderShortRead(t *testing.T) {
	content := testutil.RandomBytes(31, 250)
	source, refs := splitContent(content, 100)
	reader := newFileReader(context.Background(), source, refs)

	buffer := make([]byte, 100)
	n, err := reader.ReadAt(buffer, 200)
	if n != 50 || err != io.EOF {
		t.Fatalf("ReadAt past the end = %d, %v; want 50, io.EOF", n, err)
	}
	if !bytes.Equal(buffer[:n], content[200:]) {
		t.Error("short read returned wrong bytes")
	}
	if _, err := reader.ReadAt(buffer, -1); err == nil {
		t.Error("ReadAt accepted a negative offset")
	}
}

func TestFileReaderSizeMismatch(t *testing.T) {
	source, refs := splitContent(testutil.RandomBytes(32, 200), 100)
	refs[1].Size = 90
	reader := newFileReader(context.Background(), source, refs)

	if _, err := reader.ReadAt(make([]byte, 10), 150); !errors.Is(err, ErrFormat) {
		t.Errorf("ReadAt of a chunk shorter than recorded error = %v, want ErrFormat", err)
	}
}

func TestFileReaderWindowsProperty(t *testing.T) {
	content := testutil.RandomBytes(33, 5000)
	source, refs := splitContent(content, 700, 13, 1, 2048, 900)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("ReadAt returns the bytes at any window", prop.ForAll(
		func(offset, length int) bool {
			reader := newFileReader(context.Background(), source, refs)
			buffer := make([]byte, length)
			n, err := reader.ReadAt(buffer, int64(offset))
			want := content[offset:min(offset+length, len(content))]
			if n != len(want) || !bytes.Equal(buffer[:n], want) {
				return false
			}
			if offset+length > len(content) {
				return err == io.EOF
			}
			return err == nil
		},
		gen.IntRange(0, len(content)-1),
		gen.IntRange(1, 3000),
	))

	properties.TestingRun(t)
}
