// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/bureau-foundation/vault/lib/chunkid"
	"github.com/bureau-foundation/vault/lib/manifest"
)

// ChunkReader hands out the chunks of one file in order. It is the pull
// side of a restore: the caller drains NextChunk and writes the bytes
// wherever they belong. Not safe for concurrent use.
type ChunkReader struct {
	repo *Repository
	ctx  context.Context
	refs []manifest.ChunkRef
	next int
}

// Restore resolves path in the named archive and returns a reader over
// its chunks. ctx bounds every later NextChunk.
func (r *Repository) Restore(ctx context.Context, archiveName, path string) (*ChunkReader, error) {
	archive, err := r.Archive(ctx, archiveName)
	if err != nil {
		return nil, err
	}
	refs, err := archive.Resolve(path)
	if err != nil {
		return nil, err
	}
	return r.NewChunkReader(ctx, refs), nil
}

// NewChunkReader returns a reader over refs.
func (r *Repository) NewChunkReader(ctx context.Context, refs []manifest.ChunkRef) *ChunkReader {
	return &ChunkReader{repo: r, ctx: ctx, refs: refs}
}

// NextChunk returns the next chunk's plaintext, or io.EOF after the
// last one. An error aborts the restore; the repository is unaffected.
func (c *ChunkReader) NextChunk() ([]byte, error) {
	if c.next >= len(c.refs) {
		return nil, io.EOF
	}
	ref := c.refs[c.next]
	data, err := c.repo.ReadChunk(c.ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	if len(data) != int(ref.Size) {
		return nil, fmt.Errorf("%w: chunk %s is %d bytes, archive says %d", ErrFormat, ref.ID.Short(), len(data), ref.Size)
	}
	c.next++
	return data, nil
}

// Remaining returns the number of chunks not yet returned.
func (c *ChunkReader) Remaining() int {
	return len(c.refs) - c.next
}

// WriteTo drains the reader into w.
func (c *ChunkReader) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for {
		data, err := c.NextChunk()
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		n, err := w.Write(data)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
}

// chunkSource is where a FileReader gets chunk plaintext.
type chunkSource interface {
	ReadChunk(ctx context.Context, id chunkid.ID) ([]byte, error)
}

// chunkSpan maps a byte range of a file to the chunk holding it.
type chunkSpan struct {
	// offset is the cumulative byte offset where this chunk starts.
	offset int64
	size   uint32
	id     chunkid.ID
}

// FileReader gives random access to a file stored as chunks. It keeps
// the most recently read chunk, so sequential reads decode each chunk
// once. ReadAt is safe for concurrent use; Read is not.
type FileReader struct {
	source chunkSource
	ctx    context.Context
	spans  []chunkSpan
	size   int64

	mu       sync.Mutex
	position int64
	cached   int
	data     []byte
}

// NewFileReader returns a reader over the chunks of one file.
func (r *Repository) NewFileReader(ctx context.Context, refs []manifest.ChunkRef) *FileReader {
	return newFileReader(ctx, r, refs)
}

func newFileReader(ctx context.Context, source chunkSource, refs []manifest.ChunkRef) *FileReader {
	spans := make([]chunkSpan, len(refs))
	var offset int64
	for i, ref := range refs {
		spans[i] = chunkSpan{offset: offset, size: ref.Size, id: ref.ID}
		offset += int64(ref.Size)
	}
	return &FileReader{source: source, ctx: ctx, spans: spans, size: offset, cached: -1}
}

// Size returns the file length.
func (f *FileReader) Size() int64 {
	return f.size
}

// findSpan returns the index of the chunk containing offset, or -1.
func (f *FileReader) findSpan(offset int64) int {
	if len(f.spans) == 0 || offset < 0 {
		return -1
	}
	index := sort.Search(len(f.spans), func(i int) bool {
		return f.spans[i].offset > offset
	}) - 1
	if index < 0 {
		return -1
	}
	span := f.spans[index]
	if offset >= span.offset+int64(span.size) {
		return -1
	}
	return index
}

// chunk returns the plaintext of span index, from the cache when it is
// the last chunk read.
func (f *FileReader) chunk(index int) ([]byte, error) {
	f.mu.Lock()
	if f.cached == index {
		data := f.data
		f.mu.Unlock()
		return data, nil
	}
	f.mu.Unlock()

	span := f.spans[index]
	data, err := f.source.ReadChunk(f.ctx, span.id)
	if err != nil {
		return nil, err
	}
	if len(data) != int(span.size) {
		return nil, fmt.Errorf("%w: chunk %s is %d bytes, archive says %d", ErrFormat, span.id.Short(), len(data), span.size)
	}

	f.mu.Lock()
	f.cached = index
	f.data = data
	f.mu.Unlock()
	return data, nil
}

// ReadAt implements io.ReaderAt. A read may span several chunks.
func (f *FileReader) ReadAt(dest []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("negative offset %d", offset)
	}
	if offset >= f.size {
		return 0, io.EOF
	}
	short := false
	if remaining := f.size - offset; int64(len(dest)) > remaining {
		dest = dest[:remaining]
		short = true
	}

	total := 0
	for total < len(dest) {
		current := offset + int64(total)
		index := f.findSpan(current)
		if index < 0 {
			return total, io.EOF
		}
		data, err := f.chunk(index)
		if err != nil {
			return total, fmt.Errorf("reading chunk at offset %d: %w", current, err)
		}
		total += copy(dest[total:], data[current-f.spans[index].offset:])
	}
	if short {
		return total, io.EOF
	}
	return total, nil
}

// Read implements io.Reader.
func (f *FileReader) Read(dest []byte) (int, error) {
	f.mu.Lock()
	position := f.position
	f.mu.Unlock()

	n, err := f.ReadAt(dest, position)

	f.mu.Lock()
	f.position += int64(n)
	f.mu.Unlock()
	if err == io.EOF && n > 0 {
		return n, nil
	}
	return n, err
}
