// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunker

import (
	"io"

	resticchunker "github.com/restic/chunker"
)

// rabinChunker adapts restic's chunker to the Chunker interface. The
// restic chunker fills a caller-provided buffer; each chunk is copied
// out so callers own their data.
type rabinChunker struct {
	inner  *resticchunker.Chunker
	buffer []byte
	err    error
}

func newRabinChunker(r io.Reader, params Params) *rabinChunker {
	inner := resticchunker.NewWithBoundaries(r, resticchunker.Pol(params.Seed),
		uint(params.MinSize), uint(params.MaxSize))
	inner.SetAverageBits(params.averageBits())
	return &rabinChunker{
		inner:  inner,
		buffer: make([]byte, params.MaxSize),
	}
}

func (c *rabinChunker) Next() (Chunk, error) {
	if c.err != nil {
		return Chunk{}, c.err
	}
	raw, err := c.inner.Next(c.buffer[:0])
	if err != nil {
		c.err = err
		return Chunk{}, err
	}
	data := make([]byte, len(raw.Data))
	copy(data, raw.Data)
	return Chunk{Offset: int64(raw.Start), Data: data}, nil
}
