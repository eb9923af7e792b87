// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunker

import (
	"errors"
	"io"
)

// gearWindow is the effective GearHash window. Each step shifts the
// hash left by one, so a byte's contribution leaves the 64-bit state
// after 64 further bytes.
const gearWindow = 64

// gearTableBase is mixed into the seed so that seed zero still yields a
// well-distributed table.
const gearTableBase uint64 = 0x6276617574676561 // "bvautgea"

type gearChunker struct {
	reader io.Reader
	table  [256]uint64
	mask   uint64
	min    int
	max    int

	// buffer holds unconsumed stream bytes in buffer[start:end].
	buffer []byte
	start  int
	end    int

	// offset is the stream position of buffer[start].
	offset int64
	eof    bool
	err    error
}

func newGearChunker(r io.Reader, params Params) *gearChunker {
	return &gearChunker{
		reader: r,
		table:  gearTable(params.Seed),
		mask:   ^uint64(0) << (64 - params.averageBits()),
		min:    params.MinSize,
		max:    params.MaxSize,
		buffer: make([]byte, params.MaxSize),
	}
}

func (g *gearChunker) Next() (Chunk, error) {
	if g.err != nil {
		return Chunk{}, g.err
	}
	if err := g.fill(); err != nil {
		g.err = err
		return Chunk{}, err
	}
	if g.start == g.end {
		g.err = io.EOF
		return Chunk{}, io.EOF
	}

	window := g.buffer[g.start:g.end]
	length := g.boundary(window)

	data := make([]byte, length)
	copy(data, window[:length])
	chunk := Chunk{Offset: g.offset, Data: data}

	g.start += length
	g.offset += int64(length)
	return chunk, nil
}

// fill tops the buffer up to one maximum-size chunk, or to end of
// stream.
func (g *gearChunker) fill() error {
	if g.eof || g.end-g.start >= g.max {
		return nil
	}
	if g.start > 0 {
		g.end = copy(g.buffer, g.buffer[g.start:g.end])
		g.start = 0
	}
	n, err := io.ReadFull(g.reader, g.buffer[g.end:])
	g.end += n
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		g.eof = true
		return nil
	}
	return err
}

// boundary returns the length of the next chunk at the front of data.
// Hashing starts one window before the minimum size, which yields the
// same state as hashing from the chunk start because older bytes have
// already been shifted out.
func (g *gearChunker) boundary(data []byte) int {
	length := len(data)
	if length <= g.min {
		return length
	}
	limit := min(length, g.max)

	var hash uint64
	for position := g.min - gearWindow; position < limit; {
		hash = (hash << 1) + g.table[data[position]]
		position++
		if position >= g.min && hash&g.mask == 0 {
			return position
		}
	}
	return limit
}

// gearTable expands seed into 256 table entries with splitmix64.
func gearTable(seed uint64) [256]uint64 {
	var table [256]uint64
	state := seed ^ gearTableBase
	for i := range table {
		state += 0x9e3779b97f4a7c15
		z := state
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		table[i] = z ^ (z >> 31)
	}
	return table
}
