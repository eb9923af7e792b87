// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunker splits byte streams into content-defined chunks.
//
// Cut points are chosen by a rolling hash over the trailing bytes of
// the stream, so a boundary depends only on nearby content. Inserting
// or deleting bytes early in a file shifts the first few boundaries and
// leaves every later boundary, and therefore every later chunk ID,
// unchanged. That property is what lets a repository deduplicate
// successive revisions of the same file.
//
// Two algorithms are available. Gear (the default) is a GearHash with a
// per-repository table derived from a 64-bit seed. Rabin is the Rabin
// fingerprint chunker from restic with a per-repository irreducible
// polynomial as its seed. Both honor the same minimum, average, and
// maximum sizes.
//
// A Chunker is a pull iterator: each Next call reads as much of the
// source as it needs to produce one chunk. Cancelling is simply not
// calling Next again.
package chunker

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"

	resticchunker "github.com/restic/chunker"
)

// Algorithm names a chunking algorithm.
type Algorithm string

const (
	// Gear is GearHash content-defined chunking with a seeded table.
	Gear Algorithm = "gear"

	// Rabin is Rabin fingerprint chunking with a seeded polynomial.
	Rabin Algorithm = "rabin"
)

// Size limits accepted by Params.Validate.
const (
	// MinimumSize is the smallest allowed MinSize. The gear hash
	// window is 64 bytes; a smaller minimum would let the first cut
	// depend on bytes before the chunk start.
	MinimumSize = 64

	// MaximumSize is the largest allowed MaxSize.
	MaximumSize = 64 << 20
)

// Params configures chunk sizes and the algorithm. Params are fixed
// when a repository is created: changing any field changes every
// boundary and defeats deduplication against existing data.
type Params struct {
	Algorithm Algorithm
	MinSize   int
	AvgSize   int
	MaxSize   int

	// Seed keys the algorithm. For Gear it selects the hash table; for
	// Rabin it is the irreducible polynomial. Generate one with NewSeed.
	Seed uint64
}

// DefaultParams returns gear chunking with a 512 KiB minimum, 2 MiB
// average, and 8 MiB maximum chunk size. The seed is zero; repositories
// replace it with NewSeed at creation.
func DefaultParams() Params {
	return Params{
		Algorithm: Gear,
		MinSize:   512 << 10,
		AvgSize:   2 << 20,
		MaxSize:   8 << 20,
	}
}

// Validate checks size ordering and the algorithm name.
func (p Params) Validate() error {
	var errs []error
	switch p.Algorithm {
	case Gear:
	case Rabin:
		if !resticchunker.Pol(p.Seed).Irreducible() {
			errs = append(errs, fmt.Errorf("rabin seed %#x is not an irreducible polynomial", p.Seed))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown chunker algorithm %q", p.Algorithm))
	}
	if p.MinSize < MinimumSize {
		errs = append(errs, fmt.Errorf("minimum chunk size %d is below %d", p.MinSize, MinimumSize))
	}
	if p.MaxSize > MaximumSize {
		errs = append(errs, fmt.Errorf("maximum chunk size %d exceeds %d", p.MaxSize, MaximumSize))
	}
	if p.AvgSize <= 0 || p.AvgSize&(p.AvgSize-1) != 0 {
		errs = append(errs, fmt.Errorf("average chunk size %d is not a power of two", p.AvgSize))
	}
	if !(p.MinSize < p.AvgSize && p.AvgSize < p.MaxSize) {
		errs = append(errs, fmt.Errorf("chunk sizes must satisfy min < avg < max (got %d, %d, %d)",
			p.MinSize, p.AvgSize, p.MaxSize))
	}
	return errors.Join(errs...)
}

// averageBits is log2(AvgSize).
func (p Params) averageBits() int {
	return bits.TrailingZeros(uint(p.AvgSize))
}

// NewSeed generates a random seed suitable for algorithm.
func NewSeed(algorithm Algorithm) (uint64, error) {
	switch algorithm {
	case Gear:
		var raw [8]byte
		if _, err := rand.Read(raw[:]); err != nil {
			return 0, fmt.Errorf("generating gear seed: %w", err)
		}
		return binary.LittleEndian.Uint64(raw[:]), nil
	case Rabin:
		polynomial, err := resticchunker.RandomPolynomial()
		if err != nil {
			return 0, fmt.Errorf("generating rabin polynomial: %w", err)
		}
		return uint64(polynomial), nil
	default:
		return 0, fmt.Errorf("unknown chunker algorithm %q", algorithm)
	}
}

// Chunk is one content-defined piece of the input stream.
type Chunk struct {
	// Offset is the position of the first byte of Data in the stream.
	Offset int64

	// Data is the chunk content. It is owned by the caller; the
	// chunker never reuses it.
	Data []byte
}

// Chunker yields the chunks of one stream in order.
type Chunker interface {
	// Next returns the next chunk. After the last chunk it returns
	// io.EOF. A read error from the source is returned unchanged and
	// repeated on every later call.
	Next() (Chunk, error)
}

// New returns a Chunker over r.
func New(r io.Reader, params Params) (Chunker, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunker parameters: %w", err)
	}
	switch params.Algorithm {
	case Rabin:
		return newRabinChunker(r, params), nil
	default:
		return newGearChunker(r, params), nil
	}
}

// All chunks r completely and returns every chunk. For tests and small
// inputs; streaming callers iterate Next instead.
func All(r io.Reader, params Params) ([]Chunk, error) {
	chunker, err := New(r, params)
	if err != nil {
		return nil, err
	}
	var chunks []Chunk
	for {
		chunk, err := chunker.Next()
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
}
