// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/bureau-foundation/vault/lib/chunkid"
)

// DefaultCompactThreshold is the fraction of dead bytes at which a
// segment is worth rewriting.
const DefaultCompactThreshold = 0.1

// CompactOptions controls a compaction pass.
type CompactOptions struct {
	// Before limits compaction to segments numbered below it. The
	// caller passes NextSegment() taken after sealing, so segments
	// written concurrently with compaction are never candidates.
	// Zero means every segment except the open one.
	Before uint64

	// Threshold is the dead fraction at which a segment is rewritten.
	// Zero selects DefaultCompactThreshold. A negative threshold
	// rewrites every segment holding any dead bytes.
	Threshold float64

	// Keep decides whether the PUT record for id at location is live.
	// It is consulted twice per candidate: once to measure, once
	// while copying. COMMIT records are never copied; every output
	// segment ends in its own COMMIT.
	Keep func(id chunkid.ID, location Location) bool

	// Relocate is called for every copied record once the segment
	// holding the copy is durable, and before the source segment is
	// deleted.
	Relocate func(id chunkid.ID, from, to Location)
}

// CompactStats summarizes a compaction pass.
type CompactStats struct {
	SegmentsScanned   int
	SegmentsCompacted int
	RecordsMoved      int
	BytesMoved        int64
	BytesFreed        int64
}

// Compact rewrites sealed segments whose dead fraction reaches the
// threshold. Live records are copied into fresh segments written as
// temporary files; a finished output segment is committed, fsynced and
// renamed into place, its moves are reported through Relocate, and only
// then are the source segments it completed deleted. An interrupted
// compaction leaves every source segment intact.
func (s *Store) Compact(ctx context.Context, options CompactOptions) (CompactStats, error) {
	if options.Keep == nil || options.Relocate == nil {
		return CompactStats{}, fmt.Errorf("compaction requires Keep and Relocate")
	}
	if options.Threshold == 0 {
		options.Threshold = DefaultCompactThreshold
	}

	s.compactMu.Lock()
	defer s.compactMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return CompactStats{}, ErrClosed
	}
	before := options.Before
	if before == 0 {
		before = s.next
	}
	layout := maps.Clone(s.sizes)
	if s.open != nil {
		delete(layout, s.open.number)
	}
	s.mu.Unlock()

	run := &compaction{store: s, options: options}
	defer run.abandon()

	for _, number := range slices.Sorted(maps.Keys(layout)) {
		if number >= before {
			continue
		}
		if err := ctx.Err(); err != nil {
			return run.stats, err
		}
		if err := run.consider(ctx, number, layout[number]); err != nil {
			return run.stats, err
		}
	}
	if err := run.flush(); err != nil {
		return run.stats, err
	}

	s.logger.Info("compaction finished",
		"segments_scanned", run.stats.SegmentsScanned,
		"segments_compacted", run.stats.SegmentsCompacted,
		"records_moved", run.stats.RecordsMoved,
		"bytes_freed", run.stats.BytesFreed,
	)
	return run.stats, nil
}

type move struct {
	id       chunkid.ID
	from, to Location
}

// compaction holds the state of one Compact call: the current output
// writer, moves awaiting its publication, and sources awaiting
// deletion.
type compaction struct {
	store   *Store
	options CompactOptions
	stats   CompactStats

	output  *writer
	moves   []move
	sources []uint64
	freed   map[uint64]int64
}

func (c *compaction) consider(ctx context.Context, number uint64, size int64) error {
	c.stats.SegmentsScanned++

	var live, dead int64
	err := c.store.scanSegment(ctx, number, size, nil, func(record Record) error {
		if record.Tag != TagPut {
			return nil
		}
		if c.options.Keep(record.ID, record.Location) {
			live += int64(record.Location.Size)
		} else {
			dead += int64(record.Location.Size)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("measuring segment %d: %w", number, err)
	}
	if dead == 0 {
		return nil
	}
	if c.options.Threshold >= 0 && float64(dead)/float64(size) < c.options.Threshold {
		return nil
	}

	c.store.logger.Debug("compacting segment",
		"segment", number,
		"live_bytes", live,
		"dead_bytes", dead,
	)

	var moved int64
	err = c.store.scanSegment(ctx, number, size, nil, func(record Record) error {
		if record.Tag != TagPut || !c.options.Keep(record.ID, record.Location) {
			return nil
		}
		to, err := c.copy(record)
		if err != nil {
			return err
		}
		c.moves = append(c.moves, move{id: record.ID, from: record.Location, to: to})
		moved += int64(record.Location.Size)
		return nil
	})
	if err != nil {
		return fmt.Errorf("copying segment %d: %w", number, err)
	}

	c.stats.SegmentsCompacted++
	if c.freed == nil {
		c.freed = make(map[uint64]int64)
	}
	c.freed[number] = size - moved
	c.sources = append(c.sources, number)
	if c.output == nil {
		// Nothing pending in an output: the source can go now.
		return c.flush()
	}
	return nil
}

func (c *compaction) copy(record Record) (Location, error) {
	encoded := encodePut(record.ID, record.Payload)
	if c.output != nil && c.output.size > fileHeaderSize &&
		c.output.size+int64(len(encoded))+commitRecordSize > c.store.options.SegmentSize {
		if err := c.flush(); err != nil {
			return Location{}, err
		}
	}
	if c.output == nil {
		c.store.mu.Lock()
		number := c.store.next
		c.store.next++
		c.store.mu.Unlock()
		output, err := createWriter(c.store.path(number), number, true)
		if err != nil {
			return Location{}, err
		}
		c.output = output
	}
	offset, err := c.output.write(encoded)
	if err != nil {
		return Location{}, err
	}
	c.stats.RecordsMoved++
	c.stats.BytesMoved += int64(len(encoded))
	return Location{Segment: c.output.number, Offset: offset, Size: uint32(len(encoded))}, nil
}

// flush publishes the current output, applies its moves and deletes
// every source segment whose live records are all in published output.
// A source still being copied is not in c.sources yet.
func (c *compaction) flush() error {
	if c.output != nil {
		output := c.output
		c.output = nil
		if err := output.finish(); err != nil {
			output.abandon()
			return err
		}
		c.store.mu.Lock()
		c.store.sizes[output.number] = output.size
		c.store.mu.Unlock()
	}

	for _, m := range c.moves {
		c.options.Relocate(m.id, m.from, m.to)
	}
	c.moves = c.moves[:0]

	for _, number := range c.sources {
		if err := c.store.removeSegment(number); err != nil {
			return err
		}
		c.stats.BytesFreed += c.freed[number]
		c.store.logger.Debug("removed compacted segment", "segment", number)
	}
	c.sources = c.sources[:0]
	return nil
}

func (c *compaction) abandon() {
	if c.output != nil {
		c.output.abandon()
		c.output = nil
	}
}
