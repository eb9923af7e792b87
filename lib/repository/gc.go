// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/vault/lib/chunkid"
	"github.com/bureau-foundation/vault/lib/chunkindex"
	"github.com/bureau-foundation/vault/lib/clock"
	"github.com/bureau-foundation/vault/lib/manifest"
	"github.com/bureau-foundation/vault/lib/segment"
)

// GCOptions controls a garbage collection pass.
type GCOptions struct {
	// Threshold is the dead fraction at which a segment is rewritten.
	// Zero selects segment.DefaultCompactThreshold; a negative value
	// rewrites every segment holding any garbage.
	Threshold float64
}

// GCStats summarizes a garbage collection pass.
type GCStats struct {
	Archives   int
	References uint64

	// Live and Condemned count index entries right after the recount.
	Live      int
	Condemned int

	// Missing counts chunks that archives reference but the index does
	// not hold. Nonzero means the repository is damaged; run Check.
	Missing int

	// Removed counts condemned entries dropped because compaction
	// deleted their records.
	Removed int

	Compaction segment.CompactStats
	Duration   time.Duration
}

// GC recounts references, condemns unreferenced chunks and compacts
// segments. It waits for in-flight transactions before recounting and
// blocks new ones only until the recount is done; compaction then runs
// alongside ingestion.
func (r *Repository) GC(ctx context.Context, options GCOptions) (GCStats, error) {
	if err := r.checkOpen(); err != nil {
		return GCStats{}, err
	}
	r.gcMu.Lock()
	defer r.gcMu.Unlock()
	start := r.clock.Now()

	stats, before, err := r.recount(ctx)
	if err != nil {
		return stats, err
	}

	index := r.chunks()
	compaction, err := r.store.Compact(ctx, segment.CompactOptions{
		Before:    before,
		Threshold: options.Threshold,
		Keep: func(id chunkid.ID, location segment.Location) bool {
			if id == catalogID {
				return r.keepCatalog(location)
			}
			entry, ok := index.Lookup(id)
			return ok && !entry.Condemned && entry.Location == location
		},
		Relocate: func(id chunkid.ID, from, to segment.Location) {
			if id == catalogID {
				r.relocateCatalog(from, to)
				return
			}
			index.Relocate(id, from, to)
		},
	})
	stats.Compaction = compaction
	r.metrics.gcBytesFreed.Add(float64(compaction.BytesFreed))
	if err != nil {
		return stats, fmt.Errorf("compacting segments: %w", err)
	}

	stats.Removed = index.RemoveIf(func(_ chunkid.ID, entry chunkindex.Entry) bool {
		return entry.Condemned && !r.store.Has(entry.Location.Segment)
	})
	stats.Duration = clock.Since(r.clock, start)
	r.metrics.gcRuns.Inc()
	r.metrics.gcDuration.Observe(stats.Duration.Seconds())

	r.logger.Info("garbage collection finished",
		"archives", stats.Archives,
		"live_chunks", stats.Live,
		"condemned_chunks", stats.Condemned,
		"removed_entries", stats.Removed,
		"segments_compacted", compaction.SegmentsCompacted,
		"bytes_freed", compaction.BytesFreed,
		"duration", stats.Duration,
	)
	return stats, nil
}

// recount runs under the exclusive barrier: it seals the open segment,
// counts every reference of every archive and reconciles the index with
// the counts. It returns the first segment number compaction must not
// touch.
func (r *Repository) recount(ctx context.Context) (GCStats, uint64, error) {
	r.txnMu.Lock()
	defer r.txnMu.Unlock()

	if err := r.store.Seal(); err != nil {
		return GCStats{}, 0, err
	}
	before := r.store.NextSegment()

	catalog := r.currentCatalog()
	counts, err := r.countReferences(ctx, catalog)
	if err != nil {
		// Condemning with an archive unaccounted for would destroy
		// its data.
		return GCStats{}, 0, fmt.Errorf("counting references: %w", err)
	}

	index := r.chunks()
	missing := index.Reconcile(counts)
	for i, id := range missing {
		if i == 10 {
			r.logger.Error("more archive chunks are missing", "count", len(missing)-i)
			break
		}
		r.logger.Error("archive references a chunk the repository does not hold", "chunk", id.Short())
	}

	indexStats := index.Stats()
	stats := GCStats{
		Archives:   catalog.Len(),
		References: indexStats.References,
		Live:       indexStats.Live,
		Condemned:  indexStats.Condemned,
		Missing:    len(missing),
	}
	return stats, before, nil
}

// countReferences loads every archive in catalog and sums the
// references each holds.
func (r *Repository) countReferences(ctx context.Context, catalog *manifest.Catalog) (map[chunkid.ID]uint32, error) {
	counts := make(map[chunkid.ID]uint32)
	for _, name := range catalog.Names() {
		entry, _ := catalog.Get(name)
		archive, err := r.loadArchive(ctx, entry.ID)
		if err != nil {
			return nil, fmt.Errorf("archive %s: %w", name, err)
		}
		for id, count := range archive.References() {
			counts[id] += count
		}
	}
	return counts, nil
}
