// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/bureau-foundation/vault/lib/chunkid"
	"github.com/bureau-foundation/vault/lib/chunkindex"
	"github.com/bureau-foundation/vault/lib/manifest"
	"github.com/bureau-foundation/vault/lib/segment"
)

// RebuildStats summarizes an index rebuild.
type RebuildStats struct {
	Records int

	// Chunks counts distinct chunk IDs; Copies counts PUT records for
	// IDs already seen.
	Chunks int
	Copies int

	// Catalogs counts committed catalog records; Generation is the one
	// chosen.
	Catalogs   int
	Generation uint64

	// Damaged counts stretches of segment data skipped as corrupt;
	// DamagedBytes is their total length.
	Damaged      int
	DamagedBytes int64

	Archives   int
	Unreadable int
	Missing    int
}

// RebuildIndex discards the index and recreates it from the segments.
// Reads may continue during the rebuild; transactions, deletes and GC
// wait for it.
func (r *Repository) RebuildIndex(ctx context.Context) (RebuildStats, error) {
	if err := r.checkOpen(); err != nil {
		return RebuildStats{}, err
	}
	r.gcMu.Lock()
	defer r.gcMu.Unlock()
	r.txnMu.Lock()
	defer r.txnMu.Unlock()
	return r.rebuild(ctx)
}

type catalogCandidate struct {
	location segment.Location
	catalog  *manifest.Catalog
}

// rebuild scans every record. PUT records become index entries with no
// references. A catalog record counts only if a COMMIT follows it in
// the same segment; of those, the highest generation wins. Reference
// counts are then recomputed from the winning catalog's archives.
//
// Corrupt records are skipped, not fatal: a chunk whose only copy was
// damaged shows up as missing, and every other chunk stays reachable.
// While any archive is unreadable, unreferenced entries are left dead
// rather than condemned, since the unreadable archive may hold them.
func (r *Repository) rebuild(ctx context.Context) (RebuildStats, error) {
	var (
		stats   RebuildStats
		index   = chunkindex.New()
		current = uint64(math.MaxUint64)
		pending []catalogCandidate
		best    *catalogCandidate
	)
	damaged := func(damage segment.Damage) {
		stats.Damaged++
		stats.DamagedBytes += damage.Length
	}
	err := r.store.Salvage(ctx, func(record segment.Record) error {
		stats.Records++
		if record.Location.Segment != current {
			current = record.Location.Segment
			pending = pending[:0]
		}
		switch record.Tag {
		case segment.TagCommit:
			for _, candidate := range pending {
				if best == nil || candidate.catalog.Generation >= best.catalog.Generation {
					best = &candidate
				}
			}
			stats.Catalogs += len(pending)
			pending = pending[:0]
		case segment.TagPut:
			if record.ID == catalogID {
				catalog, err := decodeCatalog(r.codec, record.Payload)
				if err != nil {
					r.logger.Warn("skipping unreadable catalog record", "location", record.Location, "error", err)
					return nil
				}
				pending = append(pending, catalogCandidate{location: record.Location, catalog: catalog})
				return nil
			}
			if index.Insert(record.ID, record.Location) {
				stats.Chunks++
			} else {
				stats.Copies++
			}
		}
		return nil
	}, damaged)
	if err != nil {
		return stats, fmt.Errorf("scanning segments: %w", err)
	}

	catalog := manifest.NewCatalog()
	var location segment.Location
	if best != nil {
		catalog = best.catalog
		location = best.location
		stats.Generation = catalog.Generation
	} else {
		r.logger.Warn("no committed catalog found, starting with an empty one")
	}

	r.index.Store(index)
	r.catalogMu.Lock()
	r.catalog = catalog
	r.catalogLocation = location
	r.catalogMu.Unlock()

	counts := make(map[chunkid.ID]uint32)
	for _, name := range catalog.Names() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		entry, _ := catalog.Get(name)
		archive, err := r.loadArchive(ctx, entry.ID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return stats, err
			}
			stats.Unreadable++
			r.logger.Error("archive unreadable during index rebuild", "archive", name, "error", err)
			continue
		}
		stats.Archives++
		for id, count := range archive.References() {
			counts[id] += count
		}
	}
	if stats.Unreadable > 0 {
		stats.Missing = len(index.Recount(counts))
	} else {
		stats.Missing = len(index.Reconcile(counts))
	}

	r.metrics.indexRebuilds.Inc()
	r.metrics.archives.Set(float64(catalog.Len()))
	r.logger.Info("index rebuilt",
		"records", stats.Records,
		"damaged", stats.Damaged,
		"damaged_bytes", stats.DamagedBytes,
		"chunks", stats.Chunks,
		"copies", stats.Copies,
		"catalog_generation", stats.Generation,
		"archives", stats.Archives,
		"unreadable_archives", stats.Unreadable,
		"missing_chunks", stats.Missing,
	)
	return stats, nil
}
