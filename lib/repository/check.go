// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/bureau-foundation/vault/lib/chunkid"
	"github.com/bureau-foundation/vault/lib/chunkindex"
	"github.com/bureau-foundation/vault/lib/segment"
)

// CheckOptions controls a consistency check.
type CheckOptions struct {
	// SkipData skips decoding every indexed chunk, checking only the
	// segment framing and archive references.
	SkipData bool
}

// CheckReport is the result of a consistency check.
type CheckReport struct {
	Records  int
	Chunks   int
	Archives int

	// Damaged counts stretches of segment data that failed to decode.
	Damaged int

	// Leaked counts references held in the index beyond what archives
	// account for, left by aborted transactions until the next GC.
	Leaked uint64

	Problems []string
}

// OK reports whether the check found no problems.
func (c CheckReport) OK() bool {
	return len(c.Problems) == 0
}

func (c *CheckReport) problem(format string, args ...any) {
	c.Problems = append(c.Problems, fmt.Sprintf(format, args...))
}

// Check verifies the repository: every segment record's checksum, that
// every indexed chunk decodes and hashes to its ID, that every archive
// loads and that every reference it holds resolves and is counted.
// Corrupt segment data is reported and stepped over, so every segment
// is checked. Problems are reported, not repaired; RebuildIndex repairs
// an index that disagrees with the segments. Transactions wait for the
// check.
func (r *Repository) Check(ctx context.Context, options CheckOptions) (CheckReport, error) {
	if err := r.checkOpen(); err != nil {
		return CheckReport{}, err
	}
	r.gcMu.Lock()
	defer r.gcMu.Unlock()
	r.txnMu.Lock()
	defer r.txnMu.Unlock()

	var report CheckReport
	index := r.chunks()

	err := r.store.Salvage(ctx, func(record segment.Record) error {
		report.Records++
		if record.Tag != segment.TagPut || record.ID == catalogID {
			return nil
		}
		if _, ok := index.Lookup(record.ID); !ok {
			report.problem("record %s at %s is not in the index", record.ID.Short(), record.Location)
		}
		return nil
	}, func(damage segment.Damage) {
		report.Damaged++
		report.problem("%d corrupt bytes skipped: %v", damage.Length, damage.Err)
	})
	if err != nil {
		return report, fmt.Errorf("scanning segments: %w", err)
	}

	var ids []chunkid.ID
	entries := make(map[chunkid.ID]chunkindex.Entry)
	index.Range(func(id chunkid.ID, entry chunkindex.Entry) bool {
		entries[id] = entry
		if !entry.Condemned {
			ids = append(ids, id)
		}
		return true
	})
	report.Chunks = len(entries)
	if !options.SkipData {
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if _, err := r.readEntry(id, entries[id]); err != nil {
				report.problem("chunk %s: %v", id.Short(), err)
			}
		}
	}

	catalog := r.currentCatalog()
	counts := make(map[chunkid.ID]uint32)
	for _, name := range catalog.Names() {
		entry, _ := catalog.Get(name)
		archive, err := r.loadArchive(ctx, entry.ID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			report.problem("archive %s: %v", name, err)
			continue
		}
		report.Archives++
		for id, count := range archive.References() {
			counts[id] += count
		}
	}
	r.checkCounts(&report, counts, entries)

	r.logger.Info("check finished",
		"records", report.Records,
		"chunks", report.Chunks,
		"archives", report.Archives,
		"problems", len(report.Problems),
	)
	return report, nil
}

func (r *Repository) checkCounts(report *CheckReport, counts map[chunkid.ID]uint32, entries map[chunkid.ID]chunkindex.Entry) {
	for _, id := range slices.SortedFunc(maps.Keys(counts), chunkid.Compare) {
		want := counts[id]
		entry, ok := entries[id]
		switch {
		case !ok:
			report.problem("chunk %s is referenced %d times but missing", id.Short(), want)
		case entry.Condemned:
			report.problem("chunk %s is referenced %d times but condemned", id.Short(), want)
		case entry.Refs < want:
			report.problem("chunk %s has %d references, archives hold %d", id.Short(), entry.Refs, want)
		default:
			report.Leaked += uint64(entry.Refs - want)
		}
	}
	for id, entry := range entries {
		if _, referenced := counts[id]; !referenced && entry.Refs > 0 {
			report.Leaked += uint64(entry.Refs)
		}
	}
}

// Info describes a repository.
type Info struct {
	Path     string
	Config   Config
	Archives int
	Index    chunkindex.Stats

	Segments     int
	SegmentBytes int64
}

// Info returns repository statistics.
func (r *Repository) Info() (Info, error) {
	if err := r.checkOpen(); err != nil {
		return Info{}, err
	}
	layout := r.store.Layout()
	var total int64
	for _, size := range layout {
		total += size
	}
	return Info{
		Path:         r.path,
		Config:       r.config,
		Archives:     r.currentCatalog().Len(),
		Index:        r.chunks().Stats(),
		Segments:     len(layout),
		SegmentBytes: total,
	}, nil
}
