// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunkindex maps chunk IDs to their stored location and
// reference count.
//
// The index is sharded 256 ways by the first byte of the ID. Every
// operation touches exactly one shard under its mutex, which makes each
// single-ID operation linearizable: two concurrent PutIfAbsent calls
// for the same ID have exactly one winner.
//
// Entries live through three states. A live entry has a positive
// reference count. A dead entry has reached zero through DecRef but is
// still found by Lookup and can be revived by IncRef. A condemned entry
// was found unreferenced by garbage collection's live-set snapshot;
// IncRef refuses it and PutIfAbsent replaces it, so data that
// compaction is about to drop is never handed to a new archive.
package chunkindex

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/vault/lib/chunkid"
	"github.com/bureau-foundation/vault/lib/segment"
)

var (
	// ErrNotFound reports an ID that has no usable entry.
	ErrNotFound = errors.New("chunk not in index")

	// ErrUnderflow reports a DecRef of an entry already at zero.
	ErrUnderflow = errors.New("chunk reference count underflow")
)

// Entry is the index record for one chunk.
type Entry struct {
	Location  segment.Location
	Refs      uint32
	Condemned bool
}

// Live reports whether any archive references the chunk.
func (e Entry) Live() bool {
	return e.Refs > 0 && !e.Condemned
}

const shardCount = 256

type shard struct {
	mu      sync.Mutex
	entries map[chunkid.ID]Entry
}

// Index is the in-memory chunk index. The zero value is not usable;
// call New.
type Index struct {
	shards [shardCount]shard
}

// New returns an empty index.
func New() *Index {
	index := &Index{}
	for i := range index.shards {
		index.shards[i].entries = make(map[chunkid.ID]Entry)
	}
	return index
}

func (x *Index) shard(id chunkid.ID) *shard {
	return &x.shards[id[0]]
}

// Lookup returns the entry for id, including dead and condemned
// entries.
func (x *Index) Lookup(id chunkid.ID) (Entry, bool) {
	s := x.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	return entry, ok
}

// PutIfAbsent records a newly stored chunk with one reference. It
// returns false, changing nothing, if a usable entry already exists;
// the caller then takes a reference with IncRef and its own copy
// becomes garbage. A condemned entry counts as absent and is replaced.
func (x *Index) PutIfAbsent(id chunkid.ID, location segment.Location) bool {
	s := x.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[id]; ok && !entry.Condemned {
		return false
	}
	s.entries[id] = Entry{Location: location, Refs: 1}
	return true
}

// IncRef takes a reference to an existing chunk and returns the new
// count. It fails with ErrNotFound for absent and condemned entries.
func (x *Index) IncRef(id chunkid.ID) (uint32, error) {
	s := x.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok || entry.Condemned {
		return 0, ErrNotFound
	}
	entry.Refs++
	s.entries[id] = entry
	return entry.Refs, nil
}

// DecRef releases a reference and returns the new count. An entry that
// reaches zero stays in the index until garbage collection.
func (x *Index) DecRef(id chunkid.ID) (uint32, error) {
	s := x.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id.Short())
	}
	if entry.Refs == 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnderflow, id.Short())
	}
	entry.Refs--
	s.entries[id] = entry
	return entry.Refs, nil
}

// Insert adds an entry with no references while rebuilding from a
// segment scan. When the same ID was stored more than once the first
// location seen wins. Reports whether the entry was added.
func (x *Index) Insert(id chunkid.ID, location segment.Location) bool {
	s := x.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		return false
	}
	s.entries[id] = Entry{Location: location}
	return true
}

// Restore sets an entry verbatim. Used when loading a snapshot.
func (x *Index) Restore(id chunkid.ID, entry Entry) {
	s := x.shard(id)
	s.mu.Lock()
	s.entries[id] = entry
	s.mu.Unlock()
}

// Reconcile replaces every reference count with the exact count in
// counts. Entries that end at zero are condemned. IDs in counts with no
// entry are returned: archives reference chunks the store does not
// hold.
//
// The caller must hold off every IncRef and DecRef for the duration.
func (x *Index) Reconcile(counts map[chunkid.ID]uint32) (missing []chunkid.ID) {
	return x.recount(counts, true)
}

// Recount is Reconcile for counts known to be incomplete: entries that
// end at zero are left dead, not condemned, so IncRef can still revive
// them. Condemned entries stay condemned unless counts references
// them.
func (x *Index) Recount(counts map[chunkid.ID]uint32) (missing []chunkid.ID) {
	return x.recount(counts, false)
}

func (x *Index) recount(counts map[chunkid.ID]uint32, condemn bool) (missing []chunkid.ID) {
	for i := range x.shards {
		s := &x.shards[i]
		s.mu.Lock()
		for id, entry := range s.entries {
			entry.Refs = counts[id]
			if condemn || entry.Refs > 0 {
				entry.Condemned = entry.Refs == 0
			}
			s.entries[id] = entry
		}
		s.mu.Unlock()
	}
	for id := range counts {
		if _, ok := x.Lookup(id); !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// Relocate moves id from one location to another if it is still at
// from. Reports whether the entry moved.
func (x *Index) Relocate(id chunkid.ID, from, to segment.Location) bool {
	s := x.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok || entry.Location != from {
		return false
	}
	entry.Location = to
	s.entries[id] = entry
	return true
}

// RemoveIf deletes every entry for which remove returns true and
// reports how many were deleted. remove runs under a shard lock and
// must not call back into the index.
func (x *Index) RemoveIf(remove func(chunkid.ID, Entry) bool) int {
	removed := 0
	for i := range x.shards {
		s := &x.shards[i]
		s.mu.Lock()
		for id, entry := range s.entries {
			if remove(id, entry) {
				delete(s.entries, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Range calls fn for every entry, one shard at a time, until fn
// returns false. fn runs under a shard lock and must not call back into
// the index.
func (x *Index) Range(fn func(chunkid.ID, Entry) bool) {
	for i := range x.shards {
		s := &x.shards[i]
		s.mu.Lock()
		for id, entry := range s.entries {
			if !fn(id, entry) {
				s.mu.Unlock()
				return
			}
		}
		s.mu.Unlock()
	}
}

// Len returns the number of entries in every state.
func (x *Index) Len() int {
	total := 0
	for i := range x.shards {
		s := &x.shards[i]
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}

// Stats summarizes the index.
type Stats struct {
	Entries    int
	Live       int
	Dead       int
	Condemned  int
	References uint64

	// StoredBytes is the total record size of every entry; LiveBytes
	// counts live entries only.
	StoredBytes int64
	LiveBytes   int64
}

// Stats walks the index and returns its summary.
func (x *Index) Stats() Stats {
	var stats Stats
	x.Range(func(_ chunkid.ID, entry Entry) bool {
		stats.Entries++
		stats.References += uint64(entry.Refs)
		stats.StoredBytes += int64(entry.Location.Size)
		switch {
		case entry.Condemned:
			stats.Condemned++
		case entry.Refs == 0:
			stats.Dead++
		default:
			stats.Live++
			stats.LiveBytes += int64(entry.Location.Size)
		}
		return true
	})
	return stats
}
