// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"context"
	"errors"
	"testing"

	"github.com/bureau-foundation/vault/lib/chunkid"
)

// liveSet is a minimal stand-in for the chunk index: the location each
// live ID is expected at.
type liveSet map[chunkid.ID]Location

func (l liveSet) keep(id chunkid.ID, location Location) bool {
	current, ok := l[id]
	return ok && current == location
}

func (l liveSet) relocate(id chunkid.ID, from, to Location) {
	if l[id] == from {
		l[id] = to
	}
}

func TestCompactMovesLiveRecordsAndDeletesSource(t *testing.T) {
	store := openStore(t, t.TempDir(), Options{})
	locations := appendN(t, store, 0, 10)
	if err := store.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	source := locations[0].Segment

	live := liveSet{}
	for i := 0; i < 10; i += 2 {
		live[testID(i)] = locations[i]
	}

	stats, err := store.Compact(context.Background(), CompactOptions{
		Before:   store.NextSegment(),
		Keep:     live.keep,
		Relocate: live.relocate,
	})
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if stats.SegmentsCompacted != 1 || stats.RecordsMoved != 5 {
		t.Fatalf("stats = %+v, want 1 segment compacted and 5 records moved", stats)
	}
	if stats.BytesFreed <= 0 {
		t.Errorf("BytesFreed = %d, want positive", stats.BytesFreed)
	}
	if store.Has(source) {
		t.Fatalf("source segment %d still present after compaction", source)
	}

	for i := 0; i < 10; i += 2 {
		moved := live[testID(i)]
		if moved.Segment == source {
			t.Errorf("record %d was not relocated", i)
			continue
		}
		payload, err := store.Read(testID(i), moved)
		if err != nil {
			t.Errorf("Read(%d) at new location: %v", i, err)
			continue
		}
		if string(payload) != string(testPayload(i)) {
			t.Errorf("record %d payload changed during compaction", i)
		}
	}
	if _, err := store.Read(testID(1), locations[1]); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read of a dead record after compaction = %v, want ErrNotFound", err)
	}
}

func TestCompactSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	locations := appendN(t, store, 0, 6)
	store.Seal()

	live := liveSet{testID(0): locations[0], testID(5): locations[5]}
	if _, err := store.Compact(context.Background(), CompactOptions{Keep: live.keep, Relocate: live.relocate}); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	store.Close()

	reopened := openStore(t, dir, Options{})
	var ids []chunkid.ID
	var commits int
	reopened.Scan(context.Background(), func(record Record) error {
		if record.Tag == TagCommit {
			commits++
			return nil
		}
		ids = append(ids, record.ID)
		return nil
	})
	if len(ids) != 2 || ids[0] != testID(0) || ids[1] != testID(5) {
		t.Fatalf("records after compaction and reopen = %v", ids)
	}
	if commits != 1 {
		t.Errorf("compaction output holds %d COMMIT records, want 1", commits)
	}
}

func TestCompactThreshold(t *testing.T) {
	store := openStore(t, t.TempDir(), Options{})
	locations := appendN(t, store, 0, 20)
	store.Seal()

	// One dead record in twenty is about 5% dead.
	live := liveSet{}
	for i := 1; i < 20; i++ {
		live[testID(i)] = locations[i]
	}

	stats, err := store.Compact(context.Background(), CompactOptions{Keep: live.keep, Relocate: live.relocate})
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if stats.SegmentsCompacted != 0 {
		t.Fatalf("default threshold compacted a 5%%-dead segment: %+v", stats)
	}

	stats, err = store.Compact(context.Background(), CompactOptions{Threshold: -1, Keep: live.keep, Relocate: live.relocate})
	if err != nil {
		t.Fatalf("full Compact: %v", err)
	}
	if stats.SegmentsCompacted != 1 || stats.RecordsMoved != 19 {
		t.Fatalf("full compaction stats = %+v, want 1 segment and 19 records", stats)
	}
}

func TestCompactSkipsOpenAndNewerSegments(t *testing.T) {
	store := openStore(t, t.TempDir(), Options{})
	sealed := appendN(t, store, 0, 4)
	store.Seal()
	before := store.NextSegment()
	open := appendN(t, store, 4, 4)

	live := liveSet{}
	stats, err := store.Compact(context.Background(), CompactOptions{
		Before:    before,
		Threshold: -1,
		Keep:      live.keep,
		Relocate:  live.relocate,
	})
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if stats.SegmentsCompacted != 1 {
		t.Fatalf("stats = %+v, want exactly the sealed segment compacted", stats)
	}
	if store.Has(sealed[0].Segment) {
		t.Error("fully dead sealed segment survived")
	}
	for i, location := range open {
		if _, err := store.Read(testID(4+i), location); err != nil {
			t.Errorf("record %d in the open segment: %v", 4+i, err)
		}
	}
}

func TestCompactRotatesOutput(t *testing.T) {
	store := openStore(t, t.TempDir(), Options{SegmentSize: 1024})
	locations := appendN(t, store, 0, 30)
	store.Seal()

	live := liveSet{}
	for i, location := range locations {
		if i%3 != 0 {
			live[testID(i)] = location
		}
	}
	before := store.NextSegment()
	if _, err := store.Compact(context.Background(), CompactOptions{Before: before, Keep: live.keep, Relocate: live.relocate}); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	for id, location := range live {
		if location.Segment < before {
			t.Errorf("%s still points at source segment %d", id.Short(), location.Segment)
		}
		if _, err := store.Read(id, location); err != nil {
			t.Errorf("Read %s: %v", id.Short(), err)
		}
	}
	for number, size := range store.Layout() {
		if size > 1024 {
			t.Errorf("output segment %d grew to %d bytes", number, size)
		}
	}
}

func TestCompactRequiresCallbacks(t *testing.T) {
	store := openStore(t, t.TempDir(), Options{})
	if _, err := store.Compact(context.Background(), CompactOptions{}); err == nil {
		t.Fatal("Compact without callbacks succeeded")
	}
}
