// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package repository is the deduplicating backup repository: it ties
// the chunker, the envelope codec, the segment store, the chunk index
// and archive manifests into ingestion, restore and garbage
// collection.
//
// A repository directory holds:
//
//	config     INI file: repository ID, chunker sizes, compression,
//	           segment size, key mode
//	key        age-armored key file: master key and chunker seed
//	lock       flock target; one process opens a repository at a time
//	data/      segment files (see package segment)
//	index.db   SQLite snapshot of the chunk index, rebuilt by rescan
//	           whenever it does not match the segments on disk
//
// # Ingestion
//
// [Repository.Begin] starts a [Transaction]. Every chunk of every file
// is hashed and looked up; a hit takes a reference and skips the codec
// and the store entirely. A miss is encoded, appended, and claimed with
// PutIfAbsent; if a concurrent ingestion claimed the same ID first, the
// loser takes a reference on the winner instead and its own copy
// becomes garbage for the next compaction. [Transaction.Commit] stores
// the item stream and the archive header as chunks and then appends a
// new catalog followed by a COMMIT record. That append is the
// durability boundary: a crash before it leaves orphaned chunks, never
// a partially visible archive.
//
// # Garbage collection
//
// [Repository.GC] takes a barrier that waits for in-flight
// transactions, seals the open segment, recounts every reference held
// by every archive and condemns unreferenced chunks. The barrier is
// then released and compaction rewrites sealed segments while new
// ingestion continues into fresh segments. A condemned chunk cannot be
// referenced again; ingesting the same content stores a new copy.
//
// # Recovery
//
// The index snapshot is a cache. [Repository.RebuildIndex] recreates
// the index from the segments alone: every PUT record becomes an entry,
// the committed catalog with the highest generation becomes the
// catalog, and reference counts are recomputed from its archives.
package repository
