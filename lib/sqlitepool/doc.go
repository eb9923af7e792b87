// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool is the SQLite connection pool behind the vault's
// on-disk index snapshot.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool and applies one set of
// pragmas to every connection:
//
//   - journal_mode=WAL: readers never block the single writer.
//   - synchronous=NORMAL, or FULL when [Config.Durable] is set. The
//     index snapshot is a cache of what the segments already hold, so
//     NORMAL is enough there; a lost snapshot costs a rescan, not data.
//   - busy_timeout=5000: wait for the write lock instead of failing
//     with SQLITE_BUSY.
//   - cache_size=-8192 and temp_store=MEMORY.
//
// The optional [Config.Schema] script runs on every new connection, so
// it must be idempotent (CREATE TABLE IF NOT EXISTS).
//
// Callers either [Pool.Take] and [Pool.Put] connections themselves or
// use [Pool.WithTransaction], which holds an IMMEDIATE transaction for
// the duration of a callback and rolls back if the callback fails.
package sqlitepool
