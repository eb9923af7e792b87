// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chunkindex

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/vault/lib/chunkid"
	"github.com/bureau-foundation/vault/lib/codec"
	"github.com/bureau-foundation/vault/lib/segment"
	"github.com/bureau-foundation/vault/lib/sqlitepool"
)

// ErrNoSnapshot reports that no snapshot file exists.
var ErrNoSnapshot = errors.New("no index snapshot")

const snapshotVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id            BLOB PRIMARY KEY,
	segment       INTEGER NOT NULL,
	record_offset INTEGER NOT NULL,
	record_size   INTEGER NOT NULL,
	refs          INTEGER NOT NULL,
	condemned     INTEGER NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
) WITHOUT ROWID;
`

// Meta is stored alongside the entries. A snapshot describes the
// repository only while the segment layout on disk is exactly Layout.
type Meta struct {
	Version           int              `cbor:"version"`
	Layout            map[uint64]int64 `cbor:"layout"`
	Catalog           segment.Location `cbor:"catalog"`
	CatalogGeneration uint64           `cbor:"catalog_generation"`
}

// Matches reports whether the snapshot was taken against layout.
func (m Meta) Matches(layout map[uint64]int64) bool {
	return m.Version == snapshotVersion && maps.Equal(m.Layout, layout)
}

// Save writes the index and meta to a fresh database next to path and
// renames it over path, so a crash leaves either the old snapshot or
// the new one.
func (x *Index) Save(ctx context.Context, path string, meta Meta, logger *slog.Logger) error {
	meta.Version = snapshotVersion
	encodedMeta, err := codec.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding snapshot meta: %w", err)
	}

	temporary := path + ".tmp"
	removeDatabase(temporary)

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     temporary,
		PoolSize: 1,
		Durable:  true,
		Schema:   schema,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	count := 0
	err = pool.WithTransaction(ctx, func(conn *sqlite.Conn) error {
		insert, err := conn.Prepare(`INSERT INTO chunks
			(id, segment, record_offset, record_size, refs, condemned)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		var insertErr error
		x.Range(func(id chunkid.ID, entry Entry) bool {
			insert.BindBytes(1, id[:])
			insert.BindInt64(2, int64(entry.Location.Segment))
			insert.BindInt64(3, entry.Location.Offset)
			insert.BindInt64(4, int64(entry.Location.Size))
			insert.BindInt64(5, int64(entry.Refs))
			insert.BindBool(6, entry.Condemned)
			if _, insertErr = insert.Step(); insertErr != nil {
				return false
			}
			insertErr = insert.Reset()
			count++
			return insertErr == nil
		})
		if insertErr != nil {
			return fmt.Errorf("inserting chunk rows: %w", insertErr)
		}
		return sqlitex.Execute(conn, "INSERT INTO meta (key, value) VALUES ('meta', ?)", &sqlitex.ExecOptions{
			Args: []any{encodedMeta},
		})
	})
	if closeErr := pool.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		removeDatabase(temporary)
		return fmt.Errorf("writing index snapshot: %w", err)
	}

	if err := os.Rename(temporary, path); err != nil {
		removeDatabase(temporary)
		return fmt.Errorf("publishing index snapshot: %w", err)
	}
	if directory, err := os.Open(filepath.Dir(path)); err == nil {
		directory.Sync()
		directory.Close()
	}
	if logger != nil {
		logger.Debug("index snapshot saved", "path", path, "entries", count)
	}
	return nil
}

// Load reads a snapshot written by Save. It returns ErrNoSnapshot when
// path does not exist. The caller decides whether the snapshot is still
// valid by comparing Meta.Layout with the store.
func Load(ctx context.Context, path string, logger *slog.Logger) (*Index, Meta, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, Meta{}, ErrNoSnapshot
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: 1,
		Schema:   schema,
		Logger:   logger,
	})
	if err != nil {
		return nil, Meta{}, err
	}
	defer pool.Close()

	conn, err := pool.Take(ctx)
	if err != nil {
		return nil, Meta{}, err
	}
	defer pool.Put(conn)

	var meta Meta
	var encodedMeta []byte
	err = sqlitex.Execute(conn, "SELECT value FROM meta WHERE key = 'meta'", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			encodedMeta = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, encodedMeta)
			return nil
		},
	})
	if err != nil {
		return nil, Meta{}, fmt.Errorf("reading snapshot meta: %w", err)
	}
	if encodedMeta == nil {
		return nil, Meta{}, fmt.Errorf("snapshot %s has no meta row", path)
	}
	if err := codec.Unmarshal(encodedMeta, &meta); err != nil {
		return nil, Meta{}, fmt.Errorf("decoding snapshot meta: %w", err)
	}

	index := New()
	err = sqlitex.Execute(conn, `SELECT id, segment, record_offset, record_size, refs, condemned FROM chunks`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var id chunkid.ID
			if stmt.ColumnLen(0) != chunkid.Size {
				return fmt.Errorf("chunk row with %d-byte ID", stmt.ColumnLen(0))
			}
			stmt.ColumnBytes(0, id[:])
			index.Restore(id, Entry{
				Location: segment.Location{
					Segment: uint64(stmt.ColumnInt64(1)),
					Offset:  stmt.ColumnInt64(2),
					Size:    uint32(stmt.ColumnInt64(3)),
				},
				Refs:      uint32(stmt.ColumnInt64(4)),
				Condemned: stmt.ColumnBool(5),
			})
			return ctx.Err()
		},
	})
	if err != nil {
		return nil, Meta{}, fmt.Errorf("reading snapshot chunks: %w", err)
	}
	return index, meta, nil
}

func removeDatabase(path string) {
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		os.Remove(path + suffix)
	}
}
