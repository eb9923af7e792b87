// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/vault/lib/chunker"
	"github.com/bureau-foundation/vault/lib/chunkid"
	"github.com/bureau-foundation/vault/lib/clock"
	"github.com/bureau-foundation/vault/lib/manifest"
)

// FileInfo is the metadata of one item handed to a transaction.
type FileInfo struct {
	// Path is relative to the archive root and slash-separated.
	Path    string
	Mode    fs.FileMode
	UID     uint32
	GID     uint32
	ModTime time.Time

	// Target is the link target of a symlink.
	Target string
}

// storedModeBits are the fs.FileMode bits an entry keeps.
const storedModeBits = fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky

// TransactionStats counts what a transaction has ingested so far.
type TransactionStats struct {
	Files   int
	Entries int

	// Bytes is the plaintext size of file content.
	Bytes int64

	// NewChunks were encoded and stored; Duplicates took the dedup
	// fast path; Conflicts lost a concurrent store of the same chunk.
	NewChunks  int64
	Duplicates int64
	Conflicts  int64
}

// Transaction builds one archive. AddFile and AddEntry may be called
// concurrently. The transaction holds the garbage collection barrier
// shared until Commit or Abort, so every transaction must end in one of
// them.
type Transaction struct {
	repo *Repository
	info manifest.ArchiveInfo

	mu      sync.Mutex
	builder *manifest.Builder
	done    bool
	active  sync.WaitGroup
	files   int
	bytes   int64

	newChunks  atomic.Int64
	duplicates atomic.Int64
	conflicts  atomic.Int64
}

// Begin starts a transaction for a new archive. Start defaults to now.
// Begin blocks while garbage collection is taking its live-set
// snapshot.
func (r *Repository) Begin(info manifest.ArchiveInfo) (*Transaction, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if info.Name == "" {
		return nil, fmt.Errorf("archive name is empty")
	}
	if _, exists := r.currentCatalog().Get(info.Name); exists {
		return nil, fmt.Errorf("%w: %s", ErrArchiveExists, info.Name)
	}
	if info.Start.IsZero() {
		info.Start = r.clock.Now()
	}

	r.txnMu.RLock()
	if r.closed.Load() {
		r.txnMu.RUnlock()
		return nil, ErrClosed
	}
	r.logger.Debug("transaction started", "archive", info.Name)
	return &Transaction{repo: r, info: info, builder: manifest.NewBuilder()}, nil
}

// enter registers an in-flight call. Commit and Abort wait for every
// entered call to leave before releasing the barrier.
func (t *Transaction) enter() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTransactionDone
	}
	t.active.Add(1)
	return nil
}

// finish marks the transaction done and waits out in-flight calls.
// It reports false if the transaction was already done.
func (t *Transaction) finish() (*manifest.Builder, bool) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil, false
	}
	t.done = true
	builder := t.builder
	t.builder = nil
	t.mu.Unlock()
	t.active.Wait()
	return builder, true
}

// AddFile chunks content and adds a regular file entry. Chunks are
// hashed and encoded on a bounded worker pool; the returned entry lists
// them in stream order.
func (t *Transaction) AddFile(ctx context.Context, info FileInfo, content io.Reader) (manifest.FileEntry, error) {
	if err := t.enter(); err != nil {
		return manifest.FileEntry{}, err
	}
	defer t.active.Done()

	if kind, ok := manifest.KindOf(info.Mode); !ok || kind != manifest.KindFile {
		return manifest.FileEntry{}, fmt.Errorf("%s: AddFile takes regular files, mode is %s", info.Path, info.Mode)
	}
	path, err := t.reserve(info.Path)
	if err != nil {
		return manifest.FileEntry{}, err
	}

	refs, size, err := t.ingest(ctx, content)
	if err != nil {
		return manifest.FileEntry{}, fmt.Errorf("ingesting %s: %w", path, err)
	}
	entry := manifest.FileEntry{
		Path:    path,
		Kind:    manifest.KindFile,
		Mode:    uint32(info.Mode & storedModeBits),
		UID:     info.UID,
		GID:     info.GID,
		ModTime: info.ModTime.UnixNano(),
		Size:    size,
		Chunks:  refs,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.builder.Add(entry); err != nil {
		return manifest.FileEntry{}, err
	}
	t.files++
	t.bytes += size
	return entry, nil
}

// AddEntry adds a directory or symlink entry.
func (t *Transaction) AddEntry(info FileInfo) (manifest.FileEntry, error) {
	if err := t.enter(); err != nil {
		return manifest.FileEntry{}, err
	}
	defer t.active.Done()

	kind, ok := manifest.KindOf(info.Mode)
	if !ok {
		return manifest.FileEntry{}, fmt.Errorf("%s: unsupported file type %s", info.Path, info.Mode.Type())
	}
	if kind == manifest.KindFile {
		return manifest.FileEntry{}, fmt.Errorf("%s: regular files need AddFile", info.Path)
	}
	path, err := manifest.CleanPath(info.Path)
	if err != nil {
		return manifest.FileEntry{}, err
	}
	entry := manifest.FileEntry{
		Path:    path,
		Kind:    kind,
		Mode:    uint32(info.Mode & storedModeBits),
		UID:     info.UID,
		GID:     info.GID,
		ModTime: info.ModTime.UnixNano(),
		Target:  info.Target,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.builder.Add(entry); err != nil {
		return manifest.FileEntry{}, err
	}
	return entry, nil
}

// reserve normalizes path and fails early if it is already in the
// archive, before any content is read.
func (t *Transaction) reserve(path string) (string, error) {
	cleaned, err := manifest.CleanPath(path)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.builder.Has(cleaned) {
		return "", fmt.Errorf("%w: %s", manifest.ErrDuplicatePath, cleaned)
	}
	return cleaned, nil
}

// ingest chunks content and takes one reference per chunk.
func (t *Transaction) ingest(ctx context.Context, content io.Reader) ([]manifest.ChunkRef, int64, error) {
	stream, err := chunker.New(content, t.repo.params)
	if err != nil {
		return nil, 0, err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(t.repo.workers)

	var (
		pending []*manifest.ChunkRef
		size    int64
		readErr error
	)
	for groupCtx.Err() == nil {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = err
			break
		}
		ref := &manifest.ChunkRef{Size: uint32(len(chunk.Data))}
		pending = append(pending, ref)
		size += int64(len(chunk.Data))
		group.Go(func() error {
			ref.ID = t.repo.hasher.Sum(chunk.Data)
			result, err := t.repo.storeChunk(ref.ID, chunk.Data)
			if err != nil {
				return err
			}
			t.count(result)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, 0, err
	}
	if readErr != nil {
		return nil, 0, readErr
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	refs := make([]manifest.ChunkRef, len(pending))
	for i, ref := range pending {
		refs[i] = *ref
	}
	return refs, size, nil
}

func (t *Transaction) count(result storeResult) {
	switch result {
	case storedNew:
		t.newChunks.Add(1)
	case storedDuplicate:
		t.duplicates.Add(1)
	case storedConflict:
		t.conflicts.Add(1)
	}
}

// Stats returns the transaction's counters.
func (t *Transaction) Stats() TransactionStats {
	t.mu.Lock()
	files, bytes := t.files, t.bytes
	entries := 0
	if t.builder != nil {
		entries = t.builder.Len()
	}
	t.mu.Unlock()
	return TransactionStats{
		Files:      files,
		Entries:    entries,
		Bytes:      bytes,
		NewChunks:  t.newChunks.Load(),
		Duplicates: t.duplicates.Load(),
		Conflicts:  t.conflicts.Load(),
	}
}

// Commit stores the archive and registers it in the catalog. It returns
// the archive ID. The catalog commit is the durability boundary: if
// Commit fails, the archive does not exist and the chunks it stored are
// left for garbage collection.
func (t *Transaction) Commit(ctx context.Context) (chunkid.ID, error) {
	builder, ok := t.finish()
	if !ok {
		return chunkid.ID{}, ErrTransactionDone
	}
	r := t.repo
	defer r.txnMu.RUnlock()
	start := r.clock.Now()

	info := t.info
	info.End = start
	archive := builder.Build(info)

	var items bytes.Buffer
	if err := manifest.EncodeItems(&items, archive.Entries()); err != nil {
		return chunkid.ID{}, err
	}
	itemRefs, _, err := t.ingest(ctx, &items)
	if err != nil {
		return chunkid.ID{}, fmt.Errorf("storing item stream: %w", err)
	}
	itemIDs := make([]chunkid.ID, len(itemRefs))
	for i, ref := range itemRefs {
		itemIDs[i] = ref.ID
	}

	header, err := manifest.EncodeHeader(archive.Header(itemIDs))
	if err != nil {
		return chunkid.ID{}, fmt.Errorf("encoding archive header: %w", err)
	}
	id := r.hasher.Sum(header)
	result, err := r.storeChunk(id, header)
	if err != nil {
		return chunkid.ID{}, fmt.Errorf("storing archive header: %w", err)
	}
	t.count(result)

	_, err = r.updateCatalog(func(catalog *manifest.Catalog) error {
		return catalog.Add(info.Name, id, info.End)
	})
	if err != nil {
		return chunkid.ID{}, err
	}
	archive.Attach(id, itemIDs)
	r.metrics.commitDuration.Observe(clock.Since(r.clock, start).Seconds())

	stats := archive.Stats()
	r.logger.Info("archive committed",
		"archive", info.Name,
		"id", id.Short(),
		"files", stats.Files,
		"size", stats.Size,
		"new_chunks", t.newChunks.Load(),
		"duplicate_chunks", t.duplicates.Load(),
	)
	return id, nil
}

// Abort abandons the transaction. Chunks it stored stay until the next
// garbage collection. Abort after Commit is a no-op, so it can be
// deferred.
func (t *Transaction) Abort() {
	if _, ok := t.finish(); !ok {
		return
	}
	t.repo.txnMu.RUnlock()
	t.repo.logger.Debug("transaction aborted", "archive", t.info.Name)
}
