// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bureau-foundation/vault/lib/chunkid"
	"github.com/bureau-foundation/vault/lib/manifest"
)

// Archive loads the named archive.
func (r *Repository) Archive(ctx context.Context, name string) (*manifest.Manifest, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	entry, ok := r.currentCatalog().Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, name)
	}
	return r.loadArchive(ctx, entry.ID)
}

// loadArchive reads an archive header and its item stream.
func (r *Repository) loadArchive(ctx context.Context, id chunkid.ID) (*manifest.Manifest, error) {
	data, err := r.ReadChunk(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading archive header %s: %w", id.Short(), err)
	}
	header, err := manifest.DecodeHeader(data)
	if err != nil {
		return nil, fmt.Errorf("%w: archive %s: %w", ErrFormat, id.Short(), err)
	}

	var items bytes.Buffer
	for _, itemID := range header.Items {
		chunk, err := r.ReadChunk(ctx, itemID)
		if err != nil {
			return nil, fmt.Errorf("reading items of archive %s: %w", header.Name, err)
		}
		items.Write(chunk)
	}
	entries, err := manifest.DecodeItems(&items)
	if err != nil {
		return nil, fmt.Errorf("%w: items of archive %s: %w", ErrFormat, header.Name, err)
	}
	return manifest.Assemble(id, header, entries), nil
}

// Delete removes the named archive from the catalog and releases every
// reference it held. Chunks no other archive uses become dead and are
// reclaimed by the next garbage collection.
func (r *Repository) Delete(ctx context.Context, name string) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	r.txnMu.RLock()
	defer r.txnMu.RUnlock()

	entry, ok := r.currentCatalog().Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrArchiveNotFound, name)
	}
	archive, err := r.loadArchive(ctx, entry.ID)
	if err != nil {
		return err
	}

	_, err = r.updateCatalog(func(catalog *manifest.Catalog) error {
		current, err := catalog.Remove(name)
		if err != nil {
			return err
		}
		if current.ID != entry.ID {
			return fmt.Errorf("archive %s was replaced while it was being deleted", name)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// The catalog no longer names the archive; from here on a failure
	// only leaves reference counts high until the next GC recounts
	// them.
	index := r.chunks()
	var released, freed int
	for id, count := range archive.References() {
		for range count {
			remaining, err := index.DecRef(id)
			if err != nil {
				r.logger.Warn("reference count already released", "archive", name, "chunk", id.Short(), "error", err)
				break
			}
			released++
			if remaining == 0 {
				freed++
			}
		}
	}
	r.logger.Info("archive deleted",
		"archive", name,
		"references_released", released,
		"chunks_unreferenced", freed,
	)
	return nil
}
