// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/vault/lib/chunkid"
	"github.com/bureau-foundation/vault/lib/envelope"
	"github.com/bureau-foundation/vault/lib/manifest"
	"github.com/bureau-foundation/vault/lib/segment"
)

// The catalog is stored under the zero chunk ID, which no content hash
// produces, and is never entered in the chunk index.
var catalogID = chunkid.Zero

// writeCatalog encrypts catalog and appends it followed by a COMMIT.
func writeCatalog(store *segment.Store, codec *envelope.Codec, catalog *manifest.Catalog) (segment.Location, error) {
	plaintext, err := catalog.Encode()
	if err != nil {
		return segment.Location{}, fmt.Errorf("encoding catalog: %w", err)
	}
	encoded, err := codec.Encode(catalogID, plaintext)
	if err != nil {
		return segment.Location{}, fmt.Errorf("encrypting catalog: %w", err)
	}
	location, err := store.AppendCommitted(catalogID, encoded)
	if err != nil {
		return segment.Location{}, fmt.Errorf("committing catalog: %w", err)
	}
	return location, nil
}

func readCatalog(store *segment.Store, codec *envelope.Codec, location segment.Location) (*manifest.Catalog, error) {
	payload, err := store.Read(catalogID, location)
	if err != nil {
		return nil, err
	}
	return decodeCatalog(codec, payload)
}

func decodeCatalog(codec *envelope.Codec, payload []byte) (*manifest.Catalog, error) {
	plaintext, err := codec.Decode(catalogID, payload)
	if err != nil {
		return nil, fmt.Errorf("decrypting catalog: %w", err)
	}
	catalog, err := manifest.DecodeCatalog(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return catalog, nil
}

// currentCatalog returns a copy of the committed catalog.
func (r *Repository) currentCatalog() *manifest.Catalog {
	r.catalogMu.Lock()
	defer r.catalogMu.Unlock()
	return r.catalog.Clone()
}

// updateCatalog applies update to the next generation of the catalog
// and commits the result. The in-memory catalog changes only once the
// commit is durable.
func (r *Repository) updateCatalog(update func(*manifest.Catalog) error) (*manifest.Catalog, error) {
	r.catalogMu.Lock()
	defer r.catalogMu.Unlock()

	next := r.catalog.Next()
	if err := update(next); err != nil {
		return nil, err
	}
	location, err := writeCatalog(r.store, r.codec, next)
	if err != nil {
		return nil, err
	}
	r.catalog = next
	r.catalogLocation = location
	r.metrics.archives.Set(float64(next.Len()))
	return next.Clone(), nil
}

// ArchiveSummary is one catalog entry.
type ArchiveSummary struct {
	Name string
	ID   chunkid.ID
	Time time.Time
}

// List returns the archives in the catalog, ordered by name.
func (r *Repository) List() ([]ArchiveSummary, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	catalog := r.currentCatalog()
	summaries := make([]ArchiveSummary, 0, catalog.Len())
	for _, name := range catalog.Names() {
		entry, _ := catalog.Get(name)
		summaries = append(summaries, ArchiveSummary{
			Name: name,
			ID:   entry.ID,
			Time: time.Unix(0, entry.Time),
		})
	}
	return summaries, nil
}

// keepCatalog reports whether location holds the current catalog.
func (r *Repository) keepCatalog(location segment.Location) bool {
	r.catalogMu.Lock()
	defer r.catalogMu.Unlock()
	return r.catalogLocation == location
}

// relocateCatalog follows compaction moving the current catalog.
func (r *Repository) relocateCatalog(from, to segment.Location) {
	r.catalogMu.Lock()
	defer r.catalogMu.Unlock()
	if r.catalogLocation == from {
		r.catalogLocation = to
	}
}
