// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/bureau-foundation/vault/lib/chunkid"
	"github.com/bureau-foundation/vault/lib/codec"
)

var (
	// ErrArchiveExists reports an attempt to reuse an archive name.
	ErrArchiveExists = errors.New("archive already exists")

	// ErrArchiveNotFound reports an unknown archive name.
	ErrArchiveNotFound = errors.New("archive not found")
)

// CatalogVersion is the catalog format written by this package.
const CatalogVersion = 1

// CatalogEntry locates one archive.
type CatalogEntry struct {
	ID   chunkid.ID `cbor:"id"`
	Time int64      `cbor:"time"`
}

// Catalog is the set of archives in a repository. Every committed
// catalog carries a generation one higher than the catalog it
// replaced, so after a crash the newest committed one can be told
// apart from stale copies.
//
// A Catalog is a value the repository replaces wholesale under its own
// lock; it is not safe for concurrent mutation.
type Catalog struct {
	Version    int                     `cbor:"version"`
	Generation uint64                  `cbor:"generation"`
	Archives   map[string]CatalogEntry `cbor:"archives"`
}

// NewCatalog returns an empty catalog at generation zero.
func NewCatalog() *Catalog {
	return &Catalog{Version: CatalogVersion, Archives: make(map[string]CatalogEntry)}
}

// Clone returns a deep copy.
func (c *Catalog) Clone() *Catalog {
	return &Catalog{
		Version:    c.Version,
		Generation: c.Generation,
		Archives:   maps.Clone(c.Archives),
	}
}

// Next returns a copy with the generation advanced, ready to be
// modified and committed.
func (c *Catalog) Next() *Catalog {
	next := c.Clone()
	next.Generation++
	return next
}

// Add names an archive.
func (c *Catalog) Add(name string, id chunkid.ID, at time.Time) error {
	if name == "" {
		return fmt.Errorf("archive name is empty")
	}
	if _, exists := c.Archives[name]; exists {
		return fmt.Errorf("%w: %s", ErrArchiveExists, name)
	}
	c.Archives[name] = CatalogEntry{ID: id, Time: at.UnixNano()}
	return nil
}

// Remove drops an archive and returns its entry.
func (c *Catalog) Remove(name string) (CatalogEntry, error) {
	entry, ok := c.Archives[name]
	if !ok {
		return CatalogEntry{}, fmt.Errorf("%w: %s", ErrArchiveNotFound, name)
	}
	delete(c.Archives, name)
	return entry, nil
}

// Get returns the entry for name.
func (c *Catalog) Get(name string) (CatalogEntry, bool) {
	entry, ok := c.Archives[name]
	return entry, ok
}

// Names returns archive names in ascending order.
func (c *Catalog) Names() []string {
	return slices.Sorted(maps.Keys(c.Archives))
}

// Len returns the number of archives.
func (c *Catalog) Len() int {
	return len(c.Archives)
}

// Encode serializes the catalog.
func (c *Catalog) Encode() ([]byte, error) {
	return codec.Marshal(c)
}

// DecodeCatalog parses a catalog produced by Encode.
func DecodeCatalog(data []byte) (*Catalog, error) {
	catalog := NewCatalog()
	if err := codec.Unmarshal(data, catalog); err != nil {
		return nil, fmt.Errorf("%w: catalog: %v", ErrFormat, err)
	}
	if catalog.Version != CatalogVersion {
		return nil, fmt.Errorf("%w: catalog version %d", ErrFormat, catalog.Version)
	}
	if catalog.Archives == nil {
		catalog.Archives = make(map[string]CatalogEntry)
	}
	return catalog, nil
}
