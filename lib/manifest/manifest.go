// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"fmt"
	"slices"
	"time"

	"github.com/bureau-foundation/vault/lib/chunkid"
)

// ArchiveInfo is the descriptive metadata of an archive.
type ArchiveInfo struct {
	Name        string
	Hostname    string
	Username    string
	Comment     string
	CommandLine []string
	Start       time.Time
	End         time.Time
}

// Stats summarizes an archive's content.
type Stats struct {
	Files       int   `cbor:"files"`
	Directories int   `cbor:"directories"`
	Symlinks    int   `cbor:"symlinks"`
	Size        int64 `cbor:"size"`
	ChunkRefs   int   `cbor:"chunk_refs"`
}

// Manifest is a complete archive: metadata plus ordered entries. Once
// built it is immutable.
type Manifest struct {
	info    ArchiveInfo
	entries []FileEntry
	byPath  map[string]int
	stats   Stats

	// Set once the archive has been stored or loaded.
	id         chunkid.ID
	itemChunks []chunkid.ID
}

// Builder accumulates entries for a new archive. Not safe for
// concurrent use.
type Builder struct {
	entries []FileEntry
	byPath  map[string]int
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{byPath: make(map[string]int)}
}

// Add appends an entry. The path is normalized with CleanPath; a path
// already added is rejected with ErrDuplicatePath.
func (b *Builder) Add(entry FileEntry) error {
	cleaned, err := CleanPath(entry.Path)
	if err != nil {
		return err
	}
	entry.Path = cleaned
	if _, exists := b.byPath[cleaned]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePath, cleaned)
	}
	if err := entry.validate(); err != nil {
		return err
	}
	b.byPath[cleaned] = len(b.entries)
	b.entries = append(b.entries, entry)
	return nil
}

// Has reports whether path has been added.
func (b *Builder) Has(path string) bool {
	cleaned, err := CleanPath(path)
	if err != nil {
		return false
	}
	_, ok := b.byPath[cleaned]
	return ok
}

// Len returns the number of entries added.
func (b *Builder) Len() int {
	return len(b.entries)
}

// Build freezes the builder into a manifest. The builder must not be
// used afterwards.
func (b *Builder) Build(info ArchiveInfo) *Manifest {
	m := newManifest(info, b.entries)
	b.entries = nil
	b.byPath = nil
	return m
}

func newManifest(info ArchiveInfo, entries []FileEntry) *Manifest {
	m := &Manifest{
		info:    info,
		entries: entries,
		byPath:  make(map[string]int, len(entries)),
	}
	for i, entry := range entries {
		m.byPath[entry.Path] = i
		switch entry.Kind {
		case KindFile:
			m.stats.Files++
			m.stats.Size += entry.Size
			m.stats.ChunkRefs += len(entry.Chunks)
		case KindDirectory:
			m.stats.Directories++
		case KindSymlink:
			m.stats.Symlinks++
		}
	}
	return m
}

// Name returns the archive name.
func (m *Manifest) Name() string { return m.info.Name }

// Info returns the archive metadata.
func (m *Manifest) Info() ArchiveInfo { return m.info }

// Stats returns content totals.
func (m *Manifest) Stats() Stats { return m.stats }

// ID returns the archive header chunk ID, zero until stored.
func (m *Manifest) ID() chunkid.ID { return m.id }

// ItemChunks returns the chunks holding the encoded entries.
func (m *Manifest) ItemChunks() []chunkid.ID { return slices.Clone(m.itemChunks) }

// Attach records where the archive is stored.
func (m *Manifest) Attach(id chunkid.ID, itemChunks []chunkid.ID) {
	m.id = id
	m.itemChunks = slices.Clone(itemChunks)
}

// Len returns the number of entries.
func (m *Manifest) Len() int { return len(m.entries) }

// Entries returns the entries in insertion order. The slice must not be
// modified.
func (m *Manifest) Entries() []FileEntry { return m.entries }

// Lookup returns the entry for path.
func (m *Manifest) Lookup(path string) (FileEntry, bool) {
	cleaned, err := CleanPath(path)
	if err != nil {
		return FileEntry{}, false
	}
	i, ok := m.byPath[cleaned]
	if !ok {
		return FileEntry{}, false
	}
	return m.entries[i], true
}

// Resolve returns the ordered chunk list of the regular file at path.
// Concatenating the chunks reproduces the file.
func (m *Manifest) Resolve(path string) ([]ChunkRef, error) {
	entry, ok := m.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoSuchPath, path, m.info.Name)
	}
	if entry.Kind != KindFile {
		return nil, fmt.Errorf("%w: %s is a %s", ErrNotAFile, entry.Path, entry.Kind)
	}
	return entry.Chunks, nil
}

// References counts every chunk reference the archive holds: file
// content chunks, item stream chunks and, once attached, the archive
// header chunk itself. A chunk used twice counts twice.
func (m *Manifest) References() map[chunkid.ID]uint32 {
	references := make(map[chunkid.ID]uint32)
	for _, entry := range m.entries {
		for _, chunk := range entry.Chunks {
			references[chunk.ID]++
		}
	}
	for _, id := range m.itemChunks {
		references[id]++
	}
	if !m.id.IsZero() {
		references[m.id]++
	}
	return references
}
