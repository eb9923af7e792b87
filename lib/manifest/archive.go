// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bureau-foundation/vault/lib/chunkid"
	"github.com/bureau-foundation/vault/lib/codec"
)

// ErrFormat reports archive metadata that does not decode.
var ErrFormat = errors.New("malformed archive metadata")

// HeaderVersion is the archive header format written by this package.
const HeaderVersion = 1

// Header is the stored form of an archive: everything but the entries,
// which live in the item chunks it lists.
type Header struct {
	Version     int          `cbor:"version"`
	Name        string       `cbor:"name"`
	Hostname    string       `cbor:"hostname,omitempty"`
	Username    string       `cbor:"username,omitempty"`
	Comment     string       `cbor:"comment,omitempty"`
	CommandLine []string     `cbor:"cmdline,omitempty"`
	Start       int64        `cbor:"time"`
	End         int64        `cbor:"time_end"`
	Items       []chunkid.ID `cbor:"items"`
	Stats       Stats        `cbor:"stats"`
}

// Header returns the stored form of m given the chunks its item stream
// was split into.
func (m *Manifest) Header(items []chunkid.ID) Header {
	return Header{
		Version:     HeaderVersion,
		Name:        m.info.Name,
		Hostname:    m.info.Hostname,
		Username:    m.info.Username,
		Comment:     m.info.Comment,
		CommandLine: m.info.CommandLine,
		Start:       m.info.Start.UnixNano(),
		End:         m.info.End.UnixNano(),
		Items:       items,
		Stats:       m.stats,
	}
}

// Info converts the header back to archive metadata.
func (h Header) Info() ArchiveInfo {
	return ArchiveInfo{
		Name:        h.Name,
		Hostname:    h.Hostname,
		Username:    h.Username,
		Comment:     h.Comment,
		CommandLine: h.CommandLine,
		Start:       time.Unix(0, h.Start),
		End:         time.Unix(0, h.End),
	}
}

// EncodeHeader serializes a header.
func EncodeHeader(header Header) ([]byte, error) {
	return codec.Marshal(header)
}

// DecodeHeader parses a header produced by EncodeHeader.
func DecodeHeader(data []byte) (Header, error) {
	var header Header
	if err := codec.Unmarshal(data, &header); err != nil {
		return Header{}, fmt.Errorf("%w: archive header: %v", ErrFormat, err)
	}
	if header.Version != HeaderVersion {
		return Header{}, fmt.Errorf("%w: archive header version %d", ErrFormat, header.Version)
	}
	if header.Name == "" {
		return Header{}, fmt.Errorf("%w: archive header without a name", ErrFormat)
	}
	return header, nil
}

// Assemble rebuilds a stored archive from its header chunk ID, header
// and decoded entries.
func Assemble(id chunkid.ID, header Header, entries []FileEntry) *Manifest {
	m := newManifest(header.Info(), entries)
	m.Attach(id, header.Items)
	return m
}

// EncodeItems writes entries as a CBOR sequence.
func EncodeItems(w io.Writer, entries []FileEntry) error {
	encoder := codec.NewEncoder(w)
	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return fmt.Errorf("encoding item %s: %w", entry.Path, err)
		}
	}
	return nil
}

// DecodeItems reads a CBOR sequence written by EncodeItems. Entries are
// validated the way Builder.Add validates them.
func DecodeItems(r io.Reader) ([]FileEntry, error) {
	decoder := codec.NewDecoder(r)
	seen := make(map[string]struct{})
	var entries []FileEntry
	for {
		var entry FileEntry
		err := decoder.Decode(&entry)
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrFormat, len(entries), err)
		}
		cleaned, err := CleanPath(entry.Path)
		if err != nil || cleaned != entry.Path {
			return nil, fmt.Errorf("%w: item %d has path %q", ErrFormat, len(entries), entry.Path)
		}
		if _, duplicate := seen[entry.Path]; duplicate {
			return nil, fmt.Errorf("%w: item path %s repeated", ErrFormat, entry.Path)
		}
		if err := entry.validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		seen[entry.Path] = struct{}{}
		entries = append(entries, entry)
	}
}
