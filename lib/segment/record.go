// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/bureau-foundation/vault/lib/chunkid"
)

// Tag identifies the kind of a record.
type Tag uint8

const (
	// TagPut stores a payload under a chunk ID.
	TagPut Tag = 0

	// Tag 1 is reserved. Records are never deleted in place;
	// compaction reclaims space by rewriting segments.

	// TagCommit marks a durability boundary.
	TagCommit Tag = 2
)

func (t Tag) String() string {
	switch t {
	case TagPut:
		return "PUT"
	case TagCommit:
		return "COMMIT"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

const (
	fileHeaderSize = 8

	// commitRecordSize is also the size of the fixed prefix shared by
	// every record: checksum, size, tag.
	commitRecordSize = 4 + 4 + 1
	putHeaderSize    = commitRecordSize + chunkid.Size

	// MaxPayloadSize is the largest payload a single PUT record holds.
	MaxPayloadSize = math.MaxUint32 - putHeaderSize

	formatVersion = 1
)

// Segment kinds, stored in byte 6 of the file header. A log segment
// receives appends and commits; a compacted segment is written whole by
// compaction and published only once it is durable. Only a log segment
// can have been open for appends when the process died.
const (
	kindLog       byte = 0
	kindCompacted byte = 1
)

var fileHeader = [fileHeaderSize]byte{'B', 'V', 'S', 'E', 'G', 0, kindLog, formatVersion}

func fileHeaderFor(kind byte) []byte {
	header := fileHeader
	header[6] = kind
	return header[:]
}

// headerKind validates a segment file header and returns its kind.
func headerKind(header []byte) (byte, bool) {
	if len(header) < fileHeaderSize || !bytes.Equal(header[:6], fileHeader[:6]) || header[7] != formatVersion {
		return 0, false
	}
	switch kind := header[6]; kind {
	case kindLog, kindCompacted:
		return kind, true
	default:
		return 0, false
	}
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Location addresses one record: the segment number, the byte offset
// of the record within the segment file, and the size of the whole
// record.
type Location struct {
	Segment uint64
	Offset  int64
	Size    uint32
}

// PayloadSize returns the payload length of the PUT record at l.
func (l Location) PayloadSize() int {
	return int(l.Size) - putHeaderSize
}

func (l Location) String() string {
	return fmt.Sprintf("%d@%d+%d", l.Segment, l.Offset, l.Size)
}

// Record is one record yielded by a scan. Payload is owned by the
// receiver.
type Record struct {
	Tag      Tag
	ID       chunkid.ID
	Location Location
	Payload  []byte
}

func encodePut(id chunkid.ID, payload []byte) []byte {
	record := make([]byte, putHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(record[4:8], uint32(len(record)))
	record[8] = byte(TagPut)
	copy(record[commitRecordSize:putHeaderSize], id[:])
	copy(record[putHeaderSize:], payload)
	binary.LittleEndian.PutUint32(record[0:4], crc32.Checksum(record[4:], castagnoli))
	return record
}

func encodeCommit() []byte {
	record := make([]byte, commitRecordSize)
	binary.LittleEndian.PutUint32(record[4:8], commitRecordSize)
	record[8] = byte(TagCommit)
	binary.LittleEndian.PutUint32(record[0:4], crc32.Checksum(record[4:], castagnoli))
	return record
}

// plausibleHeader checks the fixed prefix of a record without reading
// its body: a known tag with a size that tag allows.
func plausibleHeader(prefix []byte) (Tag, uint32, bool) {
	size := binary.LittleEndian.Uint32(prefix[4:8])
	tag := Tag(prefix[8])
	switch tag {
	case TagPut:
		return tag, size, size >= putHeaderSize
	case TagCommit:
		return tag, size, size == commitRecordSize
	default:
		return tag, size, false
	}
}

// decodeRecord validates a complete record and splits it into its
// fields. The payload aliases record.
func decodeRecord(record []byte) (Tag, chunkid.ID, []byte, error) {
	var id chunkid.ID
	if len(record) < commitRecordSize {
		return 0, id, nil, fmt.Errorf("%w: %d bytes is shorter than any record", ErrCorruptRecord, len(record))
	}
	tag, size, ok := plausibleHeader(record)
	if !ok {
		return 0, id, nil, fmt.Errorf("%w: %s with size %d", ErrCorruptRecord, tag, size)
	}
	if int(size) != len(record) {
		return 0, id, nil, fmt.Errorf("%w: header size %d, record is %d bytes", ErrCorruptRecord, size, len(record))
	}
	stored := binary.LittleEndian.Uint32(record[0:4])
	if computed := crc32.Checksum(record[4:], castagnoli); computed != stored {
		return 0, id, nil, fmt.Errorf("%w: checksum %08x, computed %08x", ErrCorruptRecord, stored, computed)
	}
	if tag == TagCommit {
		return tag, id, nil, nil
	}
	copy(id[:], record[commitRecordSize:putHeaderSize])
	return tag, id, record[putHeaderSize:], nil
}
