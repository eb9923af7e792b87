// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
)

// inspect validates the file header of a segment and returns its size
// and kind. A file too short to hold a header can only be a log segment
// created just before a crash; it holds no records and is removed, and
// inspect returns a size of -1. Nothing else is ever modified.
func (s *Store) inspect(number uint64) (int64, byte, error) {
	path := s.path(number)
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: opening segment %d: %w", ErrIO, number, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: stat segment %d: %w", ErrIO, number, err)
	}
	size := info.Size()

	if size < fileHeaderSize {
		if err := os.Remove(path); err != nil {
			return 0, 0, fmt.Errorf("%w: removing empty segment %d: %w", ErrIO, number, err)
		}
		s.logger.Warn("removed segment with incomplete header", "segment", number, "size", size)
		return -1, 0, nil
	}
	header := make([]byte, fileHeaderSize)
	if _, err := file.ReadAt(header, 0); err != nil {
		return 0, 0, fmt.Errorf("%w: reading segment %d header: %w", ErrIO, number, err)
	}
	kind, ok := headerKind(header)
	if !ok {
		return 0, 0, fmt.Errorf("%w: segment %d has header %x, want %x", ErrCorruptRecord, number, header, fileHeader)
	}
	return size, kind, nil
}

// repair checks the record chain of the newest log segment and
// truncates a torn tail. Only that segment can have been open for
// appends at a crash: sealed segments were fsynced before the next one
// was created, and compaction output is fsynced before it is renamed
// into place. Every other segment is left as it is, and corruption in
// it surfaces through scans.
//
// The chain is walked by record headers only. The trailing records are
// then checksummed from the end backwards until one verifies, which
// catches a record whose header reached the disk but whose payload did
// not.
func (s *Store) repair(number uint64, size int64) (int64, error) {
	file, err := os.OpenFile(s.path(number), os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: opening segment %d: %w", ErrIO, number, err)
	}
	defer file.Close()

	var starts []int64
	offset := int64(fileHeaderSize)
	prefix := make([]byte, commitRecordSize)
	for offset < size {
		if size-offset < commitRecordSize {
			break
		}
		if _, err := file.ReadAt(prefix, offset); err != nil {
			return 0, fmt.Errorf("%w: reading segment %d at %d: %w", ErrIO, number, offset, err)
		}
		_, recordSize, ok := plausibleHeader(prefix)
		if !ok || offset+int64(recordSize) > size {
			break
		}
		starts = append(starts, offset)
		offset += int64(recordSize)
	}

	valid := offset
	for len(starts) > 0 {
		last := starts[len(starts)-1]
		intact, err := checksumMatches(file, last, valid-last)
		if err != nil {
			return 0, fmt.Errorf("%w: verifying segment %d at %d: %w", ErrIO, number, last, err)
		}
		if intact {
			break
		}
		valid = last
		starts = starts[:len(starts)-1]
	}

	if valid == size {
		return size, nil
	}
	if err := file.Truncate(valid); err != nil {
		return 0, fmt.Errorf("%w: truncating segment %d: %w", ErrIO, number, err)
	}
	if err := file.Sync(); err != nil {
		return 0, fmt.Errorf("%w: syncing segment %d: %w", ErrIO, number, err)
	}
	s.logger.Warn("truncated torn segment tail",
		"segment", number,
		"valid_size", valid,
		"dropped_bytes", size-valid,
	)
	return valid, nil
}

func checksumMatches(file *os.File, offset, length int64) (bool, error) {
	record := make([]byte, length)
	if _, err := file.ReadAt(record, offset); err != nil {
		return false, err
	}
	stored := binary.LittleEndian.Uint32(record[0:4])
	return crc32.Checksum(record[4:], castagnoli) == stored, nil
}
