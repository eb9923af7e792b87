// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
)

const scanBufferSize = 1 << 20

// Damage describes bytes a salvaging scan stepped over.
type Damage struct {
	Segment uint64
	Offset  int64

	// Length is the number of bytes skipped: one record when its
	// header was plausible, otherwise the rest of the segment.
	Length int64

	Err error
}

// Scan calls fn for every record of every segment in ascending segment
// and offset order, including records of the open segment appended
// before Scan started. A non-nil error from fn stops the scan and is
// returned. Corruption stops the scan with ErrCorruptRecord.
func (s *Store) Scan(ctx context.Context, fn func(Record) error) error {
	return s.scan(ctx, fn, nil)
}

// Salvage is Scan for recovery. A record whose header is plausible but
// whose checksum fails is reported to damaged and skipped by its
// header size. A header that cannot be trusted, or a record running
// past the end of its segment, is reported and ends the scan of that
// segment; later segments are still scanned. I/O errors, context
// cancellation and errors from fn stop the scan.
func (s *Store) Salvage(ctx context.Context, fn func(Record) error, damaged func(Damage)) error {
	if damaged == nil {
		damaged = func(Damage) {}
	}
	return s.scan(ctx, fn, damaged)
}

func (s *Store) scan(ctx context.Context, fn func(Record) error, damaged func(Damage)) error {
	layout := s.Layout()
	numbers := slices.Sorted(maps.Keys(layout))
	for _, number := range numbers {
		if err := s.scanSegment(ctx, number, layout[number], damaged, fn); err != nil {
			return err
		}
	}
	return nil
}

// scanSegment reads the records of one segment up to size. With a nil
// damaged, corruption is returned as an error.
func (s *Store) scanSegment(ctx context.Context, number uint64, size int64, damaged func(Damage), fn func(Record) error) error {
	cached, err := s.files.acquire(number)
	if err != nil {
		return err
	}
	defer s.files.release(cached)

	// corrupt reports length bytes at offset as damaged, or returns
	// err from a strict scan.
	corrupt := func(offset, length int64, err error) error {
		if damaged == nil {
			return err
		}
		s.logger.Warn("skipping corrupt segment data",
			"segment", number,
			"offset", offset,
			"length", length,
			"error", err,
		)
		damaged(Damage{Segment: number, Offset: offset, Length: length, Err: err})
		return nil
	}

	reader := bufio.NewReaderSize(io.NewSectionReader(cached.file, fileHeaderSize, size-fileHeaderSize), scanBufferSize)
	offset := int64(fileHeaderSize)
	prefix := make([]byte, commitRecordSize)
	for offset < size {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := io.ReadFull(reader, prefix); err != nil {
			if !isShortRead(err) {
				return fmt.Errorf("%w: scanning segment %d: %w", ErrIO, number, err)
			}
			return corrupt(offset, size-offset,
				fmt.Errorf("%w: segment %d ends inside the record at %d", ErrCorruptRecord, number, offset))
		}
		tag, recordSize, ok := plausibleHeader(prefix)
		if !ok || int64(recordSize) > size-offset {
			return corrupt(offset, size-offset,
				fmt.Errorf("%w: segment %d offset %d: %s with size %d", ErrCorruptRecord, number, offset, tag, recordSize))
		}
		record := make([]byte, recordSize)
		copy(record, prefix)
		if _, err := io.ReadFull(reader, record[commitRecordSize:]); err != nil {
			if !isShortRead(err) {
				return fmt.Errorf("%w: scanning segment %d: %w", ErrIO, number, err)
			}
			return corrupt(offset, size-offset,
				fmt.Errorf("%w: segment %d ends inside the record at %d", ErrCorruptRecord, number, offset))
		}
		tag, id, payload, err := decodeRecord(record)
		if err != nil {
			if err := corrupt(offset, int64(recordSize), fmt.Errorf("segment %d offset %d: %w", number, offset, err)); err != nil {
				return err
			}
			offset += int64(recordSize)
			continue
		}
		err = fn(Record{
			Tag:      tag,
			ID:       id,
			Location: Location{Segment: number, Offset: offset, Size: recordSize},
			Payload:  payload,
		})
		if err != nil {
			return err
		}
		offset += int64(recordSize)
	}
	return nil
}

func isShortRead(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
