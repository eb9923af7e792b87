// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// writer appends records to one segment file.
type writer struct {
	number uint64
	path   string
	file   *os.File
	size   int64

	// temporary writers hold compaction output: they write to
	// path+".tmp" and become visible only through finish.
	temporary bool
}

func createWriter(path string, number uint64, temporary bool) (*writer, error) {
	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating segment directory: %w", ErrIO, err)
	}
	name, kind := path, kindLog
	if temporary {
		name, kind = path+temporarySuffix, kindCompacted
	}
	file, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: creating segment %d: %w", ErrIO, number, err)
	}
	if _, err := file.Write(fileHeaderFor(kind)); err != nil {
		file.Close()
		os.Remove(name)
		return nil, fmt.Errorf("%w: writing segment %d header: %w", ErrIO, number, err)
	}
	if !temporary {
		if err := syncDirectory(directory); err != nil {
			file.Close()
			return nil, err
		}
	}
	return &writer{
		number:    number,
		path:      path,
		file:      file,
		size:      fileHeaderSize,
		temporary: temporary,
	}, nil
}

// write appends record and returns its offset. A failed write is
// truncated away so the file never ends in a partial record written
// by this process.
func (w *writer) write(record []byte) (int64, error) {
	offset := w.size
	written, err := w.file.Write(record)
	if err != nil {
		if written > 0 {
			w.file.Truncate(offset)
			w.file.Seek(offset, io.SeekStart)
		}
		return 0, fmt.Errorf("%w: appending to segment %d: %w", ErrIO, w.number, err)
	}
	w.size += int64(written)
	return offset, nil
}

func (w *writer) sync() error {
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing segment %d: %w", ErrIO, w.number, err)
	}
	return nil
}

func (w *writer) close() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("%w: closing segment %d: %w", ErrIO, w.number, err)
	}
	return nil
}

// finish commits, syncs, closes and, for temporary output, renames the
// segment into place.
func (w *writer) finish() error {
	if _, err := w.write(encodeCommit()); err != nil {
		w.file.Close()
		return err
	}
	if err := w.sync(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.close(); err != nil {
		return err
	}
	if !w.temporary {
		return nil
	}
	if err := os.Rename(w.path+temporarySuffix, w.path); err != nil {
		return fmt.Errorf("%w: publishing segment %d: %w", ErrIO, w.number, err)
	}
	return syncDirectory(filepath.Dir(w.path))
}

// abandon discards temporary output.
func (w *writer) abandon() {
	w.file.Close()
	if w.temporary {
		os.Remove(w.path + temporarySuffix)
	}
}

func syncDirectory(path string) error {
	directory, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: opening %s for sync: %w", ErrIO, path, err)
	}
	defer directory.Close()
	if err := directory.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %w", ErrIO, path, err)
	}
	return nil
}
