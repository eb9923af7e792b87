// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/bureau-foundation/vault/lib/chunkid"
)

var (
	// ErrIO wraps every failure of the underlying filesystem. The
	// original *fs.PathError stays reachable through errors.As.
	ErrIO = errors.New("segment I/O error")

	// ErrNotFound reports a read of a segment or offset that does not
	// exist, typically because compaction removed the segment.
	ErrNotFound = errors.New("segment record not found")

	// ErrCorruptRecord reports a record whose checksum, size, tag or
	// chunk ID does not match what the reader expected.
	ErrCorruptRecord = errors.New("corrupt segment record")

	// ErrClosed reports use of a closed Store.
	ErrClosed = errors.New("segment store is closed")
)

const (
	// DefaultSegmentSize is the size at which the open segment is
	// sealed and a new one started.
	DefaultSegmentSize = 500 << 20

	// SegmentsPerDirectory bounds the number of files in each data
	// subdirectory.
	SegmentsPerDirectory = 1000

	defaultOpenFiles = 64

	temporarySuffix = ".tmp"
)

// Options configures a Store.
type Options struct {
	// SegmentSize is the size at which a segment is sealed. A single
	// record larger than this still gets written, alone in its
	// segment. Defaults to DefaultSegmentSize.
	SegmentSize int64

	// OpenFiles bounds the read descriptor cache. Defaults to 64.
	OpenFiles int

	// Logger receives repair and compaction messages. If nil, a no-op
	// logger is used.
	Logger *slog.Logger
}

// Store is an append-only segment store rooted at a data directory.
//
// Appends are serialized on the open segment. Reads go through a
// descriptor cache with ReadAt and do not contend with appends.
// Compaction writes through its own writer, so ingestion continues
// while segments are rewritten.
type Store struct {
	dir     string
	options Options
	logger  *slog.Logger
	files   *fileCache

	mu     sync.Mutex
	sizes  map[uint64]int64
	next   uint64
	open   *writer
	closed bool

	// compactMu admits one compaction at a time.
	compactMu sync.Mutex
}

// Open opens the segment store in dir, creating dir if needed. Every
// existing segment's header is checked. The newest log segment, the
// only one a crash can have torn, has a torn tail truncated back to its
// last intact record; no other segment is modified. Leftover temporary
// compaction output is removed.
// All existing segments are treated as sealed: the first append starts
// a new segment.
func Open(dir string, options Options) (*Store, error) {
	if options.SegmentSize <= 0 {
		options.SegmentSize = DefaultSegmentSize
	}
	if options.OpenFiles <= 0 {
		options.OpenFiles = defaultOpenFiles
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating data directory: %w", ErrIO, err)
	}

	store := &Store{
		dir:     dir,
		options: options,
		logger:  logger,
		sizes:   make(map[uint64]int64),
	}
	store.files = newFileCache(store.path, options.OpenFiles)

	numbers, err := store.discover()
	if err != nil {
		return nil, err
	}
	var (
		newest       uint64
		repairNewest bool
	)
	for _, number := range numbers {
		size, kind, err := store.inspect(number)
		if err != nil {
			return nil, err
		}
		if size < 0 {
			// The removed stub was the segment open at the crash.
			newest, repairNewest = number, false
			continue
		}
		store.sizes[number] = size
		store.next = number + 1
		if kind == kindLog {
			newest, repairNewest = number, true
		}
	}
	if repairNewest {
		size, err := store.repair(newest, store.sizes[newest])
		if err != nil {
			return nil, err
		}
		store.sizes[newest] = size
	}

	logger.Debug("segment store opened",
		"dir", dir,
		"segments", len(store.sizes),
		"next_segment", store.next,
	)
	return store, nil
}

// discover lists segment numbers in ascending order and deletes
// temporary files left behind by an interrupted compaction.
func (s *Store) discover() ([]uint64, error) {
	groups, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: listing data directory: %w", ErrIO, err)
	}
	var numbers []uint64
	for _, group := range groups {
		if !group.IsDir() {
			continue
		}
		if _, err := strconv.ParseUint(group.Name(), 10, 64); err != nil {
			continue
		}
		groupDir := filepath.Join(s.dir, group.Name())
		entries, err := os.ReadDir(groupDir)
		if err != nil {
			return nil, fmt.Errorf("%w: listing %s: %w", ErrIO, groupDir, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if strings.HasSuffix(name, temporarySuffix) {
				path := filepath.Join(groupDir, name)
				if err := os.Remove(path); err != nil {
					return nil, fmt.Errorf("%w: removing interrupted compaction output: %w", ErrIO, err)
				}
				s.logger.Warn("removed interrupted compaction output", "path", path)
				continue
			}
			number, err := strconv.ParseUint(name, 10, 64)
			if err != nil || entry.IsDir() {
				continue
			}
			numbers = append(numbers, number)
		}
	}
	slices.Sort(numbers)
	return numbers, nil
}

func (s *Store) path(number uint64) string {
	return filepath.Join(s.dir,
		strconv.FormatUint(number/SegmentsPerDirectory, 10),
		strconv.FormatUint(number, 10))
}

// Append writes a PUT record for id and returns its location. On
// failure nothing is returned and the segment is rolled back to its
// previous length.
func (s *Store) Append(id chunkid.ID, payload []byte) (Location, error) {
	if len(payload) > MaxPayloadSize {
		return Location{}, fmt.Errorf("payload of %d bytes exceeds the record limit", len(payload))
	}
	record := encodePut(id, payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(record)
}

func (s *Store) appendLocked(record []byte) (Location, error) {
	if s.closed {
		return Location{}, ErrClosed
	}
	if s.open != nil && s.open.size > fileHeaderSize && s.open.size+int64(len(record)) > s.options.SegmentSize {
		if err := s.sealLocked(); err != nil {
			return Location{}, err
		}
	}
	if s.open == nil {
		number := s.next
		s.next++
		w, err := createWriter(s.path(number), number, false)
		if err != nil {
			return Location{}, err
		}
		s.open = w
		s.sizes[number] = w.size
	}

	offset, err := s.open.write(record)
	if err != nil {
		return Location{}, err
	}
	s.sizes[s.open.number] = s.open.size
	return Location{Segment: s.open.number, Offset: offset, Size: uint32(len(record))}, nil
}

// Commit appends a COMMIT record and fsyncs the open segment. Every
// record appended before Commit returns is durable afterwards.
func (s *Store) Commit() (Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked()
}

func (s *Store) commitLocked() (Location, error) {
	location, err := s.appendLocked(encodeCommit())
	if err != nil {
		return Location{}, err
	}
	if err := s.open.sync(); err != nil {
		return Location{}, err
	}
	return location, nil
}

// AppendCommitted appends a PUT record immediately followed by a
// COMMIT record in the same segment, then fsyncs. No other append can
// land between the two.
func (s *Store) AppendCommitted(id chunkid.ID, payload []byte) (Location, error) {
	if len(payload) > MaxPayloadSize {
		return Location{}, fmt.Errorf("payload of %d bytes exceeds the record limit", len(payload))
	}
	record := encodePut(id, payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Rotate first if the pair would not fit, so the COMMIT cannot
	// be pushed into the next segment.
	if s.open != nil && s.open.size > fileHeaderSize &&
		s.open.size+int64(len(record))+commitRecordSize > s.options.SegmentSize {
		if err := s.sealLocked(); err != nil {
			return Location{}, err
		}
	}
	location, err := s.appendLocked(record)
	if err != nil {
		return Location{}, err
	}
	commit := encodeCommit()
	if _, err := s.open.write(commit); err != nil {
		return Location{}, err
	}
	s.sizes[s.open.number] = s.open.size
	if err := s.open.sync(); err != nil {
		return Location{}, err
	}
	return location, nil
}

// Seal fsyncs and closes the open segment. The next append starts a
// new segment. Sealing with no open segment is a no-op.
func (s *Store) Seal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.sealLocked()
}

func (s *Store) sealLocked() error {
	if s.open == nil {
		return nil
	}
	w := s.open
	s.open = nil
	if err := w.sync(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.close(); err != nil {
		return err
	}
	s.sizes[w.number] = w.size
	s.logger.Debug("segment sealed", "segment", w.number, "size", w.size)
	return nil
}

// NextSegment returns the number the next new segment will get. Every
// segment numbered below it exists or has been deleted.
func (s *Store) NextSegment() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Layout returns the size of every segment, including the open one.
// Two stores with equal layouts hold the same records.
func (s *Store) Layout() map[uint64]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.sizes)
}

// Has reports whether segment number exists.
func (s *Store) Has(number uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sizes[number]
	return ok
}

// Read returns the payload of the PUT record at location, checking
// that it was stored under id.
func (s *Store) Read(id chunkid.ID, location Location) ([]byte, error) {
	if location.Size < putHeaderSize {
		return nil, fmt.Errorf("%w: location %s is smaller than a PUT record", ErrCorruptRecord, location)
	}
	cached, err := s.files.acquire(location.Segment)
	if err != nil {
		return nil, err
	}
	defer s.files.release(cached)

	record := make([]byte, location.Size)
	if _, err := cached.file.ReadAt(record, location.Offset); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s lies past the end of the segment", ErrNotFound, location)
		}
		return nil, fmt.Errorf("%w: reading %s: %w", ErrIO, location, err)
	}
	tag, storedID, payload, err := decodeRecord(record)
	if err != nil {
		return nil, fmt.Errorf("record at %s: %w", location, err)
	}
	if tag != TagPut {
		return nil, fmt.Errorf("%w: %s at %s, want PUT", ErrCorruptRecord, tag, location)
	}
	if storedID != id {
		return nil, fmt.Errorf("%w: record at %s belongs to %s, not %s", ErrCorruptRecord, location, storedID.Short(), id.Short())
	}
	return payload, nil
}

// Close seals the open segment and releases every descriptor.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.sealLocked()
	s.closed = true
	s.files.close()
	return err
}

// removeSegment deletes a segment file that compaction has emptied.
func (s *Store) removeSegment(number uint64) error {
	s.mu.Lock()
	delete(s.sizes, number)
	s.mu.Unlock()

	s.files.forget(number)
	path := s.path(number)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: removing segment %d: %w", ErrIO, number, err)
	}
	return nil
}
