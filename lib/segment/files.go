// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// fileCache keeps read descriptors open across reads. Entries are
// reference counted so eviction and segment removal never close a
// descriptor in the middle of a ReadAt.
type fileCache struct {
	path  func(uint64) string
	limit int

	mu     sync.Mutex
	files  map[uint64]*cachedFile
	closed bool
}

type cachedFile struct {
	number  uint64
	file    *os.File
	refs    int
	evicted bool
}

func newFileCache(path func(uint64) string, limit int) *fileCache {
	return &fileCache{path: path, limit: limit, files: make(map[uint64]*cachedFile)}
}

func (c *fileCache) acquire(number uint64) (*cachedFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if cached, ok := c.files[number]; ok {
		cached.refs++
		return cached, nil
	}

	file, err := os.Open(c.path(number))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: segment %d does not exist", ErrNotFound, number)
		}
		return nil, fmt.Errorf("%w: opening segment %d: %w", ErrIO, number, err)
	}
	if len(c.files) >= c.limit {
		c.evictIdleLocked()
	}
	cached := &cachedFile{number: number, file: file, refs: 1}
	c.files[number] = cached
	return cached, nil
}

func (c *fileCache) release(cached *cachedFile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached.refs--
	if cached.refs == 0 && cached.evicted {
		cached.file.Close()
	}
}

// forget drops a segment from the cache. The descriptor is closed once
// the last in-flight read releases it.
func (c *fileCache) forget(number uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.files[number]; ok {
		c.dropLocked(cached)
	}
}

func (c *fileCache) evictIdleLocked() {
	for _, cached := range c.files {
		if cached.refs == 0 {
			c.dropLocked(cached)
			if len(c.files) < c.limit {
				return
			}
		}
	}
}

func (c *fileCache) dropLocked(cached *cachedFile) {
	delete(c.files, cached.number)
	cached.evicted = true
	if cached.refs == 0 {
		cached.file.Close()
	}
}

func (c *fileCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cached := range c.files {
		c.dropLocked(cached)
	}
	c.closed = true
}
