// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/vault/lib/chunkid"
	"github.com/bureau-foundation/vault/lib/chunkindex"
)

// readAttempts bounds how often ReadChunk follows an index entry that
// compaction moved between the lookup and the read.
const readAttempts = 3

// storeResult says how a chunk was satisfied.
type storeResult int

const (
	storedNew storeResult = iota
	storedDuplicate
	storedConflict
)

// storeChunk takes one reference to the chunk with the given ID and
// plaintext, storing it first if the index has no usable entry. The
// caller must hold txnMu shared.
func (r *Repository) storeChunk(id chunkid.ID, plaintext []byte) (storeResult, error) {
	index := r.chunks()
	r.metrics.bytesIngested.Add(float64(len(plaintext)))

	if _, err := index.IncRef(id); err == nil {
		r.metrics.dedupHits.Inc()
		return storedDuplicate, nil
	}

	encoded, err := r.codec.Encode(id, plaintext)
	if err != nil {
		return 0, fmt.Errorf("encoding chunk %s: %w", id.Short(), err)
	}
	location, err := r.store.Append(id, encoded)
	if err != nil {
		return 0, fmt.Errorf("storing chunk %s: %w", id.Short(), err)
	}
	r.metrics.bytesStored.Add(float64(len(encoded)))

	// An entry that refuses IncRef is absent or condemned, and
	// PutIfAbsent then succeeds, so the loop ends.
	for {
		if index.PutIfAbsent(id, location) {
			r.metrics.chunksStored.Inc()
			return storedNew, nil
		}
		if _, err := index.IncRef(id); err == nil {
			r.metrics.conflicts.Inc()
			r.logger.Debug("concurrent store of the same chunk", "chunk", id.Short(), "orphan", location)
			return storedConflict, nil
		}
	}
}

// ReadChunk returns the plaintext of a chunk after checking that it
// hashes back to id. A chunk that compaction moves while it is being
// read is followed to its new location.
func (r *Repository) ReadChunk(ctx context.Context, id chunkid.ID) ([]byte, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	var lastErr error
	for range readAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, ok := r.chunks().Lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: chunk %s is not in the index", ErrNotFound, id.Short())
		}
		plaintext, err := r.readEntry(id, entry)
		if err == nil {
			return plaintext, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		lastErr = err
		if current, ok := r.chunks().Lookup(id); !ok || current.Location == entry.Location {
			break
		}
	}
	return nil, lastErr
}

func (r *Repository) readEntry(id chunkid.ID, entry chunkindex.Entry) ([]byte, error) {
	payload, err := r.store.Read(id, entry.Location)
	if err != nil {
		return nil, fmt.Errorf("reading chunk %s: %w", id.Short(), err)
	}
	plaintext, err := r.codec.Decode(id, payload)
	if err != nil {
		return nil, fmt.Errorf("decoding chunk %s at %s: %w", id.Short(), entry.Location, err)
	}
	if !r.hasher.Verify(id, plaintext) {
		return nil, fmt.Errorf("%w: chunk %s content does not match its ID", ErrIntegrity, id.Short())
	}
	r.metrics.chunksRead.Inc()
	return plaintext, nil
}
