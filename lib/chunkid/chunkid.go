// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunkid defines the content address of a stored chunk and the
// keyed hasher that derives it.
//
// A chunk ID is the BLAKE3 keyed hash of the chunk's plaintext. The key
// comes from the repository's key material, so the same plaintext gets
// the same ID everywhere in one repository while an observer without the
// key cannot confirm that a repository holds a known file by computing
// its chunk IDs.
package chunkid

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
)

// Size is the length of an ID in bytes.
const Size = 32

// ID is a 32-byte keyed BLAKE3 digest of a chunk's plaintext.
type ID [Size]byte

// Zero is the reserved all-zero ID. No chunk is ever stored under it;
// the repository uses it as the key of the archive catalog record.
var Zero ID

// IsZero reports whether id is the reserved zero ID.
func (id ID) IsZero() bool {
	return id == Zero
}

// String returns the full lowercase hex form.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 12 hex characters, for log lines and listings.
func (id ID) Short() string {
	return hex.EncodeToString(id[:6])
}

// Compare orders IDs bytewise, for slices.SortFunc.
func Compare(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}

// MarshalText implements encoding.TextMarshaler (JSON output only; the
// CBOR codec encodes IDs as byte strings).
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse parses a 64-character hex string.
func Parse(hexString string) (ID, error) {
	var id ID
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return id, fmt.Errorf("parsing chunk id: %w", err)
	}
	if len(decoded) != Size {
		return id, fmt.Errorf("chunk id is %d bytes, want %d", len(decoded), Size)
	}
	copy(id[:], decoded)
	return id, nil
}

// Hasher computes chunk IDs under one repository key. It is safe for
// concurrent use; keyed BLAKE3 states are pooled and Reset between
// uses (Reset keeps the key).
type Hasher struct {
	pool sync.Pool
}

// NewHasher returns a Hasher keyed with key, which must be exactly 32
// bytes.
func NewHasher(key []byte) (*Hasher, error) {
	if len(key) != Size {
		return nil, fmt.Errorf("chunk id key is %d bytes, want %d", len(key), Size)
	}
	// Probe once so a bad key fails here rather than inside the pool.
	if _, err := blake3.NewKeyed(key); err != nil {
		return nil, fmt.Errorf("initializing keyed BLAKE3: %w", err)
	}
	keyCopy := make([]byte, Size)
	copy(keyCopy, key)

	hasher := &Hasher{}
	hasher.pool.New = func() any {
		state, err := blake3.NewKeyed(keyCopy)
		if err != nil {
			panic("chunkid: BLAKE3 keyed hash initialization failed: " + err.Error())
		}
		return state
	}
	return hasher, nil
}

// Sum returns the ID of data.
func (h *Hasher) Sum(data []byte) ID {
	state := h.pool.Get().(*blake3.Hasher)
	state.Reset()
	state.Write(data)
	var id ID
	state.Sum(id[:0])
	h.pool.Put(state)
	return id
}

// Verify reports whether data hashes to id.
func (h *Hasher) Verify(id ID, data []byte) bool {
	return h.Sum(data) == id
}
