// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/bureau-foundation/vault/lib/chunkid"
)

// FormatVersion is the first byte of every encoded chunk.
const FormatVersion byte = 0x01

const headerSize = 1 + 1 + 4

// Overhead is the number of bytes an envelope adds beyond the
// (possibly compressed) payload.
const Overhead = headerSize + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

var (
	// ErrFormat reports an envelope whose header is short, of an
	// unknown version, names an unknown compression, or whose
	// authenticated payload does not decompress to the declared size.
	ErrFormat = errors.New("malformed chunk envelope")

	// ErrIntegrity reports an envelope that fails authentication:
	// corrupted, tampered with, stored under a different chunk ID, or
	// written under a different key.
	ErrIntegrity = errors.New("chunk authentication failed")
)

// Codec encodes and decodes chunk payloads under one repository's keys.
// Safe for concurrent use.
type Codec struct {
	aead        cipher.AEAD
	compression Compression
}

// NewCodec returns a Codec that compresses new chunks with compression.
// Decoding accepts every known compression regardless.
func NewCodec(keys *Keys, compression Compression) (*Codec, error) {
	if !compression.valid() {
		return nil, fmt.Errorf("unsupported compression %s", compression)
	}
	return &Codec{aead: keys.aead, compression: compression}, nil
}

// Compression returns the algorithm applied to new chunks.
func (c *Codec) Compression() Compression {
	return c.compression
}

// Encode compresses and encrypts plaintext, binding the result to id.
func (c *Codec) Encode(id chunkid.ID, plaintext []byte) ([]byte, error) {
	if uint64(len(plaintext)) > math.MaxUint32 {
		return nil, fmt.Errorf("chunk of %d bytes exceeds envelope limit", len(plaintext))
	}
	payload, algorithm, err := compress(plaintext, c.compression)
	if err != nil {
		return nil, err
	}

	encoded := make([]byte, headerSize+chacha20poly1305.NonceSizeX,
		headerSize+chacha20poly1305.NonceSizeX+len(payload)+chacha20poly1305.Overhead)
	encoded[0] = FormatVersion
	encoded[1] = byte(algorithm)
	binary.LittleEndian.PutUint32(encoded[2:headerSize], uint32(len(plaintext)))

	nonce := encoded[headerSize:]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	aad := associatedData(encoded[:headerSize], id)
	return c.aead.Seal(encoded, nonce, payload, aad), nil
}

// Decode authenticates, decrypts and decompresses an envelope produced
// by Encode for the same id.
func (c *Codec) Decode(id chunkid.ID, encoded []byte) ([]byte, error) {
	if len(encoded) < Overhead {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the %d-byte minimum", ErrFormat, len(encoded), Overhead)
	}
	if encoded[0] != FormatVersion {
		return nil, fmt.Errorf("%w: version %#02x, want %#02x", ErrFormat, encoded[0], FormatVersion)
	}
	algorithm := Compression(encoded[1])
	if !algorithm.valid() {
		return nil, fmt.Errorf("%w: unknown compression %d", ErrFormat, encoded[1])
	}
	size := int(binary.LittleEndian.Uint32(encoded[2:headerSize]))

	header := encoded[:headerSize]
	nonce := encoded[headerSize : headerSize+chacha20poly1305.NonceSizeX]
	ciphertext := encoded[headerSize+chacha20poly1305.NonceSizeX:]

	payload, err := c.aead.Open(nil, nonce, ciphertext, associatedData(header, id))
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %s", ErrIntegrity, id.Short())
	}

	plaintext, err := decompress(payload, algorithm, size)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %s: %v", ErrFormat, id.Short(), err)
	}
	return plaintext, nil
}

func associatedData(header []byte, id chunkid.ID) []byte {
	aad := make([]byte, 0, len(header)+chunkid.Size)
	aad = append(aad, header...)
	return append(aad, id[:]...)
}
