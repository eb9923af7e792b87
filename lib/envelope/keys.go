// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/vault/lib/chunkid"
	"github.com/bureau-foundation/vault/lib/secret"
)

// KeySize is the size of the master key and every derived key.
const KeySize = 32

// HKDF info strings. Changing one orphans everything derived under it.
var (
	hkdfInfoEncryption = []byte("bureau.vault.chunk.enc.v1")
	hkdfInfoChunkID    = []byte("bureau.vault.chunk.id.v1")
)

// Keys is the per-session key schedule derived from a repository
// master key.
type Keys struct {
	master *secret.Buffer
	aead   cipher.AEAD
	hasher *chunkid.Hasher
}

// NewMasterKey generates a random master key.
func NewMasterKey() (*secret.Buffer, error) {
	buffer, err := secret.New(KeySize)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rand.Reader, buffer.Bytes()); err != nil {
		buffer.Close()
		return nil, fmt.Errorf("generating master key: %w", err)
	}
	return buffer, nil
}

// NewKeys derives the encryption key and chunk ID key from master.
// Keys takes ownership of master and closes it in Close.
func NewKeys(master *secret.Buffer) (*Keys, error) {
	if master.Len() != KeySize {
		return nil, fmt.Errorf("master key is %d bytes, want %d", master.Len(), KeySize)
	}

	encryptionKey, err := deriveKey(master.Bytes(), hkdfInfoEncryption)
	if err != nil {
		return nil, err
	}
	defer encryptionKey.Close()
	aead, err := chacha20poly1305.NewX(encryptionKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	idKey, err := deriveKey(master.Bytes(), hkdfInfoChunkID)
	if err != nil {
		return nil, err
	}
	defer idKey.Close()
	hasher, err := chunkid.NewHasher(idKey.Bytes())
	if err != nil {
		return nil, err
	}

	return &Keys{master: master, aead: aead, hasher: hasher}, nil
}

// Hasher returns the chunk ID hasher keyed for this repository.
func (k *Keys) Hasher() *chunkid.Hasher {
	return k.hasher
}

// Master returns the master key buffer. It stays owned by Keys.
func (k *Keys) Master() *secret.Buffer {
	return k.master
}

// Close zeroes the master key.
func (k *Keys) Close() error {
	return k.master.Close()
}

func deriveKey(ikm, info []byte) (*secret.Buffer, error) {
	buffer, err := secret.New(KeySize)
	if err != nil {
		return nil, err
	}
	reader := hkdf.New(sha256.New, ikm, nil, info)
	if _, err := io.ReadFull(reader, buffer.Bytes()); err != nil {
		buffer.Close()
		return nil, fmt.Errorf("deriving key %q: %w", info, err)
	}
	return buffer, nil
}
