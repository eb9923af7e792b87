// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/bureau-foundation/vault/lib/codec"
	"github.com/bureau-foundation/vault/lib/envelope"
	"github.com/bureau-foundation/vault/lib/sealed"
	"github.com/bureau-foundation/vault/lib/secret"
)

const keyMaterialVersion = 1

// keyMaterial is the plaintext of the key file.
type keyMaterial struct {
	Version int    `cbor:"version"`
	Master  []byte `cbor:"master"`

	// Seed keys the chunker: a gear table seed or a Rabin polynomial.
	// It is generated rather than derived because a Rabin polynomial
	// must be irreducible.
	Seed uint64 `cbor:"chunker_seed"`
}

// Credentials unlock a key file. Exactly one of Passphrase and Identity
// is consulted, according to the repository's key mode. Both stay
// owned by the caller.
type Credentials struct {
	Passphrase *secret.Buffer

	// Identity is an AGE-SECRET-KEY-1... private key.
	Identity *secret.Buffer

	// MaxWorkFactor bounds the scrypt cost accepted from a passphrase
	// key file. Zero accepts up to sealed.DefaultWorkFactor.
	MaxWorkFactor int
}

// sealKeyFile encodes the master key and seed and seals them.
func sealKeyFile(master *secret.Buffer, seed uint64, mode KeyMode, passphrase *secret.Buffer, recipients []string, workFactor int) ([]byte, error) {
	encoded, err := codec.Marshal(keyMaterial{
		Version: keyMaterialVersion,
		Master:  master.Bytes(),
		Seed:    seed,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding key material: %w", err)
	}
	defer secret.Zero(encoded)

	switch mode {
	case KeyModePassphrase:
		if passphrase == nil {
			return nil, fmt.Errorf("passphrase key mode requires a passphrase")
		}
		return sealed.SealWithPassphrase(encoded, passphrase, workFactor)
	case KeyModeRecipient:
		return sealed.SealToRecipients(encoded, recipients)
	default:
		return nil, fmt.Errorf("unknown key mode %q", mode)
	}
}

func writeKeyFile(dir string, data []byte) error {
	if err := renameio.WriteFile(filepath.Join(dir, keyFile), data, 0o600); err != nil {
		return fmt.Errorf("%w: writing key file: %w", ErrIO, err)
	}
	return nil
}

// openKeyFile unseals dir/key and returns the derived keys and the
// chunker seed.
func openKeyFile(dir string, mode KeyMode, credentials Credentials) (*envelope.Keys, uint64, error) {
	data, err := os.ReadFile(filepath.Join(dir, keyFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: key file is missing", ErrNotRepository)
		}
		return nil, 0, fmt.Errorf("%w: reading key file: %w", ErrIO, err)
	}

	var plaintext *secret.Buffer
	switch mode {
	case KeyModePassphrase:
		if credentials.Passphrase == nil {
			return nil, 0, fmt.Errorf("repository key is passphrase-protected and no passphrase was given")
		}
		plaintext, err = sealed.OpenWithPassphrase(data, credentials.Passphrase, credentials.MaxWorkFactor)
	case KeyModeRecipient:
		if credentials.Identity == nil {
			return nil, 0, fmt.Errorf("repository key is sealed to an age recipient and no identity was given")
		}
		plaintext, err = sealed.OpenWithIdentity(data, credentials.Identity)
	default:
		return nil, 0, fmt.Errorf("unknown key mode %q", mode)
	}
	if err != nil {
		return nil, 0, err
	}
	defer plaintext.Close()

	var material keyMaterial
	if err := codec.Unmarshal(plaintext.Bytes(), &material); err != nil {
		return nil, 0, fmt.Errorf("%w: key file content: %v", ErrFormat, err)
	}
	defer secret.Zero(material.Master)
	if material.Version != keyMaterialVersion {
		return nil, 0, fmt.Errorf("%w: key file version %d", ErrFormat, material.Version)
	}

	master, err := secret.NewFromBytes(material.Master)
	if err != nil {
		return nil, 0, fmt.Errorf("protecting master key: %w", err)
	}
	keys, err := envelope.NewKeys(master)
	if err != nil {
		master.Close()
		return nil, 0, err
	}
	return keys, material.Seed, nil
}
