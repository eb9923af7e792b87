// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/bureau-foundation/vault/lib/secret"
)

// ErrWrongKey reports a sealed file that none of the supplied
// passphrases or identities can open.
var ErrWrongKey = errors.New("key file cannot be opened with the supplied passphrase or identity")

// DefaultWorkFactor is the scrypt work factor (log2 N) for passphrase
// sealing, age's own default.
const DefaultWorkFactor = 18

// Keypair holds an age X25519 keypair. Close releases the private key.
type Keypair struct {
	// PrivateKey is the AGE-SECRET-KEY-1... string in locked memory.
	PrivateKey *secret.Buffer

	// PublicKey is the age1... recipient string.
	PublicKey string
}

// Close zeroes the private key. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair returns a fresh X25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}
	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// SealWithPassphrase encrypts plaintext under an scrypt-derived key.
// workFactor is log2 of the scrypt N parameter; zero selects
// DefaultWorkFactor.
func SealWithPassphrase(plaintext []byte, passphrase *secret.Buffer, workFactor int) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase.String())
	if err != nil {
		return nil, fmt.Errorf("creating passphrase recipient: %w", err)
	}
	if workFactor == 0 {
		workFactor = DefaultWorkFactor
	}
	recipient.SetWorkFactor(workFactor)
	return seal(plaintext, recipient)
}

// SealToRecipients encrypts plaintext to age public keys.
func SealToRecipients(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}
	return seal(plaintext, recipients...)
}

func seal(plaintext []byte, recipients ...age.Recipient) ([]byte, error) {
	var sealed bytes.Buffer
	armored := armor.NewWriter(&sealed)
	writer, err := age.Encrypt(armored, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("finalizing armor: %w", err)
	}
	return sealed.Bytes(), nil
}

// OpenWithPassphrase decrypts a passphrase-sealed file. maxWorkFactor
// bounds the scrypt cost a file may demand; zero accepts up to
// DefaultWorkFactor.
func OpenWithPassphrase(sealed []byte, passphrase *secret.Buffer, maxWorkFactor int) (*secret.Buffer, error) {
	identity, err := age.NewScryptIdentity(passphrase.String())
	if err != nil {
		return nil, fmt.Errorf("creating passphrase identity: %w", err)
	}
	if maxWorkFactor == 0 {
		maxWorkFactor = DefaultWorkFactor
	}
	identity.SetMaxWorkFactor(maxWorkFactor)
	return open(sealed, identity)
}

// OpenWithIdentity decrypts a file sealed to the public half of
// privateKey. The private key is borrowed, not closed.
func OpenWithIdentity(sealed []byte, privateKey *secret.Buffer) (*secret.Buffer, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return open(sealed, identity)
}

func open(sealed []byte, identity age.Identity) (*secret.Buffer, error) {
	reader, err := age.Decrypt(armor.NewReader(bytes.NewReader(sealed)), identity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, ErrWrongKey
		}
		return nil, fmt.Errorf("decrypting key file: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("reading decrypted key file: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("key file decrypts to nothing")
	}
	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("protecting decrypted key file: %w", err)
	}
	return buffer, nil
}

// ParsePublicKey validates an age public key string.
func ParsePublicKey(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("invalid age public key: %w", err)
	}
	return nil
}

// ParsePrivateKey validates an age private key held in a buffer.
func ParsePrivateKey(privateKey *secret.Buffer) error {
	if _, err := age.ParseX25519Identity(privateKey.String()); err != nil {
		return fmt.Errorf("invalid age private key: %w", err)
	}
	return nil
}
