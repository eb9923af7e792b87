// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed protects the vault key file with age.
//
// A key file is sealed one of two ways: with a passphrase (age's scrypt
// recipient) or to one or more X25519 public keys. Either way the
// result is ASCII-armored so the file survives copy-paste and email.
// Unsealed plaintext and private keys are returned as [secret.Buffer]
// values backed by locked memory outside the Go heap.
//
//   - [SealWithPassphrase] / [OpenWithPassphrase]
//   - [SealToRecipients] / [OpenWithIdentity]
//   - [GenerateKeypair], [ParsePublicKey], [ParsePrivateKey]
package sealed
