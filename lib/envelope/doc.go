// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package envelope turns chunk plaintext into the bytes stored in a
// segment, and back.
//
// Encoding compresses first and then encrypts, so compression still
// sees the redundancy in the plaintext. Encryption is
// XChaCha20-Poly1305 with a random 24-byte nonce. The authenticated
// data covers the envelope header (format version, compression
// algorithm, plaintext length) and the chunk ID, so a record copied
// under another ID, or a header edited in place, fails authentication
// before any decompression is attempted.
//
// Layout of an encoded chunk:
//
//	[version 1B] [compression 1B] [plaintext length u32 LE]
//	[nonce 24B] [ciphertext + Poly1305 tag]
//
// Keys are derived once per repository session from the master key with
// HKDF-SHA256 and never change while the session is open.
package envelope
