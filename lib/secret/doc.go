// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds repository key material and passphrases in memory
// the garbage collector never sees.
//
// A [Buffer] is an anonymous mmap region, locked against swap and
// excluded from core dumps, that is zeroed and unmapped on Close. The
// repository master key lives in one for the whole session; derived
// subkeys are copied out only into the cipher and hasher state that
// needs them.
//
// [ReadPassphrase] loads a passphrase from a file or stdin straight into
// a Buffer.
package secret
