// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"math/rand/v2"
)

// RandomBytes returns size pseudo-random bytes determined by seed.
// Random content does not compress, which keeps stored sizes
// predictable.
func RandomBytes(seed uint64, size int) []byte {
	source := rand.NewChaCha8(seedBytes(seed))
	data := make([]byte, size)
	_, _ = source.Read(data)
	return data
}

// Mutate returns a copy of data with insert spliced in at offset.
func Mutate(data []byte, offset int, insert []byte) []byte {
	mutated := make([]byte, 0, len(data)+len(insert))
	mutated = append(mutated, data[:offset]...)
	mutated = append(mutated, insert...)
	return append(mutated, data[offset:]...)
}

func seedBytes(seed uint64) [32]byte {
	var key [32]byte
	for i := range 8 {
		key[i] = byte(seed >> (8 * i))
	}
	return key
}
