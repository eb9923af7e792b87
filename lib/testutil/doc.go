// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for vault packages.
//
// [RandomBytes] and [Mutate] produce deterministic test content: the
// same seed always yields the same bytes, so chunk boundaries and
// deduplication results are reproducible across runs.
//
// [RequireReceive] bounds a channel receive with a timeout so a hung
// goroutine fails the test instead of stalling it.
package testutil
