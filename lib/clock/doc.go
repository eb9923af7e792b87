// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the wall clock so archive timestamps and
// durations are deterministic in tests.
//
// Production code takes a [Clock] and is handed [Real]. Tests hand it a
// [Fake] and move time explicitly with [FakeClock.Advance] or
// [FakeClock.Set].
package clock
