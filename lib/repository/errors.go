// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"errors"

	"github.com/bureau-foundation/vault/lib/envelope"
	"github.com/bureau-foundation/vault/lib/manifest"
	"github.com/bureau-foundation/vault/lib/sealed"
	"github.com/bureau-foundation/vault/lib/segment"
)

// Errors surfaced by repository operations. Lower-level sentinels are
// re-exported so callers need only this package for errors.Is.
var (
	ErrIO              = segment.ErrIO
	ErrNotFound        = segment.ErrNotFound
	ErrCorruptRecord   = segment.ErrCorruptRecord
	ErrIntegrity       = envelope.ErrIntegrity
	ErrFormat          = envelope.ErrFormat
	ErrArchiveExists   = manifest.ErrArchiveExists
	ErrArchiveNotFound = manifest.ErrArchiveNotFound
	ErrWrongKey        = sealed.ErrWrongKey

	// ErrLocked reports a repository already opened by another
	// process.
	ErrLocked = errors.New("repository is locked by another process")

	// ErrClosed reports use of a closed repository.
	ErrClosed = errors.New("repository is closed")

	// ErrNotRepository reports a path without a repository config.
	ErrNotRepository = errors.New("not a bureau-vault repository")

	// ErrTransactionDone reports use of a committed or aborted
	// transaction.
	ErrTransactionDone = errors.New("transaction is already finished")
)
