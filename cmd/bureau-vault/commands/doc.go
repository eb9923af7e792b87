// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands assembles the bureau-vault command tree. Every
// command resolves the user configuration, builds its logger from it,
// and unlocks the repository with the passphrase or identity the
// configuration points at.
package commands
