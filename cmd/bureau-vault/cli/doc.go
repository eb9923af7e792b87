// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for bureau-vault.
//
// The central type is [Command], a named subcommand with optional nested
// [Command.Subcommands], a [pflag.FlagSet] factory, and a Run function.
// The command tree is assembled in cmd/bureau-vault/commands and
// dispatched via [Command.Execute], which handles flag parsing,
// subcommand routing, and help output with examples.
//
// Unknown subcommands and flags are answered with the closest known name
// by Levenshtein distance (at most 3).
//
// Parameter structs bind their flags from struct tags with
// [FlagsFromParams]; embedding [JSONOutput] adds --json.
package cli
