// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the bureau-vault user configuration.
//
// The configuration file is named explicitly, either by the --config
// flag or by the BUREAU_VAULT_CONFIG environment variable; there is no
// search path. Without either, [Default] applies. Files ending in .json
// or .jsonc are parsed as JSON with comments and trailing commas; any
// other file is YAML.
//
// String values may reference the environment as ${VAR} or
// ${VAR:-default}. Sizes accept human units ("2MiB", "512k").
//
// The user configuration only supplies defaults for commands. Settings
// that shape the repository format (chunker parameters, compression)
// are read at init time and recorded in the repository's own config
// file, which wins on every later open.
package config
