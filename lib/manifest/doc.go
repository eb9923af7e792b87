// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest describes archives: the files a snapshot holds, the
// chunks each file is made of, and the catalog naming every archive in
// a repository.
//
// An archive is stored in three layers, all of them ordinary chunks.
// The file entries are encoded as a CBOR sequence (the item stream),
// which is itself chunked; the archive header lists those item chunks
// together with the archive metadata and is stored as one more chunk.
// The catalog maps archive names to archive header IDs and is stored
// under the reserved zero chunk ID.
//
// The package is pure data: storing and loading the chunks, and the
// reference counting that follows from adding or deleting an archive,
// belong to the repository.
package manifest
