// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package vaultfs mounts a repository read-only through FUSE.
//
// The mount root holds one directory per archive. Inside, each archive
// shows the tree it was created from: directories, symlinks and regular
// files with their stored mode, ownership and modification time. File
// reads resolve byte offsets to chunks and fetch them through the
// repository, so only the chunks actually read are decrypted.
//
// Archives are loaded on first lookup and kept for the life of the
// mount. The repository stays open for the duration and no other
// process can change it, so a loaded tree never goes stale.
package vaultfs
