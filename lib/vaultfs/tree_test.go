// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vaultfs

import (
	"slices"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bureau-foundation/vault/lib/manifest"
)

func fileEntry(path string, size int64) manifest.FileEntry {
	return manifest.FileEntry{Path: path, Kind: manifest.KindFile, Mode: 0o644, Size: size}
}

func TestBuildTreeSynthesizesParents(t *testing.T) {
	root, skipped := buildTree([]manifest.FileEntry{
		fileEntry("a/b/c.txt", 3),
		fileEntry("top.txt", 1),
	})
	if skipped != 0 {
		t.Fatalf("skipped = %d", skipped)
	}
	if got := root.names(); !slices.Equal(got, []string{"a", "top.txt"}) {
		t.Fatalf("root names = %v", got)
	}
	a := root.children["a"]
	if a.entry.Kind != manifest.KindDirectory || a.entry.Path != "a" || a.entry.Mode != syntheticDirMode {
		t.Errorf("synthesized a = %+v", a.entry)
	}
	b := a.children["b"]
	if b.entry.Path != "a/b" {
		t.Errorf("synthesized b path = %q", b.entry.Path)
	}
	if c := b.children["c.txt"]; c == nil || c.entry.Size != 3 {
		t.Errorf("c.txt = %+v", c)
	}
}

func TestBuildTreeExplicitDirectoryAfterChild(t *testing.T) {
	root, _ := buildTree([]manifest.FileEntry{
		fileEntry("etc/hosts", 10),
		{Path: "etc", Kind: manifest.KindDirectory, Mode: 0o700, UID: 7},
	})
	etc := root.children["etc"]
	if etc.entry.Mode != 0o700 || etc.entry.UID != 7 {
		t.Errorf("explicit directory metadata not applied: %+v", etc.entry)
	}
	if _, ok := etc.children["hosts"]; !ok {
		t.Error("explicit directory lost its earlier child")
	}
}

func TestBuildTreeSkipsChildrenOfFiles(t *testing.T) {
	root, skipped := buildTree([]manifest.FileEntry{
		fileEntry("x", 1),
		fileEntry("x/y", 1),
		fileEntry("d/e", 1),
		fileEntry("d", 1),
	})
	// x/y has a file for a parent; d/e is dropped when d turns out to
	// be a file.
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
	if root.children["d"].entry.Kind != manifest.KindFile {
		t.Error("d should be the file entry")
	}
	if root.count() != 2 {
		t.Errorf("tree holds %d nodes, want 2", root.count())
	}
}

func TestFillAttr(t *testing.T) {
	tests := []struct {
		name  string
		entry manifest.FileEntry
		mode  uint32
		size  uint64
	}{
		{"file", manifest.FileEntry{Kind: manifest.KindFile, Mode: 0o644, Size: 1000}, syscall.S_IFREG | 0o444, 1000},
		{"executable", manifest.FileEntry{Kind: manifest.KindFile, Mode: 0o755}, syscall.S_IFREG | 0o555, 0},
		{"directory", manifest.FileEntry{Kind: manifest.KindDirectory, Mode: 0o750}, syscall.S_IFDIR | 0o550, 0},
		{"symlink", manifest.FileEntry{Kind: manifest.KindSymlink, Target: "../target"}, syscall.S_IFLNK | 0o777, 9},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.entry.UID = 1000
			test.entry.ModTime = 1_700_000_000_000_000_000
			var attr fuse.Attr
			fillAttr(&attr, test.entry)
			if attr.Mode != test.mode {
				t.Errorf("mode = %o, want %o", attr.Mode, test.mode)
			}
			if attr.Size != test.size {
				t.Errorf("size = %d, want %d", attr.Size, test.size)
			}
			if attr.Uid != 1000 {
				t.Errorf("uid = %d", attr.Uid)
			}
			if attr.Mtime != 1_700_000_000 {
				t.Errorf("mtime = %d", attr.Mtime)
			}
		})
	}
}
