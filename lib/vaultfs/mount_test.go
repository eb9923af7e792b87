// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vaultfs

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"syscall"
	"testing"
	"time"

	"github.com/bureau-foundation/vault/lib/chunker"
	"github.com/bureau-foundation/vault/lib/clock"
	"github.com/bureau-foundation/vault/lib/manifest"
	"github.com/bureau-foundation/vault/lib/repository"
	"github.com/bureau-foundation/vault/lib/secret"
	"github.com/bureau-foundation/vault/lib/testutil"
)

var testTimestamp = time.Unix(1735689600, 0)

// fuseAvailable checks whether /dev/fuse is accessible. Tests that
// need a real FUSE mount call this and skip if the device is absent.
func fuseAvailable(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

func testPassphrase(t *testing.T) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte("mount test passphrase"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

// testRepository creates a repository holding one archive, "backup",
// with the given files plus a directory and a symlink.
func testRepository(t *testing.T, files map[string][]byte) *repository.Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repo")
	err := repository.Init(context.Background(), path, repository.InitOptions{
		Chunker:    chunker.Params{Algorithm: chunker.Gear, MinSize: 1 << 10, AvgSize: 4 << 10, MaxSize: 16 << 10},
		Passphrase: testPassphrase(t),
		WorkFactor: 10,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	r, err := repository.Open(context.Background(), path, repository.OpenOptions{
		Credentials: repository.Credentials{Passphrase: testPassphrase(t)},
		Clock:       clock.Fake(testTimestamp),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	txn, err := r.Begin(manifest.ArchiveInfo{Name: "backup"})
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Abort()
	ctx := context.Background()
	if _, err := txn.AddEntry(repository.FileInfo{Path: "docs", Mode: fs.ModeDir | 0o755, ModTime: testTimestamp}); err != nil {
		t.Fatal(err)
	}
	if _, err := txn.AddEntry(repository.FileInfo{Path: "latest", Mode: fs.ModeSymlink | 0o777, ModTime: testTimestamp, Target: "docs/readme"}); err != nil {
		t.Fatal(err)
	}
	for path, content := range files {
		info := repository.FileInfo{Path: path, Mode: 0o644, ModTime: testTimestamp}
		if _, err := txn.AddFile(ctx, info, bytes.NewReader(content)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := txn.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	return r
}

func testMount(t *testing.T, r *repository.Repository) string {
	t.Helper()
	mountpoint := filepath.Join(t.TempDir(), "mount")
	server, err := Mount(Options{Mountpoint: mountpoint, Source: r})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Unmount(); err != nil {
			t.Errorf("Unmount: %v", err)
		}
	})
	return mountpoint
}

func TestMountListsArchives(t *testing.T) {
	fuseAvailable(t)
	mountpoint := testMount(t, testRepository(t, map[string][]byte{"docs/readme": []byte("hi")}))

	entries, err := os.ReadDir(mountpoint)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "backup" || !entries[0].IsDir() {
		t.Fatalf("root entries = %v", entries)
	}

	names := func(dir string) []string {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("ReadDir(%s): %v", dir, err)
		}
		var result []string
		for _, entry := range entries {
			result = append(result, entry.Name())
		}
		return result
	}
	if got := names(filepath.Join(mountpoint, "backup")); !slices.Equal(got, []string{"docs", "latest"}) {
		t.Errorf("archive root = %v", got)
	}
	if got := names(filepath.Join(mountpoint, "backup", "docs")); !slices.Equal(got, []string{"readme"}) {
		t.Errorf("docs = %v", got)
	}
	if _, err := os.Stat(filepath.Join(mountpoint, "missing")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Stat(missing archive) error = %v", err)
	}
}

func TestMountReadsFiles(t *testing.T) {
	fuseAvailable(t)
	large := testutil.RandomBytes(40, 200<<10)
	small := []byte("hello from the archive")
	mountpoint := testMount(t, testRepository(t, map[string][]byte{
		"docs/readme": small,
		"data/large":  large,
	}))
	archive := filepath.Join(mountpoint, "backup")

	got, err := os.ReadFile(filepath.Join(archive, "docs", "readme"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, small) {
		t.Errorf("readme = %q", got)
	}

	got, err = os.ReadFile(filepath.Join(archive, "data", "large"))
	if err != nil {
		t.Fatalf("ReadFile(large): %v", err)
	}
	if !bytes.Equal(got, large) {
		t.Error("large file content mismatch")
	}

	file, err := os.Open(filepath.Join(archive, "data", "large"))
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	window := make([]byte, 5000)
	if _, err := file.ReadAt(window, 100_000); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(window, large[100_000:105_000]) {
		t.Error("partial read mismatch")
	}

	info, err := os.Stat(filepath.Join(archive, "data", "large"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(len(large)) || info.Mode().Perm() != 0o444 {
		t.Errorf("stat = size %d mode %v", info.Size(), info.Mode())
	}
	if !info.ModTime().Equal(testTimestamp) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), testTimestamp)
	}

	target, err := os.Readlink(filepath.Join(archive, "latest"))
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "docs/readme" {
		t.Errorf("link target = %q", target)
	}
}

func TestMountIsReadOnly(t *testing.T) {
	fuseAvailable(t)
	mountpoint := testMount(t, testRepository(t, map[string][]byte{"docs/readme": []byte("x")}))

	_, err := os.OpenFile(filepath.Join(mountpoint, "backup", "docs", "readme"), os.O_WRONLY, 0)
	if !errors.Is(err, syscall.EROFS) && !errors.Is(err, fs.ErrPermission) {
		t.Errorf("open for writing error = %v, want EROFS or permission denied", err)
	}
	err = os.WriteFile(filepath.Join(mountpoint, "backup", "new"), []byte("x"), 0o644)
	if err == nil {
		t.Error("creating a file in the mount succeeded")
	}
}
