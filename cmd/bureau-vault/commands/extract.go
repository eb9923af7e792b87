// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bufio"
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/vault/cmd/bureau-vault/cli"
	"github.com/bureau-foundation/vault/lib/manifest"
	"github.com/bureau-foundation/vault/lib/repository"
)

type extractParams struct {
	repositoryParams
	Paths []string `flag:"path" desc:"extract only this archive path and what is below it; repeatable"`
}

func extractCommand() *cli.Command {
	var params extractParams
	return &cli.Command{
		Name:    "extract",
		Summary: "Restore an archive to disk",
		Description: `Restore the contents of an archive below a destination directory.

Permissions and modification times are restored; ownership is restored
when running as root. Existing files are never overwritten.`,
		Usage: "bureau-vault extract [flags] <archive> <destination>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("extract", &params)
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if len(args) != 2 {
				return fmt.Errorf("expected <archive> <destination>, got %d arguments", len(args))
			}
			s, err := params.session("extract")
			if err != nil {
				return err
			}
			repo, err := s.open(ctx, nil)
			if err != nil {
				return err
			}
			defer closeRepository(repo, &err)

			archive, err := repo.Archive(ctx, args[0])
			if err != nil {
				return err
			}
			stats, err := restoreTree(ctx, repo, archive, args[1], restoreOptions{
				Paths:     params.Paths,
				Ownership: os.Geteuid() == 0,
				Logger:    s.logger,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Restored %d files (%s), %d directories, %d symlinks to %s\n",
				stats.Files, humanize.IBytes(uint64(stats.Bytes)), stats.Directories, stats.Symlinks, args[1])
			return nil
		},
	}
}

type restoreOptions struct {
	// Paths limits the restore to these archive paths and their
	// descendants. Empty restores everything.
	Paths []string

	// Ownership restores uid and gid.
	Ownership bool

	Logger *slog.Logger
}

type restoreStats struct {
	Files       int
	Directories int
	Symlinks    int
	Bytes       int64
}

// restoreTree writes the selected entries of archive below dest.
// Directories are created first and get their final mode and times
// last; symlinks come after files so that no file is written through
// a restored link.
func restoreTree(ctx context.Context, repo *repository.Repository, archive *manifest.Manifest, dest string, options restoreOptions) (restoreStats, error) {
	var stats restoreStats
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	selected, err := selectEntries(archive, options.Paths)
	if err != nil {
		return stats, err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return stats, err
	}

	var directories, files, symlinks []manifest.FileEntry
	for _, entry := range selected {
		switch entry.Kind {
		case manifest.KindDirectory:
			directories = append(directories, entry)
		case manifest.KindFile:
			files = append(files, entry)
		case manifest.KindSymlink:
			symlinks = append(symlinks, entry)
		}
	}

	for _, entry := range directories {
		if err := os.MkdirAll(localPath(dest, entry.Path), 0o700); err != nil {
			return stats, err
		}
	}
	for _, entry := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		path := localPath(dest, entry.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return stats, err
		}
		if err := restoreFile(ctx, repo, entry, path); err != nil {
			return stats, err
		}
		if err := applyMetadata(entry, path, options.Ownership); err != nil {
			return stats, err
		}
		stats.Files++
		stats.Bytes += entry.Size
		logger.Debug("restored file", "path", entry.Path, "size", entry.Size)
	}
	for _, entry := range symlinks {
		path := localPath(dest, entry.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return stats, err
		}
		if err := os.Symlink(entry.Target, path); err != nil {
			return stats, err
		}
		if err := applyMetadata(entry, path, options.Ownership); err != nil {
			return stats, err
		}
		stats.Symlinks++
	}

	// Deepest first, so a parent's mtime is set after its children
	// stop changing it.
	slices.SortFunc(directories, func(a, b manifest.FileEntry) int {
		return cmp.Compare(strings.Count(b.Path, "/"), strings.Count(a.Path, "/"))
	})
	for _, entry := range directories {
		if err := applyMetadata(entry, localPath(dest, entry.Path), options.Ownership); err != nil {
			return stats, err
		}
		stats.Directories++
	}
	return stats, nil
}

// selectEntries returns the entries at or below any of paths.
func selectEntries(archive *manifest.Manifest, paths []string) ([]manifest.FileEntry, error) {
	if len(paths) == 0 {
		return archive.Entries(), nil
	}
	prefixes := make([]string, len(paths))
	for i, path := range paths {
		cleaned, err := manifest.CleanPath(path)
		if err != nil {
			return nil, err
		}
		if _, ok := archive.Lookup(cleaned); !ok {
			return nil, fmt.Errorf("%w: %s", manifest.ErrNoSuchPath, cleaned)
		}
		prefixes[i] = cleaned
	}

	var selected []manifest.FileEntry
	for _, entry := range archive.Entries() {
		for _, prefix := range prefixes {
			if entry.Path == prefix || strings.HasPrefix(entry.Path, prefix+"/") {
				selected = append(selected, entry)
				break
			}
		}
	}
	return selected, nil
}

func localPath(dest, archivePath string) string {
	return filepath.Join(dest, filepath.FromSlash(archivePath))
}

func restoreFile(ctx context.Context, repo *repository.Repository, entry manifest.FileEntry, path string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	writer := bufio.NewWriterSize(file, 1<<20)
	if _, err := repo.NewChunkReader(ctx, entry.Chunks).WriteTo(writer); err != nil {
		file.Close()
		return fmt.Errorf("restoring %s: %w", entry.Path, err)
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return file.Close()
}

// applyMetadata sets mode, ownership and modification time without
// following symlinks.
func applyMetadata(entry manifest.FileEntry, path string, ownership bool) error {
	if ownership {
		if err := os.Lchown(path, int(entry.UID), int(entry.GID)); err != nil {
			return err
		}
	}
	if entry.Kind != manifest.KindSymlink {
		if err := os.Chmod(path, fs.FileMode(entry.Mode)); err != nil {
			return err
		}
	}
	mtime := unix.NsecToTimespec(entry.ModTime)
	times := []unix.Timespec{mtime, mtime}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, times, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return fmt.Errorf("setting times of %s: %w", path, err)
	}
	return nil
}
