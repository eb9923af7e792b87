// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/vault/lib/manifest"
	"github.com/bureau-foundation/vault/lib/repository"
)

// treeWriter receives the items of a walked tree.
// *repository.Transaction implements it.
type treeWriter interface {
	AddFile(ctx context.Context, info repository.FileInfo, content io.Reader) (manifest.FileEntry, error)
	AddEntry(info repository.FileInfo) (manifest.FileEntry, error)
}

type walkOptions struct {
	Root string

	// Excludes are path.Match patterns tested against the slash
	// separated path relative to Root and against the base name.
	Excludes []string

	// Parallel bounds files read at once.
	Parallel int

	Logger *slog.Logger
}

type walkStats struct {
	Files   int64
	Entries int64

	// Skipped counts items not archived: unsupported types and items
	// that could not be read.
	Skipped int64
}

// walkTree adds every file, directory and symlink under options.Root
// to writer. Root itself is not an entry. Unreadable items are logged
// and skipped; a failure to store content aborts the walk.
func walkTree(ctx context.Context, writer treeWriter, options walkOptions) (walkStats, error) {
	if options.Parallel <= 0 {
		options.Parallel = 1
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	for _, pattern := range options.Excludes {
		if _, err := path.Match(pattern, ""); err != nil {
			return walkStats{}, fmt.Errorf("exclude pattern %q: %w", pattern, err)
		}
	}

	var files, entries, skipped atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(options.Parallel)

	walkErr := filepath.WalkDir(options.Root, func(name string, d fs.DirEntry, err error) error {
		if ctxErr := groupCtx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if name == options.Root {
				return err
			}
			logger.Warn("skipping unreadable item", "path", name, "error", err)
			skipped.Add(1)
			return nil
		}
		if name == options.Root {
			return nil
		}

		relative, err := filepath.Rel(options.Root, name)
		if err != nil {
			return err
		}
		relative = filepath.ToSlash(relative)
		if excluded(relative, options.Excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			logger.Warn("skipping unreadable item", "path", name, "error", err)
			skipped.Add(1)
			return nil
		}
		fileInfo := fileInfoOf(relative, info)

		switch kind, ok := manifest.KindOf(info.Mode()); {
		case !ok:
			logger.Debug("skipping unsupported file type", "path", name, "type", info.Mode().Type())
			skipped.Add(1)
		case kind == manifest.KindFile:
			group.Go(func() error {
				file, err := os.Open(name)
				if err != nil {
					logger.Warn("skipping unreadable file", "path", name, "error", err)
					skipped.Add(1)
					return nil
				}
				defer file.Close()
				if _, err := writer.AddFile(groupCtx, fileInfo, file); err != nil {
					return err
				}
				files.Add(1)
				return nil
			})
		default:
			if kind == manifest.KindSymlink {
				fileInfo.Target, err = os.Readlink(name)
				if err != nil {
					logger.Warn("skipping unreadable symlink", "path", name, "error", err)
					skipped.Add(1)
					return nil
				}
			}
			if _, err := writer.AddEntry(fileInfo); err != nil {
				return err
			}
			entries.Add(1)
		}
		return nil
	})

	groupErr := group.Wait()
	stats := walkStats{Files: files.Load(), Entries: entries.Load(), Skipped: skipped.Load()}
	if groupErr != nil {
		return stats, groupErr
	}
	return stats, walkErr
}

func excluded(relative string, patterns []string) bool {
	base := path.Base(relative)
	for _, pattern := range patterns {
		if matched, _ := path.Match(pattern, relative); matched {
			return true
		}
		if matched, _ := path.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

// fileInfoOf converts stat results to transaction metadata.
func fileInfoOf(relative string, info fs.FileInfo) repository.FileInfo {
	fileInfo := repository.FileInfo{
		Path:    relative,
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		fileInfo.UID = stat.Uid
		fileInfo.GID = stat.Gid
	}
	return fileInfo
}
