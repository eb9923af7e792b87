// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vault/cmd/bureau-vault/cli"
	"github.com/bureau-foundation/vault/lib/manifest"
)

type createParams struct {
	repositoryParams
	cli.JSONOutput
	Comment  string   `json:"-" flag:"comment" desc:"free-form archive comment"`
	Excludes []string `json:"-" flag:"exclude" desc:"glob of paths or names to skip; repeatable"`
	Parallel int      `json:"-" flag:"parallel" desc:"files read at once (default: number of CPUs)"`
}

type createResult struct {
	Archive    string `json:"archive"`
	ID         string `json:"id"`
	Files      int64  `json:"files"`
	Entries    int64  `json:"entries"`
	Skipped    int64  `json:"skipped"`
	Bytes      int64  `json:"bytes"`
	NewChunks  int64  `json:"new_chunks"`
	Duplicates int64  `json:"duplicate_chunks"`
}

func createCommand() *cli.Command {
	var params createParams
	return &cli.Command{
		Name:    "create",
		Summary: "Store a directory as a new archive",
		Description: `Walk a directory and store it as a new archive.

Regular files, directories and symlinks are archived with their
permissions, ownership and modification times. Devices, sockets and
pipes are skipped. The archive appears in the repository only once every
file is stored; an interrupted create leaves nothing behind but chunks
for "compact" to collect.`,
		Usage: "bureau-vault create [flags] <archive> <directory>",
		Examples: []cli.Example{
			{
				Description: "Back up /etc, skipping editor backups",
				Command:     "bureau-vault create --exclude '*~' etc-2026-10-19 /etc",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("create", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("expected <archive> <directory>, got %d arguments", len(args))
			}
			s, err := params.session("create")
			if err != nil {
				return err
			}
			return runCreate(ctx, s, &params, args[0], args[1])
		},
	}
}

func runCreate(ctx context.Context, s *session, params *createParams, name, root string) (err error) {
	stat, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !stat.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}

	repo, err := s.open(ctx, nil)
	if err != nil {
		return err
	}
	defer closeRepository(repo, &err)

	info := manifest.ArchiveInfo{
		Name:        name,
		Comment:     params.Comment,
		CommandLine: os.Args,
	}
	info.Hostname, _ = os.Hostname()
	if current, userErr := user.Current(); userErr == nil {
		info.Username = current.Username
	}

	transaction, err := repo.Begin(info)
	if err != nil {
		return err
	}
	defer transaction.Abort()

	parallel := params.Parallel
	if parallel <= 0 {
		parallel = runtime.NumCPU()
	}
	walked, err := walkTree(ctx, transaction, walkOptions{
		Root:     root,
		Excludes: params.Excludes,
		Parallel: parallel,
		Logger:   s.logger,
	})
	if err != nil {
		return err
	}
	id, err := transaction.Commit(ctx)
	if err != nil {
		return err
	}

	stats := transaction.Stats()
	result := createResult{
		Archive:    name,
		ID:         id.String(),
		Files:      walked.Files,
		Entries:    walked.Entries,
		Skipped:    walked.Skipped,
		Bytes:      stats.Bytes,
		NewChunks:  stats.NewChunks,
		Duplicates: stats.Duplicates,
	}
	if done, err := params.EmitJSON(result); done {
		return err
	}
	fmt.Printf("Archive %s stored (id %s)\n", name, id.Short())
	fmt.Printf("  %s files, %s other entries, %s skipped\n",
		humanize.Comma(result.Files), humanize.Comma(result.Entries), humanize.Comma(result.Skipped))
	fmt.Printf("  %s of content, %s new chunks, %s deduplicated\n",
		humanize.IBytes(uint64(result.Bytes)), humanize.Comma(result.NewChunks), humanize.Comma(result.Duplicates))
	return nil
}
