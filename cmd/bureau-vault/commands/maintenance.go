// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vault/cmd/bureau-vault/cli"
	"github.com/bureau-foundation/vault/lib/repository"
)

type compactParams struct {
	repositoryParams
	cli.JSONOutput
	Threshold float64 `json:"-" flag:"threshold" desc:"dead fraction at which a segment is rewritten; negative rewrites any segment with garbage (default: compact.threshold)"`
}

func compactCommand() *cli.Command {
	var params compactParams
	return &cli.Command{
		Name:    "compact",
		Summary: "Reclaim space held by unreferenced chunks",
		Description: `Recount chunk references from every archive, mark chunks nothing
references as garbage, and rewrite segments whose garbage fraction
reaches the threshold. New archives may be created while compaction
rewrites segments.`,
		Usage: "bureau-vault compact [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("compact", &params)
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if len(args) != 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}
			s, err := params.session("compact")
			if err != nil {
				return err
			}
			threshold := s.config.Compact.Threshold
			if params.Threshold != 0 {
				threshold = params.Threshold
			}
			repo, err := s.open(ctx, nil)
			if err != nil {
				return err
			}
			defer closeRepository(repo, &err)

			stats, err := repo.GC(ctx, repository.GCOptions{Threshold: threshold})
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(stats); done {
				return err
			}
			fmt.Printf("Recounted %s references from %d archives in %s\n",
				humanize.Comma(int64(stats.References)), stats.Archives, stats.Duration.Round(time.Millisecond))
			fmt.Printf("  %s live chunks, %s condemned, %s removed\n",
				humanize.Comma(int64(stats.Live)), humanize.Comma(int64(stats.Condemned)), humanize.Comma(int64(stats.Removed)))
			fmt.Printf("  %d of %d segments compacted, %s freed\n",
				stats.Compaction.SegmentsCompacted, stats.Compaction.SegmentsScanned, humanize.IBytes(uint64(stats.Compaction.BytesFreed)))
			if stats.Missing > 0 {
				fmt.Printf("  %d referenced chunks are missing; run \"bureau-vault check\"\n", stats.Missing)
			}
			return nil
		},
	}
}

type checkParams struct {
	repositoryParams
	cli.JSONOutput
	SkipData bool `json:"-" flag:"skip-data" desc:"verify framing and references only, without decrypting every chunk"`
}

func checkCommand() *cli.Command {
	var params checkParams
	return &cli.Command{
		Name:    "check",
		Summary: "Verify repository consistency",
		Description: `Read every segment record, decrypt and verify every indexed chunk,
and confirm that each archive's references are held by the index.
Exits 1 when problems are found.`,
		Usage: "bureau-vault check [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("check", &params)
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if len(args) != 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}
			s, err := params.session("check")
			if err != nil {
				return err
			}
			repo, err := s.open(ctx, nil)
			if err != nil {
				return err
			}
			defer closeRepository(repo, &err)

			report, err := repo.Check(ctx, repository.CheckOptions{SkipData: params.SkipData})
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(report); done {
				if err == nil && !report.OK() {
					err = &cli.ExitError{Code: 1}
				}
				return err
			}
			fmt.Printf("Checked %s records, %s chunks, %d archives\n",
				humanize.Comma(int64(report.Records)), humanize.Comma(int64(report.Chunks)), report.Archives)
			if report.Leaked > 0 {
				fmt.Printf("  %s references await garbage collection\n", humanize.Comma(int64(report.Leaked)))
			}
			if report.OK() {
				fmt.Println("No problems found")
				return nil
			}
			for _, problem := range report.Problems {
				fmt.Printf("  problem: %s\n", problem)
			}
			return &cli.ExitError{Code: 1}
		},
	}
}

type rebuildParams struct {
	repositoryParams
	cli.JSONOutput
}

func rebuildIndexCommand() *cli.Command {
	var params rebuildParams
	return &cli.Command{
		Name:    "rebuild-index",
		Summary: "Recreate the chunk index from the segments",
		Description: `Discard the chunk index and rebuild it by scanning every segment.
The most recent committed archive catalog is recovered along the way.
Open runs this automatically when the saved index is missing or stale.`,
		Usage: "bureau-vault rebuild-index [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("rebuild-index", &params)
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if len(args) != 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}
			s, err := params.session("rebuild-index")
			if err != nil {
				return err
			}
			repo, err := s.open(ctx, nil)
			if err != nil {
				return err
			}
			defer closeRepository(repo, &err)

			stats, err := repo.RebuildIndex(ctx)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(stats); done {
				return err
			}
			fmt.Printf("Scanned %s records: %s chunks, %s duplicate copies\n",
				humanize.Comma(int64(stats.Records)), humanize.Comma(int64(stats.Chunks)), humanize.Comma(int64(stats.Copies)))
			fmt.Printf("Catalog generation %d with %d archives (%d catalogs found)\n",
				stats.Generation, stats.Archives, stats.Catalogs)
			if stats.Damaged > 0 {
				fmt.Printf("  skipped %d corrupt stretches (%s)\n", stats.Damaged, humanize.IBytes(uint64(stats.DamagedBytes)))
			}
			if stats.Unreadable > 0 || stats.Missing > 0 {
				fmt.Printf("  %d archives unreadable, %d chunks missing; run \"bureau-vault check\"\n", stats.Unreadable, stats.Missing)
			}
			return nil
		},
	}
}
