// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vault/cmd/bureau-vault/cli"
	"github.com/bureau-foundation/vault/lib/manifest"
	"github.com/bureau-foundation/vault/lib/repository"
)

type infoParams struct {
	repositoryParams
	cli.JSONOutput
}

type repositoryInfo struct {
	Path         string `json:"path"`
	ID           string `json:"id"`
	Chunker      string `json:"chunker"`
	MinSize      int    `json:"min_size"`
	AvgSize      int    `json:"avg_size"`
	MaxSize      int    `json:"max_size"`
	Compression  string `json:"compression"`
	KeyMode      string `json:"key_mode"`
	Archives     int    `json:"archives"`
	Chunks       int    `json:"chunks"`
	LiveChunks   int    `json:"live_chunks"`
	DeadChunks   int    `json:"dead_chunks"`
	References   uint64 `json:"references"`
	LiveBytes    int64  `json:"live_bytes"`
	StoredBytes  int64  `json:"stored_bytes"`
	Segments     int    `json:"segments"`
	SegmentBytes int64  `json:"segment_bytes"`
}

type archiveInfo struct {
	Name        string    `json:"name"`
	ID          string    `json:"id"`
	Hostname    string    `json:"hostname,omitempty"`
	Username    string    `json:"username,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	CommandLine []string  `json:"command_line,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Files       int       `json:"files"`
	Directories int       `json:"directories"`
	Symlinks    int       `json:"symlinks"`
	Size        int64     `json:"size"`
	ChunkRefs   int       `json:"chunk_refs"`
}

func infoCommand() *cli.Command {
	var params infoParams
	return &cli.Command{
		Name:    "info",
		Summary: "Show repository or archive details",
		Description: `Show repository statistics, or the metadata of one archive when an
archive name is given.`,
		Usage: "bureau-vault info [flags] [archive]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("info", &params)
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if len(args) > 1 {
				return fmt.Errorf("expected at most one archive, got %d arguments", len(args))
			}
			s, err := params.session("info")
			if err != nil {
				return err
			}
			repo, err := s.open(ctx, nil)
			if err != nil {
				return err
			}
			defer closeRepository(repo, &err)

			if len(args) == 1 {
				archive, err := repo.Archive(ctx, args[0])
				if err != nil {
					return err
				}
				return printArchiveInfo(&params.JSONOutput, describeArchive(archive))
			}
			info, err := repo.Info()
			if err != nil {
				return err
			}
			return printRepositoryInfo(&params.JSONOutput, describeRepository(info))
		},
	}
}

func describeRepository(info repository.Info) repositoryInfo {
	return repositoryInfo{
		Path:         info.Path,
		ID:           info.Config.ID,
		Chunker:      string(info.Config.Chunker.Algorithm),
		MinSize:      info.Config.Chunker.MinSize,
		AvgSize:      info.Config.Chunker.AvgSize,
		MaxSize:      info.Config.Chunker.MaxSize,
		Compression:  info.Config.Compression.String(),
		KeyMode:      string(info.Config.KeyMode),
		Archives:     info.Archives,
		Chunks:       info.Index.Entries,
		LiveChunks:   info.Index.Live,
		DeadChunks:   info.Index.Dead + info.Index.Condemned,
		References:   info.Index.References,
		LiveBytes:    info.Index.LiveBytes,
		StoredBytes:  info.Index.StoredBytes,
		Segments:     info.Segments,
		SegmentBytes: info.SegmentBytes,
	}
}

func printRepositoryInfo(output *cli.JSONOutput, info repositoryInfo) error {
	if done, err := output.EmitJSON(info); done {
		return err
	}
	fmt.Printf("Repository:   %s\n", info.Path)
	fmt.Printf("ID:           %s\n", info.ID)
	fmt.Printf("Chunker:      %s (%s / %s / %s)\n", info.Chunker,
		humanize.IBytes(uint64(info.MinSize)), humanize.IBytes(uint64(info.AvgSize)), humanize.IBytes(uint64(info.MaxSize)))
	fmt.Printf("Compression:  %s\n", info.Compression)
	fmt.Printf("Key mode:     %s\n", info.KeyMode)
	fmt.Printf("Archives:     %d\n", info.Archives)
	fmt.Printf("Chunks:       %s live, %s unreferenced, %s references\n",
		humanize.Comma(int64(info.LiveChunks)), humanize.Comma(int64(info.DeadChunks)), humanize.Comma(int64(info.References)))
	fmt.Printf("Stored:       %s live of %s indexed\n",
		humanize.IBytes(uint64(info.LiveBytes)), humanize.IBytes(uint64(info.StoredBytes)))
	fmt.Printf("Segments:     %d (%s on disk)\n", info.Segments, humanize.IBytes(uint64(info.SegmentBytes)))
	return nil
}

func describeArchive(archive *manifest.Manifest) archiveInfo {
	info := archive.Info()
	stats := archive.Stats()
	return archiveInfo{
		Name:        info.Name,
		ID:          archive.ID().String(),
		Hostname:    info.Hostname,
		Username:    info.Username,
		Comment:     info.Comment,
		CommandLine: info.CommandLine,
		Start:       info.Start.UTC(),
		End:         info.End.UTC(),
		Files:       stats.Files,
		Directories: stats.Directories,
		Symlinks:    stats.Symlinks,
		Size:        stats.Size,
		ChunkRefs:   stats.ChunkRefs,
	}
}

func printArchiveInfo(output *cli.JSONOutput, info archiveInfo) error {
	if done, err := output.EmitJSON(info); done {
		return err
	}
	fmt.Printf("Archive:      %s\n", info.Name)
	fmt.Printf("ID:           %s\n", info.ID)
	if info.Hostname != "" || info.Username != "" {
		fmt.Printf("Created by:   %s@%s\n", info.Username, info.Hostname)
	}
	if len(info.CommandLine) > 0 {
		fmt.Printf("Command:      %s\n", strings.Join(info.CommandLine, " "))
	}
	if info.Comment != "" {
		fmt.Printf("Comment:      %s\n", info.Comment)
	}
	fmt.Printf("Time:         %s (took %s)\n", info.Start.Local().Format(time.DateTime), info.End.Sub(info.Start).Round(time.Millisecond))
	fmt.Printf("Contents:     %d files, %d directories, %d symlinks\n", info.Files, info.Directories, info.Symlinks)
	fmt.Printf("Size:         %s in %s chunk references\n", humanize.IBytes(uint64(info.Size)), humanize.Comma(int64(info.ChunkRefs)))
	return nil
}
