// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vault/cmd/bureau-vault/cli"
)

type listParams struct {
	repositoryParams
	cli.JSONOutput
}

type archiveListing struct {
	Name string    `json:"name"`
	ID   string    `json:"id"`
	Time time.Time `json:"time"`
}

func listCommand() *cli.Command {
	var params listParams
	return &cli.Command{
		Name:    "list",
		Summary: "List archives",
		Usage:   "bureau-vault list [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if len(args) != 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}
			s, err := params.session("list")
			if err != nil {
				return err
			}
			repo, err := s.open(ctx, nil)
			if err != nil {
				return err
			}
			defer closeRepository(repo, &err)

			summaries, err := repo.List()
			if err != nil {
				return err
			}
			listings := make([]archiveListing, len(summaries))
			for i, summary := range summaries {
				listings[i] = archiveListing{Name: summary.Name, ID: summary.ID.String(), Time: summary.Time.UTC()}
			}
			if done, err := params.EmitJSON(listings); done {
				return err
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "NAME\tTIME\tID")
			for _, summary := range summaries {
				fmt.Fprintf(writer, "%s\t%s (%s)\t%s\n",
					summary.Name,
					summary.Time.Local().Format(time.DateTime),
					humanize.Time(summary.Time),
					summary.ID.Short())
			}
			return writer.Flush()
		},
	}
}
