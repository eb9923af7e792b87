// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vault/cmd/bureau-vault/cli"
)

type deleteParams struct {
	repositoryParams
}

func deleteCommand() *cli.Command {
	var params deleteParams
	return &cli.Command{
		Name:    "delete",
		Summary: "Delete archives",
		Description: `Remove archives from the repository. Their chunks stay on disk until
"compact" reclaims the ones no remaining archive references.`,
		Usage: "bureau-vault delete [flags] <archive>...",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("delete", &params)
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if len(args) == 0 {
				return errors.New("expected at least one archive name")
			}
			s, err := params.session("delete")
			if err != nil {
				return err
			}
			repo, err := s.open(ctx, nil)
			if err != nil {
				return err
			}
			defer closeRepository(repo, &err)

			for _, name := range args {
				if err := repo.Delete(ctx, name); err != nil {
					return err
				}
				fmt.Printf("Deleted archive %s\n", name)
			}
			return nil
		},
	}
}
