// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"github.com/bureau-foundation/vault/cmd/bureau-vault/cli"
)

// Root returns the bureau-vault command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "bureau-vault",
		Description: `Deduplicating, encrypted backup repositories.

A repository stores archives: named snapshots of a directory tree. File
content is split into content-defined chunks, and each distinct chunk is
stored once, compressed and encrypted. Deleting an archive frees nothing
until "compact" collects the chunks no archive references.`,
		Subcommands: []*cli.Command{
			initCommand(),
			createCommand(),
			listCommand(),
			infoCommand(),
			extractCommand(),
			deleteCommand(),
			compactCommand(),
			checkCommand(),
			rebuildIndexCommand(),
			mountCommand(),
			versionCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Create a repository protected by a passphrase",
				Command:     "bureau-vault init --repo /srv/backup",
			},
			{
				Description: "Back up a home directory",
				Command:     "bureau-vault create --repo /srv/backup home-2026-10-19 /home/operator",
			},
			{
				Description: "Restore one directory from an archive",
				Command:     "bureau-vault extract --repo /srv/backup --path projects home-2026-10-19 /tmp/restore",
			},
		},
	}
}
