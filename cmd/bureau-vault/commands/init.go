// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/renameio"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/vault/cmd/bureau-vault/cli"
	"github.com/bureau-foundation/vault/lib/chunker"
	"github.com/bureau-foundation/vault/lib/config"
	"github.com/bureau-foundation/vault/lib/envelope"
	"github.com/bureau-foundation/vault/lib/repository"
	"github.com/bureau-foundation/vault/lib/sealed"
	"github.com/bureau-foundation/vault/lib/secret"
)

type initParams struct {
	repositoryParams
	KeyMode          string   `flag:"key-mode" desc:"passphrase or recipient (default: init.key_mode)"`
	Recipients       []string `flag:"recipient" desc:"age public key to seal the key file to; repeatable"`
	GenerateIdentity string   `flag:"generate-identity" desc:"write a new age identity to this file and seal the key file to it"`
	Compression      string   `flag:"compression" desc:"none, lz4 or zstd (default: init.compression)"`
	Chunker          string   `flag:"chunker" desc:"gear or rabin (default: init.chunker)"`
}

func initCommand() *cli.Command {
	var params initParams
	return &cli.Command{
		Name:    "init",
		Summary: "Create a new repository",
		Description: `Create a repository in an empty or missing directory.

The chunker, chunk sizes, compression and segment size come from the
init section of the configuration and are fixed for the repository's
life. The master key is sealed with a passphrase, or with
--key-mode=recipient to one or more age public keys.`,
		Usage: "bureau-vault init [flags] [path]",
		Examples: []cli.Example{
			{
				Description: "Create a repository sealed to a freshly generated identity",
				Command:     "bureau-vault init --generate-identity ~/.config/bureau-vault/identity.txt /srv/backup",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("init", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("expected at most one path, got %d arguments", len(args))
			}
			if len(args) == 1 {
				params.Repository = args[0]
			}
			s, err := params.session("init")
			if err != nil {
				return err
			}
			return runInit(ctx, s, &params)
		},
	}
}

func runInit(ctx context.Context, s *session, params *initParams) error {
	settings := s.config.Init
	if params.KeyMode != "" {
		settings.KeyMode = params.KeyMode
	}
	if params.Compression != "" {
		settings.Compression = params.Compression
	}
	if params.Chunker != "" {
		settings.Chunker = params.Chunker
	}
	settings.Recipients = append(settings.Recipients, params.Recipients...)

	if params.GenerateIdentity != "" {
		settings.KeyMode = string(repository.KeyModeRecipient)
		publicKey, err := writeIdentity(params.GenerateIdentity)
		if err != nil {
			return err
		}
		settings.Recipients = append(settings.Recipients, publicKey)
		s.logger.Info("identity written", "path", params.GenerateIdentity, "recipient", publicKey)
	}

	cfg := *s.config
	cfg.Init = settings
	if err := cfg.Validate(); err != nil {
		return err
	}
	options, err := initOptions(settings)
	if err != nil {
		return err
	}
	options.Logger = s.logger

	if options.KeyMode == repository.KeyModePassphrase {
		options.Passphrase, err = readPassphrase(s.config.Passphrase, s.prompt, true)
		if err != nil {
			return err
		}
		defer options.Passphrase.Close()
	}

	if err := repository.Init(ctx, s.path, options); err != nil {
		if params.GenerateIdentity != "" {
			os.Remove(params.GenerateIdentity)
		}
		return err
	}
	repoConfig, err := repository.ReadConfig(s.path)
	if err != nil {
		return err
	}
	fmt.Printf("Initialized repository %s (id %s)\n", s.path, repoConfig.ID)
	return nil
}

// initOptions translates the init configuration section.
func initOptions(settings config.InitConfig) (repository.InitOptions, error) {
	compression, err := envelope.ParseCompression(settings.Compression)
	if err != nil {
		return repository.InitOptions{}, err
	}
	return repository.InitOptions{
		Chunker: chunker.Params{
			Algorithm: chunker.Algorithm(settings.Chunker),
			MinSize:   int(settings.MinSize),
			AvgSize:   int(settings.AvgSize),
			MaxSize:   int(settings.MaxSize),
		},
		Compression: compression,
		SegmentSize: int64(settings.SegmentSize),
		KeyMode:     repository.KeyMode(settings.KeyMode),
		Recipients:  settings.Recipients,
	}, nil
}

// writeIdentity generates an age keypair, writes the private key to
// path in age's identity file format, and returns the public key. An
// existing file is never replaced.
func writeIdentity(path string) (string, error) {
	if _, err := os.Lstat(path); err == nil {
		return "", fmt.Errorf("identity file %s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking identity file: %w", err)
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return "", err
	}
	defer keypair.Close()

	header := fmt.Sprintf("# created: %s\n# public key: %s\n", time.Now().UTC().Format(time.RFC3339), keypair.PublicKey)
	content := make([]byte, 0, len(header)+keypair.PrivateKey.Len()+1)
	content = append(content, header...)
	content = append(content, keypair.PrivateKey.Bytes()...)
	content = append(content, '\n')
	defer secret.Zero(content)

	if err := renameio.WriteFile(path, content, 0o600); err != nil {
		return "", fmt.Errorf("writing identity file: %w", err)
	}
	return keypair.PublicKey, nil
}
