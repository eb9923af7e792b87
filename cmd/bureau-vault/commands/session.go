// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"github.com/bureau-foundation/vault/cmd/bureau-vault/cli"
	"github.com/bureau-foundation/vault/lib/config"
	"github.com/bureau-foundation/vault/lib/repository"
	"github.com/bureau-foundation/vault/lib/secret"
)

// repositoryParams are the flags shared by every repository command.
type repositoryParams struct {
	ConfigFile string `json:"-" flag:"config" desc:"configuration file (default: $BUREAU_VAULT_CONFIG)"`
	Repository string `json:"-" flag:"repo,r" desc:"repository path (default: repository from the configuration)"`
}

// session is the resolved environment of one command invocation.
type session struct {
	config *config.Config
	logger *slog.Logger
	path   string

	// prompt reads secrets interactively. Tests replace it.
	prompt prompter
}

// session resolves the configuration, the logger and the repository
// path for command.
func (p *repositoryParams) session(command string) (*session, error) {
	cfg, err := config.Resolve(p.ConfigFile)
	if err != nil {
		return nil, err
	}
	logger, err := cli.NewCommandLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	path := p.Repository
	if path == "" {
		path = cfg.Repository
	}
	if path == "" {
		return nil, errors.New("no repository: pass --repo or set repository in the configuration")
	}
	return &session{
		config: cfg,
		logger: logger.With("command", command, "repository", path),
		path:   path,
		prompt: terminalPrompt,
	}, nil
}

// open unlocks and opens the repository. registerer may be nil.
func (s *session) open(ctx context.Context, registerer prometheus.Registerer) (*repository.Repository, error) {
	repoConfig, err := repository.ReadConfig(s.path)
	if err != nil {
		return nil, err
	}
	var credentials repository.Credentials
	switch repoConfig.KeyMode {
	case repository.KeyModeRecipient:
		if s.config.Identity == "" {
			return nil, errors.New("repository is sealed to recipients: set identity in the configuration")
		}
		credentials.Identity, err = readIdentity(s.config.Identity)
		if err != nil {
			return nil, err
		}
		defer credentials.Identity.Close()
	default:
		credentials.Passphrase, err = readPassphrase(s.config.Passphrase, s.prompt, false)
		if err != nil {
			return nil, err
		}
		defer credentials.Passphrase.Close()
	}

	return repository.Open(ctx, s.path, repository.OpenOptions{
		Credentials: credentials,
		Workers:     s.config.Workers,
		Registerer:  registerer,
		Logger:      s.logger,
	})
}

// closeRepository closes r and folds a close failure into err.
func closeRepository(r *repository.Repository, err *error) {
	if closeErr := r.Close(); closeErr != nil && *err == nil {
		*err = closeErr
	}
}

// prompter reads one secret interactively.
type prompter func(prompt string) ([]byte, error)

var errNoTerminal = errors.New("no passphrase configured and stdin is not a terminal")

func terminalPrompt(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errNoTerminal
	}
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)
	return term.ReadPassword(fd)
}

// readPassphrase locates the key file passphrase: the configured file,
// then the configured environment variable, then a prompt. confirm
// asks twice.
func readPassphrase(cfg config.PassphraseConfig, prompt prompter, confirm bool) (*secret.Buffer, error) {
	if cfg.File != "" {
		return secret.ReadPassphrase(cfg.File)
	}
	if cfg.Env != "" {
		if value := os.Getenv(cfg.Env); value != "" {
			return secret.NewFromBytes([]byte(value))
		}
	}

	first, err := prompt("Passphrase: ")
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	defer secret.Zero(first)
	if len(first) == 0 {
		return nil, errors.New("passphrase is empty")
	}
	if confirm {
		second, err := prompt("Repeat passphrase: ")
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		defer secret.Zero(second)
		if !bytes.Equal(first, second) {
			return nil, errors.New("passphrases do not match")
		}
	}
	return secret.NewFromBytes(first)
}

// identityPrefix starts an age X25519 private key.
const identityPrefix = "AGE-SECRET-KEY-1"

// readIdentity reads the first private key from an age identity file.
// Comment lines are skipped.
func readIdentity(path string) (*secret.Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	defer secret.Zero(data)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if bytes.HasPrefix(line, []byte(identityPrefix)) {
			return secret.NewFromBytes(line)
		}
	}
	return nil, fmt.Errorf("identity file %s holds no %s... key", path, identityPrefix)
}
