// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-ini/ini"
	"github.com/google/renameio"

	"github.com/bureau-foundation/vault/lib/chunker"
	"github.com/bureau-foundation/vault/lib/envelope"
)

// Repository file names.
const (
	configFile = "config"
	keyFile    = "key"
	lockFile   = "lock"
	dataDir    = "data"
	indexFile  = "index.db"
	readmeFile = "README"
)

// formatVersion is the repository format written by Init.
const formatVersion = 1

// KeyMode says how the key file is sealed.
type KeyMode string

const (
	// KeyModePassphrase seals the key file with an scrypt passphrase.
	KeyModePassphrase KeyMode = "passphrase"

	// KeyModeRecipient seals the key file to age X25519 recipients.
	KeyModeRecipient KeyMode = "recipient"
)

// Config is the on-disk repository configuration. It is written once
// by Init and fixes the format parameters for the repository's life.
type Config struct {
	ID          string
	Version     int
	SegmentSize int64
	Compression envelope.Compression
	KeyMode     KeyMode

	// Chunker holds the chunk size parameters. The seed is not part of
	// the config; it lives in the key file.
	Chunker chunker.Params
}

type repositorySection struct {
	Version     int    `ini:"version"`
	ID          string `ini:"id"`
	SegmentSize int64  `ini:"segment_size"`
	Compression string `ini:"compression"`
	KeyMode     string `ini:"key_mode"`
}

type chunkerSection struct {
	Algorithm string `ini:"algorithm"`
	MinSize   int    `ini:"min_size"`
	AvgSize   int    `ini:"avg_size"`
	MaxSize   int    `ini:"max_size"`
}

// writeConfig atomically writes cfg to dir/config.
func writeConfig(dir string, cfg Config) error {
	file := ini.Empty()
	err := file.Section("repository").ReflectFrom(&repositorySection{
		Version:     cfg.Version,
		ID:          cfg.ID,
		SegmentSize: cfg.SegmentSize,
		Compression: cfg.Compression.String(),
		KeyMode:     string(cfg.KeyMode),
	})
	if err != nil {
		return fmt.Errorf("encoding repository config: %w", err)
	}
	err = file.Section("chunker").ReflectFrom(&chunkerSection{
		Algorithm: string(cfg.Chunker.Algorithm),
		MinSize:   cfg.Chunker.MinSize,
		AvgSize:   cfg.Chunker.AvgSize,
		MaxSize:   cfg.Chunker.MaxSize,
	})
	if err != nil {
		return fmt.Errorf("encoding chunker config: %w", err)
	}

	var buffer bytes.Buffer
	if _, err := file.WriteTo(&buffer); err != nil {
		return fmt.Errorf("encoding repository config: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, configFile), buffer.Bytes(), 0o600); err != nil {
		return fmt.Errorf("%w: writing repository config: %w", ErrIO, err)
	}
	return nil
}

// ReadConfig reads the configuration of the repository at dir.
// A directory without a config file yields ErrNotRepository.
func ReadConfig(dir string) (Config, error) {
	data, err := os.ReadFile(filepath.Join(dir, configFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: %s", ErrNotRepository, dir)
		}
		return Config{}, fmt.Errorf("%w: reading repository config: %w", ErrIO, err)
	}
	file, err := ini.Load(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w: parsing repository config: %v", ErrNotRepository, err)
	}

	var repository repositorySection
	if err := file.Section("repository").MapTo(&repository); err != nil {
		return Config{}, fmt.Errorf("%w: repository section: %v", ErrNotRepository, err)
	}
	var chunking chunkerSection
	if err := file.Section("chunker").MapTo(&chunking); err != nil {
		return Config{}, fmt.Errorf("%w: chunker section: %v", ErrNotRepository, err)
	}

	if repository.Version != formatVersion {
		return Config{}, fmt.Errorf("%w: repository format version %d, want %d", ErrFormat, repository.Version, formatVersion)
	}
	if repository.ID == "" {
		return Config{}, fmt.Errorf("%w: config has no repository id", ErrNotRepository)
	}
	compression, err := envelope.ParseCompression(repository.Compression)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	keyMode := KeyMode(repository.KeyMode)
	if keyMode != KeyModePassphrase && keyMode != KeyModeRecipient {
		return Config{}, fmt.Errorf("%w: unknown key mode %q", ErrFormat, repository.KeyMode)
	}

	return Config{
		ID:          repository.ID,
		Version:     repository.Version,
		SegmentSize: repository.SegmentSize,
		Compression: compression,
		KeyMode:     keyMode,
		Chunker: chunker.Params{
			Algorithm: chunker.Algorithm(chunking.Algorithm),
			MinSize:   chunking.MinSize,
			AvgSize:   chunking.AvgSize,
			MaxSize:   chunking.MaxSize,
		},
	}, nil
}
