// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
	if cfg.Init.Chunker != "gear" {
		t.Errorf("Init.Chunker = %q, want gear", cfg.Init.Chunker)
	}
	if cfg.Init.AvgSize != 2<<20 {
		t.Errorf("Init.AvgSize = %d, want 2MiB", cfg.Init.AvgSize)
	}
	if cfg.Compact.Threshold != 0.1 {
		t.Errorf("Compact.Threshold = %v, want 0.1", cfg.Compact.Threshold)
	}
}

func TestLoad_RequiresEnvironment(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when BUREAU_VAULT_CONFIG is not set")
	}
	if !strings.HasPrefix(err.Error(), EnvironmentVariable+" is not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestResolve(t *testing.T) {
	path := writeConfig(t, "vault.yaml", "repository: /from/env\n")
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Repository != "/from/env" {
		t.Errorf("Repository = %q, want /from/env", cfg.Repository)
	}

	flagPath := writeConfig(t, "flag.yaml", "repository: /from/flag\n")
	cfg, err = Resolve(flagPath)
	if err != nil {
		t.Fatalf("Resolve(flag): %v", err)
	}
	if cfg.Repository != "/from/flag" {
		t.Errorf("Repository = %q, want /from/flag", cfg.Repository)
	}

	t.Setenv(EnvironmentVariable, "")
	cfg, err = Resolve("")
	if err != nil {
		t.Fatalf("Resolve(default): %v", err)
	}
	if cfg.Repository != "" {
		t.Errorf("default Repository = %q, want empty", cfg.Repository)
	}
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeConfig(t, "vault.yaml", `
repository: /srv/backup
workers: 4
init:
  chunker: rabin
  min_size: 256KiB
  avg_size: 1MiB
  max_size: 4MiB
  compression: lz4
  segment_size: 64MiB
compact:
  threshold: 0.25
log:
  level: debug
  format: json
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Repository != "/srv/backup" {
		t.Errorf("Repository = %q", cfg.Repository)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.Init.Chunker != "rabin" || cfg.Init.Compression != "lz4" {
		t.Errorf("Init = %+v", cfg.Init)
	}
	if cfg.Init.MinSize != 256<<10 || cfg.Init.AvgSize != 1<<20 || cfg.Init.MaxSize != 4<<20 {
		t.Errorf("sizes = %d/%d/%d", cfg.Init.MinSize, cfg.Init.AvgSize, cfg.Init.MaxSize)
	}
	if cfg.Init.SegmentSize != 64<<20 {
		t.Errorf("SegmentSize = %d", cfg.Init.SegmentSize)
	}
	if cfg.Compact.Threshold != 0.25 {
		t.Errorf("Threshold = %v", cfg.Compact.Threshold)
	}
	// Unset fields keep their defaults.
	if cfg.Passphrase.Env != "BUREAU_VAULT_PASSPHRASE" {
		t.Errorf("Passphrase.Env = %q, want default", cfg.Passphrase.Env)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	path := writeConfig(t, "vault.jsonc", `{
  // Nightly backups.
  "repository": "/srv/nightly",
  "init": {
    "avg_size": "4MiB",
    "max_size": 16777216,
  },
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Repository != "/srv/nightly" {
		t.Errorf("Repository = %q", cfg.Repository)
	}
	if cfg.Init.AvgSize != 4<<20 {
		t.Errorf("AvgSize = %d, want 4MiB", cfg.Init.AvgSize)
	}
	if cfg.Init.MaxSize != 16<<20 {
		t.Errorf("MaxSize = %d, want 16MiB", cfg.Init.MaxSize)
	}
}

func TestLoadFile_ExpandsVariables(t *testing.T) {
	t.Setenv("HOME", "/home/operator")
	t.Setenv("VAULT_TEST_KEYS", "/etc/vault")
	path := writeConfig(t, "vault.yaml", `
repository: ${HOME}/backups
identity: ${VAULT_TEST_KEYS}/identity.txt
passphrase:
  file: ${VAULT_TEST_UNSET_VARIABLE:-/run/secrets/vault}
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Repository != "/home/operator/backups" {
		t.Errorf("Repository = %q", cfg.Repository)
	}
	if cfg.Identity != "/etc/vault/identity.txt" {
		t.Errorf("Identity = %q", cfg.Identity)
	}
	if cfg.Passphrase.File != "/run/secrets/vault" {
		t.Errorf("Passphrase.File = %q", cfg.Passphrase.File)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"bad yaml", "vault.yaml", "init: [", "parsing config"},
		{"bad size", "vault.yaml", "init:\n  min_size: lots\n", "invalid size"},
		{"invalid value", "vault.yaml", "init:\n  chunker: fastcdc\n", "init.chunker"},
		{"bad json", "vault.json", "{", "parsing config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{"${HOME}/vault", map[string]string{"HOME": "/home/user"}, "/home/user/vault"},
		{"${VAULT_TEST_MISSING:-default}", map[string]string{}, "default"},
		{"${PRESENT:-default}", map[string]string{"PRESENT": "value"}, "value"},
		{"${A}/${B}", map[string]string{"A": "first", "B": "second"}, "first/second"},
		{"no variables here", map[string]string{}, "no variables here"},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"sizes out of order", func(c *Config) { c.Init.MinSize = c.Init.AvgSize }, "init sizes"},
		{"zero min", func(c *Config) { c.Init.MinSize = 0 }, "init sizes"},
		{"compression", func(c *Config) { c.Init.Compression = "brotli" }, "init.compression"},
		{"small segment", func(c *Config) { c.Init.SegmentSize = 4096 }, "init.segment_size"},
		{"recipient without keys", func(c *Config) { c.Init.KeyMode = "recipient" }, "init.recipients"},
		{"key mode", func(c *Config) { c.Init.KeyMode = "keyring" }, "init.key_mode"},
		{"workers", func(c *Config) { c.Workers = -1 }, "workers"},
		{"threshold", func(c *Config) { c.Compact.Threshold = 1 }, "compact.threshold"},
		{"log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Init.Chunker = "fastcdc"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"init.chunker", "log.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input string
		want  Size
	}{
		{"4096", 4096},
		{"512KiB", 512 << 10},
		{"2MiB", 2 << 20},
		{"1 GiB", 1 << 30},
		{"1MB", 1000000},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.input)
		if err != nil {
			t.Errorf("ParseSize(%q): %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
	if _, err := ParseSize("many"); err == nil {
		t.Error("ParseSize(many) succeeded")
	}
}
