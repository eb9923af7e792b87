// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the configuration file when --config is
// not given.
const EnvironmentVariable = "BUREAU_VAULT_CONFIG"

// Config is the bureau-vault user configuration.
type Config struct {
	// Repository is the repository path used when a command is not
	// given --repo.
	Repository string `yaml:"repository" json:"repository"`

	// Passphrase configures where the key file passphrase comes from.
	Passphrase PassphraseConfig `yaml:"passphrase" json:"passphrase"`

	// Identity is an age identity file for repositories whose key file
	// is sealed to a public key.
	Identity string `yaml:"identity" json:"identity"`

	// Init holds the parameters recorded into new repositories.
	Init InitConfig `yaml:"init" json:"init"`

	// Workers bounds parallel chunk encoding. Zero means one per CPU.
	Workers int `yaml:"workers" json:"workers"`

	// Compact configures garbage collection.
	Compact CompactConfig `yaml:"compact" json:"compact"`

	// Log configures the command logger.
	Log LogConfig `yaml:"log" json:"log"`

	// Metrics configures the Prometheus endpoint of long-running
	// commands (mount).
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// PassphraseConfig locates the key file passphrase. File wins over
// Env; with neither set, the command prompts on the terminal.
type PassphraseConfig struct {
	// File holds the passphrase on its first line; "-" reads stdin.
	File string `yaml:"file" json:"file"`

	// Env names an environment variable holding the passphrase.
	Env string `yaml:"env" json:"env"`
}

// InitConfig holds the repository format parameters used by init.
type InitConfig struct {
	Chunker     string `yaml:"chunker" json:"chunker"`
	MinSize     Size   `yaml:"min_size" json:"min_size"`
	AvgSize     Size   `yaml:"avg_size" json:"avg_size"`
	MaxSize     Size   `yaml:"max_size" json:"max_size"`
	Compression string `yaml:"compression" json:"compression"`
	SegmentSize Size   `yaml:"segment_size" json:"segment_size"`

	// KeyMode is "passphrase" or "recipient".
	KeyMode string `yaml:"key_mode" json:"key_mode"`

	// Recipients are age public keys for KeyMode "recipient".
	Recipients []string `yaml:"recipients" json:"recipients"`
}

// CompactConfig configures garbage collection.
type CompactConfig struct {
	// Threshold is the dead fraction at which a segment is rewritten.
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" json:"level"`

	// Format is auto, text or json. auto picks text on a terminal.
	Format string `yaml:"format" json:"format"`
}

// MetricsConfig configures metrics exposition.
type MetricsConfig struct {
	// Listen is a host:port for the /metrics endpoint. Empty
	// disables it.
	Listen string `yaml:"listen" json:"listen"`
}

// Size is a byte count written as an integer or with units.
type Size int64

// ParseSize parses "4096", "512KiB", "2MiB", "1.5 GB" and similar.
func ParseSize(s string) (Size, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return Size(n), nil
}

func (s Size) String() string {
	return humanize.IBytes(uint64(s))
}

// UnmarshalYAML accepts integers and unit strings.
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseSize(node.Value)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalJSON accepts integers and unit strings.
func (s *Size) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		text = string(data)
	}
	parsed, err := ParseSize(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Passphrase: PassphraseConfig{Env: "BUREAU_VAULT_PASSPHRASE"},
		Init: InitConfig{
			Chunker:     "gear",
			MinSize:     512 << 10,
			AvgSize:     2 << 20,
			MaxSize:     8 << 20,
			Compression: "zstd",
			SegmentSize: 500 << 20,
			KeyMode:     "passphrase",
		},
		Compact: CompactConfig{Threshold: 0.1},
		Log:     LogConfig{Level: "info", Format: "auto"},
	}
}

// Resolve loads the file named by flagPath, or by BUREAU_VAULT_CONFIG
// when flagPath is empty, or returns Default when neither names one.
func Resolve(flagPath string) (*Config, error) {
	if flagPath != "" {
		return LoadFile(flagPath)
	}
	if os.Getenv(EnvironmentVariable) != "" {
		return Load()
	}
	return Default(), nil
}

// Load loads the file named by BUREAU_VAULT_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s is not set; set it to the path of your config file, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile loads path over Default and expands variables. The result
// is validated.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Repository = expandVars(c.Repository, vars)
	c.Identity = expandVars(c.Identity, vars)
	c.Passphrase.File = expandVars(c.Passphrase.File, vars)
	for i, recipient := range c.Init.Recipients {
		c.Init.Recipients[i] = expandVars(recipient, vars)
	}
	c.Metrics.Listen = expandVars(c.Metrics.Listen, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, consulting vars before
// the environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains([]string{"gear", "rabin"}, c.Init.Chunker) {
		errs = append(errs, fmt.Errorf("init.chunker must be gear or rabin, got %q", c.Init.Chunker))
	}
	if c.Init.MinSize <= 0 || c.Init.AvgSize <= c.Init.MinSize || c.Init.MaxSize <= c.Init.AvgSize {
		errs = append(errs, fmt.Errorf("init sizes must satisfy 0 < min_size < avg_size < max_size, got %d/%d/%d",
			c.Init.MinSize, c.Init.AvgSize, c.Init.MaxSize))
	}
	if !slices.Contains([]string{"none", "lz4", "zstd"}, c.Init.Compression) {
		errs = append(errs, fmt.Errorf("init.compression must be none, lz4 or zstd, got %q", c.Init.Compression))
	}
	if c.Init.SegmentSize < 1<<20 {
		errs = append(errs, fmt.Errorf("init.segment_size must be at least 1MiB, got %s", c.Init.SegmentSize))
	}
	switch c.Init.KeyMode {
	case "passphrase":
	case "recipient":
		if len(c.Init.Recipients) == 0 {
			errs = append(errs, fmt.Errorf("init.key_mode recipient requires init.recipients"))
		}
	default:
		errs = append(errs, fmt.Errorf("init.key_mode must be passphrase or recipient, got %q", c.Init.KeyMode))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative"))
	}
	if c.Compact.Threshold < 0 || c.Compact.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("compact.threshold must be in [0, 1), got %v", c.Compact.Threshold))
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	if !slices.Contains([]string{"auto", "text", "json"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be auto, text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
