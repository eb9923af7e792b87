// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestBindFlags_BasicTypes(t *testing.T) {
	type params struct {
		Repository string        `flag:"repo" desc:"repository path"`
		Verbose    bool          `flag:"verbose,v" desc:"verbose output"`
		Workers    int           `flag:"workers" desc:"parallel encoders"`
		Offset     int64         `flag:"offset" desc:"byte offset"`
		Threshold  float64       `flag:"threshold" desc:"dead fraction"`
		Timeout    time.Duration `flag:"timeout" desc:"lock timeout"`
		Excludes   []string      `flag:"exclude" desc:"paths to skip"`
		Untagged   string
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	err := flagSet.Parse([]string{
		"--repo", "/srv/backup",
		"-v",
		"--workers", "8",
		"--offset", "1099511627776",
		"--threshold", "0.25",
		"--timeout", "30s",
		"--exclude", "cache,tmp",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p.Repository != "/srv/backup" {
		t.Errorf("Repository = %q, want %q", p.Repository, "/srv/backup")
	}
	if !p.Verbose {
		t.Error("Verbose = false, want true")
	}
	if p.Workers != 8 {
		t.Errorf("Workers = %d, want 8", p.Workers)
	}
	if p.Offset != 1099511627776 {
		t.Errorf("Offset = %d, want 1099511627776", p.Offset)
	}
	if p.Threshold != 0.25 {
		t.Errorf("Threshold = %f, want 0.25", p.Threshold)
	}
	if p.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", p.Timeout)
	}
	if len(p.Excludes) != 2 || p.Excludes[0] != "cache" || p.Excludes[1] != "tmp" {
		t.Errorf("Excludes = %v, want [cache tmp]", p.Excludes)
	}
	if p.Untagged != "" {
		t.Errorf("Untagged = %q, want empty", p.Untagged)
	}
}

func TestBindFlags_Defaults(t *testing.T) {
	type params struct {
		Format    string        `flag:"format" default:"text"`
		Workers   int           `flag:"workers" default:"4"`
		Offset    int64         `flag:"offset" default:"100"`
		Threshold float64       `flag:"threshold" default:"0.5"`
		Timeout   time.Duration `flag:"timeout" default:"10s"`
		Verify    bool          `flag:"verify" default:"true"`
		Excludes  []string      `flag:"exclude" default:"x,y"`
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}
	if err := flagSet.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p.Format != "text" {
		t.Errorf("Format = %q, want text", p.Format)
	}
	if p.Workers != 4 {
		t.Errorf("Workers = %d, want 4", p.Workers)
	}
	if p.Offset != 100 {
		t.Errorf("Offset = %d, want 100", p.Offset)
	}
	if p.Threshold != 0.5 {
		t.Errorf("Threshold = %f, want 0.5", p.Threshold)
	}
	if p.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", p.Timeout)
	}
	if !p.Verify {
		t.Error("Verify = false, want true")
	}
	if len(p.Excludes) != 2 || p.Excludes[0] != "x" || p.Excludes[1] != "y" {
		t.Errorf("Excludes = %v, want [x y]", p.Excludes)
	}
}

// TestParamsBinder implements FlagBinder. Exported so that reflect can
// call Interface() on it when embedded.
type TestParamsBinder struct {
	Alpha string
	Beta  int
}

func (b *TestParamsBinder) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&b.Alpha, "alpha", "", "alpha value")
	flagSet.IntVar(&b.Beta, "beta", 0, "beta value")
}

func TestBindFlags_NamedFlagBinder(t *testing.T) {
	type params struct {
		Binder TestParamsBinder
		Extra  string `flag:"extra" desc:"extra flag"`
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}
	if err := flagSet.Parse([]string{"--alpha", "hello", "--beta", "7", "--extra", "world"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p.Binder.Alpha != "hello" || p.Binder.Beta != 7 {
		t.Errorf("Binder = %+v, want {hello 7}", p.Binder)
	}
	if p.Extra != "world" {
		t.Errorf("Extra = %q, want %q", p.Extra, "world")
	}
}

func TestBindFlags_EmbeddedFlagBinder(t *testing.T) {
	type params struct {
		TestParamsBinder
		Extra string `flag:"extra" desc:"extra flag"`
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}
	if err := flagSet.Parse([]string{"--alpha", "hello", "--extra", "world"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p.Alpha != "hello" {
		t.Errorf("Alpha = %q, want %q", p.Alpha, "hello")
	}
	if p.Extra != "world" {
		t.Errorf("Extra = %q, want %q", p.Extra, "world")
	}
}

func TestBindFlags_EmbeddedStructRecursion(t *testing.T) {
	type inner struct {
		Repository string `flag:"repo"`
		Workers    int    `flag:"workers"`
	}
	type params struct {
		inner
		JSONOutput
	}

	var p params
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&p, flagSet); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}
	if err := flagSet.Parse([]string{"--repo", "/srv", "--workers", "5", "--json"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p.Repository != "/srv" || p.Workers != 5 {
		t.Errorf("inner = %+v", p.inner)
	}
	if !p.OutputJSON {
		t.Error("OutputJSON = false, want true")
	}
}

func TestBindFlags_Errors(t *testing.T) {
	type named struct {
		Name string `flag:"name"`
	}
	if err := BindFlags(named{}, pflag.NewFlagSet("test", pflag.ContinueOnError)); err == nil ||
		!strings.Contains(err.Error(), "params must be a pointer to a struct") {
		t.Errorf("non-pointer: err = %v", err)
	}

	s := "not a struct"
	if err := BindFlags(&s, pflag.NewFlagSet("test", pflag.ContinueOnError)); err == nil {
		t.Error("non-struct: expected error")
	}

	type badDefault struct {
		Count int `flag:"count" default:"not_a_number"`
	}
	if err := BindFlags(&badDefault{}, pflag.NewFlagSet("test", pflag.ContinueOnError)); err == nil {
		t.Error("bad default: expected error")
	}

	type unsupported struct {
		Ratio complex128 `flag:"ratio"`
	}
	if err := BindFlags(&unsupported{}, pflag.NewFlagSet("test", pflag.ContinueOnError)); err == nil ||
		!strings.Contains(err.Error(), "unsupported type") {
		t.Errorf("unsupported: err = %v", err)
	}
}

func TestFlagsFromParams(t *testing.T) {
	type params struct {
		Name string `flag:"name" desc:"archive name" default:"nightly"`
	}

	var p params
	flagSet := FlagsFromParams("test", &p)
	if err := flagSet.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Name != "nightly" {
		t.Errorf("Name = %q, want default %q", p.Name, "nightly")
	}

	flagSet = FlagsFromParams("test", &p)
	if err := flagSet.Parse([]string{"--name", "weekly", "positional"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Name != "weekly" {
		t.Errorf("Name = %q, want %q", p.Name, "weekly")
	}
	if remaining := flagSet.Args(); len(remaining) != 1 || remaining[0] != "positional" {
		t.Errorf("remaining args = %v, want [positional]", remaining)
	}
}

func TestFlagsFromParams_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for nil input, got none")
		}
	}()
	FlagsFromParams("test", nil)
}
