// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "bureau-vault",
		Subcommands: []*Command{
			{
				Name: "list",
				Run: func(ctx context.Context, args []string) error {
					called = "list"
					return nil
				},
			},
			{
				Name: "create",
				Run: func(ctx context.Context, args []string) error {
					called = "create"
					return nil
				},
			},
		},
	}

	if err := root.Execute(context.Background(), []string{"create"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "create" {
		t.Errorf("dispatched to %q, want %q", called, "create")
	}
}

func TestCommand_Execute_PassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "marker")

	var received any
	root := &Command{
		Name: "bureau-vault",
		Subcommands: []*Command{{
			Name: "check",
			Run: func(ctx context.Context, args []string) error {
				received = ctx.Value(key{})
				return nil
			},
		}},
	}
	if err := root.Execute(ctx, []string{"check"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if received != "marker" {
		t.Errorf("Run saw context value %v, want marker", received)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var repository string
	var archive string

	command := &Command{
		Name: "extract",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("extract", pflag.ContinueOnError)
			flagSet.StringVar(&repository, "repo", "/default", "repository path")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				archive = args[0]
			}
			return nil
		},
	}

	if err := command.Execute(context.Background(), []string{"--repo", "/srv/backup", "nightly"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if repository != "/srv/backup" {
		t.Errorf("repository = %q, want %q", repository, "/srv/backup")
	}
	if archive != "nightly" {
		t.Errorf("archive = %q, want %q", archive, "nightly")
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "create",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("create", pflag.ContinueOnError)
			flagSet.String("comment", "", "archive comment")
			flagSet.String("repo", "", "repository path")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error { return nil },
	}

	err := command.Execute(context.Background(), []string{"--coment", "x"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "did you mean --comment") {
		t.Errorf("error = %q, want suggestion for '--comment'", errStr)
	}
	if !strings.Contains(errStr, "coment") {
		t.Errorf("error = %q, should mention the bad flag", errStr)
	}
	if !strings.Contains(errStr, "--help") {
		t.Errorf("error = %q, should point to --help", errStr)
	}
}

func TestCommand_Execute_UnknownFlagNoSuggestion(t *testing.T) {
	command := &Command{
		Name: "create",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("create", pflag.ContinueOnError)
			flagSet.Bool("dry-run", false, "report without storing")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error { return nil },
	}

	err := command.Execute(context.Background(), []string{"--zzzzzzzzz"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not suggest for distant flag", err.Error())
	}
	if !strings.Contains(err.Error(), "--help") {
		t.Errorf("error = %q, should point to --help", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name: "bureau-vault",
		Subcommands: []*Command{
			{Name: "create"},
			{Name: "extract"},
			{Name: "compact"},
		},
	}

	err := root.Execute(context.Background(), []string{"extarct"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if !strings.Contains(err.Error(), "did you mean \"extract\"") {
		t.Errorf("error = %q, want suggestion for 'extract'", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandNoSuggestion(t *testing.T) {
	root := &Command{
		Name: "bureau-vault",
		Subcommands: []*Command{
			{Name: "create"},
			{Name: "mount"},
		},
	}

	err := root.Execute(context.Background(), []string{"zzzzzzz"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not contain suggestion for distant input", err.Error())
	}
}

func TestCommand_Execute_HelpFlag(t *testing.T) {
	for _, helpArg := range []string{"-h", "--help", "help"} {
		t.Run(helpArg, func(t *testing.T) {
			root := &Command{
				Name:    "bureau-vault",
				Summary: "Deduplicating encrypted backups",
				Subcommands: []*Command{
					{Name: "list", Summary: "List archives"},
				},
			}

			if err := root.Execute(context.Background(), []string{helpArg}); err != nil {
				t.Errorf("Execute(%q) error: %v", helpArg, err)
			}
		})
	}
}

func TestCommand_Execute_NoArgsShowsHelp(t *testing.T) {
	root := &Command{
		Name: "bureau-vault",
		Subcommands: []*Command{
			{Name: "list", Summary: "List archives"},
		},
	}

	err := root.Execute(context.Background(), []string{})
	if err == nil {
		t.Fatal("Execute() = nil, want error for missing subcommand")
	}
	if !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("error = %q, want 'subcommand required'", err.Error())
	}
}

func TestCommand_Execute_RunError(t *testing.T) {
	command := &Command{
		Name: "check",
		Run: func(ctx context.Context, args []string) error {
			return &ExitError{Code: 3}
		},
	}
	err := command.Execute(context.Background(), nil)
	coder, ok := err.(interface{ ExitCode() int })
	if !ok {
		t.Fatalf("Execute() = %v, want an ExitError", err)
	}
	if coder.ExitCode() != 3 {
		t.Errorf("ExitCode() = %d, want 3", coder.ExitCode())
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	command := &Command{
		Name:        "bureau-vault",
		Description: "Deduplicating, encrypted backup repositories.",
		Subcommands: []*Command{
			{Name: "create", Summary: "Store a directory as a new archive"},
			{Name: "extract", Summary: "Restore an archive to disk"},
		},
		Examples: []Example{
			{
				Description: "Back up a home directory",
				Command:     "bureau-vault create --repo /srv/backup home-2026 ~/",
			},
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"Deduplicating, encrypted backup repositories.",
		"Usage:",
		"bureau-vault <command> [flags]",
		"Commands:",
		"create",
		"Store a directory as a new archive",
		"Examples:",
		"# Back up a home directory",
		"bureau-vault create --repo /srv/backup home-2026 ~/",
		"Run 'bureau-vault <command> --help'",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_PrintHelp_WithFlags(t *testing.T) {
	command := &Command{
		Name:    "mount",
		Summary: "Mount archives read-only",
		Usage:   "bureau-vault mount <mountpoint> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("mount", pflag.ContinueOnError)
			flagSet.String("repo", "", "repository path")
			flagSet.Bool("allow-other", false, "let other users read the mount")
			return flagSet
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"bureau-vault mount <mountpoint> [flags]",
		"Flags:",
		"--repo",
		"--allow-other",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_FullName(t *testing.T) {
	root := &Command{Name: "bureau-vault"}
	check := &Command{Name: "check", parent: root}

	if got := root.fullName(); got != "bureau-vault" {
		t.Errorf("root.fullName() = %q, want %q", got, "bureau-vault")
	}
	if got := check.fullName(); got != "bureau-vault check" {
		t.Errorf("check.fullName() = %q, want %q", got, "bureau-vault check")
	}
}
