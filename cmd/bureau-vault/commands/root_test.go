// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"strings"
	"testing"
)

func TestRootCommandTree(t *testing.T) {
	root := Root()
	seen := make(map[string]bool)
	for _, command := range root.Subcommands {
		if seen[command.Name] {
			t.Errorf("duplicate command %q", command.Name)
		}
		seen[command.Name] = true
		if command.Summary == "" {
			t.Errorf("command %q has no summary", command.Name)
		}
		if command.Run == nil {
			t.Errorf("command %q has no Run", command.Name)
		}
		// FlagsFromParams panics on a malformed params struct or a
		// flag registered twice.
		if command.Flags != nil {
			command.Flags()
		}
	}
	for _, name := range []string{"init", "create", "list", "info", "extract", "delete", "compact", "check", "rebuild-index", "mount", "version"} {
		if !seen[name] {
			t.Errorf("command %q is missing", name)
		}
	}
}

func TestRootSuggestsCommands(t *testing.T) {
	err := Root().Execute(context.Background(), []string{"extarct"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "extract"`) {
		t.Errorf("Execute(extarct) = %v, want a suggestion for extract", err)
	}
}

func TestCommandsValidateArguments(t *testing.T) {
	tests := [][]string{
		{"create", "only-a-name"},
		{"extract", "archive"},
		{"delete"},
		{"list", "unexpected"},
		{"mount"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			if err := Root().Execute(context.Background(), args); err == nil {
				t.Errorf("Execute(%v) succeeded", args)
			}
		})
	}
}
