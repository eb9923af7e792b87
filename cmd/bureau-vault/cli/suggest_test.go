// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"abc", "ab", 1},
		{"ab", "abc", 1},
		{"abc", "bac", 2},
		{"kitten", "sitting", 3},
		{"extract", "extarct", 2},
		{"compact", "compat", 1},
	}

	for _, test := range tests {
		t.Run(test.a+"/"+test.b, func(t *testing.T) {
			if got := levenshtein(test.a, test.b); got != test.want {
				t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
			}
			if got := levenshtein(test.b, test.a); got != test.want {
				t.Errorf("levenshtein(%q, %q) = %d, want %d", test.b, test.a, got, test.want)
			}
		})
	}
}

func TestSuggestCommand(t *testing.T) {
	commands := []*Command{
		{Name: "create"},
		{Name: "check"},
		{Name: "compact"},
		{Name: "rebuild-index"},
	}

	tests := []struct {
		input string
		want  string
	}{
		{"crate", "create"},
		{"chek", "check"},
		{"compcat", "compact"},
		{"rebuild-indx", "rebuild-index"},
		{"something-else", ""},
	}
	for _, test := range tests {
		if got := suggestCommand(test.input, commands); got != test.want {
			t.Errorf("suggestCommand(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestSuggestFlag(t *testing.T) {
	newFlags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flagSet.String("repo", "", "repository")
		flagSet.BoolP("json", "j", false, "json output")
		flagSet.Float64("threshold", 0, "dead fraction")
		return flagSet
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"long typo", []string{"--rpo", "/srv"}, "--repo"},
		{"with value", []string{"--treshold=0.2"}, "--threshold"},
		{"known flags skipped", []string{"--repo", "/srv", "--jsn"}, "--json"},
		{"known shorthand skipped", []string{"-j", "--treshold"}, "--threshold"},
		{"too far", []string{"--completely-different"}, ""},
		{"after terminator", []string{"--", "--rpo"}, ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := suggestFlag(test.args, newFlags()); got != test.want {
				t.Errorf("suggestFlag(%v) = %q, want %q", test.args, got, test.want)
			}
		})
	}
}
