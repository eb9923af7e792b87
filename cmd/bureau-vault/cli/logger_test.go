// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		terminal bool
		json     bool
	}{
		{"auto on terminal", "auto", true, false},
		{"auto when piped", "auto", false, true},
		{"empty format is auto", "", false, true},
		{"text", "text", false, false},
		{"json", "json", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buffer bytes.Buffer
			logger, err := newLogger(&buffer, "info", tt.format, tt.terminal)
			if err != nil {
				t.Fatalf("newLogger: %v", err)
			}
			logger.Info("archive stored", "name", "nightly")

			var record map[string]any
			isJSON := json.Unmarshal(buffer.Bytes(), &record) == nil
			if isJSON != tt.json {
				t.Errorf("JSON output = %v, want %v: %s", isJSON, tt.json, buffer.String())
			}
			if !strings.Contains(buffer.String(), "nightly") {
				t.Errorf("output %q does not carry the attribute", buffer.String())
			}
		})
	}
}

func TestNewLogger_Level(t *testing.T) {
	var buffer bytes.Buffer
	logger, err := newLogger(&buffer, "warn", "text", false)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buffer.String(), "hidden") {
		t.Errorf("info record written at warn level: %s", buffer.String())
	}
	if !strings.Contains(buffer.String(), "shown") {
		t.Errorf("warn record missing: %s", buffer.String())
	}
}

func TestNewLogger_Errors(t *testing.T) {
	if _, err := newLogger(&bytes.Buffer{}, "loud", "text", false); err == nil {
		t.Error("unknown level accepted")
	}
	if _, err := newLogger(&bytes.Buffer{}, "info", "xml", false); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestWriteJSON(t *testing.T) {
	var buffer bytes.Buffer
	var archives []string
	if err := WriteJSON(&buffer, normalizeNilSlice(archives)); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if got := strings.TrimSpace(buffer.String()); got != "[]" {
		t.Errorf("nil slice encoded as %q, want []", got)
	}

	output := JSONOutput{}
	done, err := output.EmitJSON([]string{"a"})
	if done || err != nil {
		t.Errorf("EmitJSON without --json = (%v, %v), want (false, nil)", done, err)
	}
}
