// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

type sampleEntry struct {
	Path   string   `cbor:"path"`
	Size   int64    `cbor:"size"`
	Chunks [][]byte `cbor:"chunks,omitempty"`
}

func TestMarshalDeterministicMapOrder(t *testing.T) {
	// Insertion order differs; encoded bytes must not.
	first := map[string]int{"zeta": 1, "alpha": 2, "mid": 3}
	second := map[string]int{"mid": 3, "alpha": 2, "zeta": 1}

	a, err := Marshal(first)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, err := Marshal(second)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("encodings differ:\n%x\n%x", a, b)
	}
}

func TestEncoderSequence(t *testing.T) {
	entries := []sampleEntry{
		{Path: "etc/hosts", Size: 120, Chunks: [][]byte{{1, 2, 3}}},
		{Path: "etc/empty", Size: 0},
		{Path: "var/log/big", Size: 1 << 30, Chunks: [][]byte{{4}, {5}, {6}}},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			t.Fatalf("Encode(%s): %v", entry.Path, err)
		}
	}

	decoder := NewDecoder(&buffer)
	var decoded []sampleEntry
	for {
		var entry sampleEntry
		err := decoder.Decode(&entry)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		decoded = append(decoded, entry)
	}

	if len(decoded) != len(entries) {
		t.Fatalf("decoded %d entries, want %d", len(decoded), len(entries))
	}
	for i := range entries {
		if decoded[i].Path != entries[i].Path || decoded[i].Size != entries[i].Size {
			t.Errorf("entry %d = %+v, want %+v", i, decoded[i], entries[i])
		}
		if len(decoded[i].Chunks) != len(entries[i].Chunks) {
			t.Errorf("entry %d: %d chunks, want %d", i, len(decoded[i].Chunks), len(entries[i].Chunks))
		}
	}
}

func TestUnmarshalAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"name": "daily", "count": 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	asMap, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if asMap["name"] != "daily" {
		t.Errorf("name = %v, want daily", asMap["name"])
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	data, err := Marshal(sampleEntry{Path: "a/b", Size: 9})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded sampleEntry
	if err := Unmarshal(data[:len(data)-2], &decoded); err == nil {
		t.Fatal("expected error decoding truncated input")
	}
}
