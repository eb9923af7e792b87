// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding configuration shared by every
// on-disk structure in a vault repository: archive headers, item streams,
// the archive catalog, the key file payload, and index snapshot metadata.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. The
// same logical value always produces the same bytes, which matters here
// because encoded metadata is itself content-addressed: two identical
// item streams must hash to the same chunk IDs.
//
// For buffers:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For CBOR sequences (the item stream is one value per file entry):
//
//	encoder := codec.NewEncoder(&buffer)
//	decoder := codec.NewDecoder(reader)
//
// Types serialized here use `cbor` struct tags. Types that are also
// printed as JSON by the CLI use `json` tags only; fxamacker/cbor reads
// them as a fallback.
package codec
