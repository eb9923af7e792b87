// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package segment implements the append-only object store underneath a
// vault repository.
//
// Encoded chunks are appended as records to numbered segment files
// under data/<n/1000>/<n>. A segment is written by exactly one writer,
// sealed (fsynced and closed) when it reaches the configured size, and
// never modified again. The one exception is crash repair at open,
// which truncates a torn tail of the newest log segment. Space held by unreferenced records is reclaimed by
// [Store.Compact], which copies the live records of mostly-dead
// segments into fresh segments and then deletes the originals.
//
// Each segment file starts with an 8-byte header (magic "BVSEG", a
// reserved byte, the segment kind, format version). The kind tells log
// segments, written by appends, from compacted segments written by
// [Store.Compact]. Records follow back to back:
//
//	PUT:    crc32c u32 | size u32 | tag=0 | id[32] | payload
//	COMMIT: crc32c u32 | size u32 | tag=2
//
// All integers are little-endian. size is the length of the whole
// record including the checksum, and the checksum covers every byte
// after itself. A COMMIT record marks a durability boundary: every
// record before it in the same segment was fsynced with it.
//
// [Store.Scan] stops at the first corrupt record. [Store.Salvage] steps
// over corruption for recovery: a record failing its checksum is
// skipped by its header size, and a record whose header cannot be
// trusted ends the scan of that segment only.
package segment
