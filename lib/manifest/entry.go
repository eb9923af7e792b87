// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/bureau-foundation/vault/lib/chunkid"
)

var (
	// ErrInvalidPath reports a path that is empty, escapes the archive
	// root, or is not valid UTF-8 text.
	ErrInvalidPath = errors.New("invalid archive path")

	// ErrDuplicatePath reports a second entry for the same path.
	ErrDuplicatePath = errors.New("duplicate archive path")

	// ErrNoSuchPath reports a lookup of a path the archive lacks.
	ErrNoSuchPath = errors.New("no such path in archive")

	// ErrNotAFile reports a content request for a directory or link.
	ErrNotAFile = errors.New("archive entry is not a regular file")
)

// Kind is the type of a file entry.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindDirectory
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// KindOf maps a file mode to an entry kind. Devices, sockets and pipes
// have no kind and are not archived.
func KindOf(mode fs.FileMode) (Kind, bool) {
	switch {
	case mode.IsRegular():
		return KindFile, true
	case mode.IsDir():
		return KindDirectory, true
	case mode&fs.ModeSymlink != 0:
		return KindSymlink, true
	default:
		return 0, false
	}
}

// ChunkRef is one chunk of a file's content, in order.
type ChunkRef struct {
	ID   chunkid.ID `cbor:"id"`
	Size uint32     `cbor:"size"`
}

// FileEntry is one item of an archive.
type FileEntry struct {
	// Path is slash-separated and relative to the archive root.
	Path string `cbor:"path"`
	Kind Kind   `cbor:"kind"`

	// Mode holds the permission and special bits of fs.FileMode.
	Mode uint32 `cbor:"mode"`
	UID  uint32 `cbor:"uid,omitempty"`
	GID  uint32 `cbor:"gid,omitempty"`

	// ModTime is Unix nanoseconds.
	ModTime int64 `cbor:"mtime"`

	// Size is the content length of a regular file: the sum of its
	// chunk sizes.
	Size int64 `cbor:"size,omitempty"`

	// Target is the link target of a symlink.
	Target string `cbor:"target,omitempty"`

	Chunks []ChunkRef `cbor:"chunks,omitempty"`
}

// Perm returns the permission bits of the entry.
func (e FileEntry) Perm() fs.FileMode {
	return fs.FileMode(e.Mode).Perm()
}

// Time returns the modification time.
func (e FileEntry) Time() time.Time {
	return time.Unix(0, e.ModTime)
}

// CleanPath normalizes an archive path: no leading slash, no "." or
// empty components. Any ".." component is rejected.
func CleanPath(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	for _, component := range strings.Split(name, "/") {
		if component == ".." {
			return "", fmt.Errorf("%w: %q leaves the archive root", ErrInvalidPath, name)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+name), "/")
	if cleaned == "" {
		return "", fmt.Errorf("%w: %q names the archive root", ErrInvalidPath, name)
	}
	return cleaned, nil
}

func (e FileEntry) validate() error {
	switch e.Kind {
	case KindFile:
		var total int64
		for _, chunk := range e.Chunks {
			total += int64(chunk.Size)
		}
		if total != e.Size {
			return fmt.Errorf("%s: chunks hold %d bytes, entry says %d", e.Path, total, e.Size)
		}
	case KindDirectory:
		if len(e.Chunks) > 0 || e.Size != 0 {
			return fmt.Errorf("%s: directory with content", e.Path)
		}
	case KindSymlink:
		if e.Target == "" {
			return fmt.Errorf("%s: symlink without target", e.Path)
		}
		if len(e.Chunks) > 0 {
			return fmt.Errorf("%s: symlink with content", e.Path)
		}
	default:
		return fmt.Errorf("%s: unknown entry kind %d", e.Path, e.Kind)
	}
	return nil
}
