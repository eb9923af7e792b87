// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vaultfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bureau-foundation/vault/lib/chunkid"
	"github.com/bureau-foundation/vault/lib/manifest"
	"github.com/bureau-foundation/vault/lib/repository"
)

// blockSize is the preferred I/O size reported for files.
const blockSize = 1 << 20

// Source is the part of a repository the filesystem reads from.
// *repository.Repository implements it.
type Source interface {
	List() ([]repository.ArchiveSummary, error)
	Archive(ctx context.Context, name string) (*manifest.Manifest, error)
	NewFileReader(ctx context.Context, refs []manifest.ChunkRef) *repository.FileReader
}

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	// It is created if it does not exist.
	Mountpoint string

	// Source provides archives and chunk reads.
	Source Source

	// AllowOther permits other users (including root) to access
	// the mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Mount mounts the repository at the configured mountpoint. The caller
// must call Unmount on the returned Server when done, and must keep the
// repository open until then.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &rootNode{options: &options, archives: make(map[chunkid.ID]*treeNode)}

	// Archives never change while mounted, so the kernel may cache
	// entries and attributes for as long as it likes.
	entryTimeout := time.Hour
	attrTimeout := time.Hour
	negativeTimeout := time.Second

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "bureau-vault",
			Name:       "vault",
			AllowOther: options.AllowOther,
			Options:    []string{"ro"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("repository mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

// rootNode lists the archives. Each archive's tree is built on first
// lookup and cached by archive ID.
type rootNode struct {
	gofuse.Inode
	options *Options

	mu       sync.Mutex
	archives map[chunkid.ID]*treeNode
}

var _ gofuse.InodeEmbedder = (*rootNode)(nil)
var _ gofuse.NodeLookuper = (*rootNode)(nil)
var _ gofuse.NodeReaddirer = (*rootNode)(nil)

func (r *rootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	summaries, err := r.options.Source.List()
	if err != nil {
		r.options.Logger.Error("listing archives failed", "error", err)
		return nil, syscall.EIO
	}
	for _, summary := range summaries {
		if summary.Name != name {
			continue
		}
		tree, err := r.archiveTree(ctx, summary)
		if err != nil {
			if errors.Is(err, repository.ErrArchiveNotFound) {
				return nil, syscall.ENOENT
			}
			r.options.Logger.Error("loading archive failed", "archive", name, "error", err)
			return nil, syscall.EIO
		}
		fillAttr(&out.Attr, tree.entry)
		node := &dirNode{options: r.options, tree: tree}
		return r.NewPersistentInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFDIR}), 0
	}
	return nil, syscall.ENOENT
}

func (r *rootNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	summaries, err := r.options.Source.List()
	if err != nil {
		r.options.Logger.Error("listing archives failed", "error", err)
		return nil, syscall.EIO
	}
	entries := make([]fuse.DirEntry, len(summaries))
	for i, summary := range summaries {
		entries[i] = fuse.DirEntry{Name: summary.Name, Mode: syscall.S_IFDIR}
	}
	return &sliceDirStream{entries: entries}, 0
}

// archiveTree returns the tree of an archive, loading it on first use.
func (r *rootNode) archiveTree(ctx context.Context, summary repository.ArchiveSummary) (*treeNode, error) {
	r.mu.Lock()
	tree, ok := r.archives[summary.ID]
	r.mu.Unlock()
	if ok {
		return tree, nil
	}

	archive, err := r.options.Source.Archive(ctx, summary.Name)
	if err != nil {
		return nil, err
	}
	tree, skipped := buildTree(archive.Entries())
	if skipped > 0 {
		r.options.Logger.Warn("archive entries without a directory parent are hidden",
			"archive", summary.Name,
			"hidden", skipped,
		)
	}
	tree.entry.ModTime = summary.Time.UnixNano()

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.archives[summary.ID]; ok {
		return existing, nil
	}
	r.archives[summary.ID] = tree
	return tree, nil
}

// dirNode is a directory inside an archive.
type dirNode struct {
	gofuse.Inode
	options *Options
	tree    *treeNode
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)

func (d *dirNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(&out.Attr, d.tree.entry)
	return 0
}

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	child, ok := d.tree.children[name]
	if !ok {
		return nil, syscall.ENOENT
	}
	fillAttr(&out.Attr, child.entry)

	var node gofuse.InodeEmbedder
	switch child.entry.Kind {
	case manifest.KindDirectory:
		node = &dirNode{options: d.options, tree: child}
	case manifest.KindSymlink:
		node = &linkNode{entry: child.entry}
	default:
		node = &fileNode{options: d.options, entry: child.entry}
	}
	return d.NewPersistentInode(ctx, node, gofuse.StableAttr{Mode: fileType(child.entry.Kind)}), 0
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	names := d.tree.names()
	entries := make([]fuse.DirEntry, len(names))
	for i, name := range names {
		entries[i] = fuse.DirEntry{Name: name, Mode: fileType(d.tree.children[name].entry.Kind)}
	}
	return &sliceDirStream{entries: entries}, 0
}

// linkNode is a symlink inside an archive.
type linkNode struct {
	gofuse.Inode
	entry manifest.FileEntry
}

var _ gofuse.InodeEmbedder = (*linkNode)(nil)
var _ gofuse.NodeReadlinker = (*linkNode)(nil)
var _ gofuse.NodeGetattrer = (*linkNode)(nil)

func (l *linkNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(&out.Attr, l.entry)
	return 0
}

func (l *linkNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	return []byte(l.entry.Target), 0
}

// fileNode is a regular file inside an archive. Its reader is created
// on first Open and shared by every handle.
type fileNode struct {
	gofuse.Inode
	options *Options
	entry   manifest.FileEntry

	mu     sync.Mutex
	reader *repository.FileReader
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)

func (f *fileNode) Getattr(ctx context.Context, fh gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(&out.Attr, f.entry)
	return 0
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	// Archive content is immutable, so the page cache stays valid.
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (f *fileNode) Read(ctx context.Context, fh gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := f.fileReader().ReadAt(dest, off)
	if err != nil && err != io.EOF {
		f.options.Logger.Error("read failed",
			"path", f.entry.Path,
			"offset", off,
			"error", err,
		)
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

// fileReader returns the node's reader. Its chunk reads are not tied
// to any one request's context: a chunk fetched for one read is cached
// for the next.
func (f *fileNode) fileReader() *repository.FileReader {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reader == nil {
		f.reader = f.options.Source.NewFileReader(context.Background(), f.entry.Chunks)
	}
	return f.reader
}

// fileType returns the S_IFMT bits for kind.
func fileType(kind manifest.Kind) uint32 {
	switch kind {
	case manifest.KindDirectory:
		return syscall.S_IFDIR
	case manifest.KindSymlink:
		return syscall.S_IFLNK
	default:
		return syscall.S_IFREG
	}
}

// fillAttr copies an entry's metadata into out. Write permission bits
// are cleared: nothing in the mount is writable.
func fillAttr(out *fuse.Attr, entry manifest.FileEntry) {
	out.Mode = fileType(entry.Kind) | uint32(entry.Perm())&^0o222
	if entry.Kind == manifest.KindSymlink {
		out.Mode = syscall.S_IFLNK | 0o777
		out.Size = uint64(len(entry.Target))
	} else {
		out.Size = uint64(entry.Size)
	}
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = blockSize
	out.Uid = entry.UID
	out.Gid = entry.GID
	modified := entry.Time()
	out.SetTimes(nil, &modified, &modified)
}

// sliceDirStream implements fs.DirStream from a slice of entries.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
