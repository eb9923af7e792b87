// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/renameio"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/vault/lib/chunker"
	"github.com/bureau-foundation/vault/lib/chunkid"
	"github.com/bureau-foundation/vault/lib/chunkindex"
	"github.com/bureau-foundation/vault/lib/clock"
	"github.com/bureau-foundation/vault/lib/envelope"
	"github.com/bureau-foundation/vault/lib/manifest"
	"github.com/bureau-foundation/vault/lib/secret"
	"github.com/bureau-foundation/vault/lib/segment"
)

const readme = "This is a bureau-vault backup repository. Its contents are encrypted.\n" +
	"Use bureau-vault to read it; do not modify files here by hand.\n"

// InitOptions configures a new repository.
type InitOptions struct {
	// Chunker holds the chunk size parameters and algorithm. The seed
	// is ignored; Init generates one. Zero value selects
	// chunker.DefaultParams.
	Chunker chunker.Params

	Compression envelope.Compression

	// SegmentSize defaults to segment.DefaultSegmentSize.
	SegmentSize int64

	// KeyMode defaults to KeyModePassphrase.
	KeyMode KeyMode

	// Passphrase seals the key file in passphrase mode. Borrowed.
	Passphrase *secret.Buffer

	// WorkFactor is the scrypt work factor for passphrase mode. Zero
	// selects sealed.DefaultWorkFactor.
	WorkFactor int

	// Recipients are age public keys for recipient mode.
	Recipients []string

	Logger *slog.Logger
}

// OpenOptions configures an open repository session.
type OpenOptions struct {
	Credentials Credentials

	// Workers bounds parallel chunk hashing and encoding within one
	// AddFile. Zero selects GOMAXPROCS.
	Workers int

	// Registerer receives the repository's Prometheus metrics. Nil
	// disables registration; metrics are still counted.
	Registerer prometheus.Registerer

	// Clock stamps archive times. Defaults to the real clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// Repository is an open repository session. It holds the repository
// lock until Close.
type Repository struct {
	path     string
	config   Config
	params   chunker.Params
	keys     *envelope.Keys
	codec    *envelope.Codec
	hasher   *chunkid.Hasher
	store    *segment.Store
	index    atomic.Pointer[chunkindex.Index]
	lock     *os.File
	logger   *slog.Logger
	clock    clock.Clock
	metrics  *metrics
	registry prometheus.Registerer
	workers  int

	// txnMu is the garbage collection barrier. Transactions and
	// deletes hold it shared from start to finish; GC and index
	// rebuilds hold it exclusively while they recount references.
	txnMu sync.RWMutex

	// gcMu admits one GC, rebuild or check at a time.
	gcMu sync.Mutex

	catalogMu       sync.Mutex
	catalog         *manifest.Catalog
	catalogLocation segment.Location

	closed atomic.Bool
}

// Init creates a repository at path. path must not exist or must be
// an empty directory.
func Init(ctx context.Context, path string, options InitOptions) error {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	params := options.Chunker
	if params == (chunker.Params{}) {
		params = chunker.DefaultParams()
	}
	if options.KeyMode == "" {
		options.KeyMode = KeyModePassphrase
	}
	if options.SegmentSize <= 0 {
		options.SegmentSize = segment.DefaultSegmentSize
	}

	seed, err := chunker.NewSeed(params.Algorithm)
	if err != nil {
		return err
	}
	params.Seed = seed
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid chunker parameters: %w", err)
	}

	if err := prepareDirectory(path); err != nil {
		return err
	}

	master, err := envelope.NewMasterKey()
	if err != nil {
		return err
	}
	sealedKey, err := sealKeyFile(master, seed, options.KeyMode, options.Passphrase, options.Recipients, options.WorkFactor)
	if err != nil {
		master.Close()
		return err
	}
	keys, err := envelope.NewKeys(master)
	if err != nil {
		master.Close()
		return err
	}
	defer keys.Close()
	codec, err := envelope.NewCodec(keys, options.Compression)
	if err != nil {
		return err
	}
	if err := writeKeyFile(path, sealedKey); err != nil {
		return err
	}
	if err := renameio.WriteFile(filepath.Join(path, readmeFile), []byte(readme), 0o644); err != nil {
		return fmt.Errorf("%w: writing README: %w", ErrIO, err)
	}

	store, err := segment.Open(filepath.Join(path, dataDir), segment.Options{
		SegmentSize: options.SegmentSize,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	location, err := writeCatalog(store, codec, manifest.NewCatalog())
	if closeErr := store.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	meta := chunkindex.Meta{Layout: store.Layout(), Catalog: location}
	if err := chunkindex.New().Save(ctx, filepath.Join(path, indexFile), meta, logger); err != nil {
		return err
	}

	// The config goes last: its presence marks a complete repository.
	cfg := Config{
		ID:          uuid.NewString(),
		Version:     formatVersion,
		SegmentSize: options.SegmentSize,
		Compression: options.Compression,
		KeyMode:     options.KeyMode,
		Chunker:     params,
	}
	cfg.Chunker.Seed = 0
	if err := writeConfig(path, cfg); err != nil {
		return err
	}

	logger.Info("repository initialized",
		"path", path,
		"id", cfg.ID,
		"chunker", params.Algorithm,
		"compression", options.Compression,
		"key_mode", options.KeyMode,
	)
	return nil
}

func prepareDirectory(path string) error {
	entries, err := os.ReadDir(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("%w: creating repository directory: %w", ErrIO, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("%w: reading %s: %w", ErrIO, path, err)
	case len(entries) > 0:
		return fmt.Errorf("cannot initialize a repository in %s: directory is not empty", path)
	default:
		return nil
	}
}

// Open opens the repository at path for reading and writing. It takes
// the repository lock, unseals the key file, repairs a torn segment
// tail, and loads the index snapshot or rebuilds the index when the
// snapshot does not describe the segments on disk.
func Open(ctx context.Context, path string, options OpenOptions) (_ *Repository, err error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Workers <= 0 {
		options.Workers = runtime.GOMAXPROCS(0)
	}

	cfg, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}
	lock, err := acquireLock(path)
	if err != nil {
		return nil, err
	}
	r := &Repository{
		path:     path,
		config:   cfg,
		lock:     lock,
		logger:   logger.With("repository", cfg.ID),
		clock:    options.Clock,
		metrics:  newMetrics(),
		registry: options.Registerer,
		workers:  options.Workers,
	}
	defer func() {
		if err != nil {
			r.release()
		}
	}()

	keys, seed, err := openKeyFile(path, cfg.KeyMode, options.Credentials)
	if err != nil {
		return nil, err
	}
	r.keys = keys
	r.hasher = keys.Hasher()
	r.params = cfg.Chunker
	r.params.Seed = seed
	if err := r.params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: repository chunker parameters: %v", ErrFormat, err)
	}
	r.codec, err = envelope.NewCodec(keys, cfg.Compression)
	if err != nil {
		return nil, err
	}

	r.store, err = segment.Open(filepath.Join(path, dataDir), segment.Options{
		SegmentSize: cfg.SegmentSize,
		Logger:      r.logger,
	})
	if err != nil {
		return nil, err
	}

	if err := r.loadIndex(ctx); err != nil {
		return nil, err
	}
	if err := r.metrics.register(options.Registerer); err != nil {
		return nil, err
	}
	r.metrics.archives.Set(float64(r.currentCatalog().Len()))

	r.logger.Info("repository opened",
		"path", path,
		"chunks", r.chunks().Len(),
		"archives", r.currentCatalog().Len(),
	)
	return r, nil
}

// loadIndex installs the index snapshot if it matches the segments on
// disk, and rebuilds the index otherwise.
func (r *Repository) loadIndex(ctx context.Context) error {
	index, meta, err := chunkindex.Load(ctx, r.indexPath(), r.logger)
	switch {
	case errors.Is(err, chunkindex.ErrNoSnapshot):
		r.logger.Info("no index snapshot, rebuilding index")
	case err != nil:
		r.logger.Warn("index snapshot unreadable, rebuilding index", "error", err)
	case !meta.Matches(r.store.Layout()):
		r.logger.Info("index snapshot is stale, rebuilding index")
	default:
		catalog, err := readCatalog(r.store, r.codec, meta.Catalog)
		if err == nil {
			r.index.Store(index)
			r.catalog = catalog
			r.catalogLocation = meta.Catalog
			return nil
		}
		r.logger.Warn("catalog named by index snapshot is unreadable, rebuilding index", "error", err)
	}
	// The snapshot is about to become stale whatever happens next.
	if err := os.Remove(r.indexPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: removing stale index snapshot: %w", ErrIO, err)
	}
	_, err = r.rebuild(ctx)
	return err
}

func (r *Repository) indexPath() string {
	return filepath.Join(r.path, indexFile)
}

// chunks returns the current index. RebuildIndex replaces it wholesale.
func (r *Repository) chunks() *chunkindex.Index {
	return r.index.Load()
}

// Close seals the open segment, saves an index snapshot, zeroes the
// keys and releases the lock. It waits for in-flight transactions to
// finish.
func (r *Repository) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.gcMu.Lock()
	defer r.gcMu.Unlock()
	r.txnMu.Lock()
	defer r.txnMu.Unlock()

	err := r.store.Close()
	if err == nil {
		r.catalogMu.Lock()
		meta := chunkindex.Meta{
			Layout:            r.store.Layout(),
			Catalog:           r.catalogLocation,
			CatalogGeneration: r.catalog.Generation,
		}
		r.catalogMu.Unlock()
		err = r.chunks().Save(context.Background(), r.indexPath(), meta, r.logger)
	}
	r.metrics.unregister(r.registry)
	return errors.Join(err, r.release())
}

// release frees what Open acquired. Used by Close and by a failed Open.
func (r *Repository) release() error {
	var errs []error
	if r.store != nil {
		errs = append(errs, r.store.Close())
	}
	if r.keys != nil {
		errs = append(errs, r.keys.Close())
	}
	if r.lock != nil {
		errs = append(errs, releaseLock(r.lock))
		r.lock = nil
	}
	return errors.Join(errs...)
}

// Destroy irreversibly deletes the repository at path. It refuses a
// directory that is not a repository or is open elsewhere.
func Destroy(path string) error {
	if _, err := ReadConfig(path); err != nil {
		return err
	}
	lock, err := acquireLock(path)
	if err != nil {
		return err
	}
	// Remove the config first so an interrupted destroy no longer
	// looks like a repository.
	if err := os.Remove(filepath.Join(path, configFile)); err != nil {
		releaseLock(lock)
		return fmt.Errorf("%w: removing config: %w", ErrIO, err)
	}
	if err := os.RemoveAll(path); err != nil {
		releaseLock(lock)
		return fmt.Errorf("%w: removing repository: %w", ErrIO, err)
	}
	return releaseLock(lock)
}

// Config returns the repository configuration. The chunker seed is
// not included.
func (r *Repository) Config() Config {
	return r.config
}

// Path returns the repository directory.
func (r *Repository) Path() string {
	return r.path
}

func (r *Repository) checkOpen() error {
	if r.closed.Load() {
		return ErrClosed
	}
	return nil
}
