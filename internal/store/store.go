// Package store is the durable metadata layer: an SQLite database with
// WAL journaling, schema migrations, and typed repositories for the
// engine entities.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/neuralfs/neuralfs/internal/faults"
)

// Options tune the connection. Zero values take the documented defaults.
type Options struct {
	BusyTimeout time.Duration // default 5s
	CacheKiB    int           // page cache, default 65536 (64 MiB)
	MmapBytes   int64         // default 256 MiB
	WAL         bool          // default true via DefaultOptions
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		BusyTimeout: 5 * time.Second,
		CacheKiB:    65536,
		MmapBytes:   256 << 20,
		WAL:         true,
	}
}

// Store owns the database handle and exposes typed repositories.
type Store struct {
	db   *sql.DB
	path string

	Files      *FilesRepo
	Chunks     *ChunksRepo
	Tags       *TagsRepo
	FileTags   *FileTagsRepo
	Relations  *RelationsRepo
	BlockRules *BlockRulesRepo
	Sessions   *SessionsRepo
	Usage      *UsageRepo
}

// Open opens or creates the database at path, creating parent directories
// as needed, and applies the connection pragmas. Migrations are not run;
// call Migrate separately.
func Open(path string, opts Options) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	if opts.BusyTimeout == 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.CacheKiB == 0 {
		opts.CacheKiB = 65536
	}
	if opts.MmapBytes == 0 {
		opts.MmapBytes = 256 << 20
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", path, opts.BusyTimeout.Milliseconds())
	if opts.WAL {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA cache_size=-%d", opts.CacheKiB),
		fmt.Sprintf("PRAGMA mmap_size=%d", opts.MmapBytes),
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	s := &Store{db: db, path: path}
	s.Files = &FilesRepo{db: db}
	s.Chunks = &ChunksRepo{db: db}
	s.Tags = &TagsRepo{db: db}
	s.FileTags = &FileTagsRepo{db: db}
	s.Relations = &RelationsRepo{db: db}
	s.BlockRules = &BlockRulesRepo{db: db}
	s.Sessions = &SessionsRepo{db: db}
	s.Usage = &UsageRepo{db: db}
	return s, nil
}

// DB exposes the underlying handle for transactions that span repositories.
func (s *Store) DB() *sql.DB { return s.db }

// WithTx runs fn inside a transaction, rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return faults.Wrap(faults.TransientStorage, "begin transaction", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return faults.Wrap(faults.TransientStorage, "commit transaction", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// notFound maps sql.ErrNoRows to a typed NotFound error.
func notFound(entity, id string, err error) error {
	if err == sql.ErrNoRows {
		return faults.Newf(faults.NotFound, "%s not found: %s", entity, id)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
