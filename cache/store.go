// Package cache stores built containers keyed by the digest of the
// program record they were built from plus the build options used, so
// unchanged programs skip the build entirely. Payloads live
// zstd-compressed in a SQLite database; a corrupt or truncated payload
// is an error, never silently rebuilt.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/gvanrossum/pyco/program"
)

// ErrMiss indicates the requested container is not cached.
var ErrMiss = errors.New("container not in cache")

// ErrCorrupt indicates a cached payload failed its size check.
var ErrCorrupt = errors.New("corrupt cache entry")

// DBName is the database file created inside the cache directory.
const DBName = "containers.db"

// zstdEncoder and zstdDecoder are reused across calls to avoid
// repeated initialization overhead. zstd.Encoder and zstd.Decoder
// are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("cache: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("cache: zstd decoder initialization failed: " + err.Error())
	}
}

// Store is a compile cache over a SQLite database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Options identifies the builder settings a container was produced
// with. The same program record built with different settings yields
// different bytes, so options are part of the cache key.
type Options struct {
	Immediates bool
}

// bits packs the options into the integer stored in the key column.
func (o Options) bits() int64 {
	var b int64
	if o.Immediates {
		b |= 1
	}
	return b
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries    int
	Units      int
	TotalBytes int64 // container bytes before compression
	DiskBytes  int64 // payload bytes as stored
}

// Open opens the cache under dir, creating the directory and database
// as needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, DBName))
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Create table if needed
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS containers (
		digest TEXT NOT NULL,
		options INTEGER NOT NULL,
		payload BLOB NOT NULL,
		size INTEGER NOT NULL,
		compressed INTEGER NOT NULL,
		units INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (digest, options)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores container under (digest, opts), replacing any previous
// entry. units is the container's unit count, kept for the stats
// report.
func (s *Store) Put(digest program.Digest, opts Options, container []byte, units int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Compressed storage is only worthwhile when it actually shrinks
	// the payload; tiny containers often do not.
	payload := zstdEncoder.EncodeAll(container, nil)
	compressed := 1
	if len(payload) >= len(container) {
		payload = container
		compressed = 0
	}

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO containers (digest, options, payload, size, compressed, units, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		digest.String(), opts.bits(), payload, len(container), compressed, units, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("storing container %s: %w", digest, err)
	}
	return nil
}

// Get returns the cached container for (digest, opts), or ErrMiss. The
// payload is verified against its recorded size; a mismatch is
// ErrCorrupt.
func (s *Store) Get(digest program.Digest, opts Options) ([]byte, error) {
	var payload []byte
	var size, compressed int
	err := s.db.QueryRow(
		"SELECT payload, size, compressed FROM containers WHERE digest = ? AND options = ?",
		digest.String(), opts.bits(),
	).Scan(&payload, &size, &compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMiss, digest)
	}
	if err != nil {
		return nil, fmt.Errorf("querying container %s: %w", digest, err)
	}

	if compressed == 0 {
		if len(payload) != size {
			return nil, fmt.Errorf("%w: %s is %d bytes, recorded %d", ErrCorrupt, digest, len(payload), size)
		}
		return payload, nil
	}
	container, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, digest, err)
	}
	if len(container) != size {
		return nil, fmt.Errorf("%w: %s decompressed to %d bytes, recorded %d", ErrCorrupt, digest, len(container), size)
	}
	return container, nil
}

// Has reports whether (digest, opts) is cached without decoding its
// payload.
func (s *Store) Has(digest program.Digest, opts Options) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM containers WHERE digest = ? AND options = ?", digest.String(), opts.bits()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying container %s: %w", digest, err)
	}
	return true, nil
}

// Delete removes the entry for (digest, opts) if present.
func (s *Store) Delete(digest program.Digest, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM containers WHERE digest = ? AND options = ?", digest.String(), opts.bits()); err != nil {
		return fmt.Errorf("deleting container %s: %w", digest, err)
	}
	return nil
}

// Clear removes every cached container.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM containers"); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	return nil
}

// Stats returns entry counts and byte totals.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := s.db.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(units), 0), COALESCE(SUM(size), 0), COALESCE(SUM(LENGTH(payload)), 0) FROM containers",
	).Scan(&st.Entries, &st.Units, &st.TotalBytes, &st.DiskBytes)
	if err != nil {
		return Stats{}, fmt.Errorf("reading cache stats: %w", err)
	}
	return st, nil
}
