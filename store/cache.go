// Package store persists compiled bytecode images in SQLite, keyed by the
// sha256 of the source text they were compiled from.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/ebc/pkg/bytecode"
)

var log = commonlog.GetLogger("ebc.store")

// ErrClosed is returned by operations on a closed Cache.
var ErrClosed = errors.New("cache closed")

// Cache is a content-addressed store of compiled Function images.
type Cache struct {
	db   *sql.DB
	path string

	mu     sync.Mutex
	hits   int64
	misses int64
	closed bool
}

// Stats reports cache usage.
type Stats struct {
	Entries int64
	Bytes   int64
	Hits    int64
	Misses  int64
}

// Key returns the cache key of a source text.
func Key(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Cache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS images (
		key        TEXT PRIMARY KEY,
		version    INTEGER NOT NULL,
		image      BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		used_at    INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened cache %s", path)
	return &Cache{db: db, path: path}, nil
}

// DefaultPath returns the cache location used when none is configured.
func DefaultPath() (string, error) {
	if p := os.Getenv("EBC_CACHE"); p != "" {
		return p, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("getting cache dir: %w", err)
	}
	return filepath.Join(dir, "ebc", "images.db"), nil
}

// Path returns the database path.
func (c *Cache) Path() string { return c.path }

// Get returns the compiled image for source. Entries written by a different
// bytecode version, or that no longer verify, are treated as misses and
// removed.
func (c *Cache) Get(ctx context.Context, source string) (*bytecode.Function, bool, error) {
	if err := c.check(); err != nil {
		return nil, false, err
	}
	key := Key(source)

	var version int
	var image []byte
	err := c.db.QueryRowContext(ctx, "SELECT version, image FROM images WHERE key = ?", key).Scan(&version, &image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.count(false)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("querying image: %w", err)
	}

	if version != int(bytecode.BytecodeVersion) {
		log.Infof("dropping stale image %s (version %d)", key[:12], version)
		c.count(false)
		return nil, false, c.delete(ctx, key)
	}
	fn, err := bytecode.Unmarshal(image)
	if err != nil {
		log.Warningf("dropping unreadable image %s: %s", key[:12], err)
		c.count(false)
		return nil, false, c.delete(ctx, key)
	}

	if _, err := c.db.ExecContext(ctx, "UPDATE images SET used_at = ? WHERE key = ?", time.Now().UnixNano(), key); err != nil {
		return nil, false, fmt.Errorf("touching image: %w", err)
	}
	c.count(true)
	return fn, true, nil
}

// Put stores the compiled image for source, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, source string, fn *bytecode.Function) error {
	if err := c.check(); err != nil {
		return err
	}
	image, err := bytecode.Marshal(fn)
	if err != nil {
		return fmt.Errorf("encoding image: %w", err)
	}
	now := time.Now().UnixNano()
	_, err = c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO images (key, version, image, created_at, used_at) VALUES (?, ?, ?, ?, ?)",
		Key(source), bytecode.BytecodeVersion, image, now, now,
	)
	if err != nil {
		return fmt.Errorf("saving image: %w", err)
	}
	return nil
}

// Prune removes entries not used within olderThan and returns how many were
// removed.
func (c *Cache) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan).UnixNano()
	res, err := c.db.ExecContext(ctx, "DELETE FROM images WHERE used_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning images: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Infof("pruned %d images", n)
	}
	return n, nil
}

// Stats returns entry counts and the hit ratio since Open.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	if err := c.check(); err != nil {
		return Stats{}, err
	}
	var s Stats
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(SUM(LENGTH(image)), 0) FROM images").Scan(&s.Entries, &s.Bytes)
	if err != nil {
		return Stats{}, fmt.Errorf("querying stats: %w", err)
	}
	c.mu.Lock()
	s.Hits, s.Misses = c.hits, c.misses
	c.mu.Unlock()
	return s, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

func (c *Cache) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *Cache) count(hit bool) {
	c.mu.Lock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
}

func (c *Cache) delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM images WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}
	return nil
}
