// Package buildcache stores compiled programs in SQLite, keyed by a digest
// of their source, so unchanged sources are not recompiled.
package buildcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/chazu/ocp/vm"
	"github.com/cockroachdb/errors"
	"github.com/tliron/commonlog"

	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("ocp.cache")

const schema = `CREATE TABLE IF NOT EXISTS programs (
	key     TEXT PRIMARY KEY,
	data    BLOB NOT NULL,
	created INTEGER NOT NULL
)`

// Cache is a program cache backed by one SQLite file. It is safe for
// concurrent use.
type Cache struct {
	db   *sql.DB
	path string
}

// Open opens or creates the cache at path, creating parent directories as
// needed.
func Open(ctx context.Context, path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating cache directory")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	// Set busy timeout for concurrent access
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "setting busy timeout")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating table")
	}

	log.Debugf("opened build cache %s", path)
	return &Cache{db: db, path: path}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Path returns the database file the cache was opened on.
func (c *Cache) Path() string {
	return c.path
}

// Key returns the cache key of an OTP source: the hex SHA-256 of the OCP
// format version followed by the source text. Bumping the format version
// invalidates every entry.
func Key(source []byte) string {
	h := sha256.New()
	var version [4]byte
	binary.BigEndian.PutUint32(version[:], vm.FormatVersion)
	h.Write(version[:])
	h.Write(source)
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the bytes stored under key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx, "SELECT data FROM programs WHERE key = ?", key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "querying program")
	}
	return data, true, nil
}

// Put stores native program bytes under key, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, key string, data []byte) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO programs (key, data, created) VALUES (?, ?, ?)",
		key, data, time.Now().Unix(),
	)
	if err != nil {
		return errors.Wrap(err, "saving program")
	}
	return nil
}

// Program returns the program stored under key. Entries that no longer
// load are deleted and reported as misses.
func (c *Cache) Program(ctx context.Context, key string) (*vm.Program, bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	p, err := vm.LoadBytes(data)
	if err != nil {
		log.Infof("dropping unreadable cache entry %s: %v", key, err)
		if err := c.Delete(ctx, key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return p, true, nil
}

// PutProgram stores p in the native layout under key.
func (c *Cache) PutProgram(ctx context.Context, key string, p *vm.Program) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	return c.Put(ctx, key, data)
}

// Delete removes the entry under key, if any.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM programs WHERE key = ?", key); err != nil {
		return errors.Wrap(err, "deleting program")
	}
	return nil
}

// Prune deletes entries created before cutoff and returns how many were
// removed.
func (c *Cache) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM programs WHERE created < ?", cutoff.Unix())
	if err != nil {
		return 0, errors.Wrap(err, "pruning cache")
	}
	return res.RowsAffected()
}

// Len returns the number of cached programs.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM programs").Scan(&n); err != nil {
		return 0, errors.Wrap(err, "counting programs")
	}
	return n, nil
}
