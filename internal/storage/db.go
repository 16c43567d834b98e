// Package storage caches client-side chat state in SQLite: the unread index
// and the recent conversation list, so both survive a restart. Messages stay
// on the server.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	_ "modernc.org/sqlite"
)

var log = logging.Logger("storage")

// DB wraps the cache database of one user profile.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the database at path. ":memory:" opens a private
// in-memory database.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create meta table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _unread (
			owner_id     TEXT NOT NULL,
			conversation TEXT NOT NULL,
			count        INTEGER NOT NULL DEFAULT 0,
			updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (owner_id, conversation)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create unread table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _recents (
			owner_id    TEXT NOT NULL,
			peer_id     TEXT NOT NULL,
			full_name   TEXT DEFAULT '',
			profile_pic TEXT DEFAULT '',
			position    INTEGER NOT NULL,
			PRIMARY KEY (owner_id, peer_id)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create recents table: %w", err)
	}

	log.Debugf("opened %s", path)
	return &DB{db: db, path: path}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// Meta reads a value from the key/value table.
func (d *DB) Meta(key string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var v string
	err := d.db.QueryRow(`SELECT value FROM _meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (d *DB) SetMeta(key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO _meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Scoped returns a view of the cache for one signed-in user.
func (d *DB) Scoped(ownerID string) *Cache {
	return &Cache{d: d, owner: ownerID}
}
