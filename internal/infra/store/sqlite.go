package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3" // SQLite3 driver
	zlog "github.com/rs/zerolog/log"
)

// Default timeout for a single SQLite statement.
const sqliteTimeout = 5 * time.Second

// SQLiteConfig holds settings for the sqlite backend.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// SQLite stores each collection in its own table of the same database file.
type SQLite struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLite)(nil)

// tables maps collections to table names.
var tables = map[Collection]string{
	AudioFiles: "audio_files",
	Playlist:   "playlist",
	Settings:   "settings",
}

// NewSQLite opens (creating if needed) the database at cfg.Path.
func NewSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, failure(err, "open", "", "")
		}
	}

	// busy_timeout avoids "database is locked" when a second process reads.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, failure(err, "open", "", "")
	}

	pingCtx, cancel := context.WithTimeout(ctx, sqliteTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, failure(err, "open", "", "")
	}

	s := &SQLite{db: db, path: cfg.Path}
	if err := s.initialize(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	zlog.Debug().Msgf("store: sqlite opened at %s", cfg.Path)
	return s, nil
}

func (s *SQLite) initialize(ctx context.Context) error {
	for _, coll := range Collections {
		schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at INTEGER NOT NULL DEFAULT (strftime('%%s', 'now'))
		)`, tables[coll])
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			return failure(err, "init", coll, "")
		}
	}
	return nil
}

// Put upserts value under key.
func (s *SQLite) Put(ctx context.Context, coll Collection, key string, value []byte) error {
	if err := checkCollection(coll); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}

	ctx, cancel := context.WithTimeout(ctx, sqliteTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = strftime('%%s', 'now')
	`, tables[coll])
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return failure(err, "put", coll, key)
	}
	return nil
}

// Get returns the value stored under key.
func (s *SQLite) Get(ctx context.Context, coll Collection, key string) ([]byte, error) {
	if err := checkCollection(coll); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, sqliteTimeout)
	defer cancel()

	var value []byte
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = ?", tables[coll])
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(coll, key)
	}
	if err != nil {
		return nil, failure(err, "get", coll, key)
	}
	return value, nil
}

// GetAll returns every entry of the collection ordered by key.
func (s *SQLite) GetAll(ctx context.Context, coll Collection) ([]Entry, error) {
	if err := checkCollection(coll); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, sqliteTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT key, value FROM %s ORDER BY key", tables[coll])
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, failure(err, "get_all", coll, "")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, failure(err, "get_all", coll, "")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, failure(err, "get_all", coll, "")
	}
	return entries, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return failure(err, "close", "", "")
	}
	return nil
}
