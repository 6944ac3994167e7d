package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bryan-buckman/movierec/internal/model"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	ttl  time.Duration
	now  clock
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path or DSN.
func New(path string, ttl time.Duration) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Enable WAL mode for better concurrency. In-memory databases ignore it.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	db := &DB{conn: conn, ttl: ttl, now: time.Now}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS searches (
		query TEXT PRIMARY KEY,
		results TEXT NOT NULL,
		fetched_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS searches_fetched_at ON searches(fetched_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// GetSearch returns fresh cached results for query.
func (db *DB) GetSearch(ctx context.Context, query string) ([]model.Movie, bool, error) {
	var data string
	cutoff := db.now().Add(-db.ttl).UnixNano()
	err := db.conn.QueryRowContext(ctx,
		"SELECT results FROM searches WHERE query = ? AND fetched_at > ?", query, cutoff).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	movies, err := decodeMovies(data)
	if err != nil {
		return nil, false, err
	}
	return movies, true, nil
}

// PutSearch stores results for query.
func (db *DB) PutSearch(ctx context.Context, query string, movies []model.Movie) error {
	data, err := encodeMovies(movies)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO searches (query, results, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(query) DO UPDATE SET results = excluded.results, fetched_at = excluded.fetched_at`,
		query, data, db.now().UnixNano())
	return err
}

// PurgeSearches deletes expired entries.
func (db *DB) PurgeSearches(ctx context.Context) (int64, error) {
	cutoff := db.now().Add(-db.ttl).UnixNano()
	res, err := db.conn.ExecContext(ctx, "DELETE FROM searches WHERE fetched_at <= ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
