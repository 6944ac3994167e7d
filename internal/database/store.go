// Package database provides storage backends for the search response cache.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/bryan-buckman/movierec/internal/model"
)

// Store defines the interface for cache operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// GetSearch returns the cached results for query if they are younger than the TTL.
	GetSearch(ctx context.Context, query string) ([]model.Movie, bool, error)
	// PutSearch stores results for query, replacing any previous entry.
	PutSearch(ctx context.Context, query string, movies []model.Movie) error
	// PurgeSearches deletes entries older than the TTL and returns how many were removed.
	PurgeSearches(ctx context.Context) (int64, error)
}

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open returns the store for driver.
func Open(driver, dsn string, ttl time.Duration) (Store, error) {
	switch driver {
	case DriverSQLite:
		return New(dsn, ttl)
	case DriverPostgres:
		return NewPostgres(dsn, ttl)
	}
	return nil, fmt.Errorf("unknown cache driver %q", driver)
}

// clock is replaced in tests.
type clock func() time.Time

func encodeMovies(movies []model.Movie) (string, error) {
	if movies == nil {
		movies = []model.Movie{}
	}
	data, err := json.Marshal(movies)
	if err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}
	return string(data), nil
}

func decodeMovies(data string) ([]model.Movie, error) {
	var movies []model.Movie
	if err := json.Unmarshal([]byte(data), &movies); err != nil {
		return nil, fmt.Errorf("decode cached results: %w", err)
	}
	return movies, nil
}
