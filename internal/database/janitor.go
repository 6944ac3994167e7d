package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryan-buckman/movierec/internal/logging"
)

// MinPurgeInterval is the minimum allowed interval between purges.
const MinPurgeInterval = time.Second

// Janitor periodically deletes expired cache entries. It runs as a
// supervised service.
type Janitor struct {
	db       Store
	interval time.Duration
	log      zerolog.Logger
}

// NewJanitor creates a janitor that purges db every interval.
func NewJanitor(db Store, interval time.Duration) *Janitor {
	if interval < MinPurgeInterval {
		interval = MinPurgeInterval
	}
	return &Janitor{
		db:       db,
		interval: interval,
		log:      logging.WithComponent("cache-janitor"),
	}
}

// Serve purges until ctx is cancelled.
func (j *Janitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.purge(ctx)
		}
	}
}

func (j *Janitor) purge(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	n, err := j.db.PurgeSearches(ctx)
	if err != nil {
		j.log.Warn().Err(err).Msg("purge failed")
		return
	}
	if n > 0 {
		j.log.Debug().Int64("removed", n).Str("db", j.db.DatabaseType()).Msg("purged expired searches")
	}
}

func (j *Janitor) String() string { return "cache-janitor" }
