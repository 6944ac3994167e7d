package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bryan-buckman/movierec/internal/logging"
	"github.com/bryan-buckman/movierec/internal/metrics"
	"github.com/bryan-buckman/movierec/internal/session"
)

// Registry holds one session per browser and closes those left idle.
type Registry struct {
	backend session.Backend
	idle    time.Duration
	now     func() time.Time
	log     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	store    *session.Store
	lastSeen time.Time
}

// NewRegistry creates an empty registry. Sessions unused for idle are reaped.
func NewRegistry(backend session.Backend, idle time.Duration) *Registry {
	return &Registry{
		backend:  backend,
		idle:     idle,
		now:      time.Now,
		log:      logging.WithComponent("sessions"),
		sessions: make(map[string]*entry),
	}
}

// Create starts a new session and returns its ID.
func (r *Registry) Create() (string, *session.Store) {
	id := uuid.NewString()
	st := session.NewStore(r.backend,
		session.WithLogger(logging.WithComponent("session").With().Str(logging.FieldSessionID, id).Logger()))

	r.mu.Lock()
	r.sessions[id] = &entry{store: st, lastSeen: r.now()}
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	r.log.Debug().Str(logging.FieldSessionID, id).Msg("session created")
	return id, st
}

// Get returns the session for id and marks it as used.
func (r *Registry) Get(id string) (*session.Store, bool) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.store, true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Reap closes sessions idle for longer than the idle timeout.
func (r *Registry) Reap() int {
	cutoff := r.now().Add(-r.idle)
	var expired []*session.Store

	r.mu.Lock()
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, e.store)
			delete(r.sessions, id)
			r.log.Debug().Str(logging.FieldSessionID, id).Msg("session expired")
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, st := range expired {
		st.Close()
	}
	metrics.ActiveSessions.Set(float64(n))
	return len(expired)
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range all {
		e.store.Close()
	}
	metrics.ActiveSessions.Set(0)
}

// Serve reaps idle sessions until ctx is cancelled, then closes the rest.
func (r *Registry) Serve(ctx context.Context) error {
	interval := max(r.idle/2, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer r.CloseAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := r.Reap(); n > 0 {
				r.log.Info().Int("reaped", n).Int("active", r.Len()).Msg("reaped idle sessions")
			}
		}
	}
}

func (r *Registry) String() string { return "session-registry" }
