package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bryan-buckman/movierec/internal/logging"
	"github.com/bryan-buckman/movierec/internal/metrics"
	"github.com/bryan-buckman/movierec/internal/model"
)

// Backend is the pair of external collaborators a session calls.
type Backend interface {
	Search(ctx context.Context, query string) ([]model.Movie, error)
	Recommend(ctx context.Context, req model.RecommendRequest) ([]model.Movie, error)
}

// Update is what subscribers receive after every state change.
type Update struct {
	Version uint64
	State   State
	Notice  *Notice
}

// DefaultSubscriptionBuffer is used when Subscribe is given a non-positive size.
const DefaultSubscriptionBuffer = 16

// Subscription delivers updates in the order they were applied. When the
// buffer is full the oldest queued update is dropped, so the latest state
// always arrives. Each update carries the full state.
type Subscription struct {
	C     <-chan Update
	ch    chan Update
	store *Store
}

// Close stops delivery and closes C.
func (sub *Subscription) Close() {
	sub.store.unsubscribe(sub)
}

// Store owns one session. All events are applied one at a time; requests
// issued by the reducer run in their own goroutines and report back as events.
type Store struct {
	backend Backend
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	state   State
	version uint64
	subs    map[*Subscription]struct{}
	closed  bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default is the "session" component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithState starts the store from st instead of NewState.
func WithState(st State) Option {
	return func(s *Store) { s.state = st }
}

// NewStore creates an idle session backed by backend.
func NewStore(backend Backend, opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		backend: backend,
		log:     logging.WithComponent("session"),
		ctx:     ctx,
		cancel:  cancel,
		state:   NewState(),
		subs:    make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- Operations ---

// SetQuery updates the search text and issues a search unless it is empty.
func (s *Store) SetQuery(text string) {
	_ = s.Dispatch(QueryChanged{Text: text})
}

// SelectCandidate moves a candidate into the favourites and clears the search.
func (s *Store) SelectCandidate(movieID int) error {
	return s.Dispatch(CandidateSelected{MovieID: movieID})
}

// RemoveFavourite drops a favourite. Unknown IDs are ignored.
func (s *Store) RemoveFavourite(movieID int) {
	_ = s.Dispatch(FavouriteRemoved{MovieID: movieID})
}

// SetYearRange sets the range used by the next recommendation request.
func (s *Store) SetYearRange(minYear, maxYear int) error {
	return s.Dispatch(YearRangeChanged{Range: model.YearRange{Min: minYear, Max: maxYear}})
}

// RequestRecommendations issues a recommendation request. It returns
// ErrNoFavourites without any network call when no favourites are chosen.
func (s *Store) RequestRecommendations() error {
	return s.Dispatch(RecommendRequested{})
}

// PosterLoaded records that a displayed poster finished loading.
func (s *Store) PosterLoaded(list List, movieID int) {
	_ = s.Dispatch(PosterLoaded{List: list, MovieID: movieID})
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Version returns the number of state changes applied so far.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Snapshot returns the current state together with its version.
func (s *Store) Snapshot() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Update{Version: s.version, State: s.state.Clone()}
}

// --- Event loop ---

// Dispatch applies ev, publishes the result and starts any issued request.
func (s *Store) Dispatch(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	metrics.SessionEvents.WithLabelValues(ev.Name()).Inc()
	next, out := Reduce(s.state, ev)

	if out.Stale {
		kind := "search"
		if _, ok := ev.(RecommendResolved); ok {
			kind = "recommend"
		} else if _, ok := ev.(RecommendFailed); ok {
			kind = "recommend"
		}
		metrics.StaleResponses.WithLabelValues(kind).Inc()
		s.log.Debug().Str(logging.FieldEvent, ev.Name()).Msg("discarded stale response")
		return nil
	}
	if out.Err != nil {
		s.log.Debug().Err(out.Err).Str(logging.FieldEvent, ev.Name()).Msg("event rejected")
	}

	if out.Changed {
		s.state = next
		s.version++
	}
	if out.Changed || out.Notice != nil {
		s.publish(Update{Version: s.version, State: s.state.Clone(), Notice: out.Notice})
	}
	if out.Command != nil {
		s.run(out.Command)
	}
	return out.Err
}

// run executes cmd asynchronously. Must be called with s.mu held.
func (s *Store) run(cmd Command) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		switch c := cmd.(type) {
		case SearchCommand:
			s.log.Debug().Str(logging.FieldQuery, c.Query).Uint64(logging.FieldSeq, c.Seq).Msg("searching")
			movies, err := s.backend.Search(s.ctx, c.Query)
			if err != nil {
				s.log.Warn().Err(err).Str(logging.FieldQuery, c.Query).Msg("search failed")
				_ = s.Dispatch(SearchFailed{Seq: c.Seq, Err: fmt.Errorf("%w: %w", ErrSearchFailed, err)})
				return
			}
			_ = s.Dispatch(SearchResolved{Seq: c.Seq, Movies: movies})
		case RecommendCommand:
			s.log.Debug().Str("request", c.Request.Key()).Uint64(logging.FieldSeq, c.Seq).Msg("requesting recommendations")
			movies, err := s.backend.Recommend(s.ctx, c.Request)
			if err != nil {
				s.log.Warn().Err(err).Str("request", c.Request.Key()).Msg("recommendation failed")
				_ = s.Dispatch(RecommendFailed{Seq: c.Seq, Err: fmt.Errorf("%w: %w", ErrRecommendationFailed, err)})
				return
			}
			_ = s.Dispatch(RecommendResolved{Seq: c.Seq, Movies: movies})
		}
	}()
}

// --- Subscribers ---

// Subscribe registers a subscriber. The current state is delivered first.
func (s *Store) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	ch := make(chan Update, buffer)
	sub := &Subscription{C: ch, ch: ch, store: s}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return sub
	}
	s.subs[sub] = struct{}{}
	ch <- Update{Version: s.version, State: s.state.Clone()}
	return sub
}

func (s *Store) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		close(sub.ch)
	}
}

// publish must be called with s.mu held. Sends never block: a full buffer
// gives up its oldest update to make room.
func (s *Store) publish(up Update) {
	for sub := range s.subs {
		sub.deliver(up)
	}
}

// deliver sends up, evicting the oldest queued update when the buffer is
// full. An evicted notice rides along with up unless up has its own. Only
// the publisher sends, so the second attempt always has room.
func (sub *Subscription) deliver(up Update) {
	select {
	case sub.ch <- up:
		return
	default:
	}
	select {
	case old := <-sub.ch:
		metrics.DroppedUpdates.Inc()
		if up.Notice == nil {
			up.Notice = old.Notice
		}
	default:
	}
	sub.ch <- up
}

// Close cancels requests in flight, waits for them and closes all subscriptions.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		delete(s.subs, sub)
		close(sub.ch)
	}
}
