// Package session implements the per-user workflow: searching, building the
// favourites seed set, requesting recommendations and tracking poster loads.
//
// State is a plain value. Reduce applies one Event and returns the next State
// plus an Outcome describing any request to issue and any notice to show.
// Store serializes events for one session, runs the issued requests and
// publishes every new state to its subscribers.
package session

import (
	"errors"
	"maps"
	"slices"

	"github.com/bryan-buckman/movierec/internal/model"
)

var (
	// ErrNoFavourites is the validation error for a recommendation request
	// made with an empty favourites list.
	ErrNoFavourites         = errors.New("no favourites chosen")
	ErrSearchFailed         = errors.New("search failed")
	ErrRecommendationFailed = errors.New("recommendation failed")
	ErrUnknownCandidate     = errors.New("movie is not among the current candidates")
	ErrInvalidYearRange     = errors.New("invalid year range")
	ErrClosed               = errors.New("session closed")
)

// List names a displayed movie list.
type List string

const (
	ListCandidates      List = "candidates"
	ListFavourites      List = "favourites"
	ListRecommendations List = "recommendations"
)

// ParseList validates a list name from the presentation layer.
func ParseList(s string) (List, bool) {
	switch l := List(s); l {
	case ListCandidates, ListFavourites, ListRecommendations:
		return l, true
	}
	return "", false
}

// PosterKey identifies one displayed poster. A movie shown in two lists has two keys.
type PosterKey struct {
	List    List
	MovieID int
}

// PosterState is the load state of one displayed poster.
type PosterState uint8

const (
	PosterLoading PosterState = iota
	PosterLoaded
)

func (p PosterState) String() string {
	if p == PosterLoaded {
		return "loaded"
	}
	return "loading"
}

// NoticeKind classifies user-visible notifications.
type NoticeKind string

const (
	NoticeValidation      NoticeKind = "validation"
	NoticeSearchFailed    NoticeKind = "search_failed"
	NoticeRecommendFailed NoticeKind = "recommend_failed"
)

// Notice is a user-visible notification. It is published alongside a state
// but is not part of it.
type Notice struct {
	Kind        NoticeKind `json:"kind"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
}

// NoFavouritesNotice accompanies ErrNoFavourites.
var NoFavouritesNotice = Notice{
	Kind:        NoticeValidation,
	Title:       "No favourites chosen!",
	Description: "You must favourite at least one movie in order to receive recommendations.",
}

// SelectDisabledHint explains why selection is disabled at capacity.
const SelectDisabledHint = "Only 5 movies can be favourited"

// State is the whole session. Values are never modified after Reduce returns them.
type State struct {
	Query      string
	Searching  bool
	Candidates []model.Movie

	Favourites Favourites
	Years      model.YearRange

	Recommending    bool
	Recommendations []model.Movie

	Posters map[PosterKey]PosterState

	// SearchSeq is the latest issued search; SearchDone the latest settled one.
	SearchSeq  uint64
	SearchDone uint64
	// RecommendSeq and RecommendDone track recommendation requests the same way.
	RecommendSeq  uint64
	RecommendDone uint64
}

// NewState returns an idle session with the default year range.
func NewState() State {
	return State{
		Years:   model.DefaultYearRange(),
		Posters: map[PosterKey]PosterState{},
	}
}

// CanSelect reports whether the presentation should enable candidate selection.
func (s State) CanSelect() bool {
	return !s.Favourites.Full()
}

// Poster returns the load state of a displayed poster. Posters that are not
// displayed report loading.
func (s State) Poster(list List, id int) PosterState {
	return s.Posters[PosterKey{List: list, MovieID: id}]
}

// Movies returns the movies displayed in list.
func (s State) Movies(list List) []model.Movie {
	switch list {
	case ListCandidates:
		return s.Candidates
	case ListFavourites:
		return s.Favourites.movies
	case ListRecommendations:
		return s.Recommendations
	}
	return nil
}

// withPosters returns s with the entries of list rebuilt for movies. Movies
// still displayed keep their state; new arrivals start loading, except those
// with no poster reference, which have nothing to load.
func (s State) withPosters(list List, movies []model.Movie) State {
	next := make(map[PosterKey]PosterState, len(s.Posters)+len(movies))
	for k, v := range s.Posters {
		if k.List != list {
			next[k] = v
		}
	}
	for _, m := range movies {
		key := PosterKey{List: list, MovieID: m.ID}
		if st, ok := s.Posters[key]; ok {
			next[key] = st
			continue
		}
		if m.Poster == "" {
			next[key] = PosterLoaded
		} else {
			next[key] = PosterLoading
		}
	}
	s.Posters = next
	return s
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s State) Clone() State {
	s.Candidates = slices.Clone(s.Candidates)
	s.Recommendations = slices.Clone(s.Recommendations)
	s.Favourites = Favourites{movies: slices.Clone(s.Favourites.movies)}
	s.Posters = maps.Clone(s.Posters)
	return s
}
