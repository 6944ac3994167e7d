package session

import (
	"fmt"
	"maps"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/bryan-buckman/movierec/internal/model"
)

var validate = validator.New()

// Event is a user action or a settled request.
type Event interface {
	Name() string
}

// QueryChanged sets the search text. Empty text clears the candidates.
type QueryChanged struct{ Text string }

// SearchResolved delivers the results of search Seq.
type SearchResolved struct {
	Seq    uint64
	Movies []model.Movie
}

// SearchFailed reports that search Seq could not complete.
type SearchFailed struct {
	Seq uint64
	Err error
}

// CandidateSelected moves a candidate into the favourites.
type CandidateSelected struct{ MovieID int }

// FavouriteRemoved drops a favourite.
type FavouriteRemoved struct{ MovieID int }

// YearRangeChanged replaces the year range used by later recommendation requests.
type YearRangeChanged struct{ Range model.YearRange }

// RecommendRequested asks for recommendations seeded by the current favourites.
type RecommendRequested struct{}

// RecommendResolved delivers the results of recommendation request Seq.
type RecommendResolved struct {
	Seq    uint64
	Movies []model.Movie
}

// RecommendFailed reports that recommendation request Seq could not complete.
type RecommendFailed struct {
	Seq uint64
	Err error
}

// PosterLoaded confirms that a displayed poster finished loading.
type PosterLoaded struct {
	List    List
	MovieID int
}

func (QueryChanged) Name() string       { return "query_changed" }
func (SearchResolved) Name() string     { return "search_resolved" }
func (SearchFailed) Name() string       { return "search_failed" }
func (CandidateSelected) Name() string  { return "candidate_selected" }
func (FavouriteRemoved) Name() string   { return "favourite_removed" }
func (YearRangeChanged) Name() string   { return "year_range_changed" }
func (RecommendRequested) Name() string { return "recommend_requested" }
func (RecommendResolved) Name() string  { return "recommend_resolved" }
func (RecommendFailed) Name() string    { return "recommend_failed" }
func (PosterLoaded) Name() string       { return "poster_loaded" }

// Command is a request Reduce asks the caller to issue.
type Command interface {
	command()
}

// SearchCommand asks for a title search.
type SearchCommand struct {
	Seq   uint64
	Query string
}

// RecommendCommand asks for recommendations.
type RecommendCommand struct {
	Seq     uint64
	Request model.RecommendRequest
}

func (SearchCommand) command()    {}
func (RecommendCommand) command() {}

// Outcome is everything Reduce produces besides the next state.
type Outcome struct {
	Command Command // request to issue, nil if none
	Notice  *Notice // notification to show, nil if none
	Err     error   // returned to whoever raised the event
	Stale   bool    // the event settled a superseded or already settled request
	Changed bool    // the returned state differs from the input
}

// Reduce applies ev to s. It never modifies s.
func Reduce(s State, ev Event) (State, Outcome) {
	switch ev := ev.(type) {
	case QueryChanged:
		return reduceQuery(s, ev)
	case SearchResolved:
		if isStale(ev.Seq, s.SearchSeq, s.SearchDone) {
			return s, Outcome{Stale: true}
		}
		s.Candidates = slices.Clone(ev.Movies)
		s.Searching = false
		s.SearchDone = ev.Seq
		return s.withPosters(ListCandidates, s.Candidates), Outcome{Changed: true}
	case SearchFailed:
		if isStale(ev.Seq, s.SearchSeq, s.SearchDone) {
			return s, Outcome{Stale: true}
		}
		s.Searching = false
		s.SearchDone = ev.Seq
		return s, Outcome{Changed: true, Notice: &Notice{
			Kind:        NoticeSearchFailed,
			Title:       "Search failed",
			Description: describe(ev.Err),
		}}
	case CandidateSelected:
		return reduceSelect(s, ev)
	case FavouriteRemoved:
		favs, removed := s.Favourites.Remove(ev.MovieID)
		if !removed {
			return s, Outcome{}
		}
		s.Favourites = favs
		return s.withPosters(ListFavourites, favs.movies), Outcome{Changed: true}
	case YearRangeChanged:
		if err := validate.Struct(ev.Range); err != nil {
			return s, Outcome{Err: fmt.Errorf("%w: %v", ErrInvalidYearRange, err)}
		}
		if s.Years == ev.Range {
			return s, Outcome{}
		}
		s.Years = ev.Range
		return s, Outcome{Changed: true}
	case RecommendRequested:
		if s.Favourites.Len() == 0 {
			notice := NoFavouritesNotice
			return s, Outcome{Err: ErrNoFavourites, Notice: &notice}
		}
		s.RecommendSeq++
		s.Recommending = true
		return s, Outcome{Changed: true, Command: RecommendCommand{
			Seq:     s.RecommendSeq,
			Request: model.NewRecommendRequest(s.Favourites.movies, s.Years),
		}}
	case RecommendResolved:
		if isStale(ev.Seq, s.RecommendSeq, s.RecommendDone) {
			return s, Outcome{Stale: true}
		}
		s.Recommendations = slices.Clone(ev.Movies)
		s.Recommending = false
		s.RecommendDone = ev.Seq
		return s.withPosters(ListRecommendations, s.Recommendations), Outcome{Changed: true}
	case RecommendFailed:
		if isStale(ev.Seq, s.RecommendSeq, s.RecommendDone) {
			return s, Outcome{Stale: true}
		}
		s.Recommending = false
		s.RecommendDone = ev.Seq
		return s, Outcome{Changed: true, Notice: &Notice{
			Kind:        NoticeRecommendFailed,
			Title:       "Recommendation failed",
			Description: describe(ev.Err),
		}}
	case PosterLoaded:
		key := PosterKey{List: ev.List, MovieID: ev.MovieID}
		if st, ok := s.Posters[key]; !ok || st == PosterLoaded {
			return s, Outcome{}
		}
		posters := maps.Clone(s.Posters)
		posters[key] = PosterLoaded
		s.Posters = posters
		return s, Outcome{Changed: true}
	}
	return s, Outcome{Err: fmt.Errorf("unknown event %T", ev)}
}

func reduceQuery(s State, ev QueryChanged) (State, Outcome) {
	// Every query change supersedes the search in flight.
	s.SearchSeq++
	if ev.Text == "" {
		s.Query = ""
		s.Searching = false
		s.Candidates = nil
		s.SearchDone = s.SearchSeq
		return s.withPosters(ListCandidates, nil), Outcome{Changed: true}
	}
	s.Query = ev.Text
	s.Searching = true
	return s, Outcome{Changed: true, Command: SearchCommand{Seq: s.SearchSeq, Query: ev.Text}}
}

func reduceSelect(s State, ev CandidateSelected) (State, Outcome) {
	lookup := lookupIn(s.Candidates)
	if _, ok := lookup(ev.MovieID); !ok {
		return s, Outcome{Err: fmt.Errorf("%w: %d", ErrUnknownCandidate, ev.MovieID)}
	}
	if favs, added := s.Favourites.Add(ev.MovieID, lookup); added {
		s.Favourites = favs
		s = s.withPosters(ListFavourites, favs.movies)
	}
	s, _ = reduceQuery(s, QueryChanged{})
	return s, Outcome{Changed: true}
}

// isStale reports whether a settled request must be ignored: either a newer
// request was issued after it, or it has already been applied.
func isStale(seq, latest, done uint64) bool {
	return seq != latest || done == seq
}

func describe(err error) string {
	if err == nil {
		return "Please try again."
	}
	return err.Error()
}
