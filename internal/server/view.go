package server

import (
	"github.com/bryan-buckman/movierec/internal/model"
	"github.com/bryan-buckman/movierec/internal/poster"
	"github.com/bryan-buckman/movierec/internal/session"
)

// cardView is one movie as the page and the JSON API show it.
type cardView struct {
	ID           int     `json:"id"`
	Title        string  `json:"title"`
	Heading      string  `json:"heading"`
	Year         int     `json:"year,omitempty"`
	PosterURL    string  `json:"poster_url,omitempty"`
	PosterLoaded bool    `json:"poster_loaded"`
	Genres       string  `json:"genres,omitempty"`
	Cast         string  `json:"cast,omitempty"`
	Directors    string  `json:"directors,omitempty"`
	Rating       string  `json:"rating,omitempty"`
	Runtime      string  `json:"runtime,omitempty"`
	Overview     string  `json:"overview,omitempty"`
	VoteAverage  float64 `json:"vote_average"`
}

type stateView struct {
	Version         uint64          `json:"version"`
	Query           string          `json:"query"`
	Searching       bool            `json:"searching"`
	Candidates      []cardView      `json:"candidates"`
	Favourites      []cardView      `json:"favourites"`
	Years           model.YearRange `json:"years"`
	MinYear         int             `json:"min_year"`
	MaxYear         int             `json:"max_year"`
	Recommending    bool            `json:"recommending"`
	Recommendations []cardView      `json:"recommendations"`
	CanSelect       bool            `json:"can_select"`
	SelectHint      string          `json:"select_hint,omitempty"`
	CanRecommend    bool            `json:"can_recommend"`
}

func (s *Server) view(up session.Update) stateView {
	st := up.State
	v := stateView{
		Version:         up.Version,
		Query:           st.Query,
		Searching:       st.Searching,
		Candidates:      s.cards(st, session.ListCandidates, true),
		Favourites:      s.cards(st, session.ListFavourites, false),
		Years:           st.Years,
		MinYear:         model.MinYear,
		MaxYear:         model.MaxYear,
		Recommending:    st.Recommending,
		Recommendations: s.cards(st, session.ListRecommendations, false),
		CanSelect:       st.CanSelect(),
		CanRecommend:    st.Favourites.Len() > 0 && !st.Recommending,
	}
	if !v.CanSelect {
		v.SelectHint = session.SelectDisabledHint
	}
	return v
}

func (s *Server) cards(st session.State, list session.List, preview bool) []cardView {
	movies := st.Movies(list)
	cards := make([]cardView, 0, len(movies))
	for _, m := range movies {
		c := cardView{
			ID:           m.ID,
			Title:        m.Title,
			Heading:      m.Heading(),
			Year:         m.Year(),
			PosterURL:    poster.URL(s.posterBase, m.Poster),
			PosterLoaded: st.Poster(list, m.ID) == session.PosterLoaded,
			Genres:       m.GenreList(),
			Cast:         m.CastList(),
			Directors:    m.DirectorList(),
			Rating:       m.Rating(),
			Runtime:      m.RuntimeLabel(),
			Overview:     m.Overview,
			VoteAverage:  m.VoteAverage,
		}
		if preview {
			c.Overview = m.OverviewPreview()
		}
		cards = append(cards, c)
	}
	return cards
}
