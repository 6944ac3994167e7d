// Package model defines shared data structures.
package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Movie is a single title as delivered by the search and recommendation services.
// Text fields that arrive missing or null decode as empty strings.
type Movie struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	ReleaseDate string  `json:"release_date"`
	Poster      string  `json:"poster"`
	Overview    string  `json:"overview"`
	Genres      string  `json:"genres"`    // comma-joined
	Cast        string  `json:"cast"`      // comma-joined
	Directors   string  `json:"directors"` // comma-joined
	VoteAverage float64 `json:"vote_average"`
	Runtime     int     `json:"runtime"`
}

// Year bounds offered by the presentation surface. The session itself only
// requires Min <= Max.
const (
	MinYear = 1900
	MaxYear = 2017
)

// YearRange is the inclusive release-year window sent with a recommendation request.
// It encodes as a two-element JSON array.
type YearRange struct {
	Min int `validate:"gte=0"`
	Max int `validate:"gtefield=Min"`
}

// DefaultYearRange returns the full range offered to users.
func DefaultYearRange() YearRange {
	return YearRange{Min: MinYear, Max: MaxYear}
}

// Clamp bounds both ends to the years the presentation surface offers.
func (y YearRange) Clamp() YearRange {
	clamp := func(v int) int {
		return min(max(v, MinYear), MaxYear)
	}
	out := YearRange{Min: clamp(y.Min), Max: clamp(y.Max)}
	if out.Min > out.Max {
		out.Min, out.Max = out.Max, out.Min
	}
	return out
}

// String renders the range as "min–max".
func (y YearRange) String() string {
	return fmt.Sprintf("%d–%d", y.Min, y.Max)
}

// MarshalJSON encodes the range as [min, max].
func (y YearRange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{y.Min, y.Max})
}

// UnmarshalJSON decodes a [min, max] pair.
func (y *YearRange) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode year range: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("decode year range: want 2 values, got %d", len(pair))
	}
	y.Min, y.Max = pair[0], pair[1]
	return nil
}

// RecommendRequest is the body of a recommendation call, built from the
// favourites and the year range at the moment the request is issued.
type RecommendRequest struct {
	Favourites []int     `json:"favourites"`
	Years      YearRange `json:"years"`
}

// NewRecommendRequest copies the favourite IDs in order.
func NewRecommendRequest(favourites []Movie, years YearRange) RecommendRequest {
	ids := make([]int, 0, len(favourites))
	for _, m := range favourites {
		ids = append(ids, m.ID)
	}
	return RecommendRequest{Favourites: ids, Years: years}
}

// Key renders the request for log lines.
func (r RecommendRequest) Key() string {
	ids := make([]string, len(r.Favourites))
	for i, id := range r.Favourites {
		ids[i] = strconv.Itoa(id)
	}
	return strings.Join(ids, ",") + "@" + r.Years.String()
}
