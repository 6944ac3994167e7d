package session

import (
	"slices"

	"github.com/goccy/go-json"

	"github.com/bryan-buckman/movierec/internal/model"
)

// Capacity is the maximum number of favourites a session holds.
const Capacity = 5

// Favourites is an ordered set of movies, unique by ID, holding at most Capacity entries.
// The zero value is empty. Methods never modify the receiver.
type Favourites struct {
	movies []model.Movie
}

// Len returns the number of favourites.
func (f Favourites) Len() int { return len(f.movies) }

// Full reports whether another favourite would exceed Capacity.
func (f Favourites) Full() bool { return len(f.movies) >= Capacity }

// Contains reports whether id is a favourite.
func (f Favourites) Contains(id int) bool {
	return f.index(id) >= 0
}

// Movies returns the favourites in insertion order.
func (f Favourites) Movies() []model.Movie {
	return slices.Clone(f.movies)
}

// IDs returns the favourite IDs in insertion order.
func (f Favourites) IDs() []int {
	ids := make([]int, len(f.movies))
	for i, m := range f.movies {
		ids[i] = m.ID
	}
	return ids
}

// Add appends the movie that lookup resolves for id. It is a no-op when id is
// already present, the set is full, or lookup cannot resolve id.
func (f Favourites) Add(id int, lookup func(int) (model.Movie, bool)) (Favourites, bool) {
	if f.Contains(id) || f.Full() {
		return f, false
	}
	m, ok := lookup(id)
	if !ok {
		return f, false
	}
	next := make([]model.Movie, len(f.movies), len(f.movies)+1)
	copy(next, f.movies)
	return Favourites{movies: append(next, m)}, true
}

// Remove drops id if present.
func (f Favourites) Remove(id int) (Favourites, bool) {
	i := f.index(id)
	if i < 0 {
		return f, false
	}
	return Favourites{movies: slices.Delete(slices.Clone(f.movies), i, i+1)}, true
}

// MarshalJSON encodes the favourites as an array of movies.
func (f Favourites) MarshalJSON() ([]byte, error) {
	if f.movies == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(f.movies)
}

func (f Favourites) index(id int) int {
	return slices.IndexFunc(f.movies, func(m model.Movie) bool { return m.ID == id })
}

// lookupIn resolves an ID among movies.
func lookupIn(movies []model.Movie) func(int) (model.Movie, bool) {
	return func(id int) (model.Movie, bool) {
		for _, m := range movies {
			if m.ID == id {
				return m, true
			}
		}
		return model.Movie{}, false
	}
}
