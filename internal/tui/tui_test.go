package tui

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bryan-buckman/movierec/internal/model"
	"github.com/bryan-buckman/movierec/internal/poster"
	"github.com/bryan-buckman/movierec/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var inception = model.Movie{
	ID: 27205, Title: "Inception", ReleaseDate: "2010-07-15", Poster: "/inception.jpg",
	Genres: "Action,Science Fiction", VoteAverage: 8.1, Runtime: 148,
}

type stubBackend struct {
	mu       sync.Mutex
	requests []model.RecommendRequest
}

func (*stubBackend) Search(_ context.Context, query string) ([]model.Movie, error) {
	if strings.HasPrefix("inception", strings.ToLower(query)) {
		return []model.Movie{inception}, nil
	}
	return []model.Movie{}, nil
}

func (b *stubBackend) Recommend(_ context.Context, req model.RecommendRequest) ([]model.Movie, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()
	return []model.Movie{{ID: 157336, Title: "Interstellar", ReleaseDate: "2014-11-05"}}, nil
}

type harness struct {
	t       *testing.T
	m       Model
	store   *session.Store
	backend *stubBackend
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	backend := &stubBackend{}
	store := session.NewStore(backend)
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		t:       t,
		m:       New(ctx, store, poster.NewLoader(images.URL, poster.Options{Delay: time.Millisecond})),
		store:   store,
		backend: backend,
	}
	t.Cleanup(func() {
		cancel()
		h.m.sub.Close()
		store.Close()
		images.CloseClientConnections()
		images.Close()
	})
	return h
}

func (h *harness) send(msg tea.Msg) tea.Cmd {
	h.t.Helper()
	next, cmd := h.m.Update(msg)
	h.m = next.(Model)
	return cmd
}

func (h *harness) typeText(s string) {
	h.send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

func (h *harness) press(k tea.KeyType) {
	h.send(tea.KeyMsg{Type: k})
}

// await feeds published updates to the model until cond holds.
func (h *harness) await(cond func(session.Update) bool) {
	h.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case up := <-h.m.sub.C:
			h.send(updateMsg(up))
			if cond(up) {
				return
			}
		case <-timeout:
			h.t.Fatal("timed out waiting for session update")
		}
	}
}

func TestTypingSearchesAndShowsCandidates(t *testing.T) {
	h := newHarness(t)

	h.typeText("incep")
	h.await(func(up session.Update) bool { return len(up.State.Candidates) == 1 })

	view := h.m.View()
	assert.Contains(t, view, "Inception (2010)")
	assert.Contains(t, view, "Action, Science Fiction · 148 mins · 8.1/10")
	assert.Contains(t, view, "No favourites yet.")
}

func TestEnterFavouritesCandidate(t *testing.T) {
	h := newHarness(t)
	h.typeText("incep")
	h.await(func(up session.Update) bool { return len(up.State.Candidates) == 1 })

	h.press(tea.KeyEnter) // into the results pane
	require.Equal(t, paneCandidates, h.m.focus)
	h.press(tea.KeyEnter)

	st := h.store.State()
	assert.Equal(t, 1, st.Favourites.Len())
	assert.Empty(t, st.Query)
	assert.Empty(t, h.m.input.Value())
	assert.Equal(t, paneQuery, h.m.focus)

	h.await(func(up session.Update) bool { return up.State.Favourites.Len() == 1 })
	assert.Contains(t, h.m.View(), "Favourites 1/5")
}

func TestRemoveFavourite(t *testing.T) {
	h := newHarness(t)
	h.typeText("incep")
	h.await(func(up session.Update) bool { return len(up.State.Candidates) == 1 })
	h.press(tea.KeyEnter)
	h.press(tea.KeyEnter)
	h.await(func(up session.Update) bool { return up.State.Favourites.Len() == 1 })

	h.press(tea.KeyTab)
	h.press(tea.KeyTab)
	require.Equal(t, paneFavourites, h.m.focus)
	h.typeText("x")

	assert.Zero(t, h.store.State().Favourites.Len())
}

func TestRemoveKeyTypesIntoQuery(t *testing.T) {
	h := newHarness(t)

	h.typeText("x")

	assert.Equal(t, "x", h.m.input.Value())
	assert.Equal(t, "x", h.store.State().Query)
}

func TestRecommendWithoutFavouritesShowsNotice(t *testing.T) {
	h := newHarness(t)

	h.press(tea.KeyCtrlR)
	h.await(func(up session.Update) bool { return up.Notice != nil })

	assert.Contains(t, h.m.View(), "No favourites chosen!")
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	assert.Empty(t, h.backend.requests)
}

func TestYearEditing(t *testing.T) {
	h := newHarness(t)
	for h.m.focus != paneYears {
		h.press(tea.KeyTab)
	}

	h.press(tea.KeyDown) // max bound untouched, min cannot go below 1900
	assert.Equal(t, model.DefaultYearRange(), h.store.State().Years)

	h.press(tea.KeyUp)
	h.press(tea.KeyUp)
	h.press(tea.KeyRight)
	h.press(tea.KeyDown)

	assert.Equal(t, model.YearRange{Min: 1902, Max: 2016}, h.store.State().Years)
}

func TestRecommendShowsResults(t *testing.T) {
	h := newHarness(t)
	h.typeText("incep")
	h.await(func(up session.Update) bool { return len(up.State.Candidates) == 1 })
	h.press(tea.KeyEnter)
	h.press(tea.KeyEnter)

	h.press(tea.KeyCtrlR)
	h.await(func(up session.Update) bool { return len(up.State.Recommendations) == 1 })

	assert.Contains(t, h.m.View(), "Interstellar (2014)")
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	require.Len(t, h.backend.requests, 1)
	assert.Equal(t, []int{27205}, h.backend.requests[0].Favourites)
}

func TestPostersAreLoadedOnce(t *testing.T) {
	h := newHarness(t)
	h.typeText("incep")
	h.await(func(up session.Update) bool { return len(up.State.Candidates) == 1 })

	key := session.PosterKey{List: session.ListCandidates, MovieID: inception.ID}
	require.True(t, h.m.requested[key])
	assert.Nil(t, h.m.loadPosters(), "already requested")

	// Run the load directly rather than through the program loop.
	delete(h.m.requested, key)
	runCmd(h.m.loadPosters())
	assert.Equal(t, session.PosterLoaded, h.store.State().Poster(session.ListCandidates, inception.ID))
}

func TestQuitKey(t *testing.T) {
	h := newHarness(t)
	cmd := h.send(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func runCmd(cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	if batch, ok := cmd().(tea.BatchMsg); ok {
		for _, c := range batch {
			runCmd(c)
		}
	}
}
