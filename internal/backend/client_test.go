package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/movierec/internal/model"
)

const inceptionJSON = `[{"id":27205,"title":"Inception","release_date":"2010-07-15",
"poster":"/9gk7adHYeDvHkCSEqAvQNLV5Uge.jpg","overview":null,"genres":"Action,Science Fiction",
"cast":"Leonardo DiCaprio","directors":"Christopher Nolan","vote_average":8.1,"runtime":148}]`

func newTestClient(t *testing.T, h http.Handler, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	if opts.Rate == 0 {
		opts.Rate = 1000
		opts.Burst = 100
	}
	return NewClient(srv.URL+"/", opts)
}

func TestSearch_DecodesMovies(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, SearchPath, r.URL.Path)
		gotQuery = r.URL.Query().Get("q")
		_, _ = io.WriteString(w, inceptionJSON)
	}), Options{})

	movies, err := c.Search(context.Background(), "incep tion")
	require.NoError(t, err)

	assert.Equal(t, "incep tion", gotQuery)
	require.Len(t, movies, 1)
	assert.Equal(t, 27205, movies[0].ID)
	assert.Equal(t, "Inception", movies[0].Title)
	assert.Empty(t, movies[0].Overview, "null decodes as empty")
	assert.Equal(t, 148, movies[0].Runtime)
}

func TestSearch_EmptyQuerySkipsService(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}), Options{})

	movies, err := c.Search(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, movies)
	assert.Zero(t, calls.Load())
}

func TestSearch_BadStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `["Title cannot be empty"]`, http.StatusBadRequest)
	}), Options{})

	_, err := c.Search(context.Background(), "x")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadStatus)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusBadRequest, reqErr.Status)
	assert.Contains(t, reqErr.Body, "Title cannot be empty")
}

func TestSearch_MalformedBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"detail":"not a list"}`)
	}), Options{})

	_, err := c.Search(context.Background(), "x")
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestSearch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(srv.URL, Options{})

	_, err := c.Search(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSearch_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}), Options{Timeout: 50 * time.Millisecond})
	defer close(release)

	_, err := c.Search(context.Background(), "x")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRecommend_PostsRequest(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, RecommendPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = io.WriteString(w, `[{"id":157336,"title":"Interstellar"}]`)
	}), Options{})

	movies, err := c.Recommend(context.Background(), model.RecommendRequest{
		Favourites: []int{27205},
		Years:      model.YearRange{Min: 1990, Max: 2020},
	})
	require.NoError(t, err)

	assert.Equal(t, []any{float64(27205)}, body["favourites"])
	assert.Equal(t, []any{float64(1990), float64(2020)}, body["years"])
	require.Len(t, movies, 1)
	assert.Equal(t, "Interstellar", movies[0].Title)
}

func TestBreaker_OpensAfterServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}), Options{BreakerFailures: 2, BreakerTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := c.Search(context.Background(), "x")
		require.ErrorIs(t, err, ErrBadStatus)
	}

	_, err := c.Search(context.Background(), "x")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load(), "open breaker does not contact the service")
}

func TestBreaker_IgnoresClientErrors(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}), Options{BreakerFailures: 1, BreakerTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := c.Search(context.Background(), "x")
		assert.ErrorIs(t, err, ErrBadStatus)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
}

func TestSearch_CoalescesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = io.WriteString(w, inceptionJSON)
	}), Options{})

	var wg sync.WaitGroup
	results := make([][]model.Movie, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			movies, err := c.Search(context.Background(), "incep")
			assert.NoError(t, err)
			results[i] = movies
		}(i)
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, movies := range results {
		require.Len(t, movies, 1)
		assert.Equal(t, 27205, movies[0].ID)
	}
}

func TestSearch_SharedCallSurvivesCallerCancel(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = io.WriteString(w, inceptionJSON)
	}), Options{})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.Search(ctxA, "incep")
		errA <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		movies []model.Movie
		err    error
	}
	resB := make(chan result, 1)
	go func() {
		movies, err := c.Search(context.Background(), "incep")
		resB <- result{movies, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	require.Len(t, b.movies, 1)
	assert.Equal(t, 27205, b.movies[0].ID)
	assert.Equal(t, int32(1), calls.Load())
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]model.Movie
	err  error
}

func (m *memCache) GetSearch(_ context.Context, query string) ([]model.Movie, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	movies, ok := m.data[query]
	return movies, ok, nil
}

func (m *memCache) PutSearch(_ context.Context, query string, movies []model.Movie) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[query] = movies
	return nil
}

func TestSearch_UsesCache(t *testing.T) {
	var calls atomic.Int32
	cache := &memCache{data: map[string][]model.Movie{}}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, inceptionJSON)
	}), Options{Cache: cache})

	first, err := c.Search(context.Background(), "incep")
	require.NoError(t, err)
	second, err := c.Search(context.Background(), "incep")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearch_CacheErrorFallsThrough(t *testing.T) {
	cache := &memCache{data: map[string][]model.Movie{}, err: errors.New("disk full")}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, inceptionJSON)
	}), Options{Cache: cache})

	movies, err := c.Search(context.Background(), "incep")
	require.NoError(t, err)
	assert.Len(t, movies, 1)
}

func TestRequestError_Message(t *testing.T) {
	err := &RequestError{Op: "search", Status: 502, Body: "bad gateway", Kind: ErrBadStatus}
	assert.Equal(t, "search: movie service returned an error status (status 502): bad gateway", err.Error())
	assert.True(t, errors.Is(err, ErrBadStatus))
}
