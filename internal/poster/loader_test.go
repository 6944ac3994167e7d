package poster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestURL(t *testing.T) {
	base := "https://image.tmdb.org/t/p/original"
	assert.Equal(t, base+"/9gk7adHYeDvHkCSEqAvQNLV5Uge.jpg", URL(base, "/9gk7adHYeDvHkCSEqAvQNLV5Uge.jpg"))
	assert.Equal(t, base+"/abc.jpg", URL(base+"/", "abc.jpg"))
	assert.Empty(t, URL(base, ""))
	assert.Empty(t, URL(base, " / "))
}

func newCDN(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.CloseClientConnections()
		srv.Close()
	})
	return srv
}

func TestLoad(t *testing.T) {
	var path string
	srv := newCDN(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte("\x89PNG"))
	})
	l := NewLoader(srv.URL+"/t/p/original", Options{HTTPClient: srv.Client()})

	require.NoError(t, l.Load(context.Background(), "/inception.jpg"))
	assert.Equal(t, "/t/p/original/inception.jpg", path)
}

func TestLoad_EmptyRefSkipsFetch(t *testing.T) {
	var calls atomic.Int32
	srv := newCDN(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })
	l := NewLoader(srv.URL, Options{HTTPClient: srv.Client()})

	require.NoError(t, l.Load(context.Background(), ""))
	assert.Zero(t, calls.Load())
}

func TestLoad_NotFound(t *testing.T) {
	srv := newCDN(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	l := NewLoader(srv.URL, Options{HTTPClient: srv.Client()})

	err := l.Load(context.Background(), "/missing.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestLoadAll_ReportsEveryItem(t *testing.T) {
	srv := newCDN(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.jpg" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("img"))
	})
	l := NewLoader(srv.URL, Options{Concurrency: 3, HTTPClient: srv.Client()})

	items := []Item{
		{MovieID: 1, Ref: "/a.jpg"},
		{MovieID: 2, Ref: "/bad.jpg"},
		{MovieID: 3, Ref: ""},
		{MovieID: 4, Ref: "/b.jpg"},
	}
	var mu sync.Mutex
	results := map[int]error{}
	l.LoadAll(context.Background(), items, func(it Item, err error) {
		mu.Lock()
		defer mu.Unlock()
		results[it.MovieID] = err
	})

	require.Len(t, results, 4)
	assert.NoError(t, results[1])
	assert.Error(t, results[2])
	assert.NoError(t, results[3])
	assert.NoError(t, results[4])
}

func TestLoadAll_LimitsPerHost(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := newCDN(t, func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
	})
	l := NewLoader(srv.URL, Options{Concurrency: 8, HTTPClient: srv.Client()})

	items := make([]Item, 8)
	for i := range items {
		items[i] = Item{MovieID: i, Ref: "/p.jpg"}
	}
	l.LoadAll(context.Background(), items, func(Item, error) {})

	assert.LessOrEqual(t, peak.Load(), int32(MaxConcurrencyPerHost))
}

func TestLoadAll_StopsOnCancel(t *testing.T) {
	release := make(chan struct{})
	srv := newCDN(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	l := NewLoader(srv.URL, Options{Concurrency: 1, HTTPClient: srv.Client()})

	ctx, cancel := context.WithCancel(context.Background())
	var loaded atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.LoadAll(ctx, []Item{{1, "/a.jpg"}, {2, "/b.jpg"}, {3, "/c.jpg"}}, func(_ Item, err error) {
			if err == nil {
				loaded.Add(1)
			}
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("LoadAll did not return after cancel")
	}
	assert.Zero(t, loaded.Load())
}
