// Package backend is the HTTP client for the movie search and recommendation service.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/bryan-buckman/movierec/internal/logging"
	"github.com/bryan-buckman/movierec/internal/metrics"
	"github.com/bryan-buckman/movierec/internal/model"
)

// Service paths.
const (
	SearchPath    = "/movies/movie_by_title/"
	RecommendPath = "/movies/recommend_movies/"
)

const (
	endpointSearch    = "search"
	endpointRecommend = "recommend"
	breakerName       = "movie-service"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultRate            = 10
	defaultBurst           = 5
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
)

// SearchCache stores search responses by query text.
type SearchCache interface {
	GetSearch(ctx context.Context, query string) ([]model.Movie, bool, error)
	PutSearch(ctx context.Context, query string, movies []model.Movie) error
}

// Options configures a Client. Zero values take defaults.
type Options struct {
	Timeout time.Duration
	Rate    float64 // requests per second
	Burst   int
	Cache   SearchCache

	// BreakerFailures consecutive failures open the breaker for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client talks to the movie service. It is safe for concurrent use.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]model.Movie]
	group   singleflight.Group
	cache   SearchCache
	log     zerolog.Logger
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts Options) *Client {
	opts = normalizeOptions(opts)

	log := logging.WithComponent("backend")
	if opts.Logger != nil {
		log = *opts.Logger
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	cb := gobreaker.NewCircuitBreaker[[]model.Movie](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		// Client errors and cancellations do not count as failures.
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var reqErr *RequestError
			if errors.As(err, &reqErr) && reqErr.Status > 0 && reqErr.Status < http.StatusInternalServerError {
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		timeout: opts.Timeout,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		breaker: cb,
		cache:   opts.Cache,
		log:     log,
	}
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Rate <= 0 {
		opts.Rate = defaultRate
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = defaultBreakerFailures
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = defaultBreakerTimeout
	}
	return opts
}

// Search returns the movies whose titles contain query. An empty query
// returns no movies without contacting the service. Concurrent searches for
// the same text share one request.
func (c *Client) Search(ctx context.Context, query string) ([]model.Movie, error) {
	if query == "" {
		return nil, nil
	}

	if c.cache != nil {
		movies, ok, err := c.cache.GetSearch(ctx, query)
		switch {
		case err != nil:
			metrics.CacheLookups.WithLabelValues("error").Inc()
			c.log.Warn().Err(err).Str(logging.FieldQuery, query).Msg("search cache lookup failed")
		case ok:
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			metrics.BackendRequests.WithLabelValues(endpointSearch, "cached").Inc()
			return movies, nil
		default:
			metrics.CacheLookups.WithLabelValues("miss").Inc()
		}
	}

	// The shared request outlives any one caller; each caller stops
	// waiting when its own context ends.
	ch := c.group.DoChan(query, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		movies, err := c.execute(endpointSearch, func() ([]model.Movie, error) {
			params := url.Values{}
			params.Set("q", query)
			return c.do(ctx, endpointSearch, http.MethodGet, SearchPath+"?"+params.Encode(), nil)
		})
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			if err := c.cache.PutSearch(ctx, query, movies); err != nil {
				c.log.Warn().Err(err).Str(logging.FieldQuery, query).Msg("search cache store failed")
			}
		}
		return movies, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.log.Debug().Str(logging.FieldQuery, query).Msg("search shared with concurrent caller")
		}
		movies, _ := res.Val.([]model.Movie)
		return movies, nil
	case <-ctx.Done():
		return nil, &RequestError{Op: endpointSearch, Kind: classify(ctx.Err()), Cause: ctx.Err()}
	}
}

// Recommend returns movies similar to the favourites in req within its year range.
func (c *Client) Recommend(ctx context.Context, req model.RecommendRequest) ([]model.Movie, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode recommend request: %w", err)
	}
	return c.execute(endpointRecommend, func() ([]model.Movie, error) {
		return c.do(ctx, endpointRecommend, http.MethodPost, RecommendPath, body)
	})
}

// execute runs fn under the circuit breaker and records the outcome.
func (c *Client) execute(endpoint string, fn func() ([]model.Movie, error)) ([]model.Movie, error) {
	movies, err := c.breaker.Execute(fn)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.BackendRequests.WithLabelValues(endpoint, "rejected").Inc()
		c.log.Warn().Str(logging.FieldEndpoint, endpoint).Msg("request rejected by circuit breaker")
		return nil, &RequestError{Op: endpoint, Kind: ErrCircuitOpen, Cause: err}
	case err != nil:
		metrics.BackendRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}
	metrics.BackendRequests.WithLabelValues(endpoint, "success").Inc()
	return movies, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte) ([]model.Movie, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &RequestError{Op: op, Kind: classify(err), Cause: err}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.BackendDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, &RequestError{Op: op, Kind: classify(err), Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Op: op, Status: resp.StatusCode, Kind: classify(err), Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Debug().Str(logging.FieldEndpoint, op).Int("status", resp.StatusCode).Msg("unexpected status")
		return nil, &RequestError{Op: op, Status: resp.StatusCode, Body: excerpt(data), Kind: ErrBadStatus}
	}

	var movies []model.Movie
	if err := json.Unmarshal(data, &movies); err != nil {
		return nil, &RequestError{Op: op, Status: resp.StatusCode, Kind: ErrBadResponse, Cause: err}
	}
	return movies, nil
}

// classify maps a transport error onto a sentinel.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrUnavailable
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return -1
}
