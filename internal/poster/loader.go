// Package poster builds poster URLs and fetches posters from the image CDN.
package poster

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryan-buckman/movierec/internal/logging"
	"github.com/bryan-buckman/movierec/internal/metrics"
)

// Concurrency settings
const (
	// DefaultConcurrency is the number of parallel fetches.
	DefaultConcurrency = 4
	// MaxConcurrencyPerHost limits parallel requests to any single host.
	MaxConcurrencyPerHost = 2
	// DefaultDelay is the minimum delay between requests to the same host.
	DefaultDelay = 100 * time.Millisecond
)

// URL returns the address of the poster stored under ref. An empty ref has no poster.
func URL(base, ref string) string {
	ref = strings.TrimLeft(strings.TrimSpace(ref), "/")
	if ref == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/" + ref
}

// hostLimiter controls rate limiting per host to avoid overwhelming the CDN.
type hostLimiter struct {
	mu          sync.Mutex
	perHost     int
	delay       time.Duration
	semaphores  map[string]chan struct{}
	lastRequest map[string]time.Time
}

func newHostLimiter(perHost int, delay time.Duration) *hostLimiter {
	return &hostLimiter{
		perHost:     perHost,
		delay:       delay,
		semaphores:  make(map[string]chan struct{}),
		lastRequest: make(map[string]time.Time),
	}
}

// acquire gets a slot for host, blocking if necessary.
// It also enforces the minimum delay between requests to the same host.
func (hl *hostLimiter) acquire(ctx context.Context, host string) error {
	hl.mu.Lock()
	sem, ok := hl.semaphores[host]
	if !ok {
		sem = make(chan struct{}, hl.perHost)
		hl.semaphores[host] = sem
	}
	hl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	hl.mu.Lock()
	lastReq := hl.lastRequest[host]
	hl.mu.Unlock()

	if !lastReq.IsZero() {
		if wait := hl.delay - time.Since(lastReq); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				<-sem
				return ctx.Err()
			}
		}
	}
	return nil
}

// release returns a slot for host and records the request time.
func (hl *hostLimiter) release(host string) {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	hl.lastRequest[host] = time.Now()
	if sem, ok := hl.semaphores[host]; ok {
		<-sem
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

// Options configures a Loader. Zero values take defaults.
type Options struct {
	Concurrency int
	Delay       time.Duration
	HTTPClient  *http.Client
}

// Loader fetches posters. It is safe for concurrent use.
type Loader struct {
	base        string
	client      *http.Client
	concurrency int
	limiter     *hostLimiter
	log         zerolog.Logger
}

// NewLoader creates a loader for posters under base.
func NewLoader(base string, opts Options) *Loader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Delay < 0 {
		opts.Delay = DefaultDelay
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Loader{
		base:        base,
		client:      client,
		concurrency: opts.Concurrency,
		limiter:     newHostLimiter(MaxConcurrencyPerHost, opts.Delay),
		log:         logging.WithComponent("poster"),
	}
}

// URL returns the address of the poster stored under ref.
func (l *Loader) URL(ref string) string {
	return URL(l.base, ref)
}

// Load fetches the poster stored under ref and discards it. It returns nil
// once the whole image has arrived. An empty ref loads trivially.
func (l *Loader) Load(ctx context.Context, ref string) error {
	target := l.URL(ref)
	if target == "" {
		metrics.PosterLoads.WithLabelValues("skipped").Inc()
		return nil
	}

	host := hostOf(target)
	if err := l.limiter.acquire(ctx, host); err != nil {
		return fmt.Errorf("rate limit cancelled for %s: %w", target, err)
	}
	defer l.limiter.release(host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build poster request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		metrics.PosterLoads.WithLabelValues("error").Inc()
		return fmt.Errorf("fetch poster %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		metrics.PosterLoads.WithLabelValues("error").Inc()
		return fmt.Errorf("fetch poster %s: status %d", target, resp.StatusCode)
	}
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		metrics.PosterLoads.WithLabelValues("error").Inc()
		return fmt.Errorf("read poster %s: %w", target, err)
	}
	metrics.PosterLoads.WithLabelValues("ok").Inc()
	return nil
}

// Item is one poster to load.
type Item struct {
	MovieID int
	Ref     string
}

// LoadAll loads items with a worker pool and calls done for each one as it
// settles. done may be called from several goroutines at once. LoadAll
// returns when every item has settled or ctx is cancelled.
func (l *Loader) LoadAll(ctx context.Context, items []Item, done func(Item, error)) {
	if len(items) == 0 {
		return
	}

	workers := min(l.concurrency, len(items))
	queue := make(chan Item)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				err := l.Load(ctx, item.Ref)
				if err != nil {
					l.log.Debug().Err(err).Int(logging.FieldMovieID, item.MovieID).Msg("poster load failed")
				}
				done(item, err)
			}
		}()
	}

feed:
	for _, item := range items {
		select {
		case <-ctx.Done():
			break feed
		case queue <- item:
		}
	}
	close(queue)
	wg.Wait()
}
