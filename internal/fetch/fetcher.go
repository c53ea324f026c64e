// Package fetch retrieves listing pages with cache-fill, retry/backoff and
// politeness delays.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/ahenriksson/bowatch/internal/listing"
	"github.com/ahenriksson/bowatch/internal/metrics"
)

// Config controls fetcher behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	Delay       time.Duration // politeness delay after each network fetch
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Error is the terminal failure for one URL, carrying the last HTTP status
// seen (zero for transport-level failures).
type Error struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s failed after %d attempt(s): status %d", e.URL, e.Attempts, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fetcher consults the cache store before going to the network. Network
// fetches apply the politeness delay; cache hits return immediately.
type Fetcher struct {
	cfg     Config
	cache   listing.CacheStore
	clock   listing.Clock
	logger  *zap.Logger
	base    *colly.Collector
	backoff backoffPolicy
	pause   pauser
}

// New constructs a Fetcher around the given cache store.
func New(cfg Config, cache listing.CacheStore, clock listing.Clock, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	base := colly.NewCollector(colly.Async(false))
	// Clones share the visited-URL store; retries and cache-expiry
	// refetches hit the same URL again, so revisits must be allowed.
	// The cache layer is what prevents redundant fetches.
	base.AllowURLRevisit = true
	if cfg.UserAgent != "" {
		base.UserAgent = cfg.UserAgent
	}
	base.SetRequestTimeout(cfg.Timeout)
	base.WithTransport(&http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
	})
	return &Fetcher{
		cfg:     cfg,
		cache:   cache,
		clock:   clock,
		logger:  logger,
		base:    base,
		backoff: newBackoffPolicy(cfg.BackoffBase, cfg.BackoffMax),
		pause:   &timerPauser{},
	}
}

// Fetch returns the page for url and whether it was served from cache.
// Transient failures (429/5xx, transport errors) are retried with jittered
// exponential backoff; any other non-200 status fails immediately.
func (f *Fetcher) Fetch(ctx context.Context, url string) (listing.RawPage, bool, error) {
	if page, hit := f.cache.Get(url); hit {
		metrics.ObservePage(metrics.PageCached)
		return page, true, nil
	}

	var lastStatus int
	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return listing.RawPage{}, false, fmt.Errorf("fetch canceled: %w", err)
		}
		status, body, err := f.doRequest(ctx, url)
		lastStatus = status

		switch {
		case err == nil && status == http.StatusOK:
			page := listing.RawPage{
				URL:       url,
				Status:    status,
				FetchedAt: f.clock.Now(),
				HTML:      string(body),
			}
			if perr := f.cache.Put(url, page); perr != nil {
				return listing.RawPage{}, false, fmt.Errorf("cache fill for %s: %w", url, perr)
			}
			metrics.ObservePage(metrics.PageFetched)
			f.pause.Pause(ctx, f.politenessDelay())
			return page, false, nil

		case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
			return listing.RawPage{}, false, fmt.Errorf("fetch canceled: %w", err)

		case err != nil && status == 0, Retryable(status):
			lastErr = err
			if attempt < f.cfg.MaxRetries {
				metrics.ObserveRetry()
				wait := f.backoff.Backoff(attempt)
				f.logger.Warn("transient fetch failure, backing off",
					zap.String("url", url),
					zap.Int("status", status),
					zap.Int("attempt", attempt+1),
					zap.Duration("wait", wait),
					zap.Error(err),
				)
				f.pause.Pause(ctx, wait)
				continue
			}

		default:
			// Non-retryable status such as 403 or 404.
			metrics.ObservePage(metrics.PageFailed)
			return listing.RawPage{}, false, &Error{URL: url, StatusCode: status, Attempts: attempt + 1, Err: err}
		}
	}

	metrics.ObservePage(metrics.PageFailed)
	return listing.RawPage{}, false, &Error{
		URL:        url,
		StatusCode: lastStatus,
		Attempts:   f.cfg.MaxRetries + 1,
		Err:        lastErr,
	}
}

func (f *Fetcher) politenessDelay() time.Duration {
	// Base delay plus jitter in [0.5s, 1.5s).
	return f.cfg.Delay + 500*time.Millisecond + randomJitter(time.Second)
}

type requestResult struct {
	status int
	body   []byte
	err    error
}

func (f *Fetcher) doRequest(ctx context.Context, url string) (int, []byte, error) {
	collector := f.base.Clone()

	resultCh := make(chan requestResult, 1)
	var once sync.Once
	send := func(res requestResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		send(requestResult{
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		})
	})
	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		if err == nil {
			err = errors.New("unknown collector error")
		}
		send(requestResult{status: status, err: err})
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case visitErr := <-done:
		select {
		case res := <-resultCh:
			return res.status, res.body, res.err
		default:
			if visitErr != nil {
				return 0, nil, fmt.Errorf("visit %s: %w", url, visitErr)
			}
			return 0, nil, errors.New("collector produced no result")
		}
	}
}
