// Package validate implements deep URL validation: fetch, barrier
// classification, content identity verification, and scoring. The domain a
// URL is served from never influences its score; two byte-identical bodies
// score identically.
package validate

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/refcanvas/refcanvas-cli/internal/resilience"
)

// FetchResult is the bounded body prefix of a candidate URL.
type FetchResult struct {
	Body        []byte
	StatusCode  int
	ContentType string
	FinalURL    string
}

// FetcherOptions configures the candidate fetcher.
type FetcherOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int
	PerHostRate  rate.Limit
	PerHostBurst int
}

// Fetcher retrieves bounded body prefixes of candidate URLs with a redirect
// hop cap, per-host rate limiting, and transient-failure retry.
type Fetcher struct {
	client *http.Client
	opts   FetcherOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewFetcher creates a Fetcher with the given options.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = "refcanvas-cli/1.0"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = 5
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = 100_000
	}
	if opts.PerHostRate == 0 {
		opts.PerHostRate = 5
	}
	if opts.PerHostBurst == 0 {
		opts.PerHostBurst = 5
	}

	f := &Fetcher{
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
	f.client = &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= opts.MaxRedirects {
				return eris.Errorf("fetch: redirect hop limit %d exceeded", opts.MaxRedirects)
			}
			return nil
		},
	}
	return f
}

func (f *Fetcher) limiterFor(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(f.opts.PerHostRate, f.opts.PerHostBurst)
		f.limiters[host] = lim
	}
	return lim
}

// Fetch retrieves up to MaxBodyBytes of the URL's body, following at most
// MaxRedirects hops. Transient failures (timeouts, 429/5xx) are retried;
// terminal 4xx responses and exceeded hop limits are fetch failures.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("fetch", rawURL)

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*FetchResult, error) {
		if err := f.limiterFor(rawURL).Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetch: rate limiter wait")
		}
		return f.fetchOnce(ctx, rawURL)
	})
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: get %s", rawURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(
			eris.Errorf("fetch: http %d from %s", resp.StatusCode, rawURL),
			resp.StatusCode,
		)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("fetch: http %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.opts.MaxBodyBytes)))
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: read body from %s", rawURL)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	zap.L().Debug("fetched candidate",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
	)

	return &FetchResult{
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: strings.ToLower(resp.Header.Get("Content-Type")),
		FinalURL:    finalURL,
	}, nil
}
