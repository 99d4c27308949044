package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/allegro/bigcache/v3"
	"github.com/sirupsen/logrus"
)

const defaultUserAgent = "Mozilla/5.0 (compatible; gamefed/1.0)"

// Limiter gates requests per domain. *ratelimit.Limiter implements it.
type Limiter interface {
	AwaitTurn(ctx context.Context, domain string) error
	ReportStatus(ctx context.Context, domain string, status int) error
}

// Config holds fetcher settings. Zero values take defaults.
type Config struct {
	Timeout       time.Duration
	ProbeTimeout  time.Duration
	UserAgents    []string
	Proxy         *url.URL
	Retry         RetryPolicy
	RespectRobots bool
	CacheSizeMB   int
	MaxBodyBytes  int64
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	if len(c.UserAgents) == 0 {
		c.UserAgents = []string{defaultUserAgent}
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = DefaultRetryPolicy
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 5 << 20
	}
}

// ProbeResult is the outcome of a HEAD request.
type ProbeResult struct {
	StatusCode  int
	ContentType string
}

// Fetcher performs rate limited, retried GET and HEAD requests.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	limiter Limiter
	robots  *robotsCache
	cache   *bigcache.BigCache
	log     logrus.FieldLogger
	nextUA  atomic.Uint64
}

// New creates a fetcher. limiter gates every request, including robots.txt
// lookups.
func New(cfg Config, limiter Limiter, log logrus.FieldLogger) (*Fetcher, error) {
	cfg.defaults()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != nil {
		transport.Proxy = http.ProxyURL(cfg.Proxy)
	}

	f := &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		limiter: limiter,
		log:     log,
	}

	if cfg.RespectRobots {
		f.robots = newRobotsCache(f.fetchRobots)
	}

	if cfg.CacheSizeMB > 0 {
		cacheConfig := bigcache.Config{
			Shards:             64,
			LifeWindow:         30 * time.Minute,
			CleanWindow:        5 * time.Minute,
			MaxEntriesInWindow: 10000,
			MaxEntrySize:       64 * 1024,
			HardMaxCacheSize:   cfg.CacheSizeMB,
		}
		cache, err := bigcache.New(context.Background(), cacheConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create page cache: %w", err)
		}
		f.cache = cache
	}

	return f, nil
}

// Close releases the page cache.
func (f *Fetcher) Close() error {
	if f.cache != nil {
		return f.cache.Close()
	}
	return nil
}

func (f *Fetcher) userAgent() string {
	n := f.nextUA.Add(1) - 1
	return f.cfg.UserAgents[n%uint64(len(f.cfg.UserAgents))]
}

// headersFor returns browser-like headers, plus extras some hosts insist on.
func (f *Fetcher) headersFor(u *url.URL) http.Header {
	h := http.Header{}
	h.Set("User-Agent", f.userAgent())
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.5")

	host := strings.ToLower(u.Hostname())
	switch {
	case strings.Contains(host, "gamejolt.com"):
		h.Set("DNT", "1")
		h.Set("Upgrade-Insecure-Requests", "1")
		h.Set("Sec-Fetch-Dest", "document")
		h.Set("Sec-Fetch-Mode", "navigate")
	case strings.Contains(host, "itch.io"):
		h.Set("Referer", "https://itch.io/")
	case strings.Contains(host, "newgrounds.com"):
		h.Set("Referer", "https://www.newgrounds.com/")
	}

	return h
}

func parseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	return u, nil
}

// do issues one request after waiting for the domain's turn and reports the
// response status back to the limiter.
func (f *Fetcher) do(ctx context.Context, method string, u *url.URL, timeout time.Duration) (*http.Response, context.CancelFunc, error) {
	if f.limiter != nil {
		if err := f.limiter.AwaitTurn(ctx, u.Hostname()); err != nil {
			return nil, nil, err
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(reqCtx, method, u.String(), nil)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = f.headersFor(u)

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to fetch URL: %w", err)
	}

	if f.limiter != nil {
		if err := f.limiter.ReportStatus(ctx, u.Hostname(), resp.StatusCode); err != nil {
			resp.Body.Close()
			cancel()
			return nil, nil, err
		}
	}

	return resp, cancel, nil
}

func (f *Fetcher) fetchRobots(ctx context.Context, robotsURL string) (int, []byte, error) {
	u, err := parseURL(robotsURL)
	if err != nil {
		return 0, nil, err
	}

	resp, cancel, err := f.do(ctx, http.MethodGet, u, f.cfg.ProbeTimeout)
	if err != nil {
		return 0, nil, err
	}
	defer cancel()
	defer resp.Body.Close()

	body, err := readLimited(resp.Body, 512*1024)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// Body fetches rawURL with GET and returns the response body. Responses are
// cached for the lifetime of the fetcher.
func (f *Fetcher) Body(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	key := u.String()

	if f.cache != nil {
		if cached, err := f.cache.Get(key); err == nil {
			return cached, nil
		}
	}

	if f.robots != nil && !f.robots.CanFetch(ctx, u) {
		return nil, fmt.Errorf("%w: %s", ErrDisallowed, key)
	}

	var body []byte
	err = f.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		resp, cancel, err := f.do(ctx, http.MethodGet, u, f.cfg.Timeout)
		if err != nil {
			return err
		}
		defer cancel()
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{URL: key, StatusCode: resp.StatusCode}
		}

		body, err = readLimited(resp.Body, f.cfg.MaxBodyBytes)
		if err != nil {
			return fmt.Errorf("failed to read body: %w", err)
		}
		return nil
	})
	if err != nil {
		f.log.WithFields(logrus.Fields{"url": key}).WithError(err).Debug("fetch failed")
		return nil, err
	}

	if f.cache != nil {
		if err := f.cache.Set(key, body); err != nil {
			f.log.WithField("url", key).WithError(err).Debug("page not cached")
		}
	}

	return body, nil
}

// Document fetches rawURL and parses it as HTML.
func (f *Fetcher) Document(ctx context.Context, rawURL string) (*goquery.Document, error) {
	body, err := f.Body(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// Probe sends a single HEAD request to rawURL. Non-2xx statuses are returned
// in the result, not as errors.
func (f *Fetcher) Probe(ctx context.Context, rawURL string) (ProbeResult, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return ProbeResult{}, err
	}

	resp, cancel, err := f.do(ctx, http.MethodHead, u, f.cfg.ProbeTimeout)
	if err != nil {
		return ProbeResult{}, err
	}
	defer cancel()
	defer resp.Body.Close()

	return ProbeResult{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
