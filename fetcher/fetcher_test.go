package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLimiter struct {
	mu       sync.Mutex
	turns    []string
	statuses []int
}

func (l *recordingLimiter) AwaitTurn(ctx context.Context, domain string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, domain)
	return ctx.Err()
}

func (l *recordingLimiter) ReportStatus(_ context.Context, _ string, status int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, status)
	return nil
}

func newTestFetcher(t *testing.T, cfg Config, limiter Limiter) *Fetcher {
	t.Helper()
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = RetryPolicy{MaxAttempts: 3}
	}
	logger, _ := test.NewNullLogger()
	f, err := New(cfg, limiter, logger)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

// TestDocument verifies a page is fetched, parsed and the limiter consulted.
func TestDocument(t *testing.T) {
	var ua string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		fmt.Fprint(w, `<html><body><h1>Hello</h1></body></html>`)
	}))
	defer server.Close()

	limiter := &recordingLimiter{}
	f := newTestFetcher(t, Config{UserAgents: []string{"test-agent"}}, limiter)

	doc, err := f.Document(context.Background(), server.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, "Hello", doc.Find("h1").Text())
	assert.Equal(t, "test-agent", ua)
	assert.Equal(t, []string{"127.0.0.1"}, limiter.turns)
	assert.Equal(t, []int{http.StatusOK}, limiter.statuses)
}

// TestBodyAccessDenied verifies a 403 fails immediately without retries.
func TestBodyAccessDenied(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	f := newTestFetcher(t, Config{}, nil)

	_, err := f.Body(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Equal(t, int32(1), hits.Load())
}

// TestBodyRetriesServerErrors verifies 5xx responses are retried until the
// attempts run out.
func TestBodyRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	limiter := &recordingLimiter{}
	f := newTestFetcher(t, Config{}, limiter)

	_, err := f.Body(context.Background(), server.URL)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, int32(3), hits.Load())
	assert.Len(t, limiter.turns, 3)
}

// TestBodyRecoversAfterTransientFailure verifies a later success is returned.
func TestBodyRecoversAfterTransientFailure(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	f := newTestFetcher(t, Config{}, nil)

	body, err := f.Body(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(2), hits.Load())
}

// TestBodyRobotsDisallow verifies robots.txt exclusions are honored.
func TestBodyRobotsDisallow(t *testing.T) {
	var pageHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		pageHits.Add(1)
		fmt.Fprint(w, "page")
	}))
	defer server.Close()

	f := newTestFetcher(t, Config{RespectRobots: true}, nil)

	_, err := f.Body(context.Background(), server.URL+"/private/game")
	assert.ErrorIs(t, err, ErrDisallowed)

	body, err := f.Body(context.Background(), server.URL+"/public")
	require.NoError(t, err)
	assert.Equal(t, "page", string(body))
	assert.Equal(t, int32(1), pageHits.Load())
}

// TestBodyRobotsServerError verifies a failing robots.txt allows crawling.
func TestBodyRobotsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "page")
	}))
	defer server.Close()

	f := newTestFetcher(t, Config{RespectRobots: true}, nil)

	body, err := f.Body(context.Background(), server.URL+"/games")
	require.NoError(t, err)
	assert.Equal(t, "page", string(body))
}

// TestRobotsCacheRetriesFailures verifies a robots.txt fetch that fails,
// returns 5xx or is cut short by cancellation is not cached, while a real
// answer is.
func TestRobotsCacheRetriesFailures(t *testing.T) {
	responses := []struct {
		status int
		body   string
		err    error
	}{
		{err: errors.New("connection reset")},
		{status: http.StatusServiceUnavailable},
		{status: http.StatusOK, body: "User-agent: *\nDisallow: /private\n"},
	}

	var calls int
	rc := newRobotsCache(func(_ context.Context, robotsURL string) (int, []byte, error) {
		assert.Contains(t, robotsURL, ".example.com/robots.txt")
		r := responses[min(calls, len(responses)-1)]
		calls++
		return r.status, []byte(r.body), r.err
	})

	u, err := parseURL("https://games.example.com/private/x")
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, rc.CanFetch(ctx, u))
	assert.True(t, rc.CanFetch(ctx, u))
	assert.False(t, rc.CanFetch(ctx, u))
	assert.False(t, rc.CanFetch(ctx, u))
	assert.Equal(t, 3, calls)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	other, err := parseURL("https://other.example.com/games")
	require.NoError(t, err)
	assert.True(t, rc.CanFetch(cancelled, other))
	assert.True(t, rc.CanFetch(cancelled, other))
	assert.Equal(t, 5, calls)
}

// TestBodyCache verifies a cached page is served without another request.
func TestBodyCache(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "cached")
	}))
	defer server.Close()

	f := newTestFetcher(t, Config{CacheSizeMB: 1}, nil)

	for range 3 {
		body, err := f.Body(context.Background(), server.URL+"/list")
		require.NoError(t, err)
		assert.Equal(t, "cached", string(body))
	}
	assert.Equal(t, int32(1), hits.Load())
}

// TestBodyInvalidURL verifies non-http URLs are rejected without a request.
func TestBodyInvalidURL(t *testing.T) {
	f := newTestFetcher(t, Config{}, nil)

	for _, raw := range []string{"ftp://example.com/x", "not a url", "https://"} {
		_, err := f.Body(context.Background(), raw)
		assert.ErrorIs(t, err, ErrInvalidURL, raw)
	}
}

// TestProbe verifies HEAD results carry status and content type.
func TestProbe(t *testing.T) {
	var method string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}))
	defer server.Close()

	f := newTestFetcher(t, Config{}, nil)

	res, err := f.Probe(context.Background(), server.URL+"/game/index.html")
	require.NoError(t, err)
	assert.Equal(t, http.MethodHead, method)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", res.ContentType)

	res, err = f.Probe(context.Background(), server.URL+"/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

// TestUserAgentRotation verifies agents are used round robin.
func TestUserAgentRotation(t *testing.T) {
	f := newTestFetcher(t, Config{UserAgents: []string{"a", "b"}}, nil)
	assert.Equal(t, "a", f.userAgent())
	assert.Equal(t, "b", f.userAgent())
	assert.Equal(t, "a", f.userAgent())
}

// TestIsTransient verifies which failures are retried.
func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &StatusError{StatusCode: 429}, true},
		{"server error", &StatusError{StatusCode: 503}, true},
		{"forbidden", &StatusError{StatusCode: 403}, false},
		{"not found", &StatusError{StatusCode: 404}, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), true},
		{"robots", ErrDisallowed, false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

// TestRetryPolicyStopsOnCancel verifies the backoff wait honors cancellation.
func TestRetryPolicyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, Backoff: time.Hour}

	calls := 0
	err := policy.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return &StatusError{StatusCode: 500}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
