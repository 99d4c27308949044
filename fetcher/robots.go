package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// RobotsAgent is the agent name matched against robots.txt groups.
const RobotsAgent = "gamefed"

// robotsCache holds one parsed robots.txt per scheme://host. A nil entry
// means "allow everything". A failed or 5xx fetch also allows the request
// but is not cached, so the next request to the host tries again.
type robotsCache struct {
	mu     sync.Mutex
	robots map[string]*robotstxt.RobotsData
	fetch  func(ctx context.Context, robotsURL string) (int, []byte, error)
}

func newRobotsCache(fetch func(ctx context.Context, robotsURL string) (int, []byte, error)) *robotsCache {
	return &robotsCache{
		robots: make(map[string]*robotstxt.RobotsData),
		fetch:  fetch,
	}
}

func (rc *robotsCache) CanFetch(ctx context.Context, u *url.URL) bool {
	baseURL := u.Scheme + "://" + u.Host

	rc.mu.Lock()
	robots, exists := rc.robots[baseURL]
	rc.mu.Unlock()

	if !exists {
		var definitive bool
		robots, definitive = rc.load(ctx, baseURL)
		if definitive {
			rc.mu.Lock()
			rc.robots[baseURL] = robots
			rc.mu.Unlock()
		}
	}

	if robots == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return robots.TestAgent(path, RobotsAgent)
}

// load fetches and parses robots.txt for baseURL. The bool reports whether
// the answer came from the host itself and may be cached.
func (rc *robotsCache) load(ctx context.Context, baseURL string) (*robotstxt.RobotsData, bool) {
	status, body, err := rc.fetch(ctx, baseURL+"/robots.txt")
	if err != nil || ctx.Err() != nil {
		return nil, false
	}
	if status >= http.StatusInternalServerError {
		return nil, false
	}

	robots, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return nil, true
	}
	return robots, true
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit))
}

