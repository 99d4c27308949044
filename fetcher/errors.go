package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

var (
	ErrRateLimited  = errors.New("rate limited")
	ErrAccessDenied = errors.New("access denied")
	ErrDisallowed   = errors.New("disallowed by robots.txt")
	ErrInvalidURL   = errors.New("invalid url")
)

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s (%s)", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// Is maps 429 to ErrRateLimited and 403 to ErrAccessDenied.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrAccessDenied:
		return e.StatusCode == http.StatusForbidden
	}
	return false
}

// IsTransient reports whether err is worth retrying: timeouts, connection
// failures, 5xx and 429. Cancellation, access denial, robots exclusion and
// other 4xx responses are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrDisallowed) || errors.Is(err, ErrInvalidURL) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
