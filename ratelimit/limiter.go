package ratelimit

import (
	"context"
	"math/rand/v2"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultKey is the delay table entry used when no platform key matches.
const DefaultKey = "default"

// DefaultCooldown is how long ReportStatus blocks after a 429.
const DefaultCooldown = 30 * time.Second

const (
	busyThreshold  = 5
	busyMultiplier = 1.5
	limitedFactor  = 2
)

// DelayRange is the inclusive bounds of the per-request spacing for a domain.
type DelayRange struct {
	Min time.Duration `yaml:"min" json:"min"`
	Max time.Duration `yaml:"max" json:"max"`
}

func (r DelayRange) scale(f float64) DelayRange {
	return DelayRange{
		Min: time.Duration(float64(r.Min) * f),
		Max: time.Duration(float64(r.Max) * f),
	}
}

// DelayTable maps a platform key to its delay range. A key matches any
// domain that contains it.
type DelayTable map[string]DelayRange

// Lookup returns the delay range for domain. The longest matching key wins,
// then DefaultKey, then the zero range.
func (t DelayTable) Lookup(domain string) DelayRange {
	domain = strings.ToLower(domain)

	keys := make([]string, 0, len(t))
	for k := range t {
		if k != DefaultKey {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	for _, k := range keys {
		if strings.Contains(domain, strings.ToLower(k)) {
			return t[k]
		}
	}

	return t[DefaultKey]
}

// DomainState is the rate limiting bookkeeping for one domain.
type DomainState struct {
	Domain        string
	LastRequestAt time.Time
	RequestCount  int
	RateLimited   bool
}

type domainEntry struct {
	mu    sync.Mutex
	state DomainState
}

// Limiter spaces requests per domain. Calls for the same domain are
// serialized; calls for different domains do not block each other.
type Limiter struct {
	table    DelayTable
	cooldown time.Duration
	log      logrus.FieldLogger

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64

	mu      sync.Mutex
	domains map[string]*domainEntry
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithCooldown sets how long ReportStatus waits after a 429.
func WithCooldown(d time.Duration) Option {
	return func(l *Limiter) { l.cooldown = d }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Limiter) { l.log = log }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleeper replaces the blocking wait.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

// WithRandom replaces the uniform [0,1) source used for jitter.
func WithRandom(random func() float64) Option {
	return func(l *Limiter) { l.random = random }
}

// New creates a limiter using table for per-domain delays.
func New(table DelayTable, opts ...Option) *Limiter {
	l := &Limiter{
		table:    table,
		cooldown: DefaultCooldown,
		log:      logrus.StandardLogger(),
		now:      time.Now,
		sleep:    sleepContext,
		random:   rand.Float64,
		domains:  make(map[string]*domainEntry),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Limiter) entry(domain string) *domainEntry {
	domain = strings.ToLower(domain)

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.domains[domain]
	if !ok {
		e = &domainEntry{state: DomainState{Domain: domain}}
		l.domains[domain] = e
	}
	return e
}

func (l *Limiter) uniform(r DelayRange) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(l.random()*float64(r.Max-r.Min))
}

// AwaitTurn blocks until a request to domain may be issued. The only error
// it returns is the context's.
func (l *Limiter) AwaitTurn(ctx context.Context, domain string) error {
	e := l.entry(domain)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.RequestCount++

	delay := l.table.Lookup(domain)
	if e.state.RequestCount > busyThreshold {
		delay = delay.scale(busyMultiplier)
	}
	if e.state.RateLimited {
		delay = delay.scale(limitedFactor)
	}

	if !e.state.LastRequestAt.IsZero() {
		elapsed := l.now().Sub(e.state.LastRequestAt)
		if elapsed < delay.Min {
			wait := delay.Min - elapsed + time.Duration(l.random()*float64(time.Second))
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	if err := l.sleep(ctx, l.uniform(delay)); err != nil {
		return err
	}

	e.state.LastRequestAt = l.now()

	return nil
}

// ReportStatus records the HTTP status of a request to domain. A 429 marks
// the domain rate limited and blocks for the cooldown period.
func (l *Limiter) ReportStatus(ctx context.Context, domain string, status int) error {
	if status != http.StatusTooManyRequests {
		return nil
	}

	e := l.entry(domain)
	e.mu.Lock()
	e.state.RateLimited = true
	e.mu.Unlock()

	l.log.WithFields(logrus.Fields{
		"domain":   domain,
		"cooldown": l.cooldown,
	}).Warn("rate limited, cooling down")

	return l.sleep(ctx, l.cooldown)
}

// State returns a snapshot of the bookkeeping for domain.
func (l *Limiter) State(domain string) (DomainState, bool) {
	domain = strings.ToLower(domain)

	l.mu.Lock()
	e, ok := l.domains[domain]
	l.mu.Unlock()
	if !ok {
		return DomainState{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}
