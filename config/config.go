package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pevans/gamefed/ratelimit"
	"github.com/pevans/gamefed/scraper"
	"github.com/pevans/gamefed/trust"
)

// Environment variable names.
const (
	EnvCatalog         = "GAMEFED_CATALOG"
	EnvJournalDSN      = "GAMEFED_JOURNAL_DSN"
	EnvUseProxy        = "GAMEFED_USE_PROXY"
	EnvProxyHost       = "GAMEFED_PROXY_HOST"
	EnvProxyPort       = "GAMEFED_PROXY_PORT"
	EnvStrictWhitelist = "GAMEFED_STRICT_WHITELIST"
	EnvMaxGames        = "GAMEFED_MAX_GAMES"
	EnvDelayMin        = "GAMEFED_CRAWL_DELAY_MIN"
	EnvDelayMax        = "GAMEFED_CRAWL_DELAY_MAX"
	EnvRequestTimeout  = "GAMEFED_REQUEST_TIMEOUT"
	EnvRetryAttempts   = "GAMEFED_RETRY_ATTEMPTS"
	EnvScoreThreshold  = "GAMEFED_SCORE_THRESHOLD"
	EnvWorkers         = "GAMEFED_WORKERS"
)

var (
	ErrInvalidDelay   = errors.New("delay min must be non-negative and not above max")
	ErrInvalidTarget  = errors.New("target count must be positive")
	ErrInvalidWorkers = errors.New("workers must be positive")
	ErrInvalidScore   = errors.New("score threshold must not be negative")
	ErrNoPlatforms    = errors.New("at least one platform is required")
)

// CatalogConfig holds catalog file locations.
type CatalogConfig struct {
	Path          string `json:"path" yaml:"path"`
	BackupDir     string `json:"backup_dir,omitempty" yaml:"backup_dir,omitempty"`
	ThumbnailsDir string `json:"thumbnails_dir" yaml:"thumbnails_dir"`
}

// CrawlConfig holds crawler tuning.
type CrawlConfig struct {
	Target            int                             `json:"target" yaml:"target"`
	Workers           int                             `json:"workers" yaml:"workers"`
	Delay             ratelimit.DelayRange            `json:"delay" yaml:"delay"`
	PlatformDelays    map[string]ratelimit.DelayRange `json:"platform_delays" yaml:"platform_delays"`
	RequestTimeout    time.Duration                   `json:"request_timeout" yaml:"request_timeout"`
	ProbeTimeout      time.Duration                   `json:"probe_timeout" yaml:"probe_timeout"`
	RetryAttempts     int                             `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff      time.Duration                   `json:"retry_backoff" yaml:"retry_backoff"`
	RateLimitCooldown time.Duration                   `json:"rate_limit_cooldown" yaml:"rate_limit_cooldown"`
	RespectRobots     bool                            `json:"respect_robots" yaml:"respect_robots"`
	UserAgents        []string                        `json:"user_agents" yaml:"user_agents"`
	CacheSizeMB       int                             `json:"cache_size_mb" yaml:"cache_size_mb"`
}

// TrustConfig holds embed trust settings.
type TrustConfig struct {
	Threshold       int      `json:"threshold" yaml:"threshold"`
	StrictWhitelist bool     `json:"strict_whitelist" yaml:"strict_whitelist"`
	ExtraWhitelist  []string `json:"extra_whitelist,omitempty" yaml:"extra_whitelist,omitempty"`
}

// ProxyConfig holds outbound proxy settings.
type ProxyConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
}

// Config is the effective configuration. It is built once at startup and
// passed by value; nothing mutates it afterwards.
type Config struct {
	Catalog    CatalogConfig      `json:"catalog" yaml:"catalog"`
	JournalDSN string             `json:"journal_dsn" yaml:"journal_dsn"`
	Crawl      CrawlConfig        `json:"crawl" yaml:"crawl"`
	Trust      TrustConfig        `json:"trust" yaml:"trust"`
	Proxy      ProxyConfig        `json:"proxy" yaml:"proxy"`
	Platforms  []scraper.Platform `json:"platforms" yaml:"platforms"`
}

// DefaultUserAgents is the browser user agent rotation.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Catalog: CatalogConfig{
			Path:          "src/data/games.ts",
			ThumbnailsDir: "public/games/thumbnails",
		},
		JournalDSN: "gamefed.db",
		Crawl: CrawlConfig{
			Target:  10,
			Workers: 3,
			Delay:   ratelimit.DelayRange{Min: 2 * time.Second, Max: 5 * time.Second},
			PlatformDelays: map[string]ratelimit.DelayRange{
				"itch.io":        {Min: 4 * time.Second, Max: 8 * time.Second},
				"gamejolt.com":   {Min: 3 * time.Second, Max: 6 * time.Second},
				"newgrounds.com": {Min: 2 * time.Second, Max: 4 * time.Second},
			},
			RequestTimeout:    15 * time.Second,
			ProbeTimeout:      10 * time.Second,
			RetryAttempts:     3,
			RetryBackoff:      2 * time.Second,
			RateLimitCooldown: ratelimit.DefaultCooldown,
			RespectRobots:     true,
			UserAgents:        DefaultUserAgents,
			CacheSizeMB:       64,
		},
		Trust: TrustConfig{
			Threshold: trust.DefaultThreshold,
		},
		Proxy: ProxyConfig{
			Host: "127.0.0.1",
			Port: 7890,
		},
		Platforms: scraper.DefaultPlatforms(),
	}
}

// Load builds the configuration from defaults, then the config file at path
// (or the default location), then environment variables. Command line flags
// are applied by the caller on top.
func Load(path string) (Config, error) {
	cfg := Default()

	fc, err := LoadConfigFile(path)
	if err != nil {
		return cfg, err
	}
	if fc != nil {
		if cfg, err = cfg.WithFile(fc); err != nil {
			return cfg, err
		}
	}

	cfg, err = cfg.WithEnv(os.LookupEnv)
	if err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		// Bare numbers are seconds.
		secs, ferr := strconv.ParseFloat(value, 64)
		if ferr != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	return d, nil
}

func setDuration(dst *time.Duration, field, value string) error {
	if value == "" {
		return nil
	}
	d, err := parseDuration(field, value)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// WithFile returns a copy of cfg with every value set in fc applied.
func (cfg Config) WithFile(fc *FileConfig) (Config, error) {
	out := cfg.clone()

	if fc.Catalog.Path != "" {
		out.Catalog.Path = fc.Catalog.Path
	}
	if fc.Catalog.BackupDir != "" {
		out.Catalog.BackupDir = fc.Catalog.BackupDir
	}
	if fc.Catalog.ThumbnailsDir != "" {
		out.Catalog.ThumbnailsDir = fc.Catalog.ThumbnailsDir
	}
	if fc.Journal.DSN != "" {
		out.JournalDSN = fc.Journal.DSN
	}

	c := fc.Crawl
	if c.Target != 0 {
		out.Crawl.Target = c.Target
	}
	if c.Workers != 0 {
		out.Crawl.Workers = c.Workers
	}
	if c.RetryAttempts != 0 {
		out.Crawl.RetryAttempts = c.RetryAttempts
	}
	if c.RespectRobots != nil {
		out.Crawl.RespectRobots = *c.RespectRobots
	}
	if len(c.UserAgents) > 0 {
		out.Crawl.UserAgents = c.UserAgents
	}
	if c.CacheSizeMB != 0 {
		out.Crawl.CacheSizeMB = c.CacheSizeMB
	}

	for _, d := range []struct {
		dst   *time.Duration
		field string
		value string
	}{
		{&out.Crawl.Delay.Min, "crawl.delay_min", c.DelayMin},
		{&out.Crawl.Delay.Max, "crawl.delay_max", c.DelayMax},
		{&out.Crawl.RequestTimeout, "crawl.request_timeout", c.RequestTimeout},
		{&out.Crawl.ProbeTimeout, "crawl.probe_timeout", c.ProbeTimeout},
		{&out.Crawl.RetryBackoff, "crawl.retry_backoff", c.RetryBackoff},
		{&out.Crawl.RateLimitCooldown, "crawl.rate_limit_cooldown", c.RateLimitCooldown},
	} {
		if err := setDuration(d.dst, d.field, d.value); err != nil {
			return cfg, err
		}
	}

	for key, r := range c.PlatformDelays {
		var dr ratelimit.DelayRange
		if err := setDuration(&dr.Min, "platform_delays."+key+".min", r.Min); err != nil {
			return cfg, err
		}
		if err := setDuration(&dr.Max, "platform_delays."+key+".max", r.Max); err != nil {
			return cfg, err
		}
		out.Crawl.PlatformDelays[key] = dr
	}

	if fc.Trust.Threshold != nil {
		out.Trust.Threshold = *fc.Trust.Threshold
	}
	if fc.Trust.StrictWhitelist != nil {
		out.Trust.StrictWhitelist = *fc.Trust.StrictWhitelist
	}
	if len(fc.Trust.ExtraWhitelist) > 0 {
		out.Trust.ExtraWhitelist = append(out.Trust.ExtraWhitelist, fc.Trust.ExtraWhitelist...)
	}

	if fc.Proxy.Enabled != nil {
		out.Proxy.Enabled = *fc.Proxy.Enabled
	}
	if fc.Proxy.Host != "" {
		out.Proxy.Host = fc.Proxy.Host
	}
	if fc.Proxy.Port != 0 {
		out.Proxy.Port = fc.Proxy.Port
	}

	if len(fc.Platforms) > 0 {
		out.Platforms = fc.Platforms
	}

	return out, nil
}

// WithEnv returns a copy of cfg with environment overrides applied. lookup
// is usually os.LookupEnv.
func (cfg Config) WithEnv(lookup func(string) (string, bool)) (Config, error) {
	out := cfg.clone()

	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	getInt := func(key string, dst *int) error {
		v, ok := get(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
		return nil
	}

	getBool := func(key string, dst *bool) error {
		v, ok := get(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = b
		return nil
	}

	getDuration := func(key string, dst *time.Duration) error {
		v, ok := get(key)
		if !ok {
			return nil
		}
		return setDuration(dst, key, v)
	}

	if v, ok := get(EnvCatalog); ok {
		out.Catalog.Path = v
	}
	if v, ok := get(EnvJournalDSN); ok {
		out.JournalDSN = v
	}
	if v, ok := get(EnvProxyHost); ok {
		out.Proxy.Host = v
	}

	for _, fn := range []func() error{
		func() error { return getBool(EnvUseProxy, &out.Proxy.Enabled) },
		func() error { return getInt(EnvProxyPort, &out.Proxy.Port) },
		func() error { return getBool(EnvStrictWhitelist, &out.Trust.StrictWhitelist) },
		func() error { return getInt(EnvMaxGames, &out.Crawl.Target) },
		func() error { return getDuration(EnvDelayMin, &out.Crawl.Delay.Min) },
		func() error { return getDuration(EnvDelayMax, &out.Crawl.Delay.Max) },
		func() error { return getDuration(EnvRequestTimeout, &out.Crawl.RequestTimeout) },
		func() error { return getInt(EnvRetryAttempts, &out.Crawl.RetryAttempts) },
		func() error { return getInt(EnvScoreThreshold, &out.Trust.Threshold) },
		func() error { return getInt(EnvWorkers, &out.Crawl.Workers) },
	} {
		if err := fn(); err != nil {
			return cfg, err
		}
	}

	return out, nil
}

// Validate reports the first configuration problem found.
func (cfg Config) Validate() error {
	if cfg.Catalog.Path == "" {
		return errors.New("catalog path is required")
	}
	if cfg.Crawl.Target <= 0 {
		return ErrInvalidTarget
	}
	if cfg.Crawl.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if cfg.Trust.Threshold < 0 {
		return ErrInvalidScore
	}

	ranges := map[string]ratelimit.DelayRange{ratelimit.DefaultKey: cfg.Crawl.Delay}
	for k, r := range cfg.Crawl.PlatformDelays {
		ranges[k] = r
	}
	for k, r := range ranges {
		if r.Min < 0 || r.Max < r.Min {
			return fmt.Errorf("%s: %w", k, ErrInvalidDelay)
		}
	}

	if len(cfg.Platforms) == 0 {
		return ErrNoPlatforms
	}
	for _, p := range cfg.Platforms {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// DelayTable returns the per-domain delay table for the rate limiter.
func (cfg Config) DelayTable() ratelimit.DelayTable {
	table := ratelimit.DelayTable{ratelimit.DefaultKey: cfg.Crawl.Delay}
	for k, r := range cfg.Crawl.PlatformDelays {
		table[k] = r
	}
	return table
}

// TrustTables returns the scorer tables with any extra whitelist entries.
func (cfg Config) TrustTables() trust.Tables {
	tables := trust.DefaultTables()
	tables.Whitelist = append(tables.Whitelist, cfg.Trust.ExtraWhitelist...)
	return tables
}

// TrustOptions returns the scorer options.
func (cfg Config) TrustOptions() trust.Options {
	return trust.Options{
		Threshold:       cfg.Trust.Threshold,
		StrictWhitelist: cfg.Trust.StrictWhitelist,
	}
}

// ProxyURL returns the proxy to use, or nil when proxying is off.
func (cfg Config) ProxyURL() *url.URL {
	if !cfg.Proxy.Enabled || cfg.Proxy.Host == "" {
		return nil
	}
	return &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(cfg.Proxy.Host, strconv.Itoa(cfg.Proxy.Port)),
	}
}

func (cfg Config) clone() Config {
	out := cfg
	out.Crawl.PlatformDelays = make(map[string]ratelimit.DelayRange, len(cfg.Crawl.PlatformDelays))
	for k, v := range cfg.Crawl.PlatformDelays {
		out.Crawl.PlatformDelays[k] = v
	}
	out.Crawl.UserAgents = append([]string(nil), cfg.Crawl.UserAgents...)
	out.Trust.ExtraWhitelist = append([]string(nil), cfg.Trust.ExtraWhitelist...)
	out.Platforms = append([]scraper.Platform(nil), cfg.Platforms...)
	return out
}
