package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pevans/gamefed/scraper"
	"gopkg.in/yaml.v3"
)

// DelayRangeConfig is a min/max pair of duration strings such as "4s".
type DelayRangeConfig struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

// CatalogFileConfig holds catalog file locations.
type CatalogFileConfig struct {
	Path          string `yaml:"path"`
	BackupDir     string `yaml:"backup_dir"`
	ThumbnailsDir string `yaml:"thumbnails_dir"`
}

// JournalFileConfig holds the run journal location.
type JournalFileConfig struct {
	DSN string `yaml:"dsn"`
}

// CrawlFileConfig holds crawler tuning.
type CrawlFileConfig struct {
	Target            int                         `yaml:"target"`
	Workers           int                         `yaml:"workers"`
	DelayMin          string                      `yaml:"delay_min"`
	DelayMax          string                      `yaml:"delay_max"`
	PlatformDelays    map[string]DelayRangeConfig `yaml:"platform_delays"`
	RequestTimeout    string                      `yaml:"request_timeout"`
	ProbeTimeout      string                      `yaml:"probe_timeout"`
	RetryAttempts     int                         `yaml:"retry_attempts"`
	RetryBackoff      string                      `yaml:"retry_backoff"`
	RateLimitCooldown string                      `yaml:"rate_limit_cooldown"`
	RespectRobots     *bool                       `yaml:"respect_robots"`
	UserAgents        []string                    `yaml:"user_agents"`
	CacheSizeMB       int                         `yaml:"cache_size_mb"`
}

// TrustFileConfig holds embed trust settings.
type TrustFileConfig struct {
	Threshold       *int     `yaml:"threshold"`
	StrictWhitelist *bool    `yaml:"strict_whitelist"`
	ExtraWhitelist  []string `yaml:"extra_whitelist"`
}

// ProxyFileConfig holds outbound proxy settings.
type ProxyFileConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// FileConfig represents the structure of ~/.gamefed/config.yaml. Zero values
// mean "not set".
type FileConfig struct {
	Catalog   CatalogFileConfig  `yaml:"catalog"`
	Journal   JournalFileConfig  `yaml:"journal"`
	Crawl     CrawlFileConfig    `yaml:"crawl"`
	Trust     TrustFileConfig    `yaml:"trust"`
	Proxy     ProxyFileConfig    `yaml:"proxy"`
	Platforms []scraper.Platform `yaml:"platforms"`
}

// DefaultConfigPath returns ~/.gamefed/config.yaml.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".gamefed", "config.yaml"), nil
}

// LoadConfigFile loads configuration from path, or from DefaultConfigPath if
// path is empty. Returns nil if the file doesn't exist (not an error).
// Returns error if the file exists but cannot be parsed.
func LoadConfigFile(path string) (*FileConfig, error) {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}
