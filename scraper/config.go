package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
)

// Platform describes one external site to crawl for games. A platform with
// an empty ContainerPattern or TitlePattern has its selectors inferred from
// the page at crawl time.
type Platform struct {
	Name             string   `yaml:"name" json:"name"`
	BaseURL          string   `yaml:"base_url" json:"base_url"`
	SearchURLs       []string `yaml:"search_urls" json:"search_urls"`
	FeedURLs         []string `yaml:"feed_urls,omitempty" json:"feed_urls,omitempty"`
	ContainerPattern string   `yaml:"container_pattern,omitempty" json:"container_pattern,omitempty"`
	TitlePattern     string   `yaml:"title_pattern,omitempty" json:"title_pattern,omitempty"`
	LinkPattern      string   `yaml:"link_pattern,omitempty" json:"link_pattern,omitempty"`
	Priority         int      `yaml:"priority" json:"priority"`
}

var (
	ErrMissingName    = errors.New("platform name is required")
	ErrInvalidBaseURL = errors.New("platform base_url must be an absolute http or https URL")
	ErrNoListingURLs  = errors.New("platform needs at least one search or feed URL")
)

// HasManualPatterns reports whether both the container and title selectors
// are configured.
func (p Platform) HasManualPatterns() bool {
	return p.ContainerPattern != "" && p.TitlePattern != ""
}

// Validate checks that the platform can be crawled.
func (p Platform) Validate() error {
	if p.Name == "" {
		return ErrMissingName
	}

	u, err := url.Parse(p.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: %w", p.Name, ErrInvalidBaseURL)
	}

	if len(p.SearchURLs) == 0 && len(p.FeedURLs) == 0 {
		return fmt.Errorf("%s: %w", p.Name, ErrNoListingURLs)
	}

	return nil
}

// SortByPriority returns a copy of platforms ordered by ascending priority.
// Platforms with equal priority keep their configured order.
func SortByPriority(platforms []Platform) []Platform {
	sorted := make([]Platform, len(platforms))
	copy(sorted, platforms)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return sorted
}

// DefaultPlatforms returns the built-in platform list.
func DefaultPlatforms() []Platform {
	return []Platform{
		{
			Name:    "itch.io",
			BaseURL: "https://itch.io",
			SearchURLs: []string{
				"https://itch.io/games/html5",
				"https://itch.io/games/newest/html5",
				"https://itch.io/games/featured/html5",
				"https://itch.io/games/free/html5",
			},
			FeedURLs:         []string{"https://itch.io/games/newest/html5.xml"},
			ContainerPattern: ".game_cell",
			TitlePattern:     ".title",
			Priority:         1,
		},
		{
			Name:    "Newgrounds",
			BaseURL: "https://www.newgrounds.com",
			SearchURLs: []string{
				"https://www.newgrounds.com/games/browse",
				"https://www.newgrounds.com/games/browse/sort/date",
				"https://www.newgrounds.com/games/featured",
			},
			ContainerPattern: ".item-game, .portalitem-large",
			TitlePattern:     ".item-title, .detail-title",
			Priority:         2,
		},
		{
			Name:    "Kongregate",
			BaseURL: "https://www.kongregate.com",
			SearchURLs: []string{
				"https://www.kongregate.com/games",
				"https://www.kongregate.com/games/new",
				"https://www.kongregate.com/games/featured",
			},
			ContainerPattern: ".game-item, .gamethumb",
			TitlePattern:     ".game-title, h3",
			Priority:         3,
		},
		{
			Name:    "CrazyGames",
			BaseURL: "https://www.crazygames.com",
			SearchURLs: []string{
				"https://www.crazygames.com/c/html5",
				"https://www.crazygames.com/new",
				"https://www.crazygames.com/t/trending",
			},
			ContainerPattern: ".game-item, .game-tile",
			TitlePattern:     ".game-title, h3",
			Priority:         4,
		},
		{
			Name:    "Poki",
			BaseURL: "https://poki.com",
			SearchURLs: []string{
				"https://poki.com/en/new",
				"https://poki.com/en/trending",
				"https://poki.com/en/top-rated",
			},
			ContainerPattern: ".game-item, .game-card",
			TitlePattern:     ".game-title, h3",
			Priority:         5,
		},
		{
			Name:       "GameJolt",
			BaseURL:    "https://gamejolt.com",
			SearchURLs: []string{"https://gamejolt.com/games/best/html"},
			Priority:   6,
		},
	}
}
