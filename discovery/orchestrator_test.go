package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/gamefed/catalog"
	"github.com/pevans/gamefed/fetcher"
	"github.com/pevans/gamefed/scraper"
)

// scriptedExtractor offers a fixed list of candidates per platform.
type scriptedExtractor struct {
	mu      sync.Mutex
	games   map[string][]Candidate
	errs    map[string]error
	started []string
	wants   map[string]int
}

func (s *scriptedExtractor) Extract(ctx context.Context, p scraper.Platform, want int, sink Sink) (int, error) {
	s.mu.Lock()
	s.started = append(s.started, p.Name)
	if s.wants == nil {
		s.wants = map[string]int{}
	}
	s.wants[p.Name] = want
	s.mu.Unlock()

	if err := s.errs[p.Name]; err != nil {
		return 0, err
	}

	found := 0
	for _, c := range s.games[p.Name] {
		if found >= want || ctx.Err() != nil {
			break
		}
		if sink.Known(c.Title) {
			continue
		}
		if sink.Offer(c) {
			found++
		}
	}
	return found, ctx.Err()
}

func itchCandidate(platform, title string, n int) Candidate {
	return Candidate{
		Title:        title,
		SourceURL:    fmt.Sprintf("https://%s.test/%d", platform, n),
		RawEmbedURL:  fmt.Sprintf("https://html-classic.itch.zone/html/%d/index.html", n),
		PlatformName: platform,
	}
}

func testOrchestrator(ex PlatformExtractor, workers int) *Orchestrator {
	logger, _ := test.NewNullLogger()
	return NewOrchestrator(ex, testScorer(), Options{
		Workers: workers,
		Now:     func() time.Time { return time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC) },
	}, logger)
}

func existingRecords() []catalog.Record {
	return []catalog.Record{{
		ID:         "1",
		Title:      "Puzzle Quest",
		CategoryID: "2",
		Category:   "益智",
		Kind:       catalog.KindLocal,
		LocalPath:  "/games/puzzle-quest/index.html",
		Path:       "/games/puzzle-quest",
	}}
}

// TestRunMergesCandidates verifies accepted candidates are merged with
// sequential ids and that duplicates of existing games are dropped.
func TestRunMergesCandidates(t *testing.T) {
	ex := &scriptedExtractor{games: map[string][]Candidate{
		"alpha": {
			itchCandidate("alpha", "Star Runner", 10),
			itchCandidate("alpha", "puzzle quest", 11),
		},
		"beta": {
			itchCandidate("beta", "Moon Lander", 20),
			{Title: "Tracker", SourceURL: "https://beta.test/x", RawEmbedURL: "https://example.com/ads/tracker.js", PlatformName: "beta"},
		},
	}}
	platforms := []scraper.Platform{
		{Name: "beta", Priority: 2},
		{Name: "alpha", Priority: 1},
	}

	result, err := testOrchestrator(ex, 1).Run(context.Background(), existingRecords(), platforms, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "beta"}, ex.started)
	assert.Equal(t, map[string]int{"alpha": 5, "beta": 5}, ex.wants)

	require.Len(t, result.Added, 2)
	assert.Equal(t, "2", result.Added[0].ID)
	assert.Equal(t, "Star Runner", result.Added[0].Title)
	assert.Equal(t, "3", result.Added[1].ID)
	assert.Equal(t, "Moon Lander", result.Added[1].Title)
	assert.Len(t, result.Records, 3)
	assert.Equal(t, map[string]int{"alpha": 1, "beta": 1}, result.PerPlatform)

	require.Len(t, result.Issues, 1)
	assert.Equal(t, IssueUntrusted, result.Issues[0].Kind)
	assert.Equal(t, "beta", result.Issues[0].Platform)
}

// TestRunStopsAtTarget verifies the run is cancelled once the target is
// reached and late platforms contribute nothing.
func TestRunStopsAtTarget(t *testing.T) {
	ex := &scriptedExtractor{games: map[string][]Candidate{
		"alpha": {
			itchCandidate("alpha", "Game One", 1),
			itchCandidate("alpha", "Game Two", 2),
		},
		"beta":  {itchCandidate("beta", "Game Three", 3)},
		"gamma": {itchCandidate("gamma", "Game Four", 4)},
	}}
	platforms := []scraper.Platform{
		{Name: "alpha", Priority: 1},
		{Name: "beta", Priority: 2},
		{Name: "gamma", Priority: 3},
	}

	result, err := testOrchestrator(ex, 1).Run(context.Background(), nil, platforms, 2)
	require.NoError(t, err)

	assert.Len(t, result.Added, 2)
	assert.Equal(t, []string{"alpha", "beta"}, ex.started)
	assert.Equal(t, 1, result.PerPlatform["alpha"])
	assert.Equal(t, 1, result.PerPlatform["beta"])
}

// TestRunRecordsPlatformFailures verifies failing platforms become issues
// and do not stop the others.
func TestRunRecordsPlatformFailures(t *testing.T) {
	ex := &scriptedExtractor{
		games: map[string][]Candidate{"ok": {itchCandidate("ok", "Solid Game Title", 5)}},
		errs: map[string]error{
			"empty": fmt.Errorf("empty: %w", ErrNoPattern),
			"down":  errors.New("connection refused"),
		},
	}
	platforms := []scraper.Platform{{Name: "empty"}, {Name: "down"}, {Name: "ok"}}

	result, err := testOrchestrator(ex, 3).Run(context.Background(), nil, platforms, 3)
	require.NoError(t, err)
	require.Len(t, result.Added, 1)

	kinds := map[string]IssueKind{}
	for _, issue := range result.Issues {
		kinds[issue.Platform] = issue.Kind
	}
	assert.Equal(t, map[string]IssueKind{"empty": IssueNoPattern, "down": IssueFetch}, kinds)
}

// TestRunNothingToDo verifies a zero target or no platforms leaves the
// catalog unchanged.
func TestRunNothingToDo(t *testing.T) {
	ex := &scriptedExtractor{}
	o := testOrchestrator(ex, 2)

	result, err := o.Run(context.Background(), existingRecords(), []scraper.Platform{{Name: "a"}}, 0)
	require.NoError(t, err)
	assert.Equal(t, existingRecords(), result.Records)

	result, err = o.Run(context.Background(), existingRecords(), nil, 5)
	require.NoError(t, err)
	assert.Empty(t, result.Added)
	assert.Empty(t, ex.started)
}

// TestRunCancelled verifies a cancelled parent context fails the run
// without merging.
func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := &scriptedExtractor{games: map[string][]Candidate{"a": {itchCandidate("a", "Game One", 1)}}}
	result, err := testOrchestrator(ex, 1).Run(ctx, existingRecords(), []scraper.Platform{{Name: "a"}}, 5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Added)
}

// TestRunEndToEnd drives the real extractor and fetcher against a local
// server whose only platform has no inferable listing alongside one that
// does.
func TestRunEndToEnd(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>Nothing listed.</p></body></html>`)
	})
	mux.HandleFunc("/games", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, arcadeListing)
	})
	for i, slug := range []string{"star-runner", "moon-puzzle", "cave-quest"} {
		embed := fmt.Sprintf("https://html-classic.itch.zone/html/%d/index.html", 500+i)
		mux.HandleFunc("/"+slug, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, embedPage(embed))
		})
	}
	server := httptest.NewServer(mux)
	defer server.Close()

	logger, _ := test.NewNullLogger()
	f, err := fetcher.New(fetcher.Config{Retry: fetcher.RetryPolicy{MaxAttempts: 1}}, nil, logger)
	require.NoError(t, err)
	defer f.Close()

	ex := NewExtractor(f, testScorer(), logger)
	ex.SkipProbe = true

	platforms := []scraper.Platform{
		{Name: "Plain", BaseURL: server.URL, SearchURLs: []string{server.URL + "/plain"}, Priority: 1},
		{Name: "Arcade", BaseURL: server.URL, SearchURLs: []string{server.URL + "/games"}, ContainerPattern: ".game_cell", TitlePattern: ".title", Priority: 2},
	}

	o := NewOrchestrator(ex, testScorer(), Options{Workers: 2}, logger)
	result, err := o.Run(context.Background(), existingRecords(), platforms, 4)
	require.NoError(t, err)

	assert.Equal(t, 0, result.PerPlatform["Plain"])
	assert.Equal(t, 2, result.PerPlatform["Arcade"])
	require.Len(t, result.Added, 2)
	assert.Equal(t, "Star Runner", result.Added[0].Title)
	assert.Equal(t, catalog.KindEmbedded, result.Added[0].Kind)

	var noPattern bool
	for _, issue := range result.Issues {
		if issue.Platform == "Plain" && issue.Kind == IssueNoPattern {
			noPattern = true
		}
	}
	assert.True(t, noPattern)
}
