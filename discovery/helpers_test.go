package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/pevans/gamefed/fetcher"
	"github.com/pevans/gamefed/trust"
)

// fakeFetcher serves canned pages keyed by URL. Unknown URLs fail with a
// 404 status error.
type fakeFetcher struct {
	mu        sync.Mutex
	pages     map[string]string
	errs      map[string]error
	probes    map[string]fetcher.ProbeResult
	requested []string
}

func newFakeFetcher(pages map[string]string) *fakeFetcher {
	return &fakeFetcher{
		pages:  pages,
		errs:   map[string]error{},
		probes: map[string]fetcher.ProbeResult{},
	}
}

func (f *fakeFetcher) Body(ctx context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, rawURL)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	page, ok := f.pages[rawURL]
	if !ok {
		return nil, &fetcher.StatusError{URL: rawURL, StatusCode: 404}
	}
	return []byte(page), nil
}

func (f *fakeFetcher) Document(ctx context.Context, rawURL string) (*goquery.Document, error) {
	body, err := f.Body(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(string(body)))
}

func (f *fakeFetcher) Probe(ctx context.Context, rawURL string) (fetcher.ProbeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.errs[rawURL]; ok {
		return fetcher.ProbeResult{}, err
	}
	if res, ok := f.probes[rawURL]; ok {
		return res, nil
	}
	return fetcher.ProbeResult{StatusCode: 200, ContentType: "text/html; charset=utf-8"}, nil
}

func (f *fakeFetcher) wasRequested(rawURL string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requested {
		if r == rawURL {
			return true
		}
	}
	return false
}

// recordingSink accepts every offer and keeps what it was given.
type recordingSink struct {
	mu       sync.Mutex
	known    map[string]bool
	accepted []Candidate
	issues   []Issue
}

func (s *recordingSink) Known(title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known[strings.ToLower(title)]
}

func (s *recordingSink) Offer(c Candidate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted = append(s.accepted, c)
	return true
}

func (s *recordingSink) Report(issue Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues = append(s.issues, issue)
}

func testScorer() *trust.Scorer {
	return trust.NewScorer(trust.DefaultTables(), trust.DefaultOptions())
}

func newTestExtractor(f PageFetcher) *Extractor {
	logger, _ := test.NewNullLogger()
	return NewExtractor(f, testScorer(), logger)
}

func embedPage(src string) string {
	return fmt.Sprintf(`<html><body><iframe src=%q width="800" height="600"></iframe></body></html>`, src)
}
