package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"

	"github.com/pevans/gamefed/catalog"
	"github.com/pevans/gamefed/fetcher"
	"github.com/pevans/gamefed/scraper"
	"github.com/pevans/gamefed/selector"
	"github.com/pevans/gamefed/trust"
)

// PageFetcher retrieves pages. *fetcher.Fetcher implements it.
type PageFetcher interface {
	Body(ctx context.Context, rawURL string) ([]byte, error)
	Document(ctx context.Context, rawURL string) (*goquery.Document, error)
	Probe(ctx context.Context, rawURL string) (fetcher.ProbeResult, error)
}

// URLScorer classifies embed URLs. *trust.Scorer implements it.
type URLScorer interface {
	Score(candidateURL, baseURL string) trust.ScoreResult
	IsWhitelisted(rawURL string) bool
}

// Sink receives what an extraction produces.
type Sink interface {
	// Known reports whether a game with this title is already taken, so
	// its detail page need not be fetched.
	Known(title string) bool
	// Offer hands over a candidate and reports whether it was accepted.
	Offer(c Candidate) bool
	Report(issue Issue)
}

// lead is a listing entry that still needs its embed URL resolved.
type lead struct {
	title     string
	link      string
	thumbnail string
}

// Extractor turns platform listings into candidates.
type Extractor struct {
	fetch  PageFetcher
	scorer URLScorer
	log    logrus.FieldLogger

	mu      sync.Mutex
	visited *bloom.BloomFilter

	// SkipProbe disables the HEAD playability check.
	SkipProbe bool
}

func NewExtractor(fetch PageFetcher, scorer URLScorer, log logrus.FieldLogger) *Extractor {
	return &Extractor{
		fetch:   fetch,
		scorer:  scorer,
		log:     log,
		visited: bloom.NewWithEstimates(100000, 0.0001),
	}
}

// firstVisit marks link as visited and reports whether it was new.
func (e *Extractor) firstVisit(link string) bool {
	key := []byte(catalog.URLKey(link))

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.visited.Test(key) {
		return false
	}
	e.visited.Add(key)
	return true
}

// Extract walks the platform's feeds and then its search pages in order,
// offering candidates to sink until want of them are accepted. It returns
// the number accepted. A platform without manual patterns whose first
// listing page yields no inferable pattern fails with ErrNoPattern.
func (e *Extractor) Extract(ctx context.Context, p scraper.Platform, want int, sink Sink) (int, error) {
	log := e.log.WithField("platform", p.Name)
	found := 0

	for _, feedURL := range p.FeedURLs {
		if found >= want || ctx.Err() != nil {
			return found, ctx.Err()
		}
		found += e.extractFeed(ctx, p, feedURL, want-found, sink)
	}

	pattern := selector.Pattern{Container: p.ContainerPattern, Title: p.TitlePattern}
	havePattern := p.HasManualPatterns()

	for _, pageURL := range p.SearchURLs {
		if found >= want || ctx.Err() != nil {
			return found, ctx.Err()
		}

		doc, err := e.fetch.Document(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return found, ctx.Err()
			}
			sink.Report(Issue{Platform: p.Name, URL: pageURL, Kind: IssueFetch, Err: err})
			continue
		}

		if !havePattern {
			inferred, ok := selector.Infer(doc)
			if !ok {
				return found, fmt.Errorf("%s: %w", p.Name, ErrNoPattern)
			}
			pattern, havePattern = inferred, true
			log.WithFields(logrus.Fields{
				"container": pattern.Container,
				"title":     pattern.Title,
				"score":     pattern.Score,
			}).Info("Inferred item pattern")
		}

		leads := listingLeads(doc, pageURL, pattern, p.LinkPattern)
		log.WithFields(logrus.Fields{"url": pageURL, "items": len(leads)}).Debug("Scanned listing")

		for _, l := range leads {
			if found >= want || ctx.Err() != nil {
				break
			}
			if e.consider(ctx, p, l, sink) {
				found++
			}
		}
	}

	return found, ctx.Err()
}

// listingLeads collects title, link and thumbnail from every item matching
// the container pattern.
func listingLeads(doc *goquery.Document, pageURL string, pattern selector.Pattern, linkPattern string) []lead {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	if linkPattern == "" {
		linkPattern = "a[href]"
	}

	var leads []lead
	doc.Find(pattern.Container).Each(func(_ int, item *goquery.Selection) {
		title, ok := selector.FindTitle(item, pattern.Title)
		if !ok {
			return
		}

		href, ok := item.Find(linkPattern).First().Attr("href")
		if !ok && item.Is("a[href]") {
			href, ok = item.Attr("href")
		}
		if !ok {
			return
		}
		link := resolveRef(base, href)
		if link == "" {
			return
		}

		leads = append(leads, lead{
			title:     title,
			link:      link,
			thumbnail: extractThumbnail(item, base),
		})
	})

	return leads
}

// extractFeed offers the entries of an RSS or Atom listing. It returns the
// number accepted.
func (e *Extractor) extractFeed(ctx context.Context, p scraper.Platform, feedURL string, want int, sink Sink) int {
	body, err := e.fetch.Body(ctx, feedURL)
	if err != nil {
		if ctx.Err() == nil {
			sink.Report(Issue{Platform: p.Name, URL: feedURL, Kind: IssueFetch, Err: err})
		}
		return 0
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		sink.Report(Issue{Platform: p.Name, URL: feedURL, Kind: IssueFeed, Err: fmt.Errorf("failed to parse feed: %w", err)})
		return 0
	}

	base, _ := url.Parse(feedURL)
	found := 0
	for _, item := range feed.Items {
		if found >= want || ctx.Err() != nil {
			break
		}

		l := lead{title: selector.Normalize(item.Title), link: resolveRef(base, item.Link)}
		if !selector.IsValidTitle(l.title) || l.link == "" {
			continue
		}
		if item.Image != nil {
			l.thumbnail = resolveRef(base, item.Image.URL)
		}
		for _, enc := range item.Enclosures {
			if l.thumbnail == "" && strings.HasPrefix(enc.Type, "image/") {
				l.thumbnail = resolveRef(base, enc.URL)
			}
		}

		if e.consider(ctx, p, l, sink) {
			found++
		}
	}
	return found
}

// consider resolves a lead into a candidate and offers it. It reports
// whether the sink accepted the candidate.
func (e *Extractor) consider(ctx context.Context, p scraper.Platform, l lead, sink Sink) bool {
	title := catalog.CleanTitle(l.title)
	if !catalog.ValidTitle(title) || sink.Known(title) {
		return false
	}
	if !e.firstVisit(l.link) {
		return false
	}

	embedURL, err := e.ResolveEmbed(ctx, l.link)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		kind := IssueFetch
		if errors.Is(err, ErrNoEmbed) {
			kind = IssueNoEmbed
		}
		sink.Report(Issue{Platform: p.Name, URL: l.link, Kind: kind, Err: err})
		return false
	}

	if !e.SkipProbe && !e.Playable(ctx, embedURL) {
		if ctx.Err() == nil {
			sink.Report(Issue{Platform: p.Name, URL: embedURL, Kind: IssueUnplayable, Err: ErrNotPlayable})
		}
		return false
	}

	accepted := sink.Offer(Candidate{
		Title:        title,
		SourceURL:    l.link,
		RawEmbedURL:  embedURL,
		ThumbnailURL: l.thumbnail,
		PlatformName: p.Name,
	})
	if accepted {
		e.log.WithFields(logrus.Fields{
			"platform": p.Name,
			"title":    title,
			"url":      embedURL,
		}).Info("Found game")
	}
	return accepted
}

func resolveRef(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

var (
	imageExts     = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}
	imageKeywords = []string{"thumb", "preview", "cover", "image"}
)

// extractThumbnail returns the first image in item that looks like a
// thumbnail, resolved against base.
func extractThumbnail(item *goquery.Selection, base *url.URL) string {
	var thumb string
	item.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		for _, attr := range []string{"src", "data-src", "data-lazy"} {
			src, ok := img.Attr(attr)
			if !ok || src == "" {
				continue
			}
			full := resolveRef(base, src)
			if full != "" && isImageURL(full) {
				thumb = full
				return false
			}
		}
		return true
	})
	return thumb
}

func isImageURL(raw string) bool {
	lower := strings.ToLower(raw)
	if u, err := url.Parse(lower); err == nil {
		for _, ext := range imageExts {
			if strings.HasSuffix(u.Path, ext) {
				return true
			}
		}
	}
	for _, kw := range imageKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
