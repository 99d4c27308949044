package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pevans/gamefed/catalog"
	"github.com/pevans/gamefed/scraper"
)

// DefaultWorkers is the number of platforms crawled at once.
const DefaultWorkers = 3

// PlatformExtractor produces candidates for one platform. *Extractor
// implements it.
type PlatformExtractor interface {
	Extract(ctx context.Context, p scraper.Platform, want int, sink Sink) (int, error)
}

// Options configures an Orchestrator.
type Options struct {
	Workers    int
	Categories []catalog.Category
	Now        func() time.Time
}

// Orchestrator crawls platforms concurrently and merges what they find into
// the catalog.
type Orchestrator struct {
	extractor PlatformExtractor
	scorer    catalog.EmbedScorer
	opts      Options
	log       logrus.FieldLogger
}

func NewOrchestrator(extractor PlatformExtractor, scorer catalog.EmbedScorer, opts Options, log logrus.FieldLogger) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Orchestrator{
		extractor: extractor,
		scorer:    scorer,
		opts:      opts,
		log:       log,
	}
}

// RunResult is the outcome of a crawl.
type RunResult struct {
	// Records is the full catalog after the merge.
	Records     []catalog.Record
	Added       []catalog.Record
	Issues      []Issue
	PerPlatform map[string]int
}

// event is sent from platform tasks to the collector. A candidate event
// carries a reply channel for the verdict.
type event struct {
	candidate *Candidate
	reply     chan bool
	issue     *Issue
}

// collector is the single owner of the accepted set during a run.
type collector struct {
	target   int
	scorer   catalog.EmbedScorer
	dedup    *Deduplicator
	cancel   context.CancelFunc
	log      logrus.FieldLogger
	accepted []Candidate
	issues   []Issue
	counts   map[string]int
}

func (c *collector) run(events <-chan event) {
	for ev := range events {
		if ev.issue != nil {
			c.issues = append(c.issues, *ev.issue)
			c.log.WithFields(logrus.Fields{
				"platform": ev.issue.Platform,
				"url":      ev.issue.URL,
				"kind":     ev.issue.Kind,
			}).WithError(ev.issue.Err).Warn("Skipped")
			continue
		}
		ev.reply <- c.admit(*ev.candidate)
	}
}

func (c *collector) admit(cand Candidate) bool {
	if len(c.accepted) >= c.target {
		return false
	}

	if !catalog.ValidTitle(catalog.CleanTitle(cand.Title)) {
		c.issues = append(c.issues, Issue{Platform: cand.PlatformName, URL: cand.SourceURL, Kind: IssueInvalid, Err: catalog.ErrInvalidTitle})
		return false
	}

	if cand.RawEmbedURL != "" {
		res := c.scorer.Score(cand.RawEmbedURL, cand.SourceURL)
		if !res.Verdict.Accepted() {
			c.issues = append(c.issues, Issue{Platform: cand.PlatformName, URL: cand.RawEmbedURL, Kind: IssueUntrusted, Err: catalog.ErrUntrustedEmbed})
			return false
		}
		cand.RawEmbedURL = res.URL
	}

	if !c.dedup.Admit(cand) {
		c.log.WithFields(logrus.Fields{"platform": cand.PlatformName, "title": cand.Title}).Debug("Duplicate candidate")
		return false
	}

	c.accepted = append(c.accepted, cand)
	c.counts[cand.PlatformName]++
	if len(c.accepted) >= c.target {
		c.log.WithField("target", c.target).Info("Target reached, stopping crawl")
		c.cancel()
	}
	return true
}

// platformSink forwards one platform's output to the collector.
type platformSink struct {
	dedup  *Deduplicator
	events chan<- event
}

func (s platformSink) Known(title string) bool {
	return s.dedup.Known(title)
}

func (s platformSink) Offer(c Candidate) bool {
	reply := make(chan bool, 1)
	s.events <- event{candidate: &c, reply: reply}
	return <-reply
}

func (s platformSink) Report(issue Issue) {
	s.events <- event{issue: &issue}
}

// Run crawls platforms in priority order, at most Workers at a time, each
// asked for ceil(target/len(platforms)) games. The crawl stops as soon as
// target candidates are accepted; those are then merged into existing in
// one pass. Platform failures become Issues. Run only fails when ctx is
// cancelled, in which case nothing is merged.
func (o *Orchestrator) Run(ctx context.Context, existing []catalog.Record, platforms []scraper.Platform, target int) (*RunResult, error) {
	result := &RunResult{
		Records:     existing,
		PerPlatform: make(map[string]int),
	}
	if target <= 0 || len(platforms) == 0 {
		return result, nil
	}

	platforms = scraper.SortByPriority(platforms)
	share := (target + len(platforms) - 1) / len(platforms)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	dedup := NewDeduplicator()
	dedup.Seed(existing)

	col := &collector{
		target: target,
		scorer: o.scorer,
		dedup:  dedup,
		cancel: cancel,
		log:    o.log,
		counts: result.PerPlatform,
	}

	events := make(chan event)
	done := make(chan struct{})
	go func() {
		defer close(done)
		col.run(events)
	}()

	sink := platformSink{dedup: dedup, events: events}

	o.log.WithFields(logrus.Fields{
		"platforms": len(platforms),
		"target":    target,
		"share":     share,
		"workers":   o.opts.Workers,
	}).Info("Starting crawl")

	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	for _, p := range platforms {
		g.Go(func() error {
			if runCtx.Err() != nil {
				return nil
			}

			log := o.log.WithField("platform", p.Name)
			log.Info("Crawling platform")

			n, err := o.extractor.Extract(runCtx, p, share, sink)
			if err != nil && !errors.Is(err, context.Canceled) {
				kind := IssueFetch
				if errors.Is(err, ErrNoPattern) {
					kind = IssueNoPattern
				}
				sink.Report(Issue{Platform: p.Name, Kind: kind, Err: err})
			}

			log.WithField("found", n).Info("Finished platform")
			return nil
		})
	}
	_ = g.Wait()

	close(events)
	<-done

	result.Issues = col.issues

	if err := ctx.Err(); err != nil {
		return result, err
	}

	records, report := catalog.Merge(existing, col.accepted, catalog.MergeOptions{
		Scorer:     o.scorer,
		Categories: o.opts.Categories,
		Now:        o.opts.Now,
	})
	for _, skip := range report.Skipped {
		result.Issues = append(result.Issues, Issue{
			URL:  skip.URL,
			Kind: IssueMerge,
			Err:  errors.New(skip.Reason),
		})
	}

	result.Records = records
	result.Added = report.Added

	o.log.WithFields(logrus.Fields{
		"added":  len(report.Added),
		"issues": len(result.Issues),
	}).Info("Crawl finished")

	return result, nil
}
