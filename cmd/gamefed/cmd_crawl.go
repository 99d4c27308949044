package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pevans/gamefed/discovery"
	"github.com/pevans/gamefed/fetcher"
	"github.com/pevans/gamefed/ratelimit"
)

var crawlFlags struct {
	skipProbe bool
}

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Discover new games and add them to the catalog",
	Args:  cobra.NoArgs,
	RunE:  runCrawl,
}

func init() {
	crawlCmd.Flags().BoolVar(&crawlFlags.skipProbe, "skip-probe", false, "Do not HEAD-check embed URLs")
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.runAction("crawl", a.cfg.Crawl.Target, func() (actionResult, error) {
		return a.crawl(ctx, cmd.OutOrStdout())
	})
}

func (a *app) newFetcher() (*fetcher.Fetcher, error) {
	limiter := ratelimit.New(a.cfg.DelayTable(),
		ratelimit.WithCooldown(a.cfg.Crawl.RateLimitCooldown),
		ratelimit.WithLogger(a.log),
	)

	return fetcher.New(fetcher.Config{
		Timeout:      a.cfg.Crawl.RequestTimeout,
		ProbeTimeout: a.cfg.Crawl.ProbeTimeout,
		UserAgents:   a.cfg.Crawl.UserAgents,
		Proxy:        a.cfg.ProxyURL(),
		Retry: fetcher.RetryPolicy{
			MaxAttempts: a.cfg.Crawl.RetryAttempts,
			Backoff:     a.cfg.Crawl.RetryBackoff,
		},
		RespectRobots: a.cfg.Crawl.RespectRobots,
		CacheSizeMB:   a.cfg.Crawl.CacheSizeMB,
	}, limiter, a.log)
}

// crawl runs the orchestrator over the configured platforms and saves the
// catalog when games were added. An interrupted crawl saves nothing.
func (a *app) crawl(ctx context.Context, out io.Writer) (actionResult, error) {
	cat, err := a.loadCatalog()
	if err != nil {
		return actionResult{}, err
	}

	f, err := a.newFetcher()
	if err != nil {
		return actionResult{}, err
	}
	defer f.Close()

	extractor := discovery.NewExtractor(f, a.scorer, a.log)
	extractor.SkipProbe = crawlFlags.skipProbe

	orch := discovery.NewOrchestrator(extractor, a.scorer, discovery.Options{
		Workers:    a.cfg.Crawl.Workers,
		Categories: cat.Categories,
	}, a.log)

	res, err := orch.Run(ctx, cat.Records, a.cfg.Platforms, a.cfg.Crawl.Target)
	result := actionResult{
		perPlatform: res.PerPlatform,
		issues:      discoveryIssues(res.Issues),
	}
	if err != nil {
		return result, fmt.Errorf("crawl interrupted: %w", err)
	}

	if len(res.Added) > 0 {
		if _, err := a.saveCatalog(cat, res.Records); err != nil {
			return result, err
		}
	}
	result.added = len(res.Added)

	printCrawlSummary(out, res, rootFlags.verbose)
	return result, nil
}
