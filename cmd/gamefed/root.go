package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pevans/gamefed/catalog"
	"github.com/pevans/gamefed/config"
	"github.com/pevans/gamefed/journal"
	"github.com/pevans/gamefed/trust"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath      string
	catalogPath     string
	journalDSN      string
	proxy           string
	strictWhitelist bool
	workers         int
	target          int
	verbose         bool
}

var rootCmd = &cobra.Command{
	Use:   "gamefed",
	Short: "Discover browser games and maintain the game catalog",
	Long: "gamefed crawls game platforms for embeddable browser games, scores their\n" +
		"embed URLs, and merges the new games into the site's catalog file.",
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.configPath, "config", "", "Config file (default ~/.gamefed/config.yaml)")
	f.StringVar(&rootFlags.catalogPath, "catalog", "", "Path to the catalog file")
	f.StringVar(&rootFlags.journalDSN, "journal", "", "Path to the run journal database")
	f.StringVar(&rootFlags.proxy, "proxy", "", "HTTP proxy as host:port (enables proxying)")
	f.BoolVar(&rootFlags.strictWhitelist, "strict-whitelist", false, "Only accept whitelisted embed hosts")
	f.IntVar(&rootFlags.workers, "workers", 0, "Platforms crawled at once")
	f.IntVar(&rootFlags.target, "target", 0, "Number of new games to find")
	f.BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Show debug output")

	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(allCmd)
	rootCmd.AddCommand(fixThumbnailsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app holds what every command needs.
type app struct {
	cfg    config.Config
	log    *logrus.Logger
	store  *catalog.Store
	scorer *trust.Scorer
}

func newLogger(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(logrus.InfoLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// loadApp builds the effective configuration: defaults, then the config
// file, then the environment, then any flags given on the command line.
func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg, err = applyFlags(cmd, cfg)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &app{
		cfg:    cfg,
		log:    newLogger(rootFlags.verbose),
		store:  catalog.NewStore(cfg.Catalog.Path, cfg.Catalog.BackupDir),
		scorer: trust.NewScorer(cfg.TrustTables(), cfg.TrustOptions()),
	}, nil
}

func applyFlags(cmd *cobra.Command, cfg config.Config) (config.Config, error) {
	flags := cmd.Flags()

	if flags.Changed("catalog") {
		cfg.Catalog.Path = rootFlags.catalogPath
	}
	if flags.Changed("journal") {
		cfg.JournalDSN = rootFlags.journalDSN
	}
	if flags.Changed("strict-whitelist") {
		cfg.Trust.StrictWhitelist = rootFlags.strictWhitelist
	}
	if flags.Changed("workers") {
		cfg.Crawl.Workers = rootFlags.workers
	}
	if flags.Changed("target") {
		cfg.Crawl.Target = rootFlags.target
	}
	if flags.Changed("proxy") {
		host, port, err := net.SplitHostPort(rootFlags.proxy)
		if err != nil {
			return cfg, fmt.Errorf("invalid --proxy: %w", err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return cfg, fmt.Errorf("invalid --proxy port: %w", err)
		}
		cfg.Proxy = config.ProxyConfig{Enabled: true, Host: host, Port: p}
	}

	return cfg, nil
}

// openJournal opens the run journal. The journal only records history, so
// a failure to open it is logged and the command carries on without it.
func (a *app) openJournal() *journal.Store {
	if a.cfg.JournalDSN == "" {
		return nil
	}
	j, err := journal.Open(a.cfg.JournalDSN)
	if err != nil {
		a.log.WithError(err).Warn("Run journal unavailable")
		return nil
	}
	return j
}

// loadCatalog reads the catalog, logging any blocks that had to be dropped
// and any fields that could not be read.
func (a *app) loadCatalog() (*catalog.Catalog, error) {
	cat, err := a.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", a.store.Path(), err)
	}
	for _, d := range cat.Dropped {
		a.log.WithFields(logrus.Fields{"index": d.Index, "reason": d.Reason, "snippet": d.Snippet}).Warn("Dropped malformed catalog entry")
	}
	for _, w := range cat.Warnings {
		a.log.WithFields(logrus.Fields{"id": w.ID, "field": w.Field, "reason": w.Reason}).Warn("Ignored unreadable catalog field")
	}
	return cat, nil
}

func (a *app) saveCatalog(cat *catalog.Catalog, records []catalog.Record) (*catalog.Catalog, error) {
	saved, err := a.store.Save(cat, records)
	if err != nil {
		return nil, fmt.Errorf("failed to write catalog %s: %w", a.store.Path(), err)
	}
	a.log.WithFields(logrus.Fields{"path": a.store.Path(), "games": len(records)}).Info("Catalog saved")
	return saved, nil
}
