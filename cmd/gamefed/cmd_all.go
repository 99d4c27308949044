package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Clean the catalog, crawl for new games, then fix thumbnails",
	Args:  cobra.NoArgs,
	RunE:  runAll,
}

func init() {
	allCmd.Flags().BoolVar(&crawlFlags.skipProbe, "skip-probe", false, "Do not HEAD-check embed URLs")
}

func runAll(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	return a.runAction("all", a.cfg.Crawl.Target, func() (actionResult, error) {
		var total actionResult

		res, err := a.clean(out)
		total.merge(res)
		if err != nil {
			return total, err
		}

		res, err = a.crawl(ctx, out)
		total.merge(res)
		if err != nil {
			return total, err
		}

		res, err = a.fixThumbnails(out)
		total.merge(res)
		return total, err
	})
}
