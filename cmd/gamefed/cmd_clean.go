package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pevans/gamefed/catalog"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Drop invalid and duplicate games from the catalog",
	Args:  cobra.NoArgs,
	RunE:  runClean,
}

func runClean(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}

	return a.runAction("clean", 0, func() (actionResult, error) {
		return a.clean(cmd.OutOrStdout())
	})
}

// clean validates every record, removes duplicates and rewrites the
// catalog when anything was dropped.
func (a *app) clean(out io.Writer) (actionResult, error) {
	cat, err := a.loadCatalog()
	if err != nil {
		return actionResult{}, err
	}

	kept, skipped := catalog.Clean(cat.Records, a.scorer)
	result := actionResult{issues: skipIssues("clean", skipped)}

	for _, s := range skipped {
		a.log.WithFields(logrus.Fields{
			"title":  s.Title,
			"url":    s.URL,
			"reason": s.Reason,
		}).Info("Removed game")
	}

	if len(skipped) > 0 || len(cat.Dropped) > 0 {
		if _, err := a.saveCatalog(cat, kept); err != nil {
			return result, err
		}
	}

	fmt.Fprintf(out, "Clean completed:\n")
	fmt.Fprintf(out, "  Games kept:    %d\n", len(kept))
	fmt.Fprintf(out, "  Games removed: %d\n", len(skipped))
	if len(cat.Dropped) > 0 {
		fmt.Fprintf(out, "  Malformed entries dropped: %d\n", len(cat.Dropped))
	}
	return result, nil
}
