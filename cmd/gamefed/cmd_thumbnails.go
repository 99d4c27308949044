package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pevans/gamefed/catalog"
)

var fixThumbnailsCmd = &cobra.Command{
	Use:   "fix-thumbnails",
	Short: "Point games at existing thumbnail files or the default image",
	Args:  cobra.NoArgs,
	RunE:  runFixThumbnails,
}

func runFixThumbnails(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}

	return a.runAction("fix-thumbnails", 0, func() (actionResult, error) {
		return a.fixThumbnails(cmd.OutOrStdout())
	})
}

func (a *app) fixThumbnails(out io.Writer) (actionResult, error) {
	cat, err := a.loadCatalog()
	if err != nil {
		return actionResult{}, err
	}

	records, changed := catalog.FixThumbnails(cat.Records, a.cfg.Catalog.ThumbnailsDir)
	if changed > 0 {
		if _, err := a.saveCatalog(cat, records); err != nil {
			return actionResult{}, err
		}
	}

	fmt.Fprintf(out, "Thumbnails updated: %d of %d games\n", changed, len(records))
	return actionResult{}, nil
}
