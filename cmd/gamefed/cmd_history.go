package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pevans/gamefed/journal"
)

var historyFlags struct {
	action string
	limit  int
	offset int
	format string
}

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past runs, or the issues of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	f := historyCmd.Flags()
	f.StringVar(&historyFlags.action, "action", "", "Only show runs of this action")
	f.IntVar(&historyFlags.limit, "limit", 20, "Maximum number of runs")
	f.IntVar(&historyFlags.offset, "offset", 0, "Number of runs to skip")
	f.StringVar(&historyFlags.format, "format", "table", "Output format (table or json)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	if historyFlags.format != "table" && historyFlags.format != "json" {
		return fmt.Errorf("invalid format %q: must be table or json", historyFlags.format)
	}

	j, err := journal.Open(a.cfg.JournalDSN)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer j.Close()

	out := cmd.OutOrStdout()

	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run ID: %w", err)
		}
		run, err := j.GetRun(id)
		if errors.Is(err, journal.ErrRunNotFound) {
			return fmt.Errorf("run %s not found", id)
		}
		if err != nil {
			return err
		}
		issues, err := j.ListIssues(id)
		if err != nil {
			return err
		}

		if historyFlags.format == "json" {
			return printJSON(out, map[string]any{"run": run, "issues": issues})
		}
		printRunDetail(out, run, issues)
		return nil
	}

	runs, err := j.ListRuns(journal.RunFilter{
		Action: historyFlags.action,
		Limit:  historyFlags.limit,
		Offset: historyFlags.offset,
	})
	if err != nil {
		return err
	}

	if historyFlags.format == "json" {
		return printJSON(out, runs)
	}
	printRunsTable(out, runs)
	return nil
}
