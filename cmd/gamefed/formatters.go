package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/pevans/gamefed/discovery"
	"github.com/pevans/gamefed/journal"
)

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// printCrawlSummary prints what a crawl added, per platform, and the issues
// met along the way when verbose.
func printCrawlSummary(out io.Writer, res *discovery.RunResult, verbose bool) {
	fmt.Fprintln(out, "Crawl completed:")
	fmt.Fprintf(out, "  Games added: %d\n", len(res.Added))
	fmt.Fprintf(out, "  Issues:      %d\n", len(res.Issues))

	if len(res.PerPlatform) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "By platform:")
		for _, name := range sortedKeys(res.PerPlatform) {
			fmt.Fprintf(out, "  %-20s %d\n", name, res.PerPlatform[name])
		}
	}

	if len(res.Added) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Added:")
		for _, r := range res.Added {
			fmt.Fprintf(out, "  [%s] %s (%s)\n", r.ID, truncate(r.Title, 60), r.Category)
		}
	}

	if verbose && len(res.Issues) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Issues:")
		for _, is := range res.Issues {
			fmt.Fprintf(out, "  - %v\n", is)
		}
	}
}

// printRunsTable prints runs in human-readable table format
func printRunsTable(out io.Writer, runs []journal.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return
	}

	fmt.Fprintf(out, "%-36s %-15s %-10s %-16s %6s %6s\n", "ID", "ACTION", "STATUS", "STARTED", "ADDED", "ISSUES")
	fmt.Fprintln(out, "----------------------------------------------------------------------------------------------------")

	for _, r := range runs {
		fmt.Fprintf(out, "%-36s %-15s %-10s %-16s %6d %6d\n",
			r.RunID.String(),
			r.Action,
			r.Status,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Added,
			r.IssueCount,
		)
	}
}

// printRunDetail prints one run and its issues.
func printRunDetail(out io.Writer, run *journal.Run, issues []journal.Issue) {
	fmt.Fprintf(out, "Run:      %s\n", run.RunID)
	fmt.Fprintf(out, "Action:   %s\n", run.Action)
	fmt.Fprintf(out, "Status:   %s\n", run.Status)
	fmt.Fprintf(out, "Started:  %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if run.FinishedAt != nil {
		fmt.Fprintf(out, "Finished: %s\n", run.FinishedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if run.Target > 0 {
		fmt.Fprintf(out, "Target:   %d\n", run.Target)
	}
	fmt.Fprintf(out, "Added:    %d\n", run.Added)
	if run.Error != nil {
		fmt.Fprintf(out, "Error:    %s\n", *run.Error)
	}

	if len(run.PerPlatform) > 0 {
		fmt.Fprintln(out, "Platforms:")
		for _, name := range sortedKeys(run.PerPlatform) {
			fmt.Fprintf(out, "  %-20s %d\n", name, run.PerPlatform[name])
		}
	}

	if len(issues) == 0 {
		return
	}
	fmt.Fprintf(out, "Issues (%d):\n", len(issues))
	for _, is := range issues {
		where := is.Platform
		if where == "" {
			where = "-"
		}
		fmt.Fprintf(out, "  [%s] %s %s\n", is.Kind, where, truncate(is.URL, 80))
		fmt.Fprintf(out, "      %s\n", is.Message)
	}
}
