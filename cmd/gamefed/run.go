package main

import (
	"github.com/sirupsen/logrus"

	"github.com/pevans/gamefed/catalog"
	"github.com/pevans/gamefed/discovery"
	"github.com/pevans/gamefed/journal"
)

// actionResult is what a catalog action reports to the journal.
type actionResult struct {
	added       int
	perPlatform map[string]int
	issues      []journal.Issue
}

func (r *actionResult) merge(other actionResult) {
	r.added += other.added
	r.issues = append(r.issues, other.issues...)
	if len(other.perPlatform) > 0 {
		if r.perPlatform == nil {
			r.perPlatform = make(map[string]int)
		}
		for k, v := range other.perPlatform {
			r.perPlatform[k] += v
		}
	}
}

// runAction runs fn and records it in the journal when one is available.
// Journal failures are logged; only fn's error is returned.
func (a *app) runAction(action string, target int, fn func() (actionResult, error)) error {
	j := a.openJournal()
	if j == nil {
		_, err := fn()
		return err
	}
	defer j.Close()

	run, err := j.StartRun(action, target)
	if err != nil {
		a.log.WithError(err).Warn("Failed to start journal run")
		_, err := fn()
		return err
	}
	log := a.log.WithFields(logrus.Fields{"run_id": run.RunID, "action": action})
	log.Debug("Run started")

	result, runErr := fn()

	if err := j.RecordIssues(run.RunID, result.issues); err != nil {
		log.WithError(err).Warn("Failed to record issues")
	}
	err = j.FinishRun(run.RunID, journal.Outcome{
		Added:       result.added,
		PerPlatform: result.perPlatform,
		Err:         runErr,
	})
	if err != nil {
		log.WithError(err).Warn("Failed to finish journal run")
	}

	return runErr
}

func discoveryIssues(issues []discovery.Issue) []journal.Issue {
	out := make([]journal.Issue, 0, len(issues))
	for _, is := range issues {
		msg := ""
		if is.Err != nil {
			msg = is.Err.Error()
		}
		out = append(out, journal.Issue{
			Platform: is.Platform,
			URL:      is.URL,
			Kind:     string(is.Kind),
			Message:  msg,
		})
	}
	return out
}

func skipIssues(kind string, skips []catalog.Skip) []journal.Issue {
	out := make([]journal.Issue, 0, len(skips))
	for _, s := range skips {
		out = append(out, journal.Issue{
			URL:     s.URL,
			Kind:    kind,
			Message: s.Title + ": " + s.Reason,
		})
	}
	return out
}
