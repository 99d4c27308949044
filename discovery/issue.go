package discovery

import (
	"errors"
	"fmt"

	"github.com/pevans/gamefed/catalog"
)

// Candidate is a discovered game on its way to the catalog.
type Candidate = catalog.Candidate

var (
	ErrNoPattern   = errors.New("no item pattern found")
	ErrNoEmbed     = errors.New("no embeddable game url found")
	ErrNotPlayable = errors.New("embed url did not look playable")
)

// IssueKind classifies a non-fatal problem met during a run.
type IssueKind string

const (
	IssueFetch      IssueKind = "fetch"
	IssueNoPattern  IssueKind = "no-pattern"
	IssueFeed       IssueKind = "feed"
	IssueNoEmbed    IssueKind = "no-embed"
	IssueUnplayable IssueKind = "unplayable"
	IssueUntrusted  IssueKind = "untrusted"
	IssueInvalid    IssueKind = "invalid"
	IssueMerge      IssueKind = "merge"
)

// Issue is a non-fatal error attributed to a platform and URL.
type Issue struct {
	Platform string
	URL      string
	Kind     IssueKind
	Err      error
}

func (i Issue) Error() string {
	if i.URL == "" {
		return fmt.Sprintf("%s: %s: %v", i.Platform, i.Kind, i.Err)
	}
	return fmt.Sprintf("%s: %s: %s: %v", i.Platform, i.Kind, i.URL, i.Err)
}

func (i Issue) Unwrap() error {
	return i.Err
}
