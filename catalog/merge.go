package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pevans/gamefed/trust"
)

var (
	ErrDuplicateTitle = errors.New("a game with this title already exists")
	ErrDuplicateURL   = errors.New("a game with this url already exists")
	ErrInvalidTitle   = fmt.Errorf("title must be %d to %d characters", MinTitleLength, MaxTitleLength)
	ErrUntrustedEmbed = errors.New("embed url was not accepted")
	ErrNoLocation     = errors.New("game needs an embed url or a local path")
	ErrUnknownKind    = errors.New("type must be iframe or static")
)

// Candidate is a discovered game not yet in the catalog.
type Candidate struct {
	Title        string
	SourceURL    string
	RawEmbedURL  string
	ThumbnailURL string
	LocalPath    string
	PlatformName string
}

// EmbedScorer classifies embed URLs. *trust.Scorer implements it.
type EmbedScorer interface {
	Score(candidateURL, baseURL string) trust.ScoreResult
}

// MergeOptions configures Merge and Add.
type MergeOptions struct {
	Scorer     EmbedScorer
	Categories []Category
	Now        func() time.Time
}

func (o MergeOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o MergeOptions) categories() []Category {
	if len(o.Categories) > 0 {
		return o.Categories
	}
	return DefaultCategories()
}

// Skip is a candidate Merge did not admit.
type Skip struct {
	Title  string
	URL    string
	Reason string
}

// MergeReport lists what Merge did.
type MergeReport struct {
	Added   []Record
	Skipped []Skip
}

// index tracks the identity keys and id sequence of a record set.
type index struct {
	titles map[string]bool
	urls   map[string]bool
	paths  map[string]bool
	maxID  int
}

func newIndex(records []Record) *index {
	ix := &index{
		titles: make(map[string]bool, len(records)),
		urls:   make(map[string]bool, len(records)),
		paths:  make(map[string]bool, len(records)),
	}
	for _, r := range records {
		ix.add(r)
	}
	return ix
}

func (ix *index) add(r Record) {
	ix.titles[TitleKey(r.Title)] = true
	if k := URLKey(r.Location()); k != "" {
		ix.urls[k] = true
	}
	if r.Path != "" {
		ix.paths[r.Path] = true
	}
	if n, err := strconv.Atoi(r.ID); err == nil && n > ix.maxID {
		ix.maxID = n
	}
}

func (ix *index) conflict(title, location string) error {
	if ix.titles[TitleKey(title)] {
		return ErrDuplicateTitle
	}
	if k := URLKey(location); k != "" && ix.urls[k] {
		return ErrDuplicateURL
	}
	return nil
}

func (ix *index) nextID() string {
	return strconv.Itoa(ix.maxID + 1)
}

func (ix *index) pathFor(title, id string) string {
	slug := Slugify(title)
	if slug == "" {
		slug = id
	}
	p := "/games/" + slug
	if ix.paths[p] {
		p += "-" + id
	}
	return p
}

// resolveLocation decides the kind and location of a new game, scoring the
// embed URL if there is one.
func resolveLocation(embedURL, baseURL, localPath string, scorer EmbedScorer) (Kind, string, error) {
	if embedURL != "" {
		if scorer == nil {
			return "", "", fmt.Errorf("%w: no scorer configured", ErrUntrustedEmbed)
		}
		res := scorer.Score(embedURL, baseURL)
		if !res.Verdict.Accepted() {
			return "", "", fmt.Errorf("%w: %s (%s)", ErrUntrustedEmbed, res.Verdict, strings.Join(res.Reasons, "; "))
		}
		return KindEmbedded, res.URL, nil
	}
	if localPath != "" {
		return KindLocal, localPath, nil
	}
	return "", "", ErrNoLocation
}

// Merge appends the admissible candidates to existing. A candidate is
// skipped when its cleaned title is out of bounds, its embed URL is not
// accepted by the scorer, or its title or location duplicates an existing
// or earlier candidate. Admitted candidates get sequential numeric ids.
func Merge(existing []Record, incoming []Candidate, opts MergeOptions) ([]Record, MergeReport) {
	var report MergeReport

	out := make([]Record, len(existing), len(existing)+len(incoming))
	copy(out, existing)

	ix := newIndex(existing)
	categories := opts.categories()
	today := opts.now().Format("2006-01-02")

	for _, c := range incoming {
		title := CleanTitle(c.Title)
		skip := func(reason error) {
			report.Skipped = append(report.Skipped, Skip{
				Title:  c.Title,
				URL:    c.RawEmbedURL,
				Reason: reason.Error(),
			})
		}

		if !ValidTitle(title) {
			skip(ErrInvalidTitle)
			continue
		}

		kind, location, err := resolveLocation(c.RawEmbedURL, c.SourceURL, c.LocalPath, opts.Scorer)
		if err != nil {
			skip(err)
			continue
		}

		if err := ix.conflict(title, location); err != nil {
			skip(err)
			continue
		}

		cat, _ := CategoryBySlug(categories, Classify(title))
		id := ix.nextID()

		rec := Record{
			ID:          id,
			Title:       title,
			Description: describe(c.PlatformName),
			Category:    cat.Name,
			CategoryID:  cat.ID,
			Thumbnail:   c.ThumbnailURL,
			Path:        ix.pathFor(title, id),
			Kind:        kind,
			AddedAt:     today,
			Tags:        tagsFor(c.PlatformName),
		}
		if rec.Thumbnail == "" {
			rec.Thumbnail = DefaultThumbnail
		}
		if kind == KindEmbedded {
			rec.EmbedURL = location
		} else {
			rec.LocalPath = location
		}

		ix.add(rec)
		out = append(out, rec)
		report.Added = append(report.Added, rec)
	}

	return out, report
}

func describe(platform string) string {
	if platform == "" {
		return "HTML5 game"
	}
	return "HTML5 game from " + platform
}

func tagsFor(platform string) []string {
	tags := []string{"HTML5", "Online"}
	if platform != "" {
		tags = append(tags, platform)
	}
	return tags
}

// Add validates a fully described record and appends it to existing with
// the next id. ID and AddedAt are assigned; Path is derived from the title
// when empty. The record's category must exist in opts.Categories.
func Add(existing []Record, rec Record, opts MergeOptions) ([]Record, Record, error) {
	rec.Title = CleanTitle(rec.Title)
	if !ValidTitle(rec.Title) {
		return existing, Record{}, ErrInvalidTitle
	}

	cat, ok := CategoryByID(opts.categories(), rec.CategoryID)
	if !ok {
		return existing, Record{}, fmt.Errorf("unknown category id %q", rec.CategoryID)
	}

	var (
		location string
		err      error
	)
	switch rec.Kind {
	case KindEmbedded:
		rec.Kind, location, err = resolveLocation(rec.EmbedURL, "", "", opts.Scorer)
		rec.EmbedURL, rec.LocalPath = location, ""
	case KindLocal:
		rec.Kind, location, err = resolveLocation("", "", rec.LocalPath, opts.Scorer)
		rec.EmbedURL = ""
	default:
		err = ErrUnknownKind
	}
	if err != nil {
		return existing, Record{}, err
	}

	ix := newIndex(existing)
	if err := ix.conflict(rec.Title, location); err != nil {
		return existing, Record{}, err
	}

	rec.ID = ix.nextID()
	rec.Category = cat.Name
	rec.AddedAt = opts.now().Format("2006-01-02")
	if rec.Path == "" {
		rec.Path = ix.pathFor(rec.Title, rec.ID)
	}
	if rec.Thumbnail == "" {
		rec.Thumbnail = DefaultThumbnail
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}

	out := make([]Record, len(existing), len(existing)+1)
	copy(out, existing)
	return append(out, rec), rec, nil
}
