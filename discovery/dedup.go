package discovery

import (
	"sync"

	"github.com/pevans/gamefed/catalog"
)

// Deduplicator remembers the titles and embed URLs already in the catalog or
// admitted during the current run. It is safe for concurrent use.
type Deduplicator struct {
	mu     sync.Mutex
	titles map[string]bool
	urls   map[string]bool
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		titles: make(map[string]bool),
		urls:   make(map[string]bool),
	}
}

// Seed marks every record's title and location as seen.
func (d *Deduplicator) Seed(records []catalog.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range records {
		d.titles[catalog.TitleKey(r.Title)] = true
		if k := catalog.URLKey(r.Location()); k != "" {
			d.urls[k] = true
		}
	}
}

// Known reports whether a game with this title was already seen.
func (d *Deduplicator) Known(title string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.titles[catalog.TitleKey(catalog.CleanTitle(title))]
}

// Admit records c and returns true if neither its title nor its embed URL
// has been seen. A rejected candidate leaves the sets unchanged.
func (d *Deduplicator) Admit(c Candidate) bool {
	title := catalog.TitleKey(catalog.CleanTitle(c.Title))
	location := c.RawEmbedURL
	if location == "" {
		location = c.LocalPath
	}
	u := catalog.URLKey(location)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.titles[title] || (u != "" && d.urls[u]) {
		return false
	}

	d.titles[title] = true
	if u != "" {
		d.urls[u] = true
	}
	return true
}
