package selector

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// MinScore is the floor a pattern must exceed to be returned by Infer.
const MinScore = 5

const (
	minContainers = 3
	maxContainers = 100
	sampleSize    = 10
)

// ContainerPatterns are tried in order when inferring the repeating game
// container on a listing page.
var ContainerPatterns = []string{
	".game", ".game-item", ".game-card", ".game-cell", ".game-tile",
	".game-thumbnail", ".game-box", ".game-entry", ".game-listing",
	`[class*="game"]`, `[class*="item"]`, `[class*="card"]`,
	`[class*="thumb"]`, `[class*="entry"]`, `[id*="game"]`, `[id*="item"]`,
	".item", ".card", ".entry", ".box", ".tile", ".cell", ".thumbnail",
	".thumb", ".listing", ".product",
}

// TitlePatterns are tried in order within each candidate container.
var TitlePatterns = []string{
	".title", ".name", ".game-title", ".game-name", ".item-title",
	".card-title", ".entry-title", ".product-title",
	"h1", "h2", "h3", "h4", ".heading",
	`[class*="title"]`, `[class*="name"]`, `[class*="heading"]`,
	"a", ".link",
}

// fallbackTitlePatterns are used by FindTitle when a container has no
// configured or inferred title selector that matches.
var fallbackTitlePatterns = []string{
	".title", ".name", ".game-title", ".game-name",
	"h1", "h2", "h3", "h4",
	`[class*="title"]`, `[class*="name"]`, "a[href]",
}

var deniedWords = map[string]bool{
	"menu": true, "navigation": true, "header": true, "footer": true,
	"sidebar": true, "advertisement": true, "ad": true, "sponsor": true,
	"login": true, "register": true, "search": true, "filter": true,
	"sort": true, "category": true, "tag": true, "more": true, "next": true,
	"previous": true, "home": true, "about": true, "contact": true,
	"privacy": true, "terms": true,
}

var deniedPhrases = []string{"view all", "load more"}

// Pattern is an inferred container/title selector pair.
type Pattern struct {
	Container string
	Title     string
	Score     int
}

// Infer finds the container and title selector pair that best describes the
// repeating game items on doc. It returns false when no pair scores above
// MinScore.
func Infer(doc *goquery.Document) (Pattern, bool) {
	var best Pattern

	for _, container := range ContainerPatterns {
		items := doc.Find(container)
		count := items.Length()
		if count < minContainers || count > maxContainers {
			continue
		}

		for _, title := range TitlePatterns {
			score := scorePair(items, title)
			if score > best.Score {
				best = Pattern{Container: container, Title: title, Score: score}
			}
		}
	}

	if best.Score <= MinScore {
		return Pattern{}, false
	}

	return best, true
}

func scorePair(items *goquery.Selection, title string) int {
	count := items.Length()
	sample := items.Slice(0, min(count, sampleSize))
	n := sample.Length()

	score := 0
	titles, links := 0, 0

	sample.Each(func(_ int, item *goquery.Selection) {
		text := Normalize(item.Find(title).First().Text())
		if IsValidTitle(text) {
			score += 2
			titles++
		}

		hasLink := item.Is("a[href]") || item.Find("a[href]").Length() > 0
		if hasLink {
			score++
			links++
		}

		if hasLink && Normalize(item.Text()) != "" {
			score++
		}
	})

	if n > 0 {
		score += int(float64(titles) / float64(n) * 15)
		score += int(float64(links) / float64(n) * 5)
	}

	switch {
	case count >= 5 && count <= 50:
		score += 5
	case count >= minContainers && count <= maxContainers:
		score += 3
	}

	return score
}

// Normalize collapses runs of whitespace to single spaces.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// IsValidTitle reports whether s looks like a game title rather than page
// chrome such as navigation or paging links.
func IsValidTitle(s string) bool {
	s = Normalize(s)

	n := utf8.RuneCountInString(s)
	if n < 2 || n > 100 {
		return false
	}

	lower := strings.ToLower(s)
	for _, phrase := range deniedPhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}

	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if deniedWords[w] {
			return false
		}
	}

	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

// FindTitle looks for a plausible title inside item using, in order, the
// given selector, the fallback selectors, and finally title and alt
// attributes.
func FindTitle(item *goquery.Selection, preferred string) (string, bool) {
	patterns := fallbackTitlePatterns
	if preferred != "" {
		patterns = append([]string{preferred}, fallbackTitlePatterns...)
	}

	for _, p := range patterns {
		text := Normalize(item.Find(p).First().Text())
		if IsValidTitle(text) {
			return text, true
		}
	}

	for _, attr := range []struct{ sel, name string }{
		{"a[title]", "title"},
		{"img[alt]", "alt"},
	} {
		v, _ := item.Find(attr.sel).First().Attr(attr.name)
		v = Normalize(v)
		if IsValidTitle(v) {
			return v, true
		}
	}

	return "", false
}
