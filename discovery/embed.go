package discovery

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/pevans/gamefed/fetcher"
)

const (
	gameIframes   = `iframe[src*="game"], iframe[class*="game"], iframe[id*="game"]`
	embedElements = `[data-game-url], [data-embed-url], [data-src*="game"], [class*="embed"], [id*="embed"], [class*="player"], [id*="player"]`
)

var (
	embedAttrs         = []string{"data-game-url", "data-embed-url", "data-src", "src"}
	iframeAttrWords    = []string{"game", "play", "embed", "player"}
	iframePathWords    = []string{"/game/", "/play/", "/embed/"}
	playableMediaTypes = []string{"text/html", "application/javascript", "text/javascript", "application/json"}
)

// ResolveEmbed fetches a game's detail page and returns the URL that should
// be embedded for it. When the page refuses access, an embed URL inferred
// from the page URL is used instead if the platform has a known layout.
func (e *Extractor) ResolveEmbed(ctx context.Context, pageURL string) (string, error) {
	doc, err := e.fetch.Document(ctx, pageURL)
	if err != nil {
		if errors.Is(err, fetcher.ErrAccessDenied) {
			if inferred, ok := InferEmbedURL(pageURL); ok {
				e.log.WithFields(logrus.Fields{"url": pageURL, "embed": inferred}).Debug("Inferred embed url after 403")
				return inferred, nil
			}
		}
		return "", err
	}

	if embed, ok := e.findEmbed(doc, pageURL); ok {
		return embed, nil
	}
	return "", ErrNoEmbed
}

// accepted scores raw against base and returns the resolved URL if the
// scorer lets it through.
func (e *Extractor) accepted(raw, base string) (string, bool) {
	if raw == "" {
		return "", false
	}
	res := e.scorer.Score(raw, base)
	return res.URL, res.Verdict.Accepted()
}

type rankedIframe struct {
	url   string
	score int
}

// findEmbed looks for the game on a detail page: iframes that announce
// themselves as games first, then every acceptable iframe by rank, then
// data attributes, then platform-specific markup.
func (e *Extractor) findEmbed(doc *goquery.Document, pageURL string) (string, bool) {
	var found string
	doc.Find(gameIframes).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if u, ok := e.accepted(src, pageURL); ok {
			found = u
			return false
		}
		return true
	})
	if found != "" {
		return found, true
	}

	var ranked []rankedIframe
	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if u, ok := e.accepted(src, pageURL); ok {
			ranked = append(ranked, rankedIframe{url: u, score: e.iframeScore(s, u)})
		}
	})
	if len(ranked) > 0 {
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].score > ranked[j].score
		})
		return ranked[0].url, true
	}

	doc.Find(embedElements).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range embedAttrs {
			v, _ := s.Attr(attr)
			if u, ok := e.accepted(v, pageURL); ok {
				found = u
				return false
			}
		}
		return true
	})
	if found != "" {
		return found, true
	}

	return platformEmbed(doc, pageURL)
}

// iframeScore ranks an acceptable iframe: whitelisted hosts first, then
// game-like attributes, paths and dimensions.
func (e *Extractor) iframeScore(s *goquery.Selection, resolved string) int {
	score := 0
	if e.scorer.IsWhitelisted(resolved) {
		score += 100
	}

	class, _ := s.Attr("class")
	id, _ := s.Attr("id")
	if containsAny(strings.ToLower(class+" "+id), iframeAttrWords) {
		score += 50
	}

	if containsAny(strings.ToLower(resolved), iframePathWords) {
		score += 30
	}

	width, _ := s.Attr("width")
	height, _ := s.Attr("height")
	w, werr := strconv.Atoi(strings.TrimSpace(width))
	h, herr := strconv.Atoi(strings.TrimSpace(height))
	if werr == nil && herr == nil && w >= 300 && w <= 1920 && h >= 200 && h <= 1080 {
		score += 20
	}

	return score
}

// platformEmbed handles hosts whose game pages link to the game rather
// than embed it.
func platformEmbed(doc *goquery.Document, pageURL string) (string, bool) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(base.Hostname())

	var selectors string
	var attrs []string
	switch {
	case strings.Contains(host, "itch.io"):
		selectors, attrs = `a[href*="html"], .button[href*="html"]`, []string{"href"}
	case strings.Contains(host, "gamejolt.com"):
		selectors, attrs = `[class*="game-embed"], [id*="game-embed"]`, []string{"src", "data-src"}
	case strings.Contains(host, "newgrounds.com"):
		selectors, attrs = `a[href*="/portal/view/"]`, []string{"href"}
	default:
		return "", false
	}

	var found string
	doc.Find(selectors).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range attrs {
			if v, ok := s.Attr(attr); ok {
				if u := resolveRef(base, v); u != "" {
					found = u
					return false
				}
			}
		}
		return true
	})
	return found, found != ""
}

// InferEmbedURL derives an embed URL from a game page URL on hosts with a
// predictable layout.
func InferEmbedURL(pageURL string) (string, bool) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	path := strings.TrimSuffix(u.Path, "/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	last := parts[len(parts)-1]

	switch {
	case strings.Contains(host, "gamejolt.com"):
		if len(parts) >= 3 && parts[0] == "games" {
			return "https://gamejolt.net/games/embed/" + last, true
		}
	case strings.Contains(host, "itch.io"):
		if path != "" {
			return u.Scheme + "://" + u.Host + path + "/embed", true
		}
	case strings.Contains(host, "newgrounds.com"):
		if strings.Contains(path, "/portal/view/") {
			return pageURL, true
		}
	case strings.Contains(host, "kongregate.com"):
		if strings.Contains(path, "/games/") && last != "" {
			return "https://www.kongregate.com/games/" + last + "/embed", true
		}
	case strings.Contains(host, "crazygames.com"):
		if strings.Contains(path, "/game/") {
			return "https://embed.crazygames.com" + path, true
		}
	}

	return "", false
}

// Playable sends a HEAD request to embedURL. It passes with a 200 and an
// HTML, script or JSON content type. A whitelisted URL also passes when the
// host refuses the probe or times out.
func (e *Extractor) Playable(ctx context.Context, embedURL string) bool {
	log := e.log.WithField("url", embedURL)

	res, err := e.fetch.Probe(ctx, embedURL)
	if err != nil {
		if isTimeout(err) && e.scorer.IsWhitelisted(embedURL) {
			log.Info("Whitelisted embed timed out, accepting")
			return true
		}
		log.WithError(err).Debug("Probe failed")
		return false
	}

	if res.StatusCode == http.StatusForbidden && e.scorer.IsWhitelisted(embedURL) {
		log.Info("Whitelisted embed refused probe, accepting")
		return true
	}
	if res.StatusCode != http.StatusOK {
		log.WithField("status", res.StatusCode).Debug("Embed probe status")
		return false
	}

	if containsAny(strings.ToLower(res.ContentType), playableMediaTypes) {
		return true
	}
	log.WithField("content_type", res.ContentType).Debug("Embed content type not playable")
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
