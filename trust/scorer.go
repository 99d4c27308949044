package trust

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/net/publicsuffix"
)

// DefaultThreshold is the minimum Stage 3 score for acceptance.
const DefaultThreshold = 50

const (
	maxURLLength  = 500
	minHostLength = 4
	maxHostLength = 80
	longHost      = 50

	weightGamePath   = 25
	weightGameFile   = 20
	weightHostWord   = 15
	weightTrustedCDN = 30
	weightHTTPS      = 10
	weightQuery      = 10
	penaltyOddPort   = 10
	penaltySuspect   = 20
	penaltyLongHost  = 15
	penaltyDigitRun  = 10
)

var digitRun = regexp.MustCompile(`\d{4,}`)

// Verdict is the outcome of scoring a URL.
type Verdict int

const (
	// Rejected failed the structural filter, or strict mode is on and the
	// URL is not whitelisted.
	Rejected Verdict = iota
	// Trusted matched the embeddable domain whitelist.
	Trusted
	// ScoredAccept reached the threshold on heuristic signals.
	ScoredAccept
	// ScoredReject fell below the threshold.
	ScoredReject
)

func (v Verdict) String() string {
	switch v {
	case Rejected:
		return "rejected"
	case Trusted:
		return "trusted"
	case ScoredAccept:
		return "scored-accept"
	case ScoredReject:
		return "scored-reject"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Accepted reports whether the verdict admits the URL for embedding.
func (v Verdict) Accepted() bool {
	return v == Trusted || v == ScoredAccept
}

// ScoreResult is the full outcome of Score. Score is only meaningful for the
// scored verdicts.
type ScoreResult struct {
	URL     string
	Score   int
	Verdict Verdict
	Reasons []string
}

// Tables holds the pattern lists the scorer works from.
type Tables struct {
	Denylist         []string `yaml:"denylist"`
	BadTLDs          []string `yaml:"bad_tlds"`
	Whitelist        []string `yaml:"whitelist"`
	TrustedCDNs      []string `yaml:"trusted_cdns"`
	GamePaths        []string `yaml:"game_paths"`
	GameFiles        []string `yaml:"game_files"`
	HostKeywords     []string `yaml:"host_keywords"`
	QueryKeywords    []string `yaml:"query_keywords"`
	SuspiciousWords  []string `yaml:"suspicious_words"`
	NormalPorts      []int    `yaml:"normal_ports"`
	PrivateHostWords []string `yaml:"private_host_words"`
}

// DefaultTables returns the built-in pattern lists.
func DefaultTables() Tables {
	return Tables{
		Denylist: []string{
			"ads", "analytics", "tracking", "social", "comment", "chat",
			"youtube", "vimeo", "twitter", "facebook", "instagram",
			"discord", "reddit", "forum", "feedback", "survey",
			"advertisement", "banner", "popup", "cookie", "gdpr",
			"newsletter", "signup", "login", "register", "captcha",
			"recaptcha", "cloudflare", "error", "404", "403",
		},
		BadTLDs: []string{"tk", "ml", "ga", "cf", "click", "download"},
		Whitelist: []string{
			"html-classic.itch.zone", "v6p9d9t4.ssl.hwcdn.net",
			"kdata.itch.zone", "assets.itch.zone",
			"uploads.ungrounded.net", "www.newgrounds.com/portal/view",
			"newgrounds.com/portal",
			"gamejolt.net", "cdn.gamejolt.net",
			"crazygames.com/embed", "embed.crazygames.com",
			"files.crazygames.com", "assets.crazygames.com",
			"html5.gamedistribution.com", "game-cdn.gamedistribution.com",
			"gd-hbcontent.htmlgames.com",
			"cdn2.scratch.mit.edu", "uploads.scratch.mit.edu",
			"projects.scratch.mit.edu",
			"static.miniplay.com", "games.miniplay.com", "cdn.miniplay.com",
			"poki.com/embed", "embed.poki.com", "game-cdn.poki.com",
			"kongregate.com/games", "armor.ag/onstage",
		},
		TrustedCDNs: []string{
			".itch.zone", ".hwcdn.net", ".gamedistribution.com",
			".armorgames.com", ".kongregate.com", ".newgrounds.com",
			".crazygames.com", ".poki.com", ".y8.com",
			"cloudfront.net", "amazonaws.com", "github.io",
		},
		GamePaths: []string{
			"/game/", "/games/", "/play/", "/embed/", "/player/", "/html5/",
			"/swf/", "/flash/", "/unity/", "/webgl/", "/canvas/",
		},
		GameFiles: []string{
			"game.html", "index.html", "main.html", "play.html",
			"game.js", "main.js", "app.js", "bundle.js",
		},
		HostKeywords: []string{
			"game", "play", "arcade", "html5", "flash", "unity",
			"embed", "cdn", "assets", "static", "media",
		},
		QueryKeywords: []string{"game", "play", "embed", "id="},
		SuspiciousWords: []string{
			"redirect", "proxy", "mirror", "fake", "spam",
			"ad", "ads", "banner", "popup",
		},
		NormalPorts:      []int{80, 443, 8080, 3000},
		PrivateHostWords: []string{"localhost"},
	}
}

// Options tunes the scorer's decisions. A zero Threshold accepts every
// structurally valid URL.
type Options struct {
	Threshold       int
	StrictWhitelist bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{Threshold: DefaultThreshold}
}

// Scorer decides whether a URL is safe to embed. It holds no mutable state
// and is safe for concurrent use.
type Scorer struct {
	tables Tables
	opts   Options
}

// NewScorer creates a scorer.
func NewScorer(tables Tables, opts Options) *Scorer {
	lower := func(in []string) []string {
		out := make([]string, len(in))
		for i, s := range in {
			out[i] = strings.ToLower(s)
		}
		return out
	}

	return &Scorer{
		tables: Tables{
			Denylist:         lower(tables.Denylist),
			BadTLDs:          lower(tables.BadTLDs),
			Whitelist:        lower(tables.Whitelist),
			TrustedCDNs:      lower(tables.TrustedCDNs),
			GamePaths:        lower(tables.GamePaths),
			GameFiles:        lower(tables.GameFiles),
			HostKeywords:     lower(tables.HostKeywords),
			QueryKeywords:    lower(tables.QueryKeywords),
			SuspiciousWords:  lower(tables.SuspiciousWords),
			NormalPorts:      slices.Clone(tables.NormalPorts),
			PrivateHostWords: lower(tables.PrivateHostWords),
		},
		opts: opts,
	}
}

// Threshold returns the acceptance threshold in use.
func (s *Scorer) Threshold() int {
	return s.opts.Threshold
}

// Accepts is shorthand for Score(...).Verdict.Accepted().
func (s *Scorer) Accepts(candidateURL, baseURL string) bool {
	return s.Score(candidateURL, baseURL).Verdict.Accepted()
}

// IsWhitelisted reports whether rawURL matches an embeddable domain entry.
func (s *Scorer) IsWhitelisted(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return s.whitelisted(u)
}

// Score resolves candidateURL against baseURL and classifies it.
func (s *Scorer) Score(candidateURL, baseURL string) ScoreResult {
	u, err := resolve(candidateURL, baseURL)
	if err != nil {
		return ScoreResult{
			URL:     candidateURL,
			Verdict: Rejected,
			Reasons: []string{fmt.Sprintf("unparseable url: %v", err)},
		}
	}

	res := ScoreResult{URL: u.String()}

	if reason, ok := s.structural(u); !ok {
		res.Verdict = Rejected
		res.Reasons = append(res.Reasons, reason)
		return res
	}

	if s.whitelisted(u) {
		res.Verdict = Trusted
		res.Reasons = append(res.Reasons, "whitelisted domain")
		return res
	}

	if s.opts.StrictWhitelist {
		res.Verdict = Rejected
		res.Reasons = append(res.Reasons, "strict whitelist mode")
		return res
	}

	res.Score, res.Reasons = s.heuristic(u)
	if res.Score >= s.opts.Threshold {
		res.Verdict = ScoredAccept
	} else {
		res.Verdict = ScoredReject
	}

	return res
}

func resolve(candidateURL, baseURL string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(candidateURL))
	if err != nil {
		return nil, err
	}
	if baseURL == "" {
		return ref, nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(ref), nil
}

func (s *Scorer) structural(u *url.URL) (string, bool) {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("scheme %q is not http or https", u.Scheme), false
	}

	full := strings.ToLower(u.String())
	if p, ok := firstToken(tokenize(full), s.tables.Denylist); ok {
		return fmt.Sprintf("denylisted pattern %q", p), false
	}

	host := strings.ToLower(u.Hostname())

	if suffix, _ := publicsuffix.PublicSuffix(host); suffix != "" {
		for _, tld := range s.tables.BadTLDs {
			if suffix == tld || strings.HasSuffix(suffix, "."+tld) {
				return fmt.Sprintf("suspicious top level domain %q", tld), false
			}
		}
	}

	if len(full) > maxURLLength {
		return fmt.Sprintf("url longer than %d characters", maxURLLength), false
	}

	if len(host) < minHostLength || len(host) > maxHostLength {
		return fmt.Sprintf("host length %d outside [%d,%d]", len(host), minHostLength, maxHostLength), false
	}

	if isPrivateHost(host, s.tables.PrivateHostWords) {
		return fmt.Sprintf("private or local host %q", host), false
	}

	return "", true
}

func isPrivateHost(host string, words []string) bool {
	for _, w := range words {
		if strings.Contains(host, w) {
			return true
		}
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

func (s *Scorer) whitelisted(u *url.URL) bool {
	host := strings.ToLower(u.Host)
	full := strings.ToLower(u.String())
	for _, entry := range s.tables.Whitelist {
		if strings.Contains(host, entry) || strings.Contains(full, entry) {
			return true
		}
	}
	return false
}

func firstContained(s string, patterns []string) (string, bool) {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return p, true
		}
	}
	return "", false
}

// tokenize splits s into runs of letters and digits, so "uploads" stays one
// token and never matches "ads".
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// hasTokens reports whether want appears in tokens as a contiguous run.
func hasTokens(tokens, want []string) bool {
	if len(want) == 0 {
		return false
	}
	for i := 0; i+len(want) <= len(tokens); i++ {
		if slices.Equal(tokens[i:i+len(want)], want) {
			return true
		}
	}
	return false
}

// firstToken returns the first pattern whose tokens occur in tokens. A
// pattern such as "ad-server" matches the token run "ad", "server".
func firstToken(tokens, patterns []string) (string, bool) {
	for _, p := range patterns {
		if hasTokens(tokens, tokenize(p)) {
			return p, true
		}
	}
	return "", false
}

func (s *Scorer) heuristic(u *url.URL) (int, []string) {
	var (
		score   int
		reasons []string
	)

	add := func(delta int, format string, args ...any) {
		score += delta
		reasons = append(reasons, fmt.Sprintf("%+d ", delta)+fmt.Sprintf(format, args...))
	}

	host := strings.ToLower(u.Hostname())
	path := strings.ToLower(u.Path)

	if p, ok := firstContained(path, s.tables.GamePaths); ok {
		add(weightGamePath, "game path %q", p)
	}
	if p, ok := firstContained(path, s.tables.GameFiles); ok {
		add(weightGameFile, "game file %q", p)
	}
	if p, ok := firstContained(host, s.tables.HostKeywords); ok {
		add(weightHostWord, "host keyword %q", p)
	}
	if p, ok := firstContained(host, s.tables.TrustedCDNs); ok {
		add(weightTrustedCDN, "trusted host %q", p)
	}
	if u.Scheme == "https" {
		add(weightHTTPS, "https")
	}

	if portText := u.Port(); portText != "" {
		port, err := strconv.Atoi(portText)
		if err == nil && !slices.Contains(s.tables.NormalPorts, port) {
			add(-penaltyOddPort, "unusual port %d", port)
		}
	}

	if u.RawQuery != "" {
		if p, ok := firstContained(strings.ToLower(u.RawQuery), s.tables.QueryKeywords); ok {
			add(weightQuery, "query keyword %q", p)
		}
	}

	hostTokens := tokenize(host)
	for _, w := range s.tables.SuspiciousWords {
		if hasTokens(hostTokens, tokenize(w)) {
			add(-penaltySuspect, "suspicious host keyword %q", w)
		}
	}

	if len(host) > longHost {
		add(-penaltyLongHost, "host longer than %d", longHost)
	}

	if digitRun.MatchString(host) {
		add(-penaltyDigitRun, "host has a long digit run")
	}

	return max(0, score), reasons
}
