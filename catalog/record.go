package catalog

import (
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// Kind is how a game is served.
type Kind string

const (
	// KindEmbedded games are shown in an iframe pointing at EmbedURL.
	KindEmbedded Kind = "iframe"
	// KindLocal games are served from LocalPath inside the site.
	KindLocal Kind = "static"
)

// Title length bounds, in runes.
const (
	MinTitleLength = 3
	MaxTitleLength = 100
)

// DefaultThumbnail is assigned when no thumbnail is known.
const DefaultThumbnail = "/games/thumbnails/default.jpg"

// Record is one game entry in the catalog.
type Record struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	CategoryID  string   `json:"categoryId"`
	Thumbnail   string   `json:"thumbnail"`
	Path        string   `json:"path"`
	Featured    bool     `json:"featured"`
	Kind        Kind     `json:"type"`
	EmbedURL    string   `json:"iframeUrl,omitempty"`
	LocalPath   string   `json:"staticPath,omitempty"`
	AddedAt     string   `json:"addedAt"`
	Tags        []string `json:"tags"`
}

// Location returns the URL or path the game is served from.
func (r Record) Location() string {
	if r.Kind == KindEmbedded {
		return r.EmbedURL
	}
	return r.LocalPath
}

// Category is one entry of the catalog's category list. Count is derived
// from the records on every serialize.
type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Count       int    `json:"count"`
	Slug        string `json:"slug"`
}

// Category slugs used by Classify.
const (
	SlugCasual = "casual"
	SlugPuzzle = "puzzle"
	SlugAction = "action"
	SlugCard   = "card"
	SlugSports = "sports"
	SlugBoard  = "board"
)

// DefaultCategories is the category list of a fresh catalog.
func DefaultCategories() []Category {
	return []Category{
		{ID: "1", Name: "休闲", Description: "简单有趣的休闲游戏，适合所有年龄段玩家", Slug: SlugCasual},
		{ID: "2", Name: "益智", Description: "锻炼大脑的益智游戏，提升思维能力", Slug: SlugPuzzle},
		{ID: "3", Name: "动作", Description: "刺激的动作游戏，考验你的反应速度", Slug: SlugAction},
		{ID: "4", Name: "卡牌", Description: "卡牌和棋牌类游戏，策略与运气的结合", Slug: SlugCard},
		{ID: "5", Name: "体育", Description: "各类体育模拟游戏，感受体育竞技的乐趣", Slug: SlugSports},
		{ID: "6", Name: "棋盘", Description: "经典的棋盘游戏，考验战略思维", Slug: SlugBoard},
	}
}

var classifyRules = []struct {
	slug     string
	keywords []string
}{
	{SlugPuzzle, []string{"puzzle", "brain", "logic", "match", "sudoku", "tetris", "益智", "谜题"}},
	{SlugAction, []string{"action", "shoot", "fight", "run", "jump", "platform", "动作", "射击"}},
	{SlugCard, []string{"card", "poker", "solitaire", "blackjack", "卡牌", "纸牌"}},
	{SlugSports, []string{"sport", "football", "soccer", "basketball", "tennis", "体育", "足球"}},
	{SlugBoard, []string{"chess", "checkers", "board", "strategy", "棋盘", "象棋"}},
}

// Classify returns the category slug for a game title.
func Classify(title string) string {
	lower := strings.ToLower(title)
	for _, rule := range classifyRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.slug
			}
		}
	}
	return SlugCasual
}

// CategoryBySlug finds the category with slug, falling back to the first
// category.
func CategoryBySlug(categories []Category, slug string) (Category, bool) {
	for _, c := range categories {
		if c.Slug == slug {
			return c, true
		}
	}
	if len(categories) > 0 {
		return categories[0], false
	}
	return Category{}, false
}

// CategoryByID finds the category with id.
func CategoryByID(categories []Category, id string) (Category, bool) {
	for _, c := range categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

var (
	titlePolicy = bluemonday.StrictPolicy()

	titleNoise = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\s*-\s*play\s+online.*$`),
		regexp.MustCompile(`(?i)\s*\|\s*free\s+game.*$`),
		regexp.MustCompile(`(?i)\s*-\s*browser\s+game.*$`),
		regexp.MustCompile(`(?i)\s*-?\s*online\s*$`),
		regexp.MustCompile(`(?i)^\s*play\s+`),
		regexp.MustCompile(`(?i)\s+game\s*$`),
	}
)

// CleanTitle strips markup and listing boilerplate such as "Play ..." or
// "- Play Online" from a scraped title.
func CleanTitle(title string) string {
	title = html.UnescapeString(titlePolicy.Sanitize(title))
	title = strings.Join(strings.Fields(title), " ")
	for _, re := range titleNoise {
		title = re.ReplaceAllString(title, "")
	}
	return strings.TrimSpace(title)
}

// ValidTitle reports whether title satisfies the catalog length bounds.
func ValidTitle(title string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(title))
	return n >= MinTitleLength && n <= MaxTitleLength
}

// TitleKey is the case-insensitive identity of a title.
func TitleKey(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// URLKey is the identity of a game location: scheme and host lowercased,
// fragment and trailing slash dropped.
func URLKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a title into a URL path segment. Titles without ASCII
// letters or digits yield an empty slug.
func Slugify(title string) string {
	return strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(title), "-"), "-")
}
