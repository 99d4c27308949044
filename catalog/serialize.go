package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultTemplate is the source text of an empty catalog. Serialize fills
// its two regions.
const DefaultTemplate = `import { Game, Category } from '../types';

export const categories: Category[] = [
];

export const games: Game[] = [
];

export const getFeaturedGames = (): Game[] => {
  return games.filter(game => game.featured);
};

export const getRecentGames = (limit: number = 8): Game[] => {
  return [...games]
    .sort((a, b) => new Date(b.addedAt).getTime() - new Date(a.addedAt).getTime())
    .slice(0, limit);
};

export const getGamesByCategory = (categoryId: string): Game[] => {
  return games.filter(game => game.categoryId === categoryId);
};

export const getGameById = (id: string): Game | undefined => {
  return games.find(game => game.id === id);
};

export const getCategoryById = (id: string): Category | undefined => {
  return categories.find(category => category.id === id);
};
`

// CountCategories returns a copy of categories with Count set to the number
// of records in each.
func CountCategories(records []Record, categories []Category) []Category {
	counts := make(map[string]int, len(categories))
	for _, r := range records {
		counts[r.CategoryID]++
	}

	out := make([]Category, len(categories))
	for i, c := range categories {
		c.Count = counts[c.ID]
		out[i] = c
	}
	return out
}

func renderCategories(categories []Category) string {
	var b strings.Builder
	for _, c := range categories {
		fmt.Fprintf(&b, "  { id: %s, name: %s, description: %s, count: %d, slug: %s },\n",
			quote(c.ID), quote(c.Name), quote(c.Description), c.Count, quote(c.Slug))
	}
	return b.String()
}

func renderRecord(b *strings.Builder, r Record) {
	line := func(key, val string) {
		fmt.Fprintf(b, "    %s: %s,\n", key, val)
	}

	b.WriteString("  {\n")
	line("id", quote(r.ID))
	line("title", quote(r.Title))
	line("description", quote(r.Description))
	line("category", quote(r.Category))
	line("categoryId", quote(r.CategoryID))
	line("thumbnail", quote(r.Thumbnail))
	line("path", quote(r.Path))
	line("featured", strconv.FormatBool(r.Featured))
	line("type", quote(string(r.Kind)))
	if r.EmbedURL != "" {
		line("iframeUrl", quote(r.EmbedURL))
	}
	if r.LocalPath != "" {
		line("staticPath", quote(r.LocalPath))
	}
	line("addedAt", quote(r.AddedAt))

	tags := make([]string, len(r.Tags))
	for i, t := range r.Tags {
		tags[i] = quote(t)
	}
	fmt.Fprintf(b, "    tags: [%s]\n", strings.Join(tags, ", "))
	b.WriteString("  }")
}

func renderRecords(records []Record) string {
	var b strings.Builder
	for i, r := range records {
		renderRecord(&b, r)
		if i < len(records)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// replaceRegion swaps the body of the region after marker for body, leaving
// everything outside the brackets untouched.
func replaceRegion(text, marker, body string) (string, error) {
	start, end, err := findRegion(text, marker)
	if err != nil {
		return "", err
	}
	return text[:start] + "\n" + body + text[end:], nil
}

// Serialize renders records and categories into base, which must contain
// both region markers. An empty base means DefaultTemplate. Category counts
// are recomputed from records; text outside the two regions is preserved.
func Serialize(base string, records []Record, categories []Category) (string, error) {
	if base == "" {
		base = DefaultTemplate
	}

	text, err := replaceRegion(base, CategoriesMarker, renderCategories(CountCategories(records, categories)))
	if err != nil {
		return "", fmt.Errorf("failed to render categories: %w", err)
	}

	text, err = replaceRegion(text, GamesMarker, renderRecords(records))
	if err != nil {
		return "", fmt.Errorf("failed to render games: %w", err)
	}

	return text, nil
}
