package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Region markers in the catalog source.
const (
	CategoriesMarker = "export const categories: Category[] = ["
	GamesMarker      = "export const games: Game[] = ["
)

// ErrRegionNotFound means a region marker or its closing bracket is missing.
var ErrRegionNotFound = errors.New("catalog region not found")

// DroppedBlock is a record block that could not be turned into a Record.
type DroppedBlock struct {
	Index   int
	Reason  string
	Snippet string
}

// FieldWarning is a field of a kept record whose value could not be read.
// The field is left unset on the record.
type FieldWarning struct {
	Index  int
	ID     string
	Field  string
	Reason string
}

// ExtractResult is the outcome of Extract.
type ExtractResult struct {
	Records  []Record
	Dropped  []DroppedBlock
	Warnings []FieldWarning
}

type valueKind int

const (
	stringValue valueKind = iota
	boolValue
	intValue
	listValue
)

type value struct {
	str  string
	b    bool
	n    int
	list []string
}

type fieldRule[T any] struct {
	kind valueKind
	set  func(*T, value)
}

// fieldPattern matches one `key: value` pair. The value is parsed by kind.
var fieldPattern = regexp.MustCompile(`(?s)^([A-Za-z_][A-Za-z0-9_]*)\s*:\s*(.*)$`)

var recordFields = map[string]fieldRule[Record]{
	"id":          {stringValue, func(r *Record, v value) { r.ID = v.str }},
	"title":       {stringValue, func(r *Record, v value) { r.Title = v.str }},
	"description": {stringValue, func(r *Record, v value) { r.Description = v.str }},
	"category":    {stringValue, func(r *Record, v value) { r.Category = v.str }},
	"categoryId":  {stringValue, func(r *Record, v value) { r.CategoryID = v.str }},
	"thumbnail":   {stringValue, func(r *Record, v value) { r.Thumbnail = v.str }},
	"path":        {stringValue, func(r *Record, v value) { r.Path = v.str }},
	"featured":    {boolValue, func(r *Record, v value) { r.Featured = v.b }},
	"type":        {stringValue, func(r *Record, v value) { r.Kind = Kind(v.str) }},
	"iframeUrl":   {stringValue, func(r *Record, v value) { r.EmbedURL = v.str }},
	"staticPath":  {stringValue, func(r *Record, v value) { r.LocalPath = v.str }},
	"addedAt":     {stringValue, func(r *Record, v value) { r.AddedAt = v.str }},
	"tags":        {listValue, func(r *Record, v value) { r.Tags = v.list }},
}

var categoryFields = map[string]fieldRule[Category]{
	"id":          {stringValue, func(c *Category, v value) { c.ID = v.str }},
	"name":        {stringValue, func(c *Category, v value) { c.Name = v.str }},
	"description": {stringValue, func(c *Category, v value) { c.Description = v.str }},
	"count":       {intValue, func(c *Category, v value) { c.Count = v.n }},
	"slug":        {stringValue, func(c *Category, v value) { c.Slug = v.str }},
}

func parseValue(kind valueKind, raw string) (value, error) {
	raw = strings.TrimSpace(raw)

	switch kind {
	case stringValue:
		if s, ok := unquote(raw); ok {
			return value{str: s}, nil
		}
		// Unquoted numbers are accepted for ids and the like.
		if _, err := strconv.ParseFloat(raw, 64); err == nil {
			return value{str: raw}, nil
		}
		return value{}, fmt.Errorf("expected string, got %q", raw)
	case boolValue:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return value{}, fmt.Errorf("expected boolean, got %q", raw)
		}
		return value{b: b}, nil
	case intValue:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return value{}, fmt.Errorf("expected integer, got %q", raw)
		}
		return value{n: n}, nil
	case listValue:
		if len(raw) < 2 || raw[0] != '[' || raw[len(raw)-1] != ']' {
			return value{}, fmt.Errorf("expected list, got %q", raw)
		}
		var list []string
		for _, item := range splitTopLevel(raw[1:len(raw)-1], ',') {
			s, ok := unquote(item)
			if !ok {
				return value{}, fmt.Errorf("expected string list item, got %q", item)
			}
			list = append(list, s)
		}
		return value{list: list}, nil
	}

	return value{}, fmt.Errorf("unknown value kind %d", kind)
}

type fieldError struct {
	field string
	err   error
}

// parseBlock fills a T from the fields of one object body. Unknown keys are
// ignored. A field whose value does not parse is left unset and reported.
func parseBlock[T any](block string, rules map[string]fieldRule[T]) (T, []fieldError) {
	var (
		out  T
		errs []fieldError
	)

	for _, field := range splitTopLevel(block, ',') {
		m := fieldPattern.FindStringSubmatch(field)
		if m == nil {
			continue
		}
		rule, ok := rules[m[1]]
		if !ok {
			continue
		}
		v, err := parseValue(rule.kind, m[2])
		if err != nil {
			errs = append(errs, fieldError{field: m[1], err: err})
			continue
		}
		rule.set(&out, v)
	}

	return out, errs
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 80 {
		return string(r[:80]) + "..."
	}
	return s
}

// Extract reads the game records out of catalog source text. Blocks that
// lack an id or a title are skipped and reported in Dropped. Other fields
// that do not parse are left unset and reported in Warnings.
func Extract(text string) (*ExtractResult, error) {
	start, end, err := findRegion(text, GamesMarker)
	if err != nil {
		return nil, err
	}

	res := &ExtractResult{}
	for i, block := range splitBlocks(text[start:end]) {
		rec, errs := parseBlock(block, recordFields)
		if rec.ID == "" || rec.Title == "" {
			reason := "missing id or title"
			for _, fe := range errs {
				reason += fmt.Sprintf("; field %s: %v", fe.field, fe.err)
			}
			res.Dropped = append(res.Dropped, DroppedBlock{Index: i, Reason: reason, Snippet: snippet(block)})
			continue
		}
		for _, fe := range errs {
			res.Warnings = append(res.Warnings, FieldWarning{Index: i, ID: rec.ID, Field: fe.field, Reason: fe.err.Error()})
		}
		res.Records = append(res.Records, rec)
	}

	return res, nil
}

// ExtractCategories reads the category list out of catalog source text.
// Blocks without an id are skipped.
func ExtractCategories(text string) ([]Category, error) {
	start, end, err := findRegion(text, CategoriesMarker)
	if err != nil {
		return nil, err
	}

	var categories []Category
	for _, block := range splitBlocks(text[start:end]) {
		c, _ := parseBlock(block, categoryFields)
		if c.ID == "" {
			continue
		}
		categories = append(categories, c)
	}

	return categories, nil
}
