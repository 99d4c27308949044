package catalog

import (
	"fmt"
	"strings"
)

// The helpers here walk catalog source text one byte at a time, skipping
// quoted strings so braces, brackets and commas inside values are ignored.

func isQuote(c byte) bool {
	return c == '\'' || c == '"' || c == '`'
}

// skipString returns the index just past the string literal opening at i.
func skipString(s string, i int) int {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return j + 1
		}
	}
	return len(s)
}

// findRegion locates the array literal that follows marker. start is the
// index just after marker's opening bracket and end is the index of the
// matching closing bracket.
func findRegion(text, marker string) (start, end int, err error) {
	idx := strings.Index(text, marker)
	if idx < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrRegionNotFound, marker)
	}
	start = idx + len(marker)

	depth := 0
	for i := start; i < len(text); {
		c := text[i]
		switch {
		case isQuote(c):
			i = skipString(text, i)
			continue
		case c == '{' || c == '[':
			depth++
		case c == '}':
			depth--
		case c == ']':
			if depth == 0 {
				return start, i, nil
			}
			depth--
		}
		i++
	}

	return 0, 0, fmt.Errorf("%w: unterminated %q", ErrRegionNotFound, marker)
}

// splitBlocks returns the bodies of the top-level {...} objects in region.
func splitBlocks(region string) []string {
	var (
		blocks []string
		depth  int
		begin  = -1
	)

	for i := 0; i < len(region); {
		c := region[i]
		switch {
		case isQuote(c):
			i = skipString(region, i)
			continue
		case c == '{':
			if depth == 0 {
				begin = i + 1
			}
			depth++
		case c == '}':
			depth--
			if depth == 0 && begin >= 0 {
				blocks = append(blocks, region[begin:i])
				begin = -1
			}
			if depth < 0 {
				depth = 0
			}
		}
		i++
	}

	return blocks
}

// splitTopLevel splits s on sep where sep is outside strings, braces and
// brackets. Empty pieces are dropped.
func splitTopLevel(s string, sep byte) []string {
	var (
		parts []string
		depth int
		begin int
	)

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case isQuote(c):
			i = skipString(s, i)
			continue
		case c == '{' || c == '[' || c == '(':
			depth++
		case c == '}' || c == ']' || c == ')':
			depth--
		case c == sep && depth == 0:
			if p := strings.TrimSpace(s[begin:i]); p != "" {
				parts = append(parts, p)
			}
			begin = i + 1
		}
		i++
	}

	if p := strings.TrimSpace(s[begin:]); p != "" {
		parts = append(parts, p)
	}

	return parts
}

// quote renders s as a single-quoted literal.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	return "'" + r.Replace(s) + "'"
}

// unquote reverses quote for any of the three quote styles. ok is false if
// s is not a complete literal.
func unquote(s string) (string, bool) {
	if len(s) < 2 || !isQuote(s[0]) || s[len(s)-1] != s[0] {
		return "", false
	}
	if skipString(s, 0) != len(s) {
		return "", false
	}

	body := s[1 : len(s)-1]
	if !strings.Contains(body, `\`) {
		return body, true
	}

	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 == len(body) {
			b.WriteByte(c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		default:
			b.WriteByte(body[i])
		}
	}
	return b.String(), true
}
