// Package sanitize cleans user-provided text before it is persisted.
package sanitize

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

// Text strips HTML tags, decodes entities and collapses runs of
// whitespace into single spaces.
func Text(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = html.UnescapeString(result)
	// Encoded tags become real tags after decoding.
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.Join(strings.Fields(result), " ")
}

// Truncate cleans s with Text and cuts it to at most max runes.
func Truncate(s string, max int) string {
	result := Text(s)
	if max <= 0 || utf8.RuneCountInString(result) <= max {
		return result
	}
	runes := []rune(result)
	return strings.TrimSpace(string(runes[:max]))
}
