package errorsummary

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Normalization regexes compiled once at package init.
var (
	reLinePrefix = regexp.MustCompile(`^(\[task \S+\]\s*)?(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?\s+|\d{2}:\d{2}:\d{2}\s+)?((DEBUG|INFO|WARNING|ERROR|CRITICAL|FATAL)\s+-\s+)?`)
	reDatetime   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?`)
	reClock      = regexp.MustCompile(`\b\d{2}:\d{2}:\d{2}(\.\d+)?\b`)
	rePath       = regexp.MustCompile(`(?:[A-Za-z]:)?(?:[\w.~-]*[/\\])+([\w.-]+)`)
	reHexAddr    = regexp.MustCompile(`\b0x[0-9a-fA-F]+\b`)
	reNoise      = regexp.MustCompile("[\"'`{};^$]+")
	reWhitespace = regexp.MustCompile(`\s+`)
)

// CleanLine strips the log timestamp and level prefix from an error line.
func CleanLine(line string) string {
	return strings.TrimSpace(reLinePrefix.ReplaceAllString(line, ""))
}

// Normalize removes run-specific noise from a search term: timestamps,
// directories (the last path component is kept), hex addresses and stray
// punctuation. Whitespace is collapsed.
func Normalize(term string) string {
	term = reDatetime.ReplaceAllString(term, "")
	term = reClock.ReplaceAllString(term, "")
	term = rePath.ReplaceAllString(term, "$1")
	term = reHexAddr.ReplaceAllString(term, "")
	term = reNoise.ReplaceAllString(term, " ")
	term = reWhitespace.ReplaceAllString(term, " ")
	return strings.TrimSpace(term)
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
