package errorsummary

import (
	"regexp"
	"strings"
)

// maxSearchTermLen bounds terms to what still fits in a bug summary after
// the usual "Intermittent" and platform prefixes.
const maxSearchTermLen = 100

var (
	reLeak    = regexp.MustCompile(`(?:\d+ bytes leaked \((.+)\)|leak at (.+))$`)
	reReftest = regexp.MustCompile(`\s+[=!]=\s+.*`)
)

// Terms that match far too many bugs to be useful.
var blacklist = map[string]struct{}{
	"automation.py":                      {},
	"remoteautomation.py":                {},
	"Shutdown":                           {},
	"undefined":                          {},
	"Main app process exited normally":   {},
	"Traceback (most recent call last):": {},
	"Return code: 0":                     {},
	"Return code: 1":                     {},
	"Return code: 2":                     {},
	"Return code: 9":                     {},
	"Return code: 10":                    {},
	"mozalloc_abort(char const*)":        {},
	"mozalloc_abort":                     {},
	"CrashingThread(void *)":             {},
	"libSystem.B.dylib + 0xd7a":          {},
	"linux-gate.so + 0x424":              {},
	"TypeError: content is null":         {},
	"leakcheck":                          {},
	"ImportError: No module named pygtk": {},
	"# TBPL FAILURE #":                   {},
}

// SearchTerm derives the bug search term for a cleaned error line, or ""
// when the line offers nothing worth searching for.
//
// Lines in the "TYPE | test | message" format search for the leaked object
// list or the test file name. Anything else, or a pipe term that is too
// generic, falls back to the whole line.
func SearchTerm(clean string) string {
	term := pipeTerm(clean)
	if !isHelpful(term) {
		term = ""
		if isHelpful(clean) {
			term = clean
		}
	}
	if term == "" {
		return ""
	}
	return truncateRunes(Normalize(term), maxSearchTermLen)
}

func pipeTerm(clean string) string {
	tokens := strings.Split(clean, " | ")
	if len(tokens) < 3 {
		return ""
	}
	if m := reLeak.FindStringSubmatch(tokens[2]); m != nil {
		if m[1] != "" {
			return m[1]
		}
		return m[2]
	}
	test := reReftest.ReplaceAllString(tokens[1], "")
	if i := strings.LastIndexAny(test, `/\`); i >= 0 {
		test = test[i+1:]
	}
	return test
}

func isHelpful(term string) bool {
	term = strings.TrimSpace(term)
	if len(term) <= 4 {
		return false
	}
	_, banned := blacklist[term]
	return !banned
}
