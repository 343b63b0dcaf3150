// Package logparser turns raw CI build logs into structured step and error
// data. Everything here works on one line at a time so that logs of any size
// are processed in a single forward pass.
package logparser

import (
	"regexp"
	"strings"
)

// Kind is the classification of a single log line.
type Kind int

const (
	KindPlain Kind = iota
	KindStepStart
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindStepStart:
		return "step-start"
	case KindError:
		return "error"
	default:
		return "plain"
	}
}

// Classification is the result of Classify.
type Classification struct {
	Kind     Kind
	StepName string
	Text     string
}

var (
	// 12:34:13     INFO -  message
	reMozharnessPrefix = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}\s+(DEBUG|INFO|WARNING|ERROR|CRITICAL|FATAL)\s+-\s*`)

	// [task 2016-05-20T08:14:02.123Z] 08:14:02    ERROR - message
	reTaskPrefix = regexp.MustCompile(`^\[task \S+\]\s*`)

	reRunningStep    = regexp.MustCompile(`(?i)\brunning step (\d+):\s*(.+?)\s*$`)
	reMozharnessStep = regexp.MustCompile(`^##### Running (.+?) step\.`)
	reBuildbotStep   = regexp.MustCompile(`^========= Started (.+?) \(at .+?\) =========`)

	reExclude = regexp.MustCompile(`TEST-(?:INFO|PASS|KNOWN-FAIL|EXPECTED-[A-Z]+) ` +
		`|I[ /](?:Gecko|Robocop|TestRunner).*TEST-UNEXPECTED-`)

	reErrorAtStart = regexp.MustCompile(`^(?:error: TEST FAILED` +
		`|g?make(?:\[\d+\])?: \*\*\*` +
		`|Remote Device Error:` +
		`|[A-Za-z.]+Error: ` +
		`|[A-Za-z.]*Exception: ` +
		`|remoteFailed:` +
		`|rm: cannot ` +
		`|abort:` +
		`|Output exceeded \d+ bytes` +
		`|The web-page 'stop build' button was pressed` +
		`|.*\.js: line \d+, col \d+, Error -` +
		`|\[taskcluster\] Error:` +
		`|\[[\w-]+:(?:error|exception)\])`)

	reErrorAnywhere = regexp.MustCompile(` error\(\d*\):` +
		`|:\d+: error:` +
		`| error R?C\d*:` +
		`|ERROR [45]\d\d:` +
		`|mozmake\.(?:exe|EXE)(?:\[\d+\])?: \*\*\*`)
)

var errorTokens = []string{
	"TEST-UNEXPECTED-",
	"PROCESS-CRASH",
	"fatal error",
	"FATAL ERROR",
	"Assertion failure:",
	"Assertion failed:",
	"###!!! ABORT:",
	"Automation Error:",
	"command timed out:",
	"SUMMARY: AddressSanitizer",
	"SUMMARY: LeakSanitizer",
	"TEST-VALGRIND-ERROR",
}

var warningFailureTokens = []string{"TEST-UNEXPECTED", "PROCESS-CRASH", "FAIL"}

// Classify inspects one raw log line. It has no side effects.
func Classify(text string) Classification {
	body, level := stripPrefix(text)

	if name, ok := stepStart(body); ok {
		return Classification{Kind: KindStepStart, StepName: name, Text: text}
	}
	if isError(body, level) {
		return Classification{Kind: KindError, Text: text}
	}
	return Classification{Kind: KindPlain, Text: text}
}

// stripPrefix removes a taskcluster "[task <time>] " wrapper and a
// mozharness "HH:MM:SS LEVEL - " prefix, and returns the remaining text and
// the level, if any.
func stripPrefix(text string) (string, string) {
	if strings.HasPrefix(text, "[task ") {
		if m := reTaskPrefix.FindStringIndex(text); m != nil {
			text = text[m[1]:]
		}
	}
	if len(text) < 8 || text[2] != ':' {
		return text, ""
	}
	m := reMozharnessPrefix.FindStringSubmatchIndex(text)
	if m == nil {
		return text, ""
	}
	return text[m[1]:], text[m[2]:m[3]]
}

func stepStart(body string) (string, bool) {
	switch {
	case strings.HasPrefix(body, "##### Running "):
		if m := reMozharnessStep.FindStringSubmatch(body); m != nil {
			return m[1], true
		}
	case strings.HasPrefix(body, "========= Started "):
		if m := reBuildbotStep.FindStringSubmatch(body); m != nil {
			return m[1], true
		}
	case containsFold(body, "running step "):
		if m := reRunningStep.FindStringSubmatch(body); m != nil {
			return m[2], true
		}
	}
	return "", false
}

func isError(body, level string) bool {
	if reExclude.MatchString(body) {
		return false
	}
	switch level {
	case "ERROR", "CRITICAL", "FATAL":
		return true
	case "WARNING":
		if containsAny(body, warningFailureTokens) {
			return true
		}
	}
	if containsAny(body, errorTokens) {
		return true
	}
	return reErrorAtStart.MatchString(body) || reErrorAnywhere.MatchString(body)
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// containsFold is an ASCII case-insensitive strings.Contains.
func containsFold(s, substr string) bool {
	n := len(substr)
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], substr) {
			return true
		}
	}
	return false
}
