// Package errorsummary turns the error lines of a parsed log into bug
// suggestions: for each distinct failure line it derives a search term and
// looks up candidate known bugs in the bug index.
package errorsummary

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kiranshivaraju/logsift/internal/bugindex"
	"github.com/kiranshivaraju/logsift/internal/logparser"
	"github.com/kiranshivaraju/logsift/pkg/models"
)

// DefaultMaxCandidates caps the bugs suggested for one error line.
const DefaultMaxCandidates = 20

// Matcher builds bug suggestions from error lines.
type Matcher struct {
	index         bugindex.Querier
	maxCandidates int
}

func NewMatcher(index bugindex.Querier, maxCandidates int) *Matcher {
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}
	return &Matcher{index: index, maxCandidates: maxCandidates}
}

// Match returns one suggestion per distinct cleaned error line that has at
// least one candidate bug, in order of first occurrence. Index failures
// yield no candidates for the affected line and never fail the pass.
func (m *Matcher) Match(ctx context.Context, allErrors []models.ErrorLine) []models.BugSuggestion {
	suggestions := []models.BugSuggestion{}
	seen := make(map[string]struct{}, len(allErrors))
	memo := make(map[string][]models.Bug)

	for _, el := range allErrors {
		if ctx.Err() != nil {
			break
		}
		clean := CleanLine(el.Line)
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}

		terms, bugs := m.lookup(ctx, clean, el, memo)
		if len(bugs) == 0 {
			continue
		}
		suggestions = append(suggestions, models.BugSuggestion{
			Search:      clean,
			SearchTerms: terms,
			LineNumber:  el.LineNumber,
			Bugs:        bugs,
		})
	}
	return suggestions
}

// lookup queries the primary search term and, if it finds nothing, the
// crash signature of the line.
func (m *Matcher) lookup(ctx context.Context, clean string, el models.ErrorLine, memo map[string][]models.Bug) ([]string, []models.Bug) {
	terms := []string{}
	var bugs []models.Bug

	if term := SearchTerm(clean); term != "" {
		terms = append(terms, term)
		bugs = m.query(ctx, term, memo)
	}
	if len(bugs) > 0 {
		return terms, bugs
	}

	sig := el.CrashSignature
	if sig == nil {
		sig, _ = logparser.ExtractCrashSignature(el)
	}
	if sig == nil {
		return terms, nil
	}
	term := truncateRunes(sig.Signature, maxSearchTermLen)
	if !isHelpful(term) || (len(terms) > 0 && terms[0] == term) {
		return terms, nil
	}
	terms = append(terms, term)
	return terms, m.query(ctx, term, memo)
}

func (m *Matcher) query(ctx context.Context, term string, memo map[string][]models.Bug) []models.Bug {
	if bugs, ok := memo[term]; ok {
		return bugs
	}
	bugs, err := m.index.Query(ctx, term, m.maxCandidates)
	if err != nil {
		if errors.Is(err, bugindex.ErrIndexUnavailable) {
			slog.Warn("bug index unavailable, no suggestions for line", "term", term)
		} else {
			slog.Warn("bug query failed", "term", term, "error", err)
		}
		bugs = nil
	}
	if len(bugs) > m.maxCandidates {
		bugs = bugs[:m.maxCandidates]
	}
	memo[term] = bugs
	return bugs
}
