package bugindex

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/kiranshivaraju/logsift/pkg/models"
)

const (
	// Terms with at most this many tokens match by substring containment.
	shortTermTokens = 2
	// Minimum share of a long term's tokens a bug must contain.
	overlapThreshold = 0.6
)

// Snapshot is an immutable, queryable copy of the bug set.
type Snapshot struct {
	bugs     []models.Bug
	texts    []string
	postings map[string][]int
	loadedAt time.Time
}

// NewSnapshot indexes bugs. The slice is copied.
func NewSnapshot(bugs []models.Bug) *Snapshot {
	s := &Snapshot{
		bugs:     append([]models.Bug(nil), bugs...),
		texts:    make([]string, len(bugs)),
		postings: make(map[string][]int),
		loadedAt: time.Now().UTC(),
	}
	for i, b := range s.bugs {
		text := strings.ToLower(b.Summary + " " + b.Whiteboard)
		s.texts[i] = text
		for _, tok := range uniqueTokens(text) {
			s.postings[tok] = append(s.postings[tok], i)
		}
	}
	return s
}

// Len returns the number of indexed bugs.
func (s *Snapshot) Len() int { return len(s.bugs) }

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Search returns bugs matching term, open bugs first, then by id descending.
// limit <= 0 means no limit.
func (s *Snapshot) Search(term string, limit int) []models.Bug {
	tokens := uniqueTokens(strings.ToLower(term))
	if len(tokens) == 0 {
		return []models.Bug{}
	}

	var hits []int
	if len(tokens) <= shortTermTokens {
		hits = s.containing(strings.ToLower(strings.TrimSpace(term)))
	} else {
		hits = s.overlapping(tokens)
	}

	out := make([]models.Bug, 0, len(hits))
	for _, i := range hits {
		out = append(out, s.bugs[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsOpen() != out[j].IsOpen() {
			return out[i].IsOpen()
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Snapshot) containing(needle string) []int {
	var hits []int
	for i, text := range s.texts {
		if strings.Contains(text, needle) {
			hits = append(hits, i)
		}
	}
	return hits
}

func (s *Snapshot) overlapping(tokens []string) []int {
	counts := make(map[int]int)
	for _, tok := range tokens {
		for _, i := range s.postings[tok] {
			counts[i]++
		}
	}
	need := overlapThreshold * float64(len(tokens))
	var hits []int
	for i, n := range counts {
		if float64(n) >= need {
			hits = append(hits, i)
		}
	}
	return hits
}

// uniqueTokens splits text on anything that is not a letter, digit or
// underscore and drops single-character tokens.
func uniqueTokens(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
