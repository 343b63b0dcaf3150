package models

import "time"

// Bug is a known issue from the bug tracker, used as a suggestion candidate.
// An empty Resolution means the bug is still open.
type Bug struct {
	ID         int64     `db:"id"          json:"id"          yaml:"id"`
	Summary    string    `db:"summary"     json:"summary"     yaml:"summary"`
	Whiteboard string    `db:"whiteboard"  json:"whiteboard"  yaml:"whiteboard"`
	Status     string    `db:"status"      json:"status"      yaml:"status"`
	Resolution string    `db:"resolution"  json:"resolution"  yaml:"resolution"`
	Keywords   string    `db:"keywords"    json:"keywords"    yaml:"keywords"`
	LastChange time.Time `db:"last_change" json:"last_change" yaml:"last_change"`
}

// IsOpen reports whether the bug has not been resolved.
func (b Bug) IsOpen() bool {
	return b.Resolution == ""
}

// BugSuggestion correlates one error line with candidate known bugs.
type BugSuggestion struct {
	Search      string   `json:"search"`
	SearchTerms []string `json:"search_terms"`
	LineNumber  int      `json:"linenumber"`
	Bugs        []Bug    `json:"bugs"`
}
