package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ParsePending         = "pending"
	ParseParsed          = "parsed"
	ParseError           = "error"
	ParseSkippedTooLarge = "skipped-too-large"
)

// LogReference points at one raw log file belonging to a job.
type LogReference struct {
	ID             uuid.UUID  `db:"id"              json:"id"`
	JobID          uuid.UUID  `db:"job_id"          json:"job_id"`
	Name           string     `db:"name"            json:"name"`
	URL            string     `db:"url"             json:"url"`
	ParseStatus    string     `db:"parse_status"    json:"parse_status"`
	ParseTimestamp *time.Time `db:"parse_timestamp" json:"parse_timestamp,omitempty"`
	CreatedAt      time.Time  `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"      json:"updated_at"`
}

// IsTerminalParseStatus reports whether no further processing will change status.
func IsTerminalParseStatus(status string) bool {
	switch status {
	case ParseParsed, ParseError, ParseSkippedTooLarge:
		return true
	default:
		return false
	}
}
