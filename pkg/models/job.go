package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ProcessingPending = "pending"
	ProcessingRunning = "running"
	ProcessingDone    = "done"
)

// Job is a single CI job result submitted by a remote client. Log references
// and artifacts hang off it; generated artifacts are produced by the
// background processing pass, tracked through ProcessingState.
type Job struct {
	ID              uuid.UUID  `db:"id"               json:"id"`
	GUID            string     `db:"guid"             json:"job_guid"`
	Project         string     `db:"project"          json:"project"`
	RevisionHash    string     `db:"revision_hash"    json:"revision_hash,omitempty"`
	Name            string     `db:"name"             json:"name,omitempty"`
	State           string     `db:"state"            json:"state"`
	Result          string     `db:"result"           json:"result,omitempty"`
	Machine         string     `db:"machine"          json:"machine,omitempty"`
	ProcessingState string     `db:"processing_state" json:"processing_state"`
	ErrorMessage    *string    `db:"error_message"    json:"error_message,omitempty"`
	SubmittedAt     time.Time  `db:"submitted_at"     json:"submitted_at"`
	ProcessedAt     *time.Time `db:"processed_at"     json:"processed_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"       json:"updated_at"`
}
