package models

import (
	"time"

	"github.com/google/uuid"
)

// Well-known artifact names.
const (
	ArtifactTextLogSummary = "text_log_summary"
	ArtifactBugSuggestions = "Bug suggestions"
)

const (
	ArtifactSubmitted = "submitted"
	ArtifactGenerated = "generated"
)

// Artifact is a named blob attached to a job. Identity is (JobID, Name).
// Blob holds the exact bytes submitted or generated.
type Artifact struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	JobID     uuid.UUID `db:"job_id"     json:"job_id"`
	Name      string    `db:"name"       json:"name"`
	Type      string    `db:"type"       json:"type"`
	Blob      []byte    `db:"blob"       json:"blob"`
	Source    string    `db:"source"     json:"source"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
