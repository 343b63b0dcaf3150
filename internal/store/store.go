package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/logsift/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// SaveSubmission records a job with its log references and submitted
	// artifacts, and queues it for processing. Resubmitting a job GUID
	// updates the job in place.
	SaveSubmission(ctx context.Context, sub *Submission) (*models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetJobByGUID(ctx context.Context, guid string) (*models.Job, error)
	ClaimPendingJobs(ctx context.Context, limit int) ([]*models.Job, error)
	UpdateJobProcessing(ctx context.Context, id uuid.UUID, state string, opts ...JobUpdateOption) error
	RequeueStaleJobs(ctx context.Context, olderThan time.Duration) (int, error)

	ListLogReferences(ctx context.Context, jobID uuid.UUID) ([]*models.LogReference, error)
	UpdateParseStatus(ctx context.Context, id uuid.UUID, status string) error

	ListArtifacts(ctx context.Context, jobID uuid.UUID) ([]*models.Artifact, error)
	ReplaceGeneratedArtifacts(ctx context.Context, jobID uuid.UUID, artifacts []*models.Artifact) error

	UpsertBugs(ctx context.Context, bugs []models.Bug) (int, error)
	ListBugs(ctx context.Context) ([]models.Bug, error)
}

// Submission is one job as written by SaveSubmission.
type Submission struct {
	Job           *models.Job
	LogReferences []*models.LogReference
	Artifacts     []*models.Artifact
}

type jobUpdateParams struct {
	ErrorMessage *string
}

type JobUpdateOption func(*jobUpdateParams)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

var validTransitions = map[string][]string{
	models.ProcessingPending: {models.ProcessingRunning},
	models.ProcessingRunning: {models.ProcessingDone, models.ProcessingPending},
}

var validParseTransitions = map[string][]string{
	models.ParsePending: {models.ParseParsed, models.ParseError, models.ParseSkippedTooLarge},
}

func allowed(table map[string][]string, from, to string) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}
