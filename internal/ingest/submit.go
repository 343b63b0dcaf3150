package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/logsift/internal/store"
	"github.com/kiranshivaraju/logsift/pkg/models"
)

// ErrInvalidSubmission is returned when a job collection fails validation.
// Nothing from the collection is stored.
var ErrInvalidSubmission = errors.New("invalid submission")

// Submit records each job with its log references and supplied artifacts
// and queues it for processing. No log is fetched or parsed here.
func (s *Service) Submit(ctx context.Context, subs []models.JobSubmission) ([]*models.Job, error) {
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: empty job collection", ErrInvalidSubmission)
	}
	for i := range subs {
		if err := validate(&subs[i]); err != nil {
			return nil, fmt.Errorf("%w: job %d: %v", ErrInvalidSubmission, i, err)
		}
	}

	jobs := make([]*models.Job, 0, len(subs))
	for i := range subs {
		job, err := s.store.SaveSubmission(ctx, toRecord(&subs[i]))
		if err != nil {
			return jobs, fmt.Errorf("saving job %s: %w", subs[i].Job.GUID, err)
		}
		_ = s.cache.SetJobStatus(ctx, job.ID, models.ProcessingPending, s.cfg.StatusTTL)
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func validate(sub *models.JobSubmission) error {
	if sub.Project == "" {
		return errors.New("project is required")
	}
	if sub.Job.GUID == "" {
		return errors.New("job_guid is required")
	}
	for i, ref := range sub.Job.LogReferences {
		if ref.URL == "" {
			return fmt.Errorf("log_references[%d]: url is required", i)
		}
		switch ref.ParseStatus {
		case "", models.ParsePending, models.ParseParsed:
		default:
			return fmt.Errorf("log_references[%d]: parse_status must be pending or parsed, got %q", i, ref.ParseStatus)
		}
	}
	for i, a := range sub.Job.Artifacts {
		if a.Name == "" {
			return fmt.Errorf("artifacts[%d]: name is required", i)
		}
		if len(a.Blob) == 0 {
			return fmt.Errorf("artifacts[%d]: blob is required", i)
		}
		if a.JobGUID != "" && a.JobGUID != sub.Job.GUID {
			return fmt.Errorf("artifacts[%d]: job_guid %q does not match job", i, a.JobGUID)
		}
	}
	return nil
}

func toRecord(sub *models.JobSubmission) *store.Submission {
	now := time.Now().UTC()
	rec := &store.Submission{
		Job: &models.Job{
			ID:              uuid.New(),
			GUID:            sub.Job.GUID,
			Project:         sub.Project,
			RevisionHash:    sub.RevisionHash,
			Name:            sub.Job.Name,
			State:           sub.Job.State,
			Result:          sub.Job.Result,
			Machine:         sub.Job.Machine,
			ProcessingState: models.ProcessingPending,
			SubmittedAt:     now,
		},
	}

	seen := make(map[string]struct{}, len(sub.Job.LogReferences))
	for _, ref := range sub.Job.LogReferences {
		if _, dup := seen[ref.URL]; dup {
			continue
		}
		seen[ref.URL] = struct{}{}
		status := ref.ParseStatus
		if status == "" {
			status = models.ParsePending
		}
		rec.LogReferences = append(rec.LogReferences, &models.LogReference{
			ID:          uuid.New(),
			Name:        ref.Name,
			URL:         ref.URL,
			ParseStatus: status,
		})
	}

	for _, a := range sub.Job.Artifacts {
		rec.Artifacts = append(rec.Artifacts, &models.Artifact{
			ID:     uuid.New(),
			Name:   a.Name,
			Type:   a.Type,
			Blob:   a.BlobBytes(),
			Source: models.ArtifactSubmitted,
		})
	}
	return rec
}
