package ingest

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/logsift/pkg/models"
)

// JobView is a job together with its log references and artifacts.
type JobView struct {
	Job           *models.Job            `json:"job"`
	LogReferences []*models.LogReference `json:"log_references"`
	Artifacts     []*models.Artifact     `json:"artifacts"`
}

// GetJob returns the job recorded under guid. Cached processing and parse
// statuses are preferred over the stored ones.
func (s *Service) GetJob(ctx context.Context, guid string) (*JobView, error) {
	job, err := s.store.GetJobByGUID(ctx, guid)
	if err != nil {
		return nil, fmt.Errorf("getting job %s: %w", guid, err)
	}
	if status, ok, err := s.cache.GetJobStatus(ctx, job.ID); err == nil && ok {
		job.ProcessingState = status
	}

	refs, err := s.store.ListLogReferences(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("listing log references: %w", err)
	}
	for _, ref := range refs {
		if ref.ParseStatus != models.ParsePending {
			continue
		}
		if status, ok, err := s.cache.GetLogStatus(ctx, ref.ID); err == nil && ok {
			ref.ParseStatus = status
		}
	}

	artifacts, err := s.listArtifacts(ctx, job)
	if err != nil {
		return nil, err
	}
	return &JobView{Job: job, LogReferences: refs, Artifacts: artifacts}, nil
}

// listArtifacts returns the artifacts of job, submitted ones first.
func (s *Service) listArtifacts(ctx context.Context, job *models.Job) ([]*models.Artifact, error) {
	artifacts, err := s.store.ListArtifacts(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	if artifacts == nil {
		artifacts = []*models.Artifact{}
	}
	return artifacts, nil
}
