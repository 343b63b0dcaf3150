package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/logsift/internal/artifact"
	"github.com/kiranshivaraju/logsift/internal/cache"
	"github.com/kiranshivaraju/logsift/internal/fetch"
	"github.com/kiranshivaraju/logsift/internal/logparser"
	"github.com/kiranshivaraju/logsift/internal/store"
	"github.com/kiranshivaraju/logsift/pkg/models"
)

// ProcessPendingLogs claims up to batchSize pending jobs and processes
// them concurrently. It returns the number of log references whose parse
// status was resolved. Failures are contained per log reference; the
// returned error only reports a failure to claim work.
func (s *Service) ProcessPendingLogs(ctx context.Context, batchSize int) (int, error) {
	jobs, err := s.store.ClaimPendingJobs(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("claiming jobs: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	var resolved atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, job := range jobs {
		g.Go(func() error {
			resolved.Add(int64(s.processJob(ctx, job)))
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("processing pass complete", "jobs", len(jobs), "logs_resolved", resolved.Load())
	return int(resolved.Load()), nil
}

// logOutcome is the result of handling one log reference in a pass.
type logOutcome struct {
	ref     *models.LogReference
	status  string
	summary *models.TextLogSummary
	err     error
	changed bool
}

// processJob runs the pipeline for one claimed job. It recovers from
// panics and always moves the job out of running.
func (s *Service) processJob(ctx context.Context, job *models.Job) (resolved int) {
	log := slog.With("job_id", job.ID, "job_guid", job.GUID)
	bg := context.WithoutCancel(ctx)

	lockKey := cache.JobLockKey(job.ID)
	token, locked, err := s.cache.AcquireLock(ctx, lockKey, s.cfg.LockTTL)
	switch {
	case err != nil:
		log.Warn("job lock unavailable, relying on claim", "error", err)
	case !locked:
		log.Info("job is being processed elsewhere, requeueing")
		s.requeue(bg, job)
		return 0
	default:
		defer func() {
			if err := s.cache.ReleaseLock(bg, lockKey, token); err != nil {
				log.Warn("releasing job lock", "error", err)
			}
		}()
	}

	_ = s.cache.SetJobStatus(ctx, job.ID, models.ProcessingRunning, s.cfg.StatusTTL)

	var refs []*models.LogReference
	var failures []string
	requeued := false
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in job processing", "error", r)
			resolved += s.failPending(bg, refs)
			failures = append(failures, fmt.Sprintf("panic: %v", r))
		}
		if !requeued {
			s.finish(bg, job, failures)
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	refs, err = s.store.ListLogReferences(jobCtx, job.ID)
	if err != nil {
		log.Error("listing log references", "error", err)
		failures = append(failures, err.Error())
		return 0
	}
	stored, err := s.store.ListArtifacts(jobCtx, job.ID)
	if err != nil {
		log.Error("listing artifacts", "error", err)
		failures = append(failures, err.Error())
		return 0
	}
	submitted, previous := splitArtifacts(stored)
	summarySubmitted := artifact.Has(submitted, models.ArtifactTextLogSummary)
	suggestionsSubmitted := artifact.Has(submitted, models.ArtifactBugSuggestions)

	outcomes := make([]logOutcome, len(refs))
	var g errgroup.Group
	for i, ref := range refs {
		switch {
		case ref.ParseStatus != models.ParsePending:
			outcomes[i] = logOutcome{ref: ref, status: ref.ParseStatus}
		case summarySubmitted:
			// the submitted summary wins; the raw log is never fetched
			status := artifact.ParseStatus(ref.ParseStatus, true, false)
			outcomes[i] = logOutcome{ref: ref, status: status, changed: true}
		default:
			g.Go(func() error {
				outcomes[i] = s.processLog(jobCtx, ref)
				return nil
			})
		}
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		// shutting down: leave the remaining work for the next pass
		requeued = true
		s.requeue(bg, job)
		return 0
	}

	for _, o := range outcomes {
		if !o.changed {
			continue
		}
		if o.err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", o.ref.URL, o.err))
		}
		if err := s.store.UpdateParseStatus(bg, o.ref.ID, o.status); err != nil {
			log.Warn("updating parse status", "log_url", o.ref.URL, "status", o.status, "error", err)
			continue
		}
		_ = s.cache.SetLogStatus(bg, o.ref.ID, o.status, s.cfg.StatusTTL)
		resolved++
	}

	generated, err := s.buildArtifacts(jobCtx, job, submitted, previous, outcomes, summarySubmitted, suggestionsSubmitted)
	if err != nil {
		log.Error("building artifacts", "error", err)
		failures = append(failures, err.Error())
		return resolved
	}
	if err := s.store.ReplaceGeneratedArtifacts(bg, job.ID, generated); err != nil {
		log.Error("storing artifacts", "error", err)
		failures = append(failures, err.Error())
	}
	return resolved
}

// processLog fetches and parses one pending log.
func (s *Service) processLog(ctx context.Context, ref *models.LogReference) (out logOutcome) {
	out = logOutcome{ref: ref, changed: true}
	log := slog.With("log_id", ref.ID, "log_url", ref.URL)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while parsing log", "error", r)
			out.status = models.ParseError
			out.summary = nil
			out.err = fmt.Errorf("panic: %v", r)
		}
	}()

	rc, err := s.fetcher.Fetch(ctx, ref.URL)
	if err != nil {
		out.status = models.ParseError
		if errors.Is(err, fetch.ErrLogTooLarge) {
			out.status = models.ParseSkippedTooLarge
		}
		out.err = err
		log.Warn("fetching log", "status", out.status, "error", err)
		return out
	}
	defer rc.Close()

	summary, err := s.parser.Parse(ctx, rc, logparser.Options{
		MaxErrors:    s.cfg.MaxErrors,
		MaxLineBytes: s.cfg.MaxLineBytes,
		LogURL:       ref.URL,
	})
	if err != nil {
		// the best-effort summary is not kept
		out.status = models.ParseError
		out.err = err
		log.Warn("parsing log", "error", err)
		return out
	}

	out.status = models.ParseParsed
	out.summary = summary
	log.Info("log parsed",
		"steps", len(summary.StepData.Steps),
		"errors", len(summary.StepData.AllErrors),
		"errors_truncated", summary.StepData.ErrorsTruncated,
	)
	return out
}

// buildArtifacts returns the generated artifacts for the job. A summary
// generated by an earlier pass is carried forward when no log was parsed
// in this one, so reprocessing never drops it.
func (s *Service) buildArtifacts(
	ctx context.Context,
	job *models.Job,
	submitted, previous []models.Artifact,
	outcomes []logOutcome,
	summarySubmitted, suggestionsSubmitted bool,
) ([]*models.Artifact, error) {
	var parsed *models.TextLogSummary
	for _, o := range outcomes {
		if o.summary != nil {
			parsed = o.summary
			break
		}
	}

	var carried []models.Artifact
	summary := parsed
	switch {
	case summarySubmitted:
		sub, err := artifact.SubmittedSummary(submitted)
		if err != nil {
			slog.Warn("submitted text_log_summary unreadable, skipping bug suggestions",
				"job_id", job.ID, "error", err)
		}
		summary = sub
	case parsed == nil:
		if prev, ok := artifact.Find(previous, models.ArtifactTextLogSummary); ok {
			carried = append(carried, prev)
			summary, _ = artifact.SubmittedSummary([]models.Artifact{prev})
		}
	}

	in := artifact.Input{Submitted: submitted, ParsedSummary: parsed}
	if summary != nil && !suggestionsSubmitted {
		in.Suggestions = s.matcher.Match(ctx, summary.StepData.AllErrors)
		in.SuggestionsRan = true
	}

	all, err := artifact.Assemble(job.ID, in)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Artifact, 0, 2)
	for i := range carried {
		out = append(out, &carried[i])
	}
	for i := range all {
		if all[i].Source == models.ArtifactGenerated {
			out = append(out, &all[i])
		}
	}
	return out, nil
}

func splitArtifacts(stored []*models.Artifact) (submitted, generated []models.Artifact) {
	for _, a := range stored {
		if a.Source == models.ArtifactGenerated {
			generated = append(generated, *a)
			continue
		}
		submitted = append(submitted, *a)
	}
	return submitted, generated
}

// failPending marks every still-pending reference as error.
func (s *Service) failPending(ctx context.Context, refs []*models.LogReference) int {
	n := 0
	for _, ref := range refs {
		if ref.ParseStatus != models.ParsePending {
			continue
		}
		if err := s.store.UpdateParseStatus(ctx, ref.ID, models.ParseError); err != nil {
			continue
		}
		_ = s.cache.SetLogStatus(ctx, ref.ID, models.ParseError, s.cfg.StatusTTL)
		n++
	}
	return n
}

func (s *Service) finish(ctx context.Context, job *models.Job, failures []string) {
	var opts []store.JobUpdateOption
	if len(failures) > 0 {
		opts = append(opts, store.WithErrorMessage(strings.Join(failures, "; ")))
	}
	if err := s.store.UpdateJobProcessing(ctx, job.ID, models.ProcessingDone, opts...); err != nil {
		slog.Warn("finalizing job", "job_id", job.ID, "error", err)
		return
	}
	_ = s.cache.SetJobStatus(ctx, job.ID, models.ProcessingDone, s.cfg.StatusTTL)
}

func (s *Service) requeue(ctx context.Context, job *models.Job) {
	if err := s.store.UpdateJobProcessing(ctx, job.ID, models.ProcessingPending); err != nil {
		slog.Warn("requeueing job", "job_id", job.ID, "error", err)
		return
	}
	_ = s.cache.SetJobStatus(ctx, job.ID, models.ProcessingPending, s.cfg.StatusTTL)
}
