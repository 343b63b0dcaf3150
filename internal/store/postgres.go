package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/logsift/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Jobs ---

const jobColumns = `id, guid, project, revision_hash, name, state, result, machine,
	processing_state, error_message, submitted_at, processed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.GUID, &j.Project, &j.RevisionHash, &j.Name, &j.State, &j.Result,
		&j.Machine, &j.ProcessingState, &j.ErrorMessage, &j.SubmittedAt, &j.ProcessedAt,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) SaveSubmission(ctx context.Context, sub *Submission) (*models.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin submission: %w", err)
	}
	defer tx.Rollback(ctx)

	j := sub.Job
	now := time.Now().UTC()
	job, err := scanJob(tx.QueryRow(ctx,
		`INSERT INTO jobs (id, guid, project, revision_hash, name, state, result, machine,
		                   processing_state, submitted_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9, $9, $9)
		 ON CONFLICT (guid) DO UPDATE SET
		   project = EXCLUDED.project,
		   revision_hash = EXCLUDED.revision_hash,
		   name = EXCLUDED.name,
		   state = EXCLUDED.state,
		   result = EXCLUDED.result,
		   machine = EXCLUDED.machine,
		   processing_state = 'pending',
		   error_message = NULL,
		   updated_at = EXCLUDED.updated_at
		 RETURNING `+jobColumns,
		j.ID, j.GUID, j.Project, j.RevisionHash, j.Name, j.State, j.Result, j.Machine, now))
	if err != nil {
		return nil, fmt.Errorf("upsert job: %w", err)
	}

	batch := &pgx.Batch{}
	for _, ref := range sub.LogReferences {
		// a reference that already reached a final status keeps it
		batch.Queue(
			`INSERT INTO log_references (id, job_id, name, url, parse_status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $6)
			 ON CONFLICT (job_id, url) DO UPDATE SET
			   name = EXCLUDED.name,
			   parse_status = CASE WHEN log_references.parse_status = 'pending'
			                       THEN EXCLUDED.parse_status
			                       ELSE log_references.parse_status END,
			   updated_at = EXCLUDED.updated_at`,
			ref.ID, job.ID, ref.Name, ref.URL, ref.ParseStatus, now)
	}
	for _, a := range sub.Artifacts {
		batch.Queue(
			`INSERT INTO artifacts (id, job_id, name, type, blob, source, created_at)
			 VALUES ($1, $2, $3, $4, $5, 'submitted', $6)
			 ON CONFLICT (job_id, name) DO UPDATE SET
			   type = EXCLUDED.type,
			   blob = EXCLUDED.blob,
			   source = 'submitted'`,
			a.ID, job.ID, a.Name, a.Type, a.Blob, now)
	}
	if err := execSubmissionBatch(tx.SendBatch(ctx, batch), sub); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit submission: %w", err)
	}
	return job, nil
}

// execSubmissionBatch reads the batch results in queue order: log references
// first, then artifacts.
func execSubmissionBatch(br pgx.BatchResults, sub *Submission) error {
	defer br.Close()
	for _, ref := range sub.LogReferences {
		if _, err := br.Exec(); err != nil {
			if isDuplicateKeyError(err) {
				return fmt.Errorf("%w: log reference %s", ErrDuplicateKey, ref.ID)
			}
			return fmt.Errorf("upsert log reference: %w", err)
		}
	}
	for _, a := range sub.Artifacts {
		if _, err := br.Exec(); err != nil {
			if isDuplicateKeyError(err) {
				return fmt.Errorf("%w: artifact %s", ErrDuplicateKey, a.ID)
			}
			return fmt.Errorf("upsert artifact %q: %w", a.Name, err)
		}
	}
	return br.Close()
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) GetJobByGUID(ctx context.Context, guid string) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE guid = $1`, guid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by guid: %w", err)
	}
	return j, nil
}

// ClaimPendingJobs moves up to limit pending jobs to running and returns
// them, oldest submission first. Rows locked by a concurrent claimer are
// skipped.
func (s *PostgresStore) ClaimPendingJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE jobs SET processing_state = 'running', updated_at = NOW()
		 WHERE id IN (
		   SELECT id FROM jobs WHERE processing_state = 'pending'
		   ORDER BY submitted_at LIMIT $1
		   FOR UPDATE SKIP LOCKED)
		 RETURNING `+jobColumns, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) UpdateJobProcessing(ctx context.Context, id uuid.UUID, state string, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	var current string
	err := s.pool.QueryRow(ctx, `SELECT processing_state FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job processing state: %w", err)
	}

	if !allowed(validTransitions, current, state) {
		return fmt.Errorf("%w: job %s -> %s", ErrInvalidTransition, current, state)
	}

	now := time.Now().UTC()
	query := `UPDATE jobs SET processing_state = $2, updated_at = $3`
	args := []any{id, state, now}
	argIdx := 4

	if state == models.ProcessingDone {
		query += fmt.Sprintf(", processed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}

	// guard against a concurrent resubmission resetting the state
	query += fmt.Sprintf(" WHERE id = $1 AND processing_state = $%d", argIdx)
	args = append(args, current)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job processing state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s changed concurrently", ErrInvalidTransition, id)
	}
	return nil
}

// RequeueStaleJobs returns jobs stuck in running for longer than olderThan
// to pending, e.g. after a crash mid-pass.
func (s *PostgresStore) RequeueStaleJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET processing_state = 'pending', updated_at = NOW()
		 WHERE processing_state = 'running' AND updated_at < NOW() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Log References ---

func (s *PostgresStore) ListLogReferences(ctx context.Context, jobID uuid.UUID) ([]*models.LogReference, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, name, url, parse_status, parse_timestamp, created_at, updated_at
		 FROM log_references WHERE job_id = $1 ORDER BY created_at, url`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list log references: %w", err)
	}
	defer rows.Close()

	var refs []*models.LogReference
	for rows.Next() {
		var r models.LogReference
		if err := rows.Scan(&r.ID, &r.JobID, &r.Name, &r.URL, &r.ParseStatus, &r.ParseTimestamp,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan log reference: %w", err)
		}
		refs = append(refs, &r)
	}
	return refs, rows.Err()
}

func (s *PostgresStore) UpdateParseStatus(ctx context.Context, id uuid.UUID, status string) error {
	var current string
	err := s.pool.QueryRow(ctx, `SELECT parse_status FROM log_references WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get parse status: %w", err)
	}

	if !allowed(validParseTransitions, current, status) {
		return fmt.Errorf("%w: log reference %s -> %s", ErrInvalidTransition, current, status)
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE log_references SET parse_status = $2, parse_timestamp = NOW(), updated_at = NOW()
		 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update parse status: %w", err)
	}
	return nil
}

// --- Artifacts ---

func (s *PostgresStore) ListArtifacts(ctx context.Context, jobID uuid.UUID) ([]*models.Artifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, name, type, blob, source, created_at
		 FROM artifacts WHERE job_id = $1
		 ORDER BY CASE source WHEN 'submitted' THEN 0 ELSE 1 END, created_at, name`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*models.Artifact
	for rows.Next() {
		var a models.Artifact
		if err := rows.Scan(&a.ID, &a.JobID, &a.Name, &a.Type, &a.Blob, &a.Source, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, &a)
	}
	return artifacts, rows.Err()
}

// ReplaceGeneratedArtifacts drops the job's previously generated artifacts
// and writes the given ones. A submitted artifact of the same name is never
// overwritten.
func (s *PostgresStore) ReplaceGeneratedArtifacts(ctx context.Context, jobID uuid.UUID, artifacts []*models.Artifact) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace artifacts: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM artifacts WHERE job_id = $1 AND source = 'generated'`, jobID); err != nil {
		return fmt.Errorf("delete generated artifacts: %w", err)
	}

	now := time.Now().UTC()
	for _, a := range artifacts {
		if _, err := tx.Exec(ctx,
			`INSERT INTO artifacts (id, job_id, name, type, blob, source, created_at)
			 VALUES ($1, $2, $3, $4, $5, 'generated', $6)
			 ON CONFLICT (job_id, name) DO NOTHING`,
			a.ID, jobID, a.Name, a.Type, a.Blob, now); err != nil {
			return fmt.Errorf("insert artifact %q: %w", a.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace artifacts: %w", err)
	}
	return nil
}

// --- Bugs ---

func (s *PostgresStore) UpsertBugs(ctx context.Context, bugs []models.Bug) (int, error) {
	if len(bugs) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, b := range bugs {
		lastChange := b.LastChange
		if lastChange.IsZero() {
			lastChange = time.Now().UTC()
		}
		batch.Queue(
			`INSERT INTO bugs (id, summary, whiteboard, status, resolution, keywords, last_change)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE SET
			   summary = EXCLUDED.summary,
			   whiteboard = EXCLUDED.whiteboard,
			   status = EXCLUDED.status,
			   resolution = EXCLUDED.resolution,
			   keywords = EXCLUDED.keywords,
			   last_change = EXCLUDED.last_change`,
			b.ID, b.Summary, b.Whiteboard, b.Status, b.Resolution, b.Keywords, lastChange)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range bugs {
		if _, err := br.Exec(); err != nil {
			return 0, fmt.Errorf("upsert bug: %w", err)
		}
	}
	return len(bugs), nil
}

func (s *PostgresStore) ListBugs(ctx context.Context) ([]models.Bug, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, summary, whiteboard, status, resolution, keywords, last_change
		 FROM bugs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list bugs: %w", err)
	}
	defer rows.Close()

	bugs := []models.Bug{}
	for rows.Next() {
		var b models.Bug
		if err := rows.Scan(&b.ID, &b.Summary, &b.Whiteboard, &b.Status, &b.Resolution,
			&b.Keywords, &b.LastChange); err != nil {
			return nil, fmt.Errorf("scan bug: %w", err)
		}
		bugs = append(bugs, b)
	}
	return bugs, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
