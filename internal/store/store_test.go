package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/logsift/internal/store"
	"github.com/kiranshivaraju/logsift/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("logsift_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newSubmission(guid string, refs ...*models.LogReference) *store.Submission {
	return &store.Submission{
		Job: &models.Job{
			ID:      uuid.New(),
			GUID:    guid,
			Project: "mozilla-central",
			State:   "completed",
			Result:  "testfailed",
		},
		LogReferences: refs,
	}
}

func newRef(url, status string) *models.LogReference {
	return &models.LogReference{ID: uuid.New(), Name: "builds-4h", URL: url, ParseStatus: status}
}

func newArtifact(name, blob string) *models.Artifact {
	return &models.Artifact{ID: uuid.New(), Name: name, Type: "json", Blob: []byte(blob)}
}

// --- Submission Tests ---

func TestSaveSubmission_CreatesJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	sub := newSubmission("guid-1", newRef("http://logs/1.txt", models.ParsePending))
	sub.Artifacts = []*models.Artifact{newArtifact("Job Info", `{"job_details":[]}`)}

	job, err := s.SaveSubmission(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, sub.Job.ID, job.ID)
	assert.Equal(t, models.ProcessingPending, job.ProcessingState)

	got, err := s.GetJobByGUID(ctx, "guid-1")
	require.NoError(t, err)
	assert.Equal(t, "mozilla-central", got.Project)

	refs, err := s.ListLogReferences(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, models.ParsePending, refs[0].ParseStatus)

	arts, err := s.ListArtifacts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, models.ArtifactSubmitted, arts[0].Source)
	assert.Equal(t, []byte(`{"job_details":[]}`), arts[0].Blob)
}

func TestSaveSubmission_ManyReferencesAndArtifacts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	sub := newSubmission("guid-many",
		newRef("http://logs/a.txt", models.ParsePending),
		newRef("http://logs/b.txt", models.ParseParsed),
		newRef("http://logs/c.txt", models.ParsePending),
	)
	sub.Artifacts = []*models.Artifact{
		newArtifact("Job Info", `{"job_details":[]}`),
		newArtifact("privatebuild", `{"build_url":"http://x"}`),
	}

	job, err := s.SaveSubmission(ctx, sub)
	require.NoError(t, err)

	refs, err := s.ListLogReferences(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, refs, 3)

	arts, err := s.ListArtifacts(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, arts, 2)
}

func TestSaveSubmission_FailedArtifactRollsBackJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	sub := newSubmission("guid-dup", newRef("http://logs/d.txt", models.ParsePending))
	first := newArtifact("Job Info", `{}`)
	second := newArtifact("privatebuild", `{}`)
	second.ID = first.ID
	sub.Artifacts = []*models.Artifact{first, second}

	_, err := s.SaveSubmission(ctx, sub)
	require.ErrorIs(t, err, store.ErrDuplicateKey)

	_, err = s.GetJobByGUID(ctx, "guid-dup")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveSubmission_ResubmitKeepsIdentityAndFinalStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	first, err := s.SaveSubmission(ctx, newSubmission("guid-2", newRef("http://logs/2.txt", models.ParsePending)))
	require.NoError(t, err)
	refs, err := s.ListLogReferences(ctx, first.ID)
	require.NoError(t, err)
	require.NoError(t, s.UpdateParseStatus(ctx, refs[0].ID, models.ParseParsed))

	again := newSubmission("guid-2", newRef("http://logs/2.txt", models.ParsePending))
	again.Job.Result = "success"
	second, err := s.SaveSubmission(ctx, again)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "success", second.Result)
	refs, err = s.ListLogReferences(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, models.ParseParsed, refs[0].ParseStatus)
}

func TestGetJob_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetJobByGUID(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Processing Tests ---

func TestClaimPendingJobs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	for _, guid := range []string{"a", "b", "c"} {
		_, err := s.SaveSubmission(ctx, newSubmission(guid))
		require.NoError(t, err)
	}

	claimed, err := s.ClaimPendingJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	for _, j := range claimed {
		assert.Equal(t, models.ProcessingRunning, j.ProcessingState)
	}

	rest, err := s.ClaimPendingJobs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	none, err := s.ClaimPendingJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateJobProcessing_Transitions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job, err := s.SaveSubmission(ctx, newSubmission("guid-t"))
	require.NoError(t, err)

	err = s.UpdateJobProcessing(ctx, job.ID, models.ProcessingDone)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	require.NoError(t, s.UpdateJobProcessing(ctx, job.ID, models.ProcessingRunning))
	require.NoError(t, s.UpdateJobProcessing(ctx, job.ID, models.ProcessingDone, store.WithErrorMessage("1 log failed")))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingDone, got.ProcessingState)
	assert.NotNil(t, got.ProcessedAt)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "1 log failed", *got.ErrorMessage)

	err = s.UpdateJobProcessing(ctx, uuid.New(), models.ProcessingRunning)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRequeueStaleJobs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	_, err := s.SaveSubmission(ctx, newSubmission("stale"))
	require.NoError(t, err)
	claimed, err := s.ClaimPendingJobs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	_, err = pool.Exec(ctx, `UPDATE jobs SET updated_at = NOW() - INTERVAL '1 hour' WHERE id = $1`, claimed[0].ID)
	require.NoError(t, err)

	n, err := s.RequeueStaleJobs(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetJob(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingPending, got.ProcessingState)
}

func TestUpdateParseStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job, err := s.SaveSubmission(ctx, newSubmission("guid-p", newRef("http://logs/p.txt", models.ParsePending)))
	require.NoError(t, err)
	refs, err := s.ListLogReferences(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, s.UpdateParseStatus(ctx, refs[0].ID, models.ParseSkippedTooLarge))

	err = s.UpdateParseStatus(ctx, refs[0].ID, models.ParseParsed)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	refs, err = s.ListLogReferences(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParseSkippedTooLarge, refs[0].ParseStatus)
	assert.NotNil(t, refs[0].ParseTimestamp)
}

// --- Artifact Tests ---

func TestReplaceGeneratedArtifacts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	sub := newSubmission("guid-a")
	sub.Artifacts = []*models.Artifact{newArtifact(models.ArtifactTextLogSummary, `{"submitted":true}`)}
	job, err := s.SaveSubmission(ctx, sub)
	require.NoError(t, err)

	generated := []*models.Artifact{
		newArtifact(models.ArtifactTextLogSummary, `{"generated":true}`),
		newArtifact(models.ArtifactBugSuggestions, `[1]`),
	}
	require.NoError(t, s.ReplaceGeneratedArtifacts(ctx, job.ID, generated))

	again := []*models.Artifact{newArtifact(models.ArtifactBugSuggestions, `[2]`)}
	require.NoError(t, s.ReplaceGeneratedArtifacts(ctx, job.ID, again))

	arts, err := s.ListArtifacts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, arts, 2)
	assert.Equal(t, models.ArtifactTextLogSummary, arts[0].Name)
	assert.Equal(t, []byte(`{"submitted":true}`), arts[0].Blob)
	assert.Equal(t, models.ArtifactBugSuggestions, arts[1].Name)
	assert.Equal(t, []byte(`[2]`), arts[1].Blob)
	assert.Equal(t, models.ArtifactGenerated, arts[1].Source)
}

// --- Bug Tests ---

func TestBugs_UpsertAndList(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	n, err := s.UpsertBugs(ctx, []models.Bug{
		{ID: 2, Summary: "second"},
		{ID: 1, Summary: "first", Resolution: "FIXED"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.UpsertBugs(ctx, []models.Bug{{ID: 2, Summary: "second, renamed"}})
	require.NoError(t, err)

	bugs, err := s.ListBugs(ctx)
	require.NoError(t, err)
	require.Len(t, bugs, 2)
	assert.Equal(t, int64(1), bugs[0].ID)
	assert.Equal(t, "FIXED", bugs[0].Resolution)
	assert.Equal(t, "second, renamed", bugs[1].Summary)

	n, err = s.UpsertBugs(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	assert.NoError(t, s.Ping(context.Background()))
}
