package ingest

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/logsift/internal/cache"
	"github.com/kiranshivaraju/logsift/internal/logparser"
	"github.com/kiranshivaraju/logsift/internal/store"
	"github.com/kiranshivaraju/logsift/pkg/models"
)

// --- store ---

type mockStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.Job
	refs      map[uuid.UUID][]*models.LogReference
	artifacts map[uuid.UUID][]*models.Artifact
	bugs      map[int64]models.Bug

	replaceCalls int
	listRefsErr  error
}

func newMockStore() *mockStore {
	return &mockStore{
		jobs:      make(map[uuid.UUID]*models.Job),
		refs:      make(map[uuid.UUID][]*models.LogReference),
		artifacts: make(map[uuid.UUID][]*models.Artifact),
		bugs:      make(map[int64]models.Bug),
	}
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) SaveSubmission(_ context.Context, sub *store.Submission) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := *sub.Job
	for _, existing := range s.jobs {
		if existing.GUID == job.GUID {
			job.ID = existing.ID
		}
	}
	job.ProcessingState = models.ProcessingPending
	s.jobs[job.ID] = &job

	for _, ref := range sub.LogReferences {
		r := *ref
		r.JobID = job.ID
		s.refs[job.ID] = upsertRef(s.refs[job.ID], &r)
	}
	for _, a := range sub.Artifacts {
		c := *a
		c.JobID = job.ID
		s.artifacts[job.ID] = upsertArtifact(s.artifacts[job.ID], &c)
	}
	out := job
	return &out, nil
}

func upsertRef(refs []*models.LogReference, ref *models.LogReference) []*models.LogReference {
	for _, r := range refs {
		if r.URL == ref.URL {
			if r.ParseStatus == models.ParsePending {
				r.ParseStatus = ref.ParseStatus
			}
			return refs
		}
	}
	return append(refs, ref)
}

func upsertArtifact(arts []*models.Artifact, a *models.Artifact) []*models.Artifact {
	for i, existing := range arts {
		if existing.Name == a.Name {
			arts[i] = a
			return arts
		}
	}
	return append(arts, a)
}

func (s *mockStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *job
	return &out, nil
}

func (s *mockStore) GetJobByGUID(_ context.Context, guid string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.GUID == guid {
			out := *job
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) ClaimPendingJobs(_ context.Context, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, job := range s.jobs {
		if len(out) == limit {
			break
		}
		if job.ProcessingState == models.ProcessingPending {
			job.ProcessingState = models.ProcessingRunning
			c := *job
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *mockStore) UpdateJobProcessing(_ context.Context, id uuid.UUID, state string, _ ...store.JobUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.ProcessingState = state
	return nil
}

func (s *mockStore) RequeueStaleJobs(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}

func (s *mockStore) ListLogReferences(_ context.Context, jobID uuid.UUID) ([]*models.LogReference, error) {
	if s.listRefsErr != nil {
		return nil, s.listRefsErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.LogReference, 0, len(s.refs[jobID]))
	for _, r := range s.refs[jobID] {
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

func (s *mockStore) UpdateParseStatus(_ context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, refs := range s.refs {
		for _, r := range refs {
			if r.ID != id {
				continue
			}
			if r.ParseStatus != models.ParsePending {
				return store.ErrInvalidTransition
			}
			r.ParseStatus = status
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *mockStore) ListArtifacts(_ context.Context, jobID uuid.UUID) ([]*models.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Artifact, 0, len(s.artifacts[jobID]))
	for _, a := range s.artifacts[jobID] {
		c := *a
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Source == models.ArtifactSubmitted && out[j].Source != models.ArtifactSubmitted
	})
	return out, nil
}

func (s *mockStore) ReplaceGeneratedArtifacts(_ context.Context, jobID uuid.UUID, artifacts []*models.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceCalls++
	kept := s.artifacts[jobID][:0:0]
	for _, a := range s.artifacts[jobID] {
		if a.Source != models.ArtifactGenerated {
			kept = append(kept, a)
		}
	}
	for _, a := range artifacts {
		c := *a
		c.JobID = jobID
		kept = append(kept, &c)
	}
	s.artifacts[jobID] = kept
	return nil
}

func (s *mockStore) UpsertBugs(_ context.Context, bugs []models.Bug) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bugs {
		s.bugs[b.ID] = b
	}
	return len(bugs), nil
}

func (s *mockStore) ListBugs(_ context.Context) ([]models.Bug, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Bug, 0, len(s.bugs))
	for _, b := range s.bugs {
		out = append(out, b)
	}
	return out, nil
}

func (s *mockStore) job(guid string) *models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.GUID == guid {
			c := *job
			return &c
		}
	}
	return nil
}

// --- cache ---

type mockCache struct {
	mu       sync.Mutex
	statuses map[string]string
	locks    map[string]string
	lockErr  error
}

func newMockCache() *mockCache {
	return &mockCache{statuses: make(map[string]string), locks: make(map[string]string)}
}

func (c *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *mockCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *mockCache) Ping(_ context.Context) error                                     { return nil }
func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, nil
}

func (c *mockCache) SetJobStatus(_ context.Context, jobID uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[cache.JobStatusKey(jobID)] = status
	return nil
}

func (c *mockCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[cache.JobStatusKey(jobID)]
	return s, ok, nil
}

func (c *mockCache) SetLogStatus(_ context.Context, refID uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[cache.LogStatusKey(refID)] = status
	return nil
}

func (c *mockCache) GetLogStatus(_ context.Context, refID uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[cache.LogStatusKey(refID)]
	return s, ok, nil
}

func (c *mockCache) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	if c.lockErr != nil {
		return "", false, c.lockErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.locks[key]; held {
		return "", false, nil
	}
	token := uuid.NewString()
	c.locks[key] = token
	return token, true, nil
}

func (c *mockCache) ReleaseLock(_ context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[key] != token {
		return cache.ErrLockNotHeld
	}
	delete(c.locks, key)
	return nil
}

// --- fetcher ---

type mockFetcher struct {
	mu      sync.Mutex
	bodies  map[string]string
	errs    map[string]error
	fetched []string
}

func (f *mockFetcher) Fetch(_ context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(f.bodies[url])), nil
}

func (f *mockFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

// --- parser / matcher ---

type mockParser struct {
	mu        sync.Mutex
	calls     int
	parseFunc func(ctx context.Context, r io.Reader, opts logparser.Options) (*models.TextLogSummary, error)
}

func (p *mockParser) Parse(ctx context.Context, r io.Reader, opts logparser.Options) (*models.TextLogSummary, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.parseFunc != nil {
		return p.parseFunc(ctx, r, opts)
	}
	return logparser.Parse(ctx, r, opts)
}

func (p *mockParser) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type mockMatcher struct {
	mu        sync.Mutex
	calls     int
	lastLines []models.ErrorLine
	matchFunc func(ctx context.Context, allErrors []models.ErrorLine) []models.BugSuggestion
}

func (m *mockMatcher) Match(ctx context.Context, allErrors []models.ErrorLine) []models.BugSuggestion {
	m.mu.Lock()
	m.calls++
	m.lastLines = allErrors
	m.mu.Unlock()
	if m.matchFunc != nil {
		return m.matchFunc(ctx, allErrors)
	}
	out := []models.BugSuggestion{}
	for _, el := range allErrors {
		out = append(out, models.BugSuggestion{
			Search:     el.Line,
			LineNumber: el.LineNumber,
			Bugs:       []models.Bug{{ID: 1054669, Summary: "Intermittent " + el.Line}},
		})
	}
	return out
}

func (m *mockMatcher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
