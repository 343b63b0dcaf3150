package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/logsift/internal/api/response"
	"github.com/kiranshivaraju/logsift/internal/bugindex"
	"github.com/kiranshivaraju/logsift/internal/cache"
	"github.com/kiranshivaraju/logsift/internal/errorsummary"
	"github.com/kiranshivaraju/logsift/pkg/models"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
	searchCacheTTL     = 5 * time.Minute
	maxBugsBytes       = 20 << 20
)

// BugStore persists known bugs.
type BugStore interface {
	UpsertBugs(ctx context.Context, bugs []models.Bug) (int, error)
}

// BugIndex is the searchable in-memory view of the known bugs.
type BugIndex interface {
	Refresh(ctx context.Context) error
	Query(ctx context.Context, term string, limit int) ([]models.Bug, error)
	Snapshot() *bugindex.Snapshot
}

// NewUpsertBugsHandler returns an http.HandlerFunc for POST /api/v1/bugs.
// Bugs are stored and the index is rebuilt before responding.
func NewUpsertBugsHandler(bugs BugStore, index BugIndex) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBugsBytes)

		var in []models.Bug
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Body must be a JSON array of bugs", nil)
			return
		}
		for i, b := range in {
			if b.ID <= 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					fmt.Sprintf("bugs[%d]: id must be positive", i), nil)
				return
			}
		}

		n, err := bugs.UpsertBugs(r.Context(), in)
		if err != nil {
			slog.Error("storing bugs failed", "bugs", len(in), "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		refreshed := true
		if err := index.Refresh(r.Context()); err != nil {
			slog.Warn("bug index refresh after upsert failed", "error", err)
			refreshed = false
		}
		response.JSON(w, map[string]any{
			"upserted":        n,
			"index_refreshed": refreshed,
		})
	}
}

type searchMeta struct {
	Term          string    `json:"term"`
	Count         int       `json:"count"`
	IndexLoadedAt time.Time `json:"index_loaded_at"`
	Cached        bool      `json:"cached"`
}

// NewSearchBugsHandler returns an http.HandlerFunc for GET /api/v1/bugs/search.
// The term is given directly with q, or derived from a raw log line with line.
// Results are cached per index snapshot.
func NewSearchBugsHandler(index BugIndex, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		term := q.Get("q")
		if term == "" && q.Get("line") != "" {
			term = errorsummary.SearchTerm(errorsummary.CleanLine(q.Get("line")))
		}
		if term == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "q or line is required", nil)
			return
		}

		limit := defaultSearchLimit
		if s := q.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 || n > maxSearchLimit {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					fmt.Sprintf("limit must be between 1 and %d", maxSearchLimit), nil)
				return
			}
			limit = n
		}

		snap := index.Snapshot()
		if snap == nil {
			response.Error(w, http.StatusServiceUnavailable, "INDEX_UNAVAILABLE",
				"The bug index has not been loaded yet", nil)
			return
		}
		meta := searchMeta{Term: term, IndexLoadedAt: snap.LoadedAt()}
		key := cache.SearchResultKey(snap.LoadedAt().UnixNano(), termHash(term, limit))

		if raw, ok, err := c.Get(r.Context(), key); err == nil && ok {
			var bugs []models.Bug
			if json.Unmarshal(raw, &bugs) == nil {
				meta.Count = len(bugs)
				meta.Cached = true
				response.Collection(w, bugs, meta)
				return
			}
		}

		bugs, err := index.Query(r.Context(), term, limit)
		if err != nil {
			if errors.Is(err, bugindex.ErrIndexUnavailable) {
				response.Error(w, http.StatusServiceUnavailable, "INDEX_UNAVAILABLE",
					"The bug index has not been loaded yet", nil)
				return
			}
			slog.Error("bug search failed", "term", term, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		if bugs == nil {
			bugs = []models.Bug{}
		}

		if raw, err := json.Marshal(bugs); err == nil {
			if err := c.Set(r.Context(), key, raw, searchCacheTTL); err != nil {
				slog.Warn("caching bug search failed", "error", err)
			}
		}
		meta.Count = len(bugs)
		response.Collection(w, bugs, meta)
	}
}

func termHash(term string, limit int) string {
	sum := sha256.Sum256([]byte(strconv.Itoa(limit) + "\x00" + term))
	return hex.EncodeToString(sum[:12])
}
