// Package bugindex holds the read-mostly set of known bugs used to suggest
// matches for failure lines. Queries run against an immutable Snapshot; a
// refresh builds a new Snapshot and swaps it in atomically.
package bugindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/logsift/pkg/models"
)

// ErrIndexUnavailable is returned by Query before any snapshot was loaded.
var ErrIndexUnavailable = errors.New("bug index unavailable")

// Querier finds bugs related to a search term, best match first.
type Querier interface {
	Query(ctx context.Context, term string, limit int) ([]models.Bug, error)
}

// Source loads the full set of known bugs.
type Source interface {
	LoadBugs(ctx context.Context) ([]models.Bug, error)
}

// Index serves queries from the current snapshot.
type Index struct {
	source  Source
	current atomic.Pointer[Snapshot]
}

// New creates an empty Index. Call Refresh to load the first snapshot.
func New(source Source) *Index {
	return &Index{source: source}
}

// Refresh loads all bugs from the source and swaps in a new snapshot. On
// failure the previous snapshot stays in place.
func (ix *Index) Refresh(ctx context.Context) error {
	start := time.Now()
	bugs, err := ix.source.LoadBugs(ctx)
	if err != nil {
		return fmt.Errorf("load bugs: %w", err)
	}

	ix.Swap(NewSnapshot(bugs))
	slog.Info("bug index refreshed",
		"bugs", len(bugs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Swap replaces the current snapshot.
func (ix *Index) Swap(s *Snapshot) {
	ix.current.Store(s)
}

// Snapshot returns the current snapshot, or nil before the first load.
func (ix *Index) Snapshot() *Snapshot {
	return ix.current.Load()
}

func (ix *Index) Query(ctx context.Context, term string, limit int) ([]models.Bug, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := ix.current.Load()
	if snap == nil {
		return nil, ErrIndexUnavailable
	}
	return snap.Search(term, limit), nil
}

// Compile-time check that Index implements Querier.
var _ Querier = (*Index)(nil)
