// Package ingest records submitted CI jobs and runs the background pass
// that turns their pending logs into text_log_summary and Bug suggestions
// artifacts.
package ingest

import (
	"context"
	"io"
	"time"

	"github.com/kiranshivaraju/logsift/internal/cache"
	"github.com/kiranshivaraju/logsift/internal/fetch"
	"github.com/kiranshivaraju/logsift/internal/logparser"
	"github.com/kiranshivaraju/logsift/internal/store"
	"github.com/kiranshivaraju/logsift/pkg/models"
)

// Parser turns a raw log stream into a summary.
type Parser interface {
	Parse(ctx context.Context, r io.Reader, opts logparser.Options) (*models.TextLogSummary, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(ctx context.Context, r io.Reader, opts logparser.Options) (*models.TextLogSummary, error)

func (f ParserFunc) Parse(ctx context.Context, r io.Reader, opts logparser.Options) (*models.TextLogSummary, error) {
	return f(ctx, r, opts)
}

// Matcher derives bug suggestions from error lines.
type Matcher interface {
	Match(ctx context.Context, allErrors []models.ErrorLine) []models.BugSuggestion
}

// Config tunes the processing pass.
type Config struct {
	Workers      int
	MaxErrors    int
	MaxLineBytes int
	JobTimeout   time.Duration
	LockTTL      time.Duration
	StatusTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = logparser.DefaultMaxErrors
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = logparser.DefaultMaxLineBytes
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.JobTimeout + time.Minute
	}
	if c.StatusTTL <= 0 {
		c.StatusTTL = 30 * time.Minute
	}
	return c
}

// Service owns job submission and log processing.
type Service struct {
	store   store.Store
	cache   cache.Cache
	fetcher fetch.Fetcher
	parser  Parser
	matcher Matcher
	cfg     Config
}

// NewService creates a Service. A nil parser defaults to logparser.Parse.
func NewService(st store.Store, ca cache.Cache, f fetch.Fetcher, p Parser, m Matcher, cfg Config) *Service {
	if p == nil {
		p = ParserFunc(logparser.Parse)
	}
	return &Service{
		store:   st,
		cache:   ca,
		fetcher: f,
		parser:  p,
		matcher: m,
		cfg:     cfg.withDefaults(),
	}
}
