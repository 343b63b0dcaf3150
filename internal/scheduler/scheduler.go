// Package scheduler runs the background processing pass and the bug index
// refresh on cron schedules.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Processor runs one processing pass.
type Processor interface {
	ProcessPendingLogs(ctx context.Context, batchSize int) (int, error)
}

// Refresher rebuilds the bug index.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Requeuer returns jobs stuck in running back to pending.
type Requeuer interface {
	RequeueStaleJobs(ctx context.Context, olderThan time.Duration) (int, error)
}

// Config holds schedules in standard five-field cron syntax or @every form.
type Config struct {
	ProcessSchedule string
	RefreshSchedule string
	BatchSize       int
	// StaleAfter is how long a job may stay running before it is requeued.
	StaleAfter time.Duration
	// RunTimeout bounds one pass.
	RunTimeout time.Duration
}

// Scheduler drives the periodic passes. Overlapping runs of the same pass
// are skipped.
type Scheduler struct {
	processor Processor
	refresher Refresher
	requeuer  Requeuer
	cfg       Config
	cron      *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	processing sync.Mutex
	refreshing sync.Mutex
}

func New(p Processor, r Refresher, q Requeuer, cfg Config) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		processor: p,
		refresher: r,
		requeuer:  q,
		cfg:       cfg,
		cron:      cron.New(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start registers both passes and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.ProcessSchedule, s.runProcessing); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.RefreshSchedule, s.runRefresh); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("scheduler started",
		"process_schedule", s.cfg.ProcessSchedule,
		"refresh_schedule", s.cfg.RefreshSchedule,
	)
	return nil
}

// Stop halts the cron loop, cancels in-flight passes and waits for them.
// Jobs interrupted mid-pass are requeued by the processor.
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("scheduler stopped")
	case <-ctx.Done():
		slog.Warn("scheduler stop timed out", "error", ctx.Err())
	}
}

// RunNow refreshes the index and then runs one processing pass, in the
// background.
func (s *Scheduler) RunNow() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runRefresh()
		s.runProcessing()
	}()
}

func (s *Scheduler) runProcessing() {
	if !s.processing.TryLock() {
		slog.Debug("processing pass already running, skipping")
		return
	}
	defer s.processing.Unlock()
	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RunTimeout)
	defer cancel()

	if s.requeuer != nil && s.cfg.StaleAfter > 0 {
		n, err := s.requeuer.RequeueStaleJobs(ctx, s.cfg.StaleAfter)
		if err != nil {
			slog.Error("requeueing stale jobs failed", "error", err)
		} else if n > 0 {
			slog.Warn("requeued stale jobs", "count", n)
		}
	}

	start := time.Now()
	n, err := s.processor.ProcessPendingLogs(ctx, s.cfg.BatchSize)
	if err != nil {
		slog.Error("processing pass failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("processing pass completed", "logs_resolved", n, "duration_ms", time.Since(start).Milliseconds())
	}
}

func (s *Scheduler) runRefresh() {
	if !s.refreshing.TryLock() {
		return
	}
	defer s.refreshing.Unlock()
	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RunTimeout)
	defer cancel()

	if err := s.refresher.Refresh(ctx); err != nil {
		slog.Error("bug index refresh failed", "error", err)
	}
}
