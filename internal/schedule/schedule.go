// Package schedule runs periodic cache refreshes and journal pruning.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/ppiankov/rentscout/internal/ingest"
)

// PruneSpec is when old journal rows are deleted.
const PruneSpec = "@daily"

// Refresher re-fetches the listing cache.
type Refresher interface {
	Refresh(ctx context.Context, fallback []string, days int) (ingest.FetchResult, error)
}

// Pruner drops journal rows older than a retention window.
type Pruner interface {
	PruneOld(ctx context.Context, retainDays int) (int64, error)
}

type Options struct {
	// Spec is a standard cron expression or descriptor. Empty disables
	// scheduled refreshes.
	Spec       string
	Channels   []string
	Days       int
	Pruner     Pruner
	RetainDays int
	Logger     *slog.Logger
}

type Scheduler struct {
	refresher Refresher
	opts      Options
	cron      *cron.Cron
	log       *slog.Logger

	mu  sync.Mutex
	ctx context.Context
}

// New validates the schedule and registers its jobs. Nothing runs until
// Start.
func New(r Refresher, opts Options) (*Scheduler, error) {
	if r == nil {
		return nil, errors.New("schedule: refresher is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	log := opts.Logger.With("component", "schedule")

	s := &Scheduler{
		refresher: r,
		opts:      opts,
		log:       log,
		ctx:       context.Background(),
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{log}),
			cron.SkipIfStillRunning(cronLogger{log}),
		)),
	}

	if opts.Spec != "" {
		if _, err := s.cron.AddFunc(opts.Spec, func() { s.RunRefresh(s.context()) }); err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", opts.Spec, err)
		}
	}
	if opts.Pruner != nil && opts.RetainDays > 0 {
		if _, err := s.cron.AddFunc(PruneSpec, func() { s.RunPrune(s.context()) }); err != nil {
			return nil, fmt.Errorf("register prune job: %w", err)
		}
	}
	return s, nil
}

// Jobs returns how many jobs are registered.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start runs the jobs in the background until ctx is done or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if s.Jobs() == 0 {
		s.log.Info("no schedule configured")
		return
	}
	s.log.Info("scheduler started", "refresh", s.opts.Spec, "jobs", s.Jobs())
	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
}

// Stop halts the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// RunRefresh performs one scheduled refresh. Failures are logged.
func (s *Scheduler) RunRefresh(ctx context.Context) {
	res, err := s.refresher.Refresh(ctx, s.opts.Channels, s.opts.Days)
	if err != nil {
		if ingest.IsValidation(err) {
			s.log.Info("scheduled refresh skipped", "reason", err)
			return
		}
		s.log.Error("scheduled refresh failed", "error", err)
		return
	}
	s.log.Info("scheduled refresh complete",
		"listings", res.TotalListings,
		"successful", res.ChannelsSuccessful,
		"failed", res.ChannelsFailed,
	)
}

// RunPrune deletes expired journal rows. Failures are logged.
func (s *Scheduler) RunPrune(ctx context.Context) {
	if s.opts.Pruner == nil {
		return
	}
	n, err := s.opts.Pruner.PruneOld(ctx, s.opts.RetainDays)
	if err != nil {
		s.log.Error("prune journal", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("journal pruned", "runs", n, "retain_days", s.opts.RetainDays)
	}
}

// cronLogger adapts slog to cron's logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
