package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/config"
	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/store"
)

// CheckRunner evaluates one health check. *runner.Runner satisfies it.
type CheckRunner interface {
	Run(ctx context.Context, checkID string) (models.CheckRun, error)
}

// Scheduler evaluates each enabled check on its own interval. It polls the
// store so checks added or re-enabled at runtime are picked up without a
// restart.
type Scheduler struct {
	store  *store.Store
	runner CheckRunner
	cfg    config.ChecksConfig
	logger *slog.Logger

	mu      sync.Mutex
	lastRun map[string]time.Time
}

func New(st *store.Store, runner CheckRunner, cfg config.ChecksConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:   st,
		runner:  runner,
		cfg:     cfg,
		logger:  logger,
		lastRun: make(map[string]time.Time),
	}
}

// Start blocks until ctx is cancelled, sweeping for due checks every poll
// interval. In-flight evaluations finish their own timeout even during
// shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("check scheduler started", "poll", s.cfg.SchedulerPoll)
	ticker := time.NewTicker(s.cfg.SchedulerPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("check scheduler stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	checks, err := s.store.ListHealthChecks(true)
	if err != nil {
		s.logger.Error("scheduler cannot list checks", "error", err)
		return
	}

	now := time.Now()
	var wg sync.WaitGroup
	for _, check := range checks {
		if !s.due(check, now) {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := s.runner.Run(ctx, id); err != nil {
				s.logger.Error("scheduled check failed to run", "check_id", id, "error", err)
			}
		}(check.ID)
	}
	wg.Wait()
}

// due marks the check as run when it reports true, so a slow evaluation is
// not re-triggered by the next sweep.
func (s *Scheduler) due(check models.HealthCheck, now time.Time) bool {
	interval := check.Interval
	if interval <= 0 {
		interval = s.cfg.DefaultInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[check.ID]
	if ok && now.Sub(last) < interval {
		return false
	}
	s.lastRun[check.ID] = now
	return true
}
