package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/cache"
	"github.com/miradorstack/mirador-sentry/internal/incidents"
	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/remediation"
	"github.com/miradorstack/mirador-sentry/internal/rightsizing"
	"github.com/miradorstack/mirador-sentry/internal/runner"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

const (
	rightsizingCacheKey = "sentry:report:rightsizing"
	costCacheKey        = "sentry:report:cost"
)

// SentryService is the operation surface the outer API layer consumes. It
// fronts the runner, the incident manager, the remediation engine, and the
// rightsizing engine behind one facade.
type SentryService struct {
	logger      *slog.Logger
	runner      *runner.Runner
	incidents   *incidents.Manager
	remediation *remediation.Engine
	rightsizing *rightsizing.Engine
	cache       cache.Provider
	reportTTL   time.Duration
	latencies   *utils.LatencyTracker
}

// NewSentryService constructs the service facade.
func NewSentryService(
	logger *slog.Logger,
	checkRunner *runner.Runner,
	incidentMgr *incidents.Manager,
	remediationEngine *remediation.Engine,
	rightsizingEngine *rightsizing.Engine,
	cacheProvider cache.Provider,
	reportTTL time.Duration,
) *SentryService {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	return &SentryService{
		logger:      logger,
		runner:      checkRunner,
		incidents:   incidentMgr,
		remediation: remediationEngine,
		rightsizing: rightsizingEngine,
		cache:       cacheProvider,
		reportTTL:   reportTTL,
		latencies:   utils.NewLatencyTracker(1024),
	}
}

// RunCheck evaluates one health check immediately.
func (s *SentryService) RunCheck(ctx context.Context, checkID string) (models.CheckRun, error) {
	return s.runner.Run(ctx, checkID)
}

// RunAllChecks evaluates every enabled check concurrently.
func (s *SentryService) RunAllChecks(ctx context.Context) (runner.BatchResult, error) {
	start := time.Now()
	result, err := s.runner.RunAll(ctx)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("check sweep failed", slog.Any("error", err))
		return runner.BatchResult{}, err
	}
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("check sweep latency",
			slog.Duration("p95", s.latencies.Percentile(95)),
			slog.Int("samples", count))
	}

	// Check outcomes change incident state, so cached reports built on the
	// previous state are dropped eagerly.
	if result.Failed > 0 || result.Errored > 0 {
		s.invalidateReports(ctx)
	}
	return result, nil
}

// GetIncidents returns incidents matching the filter, newest first.
func (s *SentryService) GetIncidents(filter models.IncidentFilter) ([]models.Incident, error) {
	return s.incidents.List(filter)
}

// GetIncidentSummary aggregates incident counts over the window.
func (s *SentryService) GetIncidentSummary(window time.Duration) (models.IncidentSummary, error) {
	return s.incidents.Summary(window)
}

// Remediate executes one remediation attempt against an incident.
func (s *SentryService) Remediate(ctx context.Context, incidentID string, strategy models.Strategy, dryRun bool) (models.RemediationAttempt, error) {
	return s.remediation.Remediate(ctx, incidentID, strategy, dryRun)
}

// GetRemediationAudit returns the attempt history of one incident.
func (s *SentryService) GetRemediationAudit(incidentID string) ([]models.RemediationAttempt, error) {
	return s.remediation.Audit(incidentID)
}

// ResolveIncident closes an incident manually with operator notes.
func (s *SentryService) ResolveIncident(id, notes string) (models.Incident, error) {
	return s.incidents.Resolve(id, notes)
}

// GetRightsizingOpportunities returns the current recommendation set, served
// from cache while fresh.
func (s *SentryService) GetRightsizingOpportunities(ctx context.Context) ([]models.RightsizingOpportunity, error) {
	var cached []models.RightsizingOpportunity
	if s.readCached(ctx, rightsizingCacheKey, &cached) {
		return cached, nil
	}

	opportunities, err := s.rightsizing.Opportunities()
	if err != nil {
		return nil, err
	}
	s.writeCached(ctx, rightsizingCacheKey, opportunities)
	return opportunities, nil
}

// GetCostSummary returns the current spend estimate, served from cache while
// fresh.
func (s *SentryService) GetCostSummary(ctx context.Context) (rightsizing.CostSummary, error) {
	var cached rightsizing.CostSummary
	if s.readCached(ctx, costCacheKey, &cached) {
		return cached, nil
	}

	summary, err := s.rightsizing.CostSummary()
	if err != nil {
		return rightsizing.CostSummary{}, err
	}
	s.writeCached(ctx, costCacheKey, summary)
	return summary, nil
}

// SweepLatencyP95 reports the current p95 duration of RunAllChecks sweeps.
func (s *SentryService) SweepLatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

func (s *SentryService) readCached(ctx context.Context, key string, out any) bool {
	data, err := s.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return false
	}
	if err != nil {
		s.logger.Warn("report cache read failed", slog.String("key", key), slog.Any("error", err))
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Warn("stale report cache entry dropped", slog.String("key", key), slog.Any("error", err))
		_ = s.cache.Del(ctx, key)
		return false
	}
	return true
}

func (s *SentryService) writeCached(ctx context.Context, key string, value any) {
	if s.reportTTL <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("report not cacheable", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := s.cache.Set(ctx, key, data, s.reportTTL); err != nil {
		s.logger.Warn("report cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *SentryService) invalidateReports(ctx context.Context) {
	for _, key := range []string{rightsizingCacheKey, costCacheKey} {
		if err := s.cache.Del(ctx, key); err != nil {
			s.logger.Warn("report cache invalidation failed", slog.String("key", key), slog.Any("error", err))
		}
	}
}
