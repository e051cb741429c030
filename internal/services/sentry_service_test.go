package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-sentry/internal/cache"
	"github.com/miradorstack/mirador-sentry/internal/config"
	"github.com/miradorstack/mirador-sentry/internal/incidents"
	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/remediation"
	"github.com/miradorstack/mirador-sentry/internal/rightsizing"
	"github.com/miradorstack/mirador-sentry/internal/runner"
	"github.com/miradorstack/mirador-sentry/internal/store"
)

type stubSampler struct {
	latency float64
}

func (f *stubSampler) SampleLatency(context.Context) (float64, map[string]any, error) {
	return f.latency, nil, nil
}

func (f *stubSampler) SampleCorrectness(context.Context) (float64, map[string]any, error) {
	return 1, nil, nil
}

func (f *stubSampler) SampleResource(context.Context) (float64, map[string]any, error) {
	return 50, nil, nil
}

func (f *stubSampler) SampleDistribution(context.Context, time.Duration) ([]float64, []float64, error) {
	return []float64{0.1, 0.2, 0.3}, []float64{0.1, 0.2, 0.3}, nil
}

type stubActions struct{}

func (stubActions) RestartService(context.Context, bool) (map[string]any, error) {
	return map[string]any{"restarted": true}, nil
}

func (stubActions) ClearCache(context.Context, bool) (map[string]any, error) {
	return nil, nil
}

func (stubActions) RollbackModel(context.Context, bool) (map[string]any, error) {
	return nil, nil
}

func (stubActions) ScaleHint(context.Context, bool) (map[string]any, error) {
	return nil, nil
}

// memCache is an in-process Provider for exercising the report cache path.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, cache.ErrCacheMiss
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.sets++
	return nil
}

func (m *memCache) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memCache) Close() error { return nil }

func newTestService(t *testing.T, sampler runner.Sampler, provider cache.Provider) (*SentryService, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	incidentCfg := config.IncidentsConfig{
		RetryLimit: 3,
		Grading:    map[string]string{"latency": "high"},
	}
	mgr := incidents.NewManager(st, incidentCfg, logger)
	checkRunner := runner.New(st, sampler, mgr, config.ChecksConfig{
		Timeout:         5 * time.Second,
		DriftWindow:     time.Hour,
		DriftMinSamples: 3,
	}, logger)
	engine := remediation.NewEngine(mgr, stubActions{}, config.RemediationConfig{Timeout: time.Second}, logger)
	sizer := rightsizing.NewEngine(st, rightsizing.DefaultCatalog(), config.RightsizingConfig{
		Lookback:      24 * time.Hour,
		IdleCPU:       10,
		LowCPU:        20,
		HighCPU:       80,
		LowMemory:     30,
		SafetyCeiling: 80,
		HoursPerMonth: 720,
		MinSamples:    20,
		MinWindow:     6 * time.Hour,
	}, logger)

	return NewSentryService(logger, checkRunner, mgr, engine, sizer, provider, time.Minute), st
}

func seedLatencyCheck(t *testing.T, st *store.Store) models.HealthCheck {
	t.Helper()
	hc := models.HealthCheck{
		Name:      "inference latency",
		Type:      models.CheckTypeLatency,
		Enabled:   true,
		Interval:  time.Minute,
		Threshold: 500,
		Strategy:  models.StrategyRestartService,
	}
	require.NoError(t, st.CreateHealthCheck(&hc))
	return hc
}

func TestFailingSweepOpensIncidentAndRemediationResolves(t *testing.T) {
	sampler := &stubSampler{latency: 900}
	svc, st := newTestService(t, sampler, nil)
	hc := seedLatencyCheck(t, st)

	result, err := svc.RunAllChecks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	open, err := svc.GetIncidents(models.IncidentFilter{Status: models.IncidentOpen, CheckID: hc.ID})
	require.NoError(t, err)
	require.Len(t, open, 1)

	attempt, err := svc.Remediate(context.Background(), open[0].ID, models.StrategyRestartService, false)
	require.NoError(t, err)
	assert.True(t, attempt.Success)

	resolved, err := svc.GetIncidents(models.IncidentFilter{Status: models.IncidentResolved})
	require.NoError(t, err)
	assert.Len(t, resolved, 1)

	audit, err := svc.GetRemediationAudit(open[0].ID)
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

func TestRunCheckPassing(t *testing.T) {
	svc, st := newTestService(t, &stubSampler{latency: 100}, nil)
	hc := seedLatencyCheck(t, st)

	run, err := svc.RunCheck(context.Background(), hc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckStatusPassed, run.Status)

	incs, err := svc.GetIncidents(models.IncidentFilter{})
	require.NoError(t, err)
	assert.Empty(t, incs)
}

func TestResolveIncidentManually(t *testing.T) {
	svc, st := newTestService(t, &stubSampler{latency: 900}, nil)
	hc := seedLatencyCheck(t, st)

	_, err := svc.RunCheck(context.Background(), hc.ID)
	require.NoError(t, err)
	open, err := svc.GetIncidents(models.IncidentFilter{Status: models.IncidentOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)

	inc, err := svc.ResolveIncident(open[0].ID, "known deploy, ignoring")
	require.NoError(t, err)
	assert.Equal(t, models.IncidentResolved, inc.Status)
	assert.Equal(t, "known deploy, ignoring", inc.ResolutionNotes)
}

func TestIncidentSummary(t *testing.T) {
	svc, st := newTestService(t, &stubSampler{latency: 900}, nil)
	seedLatencyCheck(t, st)

	_, err := svc.RunAllChecks(context.Background())
	require.NoError(t, err)

	summary, err := svc.GetIncidentSummary(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.ByStatus[models.IncidentOpen])
	assert.Equal(t, 1, summary.InWindow)
}

func TestRightsizingReportsCached(t *testing.T) {
	provider := newMemCache()
	svc, st := newTestService(t, &stubSampler{latency: 100}, provider)

	now := time.Now().UTC()
	for i := 0; i < 25; i++ {
		require.NoError(t, st.PutInstanceMetric(models.InstanceMetric{
			InstanceID:   "i-cached",
			Provider:     "aws",
			InstanceType: "m5.xlarge",
			CPUUtil:      15,
			MemoryUtil:   20,
			Timestamp:    now.Add(-time.Duration(i) * 30 * time.Minute),
		}))
	}

	first, err := svc.GetRightsizingOpportunities(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, provider.sets)

	// Second read is served from cache; no new write happens.
	second, err := svc.GetRightsizingOpportunities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.sets)

	summary, err := svc.GetCostSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalInstances)
	assert.Greater(t, summary.PotentialMonthlySavings, 0.0)
}

func TestFailingSweepInvalidatesReports(t *testing.T) {
	provider := newMemCache()
	sampler := &stubSampler{latency: 100}
	svc, st := newTestService(t, sampler, provider)
	seedLatencyCheck(t, st)

	_, err := svc.GetCostSummary(context.Background())
	require.NoError(t, err)
	require.Contains(t, provider.data, costCacheKey)

	sampler.latency = 900
	_, err = svc.RunAllChecks(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, provider.data, costCacheKey)
}
