package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHealthCheckCRUD(t *testing.T) {
	s := newTestStore(t)

	hc := models.HealthCheck{
		Name:      "Inference Latency",
		Type:      models.CheckTypeLatency,
		Enabled:   true,
		Interval:  30 * time.Second,
		Threshold: 500,
		Strategy:  models.StrategyRestartService,
	}
	require.NoError(t, s.CreateHealthCheck(&hc))
	require.NotEmpty(t, hc.ID)

	loaded, err := s.GetHealthCheck(hc.ID)
	require.NoError(t, err)
	assert.Equal(t, hc.Name, loaded.Name)
	assert.Equal(t, models.CheckTypeLatency, loaded.Type)

	loaded.Enabled = false
	require.NoError(t, s.UpdateHealthCheck(loaded))

	enabled, err := s.ListHealthChecks(true)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	all, err := s.ListHealthChecks(false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetHealthCheckNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetHealthCheck("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckRunHistoryNewestFirst(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		run := models.CheckRun{
			CheckID:     "chk-1",
			Status:      models.CheckStatusPassed,
			Value:       float64(i),
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			CompletedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
		}
		require.NoError(t, s.CreateCheckRun(&run))
	}

	runs, err := s.ListCheckRuns("chk-1", 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, float64(4), runs[0].Value)
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt))
}

func TestActiveIncidentMarker(t *testing.T) {
	s := newTestStore(t)

	inc := models.Incident{
		CheckID:  "chk-1",
		Title:    "latency exceeded",
		Severity: models.SeverityHigh,
		Status:   models.IncidentOpen,
	}
	require.NoError(t, s.CreateIncident(&inc))

	active, found, err := s.FindActiveIncident("chk-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, inc.ID, active.ID)

	now := time.Now().UTC()
	active.Status = models.IncidentResolved
	active.ResolvedAt = &now
	require.NoError(t, s.UpdateIncident(active))

	_, found, err = s.FindActiveIncident("chk-1")
	require.NoError(t, err)
	assert.False(t, found, "terminal incident must not stay active")
}

func TestListIncidentsFilter(t *testing.T) {
	s := newTestStore(t)

	severities := []models.Severity{models.SeverityLow, models.SeverityHigh, models.SeverityHigh}
	for i, sev := range severities {
		inc := models.Incident{
			CheckID:     "chk-" + string(rune('a'+i)),
			Title:       "incident",
			Severity:    sev,
			Status:      models.IncidentOpen,
			TriggeredAt: time.Now().UTC().Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.CreateIncident(&inc))
	}

	high, err := s.ListIncidents(models.IncidentFilter{Severity: models.SeverityHigh})
	require.NoError(t, err)
	assert.Len(t, high, 2)

	limited, err := s.ListIncidents(models.IncidentFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestInstanceAggregates(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC()
	for i := 0; i < 20; i++ {
		m := models.InstanceMetric{
			InstanceID:   "aws-0001",
			Provider:     "aws",
			InstanceType: "m5.xlarge",
			Region:       "us-east-1",
			CPUUtil:      float64(10 + i),
			MemoryUtil:   float64(20 + i),
			Timestamp:    now.Add(-time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.PutInstanceMetric(m))
	}
	// Stale sample outside any reasonable lookback.
	require.NoError(t, s.PutInstanceMetric(models.InstanceMetric{
		InstanceID: "aws-0001", Provider: "aws", InstanceType: "m5.xlarge",
		CPUUtil: 99, MemoryUtil: 99, Timestamp: now.Add(-48 * time.Hour),
	}))

	aggs, err := s.InstanceAggregates(2 * time.Hour)
	require.NoError(t, err)
	require.Len(t, aggs, 1)

	agg := aggs[0]
	assert.Equal(t, 20, agg.SampleCount)
	assert.InDelta(t, 19.5, agg.CPUAvg, 0.01)
	assert.GreaterOrEqual(t, agg.CPUP95, 27.0)
	assert.Less(t, agg.CPUP95, 40.0, "stale sample must be excluded")
}

func TestVolumes(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutVolume(models.Volume{
		VolumeID:         "vol-1",
		Provider:         "aws",
		VolumeType:       "ssd",
		ProvisionedBytes: 100,
		UsedBytes:        25,
	}))

	volumes, err := s.ListVolumes()
	require.NoError(t, err)
	require.Len(t, volumes, 1)
	assert.Equal(t, float64(75), volumes[0].UnusedBytes())
}

func TestSeedDefaultChecks(t *testing.T) {
	s := newTestStore(t)

	n, err := s.SeedDefaultChecks()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// Idempotent: a second seed is a no-op.
	n, err = s.SeedDefaultChecks()
	require.NoError(t, err)
	assert.Zero(t, n)

	checks, err := s.ListHealthChecks(true)
	require.NoError(t, err)
	assert.Len(t, checks, 4)
}
