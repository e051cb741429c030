package rightsizing

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-sentry/internal/config"
	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/store"
)

func testConfig() config.RightsizingConfig {
	return config.RightsizingConfig{
		Lookback:      24 * time.Hour,
		IdleCPU:       10,
		LowCPU:        20,
		HighCPU:       80,
		LowMemory:     30,
		SafetyCeiling: 80,
		HoursPerMonth: 720,
		MinSamples:    20,
		MinWindow:     6 * time.Hour,
	}
}

func newTestEngine(t *testing.T, cfg config.RightsizingConfig) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(st, DefaultCatalog(), cfg, logger), st
}

// seedSamples writes count utilization samples spread evenly over span,
// newest sample at now.
func seedSamples(t *testing.T, st *store.Store, instanceID, provider, instanceType string, cpu, mem float64, count int, span time.Duration) {
	t.Helper()
	now := time.Now().UTC()
	step := span / time.Duration(count)
	for i := 0; i < count; i++ {
		require.NoError(t, st.PutInstanceMetric(models.InstanceMetric{
			InstanceID:   instanceID,
			Provider:     provider,
			InstanceType: instanceType,
			Region:       "us-east-1",
			CPUUtil:      cpu,
			MemoryUtil:   mem,
			Timestamp:    now.Add(-time.Duration(i) * step),
		}))
	}
}

func TestOpportunityForUnderutilizedInstance(t *testing.T) {
	engine, st := newTestEngine(t, testConfig())
	seedSamples(t, st, "i-underused", "aws", "m5.xlarge", 18, 20, 25, 12*time.Hour)

	opps, err := engine.Opportunities()
	require.NoError(t, err)
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, "i-underused", opp.InstanceID)
	assert.Equal(t, "m5.xlarge", opp.CurrentType)
	assert.Equal(t, "m5.large", opp.RecommendedType)
	assert.InDelta(t, 36, opp.ProjectedCPUP95, 0.01)
	assert.InDelta(t, (0.192-0.096)*720, opp.MonthlySavings, 0.001)
	assert.Equal(t, models.ConfidenceHigh, opp.Confidence)
}

func TestNoOpportunityAboveSafetyCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.SafetyCeiling = 35
	engine, st := newTestEngine(t, cfg)
	// Projected CPU on any 2-vCPU type would be 36, above the ceiling.
	seedSamples(t, st, "i-tight", "aws", "m5.xlarge", 18, 10, 25, 12*time.Hour)

	opps, err := engine.Opportunities()
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestNoOpportunityWithoutSmallerType(t *testing.T) {
	engine, st := newTestEngine(t, testConfig())
	// t3.micro is already the smallest AWS type in the catalog.
	seedSamples(t, st, "i-smallest", "aws", "t3.micro", 15, 20, 25, 12*time.Hour)

	opps, err := engine.Opportunities()
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestMemoryPressureBlocksTinyTypes(t *testing.T) {
	engine, st := newTestEngine(t, testConfig())
	// Memory P95 of 25 projects to 100 on t3.medium's 4 GB; only m5.large
	// holds under the ceiling.
	seedSamples(t, st, "i-memory", "aws", "m5.xlarge", 15, 25, 25, 12*time.Hour)

	opps, err := engine.Opportunities()
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "m5.large", opps[0].RecommendedType)
}

func TestClassify(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig())

	base := models.InstanceAggregate{Provider: "aws", InstanceType: "m5.xlarge"}

	idle := base
	idle.CPUAvg, idle.CPUP95 = 4, 8
	assert.Equal(t, ClassIdle, engine.Classify(idle))

	hot := base
	hot.CPUAvg, hot.CPUP95 = 70, 92
	assert.Equal(t, ClassOverutilized, engine.Classify(hot))

	candidate := base
	candidate.CPUAvg, candidate.CPUP95 = 15, 18
	candidate.MemoryAvg, candidate.MemoryP95 = 18, 22
	assert.Equal(t, ClassCandidate, engine.Classify(candidate))

	healthy := base
	healthy.CPUAvg, healthy.CPUP95 = 45, 60
	assert.Equal(t, ClassHealthy, engine.Classify(healthy))

	unknown := base
	unknown.InstanceType = "m7i.mystery"
	assert.Equal(t, ClassUnknownType, engine.Classify(unknown))
}

func TestConfidenceGrading(t *testing.T) {
	engine, st := newTestEngine(t, testConfig())
	// Plenty of samples but a short window: medium.
	seedSamples(t, st, "i-short", "aws", "m5.xlarge", 15, 20, 30, 2*time.Hour)
	// Few samples over a short window: low.
	seedSamples(t, st, "i-sparse", "gcp", "n1-standard-4", 15, 20, 5, time.Hour)

	opps, err := engine.Opportunities()
	require.NoError(t, err)
	require.Len(t, opps, 2)

	byID := map[string]models.Confidence{}
	for _, o := range opps {
		byID[o.InstanceID] = o.Confidence
	}
	assert.Equal(t, models.ConfidenceMedium, byID["i-short"])
	assert.Equal(t, models.ConfidenceLow, byID["i-sparse"])
}

func TestOpportunitiesSortedBySavings(t *testing.T) {
	engine, st := newTestEngine(t, testConfig())
	seedSamples(t, st, "i-big", "gcp", "a2-highgpu-1g", 10.5, 15, 25, 12*time.Hour)
	seedSamples(t, st, "i-small", "aws", "m5.xlarge", 15, 20, 25, 12*time.Hour)

	opps, err := engine.Opportunities()
	require.NoError(t, err)
	require.Len(t, opps, 2)
	assert.Equal(t, "i-big", opps[0].InstanceID)
	assert.GreaterOrEqual(t, opps[0].MonthlySavings, opps[1].MonthlySavings)
}

func TestCostSummary(t *testing.T) {
	engine, st := newTestEngine(t, testConfig())
	seedSamples(t, st, "i-underused", "aws", "m5.xlarge", 15, 20, 25, 12*time.Hour)
	seedSamples(t, st, "i-idle", "aws", "t3.medium", 4, 10, 25, 12*time.Hour)
	seedSamples(t, st, "i-hot", "gcp", "c2-standard-8", 85, 60, 25, 12*time.Hour)

	require.NoError(t, st.PutVolume(models.Volume{
		VolumeID:         "vol-1",
		Provider:         "aws",
		VolumeType:       "gp3",
		ProvisionedBytes: 100e9,
		UsedBytes:        20e9,
	}))

	summary, err := engine.CostSummary()
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalInstances)
	assert.InDelta(t, 0.192+0.0416+0.382, summary.HourlyCost, 1e-9)
	assert.InDelta(t, summary.HourlyCost*720, summary.MonthlyCost, 1e-6)
	assert.Equal(t, 1, summary.IdleCount)
	assert.Equal(t, 1, summary.OverutilizedCount)
	assert.Equal(t, 2, summary.ByProvider["aws"].Instances)
	assert.Equal(t, 1, summary.ByProvider["gcp"].Instances)
	assert.Greater(t, summary.PotentialMonthlySavings, 0.0)
	assert.InDelta(t, 80e9, summary.UnusedVolumeBytes, 1)
}

func TestIdleInstances(t *testing.T) {
	engine, st := newTestEngine(t, testConfig())
	seedSamples(t, st, "i-idle-a", "aws", "t3.medium", 6, 10, 25, 12*time.Hour)
	seedSamples(t, st, "i-idle-b", "aws", "m5.large", 2, 10, 25, 12*time.Hour)
	seedSamples(t, st, "i-busy", "aws", "m5.xlarge", 50, 40, 25, 12*time.Hour)

	idle, err := engine.IdleInstances()
	require.NoError(t, err)
	require.Len(t, idle, 2)
	assert.Equal(t, "i-idle-b", idle[0].InstanceID)
	assert.Equal(t, "i-idle-a", idle[1].InstanceID)
}

func TestLoadCatalogPack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	pack := `providers:
  aws:
    m5.large:
      vcpu: 2
      memoryGB: 8
      hourlyPrice: 0.096
    m5.xlarge:
      vcpu: 4
      memoryGB: 16
      hourlyPrice: 0.192
`
	require.NoError(t, os.WriteFile(path, []byte(pack), 0o644))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)
	spec, ok := catalog.Lookup("aws", "m5.xlarge")
	require.True(t, ok)
	assert.Equal(t, 4, spec.VCPU)
	assert.Equal(t, 0.192, spec.HourlyPrice)

	_, ok = catalog.Lookup("gcp", "e2-micro")
	assert.False(t, ok)
}

func TestLoadCatalogDefaults(t *testing.T) {
	catalog, err := LoadCatalog("")
	require.NoError(t, err)
	_, ok := catalog.Lookup("oci", "VM.Standard.E2.1")
	assert.True(t, ok)
}

func TestLoadCatalogRejectsBadSpecs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	pack := `providers:
  aws:
    broken:
      vcpu: 0
      hourlyPrice: 0.1
`
	require.NoError(t, os.WriteFile(path, []byte(pack), 0o644))

	_, err := LoadCatalog(path)
	assert.Error(t, err)
}
