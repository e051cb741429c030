package store

import (
	"time"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

// SeedDefaultChecks installs the standard pipeline checks when the store has
// none. Returns the number of checks created.
func (s *Store) SeedDefaultChecks() (int, error) {
	existing, err := s.ListHealthChecks(false)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	defaults := []models.HealthCheck{
		{
			Name:        "Inference Latency",
			Description: "Monitors inference latency for the deployed model",
			Type:        models.CheckTypeLatency,
			Enabled:     true,
			Interval:    30 * time.Second,
			Threshold:   500, // ms
			Strategy:    models.StrategyRestartService,
		},
		{
			Name:        "Classifier Correctness",
			Description: "Validates classifier outputs against golden samples",
			Type:        models.CheckTypeCorrectness,
			Enabled:     true,
			Interval:    time.Minute,
			Threshold:   0.95,
			Strategy:    models.StrategyRollbackModel,
		},
		{
			Name:        "Prediction Drift",
			Description: "Detects distribution drift in model predictions",
			Type:        models.CheckTypeDrift,
			Enabled:     true,
			Interval:    5 * time.Minute,
			Threshold:   0.1, // KS statistic
			Strategy:    models.StrategyClearCache,
		},
		{
			Name:        "Inference Cluster Resources",
			Description: "Monitors CPU and memory usage of the inference cluster",
			Type:        models.CheckTypeResource,
			Enabled:     true,
			Interval:    time.Minute,
			Threshold:   80, // percent utilization
			Strategy:    models.StrategyScaleHint,
		},
	}

	for i := range defaults {
		if err := s.CreateHealthCheck(&defaults[i]); err != nil {
			return i, err
		}
	}
	return len(defaults), nil
}
