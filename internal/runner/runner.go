package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/config"
	"github.com/miradorstack/mirador-sentry/internal/drift"
	"github.com/miradorstack/mirador-sentry/internal/metrics"
	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/store"
)

// Sampler probes the monitored inference pipeline. *repo.PipelineClient is
// the production implementation.
type Sampler interface {
	SampleLatency(ctx context.Context) (float64, map[string]any, error)
	SampleCorrectness(ctx context.Context) (float64, map[string]any, error)
	SampleResource(ctx context.Context) (float64, map[string]any, error)
	SampleDistribution(ctx context.Context, window time.Duration) ([]float64, []float64, error)
}

// FailureHandler receives every failing run so an incident can be opened or
// attached. The incidents manager implements it.
type FailureHandler interface {
	ReportFailure(ctx context.Context, check models.HealthCheck, run models.CheckRun) (models.Incident, error)
}

// Runner evaluates health checks against the pipeline and persists one
// CheckRun per evaluation, passing or not.
type Runner struct {
	store    *store.Store
	sampler  Sampler
	handler  FailureHandler
	detector *drift.Detector
	cfg      config.ChecksConfig
	logger   *slog.Logger
}

func New(st *store.Store, sampler Sampler, handler FailureHandler, cfg config.ChecksConfig, logger *slog.Logger) *Runner {
	return &Runner{
		store:    st,
		sampler:  sampler,
		handler:  handler,
		detector: drift.NewDetector(cfg.DriftMinSamples),
		cfg:      cfg,
		logger:   logger,
	}
}

// Run evaluates a single check by ID. Evaluation errors are recorded on the
// run (status error), not returned; the returned error covers storage and
// lookup failures only.
func (r *Runner) Run(ctx context.Context, checkID string) (models.CheckRun, error) {
	check, err := r.store.GetHealthCheck(checkID)
	if err != nil {
		return models.CheckRun{}, err
	}
	return r.evaluate(ctx, check)
}

// BatchResult summarizes one RunAll sweep.
type BatchResult struct {
	Total   int
	Passed  int
	Failed  int
	Errored int
	Runs    []models.CheckRun
}

// RunAll evaluates every enabled check concurrently.
func (r *Runner) RunAll(ctx context.Context) (BatchResult, error) {
	checks, err := r.store.ListHealthChecks(true)
	if err != nil {
		return BatchResult{}, err
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result = BatchResult{Total: len(checks)}
	)
	for _, check := range checks {
		wg.Add(1)
		go func(check models.HealthCheck) {
			defer wg.Done()
			run, err := r.evaluate(ctx, check)
			if err != nil {
				r.logger.Error("check evaluation not recorded",
					"check_id", check.ID, "error", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			result.Runs = append(result.Runs, run)
			switch run.Status {
			case models.CheckStatusPassed:
				result.Passed++
			case models.CheckStatusFailed:
				result.Failed++
			default:
				result.Errored++
			}
		}(check)
	}
	wg.Wait()
	return result, nil
}

func (r *Runner) evaluate(ctx context.Context, check models.HealthCheck) (models.CheckRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	run := models.CheckRun{
		CheckID:   check.ID,
		Status:    models.CheckStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	value, details, err := r.sample(ctx, check)
	run.CompletedAt = time.Now().UTC()
	run.Value = value
	run.Details = details
	if err != nil {
		run.Status = models.CheckStatusError
		run.ErrorMessage = err.Error()
	} else if r.passes(check, value) {
		run.Status = models.CheckStatusPassed
	} else {
		run.Status = models.CheckStatusFailed
	}

	if err := r.store.CreateCheckRun(&run); err != nil {
		return models.CheckRun{}, fmt.Errorf("persist check run: %w", err)
	}
	metrics.ObserveCheckRun(string(check.Type), string(run.Status), run.CompletedAt.Sub(run.StartedAt))

	if run.Failing() && r.handler != nil {
		if _, err := r.handler.ReportFailure(ctx, check, run); err != nil {
			r.logger.Error("failure report rejected",
				"check_id", check.ID, "run_id", run.ID, "error", err)
		}
	}

	r.logger.Debug("check evaluated",
		"check_id", check.ID,
		"check_type", check.Type,
		"status", run.Status,
		"value", run.Value)
	return run, nil
}

func (r *Runner) sample(ctx context.Context, check models.HealthCheck) (float64, map[string]any, error) {
	switch check.Type {
	case models.CheckTypeLatency:
		return r.sampler.SampleLatency(ctx)
	case models.CheckTypeCorrectness:
		return r.sampler.SampleCorrectness(ctx)
	case models.CheckTypeResource:
		return r.sampler.SampleResource(ctx)
	case models.CheckTypeDrift:
		return r.sampleDrift(ctx, check)
	default:
		return 0, nil, fmt.Errorf("unknown check type %q", check.Type)
	}
}

func (r *Runner) sampleDrift(ctx context.Context, check models.HealthCheck) (float64, map[string]any, error) {
	baseline, current, err := r.sampler.SampleDistribution(ctx, r.cfg.DriftWindow)
	if err != nil {
		return 0, nil, err
	}
	res, err := r.detector.Compare(baseline, current, check.Threshold)
	if err != nil {
		return 0, nil, err
	}
	details := map[string]any{
		"ks_statistic":  res.Statistic,
		"baseline_size": res.BaselineSize,
		"current_size":  res.CurrentSize,
		"baseline_mean": res.BaselineMean,
		"baseline_std":  res.BaselineStd,
		"current_mean":  res.CurrentMean,
		"current_std":   res.CurrentStd,
		"mean_shift":    res.MeanShift(),
	}
	return res.Statistic, details, nil
}

// passes applies the per-type threshold direction. Correctness is the only
// type where higher is better.
func (r *Runner) passes(check models.HealthCheck, value float64) bool {
	switch check.Type {
	case models.CheckTypeCorrectness:
		return value >= check.Threshold
	case models.CheckTypeDrift:
		return value < check.Threshold
	default:
		return value <= check.Threshold
	}
}
