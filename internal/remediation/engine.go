package remediation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentry/internal/config"
	"github.com/miradorstack/mirador-sentry/internal/incidents"
	"github.com/miradorstack/mirador-sentry/internal/metrics"
	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/store"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

var (
	// ErrUnknownIncident covers incidents that do not exist or are already
	// closed.
	ErrUnknownIncident = errors.New("incident not found or closed")
	// ErrUnknownStrategy rejects strategies outside the supported set.
	ErrUnknownStrategy = errors.New("unknown remediation strategy")
)

// Actions executes remediation strategies against the pipeline. With dryRun
// set, implementations must describe what would happen without touching
// anything.
type Actions interface {
	RestartService(ctx context.Context, dryRun bool) (map[string]any, error)
	ClearCache(ctx context.Context, dryRun bool) (map[string]any, error)
	RollbackModel(ctx context.Context, dryRun bool) (map[string]any, error)
	ScaleHint(ctx context.Context, dryRun bool) (map[string]any, error)
}

// Engine runs remediation strategies against incidents. Every execution,
// dry or real, lands in the incident's attempt audit; only real executions
// move the incident through its lifecycle.
type Engine struct {
	incidents *incidents.Manager
	actions   Actions
	cfg       config.RemediationConfig
	logger    *slog.Logger

	// incidentMu serializes attempts per incident so two callers cannot
	// both move it open -> remediating.
	incidentMu *utils.KeyedMutex
}

func NewEngine(mgr *incidents.Manager, actions Actions, cfg config.RemediationConfig, logger *slog.Logger) *Engine {
	return &Engine{
		incidents:  mgr,
		actions:    actions,
		cfg:        cfg,
		logger:     logger,
		incidentMu: utils.NewKeyedMutex(),
	}
}

// Remediate executes one strategy against an incident. Retries are driven by
// the caller: each call is a single attempt, and the incident escalates on
// its own once failed real attempts reach the configured limit.
func (e *Engine) Remediate(ctx context.Context, incidentID string, strategy models.Strategy, dryRun bool) (models.RemediationAttempt, error) {
	e.incidentMu.Lock(incidentID)
	defer e.incidentMu.Unlock(incidentID)

	inc, err := e.incidents.Get(incidentID)
	if errors.Is(err, store.ErrNotFound) {
		return models.RemediationAttempt{}, fmt.Errorf("%w: %s", ErrUnknownIncident, incidentID)
	}
	if err != nil {
		return models.RemediationAttempt{}, err
	}
	if inc.Status.Terminal() {
		return models.RemediationAttempt{}, fmt.Errorf("%w: %s is %s", ErrUnknownIncident, inc.ID, inc.Status)
	}
	if _, err := models.ParseStrategy(string(strategy)); err != nil {
		return models.RemediationAttempt{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	if dryRun {
		return e.dryRun(ctx, inc, strategy)
	}
	return e.run(ctx, inc, strategy)
}

// dryRun records an attempt without touching incident state, the retry
// counter, or the pipeline.
func (e *Engine) dryRun(ctx context.Context, inc models.Incident, strategy models.Strategy) (models.RemediationAttempt, error) {
	attempt := newAttempt(inc.ID, strategy, true)
	details, execErr := e.execute(ctx, strategy, true)
	attempt.CompletedAt = time.Now().UTC()
	attempt.Success = execErr == nil
	attempt.Details = attemptDetails(details, execErr)

	if _, err := e.incidents.RecordAttempt(inc.ID, attempt); err != nil {
		return models.RemediationAttempt{}, err
	}
	metrics.ObserveRemediation(string(strategy), attempt.Success, true, attempt.CompletedAt.Sub(attempt.AttemptedAt))
	e.logger.Info("dry-run remediation recorded",
		"incident_id", inc.ID, "strategy", strategy, "success", attempt.Success)
	return attempt, nil
}

func (e *Engine) run(ctx context.Context, inc models.Incident, strategy models.Strategy) (models.RemediationAttempt, error) {
	if _, err := e.incidents.BeginRemediation(inc.ID); err != nil {
		return models.RemediationAttempt{}, err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	attempt := newAttempt(inc.ID, strategy, false)
	details, execErr := e.execute(execCtx, strategy, false)
	attempt.CompletedAt = time.Now().UTC()
	attempt.Success = execErr == nil
	attempt.Details = attemptDetails(details, execErr)

	if _, err := e.incidents.RecordAttempt(inc.ID, attempt); err != nil {
		return models.RemediationAttempt{}, err
	}

	notes := fmt.Sprintf("strategy %s succeeded", strategy)
	if execErr != nil {
		notes = fmt.Sprintf("strategy %s failed: %v", strategy, execErr)
	}
	updated, err := e.incidents.CompleteRemediation(inc.ID, attempt.Success, notes)
	if err != nil {
		return models.RemediationAttempt{}, err
	}
	metrics.ObserveRemediation(string(strategy), attempt.Success, false, attempt.CompletedAt.Sub(attempt.AttemptedAt))
	e.logger.Info("remediation attempt finished",
		"incident_id", inc.ID,
		"strategy", strategy,
		"success", attempt.Success,
		"incident_status", updated.Status)
	return attempt, nil
}

func (e *Engine) execute(ctx context.Context, strategy models.Strategy, dryRun bool) (map[string]any, error) {
	switch strategy {
	case models.StrategyRestartService:
		return e.actions.RestartService(ctx, dryRun)
	case models.StrategyClearCache:
		return e.actions.ClearCache(ctx, dryRun)
	case models.StrategyRollbackModel:
		return e.actions.RollbackModel(ctx, dryRun)
	case models.StrategyScaleHint:
		return e.actions.ScaleHint(ctx, dryRun)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

// Audit returns the attempt history of one incident, oldest first.
func (e *Engine) Audit(incidentID string) ([]models.RemediationAttempt, error) {
	inc, err := e.incidents.Get(incidentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIncident, incidentID)
	}
	if err != nil {
		return nil, err
	}
	return inc.Attempts, nil
}

func newAttempt(incidentID string, strategy models.Strategy, dryRun bool) models.RemediationAttempt {
	return models.RemediationAttempt{
		ID:          uuid.New().String(),
		IncidentID:  incidentID,
		Strategy:    strategy,
		DryRun:      dryRun,
		AttemptedAt: time.Now().UTC(),
	}
}

func attemptDetails(details map[string]any, execErr error) map[string]any {
	if execErr == nil {
		return details
	}
	if details == nil {
		details = make(map[string]any, 1)
	}
	details["error"] = execErr.Error()
	return details
}
