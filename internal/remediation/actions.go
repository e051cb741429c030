package remediation

import (
	"context"

	"github.com/miradorstack/mirador-sentry/internal/config"
	"github.com/miradorstack/mirador-sentry/internal/repo"
)

// PipelineActions executes strategies against the live pipeline through its
// admin API. Dry runs return the planned action without calling out.
type PipelineActions struct {
	client *repo.PipelineClient
	cfg    config.RemediationConfig
}

func NewPipelineActions(client *repo.PipelineClient, cfg config.RemediationConfig) *PipelineActions {
	return &PipelineActions{client: client, cfg: cfg}
}

func (a *PipelineActions) RestartService(ctx context.Context, dryRun bool) (map[string]any, error) {
	if dryRun {
		return map[string]any{"planned_action": "restart inference service"}, nil
	}
	return a.client.RestartService(ctx)
}

func (a *PipelineActions) ClearCache(ctx context.Context, dryRun bool) (map[string]any, error) {
	if dryRun {
		return map[string]any{"planned_action": "clear inference cache"}, nil
	}
	return a.client.ClearCache(ctx)
}

func (a *PipelineActions) RollbackModel(ctx context.Context, dryRun bool) (map[string]any, error) {
	if dryRun {
		return map[string]any{
			"planned_action": "rollback model",
			"target_version": a.cfg.RollbackVersion,
		}, nil
	}
	return a.client.RollbackModel(ctx, a.cfg.RollbackVersion)
}

// ScaleHint is advisory. It never calls the pipeline; operators act on the
// recorded recommendation.
func (a *PipelineActions) ScaleHint(_ context.Context, dryRun bool) (map[string]any, error) {
	return map[string]any{
		"planned_action":       "scale inference workers",
		"recommended_replicas": a.cfg.ScaleReplicas,
		"advisory":             true,
		"dry_run":              dryRun,
	}, nil
}
