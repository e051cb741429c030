package models

import (
	"fmt"
	"time"
)

// Severity captures incident impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates a severity string.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// IncidentStatus enumerates incident lifecycle states.
type IncidentStatus string

const (
	IncidentOpen        IncidentStatus = "open"
	IncidentRemediating IncidentStatus = "remediating"
	IncidentResolved    IncidentStatus = "resolved"
	IncidentEscalated   IncidentStatus = "escalated"
)

// Terminal reports whether the state admits no further transitions.
func (s IncidentStatus) Terminal() bool {
	return s == IncidentResolved || s == IncidentEscalated
}

// Strategy enumerates the remediation strategies the engine can execute.
type Strategy string

const (
	StrategyRestartService Strategy = "restart_service"
	StrategyClearCache     Strategy = "clear_cache"
	StrategyRollbackModel  Strategy = "rollback_model"
	StrategyScaleHint      Strategy = "scale_hint"
)

// ParseStrategy validates a strategy string.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyRestartService, StrategyClearCache, StrategyRollbackModel, StrategyScaleHint:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown remediation strategy %q", s)
}

// Incident tracks one failing HealthCheck from detection to resolution.
// Incidents are never deleted; they end in resolved or escalated.
type Incident struct {
	ID              string               `json:"id"`
	CheckID         string               `json:"health_check_id"`
	Title           string               `json:"title"`
	Description     string               `json:"description,omitempty"`
	Severity        Severity             `json:"severity"`
	Status          IncidentStatus       `json:"status"`
	CheckRunID      string               `json:"check_run_id"`
	TriggeredAt     time.Time            `json:"triggered_at"`
	ResolvedAt      *time.Time           `json:"resolved_at,omitempty"`
	ResolutionNotes string               `json:"resolution_notes,omitempty"`
	Attempts        []RemediationAttempt `json:"remediation_attempts,omitempty"`
}

// FailedRealAttempts counts unsuccessful non-dry-run attempts, which is what
// the escalation limit is measured against.
func (i Incident) FailedRealAttempts() int {
	n := 0
	for _, a := range i.Attempts {
		if !a.DryRun && !a.Success {
			n++
		}
	}
	return n
}

// RemediationAttempt is an append-only audit record of one strategy execution.
type RemediationAttempt struct {
	ID          string         `json:"id"`
	IncidentID  string         `json:"incident_id"`
	Strategy    Strategy       `json:"strategy"`
	DryRun      bool           `json:"dry_run"`
	Success     bool           `json:"success"`
	Details     map[string]any `json:"details,omitempty"`
	AttemptedAt time.Time      `json:"attempted_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// IncidentFilter narrows incident listings.
type IncidentFilter struct {
	Status   IncidentStatus
	Severity Severity
	CheckID  string
	Limit    int
}

// IncidentSummary aggregates incident counts for dashboards.
type IncidentSummary struct {
	Total      int                    `json:"total"`
	ByStatus   map[IncidentStatus]int `json:"by_status"`
	BySeverity map[Severity]int       `json:"by_severity"`
	InWindow   int                    `json:"in_window"`
	Window     time.Duration          `json:"window"`
}
