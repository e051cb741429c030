package models

import (
	"fmt"
	"time"
)

// CheckType enumerates the supported health check kinds.
type CheckType string

const (
	CheckTypeLatency     CheckType = "latency"
	CheckTypeCorrectness CheckType = "correctness"
	CheckTypeDrift       CheckType = "drift"
	CheckTypeResource    CheckType = "resource"
)

// ParseCheckType validates a check type string.
func ParseCheckType(s string) (CheckType, error) {
	switch CheckType(s) {
	case CheckTypeLatency, CheckTypeCorrectness, CheckTypeDrift, CheckTypeResource:
		return CheckType(s), nil
	}
	return "", fmt.Errorf("unknown check type %q", s)
}

// CheckStatus captures the outcome of a single check evaluation.
type CheckStatus string

const (
	CheckStatusRunning CheckStatus = "running"
	CheckStatusPassed  CheckStatus = "passed"
	CheckStatusFailed  CheckStatus = "failed"
	CheckStatusError   CheckStatus = "error"
)

// HealthCheck is the configuration for one recurring pipeline check.
type HealthCheck struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Type        CheckType     `json:"check_type"`
	Enabled     bool          `json:"enabled"`
	Interval    time.Duration `json:"interval"`
	Threshold   float64       `json:"threshold_value"`
	Strategy    Strategy      `json:"remediation_strategy,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// CheckRun records a single evaluation of a HealthCheck.
type CheckRun struct {
	ID           string         `json:"id"`
	CheckID      string         `json:"health_check_id"`
	Status       CheckStatus    `json:"status"`
	Value        float64        `json:"result_value"`
	Details      map[string]any `json:"result_details,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at"`
}

// Failing reports whether the run should be routed to the incident manager.
func (r CheckRun) Failing() bool {
	return r.Status == CheckStatusFailed || r.Status == CheckStatusError
}
