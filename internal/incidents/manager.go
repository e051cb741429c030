package incidents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/config"
	"github.com/miradorstack/mirador-sentry/internal/metrics"
	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/store"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

// Manager owns the incident lifecycle: open -> remediating -> resolved or
// escalated, with remediating falling back to open while retries remain.
// It deduplicates failures so a check has at most one non-terminal incident.
type Manager struct {
	store  *store.Store
	cfg    config.IncidentsConfig
	logger *slog.Logger

	// checkMu serializes every incident mutation per check: failure reports
	// cannot race past the dedup lookup and open two incidents, and a failing
	// run attaching mid-remediation cannot write back a stale copy over a
	// concurrent transition or recorded attempt.
	checkMu *utils.KeyedMutex
}

func NewManager(st *store.Store, cfg config.IncidentsConfig, logger *slog.Logger) *Manager {
	return &Manager{
		store:   st,
		cfg:     cfg,
		logger:  logger,
		checkMu: utils.NewKeyedMutex(),
	}
}

// ReportFailure handles one failing run. If the check already has a
// non-terminal incident the run is folded into it; otherwise a new incident
// opens with severity graded from the check type.
func (m *Manager) ReportFailure(ctx context.Context, check models.HealthCheck, run models.CheckRun) (models.Incident, error) {
	m.checkMu.Lock(check.ID)
	defer m.checkMu.Unlock(check.ID)

	existing, found, err := m.store.FindActiveIncident(check.ID)
	if err != nil {
		return models.Incident{}, err
	}
	if found {
		existing.CheckRunID = run.ID
		existing.Description = failureDescription(check, run)
		if err := m.store.UpdateIncident(existing); err != nil {
			return models.Incident{}, err
		}
		m.logger.Debug("failing run attached to existing incident",
			"incident_id", existing.ID, "check_id", check.ID, "run_id", run.ID)
		return existing, nil
	}

	inc := models.Incident{
		CheckID:     check.ID,
		Title:       fmt.Sprintf("%s failing", check.Name),
		Description: failureDescription(check, run),
		Severity:    m.cfg.SeverityFor(check.Type),
		Status:      models.IncidentOpen,
		CheckRunID:  run.ID,
		TriggeredAt: time.Now().UTC(),
	}
	if err := m.store.CreateIncident(&inc); err != nil {
		return models.Incident{}, err
	}
	metrics.ObserveIncidentOpened(string(inc.Severity))
	m.logger.Warn("incident opened",
		"incident_id", inc.ID,
		"check_id", check.ID,
		"severity", inc.Severity,
		"value", run.Value)
	return inc, nil
}

func failureDescription(check models.HealthCheck, run models.CheckRun) string {
	if run.Status == models.CheckStatusError {
		return fmt.Sprintf("%s check errored: %s", check.Type, run.ErrorMessage)
	}
	return fmt.Sprintf("%s check reported %.4f against threshold %.4f",
		check.Type, run.Value, check.Threshold)
}

// BeginRemediation moves an open incident to remediating. Dry runs never go
// through here.
func (m *Manager) BeginRemediation(id string) (models.Incident, error) {
	return m.transition(id, func(inc *models.Incident) error {
		if inc.Status != models.IncidentOpen {
			return fmt.Errorf("incident %s is %s, remediation requires open", inc.ID, inc.Status)
		}
		inc.Status = models.IncidentRemediating
		return nil
	})
}

// CompleteRemediation finishes a remediation attempt. Success resolves the
// incident; failure escalates once non-dry-run attempts reach the retry
// limit and otherwise reopens it for another try.
func (m *Manager) CompleteRemediation(id string, success bool, notes string) (models.Incident, error) {
	return m.transition(id, func(inc *models.Incident) error {
		if inc.Status != models.IncidentRemediating {
			return fmt.Errorf("incident %s is %s, completion requires remediating", inc.ID, inc.Status)
		}
		if success {
			now := time.Now().UTC()
			inc.Status = models.IncidentResolved
			inc.ResolvedAt = &now
			inc.ResolutionNotes = notes
			return nil
		}
		if inc.FailedRealAttempts() >= m.cfg.RetryLimit {
			inc.Status = models.IncidentEscalated
			inc.ResolutionNotes = fmt.Sprintf("escalated after %d failed attempts: %s",
				inc.FailedRealAttempts(), notes)
			return nil
		}
		inc.Status = models.IncidentOpen
		return nil
	})
}

// RecordAttempt appends an audit record to the incident. It changes no
// lifecycle state, which is what makes dry runs side-effect free.
func (m *Manager) RecordAttempt(id string, attempt models.RemediationAttempt) (models.Incident, error) {
	return m.mutate(id, func(inc *models.Incident) error {
		attempt.IncidentID = inc.ID
		inc.Attempts = append(inc.Attempts, attempt)
		return nil
	})
}

// Resolve closes an incident manually from any non-terminal state.
func (m *Manager) Resolve(id, notes string) (models.Incident, error) {
	return m.transition(id, func(inc *models.Incident) error {
		if inc.Status.Terminal() {
			return fmt.Errorf("incident %s already %s", inc.ID, inc.Status)
		}
		now := time.Now().UTC()
		inc.Status = models.IncidentResolved
		inc.ResolvedAt = &now
		inc.ResolutionNotes = notes
		return nil
	})
}

func (m *Manager) transition(id string, apply func(*models.Incident) error) (models.Incident, error) {
	var from models.IncidentStatus
	inc, err := m.mutate(id, func(inc *models.Incident) error {
		from = inc.Status
		return apply(inc)
	})
	if err != nil {
		return models.Incident{}, err
	}
	metrics.ObserveIncidentTransition(string(inc.Status))
	m.logger.Info("incident transition",
		"incident_id", inc.ID, "from", from, "to", inc.Status)
	return inc, nil
}

// mutate applies a read-modify-write to one incident under the check lock.
// The first read only resolves the check key; the incident is read again once
// the lock is held so the write never clobbers a concurrent update.
func (m *Manager) mutate(id string, apply func(*models.Incident) error) (models.Incident, error) {
	inc, err := m.store.GetIncident(id)
	if err != nil {
		return models.Incident{}, err
	}
	m.checkMu.Lock(inc.CheckID)
	defer m.checkMu.Unlock(inc.CheckID)

	inc, err = m.store.GetIncident(id)
	if err != nil {
		return models.Incident{}, err
	}
	if err := apply(&inc); err != nil {
		return models.Incident{}, err
	}
	if err := m.store.UpdateIncident(inc); err != nil {
		return models.Incident{}, err
	}
	return inc, nil
}

// Get returns one incident by ID.
func (m *Manager) Get(id string) (models.Incident, error) {
	return m.store.GetIncident(id)
}

// List returns incidents matching the filter, newest first.
func (m *Manager) List(filter models.IncidentFilter) ([]models.Incident, error) {
	return m.store.ListIncidents(filter)
}

// Summary aggregates incident counts, flagging how many triggered inside the
// window.
func (m *Manager) Summary(window time.Duration) (models.IncidentSummary, error) {
	all, err := m.store.ListIncidents(models.IncidentFilter{})
	if err != nil {
		return models.IncidentSummary{}, err
	}
	summary := models.IncidentSummary{
		Total:      len(all),
		ByStatus:   make(map[models.IncidentStatus]int),
		BySeverity: make(map[models.Severity]int),
		Window:     window,
	}
	cutoff := time.Now().UTC().Add(-window)
	for _, inc := range all {
		summary.ByStatus[inc.Status]++
		summary.BySeverity[inc.Severity]++
		if inc.TriggeredAt.After(cutoff) {
			summary.InWindow++
		}
	}
	return summary, nil
}
