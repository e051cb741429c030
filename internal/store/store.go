// Package store provides embedded persistence for checks, runs, incidents
// and utilization telemetry on top of BadgerDB. Records are JSON-encoded
// under typed key prefixes; listings are prefix scans.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

// ErrNotFound signals that a requested record does not exist.
var ErrNotFound = errors.New("record not found")

const (
	prefixCheck    = "check/"
	prefixRun      = "run/"
	prefixIncident = "incident/"
	prefixActive   = "active/"
	prefixMetric   = "metric/"
	prefixVolume   = "volume/"
)

// Config holds store settings.
type Config struct {
	// Path is the directory for Badger files. Ignored when InMemory is set.
	Path string
	// InMemory disables disk persistence. Used in tests.
	InMemory bool
	// Logger receives Badger's internal messages. Badger logging is
	// disabled when nil.
	Logger *slog.Logger
}

// Store is the persistent backing for the sentry engine.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open initialises the Badger database at the configured location.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("store path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", cfg.Path, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(key string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *Store) get(key string, out any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}

// scan visits every value under prefix. fn receives the raw JSON payload.
func (s *Store) scan(prefix string, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				return fn(append([]byte(nil), val...))
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// --- health checks ---

// CreateHealthCheck persists a new check configuration, assigning an ID and
// timestamps when absent.
func (s *Store) CreateHealthCheck(hc *models.HealthCheck) error {
	if hc.ID == "" {
		hc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if hc.CreatedAt.IsZero() {
		hc.CreatedAt = now
	}
	hc.UpdatedAt = now
	return s.put(prefixCheck+hc.ID, hc)
}

// GetHealthCheck loads one check configuration.
func (s *Store) GetHealthCheck(id string) (models.HealthCheck, error) {
	var hc models.HealthCheck
	err := s.get(prefixCheck+id, &hc)
	return hc, err
}

// UpdateHealthCheck overwrites an existing check configuration.
func (s *Store) UpdateHealthCheck(hc models.HealthCheck) error {
	if _, err := s.GetHealthCheck(hc.ID); err != nil {
		return err
	}
	hc.UpdatedAt = time.Now().UTC()
	return s.put(prefixCheck+hc.ID, hc)
}

// ListHealthChecks returns check configurations, optionally only enabled
// ones, sorted by name for stable output.
func (s *Store) ListHealthChecks(enabledOnly bool) ([]models.HealthCheck, error) {
	checks := make([]models.HealthCheck, 0)
	err := s.scan(prefixCheck, func(val []byte) error {
		var hc models.HealthCheck
		if err := json.Unmarshal(val, &hc); err != nil {
			return err
		}
		if enabledOnly && !hc.Enabled {
			return nil
		}
		checks = append(checks, hc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return checks, nil
}

// --- check runs ---

// CreateCheckRun appends one evaluation record to the per-check history.
func (s *Store) CreateCheckRun(run *models.CheckRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	key := runKey(run.CheckID, run.StartedAt, run.ID)
	return s.put(key, run)
}

// ListCheckRuns returns up to limit runs for a check, newest first.
func (s *Store) ListCheckRuns(checkID string, limit int) ([]models.CheckRun, error) {
	runs := make([]models.CheckRun, 0)
	err := s.scan(prefixRun+checkID+"/", func(val []byte) error {
		var run models.CheckRun
		if err := json.Unmarshal(val, &run); err != nil {
			return err
		}
		runs = append(runs, run)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func runKey(checkID string, started time.Time, id string) string {
	// Nanosecond timestamp keeps prefix iteration in chronological order.
	return prefixRun + checkID + "/" + strconv.FormatInt(started.UnixNano(), 10) + "-" + id
}

// --- incidents ---

// CreateIncident persists a new incident and records it as the active one
// for its health check.
func (s *Store) CreateIncident(inc *models.Incident) error {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.TriggeredAt.IsZero() {
		inc.TriggeredAt = time.Now().UTC()
	}
	data, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("encode incident: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(prefixIncident+inc.ID), data); err != nil {
			return err
		}
		return txn.Set([]byte(prefixActive+inc.CheckID), []byte(inc.ID))
	})
}

// GetIncident loads one incident.
func (s *Store) GetIncident(id string) (models.Incident, error) {
	var inc models.Incident
	err := s.get(prefixIncident+id, &inc)
	return inc, err
}

// UpdateIncident overwrites an incident, clearing the active marker for its
// check once the incident reaches a terminal state.
func (s *Store) UpdateIncident(inc models.Incident) error {
	data, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("encode incident: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(prefixIncident + inc.ID)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: incident %s", ErrNotFound, inc.ID)
		} else if err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixIncident+inc.ID), data); err != nil {
			return err
		}
		if inc.Status.Terminal() {
			// Only clear the marker if it still points at this incident.
			item, err := txn.Get([]byte(prefixActive + inc.CheckID))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			var current []byte
			if err := item.Value(func(val []byte) error {
				current = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return err
			}
			if bytes.Equal(current, []byte(inc.ID)) {
				return txn.Delete([]byte(prefixActive + inc.CheckID))
			}
		}
		return nil
	})
}

// FindActiveIncident returns the non-terminal incident for a check, if any.
func (s *Store) FindActiveIncident(checkID string) (models.Incident, bool, error) {
	var incidentID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixActive + checkID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			incidentID = string(val)
			return nil
		})
	})
	if err != nil {
		return models.Incident{}, false, err
	}
	if incidentID == "" {
		return models.Incident{}, false, nil
	}
	inc, err := s.GetIncident(incidentID)
	if errors.Is(err, ErrNotFound) {
		return models.Incident{}, false, nil
	}
	if err != nil {
		return models.Incident{}, false, err
	}
	if inc.Status.Terminal() {
		return models.Incident{}, false, nil
	}
	return inc, true, nil
}

// ListIncidents returns incidents matching the filter, newest first.
func (s *Store) ListIncidents(filter models.IncidentFilter) ([]models.Incident, error) {
	incidents := make([]models.Incident, 0)
	err := s.scan(prefixIncident, func(val []byte) error {
		var inc models.Incident
		if err := json.Unmarshal(val, &inc); err != nil {
			return err
		}
		if filter.Status != "" && inc.Status != filter.Status {
			return nil
		}
		if filter.Severity != "" && inc.Severity != filter.Severity {
			return nil
		}
		if filter.CheckID != "" && inc.CheckID != filter.CheckID {
			return nil
		}
		incidents = append(incidents, inc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(incidents, func(i, j int) bool {
		return incidents[i].TriggeredAt.After(incidents[j].TriggeredAt)
	})
	if filter.Limit > 0 && len(incidents) > filter.Limit {
		incidents = incidents[:filter.Limit]
	}
	return incidents, nil
}

// --- instance metrics and volumes (read side for the cost engine) ---

// PutInstanceMetric appends one utilization sample.
func (s *Store) PutInstanceMetric(m models.InstanceMetric) error {
	key := prefixMetric + m.InstanceID + "/" + strconv.FormatInt(m.Timestamp.UnixNano(), 10)
	return s.put(key, m)
}

// InstanceAggregates groups samples newer than the lookback cutoff per
// instance and computes mean and P95 utilization.
func (s *Store) InstanceAggregates(lookback time.Duration) ([]models.InstanceAggregate, error) {
	cutoff := time.Now().UTC().Add(-lookback)

	type series struct {
		agg models.InstanceAggregate
		cpu []float64
		mem []float64
	}
	byInstance := make(map[string]*series)

	err := s.scan(prefixMetric, func(val []byte) error {
		var m models.InstanceMetric
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		if m.Timestamp.Before(cutoff) {
			return nil
		}
		sr, ok := byInstance[m.InstanceID]
		if !ok {
			sr = &series{agg: models.InstanceAggregate{
				InstanceID:   m.InstanceID,
				Provider:     m.Provider,
				InstanceType: m.InstanceType,
				Region:       m.Region,
				WindowStart:  m.Timestamp,
				WindowEnd:    m.Timestamp,
			}}
			byInstance[m.InstanceID] = sr
		}
		sr.cpu = append(sr.cpu, m.CPUUtil)
		sr.mem = append(sr.mem, m.MemoryUtil)
		if m.Timestamp.Before(sr.agg.WindowStart) {
			sr.agg.WindowStart = m.Timestamp
		}
		if m.Timestamp.After(sr.agg.WindowEnd) {
			sr.agg.WindowEnd = m.Timestamp
			// Latest sample wins for mutable instance attributes.
			sr.agg.InstanceType = m.InstanceType
			sr.agg.Region = m.Region
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	aggregates := make([]models.InstanceAggregate, 0, len(byInstance))
	for _, sr := range byInstance {
		sr.agg.CPUAvg = utils.Mean(sr.cpu)
		sr.agg.CPUP95 = utils.Percentile(sr.cpu, 95)
		sr.agg.MemoryAvg = utils.Mean(sr.mem)
		sr.agg.MemoryP95 = utils.Percentile(sr.mem, 95)
		sr.agg.SampleCount = len(sr.cpu)
		aggregates = append(aggregates, sr.agg)
	}
	sort.Slice(aggregates, func(i, j int) bool {
		return aggregates[i].InstanceID < aggregates[j].InstanceID
	})
	return aggregates, nil
}

// PutVolume upserts one storage volume record.
func (s *Store) PutVolume(v models.Volume) error {
	if v.VolumeID == "" {
		return errors.New("volume id is required")
	}
	return s.put(prefixVolume+v.VolumeID, v)
}

// ListVolumes returns all known storage volumes.
func (s *Store) ListVolumes() ([]models.Volume, error) {
	volumes := make([]models.Volume, 0)
	err := s.scan(prefixVolume, func(val []byte) error {
		var v models.Volume
		if err := json.Unmarshal(val, &v); err != nil {
			return err
		}
		volumes = append(volumes, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(volumes, func(i, j int) bool { return volumes[i].VolumeID < volumes[j].VolumeID })
	return volumes, nil
}

// badgerLogger adapts slog to Badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
