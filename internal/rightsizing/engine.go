package rightsizing

import (
	"log/slog"
	"sort"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/config"
	"github.com/miradorstack/mirador-sentry/internal/metrics"
	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/store"
)

// Classification buckets an instance's utilization profile.
type Classification string

const (
	ClassHealthy      Classification = "healthy"
	ClassIdle         Classification = "idle"
	ClassOverutilized Classification = "overutilized"
	ClassCandidate    Classification = "candidate"
	ClassUnknownType  Classification = "unknown_type"
)

// Engine derives rightsizing recommendations and cost figures from stored
// utilization samples. It is read-only: analysis can run repeatedly and
// concurrently with check evaluation.
type Engine struct {
	store   *store.Store
	catalog *Catalog
	cfg     config.RightsizingConfig
	logger  *slog.Logger
}

func NewEngine(st *store.Store, catalog *Catalog, cfg config.RightsizingConfig, logger *slog.Logger) *Engine {
	return &Engine{store: st, catalog: catalog, cfg: cfg, logger: logger}
}

// Opportunities recomputes recommendations from the current lookback window,
// largest savings first. Nothing is persisted.
func (e *Engine) Opportunities() ([]models.RightsizingOpportunity, error) {
	start := time.Now()
	aggs, err := e.store.InstanceAggregates(e.cfg.Lookback)
	if err != nil {
		return nil, err
	}

	opportunities := make([]models.RightsizingOpportunity, 0)
	for _, agg := range aggs {
		if e.Classify(agg) != ClassCandidate {
			continue
		}
		if opp, ok := e.recommend(agg); ok {
			opportunities = append(opportunities, opp)
		}
	}
	sort.Slice(opportunities, func(i, j int) bool {
		return opportunities[i].MonthlySavings > opportunities[j].MonthlySavings
	})

	metrics.ObserveRightsizingAnalysis(time.Since(start))
	e.logger.Debug("rightsizing analysis finished",
		"instances", len(aggs),
		"opportunities", len(opportunities),
		"elapsed", time.Since(start))
	return opportunities, nil
}

// Classify buckets one aggregate. Overutilization wins over idleness so a
// spiky instance is never recommended downward.
func (e *Engine) Classify(agg models.InstanceAggregate) Classification {
	if _, ok := e.catalog.Lookup(agg.Provider, agg.InstanceType); !ok {
		return ClassUnknownType
	}
	switch {
	case agg.CPUP95 > e.cfg.HighCPU:
		return ClassOverutilized
	case agg.CPUAvg < e.cfg.IdleCPU:
		return ClassIdle
	case agg.CPUP95 < e.cfg.LowCPU && agg.MemoryP95 < e.cfg.LowMemory:
		return ClassCandidate
	default:
		return ClassHealthy
	}
}

// recommend picks the cheapest strictly smaller type whose projected
// utilization stays below the safety ceiling. No qualifying type, no
// recommendation.
func (e *Engine) recommend(agg models.InstanceAggregate) (models.RightsizingOpportunity, bool) {
	current, ok := e.catalog.Lookup(agg.Provider, agg.InstanceType)
	if !ok {
		return models.RightsizingOpportunity{}, false
	}

	bestName := ""
	var best InstanceTypeSpec
	for name, cand := range e.catalog.Types(agg.Provider) {
		if cand.VCPU >= current.VCPU || cand.HourlyPrice >= current.HourlyPrice {
			continue
		}
		projCPU := agg.CPUP95 * float64(current.VCPU) / float64(cand.VCPU)
		projMem := agg.MemoryP95 * current.MemoryGB / cand.MemoryGB
		if projCPU >= e.cfg.SafetyCeiling || projMem >= e.cfg.SafetyCeiling {
			continue
		}
		if bestName == "" || cand.HourlyPrice < best.HourlyPrice {
			bestName, best = name, cand
		}
	}
	if bestName == "" {
		return models.RightsizingOpportunity{}, false
	}

	return models.RightsizingOpportunity{
		InstanceID:        agg.InstanceID,
		Provider:          agg.Provider,
		Region:            agg.Region,
		CurrentType:       agg.InstanceType,
		RecommendedType:   bestName,
		CPUP95:            agg.CPUP95,
		MemoryP95:         agg.MemoryP95,
		ProjectedCPUP95:   agg.CPUP95 * float64(current.VCPU) / float64(best.VCPU),
		CurrentHourly:     current.HourlyPrice,
		RecommendedHourly: best.HourlyPrice,
		MonthlySavings:    (current.HourlyPrice - best.HourlyPrice) * e.cfg.HoursPerMonth,
		SampleCount:       agg.SampleCount,
		Confidence:        e.confidence(agg),
	}, true
}

// confidence grades sample coverage: both thresholds met is high, one is
// medium, neither is low.
func (e *Engine) confidence(agg models.InstanceAggregate) models.Confidence {
	enoughSamples := agg.SampleCount >= e.cfg.MinSamples
	enoughWindow := agg.Window() >= e.cfg.MinWindow
	switch {
	case enoughSamples && enoughWindow:
		return models.ConfidenceHigh
	case enoughSamples || enoughWindow:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}
