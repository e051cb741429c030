package rightsizing

import (
	"sort"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

// ProviderCost groups spend by cloud provider.
type ProviderCost struct {
	Instances   int     `json:"instances"`
	HourlyCost  float64 `json:"hourly_cost"`
	MonthlyCost float64 `json:"monthly_cost"`
}

// CostSummary is a point-in-time spend estimate across all instances seen in
// the lookback window.
type CostSummary struct {
	TotalInstances          int                     `json:"total_instances"`
	HourlyCost              float64                 `json:"estimated_hourly_cost"`
	MonthlyCost             float64                 `json:"estimated_monthly_cost"`
	ByProvider              map[string]ProviderCost `json:"by_provider"`
	IdleCount               int                     `json:"idle_count"`
	OverutilizedCount       int                     `json:"overutilized_count"`
	PotentialMonthlySavings float64                 `json:"potential_monthly_savings"`
	UnusedVolumeBytes       float64                 `json:"unused_volume_bytes"`
	GeneratedAt             time.Time               `json:"generated_at"`
}

// CostSummary estimates spend from the catalog's hourly prices and folds in
// the savings the current opportunity set would unlock.
func (e *Engine) CostSummary() (CostSummary, error) {
	aggs, err := e.store.InstanceAggregates(e.cfg.Lookback)
	if err != nil {
		return CostSummary{}, err
	}

	summary := CostSummary{
		TotalInstances: len(aggs),
		ByProvider:     make(map[string]ProviderCost),
		GeneratedAt:    time.Now().UTC(),
	}
	for _, agg := range aggs {
		spec, ok := e.catalog.Lookup(agg.Provider, agg.InstanceType)
		if !ok {
			e.logger.Warn("instance type missing from catalog",
				"provider", agg.Provider, "instance_type", agg.InstanceType)
			continue
		}
		summary.HourlyCost += spec.HourlyPrice

		pc := summary.ByProvider[agg.Provider]
		pc.Instances++
		pc.HourlyCost += spec.HourlyPrice
		pc.MonthlyCost = pc.HourlyCost * e.cfg.HoursPerMonth
		summary.ByProvider[agg.Provider] = pc

		switch e.Classify(agg) {
		case ClassIdle:
			summary.IdleCount++
		case ClassOverutilized:
			summary.OverutilizedCount++
		}
	}
	summary.MonthlyCost = summary.HourlyCost * e.cfg.HoursPerMonth

	opportunities, err := e.Opportunities()
	if err != nil {
		return CostSummary{}, err
	}
	for _, opp := range opportunities {
		summary.PotentialMonthlySavings += opp.MonthlySavings
	}

	volumes, err := e.store.ListVolumes()
	if err != nil {
		return CostSummary{}, err
	}
	for _, v := range volumes {
		summary.UnusedVolumeBytes += v.UnusedBytes()
	}
	return summary, nil
}

// IdleInstances lists idle-classified aggregates, least utilized first.
func (e *Engine) IdleInstances() ([]models.InstanceAggregate, error) {
	aggs, err := e.store.InstanceAggregates(e.cfg.Lookback)
	if err != nil {
		return nil, err
	}
	idle := make([]models.InstanceAggregate, 0)
	for _, agg := range aggs {
		if e.Classify(agg) == ClassIdle {
			idle = append(idle, agg)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].CPUAvg < idle[j].CPUAvg })
	return idle, nil
}
