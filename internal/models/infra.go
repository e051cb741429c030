package models

import "time"

// Confidence grades how well supported a rightsizing recommendation is.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// InstanceMetric is one utilization sample for a cloud instance. Samples are
// produced externally; the core only reads them.
type InstanceMetric struct {
	InstanceID   string    `json:"instance_id"`
	Provider     string    `json:"provider"`
	ResourceType string    `json:"resource_type,omitempty"`
	InstanceType string    `json:"instance_type"`
	Region       string    `json:"region,omitempty"`
	CPUUtil      float64   `json:"cpu_util"`
	MemoryUtil   float64   `json:"memory_util"`
	DiskIOPS     float64   `json:"disk_iops,omitempty"`
	Timestamp    time.Time `json:"ts"`
}

// InstanceAggregate summarises an instance's utilization over a lookback
// window. Produced by the store's aggregate query, consumed by the
// rightsizing engine.
type InstanceAggregate struct {
	InstanceID   string
	Provider     string
	InstanceType string
	Region       string
	CPUAvg       float64
	CPUP95       float64
	MemoryAvg    float64
	MemoryP95    float64
	SampleCount  int
	WindowStart  time.Time
	WindowEnd    time.Time
}

// Window returns the span covered by the aggregate's samples.
func (a InstanceAggregate) Window() time.Duration {
	if a.WindowEnd.Before(a.WindowStart) {
		return 0
	}
	return a.WindowEnd.Sub(a.WindowStart)
}

// Volume describes a provisioned storage volume for cost analysis.
type Volume struct {
	VolumeID         string     `json:"volume_id"`
	Provider         string     `json:"provider"`
	VolumeType       string     `json:"volume_type"`
	ProvisionedBytes float64    `json:"provisioned_bytes"`
	UsedBytes        float64    `json:"used_bytes"`
	AttachedInstance string     `json:"attached_instance_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	LastAccessed     *time.Time `json:"last_accessed,omitempty"`
}

// UnusedBytes reports provisioned-but-idle capacity.
func (v Volume) UnusedBytes() float64 {
	if v.ProvisionedBytes <= v.UsedBytes {
		return 0
	}
	return v.ProvisionedBytes - v.UsedBytes
}

// RightsizingOpportunity is a derived recommendation to move an instance to a
// smaller type. Recomputed on every analysis pass, never a source of truth.
type RightsizingOpportunity struct {
	InstanceID        string     `json:"instance_id"`
	Provider          string     `json:"provider"`
	Region            string     `json:"region,omitempty"`
	CurrentType       string     `json:"current_type"`
	RecommendedType   string     `json:"recommended_type"`
	CPUP95            float64    `json:"current_cpu_p95"`
	MemoryP95         float64    `json:"current_memory_p95"`
	ProjectedCPUP95   float64    `json:"projected_cpu_p95"`
	CurrentHourly     float64    `json:"current_cost_per_hour"`
	RecommendedHourly float64    `json:"recommended_cost_per_hour"`
	MonthlySavings    float64    `json:"estimated_monthly_savings"`
	SampleCount       int        `json:"sample_count"`
	Confidence        Confidence `json:"confidence"`
}
