// Package drift implements the two-sample Kolmogorov-Smirnov comparison used
// by drift health checks. The detector is pure: no state, no side effects,
// same inputs always yield the same result.
package drift

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInsufficientData signals that a sample is too small for a statistically
// meaningful comparison.
var ErrInsufficientData = errors.New("insufficient samples for drift comparison")

// DefaultMinSamples is the fallback minimum sample size per side.
const DefaultMinSamples = 10

// Result summarises one drift comparison.
type Result struct {
	Statistic    float64
	Threshold    float64
	Passed       bool
	BaselineSize int
	CurrentSize  int
	BaselineMean float64
	BaselineStd  float64
	CurrentMean  float64
	CurrentStd   float64
}

// MeanShift is the difference between the current and baseline means.
func (r Result) MeanShift() float64 {
	return r.CurrentMean - r.BaselineMean
}

// Detector compares numeric samples for distribution drift.
type Detector struct {
	minSamples int
}

// NewDetector creates a detector requiring at least minSamples points per
// side. Values below 1 fall back to DefaultMinSamples.
func NewDetector(minSamples int) *Detector {
	if minSamples < 1 {
		minSamples = DefaultMinSamples
	}
	return &Detector{minSamples: minSamples}
}

// Compare computes the two-sample KS statistic
// D = sup_x |F_baseline(x) - F_current(x)| over the empirical CDFs, evaluated
// at every distinct value from both samples, and verdicts it against the
// threshold (passed when D < threshold).
func (d *Detector) Compare(baseline, current []float64, threshold float64) (Result, error) {
	if len(baseline) < d.minSamples || len(current) < d.minSamples {
		return Result{}, fmt.Errorf("%w: baseline=%d current=%d min=%d",
			ErrInsufficientData, len(baseline), len(current), d.minSamples)
	}

	b := append([]float64(nil), baseline...)
	c := append([]float64(nil), current...)
	sort.Float64s(b)
	sort.Float64s(c)

	statistic := ksStatistic(b, c)

	result := Result{
		Statistic:    statistic,
		Threshold:    threshold,
		Passed:       statistic < threshold,
		BaselineSize: len(b),
		CurrentSize:  len(c),
	}
	result.BaselineMean, result.BaselineStd = meanStd(b)
	result.CurrentMean, result.CurrentStd = meanStd(c)
	return result, nil
}

// ksStatistic walks both sorted samples in merge order, tracking the maximum
// gap between the empirical CDFs at every distinct value.
func ksStatistic(a, b []float64) float64 {
	var (
		i, j int
		sup  float64
	)
	for i < len(a) && j < len(b) {
		v := a[i]
		if b[j] < v {
			v = b[j]
		}
		for i < len(a) && a[i] <= v {
			i++
		}
		for j < len(b) && b[j] <= v {
			j++
		}
		fa := float64(i) / float64(len(a))
		fb := float64(j) / float64(len(b))
		if gap := math.Abs(fa - fb); gap > sup {
			sup = gap
		}
	}
	return sup
}

func meanStd(samples []float64) (mean, std float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	for _, s := range samples {
		mean += s
	}
	mean /= float64(len(samples))

	variance := 0.0
	for _, s := range samples {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(samples))
	return mean, math.Sqrt(variance)
}
