package history

import (
	"math"
	"sort"
	"time"
)

// TrendDirection describes how a metric is moving within a window.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
	TrendNoData     TrendDirection = "no_data"
)

// directionalBand is the fraction of the overall mean by which the two
// window halves must diverge before the trend counts as directional.
const directionalBand = 0.05

// TrendReport summarizes a metric's behavior over a time window.
// Samples == 0 (Direction == TrendNoData) is the explicit no-data
// result; it is not an error.
type TrendReport struct {
	Metric    string         `json:"metric"`
	Window    time.Duration  `json:"window"`
	Samples   int            `json:"samples"`
	Current   float64        `json:"current"`
	Min       float64        `json:"min"`
	Max       float64        `json:"max"`
	Mean      float64        `json:"mean"`
	Median    float64        `json:"median"`
	StdDev    float64        `json:"std_dev"`
	Direction TrendDirection `json:"direction"`
}

// Trends computes summary statistics over the samples that fall within
// the window ending now. A non-positive window defaults to one hour.
func (s *Store) Trends(metric string, window time.Duration) TrendReport {
	if window <= 0 {
		window = time.Hour
	}

	report := TrendReport{
		Metric:    metric,
		Window:    window,
		Direction: TrendNoData,
	}

	cutoff := time.Now().Add(-window)
	var values []float64
	for _, sample := range s.Samples(metric) {
		if sample.Timestamp.After(cutoff) {
			values = append(values, sample.Value)
		}
	}
	if len(values) == 0 {
		return report
	}

	report.Samples = len(values)
	report.Current = values[len(values)-1]
	report.Min, report.Max = values[0], values[0]

	var sum float64
	for _, v := range values {
		sum += v
		if v < report.Min {
			report.Min = v
		}
		if v > report.Max {
			report.Max = v
		}
	}
	report.Mean = sum / float64(len(values))

	var variance float64
	for _, v := range values {
		diff := v - report.Mean
		variance += diff * diff
	}
	report.StdDev = math.Sqrt(variance / float64(len(values)))

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		report.Median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		report.Median = sorted[mid]
	}

	report.Direction = direction(values, report.Mean)
	return report
}

// direction compares the mean of the first half of the window against
// the second half. A difference above 5% of the overall mean counts as
// directional, anything smaller is stable.
func direction(values []float64, overallMean float64) TrendDirection {
	if len(values) < 2 {
		return TrendStable
	}

	half := len(values) / 2
	var firstSum, secondSum float64
	for _, v := range values[:half] {
		firstSum += v
	}
	for _, v := range values[half:] {
		secondSum += v
	}
	firstMean := firstSum / float64(half)
	secondMean := secondSum / float64(len(values)-half)

	band := math.Abs(overallMean) * directionalBand
	diff := secondMean - firstMean
	switch {
	case diff > band:
		return TrendIncreasing
	case diff < -band:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
