// Package anomaly provides statistical anomaly detection over stored
// metric history. It flags values that are unusual relative to the
// baseline regardless of fixed thresholds, catching the deviations
// static rules miss.
package anomaly

import (
	"math"
	"sort"
	"time"

	"secmon/internal/history"
)

const (
	// DefaultMinSamples is the history size below which a metric is
	// skipped as having insufficient data.
	DefaultMinSamples = 10
	// DefaultZThreshold is the z-score above which a value counts as
	// anomalous (99.7% bound under a normal approximation).
	DefaultZThreshold = 3.0
	// DefaultConfidenceThreshold is the minimum derived confidence for
	// a detection to be reported.
	DefaultConfidenceThreshold = 0.8
)

// Detection is a read-only record of one anomalous observation. It has
// no lifecycle; callers surface it as rule input or report material.
type Detection struct {
	Metric       string    `json:"metric"`
	CurrentValue float64   `json:"current_value"`
	Mean         float64   `json:"mean"`
	StdDev       float64   `json:"std_dev"`
	ExpectedMin  float64   `json:"expected_min"`
	ExpectedMax  float64   `json:"expected_max"`
	ZScore       float64   `json:"z_score"`
	Confidence   float64   `json:"confidence"`
	Timestamp    time.Time `json:"timestamp"`
}

// Config holds detector tuning.
type Config struct {
	MinSamples int
	ZThreshold float64
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{
		MinSamples: DefaultMinSamples,
		ZThreshold: DefaultZThreshold,
	}
}

// Detector evaluates snapshots against per-metric history baselines.
type Detector struct {
	store      *history.Store
	minSamples int
	zThreshold float64
}

// NewDetector creates a Detector reading from the given history store.
func NewDetector(store *history.Store, cfg Config) *Detector {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	if cfg.ZThreshold <= 0 {
		cfg.ZThreshold = DefaultZThreshold
	}
	return &Detector{
		store:      store,
		minSamples: cfg.MinSamples,
		zThreshold: cfg.ZThreshold,
	}
}

// Detect checks each metric in the snapshot against its stored history.
// Call before the snapshot is appended: the baseline must exclude the
// value under test. Metrics with fewer than MinSamples samples are
// skipped, and a zero standard deviation suppresses detection for that
// metric rather than dividing by zero. Results are ordered by metric
// name for stable output.
func (d *Detector) Detect(snapshot map[string]float64, confidenceThreshold float64) []Detection {
	if confidenceThreshold <= 0 {
		confidenceThreshold = DefaultConfidenceThreshold
	}

	metrics := make([]string, 0, len(snapshot))
	for m := range snapshot {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	now := time.Now().UTC()
	var detections []Detection

	for _, metric := range metrics {
		values := d.store.Values(metric)
		if len(values) < d.minSamples {
			continue // insufficient data, not an error
		}

		mean, stddev := sampleStats(values)
		if stddev == 0 {
			continue // flat history, no meaningful deviation
		}

		current := snapshot[metric]
		z := math.Abs(current-mean) / stddev
		if z <= d.zThreshold {
			continue
		}

		confidence := math.Min(z/d.zThreshold, 1.0)
		if confidence < confidenceThreshold {
			continue
		}

		detections = append(detections, Detection{
			Metric:       metric,
			CurrentValue: current,
			Mean:         mean,
			StdDev:       stddev,
			ExpectedMin:  mean - d.zThreshold*stddev,
			ExpectedMax:  mean + d.zThreshold*stddev,
			ZScore:       z,
			Confidence:   confidence,
			Timestamp:    now,
		})
	}

	return detections
}

// sampleStats computes the mean and sample standard deviation
// (Bessel-corrected) of the values.
func sampleStats(values []float64) (mean, stddev float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	if len(values) < 2 {
		return mean, 0
	}

	var variance float64
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return mean, math.Sqrt(variance / float64(len(values)-1))
}
