package schema

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// metricPattern defines the valid format for metric identifiers.
// Metrics must be lowercase, start with a letter, and use underscores
// as separators. Examples: "critical_vuln_count", "failed_logins".
var metricPattern = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)*$`)

// Validator handles validation of snapshots against the canonical schema.
type Validator struct {
	validate  *validator.Validate
	maxAge    time.Duration
	maxFuture time.Duration
}

// ValidatorConfig holds configuration for the validator.
type ValidatorConfig struct {
	MaxAge    time.Duration
	MaxFuture time.Duration
}

// DefaultValidatorConfig returns the default validator configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxAge:    24 * time.Hour,
		MaxFuture: 5 * time.Minute,
	}
}

// NewValidator creates a new Validator with default configuration.
func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

// NewValidatorWithConfig creates a new Validator with the specified configuration.
func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	return &Validator{
		validate:  validator.New(),
		maxAge:    cfg.MaxAge,
		maxFuture: cfg.MaxFuture,
	}
}

// Validate validates a snapshot against the canonical schema.
// Returns an error if validation fails.
func (v *Validator) Validate(snap *Snapshot) error {
	if err := v.validate.Struct(snap); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	for metric, value := range snap.Metrics {
		if !metricPattern.MatchString(metric) {
			return fmt.Errorf("invalid metric identifier: %q", metric)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("metric %q: value must be finite", metric)
		}
	}

	// A zero timestamp means "now" and is filled in by the caller,
	// so bounds apply only when one was supplied.
	if !snap.Timestamp.IsZero() {
		now := time.Now().UTC()
		if snap.Timestamp.Before(now.Add(-v.maxAge)) {
			return fmt.Errorf("timestamp too old: %v (max age: %v)", snap.Timestamp, v.maxAge)
		}
		if snap.Timestamp.After(now.Add(v.maxFuture)) {
			return fmt.Errorf("timestamp in future: %v (max future: %v)", snap.Timestamp, v.maxFuture)
		}
	}

	return nil
}

// ValidMetricName checks if a metric identifier matches the required format.
func ValidMetricName(metric string) bool {
	return metricPattern.MatchString(metric)
}
