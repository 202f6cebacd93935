// Package compliance converts per-control pass/fail assessments into
// normalized framework scores.
package compliance

import (
	"sort"
	"time"
)

// DefaultPassBar is the score at or above which a framework passes.
const DefaultPassBar = 80.0

// Status is the result of one framework evaluation. Each evaluation
// replaces the previous status; nothing is merged.
type Status struct {
	Framework      string     `json:"framework"`
	Score          float64    `json:"score"`
	Passing        bool       `json:"passing"`
	FailedControls []string   `json:"failed_controls"`
	TotalControls  int        `json:"total_controls"`
	LastAssessed   time.Time  `json:"last_assessed"`
	NextAssessment *time.Time `json:"next_assessment,omitempty"`
}

// Config holds evaluator tuning.
type Config struct {
	// PassBar is the minimum passing score (0-100).
	PassBar float64
	// Cadence schedules the next assessment relative to each
	// evaluation. Zero leaves NextAssessment unset.
	Cadence time.Duration
}

// DefaultConfig returns the default evaluator configuration.
func DefaultConfig() Config {
	return Config{PassBar: DefaultPassBar}
}

// Evaluator scores compliance frameworks.
type Evaluator struct {
	passBar float64
	cadence time.Duration
}

// NewEvaluator creates an Evaluator. A non-positive pass bar falls back
// to the default.
func NewEvaluator(cfg Config) *Evaluator {
	if cfg.PassBar <= 0 {
		cfg.PassBar = DefaultPassBar
	}
	return &Evaluator{passBar: cfg.PassBar, cadence: cfg.Cadence}
}

// PassBar returns the configured passing score.
func (e *Evaluator) PassBar() float64 {
	return e.passBar
}

// Evaluate scores the framework from the control map. An empty control
// map scores 100 and passes vacuously; callers wanting to reject that
// must pre-validate their control set. Failed control identifiers are
// reported in lexical order so output is deterministic.
func (e *Evaluator) Evaluate(framework string, controls map[string]bool) Status {
	now := time.Now().UTC()
	status := Status{
		Framework:     framework,
		TotalControls: len(controls),
		LastAssessed:  now,
	}
	if e.cadence > 0 {
		next := now.Add(e.cadence)
		status.NextAssessment = &next
	}

	if len(controls) == 0 {
		status.Score = 100
		status.Passing = true
		return status
	}

	passed := 0
	var failed []string
	for id, ok := range controls {
		if ok {
			passed++
		} else {
			failed = append(failed, id)
		}
	}
	sort.Strings(failed)

	status.Score = 100 * float64(passed) / float64(len(controls))
	status.Passing = status.Score >= e.passBar
	status.FailedControls = failed
	return status
}
