// Package rules provides the threshold rule model for the monitoring engine.
package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"secmon/internal/schema"
)

// Operator is a threshold comparison operator.
type Operator string

const (
	OpGreaterThan  Operator = "gt"
	OpGreaterEqual Operator = "gte"
	OpLessThan     Operator = "lt"
	OpLessEqual    Operator = "lte"
	OpEqual        Operator = "eq"
	OpNotEqual     Operator = "ne"
)

// comparators maps each operator to its comparison function. A closed
// table instead of string dispatch: unknown operators fail registration,
// never evaluation.
var comparators = map[Operator]func(observed, threshold float64) bool{
	OpGreaterThan:  func(o, t float64) bool { return o > t },
	OpGreaterEqual: func(o, t float64) bool { return o >= t },
	OpLessThan:     func(o, t float64) bool { return o < t },
	OpLessEqual:    func(o, t float64) bool { return o <= t },
	OpEqual:        func(o, t float64) bool { return o == t },
	OpNotEqual:     func(o, t float64) bool { return o != t },
}

// IsValid checks if the operator is a known comparison.
func (o Operator) IsValid() bool {
	_, ok := comparators[o]
	return ok
}

// Compare applies the operator to (observed, threshold).
// Unknown operators never match.
func (o Operator) Compare(observed, threshold float64) bool {
	cmp, ok := comparators[o]
	if !ok {
		return false
	}
	return cmp(observed, threshold)
}

// Threshold defines the trigger condition of a rule. Immutable once the
// rule is registered.
type Threshold struct {
	Metric      string          `yaml:"metric" json:"metric" validate:"required,max=256"`
	Operator    Operator        `yaml:"operator" json:"operator" validate:"required"`
	Value       float64         `yaml:"value" json:"value"`
	Severity    schema.Severity `yaml:"severity" json:"severity" validate:"required"`
	Description string          `yaml:"description" json:"description" validate:"max=1024"`
	Cooldown    time.Duration   `yaml:"cooldown" json:"cooldown" validate:"min=0"`
}

// Rule is a named alerting rule: a threshold plus routing and bookkeeping.
type Rule struct {
	ID          string           `yaml:"id" json:"id" validate:"required,max=128"`
	Name        string           `yaml:"name" json:"name" validate:"required,max=256"`
	Description string           `yaml:"description" json:"description" validate:"max=1024"`
	Threshold   Threshold        `yaml:"threshold" json:"threshold"`
	Channels    []schema.Channel `yaml:"channels" json:"channels"`
	Enabled     bool             `yaml:"enabled" json:"enabled"`
	Tags        []string         `yaml:"tags,omitempty" json:"tags,omitempty"`
}

var (
	// ErrUnknownOperator is returned for an operator outside the closed set.
	ErrUnknownOperator = errors.New("unknown comparison operator")
	// ErrInvalidSeverity is returned for a severity outside the closed set.
	ErrInvalidSeverity = errors.New("invalid severity")
	// ErrInvalidChannel is returned for a channel outside the closed set.
	ErrInvalidChannel = errors.New("invalid channel")
)

var structValidator = validator.New()

// Validate validates the rule configuration. Malformed rules are rejected
// here, at registration time, never during evaluation.
func (r *Rule) Validate() error {
	if err := structValidator.Struct(r); err != nil {
		return fmt.Errorf("rule %q: %w", r.ID, err)
	}
	if !r.Threshold.Operator.IsValid() {
		return fmt.Errorf("rule %q: %w: %q", r.ID, ErrUnknownOperator, r.Threshold.Operator)
	}
	if !r.Threshold.Severity.IsValid() {
		return fmt.Errorf("rule %q: %w: %q", r.ID, ErrInvalidSeverity, r.Threshold.Severity)
	}
	if r.Threshold.Cooldown < 0 {
		return fmt.Errorf("rule %q: cooldown must be >= 0", r.ID)
	}
	for _, ch := range r.Channels {
		if !ch.IsValid() {
			return fmt.Errorf("rule %q: %w: %q", r.ID, ErrInvalidChannel, ch)
		}
	}
	return nil
}

// ParseRule parses a single rule from YAML bytes.
func ParseRule(data []byte) (*Rule, error) {
	var rule Rule
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("failed to parse rule: %w", err)
	}
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule: %w", err)
	}
	return &rule, nil
}

// ParseRules parses multiple rules from YAML bytes. The input may be a
// YAML sequence of rules or a single rule document.
func ParseRules(data []byte) ([]*Rule, error) {
	var parsed []*Rule
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		rule, singleErr := ParseRule(data)
		if singleErr != nil {
			return nil, fmt.Errorf("failed to parse rules: %w", err)
		}
		return []*Rule{rule}, nil
	}

	for i, rule := range parsed {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return parsed, nil
}

// ExportRules serializes rules to YAML, suitable for persistence or
// audit diffing. Order is preserved.
func ExportRules(ruleSet []*Rule) ([]byte, error) {
	out, err := yaml.Marshal(ruleSet)
	if err != nil {
		return nil, fmt.Errorf("failed to export rules: %w", err)
	}
	return out, nil
}
