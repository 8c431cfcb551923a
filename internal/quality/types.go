// Package quality evaluates a project's measurements against an ordered set
// of threshold rules and keeps the per-project run history.
package quality

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrInvalidRule = errors.New("invalid quality rule")

// Severity represents the severity level of a rule failure
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Comparison is the operator applied as "actual <op> threshold".
type Comparison string

const (
	CompareGTE Comparison = ">="
	CompareLTE Comparison = "<="
	CompareGT  Comparison = ">"
	CompareLT  Comparison = "<"
	CompareEQ  Comparison = "=="
)

// Known reports whether c is one of the supported operators.
func (c Comparison) Known() bool {
	switch c {
	case CompareGTE, CompareLTE, CompareGT, CompareLT, CompareEQ:
		return true
	}
	return false
}

// Status is the outcome of one rule.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
	StatusError  Status = "error"
)

// Source names where a rule's actual value comes from: a key in the check
// context, or a registered evaluator. Exactly one is set.
type Source struct {
	ContextKey string `yaml:"context_key,omitempty" json:"context_key,omitempty"`
	Evaluator  string `yaml:"evaluator,omitempty" json:"evaluator,omitempty"`
}

func FromContext(key string) Source    { return Source{ContextKey: key} }
func FromEvaluator(name string) Source { return Source{Evaluator: name} }

func (s Source) String() string {
	if s.Evaluator != "" {
		return "evaluator:" + s.Evaluator
	}
	return "context:" + s.ContextKey
}

// Rule is one threshold check. An empty Comparison means >=; an empty
// Message means "<name>: <actual> vs <threshold>".
type Rule struct {
	Name       string     `yaml:"name" json:"name"`
	Source     Source     `yaml:"source" json:"source"`
	Severity   Severity   `yaml:"severity" json:"severity"`
	Threshold  float64    `yaml:"threshold" json:"threshold"`
	Comparison Comparison `yaml:"comparison,omitempty" json:"comparison,omitempty"`
	Message    string     `yaml:"message,omitempty" json:"message,omitempty"`
}

// Validate rejects rules that cannot be evaluated. Unknown comparisons are
// accepted; they always pass.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	hasKey, hasEval := r.Source.ContextKey != "", r.Source.Evaluator != ""
	if hasKey == hasEval {
		return fmt.Errorf("%w: rule %q must set exactly one of context_key or evaluator", ErrInvalidRule, r.Name)
	}
	switch r.Severity {
	case SeverityWarning, SeverityError:
	default:
		return fmt.Errorf("%w: rule %q has invalid severity %q", ErrInvalidRule, r.Name, r.Severity)
	}
	if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
		return fmt.Errorf("%w: rule %q threshold must be finite", ErrInvalidRule, r.Name)
	}
	return nil
}

func (r Rule) comparison() Comparison {
	if r.Comparison == "" {
		return CompareGTE
	}
	return r.Comparison
}

// Outcome is the result of evaluating one rule.
type Outcome struct {
	RuleName   string     `json:"rule_name"`
	Status     Status     `json:"status"`
	Actual     float64    `json:"actual_value"`
	Threshold  float64    `json:"threshold"`
	Comparison Comparison `json:"comparison"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
}

// Failing reports whether the outcome blocks the run from passing.
func (o Outcome) Failing() bool {
	return o.Status == StatusFailed || o.Status == StatusError
}

// RunResult is one CheckQualityGates call. Warnings and Errors hold the
// failing outcomes split by severity.
type RunResult struct {
	ID        string    `json:"id"`
	Project   string    `json:"project"`
	Timestamp time.Time `json:"timestamp"`
	Passed    bool      `json:"passed"`
	Outcomes  []Outcome `json:"checks"`
	Warnings  []Outcome `json:"warnings"`
	Errors    []Outcome `json:"errors"`
}

// DefaultRules is the rule set applied when no rules are configured.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "Test Coverage",
			Source:     FromContext("test_coverage"),
			Threshold:  85,
			Comparison: CompareGTE,
			Severity:   SeverityWarning,
			Message:    "Test coverage below minimum threshold",
		},
		{
			Name:       "API Response Time",
			Source:     FromContext("avg_response_time"),
			Threshold:  200,
			Comparison: CompareLTE,
			Severity:   SeverityError,
			Message:    "API response time exceeds acceptable limit",
		},
		{
			Name:       "Security Vulnerabilities",
			Source:     FromContext("security_vulnerabilities"),
			Threshold:  0,
			Comparison: CompareEQ,
			Severity:   SeverityError,
			Message:    "Security vulnerabilities detected",
		},
	}
}
