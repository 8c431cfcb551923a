package model

import (
	"fmt"
	"strings"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// DefaultComplexity is used when a task does not state its complexity.
const DefaultComplexity = 0.5

// ParsePriority accepts low/medium/high case-insensitively; empty means medium.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	default:
		return "", fmt.Errorf("invalid priority %q: must be low, medium, or high", s)
	}
}

// Task is a unit of work submitted for assignment. Complexity is optional;
// nil means DefaultComplexity.
type Task struct {
	ID             string             `json:"id" yaml:"id"`
	RequiredSkills map[string]float64 `json:"required_skills,omitempty" yaml:"required_skills,omitempty"`
	Priority       Priority           `json:"priority,omitempty" yaml:"priority,omitempty"`
	Complexity     *float64           `json:"complexity,omitempty" yaml:"complexity,omitempty"`
}

func (t Task) EffectiveComplexity() float64 {
	if t.Complexity == nil {
		return DefaultComplexity
	}
	return *t.Complexity
}

func (t Task) EffectivePriority() Priority {
	if t.Priority == "" {
		return PriorityMedium
	}
	return t.Priority
}

// Validate checks ranges of skill levels, complexity and priority.
func (t Task) Validate() error {
	if _, err := ParsePriority(string(t.Priority)); err != nil {
		return err
	}
	if t.Complexity != nil && (*t.Complexity < 0 || *t.Complexity > 1) {
		return fmt.Errorf("task %s: complexity %v out of range [0,1]", t.ID, *t.Complexity)
	}
	for skill, level := range t.RequiredSkills {
		if level < 0 || level > 1 {
			return fmt.Errorf("task %s: required level for %q %v out of range [0,1]", t.ID, skill, level)
		}
	}
	return nil
}
