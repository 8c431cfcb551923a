// Package assign picks the agent best suited to a task from capability fit,
// current workload and recent performance.
package assign

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/msageha/orchestra/internal/events"
	"github.com/msageha/orchestra/internal/lock"
	"github.com/msageha/orchestra/internal/logging"
	"github.com/msageha/orchestra/internal/metrics"
	"github.com/msageha/orchestra/internal/model"
)

var ErrInvalidCapability = errors.New("invalid capability")

const (
	DefaultRetention         = 24 * time.Hour
	DefaultTrendWindowDays   = 3
	DefaultPerformanceFactor = 0.8
	minFactor                = 0.1
)

// PerformanceSource supplies recent quality trends. *metrics.Analyzer
// implements it.
type PerformanceSource interface {
	AgentPerformanceTrend(ctx context.Context, agent string, windowDays int) (metrics.Trend, error)
}

// WorkloadEntry is one task counted against an agent until it ages out of
// the retention window.
type WorkloadEntry struct {
	TaskID     string         `json:"task_id"`
	AssignedAt time.Time      `json:"assigned_at"`
	Complexity float64        `json:"complexity"`
	Priority   model.Priority `json:"priority"`
}

// CandidateScore breaks down one candidate's score.
type CandidateScore struct {
	Agent       string  `json:"agent"`
	Capability  float64 `json:"capability"`
	Workload    float64 `json:"workload"`
	Performance float64 `json:"performance"`
	Total       float64 `json:"total"`
}

// Assignment is the result of Assign. Agent is empty when no candidate
// qualified.
type Assignment struct {
	TaskID     string           `json:"task_id"`
	Agent      string           `json:"agent,omitempty"`
	Score      float64          `json:"score"`
	Candidates []CandidateScore `json:"candidates"`
}

func (a Assignment) Assigned() bool { return a.Agent != "" }

type Options struct {
	Retention          time.Duration
	TrendWindowDays    int
	DefaultPerformance float64
	Publisher          events.Publisher
	Logger             *logging.Logger
}

type agentState struct {
	capabilities map[string]float64
	workload     []WorkloadEntry
}

// Engine owns the capability and workload tables. Each agent's entry is
// mutated under that agent's lock.
type Engine struct {
	perf   PerformanceSource
	opts   Options
	logger *logging.Logger
	now    func() time.Time

	locks *lock.KeyedMutex

	mu     sync.RWMutex
	agents map[string]*agentState
}

func NewEngine(perf PerformanceSource, opts Options) *Engine {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.TrendWindowDays <= 0 {
		opts.TrendWindowDays = DefaultTrendWindowDays
	}
	if opts.DefaultPerformance <= 0 {
		opts.DefaultPerformance = DefaultPerformanceFactor
	}
	return &Engine{
		perf:   perf,
		opts:   opts,
		logger: opts.Logger.With("assign"),
		now:    time.Now,
		locks:  lock.NewKeyedMutex(),
		agents: make(map[string]*agentState),
	}
}

// RegisterAgentCapabilities sets agent's capability vector, replacing any
// previous one. Workload is kept.
func (e *Engine) RegisterAgentCapabilities(agent string, caps map[string]float64) error {
	if agent == "" {
		return fmt.Errorf("%w: agent name is required", ErrInvalidCapability)
	}
	cp := make(map[string]float64, len(caps))
	for skill, level := range caps {
		if skill == "" {
			return fmt.Errorf("%w: agent %s has an empty skill name", ErrInvalidCapability, agent)
		}
		if math.IsNaN(level) || level < 0 || level > 1 {
			return fmt.Errorf("%w: agent %s skill %s level %v out of range [0,1]", ErrInvalidCapability, agent, skill, level)
		}
		cp[skill] = level
	}

	e.mu.Lock()
	st, ok := e.agents[agent]
	if !ok {
		st = &agentState{}
		e.agents[agent] = st
	}
	e.mu.Unlock()

	e.locks.WithLock(agent, func() { st.capabilities = cp })
	e.logger.Infof("registered capabilities agent=%s skills=%d", agent, len(cp))
	return nil
}

// Deregister drops the agent's capabilities and workload.
func (e *Engine) Deregister(agent string) {
	e.mu.Lock()
	delete(e.agents, agent)
	e.mu.Unlock()
	e.locks.Forget(agent)
}

func (e *Engine) state(agent string) (*agentState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.agents[agent]
	return st, ok && st.capabilities != nil
}

// Agents returns agents with registered capabilities in name order.
func (e *Engine) Agents() []string {
	e.mu.RLock()
	names := make([]string, 0, len(e.agents))
	for name := range e.agents {
		names = append(names, name)
	}
	e.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Capabilities returns a copy of agent's capability vector.
func (e *Engine) Capabilities(agent string) (map[string]float64, bool) {
	st, ok := e.state(agent)
	if !ok {
		return nil, false
	}
	e.locks.RLock(agent)
	defer e.locks.RUnlock(agent)
	cp := make(map[string]float64, len(st.capabilities))
	for k, v := range st.capabilities {
		cp[k] = v
	}
	return cp, true
}

// ActiveWorkload prunes expired entries and returns the rest.
func (e *Engine) ActiveWorkload(agent string) []WorkloadEntry {
	st, ok := e.state(agent)
	if !ok {
		return nil
	}
	e.locks.Lock(agent)
	defer e.locks.Unlock(agent)
	e.pruneLocked(st)
	return append([]WorkloadEntry(nil), st.workload...)
}

func (e *Engine) pruneLocked(st *agentState) {
	cutoff := e.now().Add(-e.opts.Retention)
	kept := st.workload[:0]
	for _, w := range st.workload {
		if w.AssignedAt.After(cutoff) {
			kept = append(kept, w)
		}
	}
	st.workload = kept
}

// Assign scores every candidate with registered capabilities and gives the
// task to the highest strictly positive score; ties keep the earlier
// candidate. No qualifying candidate yields an Assignment with empty Agent.
func (e *Engine) Assign(ctx context.Context, task model.Task, candidates []string) (Assignment, error) {
	if err := task.Validate(); err != nil {
		return Assignment{}, fmt.Errorf("assign: %w", err)
	}

	result := Assignment{TaskID: task.ID}
	var best *agentState
	for _, agent := range candidates {
		st, ok := e.state(agent)
		if !ok {
			e.logger.Debugf("skip candidate agent=%s reason=no capabilities", agent)
			continue
		}
		score := e.score(ctx, agent, st, task)
		result.Candidates = append(result.Candidates, score)
		if score.Total > result.Score {
			result.Score = score.Total
			result.Agent = agent
			best = st
		}
	}

	if best == nil {
		e.logger.Infof("no assignment task=%s candidates=%d", task.ID, len(candidates))
		return result, nil
	}

	entry := WorkloadEntry{
		TaskID:     task.ID,
		AssignedAt: e.now(),
		Complexity: task.EffectiveComplexity(),
		Priority:   task.EffectivePriority(),
	}
	e.locks.WithLock(result.Agent, func() { best.workload = append(best.workload, entry) })

	e.logger.Infof("assigned task=%s agent=%s score=%.2f", task.ID, result.Agent, result.Score)
	if e.opts.Publisher != nil {
		e.opts.Publisher.Publish(events.EventTaskAssigned, map[string]any{
			"task_id":  task.ID,
			"agent":    result.Agent,
			"score":    result.Score,
			"priority": string(entry.Priority),
		})
	}
	return result, nil
}

// Score computes agent's score for task without recording anything beyond
// pruning expired workload.
func (e *Engine) Score(ctx context.Context, agent string, task model.Task) (CandidateScore, bool) {
	st, ok := e.state(agent)
	if !ok {
		return CandidateScore{}, false
	}
	return e.score(ctx, agent, st, task), true
}

func (e *Engine) score(ctx context.Context, agent string, st *agentState, task model.Task) CandidateScore {
	var capability, workload float64
	e.locks.WithLock(agent, func() {
		capability = CapabilityMatch(st.capabilities, task.RequiredSkills)
		e.pruneLocked(st)
		var sum float64
		for _, w := range st.workload {
			sum += w.Complexity
		}
		workload = WorkloadFactor(sum)
	})
	performance := e.performanceFactor(ctx, agent)

	return CandidateScore{
		Agent:       agent,
		Capability:  capability,
		Workload:    workload,
		Performance: performance,
		Total:       capability * workload * performance,
	}
}

func (e *Engine) performanceFactor(ctx context.Context, agent string) float64 {
	if e.perf == nil {
		return e.opts.DefaultPerformance
	}
	trend, err := e.perf.AgentPerformanceTrend(ctx, agent, e.opts.TrendWindowDays)
	if err != nil {
		e.logger.Warnf("no performance data agent=%s error=%v", agent, err)
		return e.opts.DefaultPerformance
	}
	if trend.NoData {
		return e.opts.DefaultPerformance
	}
	// Samples without a quality score average to 0 and take the floor.
	return math.Max(minFactor, trend.AvgQualityScore)
}

// CapabilityMatch weights each required skill by its required level. A skill
// the agent meets or exceeds scores 1, a shortfall scores have/required, and
// a non-positive requirement scores 1. No requirements match fully; all-zero
// requirements match nothing.
func CapabilityMatch(have, required map[string]float64) float64 {
	if len(required) == 0 {
		return 1.0
	}
	var total, weight float64
	for skill, req := range required {
		match := 1.0
		if req > 0 {
			match = math.Min(1.0, have[skill]/req)
		}
		total += match * req
		weight += req
	}
	if weight <= 0 {
		return 0.0
	}
	return total / weight
}

// WorkloadFactor maps summed active complexity to (0, 1], floored at 0.1.
func WorkloadFactor(activeComplexity float64) float64 {
	return math.Max(minFactor, 1.0/(1.0+activeComplexity))
}
