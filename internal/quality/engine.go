package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/msageha/orchestra/internal/events"
	"github.com/msageha/orchestra/internal/logging"
	"github.com/msageha/orchestra/internal/model"
)

// DefaultHistoryLimit bounds the in-memory runs kept per project.
const DefaultHistoryLimit = 100

// RunRecorder persists run results. *metrics.SQLiteStore implements it.
type RunRecorder interface {
	RecordQualityRun(ctx context.Context, run model.QualityRunRecord) error
}

type Options struct {
	Recorder     RunRecorder
	Publisher    events.Publisher
	Logger       *logging.Logger
	HistoryLimit int
	// FallbackRules are installed by LoadRules when the rules directory
	// holds no rules.
	FallbackRules []Rule
}

// Engine is the quality gate evaluation engine
type Engine struct {
	opts   Options
	logger *logging.Logger
	now    func() time.Time

	mu         sync.RWMutex
	rules      []Rule
	evaluators map[string]Evaluator
	history    map[string][]RunResult
}

// NewEngine creates an engine with no rules.
func NewEngine(opts Options) *Engine {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	return &Engine{
		opts:       opts,
		logger:     opts.Logger.With("quality"),
		now:        time.Now,
		evaluators: make(map[string]Evaluator),
		history:    make(map[string][]RunResult),
	}
}

// AddRule validates rule and appends it to the evaluation order.
func (e *Engine) AddRule(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if !rule.comparison().Known() {
		e.logger.Warnf("rule %q uses unknown comparison %q and will always pass", rule.Name, rule.Comparison)
	}
	e.mu.Lock()
	e.rules = append(e.rules, rule)
	e.mu.Unlock()
	e.logger.Infof("added quality rule name=%q source=%s", rule.Name, rule.Source)
	return nil
}

// SetRules replaces the whole rule set. Nothing changes if any rule is
// invalid.
func (e *Engine) SetRules(rules []Rule) error {
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	cp := append([]Rule(nil), rules...)
	e.mu.Lock()
	e.rules = cp
	e.mu.Unlock()
	e.logger.Infof("quality rules replaced count=%d", len(cp))
	return nil
}

// Rules returns the current rules in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// RegisterEvaluator adds or replaces the evaluator under name.
func (e *Engine) RegisterEvaluator(name string, fn Evaluator) error {
	if name == "" {
		return fmt.Errorf("evaluator name is required")
	}
	if fn == nil {
		return fmt.Errorf("evaluator %q: function is nil", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evaluators[name] = fn
	return nil
}

// CheckQualityGates evaluates every rule against checkCtx and appends the
// result to project's history. Rule failures never abort the run; each rule
// yields exactly one outcome.
func (e *Engine) CheckQualityGates(ctx context.Context, project string, checkCtx map[string]any) RunResult {
	rules := e.Rules()

	result := RunResult{
		ID:        uuid.NewString(),
		Project:   project,
		Timestamp: e.now(),
		Passed:    true,
		Outcomes:  make([]Outcome, 0, len(rules)),
	}

	for _, rule := range rules {
		out := e.evaluateRule(ctx, rule, checkCtx)
		result.Outcomes = append(result.Outcomes, out)
		if !out.Failing() {
			continue
		}
		result.Passed = false
		if out.Severity == SeverityError {
			result.Errors = append(result.Errors, out)
		} else {
			result.Warnings = append(result.Warnings, out)
		}
	}

	e.mu.Lock()
	h := append(e.history[project], result)
	if len(h) > e.opts.HistoryLimit {
		h = h[len(h)-e.opts.HistoryLimit:]
	}
	e.history[project] = h
	e.mu.Unlock()

	e.logger.Infof("quality check project=%s passed=%t warnings=%d errors=%d",
		project, result.Passed, len(result.Warnings), len(result.Errors))
	e.persist(ctx, result)

	if e.opts.Publisher != nil {
		e.opts.Publisher.Publish(events.EventQualityGateRun, map[string]any{
			"project":  project,
			"run_id":   result.ID,
			"passed":   result.Passed,
			"warnings": len(result.Warnings),
			"errors":   len(result.Errors),
		})
	}
	return result
}

func (e *Engine) evaluateRule(ctx context.Context, rule Rule, checkCtx map[string]any) Outcome {
	op := rule.comparison()
	out := Outcome{
		RuleName:   rule.Name,
		Threshold:  rule.Threshold,
		Comparison: op,
		Severity:   rule.Severity,
	}

	actual, err := e.actualValue(ctx, rule, checkCtx)
	if err != nil {
		e.logger.Warnf("quality rule %q failed to execute: %v", rule.Name, err)
		out.Status = StatusError
		out.Severity = SeverityError
		out.Message = fmt.Sprintf("Quality check failed to execute: %v", err)
		return out
	}

	out.Actual = actual
	out.Status = StatusFailed
	if compare(actual, rule.Threshold, op) {
		out.Status = StatusPassed
	}
	out.Message = rule.Message
	if out.Message == "" {
		out.Message = fmt.Sprintf("%s: %s vs %s", rule.Name, formatNumber(actual), formatNumber(rule.Threshold))
	}
	return out
}

func (e *Engine) persist(ctx context.Context, result RunResult) {
	if e.opts.Recorder == nil {
		return
	}
	checks, err := json.Marshal(result.Outcomes)
	if err != nil {
		e.logger.Errorf("encode quality run %s: %v", result.ID, err)
		return
	}
	rec := model.QualityRunRecord{
		ID:        result.ID,
		Project:   result.Project,
		Timestamp: result.Timestamp,
		Passed:    result.Passed,
		Warnings:  len(result.Warnings),
		Errors:    len(result.Errors),
		Checks:    checks,
	}
	if err := e.opts.Recorder.RecordQualityRun(ctx, rec); err != nil {
		e.logger.Errorf("record quality run project=%s: %v", result.Project, err)
	}
}

// History returns project's runs, oldest first.
func (e *Engine) History(project string) []RunResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]RunResult(nil), e.history[project]...)
}

// LatestRun returns project's most recent run.
func (e *Engine) LatestRun(project string) (RunResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := e.history[project]
	if len(h) == 0 {
		return RunResult{}, false
	}
	return h[len(h)-1], true
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
