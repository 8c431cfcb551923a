package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Evaluator computes a rule's actual value from the check context. The
// returned value must be numeric.
type Evaluator func(ctx context.Context, checkCtx map[string]any) (any, error)

// compare applies op as "actual op threshold". Unknown operators pass.
func compare(actual, threshold float64, op Comparison) bool {
	switch op {
	case CompareGTE:
		return actual >= threshold
	case CompareLTE:
		return actual <= threshold
	case CompareGT:
		return actual > threshold
	case CompareLT:
		return actual < threshold
	case CompareEQ:
		return actual == threshold
	default:
		return true
	}
}

// actualValue resolves rule's source against checkCtx. A missing context key
// is 0. Evaluator panics come back as errors.
func (e *Engine) actualValue(ctx context.Context, rule Rule, checkCtx map[string]any) (v float64, err error) {
	if rule.Source.Evaluator == "" {
		raw, ok := checkCtx[rule.Source.ContextKey]
		if !ok || raw == nil {
			return 0, nil
		}
		return ToFloat64(raw)
	}

	e.mu.RLock()
	fn, ok := e.evaluators[rule.Source.Evaluator]
	e.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("evaluator %q is not registered", rule.Source.Evaluator)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluator %q panicked: %v", rule.Source.Evaluator, r)
		}
	}()
	raw, err := fn(ctx, checkCtx)
	if err != nil {
		return 0, fmt.Errorf("evaluator %q: %w", rule.Source.Evaluator, err)
	}
	v, err = ToFloat64(raw)
	if err != nil {
		return 0, fmt.Errorf("evaluator %q: %w", rule.Source.Evaluator, err)
	}
	return v, nil
}

// ToFloat64 converts numeric values, numeric strings and booleans.
func ToFloat64(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case json.Number:
		return val.Float64()
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", val)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
}
