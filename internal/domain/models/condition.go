package models

import "time"

// ConditionExpression is an opaque rule evaluated by the external evaluator.
type ConditionExpression struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name,omitempty" yaml:"name"`
	Expression string     `json:"expression" yaml:"expression"`
	Direction  SignalType `json:"direction,omitempty" yaml:"direction"` // optional hint
	Weight     float64    `json:"weight,omitempty" yaml:"weight"`
}

// ConditionEvaluationResult is the outcome of evaluating one condition in one context.
type ConditionEvaluationResult struct {
	ConditionID   string         `json:"condition_id"`
	Success       bool           `json:"success"`
	Value         any            `json:"value"`
	Direction     SignalType     `json:"direction,omitempty"`
	Confidence    float64        `json:"confidence"`
	ExecutionTime time.Duration  `json:"execution_time"`
	CacheHit      bool           `json:"cache_hit"`
	Error         string         `json:"error,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Truthy reports whether the evaluated value passes.
func (r *ConditionEvaluationResult) Truthy() bool {
	if !r.Success {
		return false
	}
	switch v := r.Value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case float32:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case string:
		return v != "" && v != "false" && v != "0"
	case nil:
		return false
	default:
		return true
	}
}

// Numeric returns the scalar form of the value, 1/0 for booleans.
func (r *ConditionEvaluationResult) Numeric() (float64, bool) {
	switch v := r.Value.(type) {
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Clone returns a copy that does not share the metadata map.
func (r ConditionEvaluationResult) Clone() ConditionEvaluationResult {
	if r.Metadata != nil {
		md := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			md[k] = v
		}
		r.Metadata = md
	}
	return r
}
