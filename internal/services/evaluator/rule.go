package evaluator

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"SignalEngine/internal/domain/models"
	"SignalEngine/internal/domain/repository"
)

// RuleEvaluator evaluates comparisons of the form
//
//	<operand> <op> <operand> [and <operand> <op> <operand> ...]
//
// where an operand is a number, an indicator name, a numeric variable, or one of
// price, open, high, low, close, volume.
type RuleEvaluator struct {
	compiled sync.Map // expression -> []comparison
	now      func() time.Time
}

func NewRuleEvaluator() *RuleEvaluator {
	return &RuleEvaluator{now: time.Now}
}

type comparison struct {
	lhs, op, rhs string
}

var operators = []string{"<=", ">=", "==", "!=", "<", ">"}

func (e *RuleEvaluator) Evaluate(_ context.Context, cond models.ConditionExpression, ec *models.EvaluationContext) (models.ConditionEvaluationResult, error) {
	start := e.now()
	res := models.ConditionEvaluationResult{ConditionID: cond.ID, Direction: cond.Direction}

	cmps, err := e.compile(cond.Expression)
	if err != nil {
		res.Error = err.Error()
		res.ExecutionTime = e.now().Sub(start)
		return res, nil
	}

	pass := true
	margin := math.Inf(1)
	for _, c := range cmps {
		l, err := operand(c.lhs, ec)
		if err != nil {
			res.Error = err.Error()
			res.ExecutionTime = e.now().Sub(start)
			return res, nil
		}
		r, err := operand(c.rhs, ec)
		if err != nil {
			res.Error = err.Error()
			res.ExecutionTime = e.now().Sub(start)
			return res, nil
		}
		if !compare(l, c.op, r) {
			pass = false
		}
		scale := math.Max(math.Abs(r), 1e-9)
		margin = math.Min(margin, math.Abs(l-r)/scale)
	}

	res.Success = true
	res.Value = pass
	if pass {
		res.Confidence = 0.5 + 0.5*math.Min(margin*5, 1)
	}
	res.ExecutionTime = e.now().Sub(start)
	return res, nil
}

// EvaluateBatch evaluates every condition; failures are reported per result.
func (e *RuleEvaluator) EvaluateBatch(ctx context.Context, conds []models.ConditionExpression, ec *models.EvaluationContext) (map[string]models.ConditionEvaluationResult, error) {
	out := make(map[string]models.ConditionEvaluationResult, len(conds))
	for _, c := range conds {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		r, _ := e.Evaluate(ctx, c, ec)
		out[c.ID] = r
	}
	return out, nil
}

func (e *RuleEvaluator) compile(expr string) ([]comparison, error) {
	if v, ok := e.compiled.Load(expr); ok {
		return v.([]comparison), nil
	}
	parts := strings.Split(strings.ToLower(expr), " and ")
	cmps := make([]comparison, 0, len(parts))
	for _, p := range parts {
		c, err := parseComparison(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", expr, err)
		}
		cmps = append(cmps, c)
	}
	e.compiled.Store(expr, cmps)
	return cmps, nil
}

func parseComparison(s string) (comparison, error) {
	for _, op := range operators {
		if i := strings.Index(s, op); i > 0 {
			lhs := strings.TrimSpace(s[:i])
			rhs := strings.TrimSpace(s[i+len(op):])
			if lhs == "" || rhs == "" {
				break
			}
			return comparison{lhs: lhs, op: op, rhs: rhs}, nil
		}
	}
	return comparison{}, fmt.Errorf("expected <operand> <op> <operand>, got %q", s)
}

func operand(tok string, ec *models.EvaluationContext) (float64, error) {
	if v, err := strconv.ParseFloat(tok, 64); err == nil {
		return v, nil
	}
	switch tok {
	case "price", "close":
		return ec.Current.Close, nil
	case "open":
		return ec.Current.Open, nil
	case "high":
		return ec.Current.High, nil
	case "low":
		return ec.Current.Low, nil
	case "volume":
		return ec.Current.Volume, nil
	}
	if v, ok := ec.Indicators[tok]; ok {
		return v, nil
	}
	switch v := ec.Variables[tok].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	}
	return 0, fmt.Errorf("unknown operand %q", tok)
}

func compare(l float64, op string, r float64) bool {
	switch op {
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	case ">=":
		return l >= r
	case "==":
		return l == r
	case "!=":
		return l != r
	}
	return false
}

var _ repository.ConditionEvaluator = (*RuleEvaluator)(nil)
