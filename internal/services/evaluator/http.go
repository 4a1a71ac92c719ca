package evaluator

import (
	"context"
	"fmt"

	"SignalEngine/internal/domain/models"
	"SignalEngine/internal/domain/repository"
	"SignalEngine/pkg/config"
	xhttp "SignalEngine/pkg/http"
)

// HTTPEvaluator delegates evaluation to a remote condition service.
type HTTPEvaluator struct {
	client *xhttp.Client
}

func NewHTTPEvaluator(cfg config.EvaluatorConfig) *HTTPEvaluator {
	return &HTTPEvaluator{
		client: xhttp.NewClient(cfg.URL,
			xhttp.WithTimeout(cfg.Timeout),
			xhttp.WithRetry(cfg.Attempts, 0),
		),
	}
}

type evalRequest struct {
	Condition models.ConditionExpression `json:"condition"`
	Context   *models.EvaluationContext  `json:"context"`
}

type batchRequest struct {
	Conditions []models.ConditionExpression `json:"conditions"`
	Context    *models.EvaluationContext    `json:"context"`
}

type batchResponse struct {
	Results map[string]models.ConditionEvaluationResult `json:"results"`
}

func (e *HTTPEvaluator) Evaluate(ctx context.Context, cond models.ConditionExpression, ec *models.EvaluationContext) (models.ConditionEvaluationResult, error) {
	var res models.ConditionEvaluationResult
	if err := e.client.PostJSON(ctx, "/evaluate", evalRequest{Condition: cond, Context: ec}, &res); err != nil {
		return res, fmt.Errorf("evaluate %s: %w", cond.ID, err)
	}
	if res.ConditionID == "" {
		res.ConditionID = cond.ID
	}
	if res.Direction == "" {
		res.Direction = cond.Direction
	}
	return res, nil
}

// EvaluateBatch posts all conditions at once. Conditions missing from the
// response are reported as failed results.
func (e *HTTPEvaluator) EvaluateBatch(ctx context.Context, conds []models.ConditionExpression, ec *models.EvaluationContext) (map[string]models.ConditionEvaluationResult, error) {
	var resp batchResponse
	if err := e.client.PostJSON(ctx, "/evaluate/batch", batchRequest{Conditions: conds, Context: ec}, &resp); err != nil {
		return nil, fmt.Errorf("evaluate batch: %w", err)
	}
	out := make(map[string]models.ConditionEvaluationResult, len(conds))
	for _, c := range conds {
		r, ok := resp.Results[c.ID]
		if !ok {
			r = models.ConditionEvaluationResult{ConditionID: c.ID, Error: "missing from batch response"}
		}
		if r.ConditionID == "" {
			r.ConditionID = c.ID
		}
		if r.Direction == "" {
			r.Direction = c.Direction
		}
		out[c.ID] = r
	}
	return out, nil
}

// New returns the evaluator selected by config.
func New(cfg config.EvaluatorConfig) repository.ConditionEvaluator {
	if cfg.Type == "http" {
		return NewHTTPEvaluator(cfg)
	}
	return NewRuleEvaluator()
}

var _ repository.ConditionEvaluator = (*HTTPEvaluator)(nil)
