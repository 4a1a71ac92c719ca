package models

import "time"

// SignalGenerationRequest is a unit of work for the generator.
type SignalGenerationRequest struct {
	ID         string                `json:"id"`
	StrategyID string                `json:"strategy_id"`
	Context    *StrategyContext      `json:"context"`
	Conditions []ConditionExpression `json:"conditions"`
	Priority   int                   `json:"priority"`
	Deadline   time.Time             `json:"deadline,omitempty"`
}

// GenerationMetrics are per-request pipeline counters.
type GenerationMetrics struct {
	ConditionsEvaluated int       `json:"conditions_evaluated"`
	ConditionsPassed    int       `json:"conditions_passed"`
	ConditionsFailed    int       `json:"conditions_failed"`
	CacheHits           int       `json:"cache_hits"`
	SignalsDrafted      int       `json:"signals_drafted"`
	SignalsRejected     int       `json:"signals_rejected"`
	SignalsEmitted      int       `json:"signals_emitted"`
	ConfidenceScores    []float64 `json:"confidence_scores"`
	MeanConfidence      float64   `json:"mean_confidence"`
}

// RecomputeMean refreshes MeanConfidence from ConfidenceScores.
func (m *GenerationMetrics) RecomputeMean() {
	if len(m.ConfidenceScores) == 0 {
		m.MeanConfidence = 0
		return
	}
	sum := 0.0
	for _, c := range m.ConfidenceScores {
		sum += c
	}
	m.MeanConfidence = sum / float64(len(m.ConfidenceScores))
}

// SignalGenerationResult is the outcome of processing one request.
type SignalGenerationResult struct {
	RequestID      string            `json:"request_id"`
	StrategyID     string            `json:"strategy_id"`
	Success        bool              `json:"success"`
	Signals        []StrategySignal  `json:"signals"`
	Rejected       []StrategySignal  `json:"rejected,omitempty"`
	Metrics        GenerationMetrics `json:"metrics"`
	Errors         []GenerationError `json:"errors,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
	ProcessingTime time.Duration     `json:"processing_time"`
}

// FirstError returns the first structured error, or nil.
func (r *SignalGenerationResult) FirstError() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &r.Errors[0]
}

// Retryable reports whether a failed result may be retried by the scheduler.
func (r *SignalGenerationResult) Retryable() bool {
	if r.Success {
		return false
	}
	for _, e := range r.Errors {
		if e.Kind == ErrorValidation {
			return false
		}
	}
	return true
}
