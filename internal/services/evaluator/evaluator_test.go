package evaluator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"SignalEngine/internal/domain/models"
	"SignalEngine/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleCtx() *models.EvaluationContext {
	return &models.EvaluationContext{
		Symbol:     "BTC-USD",
		Timeframe:  models.TF1h,
		Current:    models.Candle{Close: 105, Volume: 10},
		Indicators: map[string]float64{"rsi": 25, "sma_20": 100},
		Variables:  map[string]any{"limit": 30.0},
	}
}

func TestRuleEvaluator(t *testing.T) {
	e := NewRuleEvaluator()
	ctx := context.Background()

	cases := []struct {
		expr string
		want bool
	}{
		{"rsi < 30", true},
		{"rsi >= limit", false},
		{"price > sma_20", true},
		{"price > sma_20 and rsi < 20", false},
		{"volume == 10", true},
	}
	for _, tc := range cases {
		res, err := e.Evaluate(ctx, models.ConditionExpression{ID: "c", Expression: tc.expr, Direction: models.SignalBuy}, ruleCtx())
		require.NoError(t, err)
		assert.True(t, res.Success, tc.expr)
		assert.Equal(t, tc.want, res.Truthy(), tc.expr)
		assert.Equal(t, models.SignalBuy, res.Direction)
		if tc.want {
			assert.GreaterOrEqual(t, res.Confidence, 0.5, tc.expr)
			assert.LessOrEqual(t, res.Confidence, 1.0, tc.expr)
		}
	}
}

func TestRuleEvaluatorReportsFailuresInBatch(t *testing.T) {
	e := NewRuleEvaluator()
	out, err := e.EvaluateBatch(context.Background(), []models.ConditionExpression{
		{ID: "ok", Expression: "rsi < 30"},
		{ID: "unknown", Expression: "macd > 0"},
		{ID: "garbage", Expression: "rsi"},
	}, ruleCtx())
	require.NoError(t, err)
	require.Len(t, out, 3)
	okRes := out["ok"]
	assert.True(t, okRes.Truthy())
	assert.False(t, out["unknown"].Success)
	assert.Contains(t, out["unknown"].Error, "unknown operand")
	assert.False(t, out["garbage"].Success)
}

func TestHTTPEvaluatorBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/evaluate/batch", r.URL.Path)
		var req batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(batchResponse{Results: map[string]models.ConditionEvaluationResult{
			"a": {Success: true, Value: true, Confidence: 0.9, Direction: models.SignalSell},
		}})
	}))
	defer srv.Close()

	e := NewHTTPEvaluator(config.EvaluatorConfig{URL: srv.URL, Timeout: time.Second, Attempts: 1})
	out, err := e.EvaluateBatch(context.Background(), []models.ConditionExpression{{ID: "a"}, {ID: "b", Direction: models.SignalBuy}}, ruleCtx())
	require.NoError(t, err)
	aRes := out["a"]
	assert.True(t, aRes.Truthy())
	assert.Equal(t, "a", out["a"].ConditionID)
	assert.Equal(t, models.SignalSell, out["a"].Direction)
	assert.False(t, out["b"].Success)
	assert.Equal(t, models.SignalBuy, out["b"].Direction)
}

func TestNewSelectsByType(t *testing.T) {
	_, ok := New(config.EvaluatorConfig{Type: "local"}).(*RuleEvaluator)
	assert.True(t, ok)
	_, ok = New(config.EvaluatorConfig{Type: "http", URL: "http://x"}).(*HTTPEvaluator)
	assert.True(t, ok)
}
