package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
environment: test
engine:
  generator:
    min_confidence: 55
  processor:
    backpressure_threshold: 100
    filtering_enabled: false
strategies:
  - id: momentum
    symbols: [BTC-USD]
    enabled: false
    conditions:
      - id: rsi-oversold
        expression: "rsi < 30"
        direction: BUY
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "test", c.Environment)
	assert.Equal(t, 55.0, c.Engine.Generator.MinConfidence)
	assert.Equal(t, 10, c.Engine.Generator.MaxSignalsPerInterval)
	assert.Equal(t, "highest_confidence", c.Engine.Generator.ConflictResolution)
	assert.Equal(t, 100, c.Engine.Processor.BackpressureThreshold)
	assert.False(t, c.Engine.Processor.FilteringEnabled)
	assert.Equal(t, 100*time.Millisecond, c.Engine.Processor.DrainInterval)
	assert.Equal(t, "sigmoid", c.Engine.Scoring.Normalization)
	assert.InDelta(t, 1.0, c.Engine.Scoring.Weights.Sum(), 1e-9)

	require.Len(t, c.Strategies, 1)
	s := c.Strategies[0]
	assert.False(t, s.Enabled, "explicit false must survive defaults")
	assert.Equal(t, "1h", s.Timeframe)
	assert.Equal(t, 5, s.Priority)
	assert.Equal(t, 1.0, s.Conditions[0].Weight)
}

func TestParseRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"resolver":  "engine:\n  generator:\n    conflict_resolution: random\n",
		"normalize": "engine:\n  scoring:\n    normalization: zscore\n",
		"http eval": "evaluator:\n  type: http\n",
		"kafka":     "kafka:\n  enabled: true\n",
		"dup":       "strategies:\n  - {id: a, symbols: [X], conditions: [{id: c, expression: e}]}\n  - {id: a, symbols: [Y], conditions: [{id: c, expression: e}]}\n",
	}
	for name, doc := range cases {
		doc := doc
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("EVALUATOR_URL", "http://eval:8000")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "http", c.Evaluator.Type)
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestShippedConfigLoads(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Len(t, c.Strategies, 2)
	assert.Equal(t, "highest_confidence", c.Engine.Generator.ConflictResolution)
	assert.Equal(t, 100*time.Millisecond, c.Engine.Processor.DrainInterval)
	assert.False(t, c.Kafka.Enabled)
	assert.Equal(t, 5, c.Strategies[1].Priority)
}
