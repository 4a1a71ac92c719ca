package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Output: "stdout"})
	require.Error(t, err)
}

func TestFieldsAreWrittenAsJSON(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{zl: zerolog.New(&buf)}

	l.Info("signal stored",
		String("strategy", "s1"),
		Int("count", 2),
		Float64("confidence", 71.5),
		Duration("elapsed", 1500*time.Millisecond),
		Bool("valid", true),
		Error(errors.New("boom")),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "signal stored", entry["message"])
	assert.Equal(t, "s1", entry["strategy"])
	assert.EqualValues(t, 2, entry["count"])
	assert.EqualValues(t, 71.5, entry["confidence"])
	assert.EqualValues(t, 1500, entry["elapsed"])
	assert.Equal(t, true, entry["valid"])
	assert.Equal(t, "boom", entry["error"])
}

func TestWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := (&Logger{zl: zerolog.New(&buf)}).With(String("component", "processor"))
	l.Warn("queue full")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "processor", entry["component"])
	assert.Equal(t, "warn", entry["level"])
}

func TestNopDiscards(t *testing.T) {
	assert.NotPanics(t, func() { Nop().Error("ignored", String("k", "v")) })
}

func TestNewWriterFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWriter(&buf, "warn")
	require.NoError(t, err)

	l.Info("quiet")
	assert.Empty(t, buf.String())
	l.Warn("loud")
	assert.Contains(t, buf.String(), "loud")
}
