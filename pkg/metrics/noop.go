package metrics

import "SignalEngine/internal/domain/models"

// Noop discards all measurements.
type Noop struct{}

func NewNoop() Noop { return Noop{} }

func (Noop) RecordMessageSent(string, string)       {}
func (Noop) RecordError(string)                     {}
func (Noop) RecordLastPrice(string, float64)        {}
func (Noop) RecordLatency(string, float64)          {}
func (Noop) RecordSignal(string, models.SignalType) {}
func (Noop) RecordRequest(string)                   {}
func (Noop) SetQueueDepth(string, int)              {}
func (Noop) SetActiveBatches(int)                   {}
func (Noop) SetCacheHitRate(float64)                {}
func (Noop) SetHealthScore(int)                     {}
