package usecase

import (
	"fmt"
	"runtime"
	"slices"
	"time"

	"SignalEngine/internal/domain/models"
	"SignalEngine/pkg/logger"
	"SignalEngine/pkg/queue"
)

const (
	healthWindow     = 5 * time.Minute
	backlogRatio     = 0.8
	penaltyBacklog   = 25
	penaltyHeap      = 20
	penaltyErrorRate = 25
	penaltyLatency   = 20
)

type record struct {
	at      time.Time
	latency time.Duration
	ok      bool
	signals int
}

func (p *RealtimeProcessor) record(r record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.records) < cap(p.records) {
		p.records = append(p.records, r)
		return
	}
	p.records[p.next] = r
	p.next = (p.next + 1) % len(p.records)
}

// ProcessingStats aggregates requests completed within period. A zero
// period covers every retained record.
func (p *RealtimeProcessor) ProcessingStats(period time.Duration) models.ProcessingStats {
	now := p.now()
	high, regular := p.queue.Lens()

	p.mu.Lock()
	stats := models.ProcessingStats{
		Period:        period,
		QueuedHigh:    high,
		QueuedRegular: regular,
		ActiveBatches: p.active,
		Emergency:     p.emergency,
	}
	var latencies []time.Duration
	for _, r := range p.records {
		if period > 0 && r.at.Before(now.Add(-period)) {
			continue
		}
		stats.RequestsProcessed++
		if r.ok {
			stats.RequestsSucceeded++
		} else {
			stats.RequestsFailed++
		}
		stats.SignalsGenerated += r.signals
		latencies = append(latencies, r.latency)
	}
	p.mu.Unlock()

	if n := len(latencies); n > 0 {
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		stats.AvgLatency = sum / time.Duration(n)
		slices.Sort(latencies)
		stats.P95Latency = latencies[min(n-1, int(float64(n)*0.95))]
		stats.ErrorRate = float64(stats.RequestsFailed) / float64(n)
	}
	if period > 0 {
		stats.ThroughputPerMin = float64(stats.RequestsProcessed) / period.Minutes()
	}
	stats.TotalQueued = p.queued.Load()
	stats.TotalDropped = p.dropped.Load()
	stats.TotalRetried = p.retried.Load()
	stats.TotalFailed = p.failed.Load()
	if p.cache != nil {
		stats.CacheHitRate = p.cache.HitRate()
	}
	return stats
}

// HealthStatus returns the result of the latest health check.
func (p *RealtimeProcessor) HealthStatus() models.HealthStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.health
	h.Issues = append([]string(nil), p.health.Issues...)
	return h
}

// checkHealth scores the processor and enters or leaves emergency mode.
func (p *RealtimeProcessor) checkHealth() models.HealthStatus {
	score := 100
	var issues []string

	if depth, limit := p.queue.Len(), float64(p.queue.Capacity())*backlogRatio; float64(depth) > limit {
		score -= penaltyBacklog
		issues = append(issues, fmt.Sprintf("queue backlog %d above %.0f", depth, limit))
	}
	if heapMB := p.heap() / (1 << 20); p.cfg.MaxHeapMB > 0 && heapMB > uint64(p.cfg.MaxHeapMB) {
		score -= penaltyHeap
		issues = append(issues, fmt.Sprintf("heap %dMB above %dMB", heapMB, p.cfg.MaxHeapMB))
	}
	stats := p.ProcessingStats(healthWindow)
	if stats.RequestsProcessed > 0 && stats.ErrorRate > p.cfg.ErrorRateThreshold {
		score -= penaltyErrorRate
		issues = append(issues, fmt.Sprintf("error rate %.2f above %.2f", stats.ErrorRate, p.cfg.ErrorRateThreshold))
	}
	if p.cfg.LatencyTarget > 0 && stats.P95Latency > p.cfg.LatencyTarget {
		score -= penaltyLatency
		issues = append(issues, fmt.Sprintf("p95 latency %s above %s", stats.P95Latency, p.cfg.LatencyTarget))
	}
	score = max(0, score)
	degraded := score < p.cfg.HealthFloor

	p.mu.Lock()
	switch {
	case degraded && !p.emergency:
		p.emergency = true
		p.concurrency = max(1, p.cfg.MaxConcurrent/2)
		p.batchSize = max(1, p.cfg.BatchSize/2)
		p.log.Warn("entering emergency mode",
			logger.Int("score", score),
			logger.Strings("issues", issues),
			logger.Int("max_concurrent", p.concurrency),
			logger.Int("batch_size", p.batchSize),
		)
	case !degraded && p.emergency:
		p.emergency = false
		p.concurrency = max(1, p.cfg.MaxConcurrent)
		p.batchSize = max(1, p.cfg.BatchSize)
		p.log.Info("leaving emergency mode", logger.Int("score", score))
	}
	p.health = models.HealthStatus{
		Healthy:   !degraded,
		Score:     score,
		Issues:    issues,
		Emergency: p.emergency,
		CheckedAt: p.now(),
	}
	h := p.health
	p.mu.Unlock()

	p.publish(models.EventHealthCheck, h)
	if p.metrics != nil {
		p.metrics.SetHealthScore(score)
	}
	return h
}

func (p *RealtimeProcessor) publishMetrics() models.ProcessingStats {
	stats := p.ProcessingStats(p.cfg.MetricsInterval)
	p.publish(models.EventMetricsUpdated, stats)
	if p.metrics != nil {
		p.metrics.SetQueueDepth(string(queue.TierHigh), stats.QueuedHigh)
		p.metrics.SetQueueDepth(string(queue.TierRegular), stats.QueuedRegular)
		p.metrics.SetActiveBatches(stats.ActiveBatches)
		p.metrics.SetCacheHitRate(stats.CacheHitRate)
	}
	return stats
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
