package checkpoint

import (
	"sync"
	"time"

	"github.com/vietddude/chatrelay/internal/core/domain"
)

// advanceRecord holds timing data for an advanced checkpoint.
type advanceRecord struct {
	Offset     domain.Offset
	AdvancedAt time.Time
}

// Metrics holds per-route throughput data.
type Metrics struct {
	MessagesPerSecond float64
	AverageInterval   time.Duration
	LastOffset        domain.Offset
	LastAdvancedAt    *time.Time
}

// MetricsCollector tracks checkpoint advances over a sliding window.
type MetricsCollector struct {
	mu         sync.Mutex
	windowSize int             // number of advances to track
	records    []advanceRecord // ring buffer
}

// NewMetricsCollector creates a collector keeping the last windowSize advances.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize < 2 {
		windowSize = 2
	}
	return &MetricsCollector{
		windowSize: windowSize,
		records:    make([]advanceRecord, 0, windowSize),
	}
}

// RecordMessage records a checkpoint advance.
func (mc *MetricsCollector) RecordMessage(offset domain.Offset, at time.Time) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	record := advanceRecord{Offset: offset, AdvancedAt: at}
	if len(mc.records) >= mc.windowSize {
		// Shift elements left, drop oldest
		copy(mc.records, mc.records[1:])
		mc.records[len(mc.records)-1] = record
	} else {
		mc.records = append(mc.records, record)
	}
}

// GetMetrics returns current metrics.
func (mc *MetricsCollector) GetMetrics() Metrics {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	var m Metrics
	if len(mc.records) == 0 {
		return m
	}

	last := mc.records[len(mc.records)-1]
	at := last.AdvancedAt
	m.LastOffset = last.Offset
	m.LastAdvancedAt = &at

	if len(mc.records) >= 2 {
		first := mc.records[0]
		duration := last.AdvancedAt.Sub(first.AdvancedAt)
		if duration > 0 {
			count := float64(len(mc.records) - 1)
			m.MessagesPerSecond = count / duration.Seconds()
			m.AverageInterval = time.Duration(float64(duration) / count)
		}
	}

	return m
}

// Reset clears all collected metrics.
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.records = mc.records[:0]
}
