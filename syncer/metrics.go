// Package syncer is the replication engine: trade detection on two
// channels, dedup, sizing and filtering, order submission and FIFO sell
// matching.
package syncer

import (
	"sync"
	"time"
)

// EngineMetrics tracks detection and pipeline counters.
type EngineMetrics struct {
	mu sync.Mutex

	WebsocketSignals int64
	PollerSignals    int64
	Duplicates       int64
	QueueDrops       int64

	Replicated int64
	Filtered   int64
	Failed     int64
	Skipped    int64

	detections        int64
	totalLatency      time.Duration
	fastestDetection  time.Duration
	slowestDetection  time.Duration
	lastDetectionTime time.Time
}

// MetricsSnapshot is an immutable copy for the health endpoint.
type MetricsSnapshot struct {
	WebsocketSignals int64     `json:"websocketSignals"`
	PollerSignals    int64     `json:"pollerSignals"`
	Duplicates       int64     `json:"duplicates"`
	QueueDrops       int64     `json:"queueDrops"`
	Replicated       int64     `json:"replicated"`
	Filtered         int64     `json:"filtered"`
	Failed           int64     `json:"failed"`
	Skipped          int64     `json:"skipped"`
	AvgLatencyMs     int64     `json:"avgDetectionLatencyMs"`
	FastestLatencyMs int64     `json:"fastestDetectionLatencyMs"`
	SlowestLatencyMs int64     `json:"slowestDetectionLatencyMs"`
	LastDetection    time.Time `json:"lastDetection"`
}

// RecordSignal counts one detected signal and its detection latency
// (observation time minus the trade's own timestamp).
func (m *EngineMetrics) RecordSignal(websocket bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if websocket {
		m.WebsocketSignals++
	} else {
		m.PollerSignals++
	}
	if latency > 0 {
		m.detections++
		m.totalLatency += latency
		if m.fastestDetection == 0 || latency < m.fastestDetection {
			m.fastestDetection = latency
		}
		if latency > m.slowestDetection {
			m.slowestDetection = latency
		}
	}
	m.lastDetectionTime = time.Now()
}

func (m *EngineMetrics) add(field *int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*field++
}

func (m *EngineMetrics) RecordDuplicate() { m.add(&m.Duplicates) }
func (m *EngineMetrics) RecordQueueDrop() { m.add(&m.QueueDrops) }
func (m *EngineMetrics) RecordReplicated() { m.add(&m.Replicated) }
func (m *EngineMetrics) RecordFiltered()  { m.add(&m.Filtered) }
func (m *EngineMetrics) RecordFailed()    { m.add(&m.Failed) }
func (m *EngineMetrics) RecordSkipped()   { m.add(&m.Skipped) }

// Snapshot copies the current counters.
func (m *EngineMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := MetricsSnapshot{
		WebsocketSignals: m.WebsocketSignals,
		PollerSignals:    m.PollerSignals,
		Duplicates:       m.Duplicates,
		QueueDrops:       m.QueueDrops,
		Replicated:       m.Replicated,
		Filtered:         m.Filtered,
		Failed:           m.Failed,
		Skipped:          m.Skipped,
		FastestLatencyMs: m.fastestDetection.Milliseconds(),
		SlowestLatencyMs: m.slowestDetection.Milliseconds(),
		LastDetection:    m.lastDetectionTime,
	}
	if m.detections > 0 {
		snap.AvgLatencyMs = (m.totalLatency / time.Duration(m.detections)).Milliseconds()
	}
	return snap
}
