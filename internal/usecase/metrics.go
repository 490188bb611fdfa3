package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/example/pulseai/internal/emotion"
)

// MetricsSummary represents aggregated analysis insights since process start.
type MetricsSummary struct {
	ClassifiedSessions       int64            `json:"classified_sessions"`
	DecodeFailures           int64            `json:"decode_failures"`
	ClassificationFailures   int64            `json:"classification_failures"`
	TopLabels                map[string]int64 `json:"top_labels"`
	Alerts                   map[string]int64 `json:"alerts"`
	ReportsDelivered         int64            `json:"reports_delivered"`
	ReportFailures           int64            `json:"report_failures"`
	AverageClassifyLatencyMs float64          `json:"average_classify_latency_ms"`
}

// Metrics accumulates counters shared by all sessions.
type Metrics struct {
	mu               sync.Mutex
	classified       int64
	decodeFailures   int64
	classifyFailures int64
	topLabels        map[emotion.Label]int64
	alerts           map[emotion.Label]int64
	reportsDelivered int64
	reportFailures   int64
	classifyTime     time.Duration
}

// NewMetrics returns zeroed counters.
func NewMetrics() *Metrics {
	return &Metrics{
		topLabels: make(map[emotion.Label]int64),
		alerts:    make(map[emotion.Label]int64),
	}
}

func (m *Metrics) recordClassified(top emotion.Label, alerts []emotion.Alert, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classified++
	m.topLabels[top]++
	for _, a := range alerts {
		m.alerts[a.Label]++
	}
	m.classifyTime += latency
}

func (m *Metrics) recordDecodeFailure() {
	m.mu.Lock()
	m.decodeFailures++
	m.mu.Unlock()
}

func (m *Metrics) recordClassifyFailure() {
	m.mu.Lock()
	m.classifyFailures++
	m.mu.Unlock()
}

func (m *Metrics) recordReport(delivered bool) {
	m.mu.Lock()
	if delivered {
		m.reportsDelivered++
	} else {
		m.reportFailures++
	}
	m.mu.Unlock()
}

func (m *Metrics) summary() *MetricsSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &MetricsSummary{
		ClassifiedSessions:     m.classified,
		DecodeFailures:         m.decodeFailures,
		ClassificationFailures: m.classifyFailures,
		TopLabels:              make(map[string]int64, emotion.LabelCount),
		Alerts:                 make(map[string]int64, emotion.LabelCount),
		ReportsDelivered:       m.reportsDelivered,
		ReportFailures:         m.reportFailures,
	}
	for _, l := range emotion.Labels() {
		s.TopLabels[string(l)] = m.topLabels[l]
		s.Alerts[string(l)] = m.alerts[l]
	}
	if m.classified > 0 {
		s.AverageClassifyLatencyMs = float64(m.classifyTime.Microseconds()) / 1000 / float64(m.classified)
	}
	return s
}

// GetMetricsSummary returns the counters accumulated by this process.
func (uc *SessionUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return uc.metrics.summary(), nil
}
