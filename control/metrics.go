// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Event loop metrics. Every measurement goes to OpenTelemetry instruments;
// a per-interval window is also kept so the loop can log a compact summary
// and publish a snapshot readable from other goroutines.

package control

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const meterName = "github.com/momentics/hioload-app"

// MetricsRegistry holds the latest published loop snapshot.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{metrics: make(map[string]any)}
}

// Set sets or updates a metric key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// GetSnapshot returns a copy of the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}

// Updated returns the time of the last Set.
func (mr *MetricsRegistry) Updated() time.Time {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}

// LoopMetrics is owned by the event loop goroutine.
type LoopMetrics struct {
	logger   *zap.Logger
	registry *MetricsRegistry
	interval time.Duration
	ctx      context.Context

	pollDuration metric.Float64Histogram
	events       metric.Int64Counter
	connections  metric.Int64UpDownCounter
	requests     metric.Int64Counter
	wsMessages   metric.Int64Counter

	windowStart  time.Time
	polls        int
	pollTotal    time.Duration
	pollMax      time.Duration
	windowEvents int
	windowReqs   int
	active       int
	highWater    int
}

// NewLoopMetrics registers the loop instruments on mp. A nil provider
// records nothing through OpenTelemetry but still keeps the window.
func NewLoopMetrics(mp metric.MeterProvider, logger *zap.Logger, interval time.Duration) (*LoopMetrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	meter := mp.Meter(meterName)
	m := &LoopMetrics{
		logger:      logger,
		registry:    NewMetricsRegistry(),
		interval:    interval,
		ctx:         context.Background(),
		windowStart: time.Now(),
	}
	var err error
	if m.pollDuration, err = meter.Float64Histogram("hioload.loop.poll.duration",
		metric.WithUnit("s"), metric.WithDescription("Time spent blocked in the readiness poller")); err != nil {
		return nil, err
	}
	if m.events, err = meter.Int64Counter("hioload.loop.events",
		metric.WithDescription("Readiness events processed")); err != nil {
		return nil, err
	}
	if m.connections, err = meter.Int64UpDownCounter("hioload.connections.active",
		metric.WithDescription("Open client connections")); err != nil {
		return nil, err
	}
	if m.requests, err = meter.Int64Counter("hioload.http.requests",
		metric.WithDescription("HTTP responses by status class")); err != nil {
		return nil, err
	}
	if m.wsMessages, err = meter.Int64Counter("hioload.ws.messages",
		metric.WithDescription("WebSocket messages received")); err != nil {
		return nil, err
	}
	return m, nil
}

// Registry returns the snapshot registry.
func (m *LoopMetrics) Registry() *MetricsRegistry { return m.registry }

// RecordPoll records one poll call and the number of events it returned.
func (m *LoopMetrics) RecordPoll(d time.Duration, events int) {
	m.pollDuration.Record(m.ctx, d.Seconds())
	if events > 0 {
		m.events.Add(m.ctx, int64(events))
	}
	m.polls++
	m.pollTotal += d
	if d > m.pollMax {
		m.pollMax = d
	}
	m.windowEvents += events
}

// ConnOpened counts an accepted connection.
func (m *LoopMetrics) ConnOpened() {
	m.connections.Add(m.ctx, 1)
	m.active++
	if m.active > m.highWater {
		m.highWater = m.active
	}
}

// ConnClosed counts a closed connection.
func (m *LoopMetrics) ConnClosed() {
	m.connections.Add(m.ctx, -1)
	if m.active > 0 {
		m.active--
	}
}

// RecordRequest counts a response by status class ("2xx", "4xx", ...).
func (m *LoopMetrics) RecordRequest(status int) {
	m.requests.Add(m.ctx, 1, metric.WithAttributes(attribute.String("status_class", statusClass(status))))
	m.windowReqs++
}

// RecordWsMessage counts an inbound WebSocket message.
func (m *LoopMetrics) RecordWsMessage() {
	m.wsMessages.Add(m.ctx, 1)
}

// MaybeEmit publishes and logs the window once per interval and starts a
// new one. It reports whether a summary was emitted.
func (m *LoopMetrics) MaybeEmit(now time.Time) bool {
	elapsed := now.Sub(m.windowStart)
	if elapsed < m.interval {
		return false
	}
	var avg time.Duration
	if m.polls > 0 {
		avg = m.pollTotal / time.Duration(m.polls)
	}
	m.registry.Set("polls", m.polls)
	m.registry.Set("poll_avg", avg)
	m.registry.Set("poll_max", m.pollMax)
	m.registry.Set("events", m.windowEvents)
	m.registry.Set("requests", m.windowReqs)
	m.registry.Set("connections", m.active)
	m.registry.Set("connections_high_water", m.highWater)

	m.logger.Debug("event loop metrics",
		zap.Duration("window", elapsed),
		zap.Int("polls", m.polls),
		zap.Duration("poll_avg", avg),
		zap.Duration("poll_max", m.pollMax),
		zap.Int("events", m.windowEvents),
		zap.Int("requests", m.windowReqs),
		zap.Int("connections", m.active),
		zap.Int("connections_high_water", m.highWater),
	)

	m.windowStart = now
	m.polls, m.pollTotal, m.pollMax = 0, 0, 0
	m.windowEvents, m.windowReqs = 0, 0
	m.highWater = m.active
	return true
}

func statusClass(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
