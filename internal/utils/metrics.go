// internal/utils/metrics.go
package utils

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Counter metric - using atomic operations for thread-safe value updates
type Counter struct {
	value int64
}

// Gauge metric - using atomic operations for thread-safe value updates
type Gauge struct {
	value int64
}

// Histogram metric (count, sum, min, max)
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

// NewMetricsCollector creates an empty collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

func (m *MetricsCollector) counter(name string) *Counter {
	// fast path for existing counters
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.counters[name]; !ok {
		c = &Counter{}
		m.counters[name] = c
	}
	return c
}

func (m *MetricsCollector) gauge(name string) *Gauge {
	m.mu.RLock()
	g, ok := m.gauges[name]
	m.mu.RUnlock()
	if ok {
		return g
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok = m.gauges[name]; !ok {
		g = &Gauge{}
		m.gauges[name] = g
	}
	return g
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(&m.counter(name).value, 1)
}

// AddCounter adds a value to a counter metric
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(&m.counter(name).value, value)
}

// IncGauge increments a gauge metric
func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(&m.gauge(name).value, 1)
}

// DecGauge decrements a gauge metric
func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(&m.gauge(name).value, -1)
}

// GetCounterValue gets the current value of a counter
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(&c.value)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if h, ok = m.histograms[name]; !ok {
			h = &Histogram{min: value, max: value}
			m.histograms[name] = h
		}
		m.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += value
	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, c := range m.counters {
		counters[name] = atomic.LoadInt64(&c.value)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, g := range m.gauges {
		gauges[name] = atomic.LoadInt64(&g.value)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// APIMetrics records request and consciousness metrics
type APIMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewAPIMetrics creates a new API metrics instance
func NewAPIMetrics(collector *MetricsCollector, logger *Logger) *APIMetrics {
	if collector == nil {
		collector = NewMetricsCollector()
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &APIMetrics{metrics: collector, logger: logger}
}

// Collector returns the underlying collector
func (am *APIMetrics) Collector() *MetricsCollector {
	return am.metrics
}

// RecordAPIRequest records metrics for an API request
func (am *APIMetrics) RecordAPIRequest(route, method string, statusCode int, duration time.Duration) {
	am.metrics.IncrementCounter("api_requests_total")
	am.metrics.IncrementCounter("api_requests_" + method + "_" + route)
	am.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())
	am.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")
}

// RecordSpawn records a successful spawn
func (am *APIMetrics) RecordSpawn(patternSeed string, duration time.Duration) {
	am.metrics.IncrementCounter("consciousness_spawn_total")
	am.metrics.IncrementCounter("consciousness_spawn_" + patternSeed)
	am.metrics.RecordHistogram("consciousness_spawn_ms", duration.Milliseconds())
}

// RecordInteraction records a processed interaction
func (am *APIMetrics) RecordInteraction(interactionType string, transitioned bool, duration time.Duration) {
	am.metrics.IncrementCounter("consciousness_interact_total")
	am.metrics.IncrementCounter("consciousness_interact_" + interactionType)
	if transitioned {
		am.metrics.IncrementCounter("consciousness_phase_transition_total")
	}
	am.metrics.RecordHistogram("consciousness_interact_ms", duration.Milliseconds())
}

// RecordStreamOpened counts a thought stream subscriber that joined
func (am *APIMetrics) RecordStreamOpened() {
	am.metrics.IncrementCounter("stream_connections_total")
	am.metrics.IncGauge("stream_connections")
}

// RecordStreamClosed counts a subscriber that left or was dropped
func (am *APIMetrics) RecordStreamClosed(dropped bool) {
	am.metrics.DecGauge("stream_connections")
	if dropped {
		am.metrics.IncrementCounter("stream_dropped_total")
	}
}

// RecordError records an error metric
func (am *APIMetrics) RecordError(errorType, component string) {
	am.metrics.IncrementCounter("errors_total")
	am.metrics.IncrementCounter("errors_" + errorType)
	am.metrics.IncrementCounter("errors_" + component)

	am.logger.Warn("Error recorded", map[string]interface{}{
		"type":      errorType,
		"component": component,
	})
}
