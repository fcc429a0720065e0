package infra

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides lightweight, lock-free observability counters.
// Uses atomic operations for thread-safety; Prometheus reads them on scrape.
type Metrics struct {
	// Counters
	framesDecoded   atomic.Uint64
	decodeErrors    atomic.Uint64
	eventsDropped   atomic.Uint64
	recordsAppended atomic.Uint64
	rollovers       atomic.Uint64
	reconnects      atomic.Uint64
	sinkErrors      atomic.Uint64
	alertsRaised    atomic.Uint64
	depthPollErrors atomic.Uint64
	eventsProcessed atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections  atomic.Int32
	trackedInstruments atomic.Int64
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordEvent records an event processing with latency.
func (m *Metrics) RecordEvent(latencyNs int64) {
	m.eventsProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

func (m *Metrics) RecordFramesDecoded(n int) { m.framesDecoded.Add(uint64(n)) }
func (m *Metrics) RecordDecodeErrors(n int)  { m.decodeErrors.Add(uint64(n)) }
func (m *Metrics) RecordDroppedEvent()       { m.eventsDropped.Add(1) }
func (m *Metrics) RecordAppended()           { m.recordsAppended.Add(1) }
func (m *Metrics) RecordRollover()           { m.rollovers.Add(1) }
func (m *Metrics) RecordReconnect()          { m.reconnects.Add(1) }
func (m *Metrics) RecordSinkError()          { m.sinkErrors.Add(1) }
func (m *Metrics) RecordAlert()              { m.alertsRaised.Add(1) }
func (m *Metrics) RecordDepthPollError()     { m.depthPollErrors.Add(1) }

// SetTrackedInstruments sets the number of instruments with live state.
func (m *Metrics) SetTrackedInstruments(n int) {
	m.trackedInstruments.Store(int64(n))
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	FramesDecoded      uint64    `json:"frames_decoded"`
	DecodeErrors       uint64    `json:"decode_errors"`
	EventsDropped      uint64    `json:"events_dropped"`
	EventsProcessed    uint64    `json:"events_processed"`
	RecordsAppended    uint64    `json:"records_appended"`
	Rollovers          uint64    `json:"rollovers"`
	Reconnects         uint64    `json:"reconnects"`
	SinkErrors         uint64    `json:"sink_errors"`
	AlertsRaised       uint64    `json:"alerts_raised"`
	DepthPollErrors    uint64    `json:"depth_poll_errors"`
	AvgLatencyNs       int64     `json:"avg_latency_ns"`
	ActiveConnections  int32     `json:"active_connections"`
	TrackedInstruments int64     `json:"tracked_instruments"`
	Timestamp          time.Time `json:"timestamp"`
}

func (m *Metrics) avgLatencyNs() int64 {
	count := m.latencyCount.Load()
	if count == 0 {
		return 0
	}
	return m.latencySumNs.Load() / int64(count)
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		FramesDecoded:      m.framesDecoded.Load(),
		DecodeErrors:       m.decodeErrors.Load(),
		EventsDropped:      m.eventsDropped.Load(),
		EventsProcessed:    m.eventsProcessed.Load(),
		RecordsAppended:    m.recordsAppended.Load(),
		Rollovers:          m.rollovers.Load(),
		Reconnects:         m.reconnects.Load(),
		SinkErrors:         m.sinkErrors.Load(),
		AlertsRaised:       m.alertsRaised.Load(),
		DepthPollErrors:    m.depthPollErrors.Load(),
		AvgLatencyNs:       m.avgLatencyNs(),
		ActiveConnections:  m.activeConnections.Load(),
		TrackedInstruments: m.trackedInstruments.Load(),
		Timestamp:          time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.framesDecoded.Store(0)
	m.decodeErrors.Store(0)
	m.eventsDropped.Store(0)
	m.eventsProcessed.Store(0)
	m.recordsAppended.Store(0)
	m.rollovers.Store(0)
	m.reconnects.Store(0)
	m.sinkErrors.Store(0)
	m.alertsRaised.Store(0)
	m.depthPollErrors.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.trackedInstruments.Store(0)
}

// Collectors exposes the counters as Prometheus collectors that read the
// atomics at scrape time.
func (m *Metrics) Collectors(namespace string) []prometheus.Collector {
	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}
	gauge := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, fn)
	}

	return []prometheus.Collector{
		counter("feed_frames_decoded_total", "Feed frames decoded.", &m.framesDecoded),
		counter("feed_decode_errors_total", "Malformed or unknown feed frames skipped.", &m.decodeErrors),
		counter("feed_events_dropped_total", "Events dropped by the full dispatch queue.", &m.eventsDropped),
		counter("feed_reconnects_total", "Feed reconnect attempts.", &m.reconnects),
		counter("engine_events_processed_total", "Events processed by the engine.", &m.eventsProcessed),
		counter("engine_records_appended_total", "Flow records appended to history.", &m.recordsAppended),
		counter("engine_rollovers_total", "Cumulative counter rollovers detected.", &m.rollovers),
		counter("engine_alerts_total", "Directional flow alerts raised.", &m.alertsRaised),
		counter("sink_errors_total", "Persistence sink append failures.", &m.sinkErrors),
		counter("depth_poll_errors_total", "Failed market depth polls.", &m.depthPollErrors),
		gauge("feed_active_connections", "Open feed connections.", func() float64 {
			return float64(m.activeConnections.Load())
		}),
		gauge("engine_tracked_instruments", "Instruments with live state.", func() float64 {
			return float64(m.trackedInstruments.Load())
		}),
		gauge("engine_avg_latency_seconds", "Average event processing latency.", func() float64 {
			return float64(m.avgLatencyNs()) / float64(time.Second)
		}),
	}
}

// RegisterPrometheus registers the collectors with reg.
func (m *Metrics) RegisterPrometheus(reg prometheus.Registerer, namespace string) error {
	for _, c := range m.Collectors(namespace) {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
