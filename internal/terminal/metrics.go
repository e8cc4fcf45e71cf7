package terminal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes terminal host counters. A nil *Metrics records nothing.
type Metrics struct {
	Services        prometheus.Gauge
	Sessions        prometheus.Gauge
	Zombies         prometheus.Gauge
	DroppedChunks   prometheus.Counter
	SpawnFailures   prometheus.Counter
	Evictions       *prometheus.CounterVec
	CompressedBytes *prometheus.CounterVec
}

// NewMetrics registers the terminal metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Services: f.NewGauge(prometheus.GaugeOpts{
			Name: "termhost_services",
			Help: "Registered terminal services",
		}),
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "termhost_sessions",
			Help: "Terminal sessions with a running shell",
		}),
		Zombies: f.NewGauge(prometheus.GaugeOpts{
			Name: "termhost_reaper_pending",
			Help: "Detached child processes waiting to be reaped",
		}),
		DroppedChunks: f.NewCounter(prometheus.CounterOpts{
			Name: "termhost_output_dropped_chunks_total",
			Help: "Output chunks dropped because the output channel was full",
		}),
		SpawnFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "termhost_spawn_failures_total",
			Help: "Shells that could not be started",
		}),
		Evictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "termhost_service_evictions_total",
			Help: "Services removed by the idle sweep",
		}, []string{"kind"}),
		CompressedBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "termhost_output_bytes_total",
			Help: "Output bytes sent to controllers, before and after compression",
		}, []string{"stage"}),
	}
}

func (m *Metrics) sessionStarted() {
	if m != nil {
		m.Sessions.Inc()
	}
}

func (m *Metrics) sessionEnded() {
	if m != nil {
		m.Sessions.Dec()
	}
}

func (m *Metrics) setServices(n int) {
	if m != nil {
		m.Services.Set(float64(n))
	}
}

func (m *Metrics) setZombies(n int) {
	if m != nil {
		m.Zombies.Set(float64(n))
	}
}

func (m *Metrics) chunkDropped() {
	if m != nil {
		m.DroppedChunks.Inc()
	}
}

func (m *Metrics) spawnFailed() {
	if m != nil {
		m.SpawnFailures.Inc()
	}
}

func (m *Metrics) evicted(kind string) {
	if m != nil {
		m.Evictions.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) outputBytes(raw, sent int) {
	if m != nil {
		m.CompressedBytes.WithLabelValues("raw").Add(float64(raw))
		m.CompressedBytes.WithLabelValues("sent").Add(float64(sent))
	}
}
