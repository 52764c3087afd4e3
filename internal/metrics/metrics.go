package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "diginetra"

// Metrics holds pipeline counters. Counters are plain atomics so the hot
// path never touches the registry; the registry reads them on scrape.
type Metrics struct {
	// Ingest
	FramesCaptured  atomic.Uint64
	FramesPublished atomic.Uint64
	FramesSkipped   atomic.Uint64
	FramesDropped   atomic.Uint64
	Reconnects      atomic.Uint64

	// Detection
	FramesDetected  atomic.Uint64
	Batches         atomic.Uint64
	InferenceErrors atomic.Uint64

	// Alerts
	AlertsRaised     atomic.Uint64
	AlertsSuppressed atomic.Uint64
	AlertsSent       atomic.Uint64
	AlertsFailed     atomic.Uint64

	detections     *prometheus.CounterVec
	batchDurations prometheus.Histogram

	activeCameras atomic.Pointer[func() int]
	queueDepth    atomic.Pointer[func() int]
	clients       atomic.Pointer[func() int]

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Detections accepted per category",
		}, []string{"category"}),
		batchDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Detector call latency per batch",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	counters := []struct {
		name, help string
		v          *atomic.Uint64
	}{
		{"frames_captured_total", "Frames read from cameras", &m.FramesCaptured},
		{"frames_published_total", "Frames published to the frame bus", &m.FramesPublished},
		{"frames_skipped_total", "Frames skipped by frame_skip", &m.FramesSkipped},
		{"frames_dropped_total", "Frames dropped by the frame bus", &m.FramesDropped},
		{"camera_reconnects_total", "Camera reconnect attempts", &m.Reconnects},
		{"frames_detected_total", "Frames run through the detector", &m.FramesDetected},
		{"batches_total", "Detector batches processed", &m.Batches},
		{"inference_errors_total", "Failed detector calls", &m.InferenceErrors},
		{"alerts_raised_total", "Alerts passed by the cooldown gate", &m.AlertsRaised},
		{"alerts_suppressed_total", "Detections suppressed by the cooldown gate", &m.AlertsSuppressed},
		{"alerts_sent_total", "Alerts accepted by the sink", &m.AlertsSent},
		{"alerts_failed_total", "Alerts that could not be delivered", &m.AlertsFailed},
	}
	for _, c := range counters {
		v := c.v
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Namespace: namespace, Name: c.name, Help: c.help},
			func() float64 { return float64(v.Load()) },
		))
	}

	gauges := []struct {
		name, help string
		src        *atomic.Pointer[func() int]
	}{
		{"active_cameras", "Cameras with a running ingester", &m.activeCameras},
		{"queue_depth", "Frames waiting in the frame bus", &m.queueDepth},
		{"websocket_clients", "Connected status clients", &m.clients},
	}
	for _, g := range gauges {
		src := g.src
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: namespace, Name: g.name, Help: g.help},
			func() float64 {
				if f := src.Load(); f != nil {
					return float64((*f)())
				}
				return 0
			},
		))
	}

	m.registry.MustRegister(m.detections, m.batchDurations)
}

// SetSources wires the gauges read on scrape. Nil functions are ignored.
func (m *Metrics) SetSources(activeCameras, queueDepth, clients func() int) {
	if activeCameras != nil {
		m.activeCameras.Store(&activeCameras)
	}
	if queueDepth != nil {
		m.queueDepth.Store(&queueDepth)
	}
	if clients != nil {
		m.clients.Store(&clients)
	}
}

// BatchProcessed records a successful detector call.
func (m *Metrics) BatchProcessed(frames int, d time.Duration) {
	m.Batches.Add(1)
	m.FramesDetected.Add(uint64(frames))
	m.batchDurations.Observe(d.Seconds())
}

// InferenceFailed records a failed detector call.
func (m *Metrics) InferenceFailed() {
	m.InferenceErrors.Add(1)
}

// DetectionMapped records one accepted detection.
func (m *Metrics) DetectionMapped(category string) {
	m.detections.WithLabelValues(category).Inc()
}

// FrameRead records a frame read from a camera.
func (m *Metrics) FrameRead() {
	m.FramesCaptured.Add(1)
}

// FrameSkipped records a frame dropped by frame_skip.
func (m *Metrics) FrameSkipped() {
	m.FramesSkipped.Add(1)
}

// FramePublished records a publish and the frames it evicted.
func (m *Metrics) FramePublished(dropped int) {
	m.FramesPublished.Add(1)
	if dropped > 0 {
		m.FramesDropped.Add(uint64(dropped))
	}
}

// Reconnecting records a reconnect attempt.
func (m *Metrics) Reconnecting() {
	m.Reconnects.Add(1)
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
