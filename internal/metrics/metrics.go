package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus instruments for the streaming service. It
// owns its registry so tests can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	buildsStarted   *prometheus.CounterVec
	buildsCompleted *prometheus.CounterVec
	playlistsServed *prometheus.CounterVec
	segmentsServed  *prometheus.CounterVec
	liveSessions    prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	buildsStarted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_builds_started_total",
		Help: "Transcode builds started, by provider",
	}, []string{"provider"})
	buildsCompleted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_builds_completed_total",
		Help: "Transcode builds settled, by provider and result",
	}, []string{"provider", "result"})
	playlistsServed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_playlists_served_total",
		Help: "Playlists served, by provider",
	}, []string{"provider"})
	segmentsServed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_segments_served_total",
		Help: "Segments served, by provider",
	}, []string{"provider"})
	liveSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stream_live_sessions",
		Help: "Live transcode sessions currently running",
	})

	registry.MustRegister(
		buildsStarted,
		buildsCompleted,
		playlistsServed,
		segmentsServed,
		liveSessions,
	)

	return &Metrics{
		registry:        registry,
		buildsStarted:   buildsStarted,
		buildsCompleted: buildsCompleted,
		playlistsServed: playlistsServed,
		segmentsServed:  segmentsServed,
		liveSessions:    liveSessions,
	}
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) BuildStarted(provider string) {
	m.buildsStarted.WithLabelValues(provider).Inc()
}

func (m *Metrics) BuildCompleted(provider string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.buildsCompleted.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) PlaylistServed(provider string) {
	m.playlistsServed.WithLabelValues(provider).Inc()
}

func (m *Metrics) SegmentServed(provider string) {
	m.segmentsServed.WithLabelValues(provider).Inc()
}

func (m *Metrics) SessionStarted() {
	m.liveSessions.Inc()
}

func (m *Metrics) SessionStopped() {
	m.liveSessions.Dec()
}
