// Package metrics exposes Prometheus metrics for a render run.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Provider struct {
	reg *prometheus.Registry
}

func NewProvider(version string) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	build := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gpx2video_build_info",
			Help: "Build info for this binary (value is always 1).",
		},
		[]string{"version"},
	)
	reg.MustRegister(build)
	if version == "" {
		version = "dev"
	}
	build.WithLabelValues(version).Set(1)

	return &Provider{reg: reg}
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }

// Metrics is nil-safe: every method is a no-op on a nil receiver.
type Metrics struct {
	tileFetches    prometheus.Counter
	tileFetchTime  prometheus.Histogram
	tileDiskHits   prometheus.Counter
	panelResults   *prometheus.CounterVec
	panelEvictions prometheus.Counter
	framesEncoded  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tileFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tile_fetches_total",
			Help: "Tiles downloaded from the remote tile server.",
		}),
		tileFetchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tile_fetch_duration_seconds",
			Help:    "Duration of remote tile downloads, excluding pacing waits.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		tileDiskHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tile_disk_hits_total",
			Help: "Tiles served from the local tile directory.",
		}),
		panelResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panel_cache_results_total",
			Help: "Panel cache lookups by outcome.",
		}, []string{"outcome"}),
		panelEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "panel_cache_evictions_total",
			Help: "Panels evicted from the cache.",
		}),
		framesEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frames_encoded_total",
			Help: "Frames written to the encoder.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.tileFetches, m.tileFetchTime, m.tileDiskHits,
			m.panelResults, m.panelEvictions, m.framesEncoded)
	}
	return m
}

func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.tileFetches.Inc()
	m.tileFetchTime.Observe(d.Seconds())
}

func (m *Metrics) IncDiskHit() {
	if m == nil {
		return
	}
	m.tileDiskHits.Inc()
}

func (m *Metrics) IncPanelHit() {
	if m == nil {
		return
	}
	m.panelResults.WithLabelValues("hit").Inc()
}

func (m *Metrics) IncPanelMiss() {
	if m == nil {
		return
	}
	m.panelResults.WithLabelValues("miss").Inc()
}

func (m *Metrics) IncEviction() {
	if m == nil {
		return
	}
	m.panelEvictions.Inc()
}

func (m *Metrics) IncFrame() {
	if m == nil {
		return
	}
	m.framesEncoded.Inc()
}
