// Package metrics exposes Prometheus metrics for scan sessions and the HTTP
// surface.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/henno/go-topology/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records scan lifecycle and HTTP metrics on its own registry.
// It implements session.Observer.
type Collector struct {
	registry *prometheus.Registry

	scansStarted      prometheus.Counter
	scansFinished     *prometheus.CounterVec
	devicesDiscovered prometheus.Counter
	scanActive        prometheus.Gauge
	scanDuration      prometheus.Histogram

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	mu     sync.Mutex
	latest string
}

// New creates a Collector with Go runtime and process collectors attached.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		scansStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netmap_scans_started_total",
			Help: "Total number of scan sessions started.",
		}),
		scansFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netmap_scans_finished_total",
			Help: "Total number of scan sessions finished, by final status.",
		}, []string{"status"}),
		devicesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netmap_devices_discovered_total",
			Help: "Total number of devices accepted into scan sessions.",
		}),
		scanActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netmap_scan_active",
			Help: "1 while a scan session is scanning.",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "netmap_scan_duration_seconds",
			Help:    "Scan session duration in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.scansStarted,
		c.scansFinished,
		c.devicesDiscovered,
		c.scanActive,
		c.scanDuration,
		c.httpRequestsTotal,
		c.httpRequestDuration,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ScanStarted implements session.Observer.
func (c *Collector) ScanStarted(snap session.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = snap.ID
	c.scansStarted.Inc()
	c.scanActive.Set(1)
}

// DeviceDiscovered implements session.Observer.
func (c *Collector) DeviceDiscovered(string, session.Device) {
	c.devicesDiscovered.Inc()
}

// ScanFinished implements session.Observer. Only the most recently started
// scan clears the active gauge.
func (c *Collector) ScanFinished(snap session.Snapshot) {
	c.mu.Lock()
	if snap.ID == c.latest {
		c.scanActive.Set(0)
	}
	c.mu.Unlock()
	c.scansFinished.WithLabelValues(string(snap.Status)).Inc()
	if snap.FinishedAt != nil {
		c.scanDuration.Observe(snap.FinishedAt.Sub(snap.CreatedAt).Seconds())
	}
}

// Middleware records request counts and latencies, labelled by route
// pattern rather than raw path.
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		path := ctx.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := ctx.Request.Method
		c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
