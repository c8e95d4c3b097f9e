// Package metrics holds the prometheus collectors of the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/monquartier/monquartier/core/collection"
)

const namespace = "monquartier"

type Metrics struct {
	gatherer prometheus.Gatherer

	// Labels: method, path (route pattern), code
	requests *prometheus.CounterVec
	// Labels: method, path
	latency *prometheus.HistogramVec
	// Labels: collection, type (INSERT, UPDATE, DELETE)
	events *prometheus.CounterVec
	// Labels: collection
	subscribers *prometheus.GaugeVec
	uploads     prometheus.Counter
	uploadBytes prometheus.Counter
}

// New registers the collectors on reg, a fresh registry when nil.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by route and status code",
		}, []string{"method", "path", "code"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "path"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Total row changes published to the subscribers",
		}, []string{"collection", "type"}),
		subscribers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "subscribers",
			Help:      "Open websocket subscriptions",
		}, []string{"collection"}),
		uploads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "uploads_total",
			Help:      "Total stored uploads",
		}),
		uploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "upload_bytes_total",
			Help:      "Total size of the stored uploads",
		}),
	}
}

func (m *Metrics) ObserveRequest(method, path string, code int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveUpload(size int) {
	m.uploads.Inc()
	m.uploadBytes.Add(float64(size))
}

// Subscribed tracks a websocket subscription to coll. The returned func ends it.
func (m *Metrics) Subscribed(coll string) (done func()) {
	g := m.subscribers.WithLabelValues(coll)
	g.Inc()
	return g.Dec
}

// Handler serves the collected metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

type publisher struct {
	next   collection.Publisher
	events *prometheus.CounterVec
}

func (p publisher) Publish(ev collection.ChangeEvent) {
	p.events.WithLabelValues(ev.Collection, string(ev.Type)).Inc()
	p.next.Publish(ev)
}

// Publisher counts the events published through next.
func (m *Metrics) Publisher(next collection.Publisher) collection.Publisher {
	return publisher{next: next, events: m.events}
}
