package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics are registered on a per-server registry so several servers can
// live in one process (tests)
type metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	rangeRequests   prometheus.Counter
	transferOffset  prometheus.Gauge
	transferPercent prometheus.Gauge
	transferDone    prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tasmotizer",
				Subsystem: "server",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by method and status code",
			},
			[]string{"method", "code"},
		),
		rangeRequests: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tasmotizer",
				Subsystem: "firmware",
				Name:      "range_requests_total",
				Help:      "Total number of byte-range requests for the firmware image",
			},
		),
		transferOffset: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tasmotizer",
				Subsystem: "firmware",
				Name:      "transfer_offset_bytes",
				Help:      "Byte offset of the last range requested by the device",
			},
		),
		transferPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tasmotizer",
				Subsystem: "firmware",
				Name:      "transfer_percent",
				Help:      "Transfer progress derived from the last range request",
			},
		),
		transferDone: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tasmotizer",
				Subsystem: "firmware",
				Name:      "transfer_complete",
				Help:      "1 once the transfer has been declared complete",
			},
		),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.rangeRequests,
		m.transferOffset,
		m.transferPercent,
		m.transferDone,
	)

	return m
}

// Handler exposes the registry
func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// countRequests records every response by method and status code
func (m *metrics) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
	})
}

func (m *metrics) observeRange(offset int64, percentage int) {
	m.rangeRequests.Inc()
	m.transferOffset.Set(float64(offset))
	m.transferPercent.Set(float64(percentage))
}
