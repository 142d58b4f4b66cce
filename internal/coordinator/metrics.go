package coordinator

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	visible  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_client_requests_total",
				Help: "Outgoing storefront API calls by method and status.",
			},
			[]string{"method", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storefront_client_request_duration_seconds",
				Help:    "Latency of outgoing storefront API calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		visible: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_client_inflight_visible",
			Help: "Visible (non-silent) calls currently in flight.",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.visible)
	return m
}

func (m *metrics) observe(method string, status int, started time.Time) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(method, label).Inc()
	m.duration.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

func (m *metrics) setVisible(n int) {
	if m == nil {
		return
	}
	m.visible.Set(float64(n))
}
