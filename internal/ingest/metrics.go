package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics jsou Prometheus metriky ingestoru, vystavené na /metrics.
type Metrics struct {
	Received      prometheus.Counter
	Written       prometheus.Counter
	Failed        prometheus.Counter
	Rejected      prometheus.Counter
	WriteDuration prometheus.Histogram
	Connected     prometheus.Gauge
}

// NewMetrics vytvoří metriky a zaregistruje je v reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_messages_received_total",
			Help: "Messages that reached the coordinator (decoded or rejected).",
		}),
		Written: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_records_written_total",
			Help: "Records successfully written to the store.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_records_failed_total",
			Help: "Records the store refused or that could not be written.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weather_messages_rejected_total",
			Help: "Payloads dropped by the decoder (malformed or invalid).",
		}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "weather_store_write_duration_seconds",
			Help:    "Duration of a single store write.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weather_mqtt_connected",
			Help: "1 while the broker connection is up.",
		}),
	}
	reg.MustRegister(m.Received, m.Written, m.Failed, m.Rejected, m.WriteDuration, m.Connected)
	return m
}
