// Package metrics exposes simulator activity in Prometheus format.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"substation-sim/internal/sensor"
)

const namespace = "substation"

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	reg *prometheus.Registry

	batches      *prometheus.CounterVec
	sendDuration prometheus.Histogram
	sensorValue  *prometheus.GaugeVec
	ticks        prometheus.Counter
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New(device, version string) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batches posted to the collector by outcome.",
		}, []string{"outcome"}),
		sendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Duration of collector POSTs.",
			Buckets:   prometheus.DefBuckets,
		}),
		sensorValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_value",
			Help:      "Most recent simulated reading per sensor.",
		}, []string{"sensor", "unit"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Completed simulation ticks.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Status server requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Status server request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Constant 1 labelled with the device and build version.",
		ConstLabels: prometheus.Labels{"device": device, "version": version},
	})
	info.Set(1)

	m.reg.MustRegister(
		m.batches,
		m.sendDuration,
		m.sensorValue,
		m.ticks,
		m.httpRequests,
		m.httpDuration,
		info,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Both outcomes are exported from the start.
	m.batches.WithLabelValues(outcomeSuccess)
	m.batches.WithLabelValues(outcomeFailure)
	return m
}

// ObserveSend records one collector send attempt.
func (m *Metrics) ObserveSend(ok bool, _ int, d time.Duration) {
	outcome := outcomeFailure
	if ok {
		outcome = outcomeSuccess
	}
	m.batches.WithLabelValues(outcome).Inc()
	m.sendDuration.Observe(d.Seconds())
}

// Publish updates the per-sensor gauges with one tick's readings.
func (m *Metrics) Publish(_ context.Context, readings []sensor.Reading) error {
	for _, r := range readings {
		m.sensorValue.WithLabelValues(r.Key, r.Unit).Set(r.Value)
	}
	m.ticks.Inc()
	return nil
}

// ObserveHTTP records one status server request.
func (m *Metrics) ObserveHTTP(route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
