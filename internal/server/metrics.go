package server

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaunagostinho/hplc-pump/internal/protocol"
	"github.com/shaunagostinho/hplc-pump/internal/pump"
)

// Metrics holds the daemon's prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Operations   *prometheus.CounterVec
	PollDuration prometheus.Histogram
	Pressure     prometheus.Gauge
	Flowrate     prometheus.Gauge
	Running      prometheus.Gauge
	Faulted      prometheus.Gauge
	Clients      prometheus.Gauge
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hplc_pump_operations_total",
				Help: "Pump operations by outcome",
			},
			[]string{"op", "outcome"},
		),

		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hplc_pump_poll_duration_seconds",
			Help:    "Time to read a full pump status",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5},
		}),

		Pressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hplc_pump_pressure",
			Help: "Last pressure reading in the pump's units",
		}),
		Flowrate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hplc_pump_flowrate_ml_min",
			Help: "Last flowrate reading",
		}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hplc_pump_running",
			Help: "1 while the pump runs",
		}),
		Faulted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hplc_pump_faulted",
			Help: "1 while a fault is latched",
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hplc_pump_ws_clients",
			Help: "Connected websocket clients",
		}),
	}

	m.registry.MustRegister(
		m.Operations,
		m.PollDuration,
		m.Pressure,
		m.Flowrate,
		m.Running,
		m.Faulted,
		m.Clients,
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe counts one operation.
func (m *Metrics) Observe(op string, err error) {
	m.Operations.WithLabelValues(op, outcome(err)).Inc()
}

// SetStatus updates the pump gauges.
func (m *Metrics) SetStatus(st *pump.Status) {
	m.Pressure.Set(st.Pressure)
	m.Flowrate.Set(st.Flowrate)
	m.Running.Set(b2f(st.Running))
	m.Faulted.Set(b2f(st.Faulted()))
}

// outcome classifies an operation error for metric labels.
func outcome(err error) string {
	var (
		de *protocol.DeviceError
		ce *protocol.CommunicationError
		pe *protocol.ParseError
		ve *pump.ValidationError
		se *pump.ClosedSessionError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &de):
		return "device_error"
	case errors.As(err, &ce):
		return "communication_error"
	case errors.As(err, &pe):
		return "parse_error"
	case errors.As(err, &ve):
		return "validation_error"
	case errors.As(err, &se):
		return "closed"
	}
	return "error"
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
