// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus metrics for the reactor server. A nil *Metrics is valid and
// records nothing.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hioload"

// LoopStats is the read-only view of an event loop exported as metrics.
// Implementations must be safe to call from the scrape goroutine.
type LoopStats interface {
	Name() string
	QueueSize() int
	Iteration() uint64
}

// Metrics holds the server collectors.
type Metrics struct {
	registry *prometheus.Registry

	accepted      prometheus.Counter
	closed        prometheus.Counter
	active        prometheus.Gauge
	bytesRead     prometheus.Counter
	bytesWritten  prometheus.Counter
	highWaterMark prometheus.Counter
	ioErrors      *prometheus.CounterVec
}

// NewMetrics creates collectors labelled with server and registers them in
// a fresh registry.
func NewMetrics(server string) *Metrics {
	labels := prometheus.Labels{"server": server}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: name, Help: help, ConstLabels: labels,
		})
	}
	m := &Metrics{
		registry:      prometheus.NewRegistry(),
		accepted:      counter("connections_accepted_total", "Connections accepted."),
		closed:        counter("connections_closed_total", "Connections fully torn down."),
		bytesRead:     counter("bytes_read_total", "Bytes read from connections."),
		bytesWritten:  counter("bytes_written_total", "Bytes written to connections."),
		highWaterMark: counter("high_water_mark_total", "Output buffer high water mark crossings."),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections_active", Help: "Connections in the server table.",
			ConstLabels: labels,
		}),
		ioErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "io_errors_total", Help: "Socket errors by operation and class.",
			ConstLabels: labels,
		}, []string{"op", "class"}),
	}
	m.registry.MustRegister(m.accepted, m.closed, m.active, m.bytesRead,
		m.bytesWritten, m.highWaterMark, m.ioErrors)
	return m
}

// Registry exposes the underlying registry, e.g. for promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnectionAccepted() {
	if m != nil {
		m.accepted.Inc()
		m.active.Inc()
	}
}

func (m *Metrics) ConnectionRemoved() {
	if m != nil {
		m.active.Dec()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.closed.Inc()
	}
}

func (m *Metrics) BytesRead(n int) {
	if m != nil && n > 0 {
		m.bytesRead.Add(float64(n))
	}
}

func (m *Metrics) BytesWritten(n int) {
	if m != nil && n > 0 {
		m.bytesWritten.Add(float64(n))
	}
}

func (m *Metrics) HighWaterMark() {
	if m != nil {
		m.highWaterMark.Inc()
	}
}

// IOError counts a failed socket operation; class is an errclass label.
func (m *Metrics) IOError(op, class string) {
	if m != nil {
		m.ioErrors.WithLabelValues(op, class).Inc()
	}
}

// RegisterLoop exports the pending functor count and iteration counter of l.
func (m *Metrics) RegisterLoop(l LoopStats) error {
	if m == nil {
		return nil
	}
	labels := prometheus.Labels{"loop": l.Name()}
	queue := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "loop_pending_functors", Help: "Functors queued on the loop.",
		ConstLabels: labels,
	}, func() float64 { return float64(l.QueueSize()) })
	iter := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Name: "loop_iterations_total", Help: "Completed poll iterations.",
		ConstLabels: labels,
	}, func() float64 { return float64(l.Iteration()) })
	if err := m.registry.Register(queue); err != nil {
		return err
	}
	return m.registry.Register(iter)
}

// GetSnapshot gathers the registry into name{labels} -> value.
func (m *Metrics) GetSnapshot() (map[string]float64, error) {
	out := make(map[string]float64)
	if m == nil {
		return out, nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "server" {
					continue
				}
				key += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				out[key] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[key] = metric.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}
