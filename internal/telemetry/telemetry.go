// Package telemetry records the outcome of MQTT tool operations.
//
// A Recorder is called once per publish or receive, after the operation
// finishes. Implementations forward samples to Prometheus, InfluxDB, or
// nowhere. They run inline with the tool handler and must not block.
package telemetry

import (
	"errors"
	"time"

	"github.com/nerrad567/mqtt-mcp/internal/infrastructure/influxdb"
	"github.com/prometheus/client_golang/prometheus"
)

// Sample describes one finished operation.
type Sample struct {
	Op       string // publish or receive
	Outcome  string // ok, timeout, rejected, ...
	Broker   string // host:port
	Topic    string
	QoS      byte
	Duration time.Duration
	Bytes    int
}

// Recorder receives operation samples.
type Recorder interface {
	Observe(s Sample)
}

type noopRecorder struct{}

// Noop returns a recorder that discards all samples.
func Noop() Recorder {
	return noopRecorder{}
}

func (noopRecorder) Observe(Sample) {}

type multiRecorder []Recorder

// Multi fans each sample out to every non-nil recorder.
func Multi(recorders ...Recorder) Recorder {
	var out multiRecorder
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	switch len(out) {
	case 0:
		return Noop()
	case 1:
		return out[0]
	}
	return out
}

func (m multiRecorder) Observe(s Sample) {
	for _, r := range m {
		r.Observe(s)
	}
}

// PrometheusRecorder exposes operation counters and latencies via Prometheus.
type PrometheusRecorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	payload    *prometheus.CounterVec
}

// NewPrometheusRecorder registers the operation metrics with reg.
// Registering twice against the same registerer reuses the existing metrics.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	operations, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_mcp_operations_total",
		Help: "Number of MQTT tool operations by operation and outcome.",
	}, []string{"op", "outcome"}))
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mqtt_mcp_operation_duration_seconds",
		Help:    "Wall time of MQTT tool operations including connect and disconnect.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"op", "outcome"}))
	if err != nil {
		return nil, err
	}

	payload, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_mcp_payload_bytes_total",
		Help: "Payload bytes published or received.",
	}, []string{"op"}))
	if err != nil {
		return nil, err
	}

	return &PrometheusRecorder{operations: operations, duration: duration, payload: payload}, nil
}

// register adds c to reg, returning the already registered collector of the
// same type if there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// Observe records s.
func (p *PrometheusRecorder) Observe(s Sample) {
	if p == nil {
		return
	}
	p.operations.WithLabelValues(s.Op, s.Outcome).Inc()
	p.duration.WithLabelValues(s.Op, s.Outcome).Observe(s.Duration.Seconds())
	if s.Bytes > 0 {
		p.payload.WithLabelValues(s.Op).Add(float64(s.Bytes))
	}
}

// PointWriter is the subset of the InfluxDB client used by InfluxRecorder.
type PointWriter interface {
	WriteOperation(p influxdb.OperationPoint)
}

// InfluxRecorder writes each sample as an InfluxDB point.
type InfluxRecorder struct {
	w PointWriter
}

// NewInfluxRecorder creates a recorder writing through w.
func NewInfluxRecorder(w PointWriter) *InfluxRecorder {
	return &InfluxRecorder{w: w}
}

// Observe records s.
func (r *InfluxRecorder) Observe(s Sample) {
	if r == nil || r.w == nil {
		return
	}
	r.w.WriteOperation(influxdb.OperationPoint{
		Op:       s.Op,
		Outcome:  s.Outcome,
		Broker:   s.Broker,
		Topic:    s.Topic,
		QoS:      s.QoS,
		Duration: s.Duration,
		Bytes:    s.Bytes,
		Time:     time.Now(),
	})
}
