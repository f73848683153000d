package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/mqtt-mcp/internal/infrastructure/influxdb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type capture struct {
	mu      sync.Mutex
	samples []Sample
}

func (c *capture) Observe(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
}

type pointSink struct {
	points []influxdb.OperationPoint
}

func (p *pointSink) WriteOperation(pt influxdb.OperationPoint) {
	p.points = append(p.points, pt)
}

func TestNoop(t *testing.T) {
	r := Noop()
	if r == nil {
		t.Fatal("Noop() returned nil")
	}
	r.Observe(Sample{Op: "publish"})
}

func TestMulti(t *testing.T) {
	a, b := &capture{}, &capture{}

	Multi(a, nil, b).Observe(Sample{Op: "receive", Outcome: "ok"})

	if len(a.samples) != 1 || len(b.samples) != 1 {
		t.Errorf("samples a=%d b=%d, want 1 each", len(a.samples), len(b.samples))
	}
}

func TestMulti_Collapses(t *testing.T) {
	if _, ok := Multi().(noopRecorder); !ok {
		t.Error("Multi() with no recorders should be Noop")
	}
	if _, ok := Multi(nil, nil).(noopRecorder); !ok {
		t.Error("Multi(nil, nil) should be Noop")
	}

	c := &capture{}
	if got := Multi(c); got != Recorder(c) {
		t.Errorf("Multi(c) = %T, want c itself", got)
	}
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()

	rec, err := NewPrometheusRecorder(reg)
	if err != nil {
		t.Fatalf("NewPrometheusRecorder() error = %v", err)
	}

	rec.Observe(Sample{Op: "publish", Outcome: "ok", Duration: 20 * time.Millisecond, Bytes: 13})
	rec.Observe(Sample{Op: "publish", Outcome: "ok", Duration: 30 * time.Millisecond, Bytes: 7})
	rec.Observe(Sample{Op: "receive", Outcome: "timeout", Duration: time.Second})

	if got := testutil.ToFloat64(rec.operations.WithLabelValues("publish", "ok")); got != 2 {
		t.Errorf("publish/ok count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues("receive", "timeout")); got != 1 {
		t.Errorf("receive/timeout count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(rec.payload.WithLabelValues("publish")); got != 20 {
		t.Errorf("publish bytes = %v, want 20", got)
	}

	// receive/timeout carried no payload, so only the publish series exists.
	if got := testutil.CollectAndCount(rec.payload); got != 1 {
		t.Errorf("payload series = %d, want 1", got)
	}
	if got := testutil.CollectAndCount(rec.duration); got != 2 {
		t.Errorf("duration series = %d, want 2", got)
	}
}

func TestPrometheusRecorder_ReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := NewPrometheusRecorder(reg)
	if err != nil {
		t.Fatalf("NewPrometheusRecorder() error = %v", err)
	}
	second, err := NewPrometheusRecorder(reg)
	if err != nil {
		t.Fatalf("second NewPrometheusRecorder() error = %v", err)
	}
	if first.operations != second.operations {
		t.Error("second recorder should reuse the registered counter")
	}

	first.Observe(Sample{Op: "publish", Outcome: "ok"})
	second.Observe(Sample{Op: "publish", Outcome: "ok"})

	if got := testutil.ToFloat64(first.operations.WithLabelValues("publish", "ok")); got != 2 {
		t.Errorf("shared count = %v, want 2", got)
	}
}

func TestPrometheusRecorder_Conflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_mcp_operations_total",
		Help: "conflicting type",
	}))

	if _, err := NewPrometheusRecorder(reg); err == nil {
		t.Error("NewPrometheusRecorder() expected error for conflicting collector, got nil")
	}
}

func TestPrometheusRecorder_Nil(t *testing.T) {
	var rec *PrometheusRecorder
	rec.Observe(Sample{Op: "publish"})
}

func TestInfluxRecorder(t *testing.T) {
	sink := &pointSink{}
	rec := NewInfluxRecorder(sink)

	rec.Observe(Sample{
		Op:       "receive",
		Outcome:  "ok",
		Broker:   "localhost:1883",
		Topic:    "devices/foo",
		QoS:      1,
		Duration: 15 * time.Millisecond,
		Bytes:    13,
	})

	if len(sink.points) != 1 {
		t.Fatalf("points = %d, want 1", len(sink.points))
	}
	pt := sink.points[0]
	if pt.Op != "receive" || pt.Topic != "devices/foo" || pt.QoS != 1 || pt.Bytes != 13 {
		t.Errorf("point = %+v", pt)
	}
	if pt.Time.IsZero() {
		t.Error("point has no timestamp")
	}
}

func TestInfluxRecorder_NilWriter(t *testing.T) {
	NewInfluxRecorder(nil).Observe(Sample{Op: "publish"})
}
