package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/mqtt-mcp/internal/infrastructure/config"
)

const (
	// operationMeasurement holds one point per publish or receive.
	operationMeasurement = "mqtt_operations"

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
	pingTimeout          = 5 * time.Second
)

// OperationPoint is one completed publish or receive.
type OperationPoint struct {
	// Op is "publish" or "receive".
	Op string

	// Outcome is "ok" or an error class such as "timeout" or "rejected".
	Outcome string

	// Broker is the host:port the operation ran against.
	Broker string

	Topic    string
	QoS      byte
	Duration time.Duration
	Bytes    int

	// Time defaults to now.
	Time time.Time
}

// Client writes MQTT operation points to one InfluxDB bucket.
// Writes are batched and never block the caller; failures are reported
// through the SetOnError callback.
type Client struct {
	influx influxdb2.Client
	writer api.WriteAPI

	// mu keeps writes from racing Close, which tears down the writer.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	onError atomic.Pointer[func(error)]
	errDone chan struct{}
}

// Connect pings the server and prepares the batched writer for cfg.Bucket.
// It returns ErrDisabled when cfg.Enabled is false.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(pingCtx, influx); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		influx:  influx,
		writer:  influx.WriteAPI(cfg.Org, cfg.Bucket),
		errDone: make(chan struct{}),
	}
	go c.forwardErrors(c.writer.Errors())

	return c, nil
}

// writeOptions maps the config onto the client's batching options.
// Operation durations are sub-second, so points carry millisecond precision.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize) //nolint:gosec // checked positive
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush / time.Millisecond)). //nolint:gosec // positive
		SetPrecision(time.Millisecond)
}

func ping(ctx context.Context, influx influxdb2.Client) error {
	healthy, err := influx.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return fmt.Errorf("server not healthy")
	}
	return nil
}

// forwardErrors hands async write failures to the current callback until
// the writer closes its error channel.
func (c *Client) forwardErrors(errs <-chan error) {
	defer close(c.errDone)
	for err := range errs {
		if cb := c.onError.Load(); cb != nil {
			(*cb)(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// SetOnError sets the callback for failed batch writes. Errors passed to it
// wrap ErrWriteFailed.
func (c *Client) SetOnError(callback func(err error)) {
	if callback == nil {
		c.onError.Store(nil)
		return
	}
	c.onError.Store(&callback)
}

// WriteOperation queues p as a point in the mqtt_operations measurement.
//
// Op, outcome and broker are tags; the topic is a field so arbitrary topic
// names do not grow the series count. It is a no-op after Close.
func (c *Client) WriteOperation(p OperationPoint) {
	if c == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}

	ts := p.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	c.writer.WritePoint(influxdb2.NewPointWithMeasurement(operationMeasurement).
		AddTag("op", p.Op).
		AddTag("outcome", p.Outcome).
		AddTag("broker", p.Broker).
		AddField("topic", p.Topic).
		AddField("qos", int64(p.QoS)).
		AddField("duration_ms", float64(p.Duration)/float64(time.Millisecond)).
		AddField("bytes", int64(p.Bytes)).
		SetTime(ts))
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c == nil || c.isClosed() {
		return ErrNotConnected
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(pingCtx, c.influx); err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	return nil
}

// Close flushes queued points, closes the client and waits for pending
// error callbacks. It is idempotent.
func (c *Client) Close() error {
	if c == nil || c.influx == nil {
		return nil
	}

	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.influx.Close()
		<-c.errDone
	})
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
