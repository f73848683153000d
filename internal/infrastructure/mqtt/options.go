package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// maxPayloadSize caps outgoing payloads (1MB).
	// This prevents resource exhaustion and aligns with typical broker limits.
	maxPayloadSize = 1 << 20

	// defaultDisconnectQuiesce is the time paho waits for pending work on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// eventBuffer is the capacity of a transport's event channel.
	eventBuffer = 64

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// DefaultReceiveTimeout is used by Receive when the caller passes a zero timeout.
const DefaultReceiveTimeout = 60 * time.Second

// Timings holds the fixed protocol bounds and delays of a Conn.
type Timings struct {
	// KeepAlive is the MQTT keepalive interval sent in CONNECT.
	KeepAlive time.Duration

	// Connect bounds the wait for CONNACK.
	Connect time.Duration

	// SubscribeAck bounds the wait for SUBACK. Expiry is not fatal.
	SubscribeAck time.Duration

	// Settle is slept after subscribing, before waiting for a message.
	Settle time.Duration

	// PublishAck bounds the wait for delivery confirmation of QoS > 0 publishes.
	PublishAck time.Duration

	// Flush is slept after a publish so queued I/O can drain.
	Flush time.Duration

	// Grace is slept after disconnect so teardown can settle.
	Grace time.Duration

	// Upkeep is the interval of the maintenance task.
	Upkeep time.Duration

	// Poll is the interval of the fallback polling loop.
	Poll time.Duration
}

// DefaultTimings returns the production protocol parameters.
func DefaultTimings() Timings {
	return Timings{
		KeepAlive:    60 * time.Second,
		Connect:      5 * time.Second,
		SubscribeAck: 2 * time.Second,
		Settle:       200 * time.Millisecond,
		PublishAck:   5 * time.Second,
		Flush:        100 * time.Millisecond,
		Grace:        100 * time.Millisecond,
		Upkeep:       time.Second,
		Poll:         50 * time.Millisecond,
	}
}

// UpkeepPolicy decides what a failed maintenance run does to its Conn.
type UpkeepPolicy int

const (
	// UpkeepSilent stops the maintenance task and leaves the Conn as it is.
	UpkeepSilent UpkeepPolicy = iota

	// UpkeepEscalate marks the Conn failed and fails outstanding waits
	// with ErrUnexpectedDisconnect.
	UpkeepEscalate
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Option configures Open.
type Option func(*options)

type options struct {
	timings   Timings
	logger    Logger
	policy    UpkeepPolicy
	transport TransportFactory
}

func defaultOptions() options {
	return options{
		timings:   DefaultTimings(),
		logger:    nopLogger{},
		policy:    UpkeepSilent,
		transport: NewPahoTransport,
	}
}

// WithTimings overrides the protocol bounds and delays.
func WithTimings(t Timings) Option {
	return func(o *options) { o.timings = t }
}

// WithLogger sets a logger for connection lifecycle and operation events.
// If not set, nothing is logged.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithUpkeepPolicy selects how maintenance failures are handled.
func WithUpkeepPolicy(p UpkeepPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithTransport replaces the paho transport.
func WithTransport(f TransportFactory) Option {
	return func(o *options) {
		if f != nil {
			o.transport = f
		}
	}
}

// buildClientOptions creates paho MQTT options for a single connection attempt.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and credentials (when both username and password are set)
//   - Clean session, keepalive and connect timeout
//   - No automatic reconnect or connect retry
func buildClientOptions(ep Endpoint, t Timings) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if ep.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s", scheme, ep.Address()))
	opts.SetClientID(ep.ClientID)

	// Credentials are sent only as a pair.
	if ep.Username != "" && ep.Password != "" {
		opts.SetUsername(ep.Username)
		opts.SetPassword(ep.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	opts.SetCleanSession(true)

	// One attempt only; the caller owns retry policy.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(t.Connect)
	opts.SetKeepAlive(t.KeepAlive)

	if ep.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}
