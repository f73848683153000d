package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/mqtt-mcp/internal/audit"
	"github.com/nerrad567/mqtt-mcp/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-mcp/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-mcp/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-mcp/internal/telemetry"
)

// auditTimeout bounds the audit insert after an operation finishes.
const auditTimeout = 2 * time.Second

// Session is one open broker connection.
// *mqtt.Conn satisfies it.
type Session interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error
	Receive(ctx context.Context, topic string, timeout time.Duration, qos byte) (string, error)
	Close() error
}

// Dialer opens a Session to ep.
type Dialer func(ctx context.Context, ep mqtt.Endpoint, opts ...mqtt.Option) (Session, error)

// DialMQTT opens a real broker connection.
func DialMQTT(ctx context.Context, ep mqtt.Endpoint, opts ...mqtt.Option) (Session, error) {
	conn, err := mqtt.Open(ctx, ep, opts...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// PublishRequest describes one publish_message call.
// Empty Host and zero Port fall back to the configured broker.
type PublishRequest struct {
	Topic string
	Data  string
	Host  string
	Port  int
	QoS   byte
}

// ReceiveRequest describes one receive_message call.
// A zero Timeout uses the configured receive timeout.
type ReceiveRequest struct {
	Topic   string
	Host    string
	Port    int
	Timeout time.Duration
	QoS     byte
}

// Service runs each tool call on its own short-lived broker connection.
type Service struct {
	cfg       config.MQTTConfig
	dial      Dialer
	connOpts  []mqtt.Option
	audit     audit.Repository
	telemetry telemetry.Recorder
	logger    *logging.Logger
	source    string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDialer replaces the broker dialer.
func WithDialer(d Dialer) ServiceOption {
	return func(s *Service) {
		if d != nil {
			s.dial = d
		}
	}
}

// WithConnOptions appends options passed to every dial.
func WithConnOptions(opts ...mqtt.Option) ServiceOption {
	return func(s *Service) { s.connOpts = append(s.connOpts, opts...) }
}

// WithAudit records every call in repo.
func WithAudit(repo audit.Repository) ServiceOption {
	return func(s *Service) {
		if repo != nil {
			s.audit = repo
		}
	}
}

// WithTelemetry reports every call to rec.
func WithTelemetry(rec telemetry.Recorder) ServiceOption {
	return func(s *Service) {
		if rec != nil {
			s.telemetry = rec
		}
	}
}

// WithLogger sets the service logger. It is also handed to each connection.
func WithLogger(l *logging.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSource names the surface recorded in audit entries (mcp, cli).
func WithSource(source string) ServiceOption {
	return func(s *Service) { s.source = source }
}

// NewService creates a tool service using cfg for broker defaults.
func NewService(cfg config.MQTTConfig, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:       cfg,
		dial:      DialMQTT,
		audit:     audit.Noop{},
		telemetry: telemetry.Noop(),
		logger:    logging.Default(),
		source:    "mcp",
	}
	for _, opt := range opts {
		opt(s)
	}

	base := []mqtt.Option{mqtt.WithLogger(s.logger)}
	if cfg.UpkeepPolicy == config.UpkeepEscalate {
		base = append(base, mqtt.WithUpkeepPolicy(mqtt.UpkeepEscalate))
	}
	s.connOpts = append(base, s.connOpts...)

	return s
}

// DefaultQoS returns the configured QoS for calls that do not name one.
func (s *Service) DefaultQoS() byte {
	return byte(s.cfg.QoS) //nolint:gosec // validated to 0..2 by config
}

// DefaultReceiveTimeout returns the configured receive wait.
func (s *Service) DefaultReceiveTimeout() time.Duration {
	if s.cfg.ReceiveTimeout <= 0 {
		return mqtt.DefaultReceiveTimeout
	}
	return time.Duration(s.cfg.ReceiveTimeout) * time.Second
}

// endpoint resolves per-call overrides against the configured broker.
func (s *Service) endpoint(host string, port int) mqtt.Endpoint {
	ep := mqtt.Endpoint{
		Host:     s.cfg.Broker.Host,
		Port:     s.cfg.Broker.Port,
		Username: s.cfg.Auth.Username,
		Password: s.cfg.Auth.Password,
		ClientID: s.cfg.Broker.ClientID,
		TLS:      s.cfg.Broker.TLS,
	}
	if host != "" {
		ep.Host = host
	}
	if port != 0 {
		ep.Port = port
	}
	return ep
}

// Publish sends req.Data to req.Topic and returns a confirmation line.
func (s *Service) Publish(ctx context.Context, req PublishRequest) (string, error) {
	ep := s.endpoint(req.Host, req.Port)
	start := time.Now()

	err := s.withSession(ctx, ep, func(sess Session) error {
		return sess.Publish(ctx, req.Topic, []byte(req.Data), req.QoS)
	})

	s.finish(ctx, audit.ActionPublish, ep, req.Topic, req.QoS, len(req.Data), start, err)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("Publish to %s on %s has succeeded", req.Topic, ep.Address()), nil
}

// Receive waits for the next message on req.Topic and returns its payload.
func (s *Service) Receive(ctx context.Context, req ReceiveRequest) (string, error) {
	ep := s.endpoint(req.Host, req.Port)
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.DefaultReceiveTimeout()
	}
	start := time.Now()

	var payload string
	err := s.withSession(ctx, ep, func(sess Session) error {
		var err error
		payload, err = sess.Receive(ctx, req.Topic, timeout, req.QoS)
		return err
	})

	s.finish(ctx, audit.ActionReceive, ep, req.Topic, req.QoS, len(payload), start, err)
	if err != nil {
		return "", err
	}

	return payload, nil
}

// withSession opens a connection to ep, runs fn and closes it.
func (s *Service) withSession(ctx context.Context, ep mqtt.Endpoint, fn func(Session) error) error {
	sess, err := s.dial(ctx, ep, s.connOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			s.logger.Warn("closing MQTT session", "broker", ep.Address(), "error", cerr)
		}
	}()

	return fn(sess)
}

// finish reports one call to the audit log, telemetry and the log.
func (s *Service) finish(ctx context.Context, action string, ep mqtt.Endpoint, topic string, qos byte, size int, start time.Time, err error) {
	elapsed := time.Since(start)
	outcome := Outcome(err)

	s.telemetry.Observe(telemetry.Sample{
		Op:       action,
		Outcome:  outcome,
		Broker:   ep.Address(),
		Topic:    topic,
		QoS:      qos,
		Duration: elapsed,
		Bytes:    size,
	})

	entry := &audit.Entry{
		Action:   action,
		Topic:    topic,
		Endpoint: ep.Address(),
		QoS:      int(qos),
		Outcome:  outcome,
		Duration: elapsed,
		Bytes:    size,
		Source:   s.source,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	// The caller's ctx may already be done when the operation timed out.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if aerr := s.audit.Record(actx, entry); aerr != nil {
		s.logger.Warn("recording audit entry", "action", action, "error", aerr)
	}

	if err != nil {
		s.logger.Info("MQTT tool call failed",
			"action", action, "topic", topic, "broker", ep.Address(),
			"outcome", outcome, "duration", elapsed, "error", err)
		return
	}
	s.logger.Debug("MQTT tool call completed",
		"action", action, "topic", topic, "broker", ep.Address(), "duration", elapsed)
}

// Outcome classifies err into the short label used by audit and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, mqtt.ErrConnectTimeout):
		return "connect_timeout"
	case errors.Is(err, mqtt.ErrConnectRejected):
		return "rejected"
	case errors.Is(err, mqtt.ErrReceiveTimeout):
		return "timeout"
	case errors.Is(err, mqtt.ErrPublishFailed):
		return "publish_failed"
	case errors.Is(err, mqtt.ErrSubscribeFailed):
		return "subscribe_failed"
	case errors.Is(err, mqtt.ErrUnexpectedDisconnect):
		return "disconnected"
	case errors.Is(err, mqtt.ErrBusy):
		return "busy"
	case errors.Is(err, mqtt.ErrInvalidTopic),
		errors.Is(err, mqtt.ErrInvalidQoS),
		errors.Is(err, mqtt.ErrInvalidPayload),
		errors.Is(err, mqtt.ErrInvalidEndpoint):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
