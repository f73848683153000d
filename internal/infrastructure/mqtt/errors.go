package mqtt

import (
	"errors"
	"fmt"
	"time"
)

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectTimeout is returned when no connect acknowledgment arrives within the bound.
	ErrConnectTimeout = errors.New("mqtt: connection timed out")

	// ErrConnectRejected is returned when the broker answers CONNECT with a non-zero reason code.
	ErrConnectRejected = errors.New("mqtt: connection rejected")

	// ErrUnexpectedDisconnect is returned to waiting callers when the broker drops the connection.
	ErrUnexpectedDisconnect = errors.New("mqtt: unexpected disconnect")

	// ErrNotConnected is returned when attempting operations on a connection that is not open.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrPublishFailed is returned when a publish is rejected locally or never acknowledged.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe request is rejected locally.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrReceiveTimeout is returned when no message arrives on the topic within the bound.
	ErrReceiveTimeout = errors.New("mqtt: no message received")

	// ErrBusy is returned when an operation of the same kind is already outstanding
	// on the connection. A Conn carries one pending result per kind.
	ErrBusy = errors.New("mqtt: operation already in progress")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or malformed topic is provided.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrInvalidPayload is returned when a received payload is not valid UTF-8 text.
	ErrInvalidPayload = errors.New("mqtt: payload is not valid UTF-8")

	// ErrInvalidEndpoint is returned when the broker host or port is unusable.
	ErrInvalidEndpoint = errors.New("mqtt: invalid broker endpoint")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")
)

// TimeoutError reports a bounded wait that expired.
// It matches ErrTimeout with errors.Is.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no result after %v", e.Op, e.After)
}

// Unwrap lets errors.Is(err, ErrTimeout) succeed.
func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// ReasonError carries a reason code reported by the broker or the transport.
type ReasonError struct {
	Op   string
	Code byte
}

func (e *ReasonError) Error() string {
	return fmt.Sprintf("%s: reason code %d", e.Op, e.Code)
}
