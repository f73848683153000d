package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Receive subscribes to topic and returns the payload of the first message
// published to it.
//
// Parameters:
//   - ctx: Context for cancellation
//   - topic: Exact topic name (no wildcards)
//   - timeout: How long to wait for a message once subscribed; zero means
//     DefaultReceiveTimeout
//   - qos: Requested subscription QoS (0, 1, or 2)
//
// The subscription acknowledgment wait is bounded by Timings.SubscribeAck.
// If it expires the wait for a message still goes ahead, since brokers may
// deliver the message before the acknowledgment reaches us. Messages on other
// topics are passed on to whatever handler was installed before.
//
// Returns:
//   - string: The UTF-8 message payload
//   - error: ErrReceiveTimeout, ErrSubscribeFailed, ErrInvalidPayload,
//     ErrNotConnected, ErrUnexpectedDisconnect, ErrBusy, ErrInvalidTopic
//     or ErrInvalidQoS
func (c *Conn) Receive(ctx context.Context, topic string, timeout time.Duration, qos byte) (string, error) {
	if err := ValidateTopic(topic); err != nil {
		return "", err
	}
	if err := ValidateQoS(qos); err != nil {
		return "", err
	}
	if timeout <= 0 {
		timeout = DefaultReceiveTimeout
	}
	if err := c.checkUsable(); err != nil {
		return "", err
	}

	if !c.receiving.CompareAndSwap(false, true) {
		return "", fmt.Errorf("%w: receive already in progress", ErrBusy)
	}
	defer c.receiving.Store(false)

	// Both handlers go in before SUBSCRIBE so nothing sent right after the
	// acknowledgment can be missed.
	received := install("receive", &c.onMessage, func(m Message) (Message, bool) {
		return m, m.Topic == topic
	})
	defer received.release()
	defer c.track(received)()

	subscribed := install("subscribe", &c.onSubscribe, func(a SubAck) (SubAck, bool) {
		if a.Err != nil {
			return a, true
		}
		_, ok := a.Granted[topic]
		return a, ok
	})
	defer subscribed.release()
	defer c.track(subscribed)()

	var sendErr error
	if err := c.bridge.call(ctx, func() {
		sendErr = c.transport.Subscribe(topic, qos)
	}); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	if sendErr != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, sendErr)
	}

	ack, err := subscribed.wait(ctx, c.timings.SubscribeAck)
	switch {
	case errors.Is(err, ErrTimeout):
		c.logger.Warn("MQTT subscribe not acknowledged, waiting for message anyway",
			"topic", topic,
			"after", c.timings.SubscribeAck,
		)
	case err != nil:
		return "", err
	case ack.Err != nil:
		return "", fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, ack.Err)
	case ack.Granted[topic] == codeSubscribeFailure:
		return "", fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, &ReasonError{Op: "subscribe", Code: codeSubscribeFailure})
	}
	subscribed.release()

	pause(ctx, c.timings.Settle)

	msg, err := received.wait(ctx, timeout)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return "", fmt.Errorf("%w: %s: %w", ErrReceiveTimeout, topic, err)
		}
		return "", err
	}

	if !utf8.Valid(msg.Payload) {
		return "", fmt.Errorf("%w: %d bytes on %s", ErrInvalidPayload, len(msg.Payload), topic)
	}

	c.logger.Debug("MQTT received",
		"topic", topic,
		"qos", msg.QoS,
		"bytes", len(msg.Payload),
		"retained", msg.Retained,
	)
	return string(msg.Payload), nil
}
