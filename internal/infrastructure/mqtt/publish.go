package mqtt

import (
	"context"
	"errors"
	"fmt"
)

// Publish sends payload to topic and waits until the broker has it.
//
// Parameters:
//   - ctx: Context for cancellation of the acknowledgment wait
//   - topic: Exact topic name to publish to (no wildcards)
//   - payload: Message payload (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//
// QoS Levels:
//   - 0: Returns once the request was sent and the flush delay elapsed
//   - 1, 2: Also waits for the broker acknowledgment, bounded by Timings.PublishAck
//
// Returns:
//   - error: nil on success, or ErrPublishFailed, ErrNotConnected,
//     ErrUnexpectedDisconnect, ErrBusy, ErrInvalidTopic or ErrInvalidQoS
func (c *Conn) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if err := ValidateQoS(qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if err := c.checkUsable(); err != nil {
		return err
	}

	if !c.publishing.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: publish already in progress", ErrBusy)
	}
	defer c.publishing.Store(false)

	// The message ID is only known once the request is issued. Both the
	// write below and every match read run on the dispatch goroutine.
	var mid uint16
	var acked *operation[PubAck, PubAck]
	if qos > 0 {
		acked = install("publish", &c.onPublish, func(a PubAck) (PubAck, bool) {
			return a, a.MessageID == mid
		})
		defer acked.release()
		defer c.track(acked)()
	}

	var sendErr error
	if err := c.bridge.call(ctx, func() {
		mid, sendErr = c.transport.Publish(topic, payload, qos)
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	if sendErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, sendErr)
	}

	if acked != nil {
		ack, err := acked.wait(ctx, c.timings.PublishAck)
		switch {
		case err == nil && ack.Err != nil:
			return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, ack.Err)
		case errors.Is(err, ErrTimeout):
			return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
		case err != nil:
			return err
		}
	}

	pause(ctx, c.timings.Flush)

	c.logger.Debug("MQTT published",
		"topic", topic,
		"qos", qos,
		"bytes", len(payload),
		"message_id", mid,
	)
	return nil
}
