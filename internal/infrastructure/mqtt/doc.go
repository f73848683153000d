// Package mqtt turns the callback-driven paho MQTT client into blocking,
// call-per-operation primitives.
//
// This package provides:
//   - Open: connect with a bounded wait for the broker acknowledgment
//   - Conn.Publish: publish and, for QoS > 0, wait for delivery confirmation
//   - Conn.Receive: subscribe and wait for the first message on a topic
//   - Conn.Close: idempotent, best-effort teardown
//
// # Architecture
//
// paho reports everything through handler callbacks and tokens completed on
// its own goroutines. A Transport converts those into Events. The readiness
// bridge of each Conn delivers the events on a single dispatch goroutine,
// where per-call operations are installed into handler slots:
//
//	paho goroutines → Transport events → dispatch goroutine → handler slot → Outcome → caller
//
// An operation saves the handler it replaces, settles its Outcome on the
// first matching event and forwards everything else to the saved handler.
// Releasing it puts the saved handler back, so handler chains are left as
// they were found on every exit path.
//
// # Limits
//
//   - No reconnection: a lost session fails outstanding waits with
//     ErrUnexpectedDisconnect and the Conn must be reopened
//   - One Receive and one Publish acknowledgment wait per Conn at a time
//   - Exact topic matching only; wildcard filters are rejected
//
// # Usage
//
//	conn, err := mqtt.Open(ctx, mqtt.Endpoint{Host: "127.0.0.1", Port: 1883})
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	if err := conn.Publish(ctx, "devices/foo", []byte(`{"foo":"bar"}`), 1); err != nil {
//	    return err
//	}
//
//	payload, err := conn.Receive(ctx, "devices/foo", 30*time.Second, 1)
package mqtt
