package mqtt

import (
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
)

// Reason codes used by transports for events that did not come from a broker packet.
const (
	// codeAccepted is the CONNACK code for a successful connection.
	codeAccepted byte = 0x00

	// codeNetworkError marks a connection attempt or session that failed below
	// the MQTT layer (dial error, TLS failure, socket closed).
	codeNetworkError byte = 0xFE

	// codeSubscribeFailure is the SUBACK return code for a refused filter.
	codeSubscribeFailure byte = 0x80
)

// Endpoint identifies the broker a Conn talks to.
type Endpoint struct {
	Host     string
	Port     int
	Username string
	Password string

	// ClientID is generated when empty.
	ClientID string

	// TLS selects ssl:// instead of tcp://.
	TLS bool
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) validate() error {
	if e.Host == "" {
		return fmt.Errorf("%w: broker host is required", ErrInvalidEndpoint)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("%w: broker port %d out of range", ErrInvalidEndpoint, e.Port)
	}
	return nil
}

// withClientID fills in a generated client ID.
func (e Endpoint) withClientID() Endpoint {
	if e.ClientID == "" {
		e.ClientID = "mqtt-mcp-" + uuid.NewString()[:8]
	}
	return e
}

// Event is a callback invocation produced by a Transport.
type Event interface {
	event()
}

// ConnAck reports the outcome of a connection attempt.
// Err is set when the attempt failed; Code carries the broker reason code, or
// codeNetworkError when no CONNACK was ever received.
type ConnAck struct {
	Code byte
	Err  error
}

// SubAck reports a completed subscribe request. Granted maps each filter to
// the QoS granted by the broker (0x80 for a refused filter).
type SubAck struct {
	Granted map[string]byte
	Err     error
}

// PubAck reports broker-level delivery confirmation for a QoS > 0 publish.
type PubAck struct {
	MessageID uint16
	Err       error
}

// Message is a received application message.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retained  bool
	MessageID uint16
}

// Disconnect reports the end of a session. Code is zero for a disconnect
// the client asked for.
type Disconnect struct {
	Code byte
	Err  error
}

func (ConnAck) event()    {}
func (SubAck) event()     {}
func (PubAck) event()     {}
func (Message) event()    {}
func (Disconnect) event() {}

func (a ConnAck) accepted() bool { return a.Err == nil && a.Code == codeAccepted }

// refused reports a CONNACK carrying a broker rejection, as opposed to a
// failure where the broker never answered.
func (a ConnAck) refused() bool { return a.Code != codeAccepted && a.Code < codeNetworkError }

// Transport is the callback-driven client a Conn drives.
//
// Requests return only the local send result. Their outcomes arrive later as
// Events, delivered through Notifier or Poller. A Transport must implement
// at least one of the two.
type Transport interface {
	// Connect starts a connection attempt. The outcome arrives as ConnAck.
	Connect() error

	// Publish sends a message and returns its message ID (zero for QoS 0).
	// QoS > 0 publishes later produce a PubAck.
	Publish(topic string, payload []byte, qos byte) (uint16, error)

	// Subscribe requests a subscription. The broker answer arrives as SubAck.
	Subscribe(filter string, qos byte) error

	// Disconnect closes the session and releases the transport.
	Disconnect()

	// Upkeep performs periodic maintenance. A non-nil error means the
	// session can no longer be serviced.
	Upkeep() error
}

// Notifier is implemented by transports that push events as they happen.
type Notifier interface {
	Events() <-chan Event
}

// Poller is implemented by transports that queue events until collected.
type Poller interface {
	Poll() []Event
}

// TransportFactory builds the transport for an endpoint.
type TransportFactory func(ep Endpoint, timings Timings) Transport
