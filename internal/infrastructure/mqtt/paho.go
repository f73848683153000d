package mqtt

import (
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// pahoTransport adapts paho.mqtt.golang to the Transport contract.
//
// paho runs its own network goroutines and reports completion through tokens
// and handler callbacks. Each of those is turned into an Event and handed to
// the owning Conn through a buffered channel; nothing here touches Conn state.
type pahoTransport struct {
	endpoint Endpoint
	timings  Timings

	client pahomqtt.Client
	events chan Event

	done      chan struct{}
	closeOnce sync.Once

	// established is set once CONNACK with code 0 arrived.
	established atomic.Bool
}

// NewPahoTransport is the default TransportFactory.
func NewPahoTransport(ep Endpoint, t Timings) Transport {
	return &pahoTransport{
		endpoint: ep,
		timings:  t,
		events:   make(chan Event, eventBuffer),
		done:     make(chan struct{}),
	}
}

// Events implements Notifier.
func (p *pahoTransport) Events() <-chan Event {
	return p.events
}

func (p *pahoTransport) Connect() error {
	opts := buildClientOptions(p.endpoint, p.timings)

	// Subscriptions are made without per-filter callbacks, so every
	// message lands here.
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		payload := make([]byte, len(msg.Payload()))
		copy(payload, msg.Payload())
		p.emit(Message{
			Topic:     msg.Topic(),
			Payload:   payload,
			QoS:       msg.Qos(),
			Retained:  msg.Retained(),
			MessageID: msg.MessageID(),
		})
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		p.established.Store(false)
		p.emit(Disconnect{Code: codeNetworkError, Err: err})
	})

	p.client = pahomqtt.NewClient(opts)
	token := p.client.Connect()

	go p.watch(token, func(err error) Event {
		code := codeNetworkError
		if ct, ok := token.(*pahomqtt.ConnectToken); ok {
			code = ct.ReturnCode()
		}
		if err == nil && code == codeAccepted {
			p.established.Store(true)
		}
		return ConnAck{Code: code, Err: err}
	})

	return nil
}

func (p *pahoTransport) Publish(topic string, payload []byte, qos byte) (uint16, error) {
	if p.client == nil {
		return 0, ErrNotConnected
	}

	token := p.client.Publish(topic, qos, false, payload)
	if err := failedNow(token); err != nil {
		return 0, err
	}

	var mid uint16
	if pt, ok := token.(*pahomqtt.PublishToken); ok {
		mid = pt.MessageID()
	}

	if qos > 0 {
		go p.watch(token, func(err error) Event {
			return PubAck{MessageID: mid, Err: err}
		})
	}

	return mid, nil
}

func (p *pahoTransport) Subscribe(filter string, qos byte) error {
	if p.client == nil {
		return ErrNotConnected
	}

	token := p.client.Subscribe(filter, qos, nil)
	if err := failedNow(token); err != nil {
		return err
	}

	go p.watch(token, func(err error) Event {
		var granted map[string]byte
		if st, ok := token.(*pahomqtt.SubscribeToken); ok {
			granted = st.Result()
		}
		return SubAck{Granted: granted, Err: err}
	})

	return nil
}

func (p *pahoTransport) Disconnect() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.established.Store(false)
		if p.client != nil {
			p.client.Disconnect(defaultDisconnectQuiesce)
		}
	})
}

// Upkeep reports an error once a session that was established is no longer open.
func (p *pahoTransport) Upkeep() error {
	if p.client == nil || !p.established.Load() {
		return nil
	}
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return nil
}

// watch waits for a token to complete and emits the event built from it.
func (p *pahoTransport) watch(token pahomqtt.Token, build func(err error) Event) {
	select {
	case <-token.Done():
		p.emit(build(token.Error()))
	case <-p.done:
	}
}

// emit hands an event to the consumer, dropping it once the transport is closed.
func (p *pahoTransport) emit(ev Event) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

// failedNow returns the error of a token that completed with a failure
// before the request was sent, or nil if the request is in flight.
func failedNow(token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	default:
		return nil
	}
}
