package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeCore is a scripted Transport. Requests are recorded and answered with
// the events the test configured, pushed onto a buffered channel.
type fakeCore struct {
	mu     sync.Mutex
	events chan Event

	connAck      *ConnAck
	connectErr   error
	publishErr   error
	subscribeErr error

	pubAck      bool
	pubAckErr   error
	strayPubAck bool

	subAck    bool
	granted   byte
	subAckErr error

	// inbox holds messages pushed after a subscribe to the key filter.
	inbox map[string][]Message

	dropAfterSubscribe bool
	upkeepErr          error

	nextMID     uint16
	published   []Message
	subscribed  []string
	disconnects int
	upkeeps     int
}

func newFakeCore() *fakeCore {
	return &fakeCore{
		events:  make(chan Event, 256),
		connAck: &ConnAck{Code: codeAccepted},
		pubAck:  true,
		subAck:  true,
		granted: 1,
		inbox:   make(map[string][]Message),
	}
}

func (f *fakeCore) push(ev Event) {
	f.events <- ev
}

func (f *fakeCore) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.connectErr != nil {
		return f.connectErr
	}
	if f.connAck != nil {
		f.push(*f.connAck)
	}
	return nil
}

func (f *fakeCore) Publish(topic string, payload []byte, qos byte) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.publishErr != nil {
		return 0, f.publishErr
	}

	var mid uint16
	if qos > 0 {
		f.nextMID++
		mid = f.nextMID
	}
	f.published = append(f.published, Message{Topic: topic, Payload: payload, QoS: qos, MessageID: mid})

	if qos > 0 && f.pubAck {
		if f.strayPubAck {
			f.push(PubAck{MessageID: mid + 100})
		}
		f.push(PubAck{MessageID: mid, Err: f.pubAckErr})
	}
	return mid, nil
}

func (f *fakeCore) Subscribe(filter string, qos byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribed = append(f.subscribed, filter)

	if f.subAck {
		f.push(SubAck{Granted: map[string]byte{filter: f.granted}, Err: f.subAckErr})
	}
	for _, m := range f.inbox[filter] {
		f.push(m)
	}
	delete(f.inbox, filter)

	if f.dropAfterSubscribe {
		f.push(Disconnect{Code: codeNetworkError, Err: errors.New("connection reset by peer")})
	}
	return nil
}

func (f *fakeCore) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeCore) Upkeep() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upkeeps++
	return f.upkeepErr
}

func (f *fakeCore) setUpkeepErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upkeepErr = err
}

func (f *fakeCore) queue(filter string, msgs ...Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox[filter] = append(f.inbox[filter], msgs...)
}

func (f *fakeCore) counts() (published, subscribed, disconnects, upkeeps int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published), len(f.subscribed), f.disconnects, f.upkeeps
}

// fakeTransport pushes events (Notifier).
type fakeTransport struct {
	*fakeCore
}

func (f fakeTransport) Events() <-chan Event {
	return f.events
}

// pollTransport only hands events out when polled (Poller).
type pollTransport struct {
	*fakeCore
}

func (p pollTransport) Poll() []Event {
	var out []Event
	for {
		select {
		case ev := <-p.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// fastTimings keeps unit tests well under a second.
func fastTimings() Timings {
	return Timings{
		KeepAlive:    60 * time.Second,
		Connect:      200 * time.Millisecond,
		SubscribeAck: 100 * time.Millisecond,
		Settle:       5 * time.Millisecond,
		PublishAck:   200 * time.Millisecond,
		Flush:        time.Millisecond,
		Grace:        time.Millisecond,
		Upkeep:       10 * time.Millisecond,
		Poll:         5 * time.Millisecond,
	}
}

func testEndpoint() Endpoint {
	return Endpoint{Host: "broker.test", Port: 1883}
}

func useTransport(t Transport) Option {
	return WithTransport(func(Endpoint, Timings) Transport { return t })
}

// openFake opens a Conn over f and closes it when the test ends.
func openFake(t *testing.T, f *fakeCore, opts ...Option) *Conn {
	t.Helper()

	all := append([]Option{WithTimings(fastTimings()), useTransport(fakeTransport{f})}, opts...)
	conn, err := Open(context.Background(), testEndpoint(), all...)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// eventually polls cond until it holds or a second has passed.
func eventually(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", fmt.Sprintf(format, args...))
}

// recorder collects what a base handler saw.
type recorder[A any] struct {
	mu   sync.Mutex
	seen []A
}

func (r *recorder[A]) handle(a A) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, a)
}

func (r *recorder[A]) all() []A {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]A(nil), r.seen...)
}

// testLogger records warn messages.
type testLogger struct {
	nopLogger
	mu    sync.Mutex
	warns []string
}

func (l *testLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *testLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}
