package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a Conn.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Conn is one broker connection driven as a sequence of blocking operations.
//
// A Conn is owned by the caller that opened it. It carries one outstanding
// Receive and one outstanding Publish acknowledgment at a time; a second
// concurrent call of the same kind fails with ErrBusy instead of replacing
// the first one's handler.
type Conn struct {
	endpoint  Endpoint
	transport Transport
	bridge    *readiness
	timings   Timings
	logger    Logger
	policy    UpkeepPolicy

	state atomic.Int32

	// Handler slots, one per callback kind. All are fired from the
	// readiness dispatch goroutine.
	onConnect    slot[ConnAck]
	onMessage    slot[Message]
	onSubscribe  slot[SubAck]
	onPublish    slot[PubAck]
	onDisconnect slot[Disconnect]

	// pending holds the operations to fail if the session is lost.
	pendingMu sync.Mutex
	pending   map[failer]struct{}
	lostErr   error

	receiving  atomic.Bool
	publishing atomic.Bool

	closeOnce sync.Once
}

type failer interface {
	fail(err error)
}

// Open establishes a connection to the broker at ep.
//
// It performs the following setup:
//  1. Attaches the readiness bridge to a new transport
//  2. Issues CONNECT with the configured keepalive
//  3. Waits for CONNACK, bounded by Timings.Connect
//
// Parameters:
//   - ctx: Context for cancellation of the connect wait
//   - ep: Broker endpoint and credentials
//   - opts: Optional timings, logger, upkeep policy or transport
//
// Returns:
//   - *Conn: Connected Conn; call Close when done
//   - error: ErrConnectTimeout, ErrConnectRejected, ErrUnexpectedDisconnect
//     or ErrInvalidEndpoint
func Open(ctx context.Context, ep Endpoint, opts ...Option) (*Conn, error) {
	if err := ep.validate(); err != nil {
		return nil, err
	}
	ep = ep.withClientID()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Conn{
		endpoint: ep,
		timings:  o.timings,
		logger:   o.logger,
		policy:   o.policy,
		pending:  make(map[failer]struct{}),
	}
	c.transport = o.transport(ep, o.timings)
	c.bridge = newReadiness(c.transport, c.dispatch, o.timings, o.logger, c.upkeepFailed)
	c.onDisconnect.set(c.handleDisconnect)

	c.setState(StateConnecting)
	connected := install("connect", &c.onConnect, func(a ConnAck) (ConnAck, bool) {
		return a, true
	})
	defer connected.release()
	defer c.track(connected)()

	c.bridge.attach()

	if err := c.transport.Connect(); err != nil {
		c.abort()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectTimeout, ep.Address(), err)
	}

	ack, err := connected.wait(ctx, c.timings.Connect)
	if err != nil {
		c.abort()
		if errors.Is(err, ErrTimeout) {
			return nil, fmt.Errorf("%w: broker at %s did not answer: %w", ErrConnectTimeout, ep.Address(), err)
		}
		return nil, err
	}

	switch {
	case ack.accepted():
		c.setState(StateConnected)
		c.logger.Debug("MQTT connected", "broker", ep.Address(), "client_id", ep.ClientID)
		return c, nil
	case ack.refused():
		c.abort()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectRejected, ep.Address(), &ReasonError{Op: "connect", Code: ack.Code})
	default:
		c.abort()
		return nil, fmt.Errorf("%w: %s unreachable: %w", ErrConnectTimeout, ep.Address(), ack.Err)
	}
}

// Close gracefully disconnects from the broker.
//
// It detaches the readiness bridge, issues DISCONNECT, fails any wait still
// outstanding with ErrNotConnected and sleeps the grace delay. Close is
// idempotent and always returns nil.
func (c *Conn) Close() error {
	if c == nil || c.bridge == nil {
		return nil
	}

	c.closeOnce.Do(func() {
		if c.State() != StateFailed {
			c.setState(StateDisconnecting)
		}
		c.bridge.detach()
		c.transport.Disconnect()
		c.lose(ErrNotConnected)
		time.Sleep(c.timings.Grace)
		c.setState(StateDisconnected)
		c.logger.Debug("MQTT disconnected", "broker", c.endpoint.Address())
	})

	return nil
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Endpoint returns the broker endpoint, including the effective client ID.
func (c *Conn) Endpoint() Endpoint {
	return c.endpoint
}

// IsConnected reports whether the Conn is usable for operations.
func (c *Conn) IsConnected() bool {
	return c.State() == StateConnected
}

// HealthCheck verifies the connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Conn) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.transport.Upkeep(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	return nil
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
}

// abort tears down a connection attempt that did not succeed.
func (c *Conn) abort() {
	c.setState(StateFailed)
	c.bridge.detach()
	c.transport.Disconnect()
}

// dispatch routes a transport event to the handler slot of its kind.
// It runs on the readiness dispatch goroutine.
func (c *Conn) dispatch(ev Event) {
	switch e := ev.(type) {
	case ConnAck:
		c.onConnect.fire(e)
	case Message:
		c.onMessage.fire(e)
	case SubAck:
		c.onSubscribe.fire(e)
	case PubAck:
		c.onPublish.fire(e)
	case Disconnect:
		c.onDisconnect.fire(e)
	}
}

// handleDisconnect is the base disconnect handler installed by Open.
func (c *Conn) handleDisconnect(d Disconnect) {
	if d.Code == 0 {
		return
	}

	switch c.State() {
	case StateConnecting, StateConnected:
	default:
		return
	}

	c.setState(StateFailed)
	c.stopBridge()
	c.logger.Warn("MQTT connection lost",
		"broker", c.endpoint.Address(),
		"code", d.Code,
		"error", d.Err,
	)

	err := fmt.Errorf("%w: %w", ErrUnexpectedDisconnect, &ReasonError{Op: "disconnect", Code: d.Code})
	if d.Err != nil {
		err = fmt.Errorf("%w: %w", err, d.Err)
	}
	c.lose(err)
}

// stopBridge detaches the readiness bridge once the session is gone.
// It is called from bridge goroutines, so the wait for them to exit
// happens on a separate goroutine.
func (c *Conn) stopBridge() {
	go c.bridge.detach()
}

// upkeepFailed applies the upkeep policy. It runs on the maintenance goroutine.
func (c *Conn) upkeepFailed(err error) {
	if c.policy != UpkeepEscalate || c.State() != StateConnected {
		return
	}

	c.setState(StateFailed)
	c.stopBridge()
	c.logger.Warn("MQTT upkeep failed", "broker", c.endpoint.Address(), "error", err)
	c.lose(fmt.Errorf("%w: upkeep: %w", ErrUnexpectedDisconnect, err))
}

// track registers an operation to be failed if the session is lost and
// returns the function that unregisters it.
func (c *Conn) track(f failer) func() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if c.lostErr != nil {
		f.fail(c.lostErr)
		return func() {}
	}

	c.pending[f] = struct{}{}
	return func() {
		c.pendingMu.Lock()
		delete(c.pending, f)
		c.pendingMu.Unlock()
	}
}

// lose fails every tracked operation with err. Only the first cause is kept.
func (c *Conn) lose(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if c.lostErr != nil {
		return
	}
	c.lostErr = err
	for f := range c.pending {
		f.fail(err)
	}
	clear(c.pending)
}

// checkUsable returns the reason the Conn cannot run operations, if any.
func (c *Conn) checkUsable() error {
	if c.State() == StateConnected {
		return nil
	}

	c.pendingMu.Lock()
	lost := c.lostErr
	c.pendingMu.Unlock()
	if lost != nil {
		return lost
	}
	return fmt.Errorf("%w: state %s", ErrNotConnected, c.State())
}

// pause sleeps for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
