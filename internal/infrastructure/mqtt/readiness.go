package mqtt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// readiness drives a Transport on behalf of one Conn.
//
// A single dispatch goroutine delivers every transport event to the Conn and
// runs calls marshaled with call, so handler invocation, outcome settlement
// and request issue never interleave. Transports that implement Notifier are
// drained as events arrive; transports that only implement Poller are polled
// on an interval. A second goroutine runs the maintenance task.
type readiness struct {
	transport Transport
	deliver   func(Event)
	timings   Timings
	logger    Logger

	// onUpkeepFailure is called from the maintenance goroutine when
	// Upkeep fails. It must not call detach.
	onUpkeepFailure func(error)

	calls chan func()
	stop  chan struct{}
	wg    sync.WaitGroup

	attachOnce sync.Once
	detachOnce sync.Once
	attached   atomic.Bool
}

func newReadiness(t Transport, deliver func(Event), timings Timings, logger Logger, onUpkeepFailure func(error)) *readiness {
	return &readiness{
		transport:       t,
		deliver:         deliver,
		timings:         timings,
		logger:          logger,
		onUpkeepFailure: onUpkeepFailure,
		calls:           make(chan func()),
		stop:            make(chan struct{}),
	}
}

// attach starts dispatch and maintenance. Only the first call has an effect.
func (r *readiness) attach() {
	r.attachOnce.Do(func() {
		select {
		case <-r.stop:
			return
		default:
		}
		r.attached.Store(true)
		r.wg.Add(2)
		go r.dispatch()
		go r.maintain()
	})
}

// detach stops dispatch and maintenance and waits for both to exit.
// Safe to call more than once, and before or without attach.
func (r *readiness) detach() {
	r.detachOnce.Do(func() {
		close(r.stop)
	})
	r.wg.Wait()
	r.attached.Store(false)
}

// isAttached reports whether the dispatch loop is running.
func (r *readiness) isAttached() bool {
	return r.attached.Load()
}

// call runs fn on the dispatch goroutine and waits for it to return.
// No event is delivered while fn runs.
func (r *readiness) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case r.calls <- wrapped:
	case <-r.stop:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	<-done
	return nil
}

func (r *readiness) dispatch() {
	defer r.wg.Done()

	var (
		events <-chan Event
		poller Poller
		poll   <-chan time.Time
	)
	if n, ok := r.transport.(Notifier); ok {
		events = n.Events()
	} else if p, ok := r.transport.(Poller); ok {
		poller = p
		ticker := time.NewTicker(r.timings.Poll)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		select {
		case <-r.stop:
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.safely(func() { r.deliver(ev) })
		case <-poll:
			for _, ev := range poller.Poll() {
				r.safely(func() { r.deliver(ev) })
			}
		case fn := <-r.calls:
			r.safely(fn)
		}
	}
}

// maintain calls Upkeep every interval until it fails or the bridge detaches.
func (r *readiness) maintain() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.timings.Upkeep)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.transport.Upkeep(); err != nil {
				r.logger.Debug("MQTT upkeep stopped", "error", err)
				if r.onUpkeepFailure != nil {
					r.onUpkeepFailure(err)
				}
				return
			}
		}
	}
}

// safely runs fn with panic recovery so a faulty handler cannot stop dispatch.
func (r *readiness) safely(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("MQTT handler panic recovered", "panic", rec)
		}
	}()
	fn()
}
