package mqtt

import "sync"

// Outcome is a single-assignment result slot that bridges a callback event
// to a waiting caller.
//
// The first call to Settle or Fail wins; later calls are ignored and report
// false. Done is closed on settlement, so any number of waiters observe the
// same value and error. Settlement is safe from any goroutine.
type Outcome[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewOutcome returns an unsettled Outcome.
func NewOutcome[T any]() *Outcome[T] {
	return &Outcome[T]{done: make(chan struct{})}
}

// Settle records a success value. It reports whether this call settled the Outcome.
func (o *Outcome[T]) Settle(v T) bool {
	settled := false
	o.once.Do(func() {
		o.value = v
		settled = true
		close(o.done)
	})
	return settled
}

// Fail records a failure cause. It reports whether this call settled the Outcome.
func (o *Outcome[T]) Fail(err error) bool {
	settled := false
	o.once.Do(func() {
		o.err = err
		settled = true
		close(o.done)
	})
	return settled
}

// Done is closed once the Outcome has been settled.
func (o *Outcome[T]) Done() <-chan struct{} {
	return o.done
}

// Result returns the settled value and error.
// It must only be called after Done is closed.
func (o *Outcome[T]) Result() (T, error) {
	<-o.done
	return o.value, o.err
}

// Settled reports whether the Outcome already holds a result.
func (o *Outcome[T]) Settled() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}
