package mqtt

import (
	"context"
	"sync"
	"time"
)

// slot holds the single installed handler for one callback kind.
type slot[A any] struct {
	mu sync.Mutex
	h  func(A)
}

// set installs h and returns the handler it replaced.
func (s *slot[A]) set(h func(A)) func(A) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.h
	s.h = h
	return prev
}

// fire invokes the installed handler, if any.
func (s *slot[A]) fire(a A) {
	s.mu.Lock()
	h := s.h
	s.mu.Unlock()
	if h != nil {
		h(a)
	}
}

// installed reports whether a handler is present.
func (s *slot[A]) installed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h != nil
}

// operation turns one callback kind into a single awaited result.
//
// While installed, the first invocation accepted by match settles the
// operation and is not forwarded. Every other invocation, including matches
// after settlement, is passed to the handler that was installed before.
// release puts that handler back. Releases on one slot must happen in
// reverse install order.
type operation[A, T any] struct {
	name string
	slot *slot[A]
	prev func(A)
	out  *Outcome[T]
	once sync.Once
}

func install[A, T any](name string, s *slot[A], match func(A) (T, bool)) *operation[A, T] {
	op := &operation[A, T]{
		name: name,
		slot: s,
		out:  NewOutcome[T](),
	}

	s.mu.Lock()
	op.prev = s.h
	s.h = op.handle(match)
	s.mu.Unlock()

	return op
}

func (op *operation[A, T]) handle(match func(A) (T, bool)) func(A) {
	return func(a A) {
		if !op.out.Settled() {
			if v, ok := match(a); ok && op.out.Settle(v) {
				return
			}
		}
		if op.prev != nil {
			op.prev(a)
		}
	}
}

// wait blocks until the operation settles, bound elapses or ctx is done.
func (op *operation[A, T]) wait(ctx context.Context, bound time.Duration) (T, error) {
	timer := time.NewTimer(bound)
	defer timer.Stop()

	select {
	case <-op.out.Done():
		return op.out.Result()
	case <-timer.C:
		var zero T
		return zero, &TimeoutError{Op: op.name, After: bound}
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// fail settles the operation with err unless it already holds a result.
func (op *operation[A, T]) fail(err error) {
	op.out.Fail(err)
}

// release restores the previously installed handler. Safe to call more than once.
func (op *operation[A, T]) release() {
	op.once.Do(func() {
		op.slot.set(op.prev)
	})
}
