package audit

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Async.Record once the writer has stopped.
var ErrClosed = errors.New("audit writer closed")

// asyncQueueSize is the buffer size of the async writer.
// Entries beyond this are dropped to avoid back-pressure on tool calls.
const asyncQueueSize = 256

// Logger is the subset of logging.Logger used by Async.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Async queues entries and writes them to a Repository on one goroutine.
// SQLite allows one writer, so serial writes avoid lock contention.
// List reads straight through.
type Async struct {
	repo   Repository
	logger Logger
	queue  chan *Entry

	// mu guards closed against enqueues racing the final flush.
	mu     sync.RWMutex
	closed bool

	once sync.Once
	stop context.CancelFunc
	done chan struct{}
}

// NewAsync creates an async writer in front of repo. Call Start before use.
func NewAsync(repo Repository, logger Logger) *Async {
	return &Async{
		repo:   repo,
		logger: logger,
		queue:  make(chan *Entry, asyncQueueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the writer goroutine. It runs until Close or ctx ends.
func (a *Async) Start(ctx context.Context) {
	ctx, a.stop = context.WithCancel(ctx)
	go a.drain(ctx)
}

// Record enqueues e. It never blocks; a full queue drops the entry.
// After Close, or once the Start context ends, it returns ErrClosed.
func (a *Async) Record(_ context.Context, e *Entry) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrClosed
	}

	select {
	case a.queue <- e:
	default:
		a.logger.Warn("audit queue full, dropping entry",
			"action", e.Action,
			"topic", e.Topic,
		)
	}
	return nil
}

// List queries the underlying repository.
func (a *Async) List(ctx context.Context, filter Filter) (*ListResult, error) {
	return a.repo.List(ctx, filter)
}

// Close stops the writer after flushing queued entries.
func (a *Async) Close() {
	a.once.Do(func() {
		a.markClosed()
		if a.stop == nil {
			return
		}
		a.stop()
		<-a.done
	})
}

// drain writes entries serially until ctx is cancelled, then flushes the rest.
func (a *Async) drain(ctx context.Context) {
	defer close(a.done)

	for {
		select {
		case e := <-a.queue:
			a.write(e)
		case <-ctx.Done():
			a.markClosed()
			for {
				select {
				case e := <-a.queue:
					a.write(e)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) markClosed() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

func (a *Async) write(e *Entry) {
	if err := a.repo.Record(context.Background(), e); err != nil {
		a.logger.Error("audit log write failed",
			"action", e.Action,
			"topic", e.Topic,
			"error", err,
		)
	}
}
