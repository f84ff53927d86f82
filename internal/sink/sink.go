package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"flowmap-stream-go/internal/client"
	"flowmap-stream-go/internal/logging"
)

// Sink consumes client events outside the client's event goroutine.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev client.Event) error
	Close() error
}

const DefaultQueueSize = 64

// worker feeds one sink from its own queue, so each sink sees events in the
// order they were dispatched.
type worker struct {
	sink    Sink
	queue   chan client.Event
	dropped atomic.Uint64
}

// Fanout hands every event to each sink. Dispatch never blocks: when a
// sink's queue is full the event is dropped for that sink and counted.
type Fanout struct {
	pool    *ants.Pool
	workers []*worker
	logger  *zap.Logger
	timeout time.Duration
	errLog  *logging.EveryN
	dropLog *logging.EveryN

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
	running sync.WaitGroup
}

func NewFanout(queueSize int, logger *zap.Logger, sinks ...Sink) (*Fanout, error) {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fanout{
		logger:  logger,
		timeout: 5 * time.Second,
		errLog:  logging.NewEveryN(50),
		dropLog: logging.NewEveryN(50),
	}
	size := len(sinks)
	if size == 0 {
		size = 1
	}
	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	f.pool = pool

	for _, s := range sinks {
		w := &worker{sink: s, queue: make(chan client.Event, queueSize)}
		f.running.Add(1)
		if err := pool.Submit(func() { f.drain(w) }); err != nil {
			f.running.Done()
			pool.Release()
			return nil, fmt.Errorf("start sink %s: %w", s.Name(), err)
		}
		f.workers = append(f.workers, w)
	}
	return f, nil
}

func (f *Fanout) drain(w *worker) {
	defer f.running.Done()
	for ev := range w.queue {
		f.handle(w.sink, ev)
	}
}

func (f *Fanout) handle(s Sink, ev client.Event) {
	defer f.pending.Done()
	defer func() {
		if p := recover(); p != nil {
			f.logger.Error("sink panicked", zap.String("sink", s.Name()), zap.Any("panic", p))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	if err := s.Handle(ctx, ev); err != nil {
		if ok, count := f.errLog.Allow(); ok {
			f.logger.Warn("sink failed",
				zap.String("sink", s.Name()),
				zap.Stringer("event", ev.Kind),
				zap.Error(err),
				zap.Uint64("failures", count),
			)
		}
	}
}

// Dispatch queues ev for every sink.
func (f *Fanout) Dispatch(ev client.Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for _, w := range f.workers {
		f.pending.Add(1)
		select {
		case w.queue <- ev:
		default:
			f.pending.Done()
			n := w.dropped.Add(1)
			if ok, _ := f.dropLog.Allow(); ok {
				f.logger.Warn("sink queue full, event dropped",
					zap.String("sink", w.sink.Name()),
					zap.Stringer("event", ev.Kind),
					zap.Uint64("dropped", n),
				)
			}
		}
	}
}

// Listener adapts the fanout for client.Subscribe.
func (f *Fanout) Listener() client.Listener {
	return f.Dispatch
}

// Dropped returns the number of events dropped per sink name.
func (f *Fanout) Dropped() map[string]uint64 {
	out := make(map[string]uint64, len(f.workers))
	for _, w := range f.workers {
		out[w.sink.Name()] += w.dropped.Load()
	}
	return out
}

// Wait blocks until all queued events have been handled.
func (f *Fanout) Wait() {
	f.pending.Wait()
}

// Close handles what is queued, stops the workers and closes the sinks.
func (f *Fanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	for _, w := range f.workers {
		close(w.queue)
	}
	f.mu.Unlock()

	f.running.Wait()
	f.pool.Release()
	var errs []error
	for _, w := range f.workers {
		if err := w.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
