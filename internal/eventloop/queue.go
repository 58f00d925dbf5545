package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned by Run when the queue was stopped explicitly.
var ErrStopped = errors.New("eventloop: stopped")

// Queue is a Loop backed by one goroutine.
type Queue struct {
	logger *zap.Logger

	mu      sync.Mutex
	tasks   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
	once    sync.Once
	running atomic.Bool
}

// New creates a queue. Tasks run once Run is called.
func New(logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post implements Loop. Tasks posted after Stop are discarded.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Every implements Loop. Each tick is posted as a task.
func (q *Queue) Every(period time.Duration, fn func()) Timer {
	t := &tickTimer{stop: make(chan struct{})}
	ticker := time.NewTicker(period)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.Post(func() {
					if !t.stopped.Load() {
						fn()
					}
				})
			case <-t.stop:
				return
			case <-q.done:
				return
			}
		}
	}()
	return t
}

// Run drains the queue until ctx is cancelled or Stop is called.
func (q *Queue) Run(ctx context.Context) error {
	if !q.running.CompareAndSwap(false, true) {
		return errors.New("eventloop: already running")
	}
	defer q.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			q.Stop()
			return ctx.Err()
		case <-q.done:
			return ErrStopped
		case <-q.wake:
		}

		q.mu.Lock()
		batch := q.tasks
		q.tasks = nil
		q.mu.Unlock()

		for _, fn := range batch {
			q.run(fn)
		}
	}
}

// Stop ends Run and discards queued tasks.
func (q *Queue) Stop() {
	q.once.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.tasks = nil
		q.mu.Unlock()
		close(q.done)
	})
}

// Done is closed once the queue is stopped.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Event loop task panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

type tickTimer struct {
	stopped atomic.Bool
	once    sync.Once
	stop    chan struct{}
}

func (t *tickTimer) Stop() {
	t.once.Do(func() {
		t.stopped.Store(true)
		close(t.stop)
	})
}
