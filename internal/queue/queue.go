// Package queue serializes outbound API calls through a single worker
// with sliding-window rate limiting and retry-with-backoff for transient
// failures.
package queue

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrCleared rejects tasks that were still pending when the queue was
// cleared.
var ErrCleared = errors.New("request queue cleared")

// ErrClosed rejects tasks submitted after the queue shut down.
var ErrClosed = errors.New("request queue closed")

// Clock abstracts time for the worker so tests can run without real
// sleeps.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Task is one unit of work executed by the queue worker.
type Task func(ctx context.Context) error

// Options configures a Queue. Zero values fall back to the defaults
// noted on each field.
type Options struct {
	// MaxPerMinute caps started requests in any sliding 60s window.
	// Default 60.
	MaxPerMinute int
	// MaxRetries is the number of re-attempts after a retryable
	// failure. Default 3.
	MaxRetries int
	// BackoffBase is the first retry delay; subsequent delays double.
	// Default 1s.
	BackoffBase time.Duration
	// Retryable classifies errors worth retrying. Default
	// DefaultRetryable.
	Retryable func(error) bool
	// Clock defaults to the wall clock.
	Clock Clock
}

type pending struct {
	task Task
	done chan error
}

// Queue is a FIFO request queue processed by one worker goroutine.
// A failed retryable task is retried in place, so nothing queued behind
// it can overtake it.
type Queue struct {
	opts    Options
	spacing time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []*pending
	closed  bool
	started []time.Time
	lastRun time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a queue and starts its worker.
func New(opts Options) *Queue {
	if opts.MaxPerMinute <= 0 {
		opts.MaxPerMinute = 60
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.Retryable == nil {
		opts.Retryable = DefaultRetryable
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		opts:    opts,
		spacing: time.Minute / time.Duration(opts.MaxPerMinute),
		ctx:     ctx,
		cancel:  cancel,
	}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.worker()
	return q
}

// Do enqueues the task and blocks until it has been executed, the queue
// is cleared or closed, or ctx is cancelled.
func (q *Queue) Do(ctx context.Context, task Task) error {
	p := &pending{task: task, done: make(chan error, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.tasks = append(q.tasks, p)
	q.cond.Signal()
	q.mu.Unlock()

	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports how many tasks are waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Clear rejects every pending task with ErrCleared. The task currently
// executing is unaffected.
func (q *Queue) Clear() {
	q.mu.Lock()
	dropped := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	for _, p := range dropped {
		p.done <- ErrCleared
	}
	if len(dropped) > 0 {
		log.Debug().Int("dropped", len(dropped)).Msg("Cleared request queue")
	}
}

// Close stops the worker and rejects all pending tasks.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.Clear()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		p := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		p.done <- q.run(p.task)
	}
}

// run executes one task, applying the rate limit before every attempt
// and backing off between retryable failures.
func (q *Queue) run(task Task) error {
	var err error
	for attempt := 0; attempt <= q.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := q.opts.BackoffBase << (attempt - 1)
			log.Debug().Int("attempt", attempt).Dur("backoff", delay).Msg("Retrying queued request")
			if serr := q.opts.Clock.Sleep(q.ctx, delay); serr != nil {
				return err
			}
		}
		if serr := q.waitForSlot(); serr != nil {
			return serr
		}
		err = task(q.ctx)
		if err == nil || !q.opts.Retryable(err) {
			return err
		}
	}
	return err
}

// waitForSlot blocks until starting a request would violate neither the
// sliding window nor the minimum spacing.
func (q *Queue) waitForSlot() error {
	for {
		now := q.opts.Clock.Now()

		q.mu.Lock()
		cutoff := now.Add(-time.Minute)
		kept := q.started[:0]
		for _, t := range q.started {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		q.started = kept

		var wait time.Duration
		if len(q.started) >= q.opts.MaxPerMinute {
			wait = q.started[0].Add(time.Minute).Sub(now)
		}
		if !q.lastRun.IsZero() {
			if gap := q.spacing - now.Sub(q.lastRun); gap > wait {
				wait = gap
			}
		}
		if wait <= 0 {
			q.started = append(q.started, now)
			q.lastRun = now
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()

		if err := q.opts.Clock.Sleep(q.ctx, wait); err != nil {
			return err
		}
	}
}

// statusCoder is implemented by API errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// DefaultRetryable retries connection resets, timeouts, rate-limit
// responses and server errors.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatus()
		return code == 429 || code >= 500
	}
	return false
}
