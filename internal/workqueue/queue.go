package workqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"photoscan/internal/logging"
	"photoscan/internal/services"
)

// Option configures a Queue.
type Option func(*Queue)

// WithLimiter shares a cross-session concurrency limiter.
func WithLimiter(l *Limiter) Option {
	return func(q *Queue) { q.limiter = l }
}

// WithLogger sets the queue logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// Queue runs items one at a time in FIFO order.
type Queue struct {
	kind    Kind
	runner  Runner
	logger  *slog.Logger
	limiter *Limiter

	mu        sync.Mutex
	pending   []*Ticket
	current   *Ticket
	processed int
	lastItem  string
	failure   error
	stopErr   error
	closing   bool
	started   bool

	wake   chan struct{}
	failed chan struct{}
	done   chan struct{}
}

// New constructs an idle queue. Items may be enqueued before Start; they run
// once the worker starts.
func New(kind Kind, runner Runner, opts ...Option) *Queue {
	q := &Queue{
		kind:   kind,
		runner: runner,
		logger: logging.NewNop(),
		wake:   make(chan struct{}, 1),
		failed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With(logging.String("queue", string(kind)))
	return q
}

// Kind reports which tool this queue serializes.
func (q *Queue) Kind() Kind { return q.kind }

// Start launches the worker. Cancelling ctx cancels the running item and
// fails everything still pending. Start is a no-op after the first call.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()
	go q.work(ctx)
}

// Enqueue appends item and returns immediately.
func (q *Queue) Enqueue(item Item) (*Ticket, error) {
	if item.Kind == "" {
		item.Kind = q.kind
	}
	if item.Kind != q.kind {
		return nil, services.Wrap(services.ErrValidation, string(q.kind), "enqueue",
			fmt.Sprintf("item kind %q does not match queue", item.Kind), nil)
	}

	q.mu.Lock()
	if q.stopErr != nil {
		err := q.stopErr
		q.mu.Unlock()
		return nil, err
	}
	ticket := newTicket(item)
	q.pending = append(q.pending, ticket)
	q.mu.Unlock()

	q.signal()
	return ticket, nil
}

// Status summarizes the queue. It has no side effects.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Status{
		Pending:   len(q.pending),
		LastItem:  q.lastItem,
		Processed: q.processed,
		Failure:   q.failure,
	}
	if q.current != nil {
		st.Running = 1
	}
	st.Completed = st.Processed > 0 && st.Pending == 0 && st.Running == 0
	return st
}

// Failed is closed when the first item fails.
func (q *Queue) Failed() <-chan struct{} { return q.failed }

// Abort rejects all future work and cancels pending items with an error
// wrapping ErrAborted and cause. The running item, if any, finishes.
func (q *Queue) Abort(cause error) {
	err := ErrAborted
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrAborted, cause)
	}
	q.stop(err, false)
}

// Close stops the worker once the running item finishes and cancels pending
// items with ErrClosed.
func (q *Queue) Close() {
	q.stop(ErrClosed, true)
	q.signal()
}

// Wait blocks until the worker has exited after Close or cancellation.
func (q *Queue) Wait(ctx context.Context) error {
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) stop(err error, closing bool) {
	q.mu.Lock()
	q.closing = q.closing || closing
	if q.stopErr != nil {
		q.mu.Unlock()
		return
	}
	q.stopErr = err
	dropped := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, t := range dropped {
		t.complete(err)
	}
	if len(dropped) > 0 {
		q.logger.Info("pending work cancelled",
			logging.Int("dropped", len(dropped)),
			logging.String(logging.FieldEventType, "queue_stopped"),
			logging.Error(err),
		)
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) work(ctx context.Context) {
	defer close(q.done)
	for {
		ticket, ok := q.next(ctx)
		if !ok {
			return
		}
		err := q.execute(ctx, ticket.Item)
		q.finish(ticket, err)
	}
}

func (q *Queue) next(ctx context.Context) (*Ticket, bool) {
	for {
		if err := ctx.Err(); err != nil {
			q.stop(fmt.Errorf("%w: %w", ErrClosed, err), true)
			return nil, false
		}
		q.mu.Lock()
		if len(q.pending) > 0 {
			ticket := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.current = ticket
			q.mu.Unlock()
			return ticket, true
		}
		closing := q.closing
		q.mu.Unlock()
		if closing {
			return nil, false
		}

		select {
		case <-ctx.Done():
			q.stop(fmt.Errorf("%w: %w", ErrClosed, ctx.Err()), true)
			return nil, false
		case <-q.wake:
		}
	}
}

func (q *Queue) execute(ctx context.Context, item Item) (err error) {
	if err := q.limiter.acquire(ctx); err != nil {
		return q.tag(item, err)
	}
	defer q.limiter.release()

	defer func() {
		if r := recover(); r != nil {
			err = q.tag(item, fmt.Errorf("runner panic: %v", r))
		}
	}()

	started := time.Now()
	q.logger.Debug("item started", logging.String("item", item.ID))
	if runErr := q.runner.Run(ctx, item); runErr != nil {
		return q.tag(item, runErr)
	}
	q.logger.Debug("item finished",
		logging.String("item", item.ID),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func (q *Queue) tag(item Item, err error) error {
	marker := q.kind.marker()
	if errors.Is(err, marker) {
		return err
	}
	return services.Wrap(marker, string(q.kind), item.ID, "", err)
}

func (q *Queue) finish(ticket *Ticket, err error) {
	q.mu.Lock()
	q.current = nil
	q.processed++
	q.lastItem = ticket.Item.ID
	first := err != nil && q.failure == nil
	if first {
		q.failure = err
	}
	q.mu.Unlock()

	if first {
		close(q.failed)
		logging.ErrorWithContext(q.logger, "work item failed", "queue_item_failed",
			logging.String("item", ticket.Item.ID),
			logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the tool output above; the session must be restarted"),
		)
	}
	ticket.complete(err)
}
