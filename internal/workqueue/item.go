package workqueue

import (
	"context"
	"errors"

	"photoscan/internal/services"
)

// Kind identifies which external tool a queue serializes.
type Kind string

const (
	KindSubjectRemoval Kind = "subject-removal"
	KindRegistration   Kind = "registration"
)

func (k Kind) marker() error {
	if k == KindRegistration {
		return services.ErrRegistrationFailed
	}
	return services.ErrRemovalFailed
}

// Item is one unit of per-image work. Items are immutable once enqueued.
type Item struct {
	ID         string
	SessionDir string
	Kind       Kind
}

// Runner executes a single item. A returned error marks the item failed; the
// queue tags it with the failure kind of the queue.
type Runner interface {
	Run(ctx context.Context, item Item) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, item Item) error

func (f RunnerFunc) Run(ctx context.Context, item Item) error { return f(ctx, item) }

var (
	// ErrAborted is returned for items rejected or cancelled after Abort.
	ErrAborted = errors.New("work queue aborted")
	// ErrClosed is returned for items rejected or cancelled after Close.
	ErrClosed = errors.New("work queue closed")
)

// Ticket is the future for one enqueued item.
type Ticket struct {
	Item Item
	done chan struct{}
	err  error
}

func newTicket(item Item) *Ticket {
	return &Ticket{Item: item, done: make(chan struct{})}
}

func (t *Ticket) complete(err error) {
	t.err = err
	close(t.done)
}

// Done is closed once the item has finished, failed or been cancelled.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Err returns the item's result. It is only meaningful after Done is closed.
func (t *Ticket) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the item finishes or ctx is cancelled.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status is a point-in-time summary of a queue.
type Status struct {
	Pending   int
	Running   int
	LastItem  string
	Processed int
	// Completed is true once something has run and nothing is pending or
	// running.
	Completed bool
	// Failure is the first item failure, if any.
	Failure error
}

// Outstanding is the number of items not yet finished.
func (s Status) Outstanding() int {
	return s.Pending + s.Running
}
