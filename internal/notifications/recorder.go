package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"photoscan/internal/logging"
	"photoscan/internal/protocol"
	"photoscan/internal/store"
)

// Recorder is the run history sink that Notifier decorates.
type Recorder interface {
	RecordEvent(ctx context.Context, ev store.Event) error
	SetImageCount(ctx context.Context, title string, count int) error
}

// Notifier forwards run history to the next recorder and sends a
// notification on every terminal event.
type Notifier struct {
	next    Recorder
	svc     Service
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	images map[string]int
}

// NewNotifier wraps next. A nil next only notifies.
func NewNotifier(next Recorder, svc Service, timeout time.Duration, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	if svc == nil {
		svc = noopService{}
	}
	return &Notifier{
		next:    next,
		svc:     svc,
		logger:  logger,
		timeout: timeout,
		images:  make(map[string]int),
	}
}

// SetImageCount implements Recorder.
func (n *Notifier) SetImageCount(ctx context.Context, title string, count int) error {
	n.mu.Lock()
	n.images[title] = count
	n.mu.Unlock()
	if n.next == nil {
		return nil
	}
	return n.next.SetImageCount(ctx, title, count)
}

// RecordEvent implements Recorder. Notification failures are logged, never
// returned.
func (n *Notifier) RecordEvent(ctx context.Context, ev store.Event) error {
	var err error
	if n.next != nil {
		err = n.next.RecordEvent(ctx, ev)
	}

	switch protocol.Status(ev.Status) {
	case protocol.StatusCompleted:
		n.mu.Lock()
		images := n.images[ev.Title]
		delete(n.images, ev.Title)
		n.mu.Unlock()
		n.deliver(ev, func(ctx context.Context) error {
			return n.svc.NotifyReconstructionCompleted(ctx, ev.Title, images)
		})
	case protocol.StatusFailed:
		n.mu.Lock()
		delete(n.images, ev.Title)
		n.mu.Unlock()
		n.deliver(ev, func(ctx context.Context) error {
			return n.svc.NotifyReconstructionFailed(ctx, ev.Title, ev.Step, ev.Message)
		})
	}
	return err
}

func (n *Notifier) deliver(ev store.Event, send func(context.Context) error) {
	// The run context may already be cancelled when the run fails.
	ctx := context.Background()
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	if err := send(ctx); err != nil {
		logging.WarnWithContext(n.logger, "notification not sent", "notification_failed",
			logging.String(logging.FieldSession, ev.Title),
			logging.String("status", ev.Status),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}
