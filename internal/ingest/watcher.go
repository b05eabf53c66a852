package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"photoscan/internal/fileutil"
	"photoscan/internal/logging"
	"photoscan/internal/services"
	"photoscan/internal/services/rembg"
	"photoscan/internal/workqueue"
	"photoscan/internal/workspace"
)

// Process is a long-running helper whose exit aborts ingestion, such as the
// rembg folder watcher.
type Process interface {
	Done() <-chan struct{}
	Err() error
}

// Options configures a Watcher.
type Options struct {
	Layout  workspace.Layout
	Flow    Flow
	Capture Capture

	// Registration receives one item per image ready for registration.
	Registration *workqueue.Queue
	// Removal receives pushed images in the upload flow.
	Removal *workqueue.Queue
	// RegisterAfterRemoval forwards each removed image to Registration in
	// the upload flow.
	RegisterAfterRemoval bool
	// Helper, when set, aborts ingestion if it exits with an error.
	Helper Process

	// Settle is how long a file must stay unchanged before it is enqueued.
	Settle time.Duration
	Logger *slog.Logger
}

// Watcher routes a session's images into its queues.
type Watcher struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	started  bool
	stopped  bool
	err      error
	seen     map[string]struct{}
	enqueued int
	forward  []*workqueue.Ticket

	fsw     *fsnotify.Watcher
	wake    chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	workers sync.WaitGroup
}

// New validates opts and returns an idle watcher.
func New(opts Options) (*Watcher, error) {
	if opts.Registration == nil {
		return nil, errors.New("registration queue is required")
	}
	switch opts.Flow {
	case FlowScan:
	case FlowUpload:
		if opts.Removal == nil {
			return nil, errors.New("upload flow requires a removal queue")
		}
	default:
		return nil, fmt.Errorf("unknown ingest flow %q", opts.Flow)
	}
	if opts.Capture == "" {
		opts.Capture = CaptureSubject
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watcher{
		opts: opts,
		logger: logger.With(
			logging.String(logging.FieldSession, opts.Layout.Title()),
			logging.String("flow", string(opts.Flow)),
		),
		seen:   make(map[string]struct{}),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// WatchDir is the directory observed in the scan flow.
func (w *Watcher) WatchDir() string {
	if w.opts.Capture.NeedsRemoval() {
		return w.opts.Layout.NoBackgroundDir()
	}
	return w.opts.Layout.ImagesDir()
}

// Start begins ingestion. In the scan flow images already present in the
// watched directory are enqueued first, in name order.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("ingest watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	if w.opts.Flow == FlowScan {
		if err := w.startScan(ctx); err != nil {
			return err
		}
	} else if w.opts.RegisterAfterRemoval {
		w.workers.Add(1)
		go w.forwardRemovals(ctx)
	}

	w.workers.Add(1)
	go w.monitor(ctx)
	return nil
}

func (w *Watcher) startScan(ctx context.Context) error {
	dir := w.WatchDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prepare watch dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.fsw = fsw

	existing, err := workspace.ListImages(dir)
	if err != nil {
		_ = fsw.Close()
		return err
	}
	for _, name := range existing {
		if err := w.register(name); err != nil {
			break
		}
	}
	if len(existing) > 0 {
		w.logger.Info("existing images queued", logging.Int("count", len(existing)))
	}

	w.workers.Add(1)
	go w.watch(ctx)
	return nil
}

// Push queues an uploaded image, already saved in the session's images
// directory, for background removal.
func (w *Watcher) Push(name string) error {
	if w.opts.Flow != FlowUpload {
		return fmt.Errorf("push is only supported in the upload flow")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	ticket, err := w.opts.Removal.Enqueue(workqueue.Item{ID: name, SessionDir: w.opts.Layout.Dir()})
	if err != nil {
		return err
	}
	w.enqueued++
	if w.opts.RegisterAfterRemoval {
		w.forward = append(w.forward, ticket)
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Enqueued is the number of images accepted so far.
func (w *Watcher) Enqueued() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enqueued
}

// Done is closed once ingestion has stopped or aborted.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// Err reports why ingestion aborted. It is nil after a plain Stop.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Stop ends ingestion without touching the queues and waits for background
// goroutines to exit.
func (w *Watcher) Stop() {
	w.halt(nil)
	w.workers.Wait()
}

// halt stops ingestion once. A non-nil cause aborts both queues.
func (w *Watcher) halt(cause error) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.err = cause
	w.forward = nil
	fsw := w.fsw
	w.mu.Unlock()

	if cause != nil {
		w.opts.Registration.Abort(cause)
		if w.opts.Removal != nil {
			w.opts.Removal.Abort(cause)
		}
		logging.WarnWithContext(w.logger, "ingestion aborted", "ingest_aborted",
			logging.String(logging.FieldErrorKind, string(services.KindOf(cause))),
			logging.Error(cause),
			logging.String(logging.FieldErrorHint, "start a new capture session"),
			logging.String(logging.FieldImpact, "no further images are accepted for this session"),
		)
	}
	close(w.stopCh)
	if fsw != nil {
		_ = fsw.Close()
	}
	close(w.done)
}

func (w *Watcher) monitor(ctx context.Context) {
	defer w.workers.Done()

	var removalFailed <-chan struct{}
	if w.opts.Removal != nil {
		removalFailed = w.opts.Removal.Failed()
	}
	var helperDone <-chan struct{}
	if w.opts.Helper != nil {
		helperDone = w.opts.Helper.Done()
	}

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			w.halt(nil)
			return
		case <-w.opts.Registration.Failed():
			w.halt(w.opts.Registration.Status().Failure)
			return
		case <-removalFailed:
			w.halt(w.opts.Removal.Status().Failure)
			return
		case <-helperDone:
			if err := w.opts.Helper.Err(); err != nil {
				w.halt(err)
				return
			}
			helperDone = nil
		}
	}
}

// register enqueues a settled image for registration exactly once.
func (w *Watcher) register(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	if _, dup := w.seen[name]; dup {
		return nil
	}
	if _, err := w.opts.Registration.Enqueue(workqueue.Item{ID: name, SessionDir: w.opts.Layout.Dir()}); err != nil {
		return err
	}
	w.seen[name] = struct{}{}
	if w.opts.Flow == FlowScan {
		w.enqueued++
	}
	w.logger.Debug("image queued for registration", logging.String("image", name))
	return nil
}

func (w *Watcher) watch(ctx context.Context) {
	defer w.workers.Done()

	settle := w.opts.Settle
	if settle <= 0 {
		settle = 250 * time.Millisecond
	}
	timer := time.NewTimer(settle)
	timer.Stop()
	defer timer.Stop()

	deadlines := make(map[string]time.Time)
	var order []string

	reset := func() {
		var next time.Time
		for _, deadline := range deadlines {
			if next.IsZero() || deadline.Before(next) {
				next = deadline
			}
		}
		if !next.IsZero() {
			timer.Reset(time.Until(next))
		}
	}

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if fileutil.Hidden(name) || !workspace.IsImage(name) {
				continue
			}
			if _, pending := deadlines[name]; !pending {
				order = append(order, name)
			}
			deadlines[name] = time.Now().Add(settle)
			timer.Stop()
			reset()
		case <-timer.C:
			now := time.Now()
			remaining := order[:0]
			for _, name := range order {
				if deadlines[name].After(now) {
					remaining = append(remaining, name)
					continue
				}
				delete(deadlines, name)
				if !w.settled(name) {
					continue
				}
				if err := w.register(name); err != nil {
					if !errors.Is(err, ErrStopped) {
						w.logger.Debug("enqueue refused", logging.String("image", name), logging.Error(err))
					}
				}
			}
			order = remaining
			reset()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(w.logger, "directory watch error", "ingest_watch_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check inotify limits (fs.inotify.max_user_watches)"),
				logging.String(logging.FieldImpact, "some images may not be registered"),
			)
		}
	}
}

func (w *Watcher) settled(name string) bool {
	info, err := os.Stat(filepath.Join(w.WatchDir(), name))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// forwardRemovals enqueues each removed image for registration in push order.
func (w *Watcher) forwardRemovals(ctx context.Context) {
	defer w.workers.Done()
	for {
		w.mu.Lock()
		var ticket *workqueue.Ticket
		if len(w.forward) > 0 {
			ticket = w.forward[0]
			w.forward[0] = nil
			w.forward = w.forward[1:]
		}
		w.mu.Unlock()

		if ticket == nil {
			select {
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			case <-w.wake:
				continue
			}
		}

		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticket.Done():
		}
		if ticket.Err() != nil {
			continue
		}
		if err := w.register(rembg.OutputName(ticket.Item.ID)); err != nil && !errors.Is(err, ErrStopped) {
			w.logger.Debug("registration enqueue refused", logging.String("image", ticket.Item.ID), logging.Error(err))
		}
	}
}
