package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"photoscan/internal/config"
	"photoscan/internal/logging"
	"photoscan/internal/protocol"
	"photoscan/internal/reconstruct"
	"photoscan/internal/services"
	"photoscan/internal/store"
	"photoscan/internal/workspace"
)

const (
	stepGetImages    = "get-images"
	stepRemoval      = "Removing background"
	stepColmap       = "Colmap"
	stepReconstruct  = "reconstruction"
	registrationFail = "Colmap failed, please try again."
)

// Options tunes a Controller.
type Options struct {
	RemovalPoll      time.Duration
	RegistrationPoll time.Duration
	// StartTimeout is how long an incremental session may show an idle,
	// empty registration queue before the run falls back to a from-scratch
	// reconstruction.
	StartTimeout time.Duration
	// CancelOnDisconnect ties the batch subprocess to the request context.
	CancelOnDisconnect bool
	// BatchContext bounds the batch subprocess when CancelOnDisconnect is
	// false. It is normally the daemon context.
	BatchContext context.Context

	Clock    Clock
	Recorder Recorder
	Logger   *slog.Logger
}

// OptionsFromConfig maps the [pipeline] config section onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RemovalPoll:        cfg.Pipeline.RemovalPollEvery(),
		RegistrationPoll:   cfg.Pipeline.RegistrationPollEvery(),
		StartTimeout:       cfg.Pipeline.RegistrationStartGrace(),
		CancelOnDisconnect: cfg.Pipeline.CancelOnDisconnect,
	}
}

// Controller runs the per-session reconstruction state machine.
type Controller struct {
	runner BatchRunner
	opts   Options

	mu     sync.Mutex
	active map[string]*tracker
}

// New constructs a controller around runner.
func New(runner BatchRunner, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.BatchContext == nil {
		opts.BatchContext = context.Background()
	}
	if opts.RemovalPoll <= 0 {
		opts.RemovalPoll = 500 * time.Millisecond
	}
	if opts.RegistrationPoll <= 0 {
		opts.RegistrationPoll = time.Second
	}
	return &Controller{runner: runner, opts: opts, active: make(map[string]*tracker)}
}

// Active returns snapshots of the runs in progress, oldest first.
func (c *Controller) Active() []Run {
	c.mu.Lock()
	runs := make([]Run, 0, len(c.active))
	for _, t := range c.active {
		runs = append(runs, t.snapshot())
	}
	c.mu.Unlock()
	slices.SortFunc(runs, func(a, b Run) int { return a.StartedAt.Compare(b.StartedAt) })
	return runs
}

// tracker holds the mutable state of one run.
type tracker struct {
	mu       sync.Mutex
	run      Run
	sink     protocol.Sink
	recorder Recorder
	logger   *slog.Logger
	recCtx   context.Context
}

func (t *tracker) snapshot() Run {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run
}

func (t *tracker) enter(state State) {
	t.mu.Lock()
	t.run.State = state
	t.mu.Unlock()
	t.logger.Debug("pipeline state", logging.String("state", string(state)))
}

func (t *tracker) emit(e protocol.Event) {
	t.mu.Lock()
	if e.Stage != "" && e.Status != protocol.StatusFailed {
		t.run.CurrentStage = e.Stage
	}
	run := t.run
	t.mu.Unlock()

	t.sink.Send(e)
	t.record(run, e)
}

func (t *tracker) record(run Run, e protocol.Event) {
	if t.recorder == nil {
		return
	}
	ev := store.Event{
		Title:   run.SessionTitle,
		RunID:   run.ID,
		State:   string(run.State),
		Status:  string(e.Status),
		Stage:   string(e.Stage),
		Step:    e.Step,
		Message: e.Message,
	}
	if kind, ok := e.Field("error"); ok {
		ev.ErrorKind = fmt.Sprint(kind)
	}
	if err := t.recorder.RecordEvent(t.recCtx, ev); err != nil {
		t.logger.Warn("run event not recorded",
			logging.Error(err),
			logging.String(logging.FieldEventType, "run_record_failed"),
			logging.String(logging.FieldErrorHint, "check the state database under paths.state_dir"),
			logging.String(logging.FieldImpact, "session history will be incomplete"),
		)
	}
}

// fail ends the run with one FAILED event carrying the error kind and
// returns err.
func (t *tracker) fail(step, message string, err error) error {
	if err == nil {
		err = errors.New(message)
	}
	kind := services.KindOf(err)
	t.mu.Lock()
	t.run.State = StateFailed
	t.run.LastError = err
	t.mu.Unlock()

	t.emit(protocol.Event{
		Status:  protocol.StatusFailed,
		Stage:   protocol.StageFailed,
		Step:    step,
		Message: message,
	}.With("error", string(kind)))

	logging.ErrorWithContext(t.logger, "reconstruction run failed", "pipeline_failed",
		logging.String("step", step),
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, hintFor(kind)),
	)
	return err
}

// cancel records a context cancellation without emitting an event.
func (t *tracker) cancel(err error) error {
	t.mu.Lock()
	t.run.LastError = err
	t.mu.Unlock()
	t.logger.Info("reconstruction run cancelled",
		logging.String(logging.FieldEventType, "pipeline_cancelled"),
		logging.Error(err),
	)
	return err
}

func hintFor(kind services.ErrorKind) string {
	switch kind {
	case services.KindImagesMissing, services.KindImagesEmpty:
		return "capture or upload images before processing"
	case services.KindRemovalFailed:
		return "check the rembg installation and model download"
	case services.KindRegistrationFailed:
		return "rescan the object with more overlap between frames"
	case services.KindBatchPipelineFailed:
		return "inspect the COLMAP/OpenMVS logs in the session directory"
	default:
		return "see the daemon log for details"
	}
}

// Process runs the state machine for src, reporting to sink. It returns the
// final run state and the error that ended a failed run. A cancelled ctx
// before the dense stage stops polling without emitting a FAILED event.
func (c *Controller) Process(ctx context.Context, src Source, sink protocol.Sink) (Run, error) {
	if sink == nil {
		sink = protocol.Discard
	}
	layout := src.Layout()
	runID := uuid.NewString()
	ctx = services.WithRunID(services.WithSession(ctx, layout.Title()), runID)
	logger := logging.WithContext(ctx, logging.NewComponentLogger(c.opts.Logger, "pipeline"))

	t := &tracker{
		run: Run{
			ID:           runID,
			SessionTitle: layout.Title(),
			State:        StateAwaitingImages,
			StartedAt:    c.opts.Clock.Now(),
		},
		sink:     sink,
		recorder: c.opts.Recorder,
		logger:   logger,
		recCtx:   context.WithoutCancel(ctx),
	}
	c.mu.Lock()
	c.active[runID] = t
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.active, runID)
		c.mu.Unlock()
	}()

	logger.Info("reconstruction run started", logging.String(logging.FieldEventType, "pipeline_started"))

	if err := c.process(ctx, t, src, layout); err != nil {
		return t.snapshot(), err
	}
	return t.snapshot(), nil
}

func (c *Controller) process(ctx context.Context, t *tracker, src Source, layout workspace.Layout) error {
	imageCount, err := c.retrieve(t, layout)
	if err != nil {
		return t.fail(stepGetImages, retrieveMessage(layout.Title(), err), err)
	}

	if src.NeedsRemoval() {
		if err := c.awaitRemoval(ctx, t, src, layout); err != nil {
			return err
		}
	} else {
		t.emit(removalEvent("Removed background"))
	}

	mode, err := c.awaitRegistration(ctx, t, src, imageCount)
	if err != nil {
		return err
	}

	t.enter(StateDense)
	batchCtx, cancel := c.batchContext(ctx)
	defer cancel()
	result, err := c.runner.Run(batchCtx, layout, mode, protocol.SinkFunc(t.emit))
	if err != nil {
		message := "Reconstruction failed"
		if result.Failure != "" {
			message = result.Failure
		}
		return t.fail(stepReconstruct, message, err)
	}

	t.enter(StateCompleted)
	t.emit(protocol.Event{
		Status:  protocol.StatusCompleted,
		Stage:   protocol.StageCompleted,
		Step:    stepReconstruct,
		Message: "Reconstruction Completed",
	})
	t.logger.Info("reconstruction run completed",
		logging.String(logging.FieldEventType, "pipeline_completed"),
		logging.String("mode", string(mode)),
		logging.Duration("elapsed", c.opts.Clock.Now().Sub(t.snapshot().StartedAt)),
	)
	return nil
}

func (c *Controller) batchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.CancelOnDisconnect {
		return context.WithCancel(ctx)
	}
	batchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.opts.BatchContext, cancel)
	return batchCtx, func() {
		stop()
		cancel()
	}
}

func (c *Controller) retrieve(t *tracker, layout workspace.Layout) (int, error) {
	t.enter(StateRetrieving)
	if err := layout.CheckStructure(); err != nil {
		return 0, err
	}
	count, err := workspace.CountImages(layout.ImagesDir())
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, services.Wrap(services.ErrImagesEmpty, stepGetImages, "list", "no images in "+layout.ImagesDir(), nil)
	}
	if t.recorder != nil {
		if err := t.recorder.SetImageCount(t.recCtx, layout.Title(), count); err != nil {
			t.logger.Debug("image count not recorded", logging.Error(err))
		}
	}
	t.emit(protocol.Event{
		Status:  protocol.StatusFoundImages,
		Stage:   protocol.StageImagesFound,
		Step:    stepGetImages,
		Message: "Retrieved images",
	})
	return count, nil
}

func retrieveMessage(title string, err error) string {
	if errors.Is(err, services.ErrImagesEmpty) {
		return fmt.Sprintf("ERROR - '%s' Images folder is empty.", title)
	}
	return fmt.Sprintf("ERROR - Images folder with '%s' not found.", title)
}

func removalEvent(message string) protocol.Event {
	return protocol.Event{
		Status:  protocol.StatusProcessing,
		Stage:   protocol.StageBackgroundRemoval,
		Step:    stepRemoval,
		Message: message,
	}
}

func colmapEvent(message string) protocol.Event {
	return protocol.Event{
		Status:  protocol.StatusProcessing,
		Stage:   protocol.StageSparse,
		Step:    stepColmap,
		Message: message,
	}
}

// awaitRemoval polls until every raw image has a removed-background copy.
func (c *Controller) awaitRemoval(ctx context.Context, t *tracker, src Source, layout workspace.Layout) error {
	t.enter(StateRemovingBackground)
	t.emit(removalEvent("Removing background"))

	ticker := c.opts.Clock.NewTicker(c.opts.RemovalPoll)
	defer ticker.Stop()
	srcDone := src.Done()
	for {
		select {
		case <-ctx.Done():
			return t.cancel(ctx.Err())
		case <-srcDone:
			if err := src.Err(); err != nil {
				return t.fail(failureStep(err, stepRemoval), failureMessage(err, "Background removal failed"), err)
			}
			srcDone = nil
		case <-ticker.C():
			raw, err := workspace.CountImages(layout.ImagesDir())
			if err != nil {
				return t.fail(stepGetImages, retrieveMessage(layout.Title(), err), err)
			}
			removed, err := workspace.CountImages(layout.NoBackgroundDir())
			if err != nil {
				return t.fail(stepGetImages, retrieveMessage(layout.Title(), err), err)
			}
			if removed >= raw {
				t.emit(removalEvent("Removed background"))
				return nil
			}
		}
	}
}

// awaitRegistration polls the registration queue until it can pick the
// batch mode. A queue that stays drained short of imageCount for
// StartTimeout falls back to a from-scratch run.
func (c *Controller) awaitRegistration(ctx context.Context, t *tracker, src Source, imageCount int) (reconstruct.Mode, error) {
	t.enter(StateRegistering)
	t.emit(colmapEvent("Processing Images"))

	started := c.opts.Clock.Now()
	ticker := c.opts.Clock.NewTicker(c.opts.RegistrationPoll)
	defer ticker.Stop()
	srcDone := src.Done()

	last := ""
	var drainedAt time.Time
	drainedCount := 0
	for {
		select {
		case <-ctx.Done():
			return "", t.cancel(ctx.Err())
		case <-srcDone:
			if err := src.Err(); err != nil {
				return "", t.fail(failureStep(err, stepColmap), failureMessage(err, registrationFail), err)
			}
			srcDone = nil
		case <-ticker.C():
			st := src.Registration()
			if st.Failure != nil {
				return "", t.fail(stepColmap, registrationFail, st.Failure)
			}
			if !st.Completed || st.Processed != drainedCount {
				drainedAt = time.Time{}
			}
			now := c.opts.Clock.Now()
			var mode reconstruct.Mode
			switch {
			case st.Outstanding() == 0 && st.Processed == 0:
				if src.Incremental() && now.Sub(started) < c.opts.StartTimeout {
					continue
				}
				mode = reconstruct.FromScratch
			case st.Completed && st.Processed >= imageCount:
				mode = reconstruct.Continue
			case st.Completed && !drainedAt.IsZero() && now.Sub(drainedAt) >= c.opts.StartTimeout:
				logging.WarnWithContext(t.logger, "registration stalled", "registration_stalled",
					logging.Int("registered", st.Processed),
					logging.Int("images", imageCount),
					logging.String(logging.FieldErrorHint, "check the ingest log for images that were never registered"),
					logging.String(logging.FieldImpact, "the batch pipeline reconstructs from scratch"),
				)
				mode = reconstruct.FromScratch
			default:
				if st.Completed && drainedAt.IsZero() {
					drainedAt, drainedCount = now, st.Processed
				}
				msg := fmt.Sprintf("Processing Image : [%d/%d]", st.Processed, imageCount)
				if msg != last {
					t.emit(colmapEvent(msg))
					last = msg
				}
				continue
			}
			t.emit(colmapEvent("Creating sparse point cloud"))
			t.logger.Info("batch mode selected",
				logging.String("mode", string(mode)),
				logging.Int("registered", st.Processed),
				logging.Int("images", imageCount),
			)
			return mode, nil
		}
	}
}

func failureStep(err error, fallback string) string {
	switch services.KindOf(err) {
	case services.KindRemovalFailed:
		return stepRemoval
	case services.KindRegistrationFailed:
		return stepColmap
	}
	return fallback
}

func failureMessage(err error, fallback string) string {
	switch services.KindOf(err) {
	case services.KindRemovalFailed:
		return "Background removal failed"
	case services.KindRegistrationFailed:
		return registrationFail
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" && !errors.Is(err, services.ErrExternalTool) {
		return fallback + ": " + msg
	}
	return fallback
}
