package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"photoscan/internal/config"
	"photoscan/internal/deps"
	"photoscan/internal/logging"
	"photoscan/internal/notifications"
	"photoscan/internal/pipeline"
	"photoscan/internal/preflight"
	"photoscan/internal/reconstruct"
	"photoscan/internal/server"
	"photoscan/internal/services"
	"photoscan/internal/services/colmap"
	"photoscan/internal/services/rembg"
	"photoscan/internal/session"
	"photoscan/internal/store"
	"photoscan/internal/workqueue"
)

// Option customizes a Daemon.
type Option func(*Daemon)

// WithExecutor runs every external tool through exec. Tests use it to
// replace rembg, COLMAP and the batch script.
func WithExecutor(exec services.Executor) Option {
	return func(d *Daemon) {
		d.exec = exec
	}
}

// WithNotifier replaces the ntfy service built from the config.
func WithNotifier(svc notifications.Service) Option {
	return func(d *Daemon) {
		d.notifier = svc
	}
}

// Daemon owns the store, the session manager and the HTTP server and
// enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	exec     services.Executor
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock

	manager    *session.Manager
	controller *pipeline.Controller
	server     *server.Server

	running atomic.Bool
	started time.Time
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	StartedAt    time.Time
	Address      string
	DatabasePath string
	LockFilePath string
	LiveSessions int
	ActiveRuns   []pipeline.Run
	Dependencies []deps.Status
}

// New constructs a daemon around an open store.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || st == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start acquires the daemon lock, verifies the toolchain and starts serving.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another photoscan daemon is already running")
	}

	if err := d.checkReady(); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.wire(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	if err := d.server.Start(runCtx); err != nil {
		cancel()
		d.manager.Close()
		_ = d.lock.Unlock()
		return fmt.Errorf("start server: %w", err)
	}

	d.cancel = cancel
	d.started = time.Now()
	d.running.Store(true)
	d.logger.Info("photoscan daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.Addr()),
	)
	return nil
}

func (d *Daemon) checkReady() error {
	if missing := deps.Missing(preflight.CheckSystemDeps(d.cfg)); len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for _, m := range missing {
			names = append(names, fmt.Sprintf("%s (%s)", m.Name, m.Detail))
		}
		return services.Wrap(services.ErrConfiguration, "daemon", "dependencies",
			"missing required tools: "+strings.Join(names, ", "), nil)
	}
	if failed := preflight.Failed(preflight.RunAll(d.cfg)); len(failed) > 0 {
		details := make([]string, 0, len(failed))
		for _, f := range failed {
			details = append(details, f.Name+": "+f.Detail)
		}
		return services.Wrap(services.ErrConfiguration, "daemon", "preflight", strings.Join(details, "; "), nil)
	}
	return nil
}

func (d *Daemon) wire(ctx context.Context) error {
	cfg := d.cfg
	toolLogger := logging.NewComponentLogger(d.logger, "tools")

	remover, err := rembg.New(cfg.Tools.RembgBinary, cfg.Tools.RembgModel, rembg.WithExecutor(d.exec), rembg.WithLogger(toolLogger))
	if err != nil {
		return err
	}
	registrar, err := colmap.New(cfg.Tools.PythonBinary, cfg.Tools.IncrementalScript, colmap.WithExecutor(d.exec), colmap.WithLogger(toolLogger))
	if err != nil {
		return err
	}
	batch, err := reconstruct.New(cfg.Tools.PythonBinary, cfg.Tools.BatchScript, cfg.Pipeline.CameraModel,
		reconstruct.WithExecutor(d.exec), reconstruct.WithLogger(toolLogger))
	if err != nil {
		return err
	}

	var limiter *workqueue.Limiter
	if n := cfg.Pipeline.GlobalRegistrationLimit; n > 0 {
		limiter = workqueue.NewLimiter(n)
	}
	d.manager, err = session.NewManager(ctx, session.Deps{
		Config:    cfg,
		Remover:   remover,
		Registrar: registrar,
		Registry:  d.store,
		Logger:    logging.NewComponentLogger(d.logger, "session"),
		Limiter:   limiter,
	})
	if err != nil {
		return err
	}

	opts := pipeline.OptionsFromConfig(cfg)
	opts.BatchContext = ctx
	notifier := d.notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	opts.Recorder = notifications.NewNotifier(d.store, notifier, cfg.Notifications.Timeout(),
		logging.NewComponentLogger(d.logger, "notifications"))
	opts.Logger = d.logger
	d.controller = pipeline.New(batch, opts)

	d.server, err = server.New(server.Options{
		Config:       cfg,
		Manager:      d.manager,
		Controller:   d.controller,
		Registry:     d.store,
		Dependencies: func() []deps.Status { return preflight.CheckSystemDeps(cfg) },
		Preflight:    func() []preflight.Result { return preflight.RunAll(cfg) },
		StartedAt:    time.Now(),
		Logger:       d.logger,
	})
	if err != nil {
		d.manager.Close()
		return err
	}
	return nil
}

// Stop stops serving, releases every live session and the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.Stop()
	d.manager.Close()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("photoscan daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	status := Status{
		Running:      d.running.Load(),
		StartedAt:    d.started,
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		Dependencies: preflight.CheckSystemDeps(d.cfg),
	}
	if status.Running {
		status.Address = d.server.Addr()
		status.LiveSessions = len(d.manager.Active())
		status.ActiveRuns = d.controller.Active()
	}
	return status
}
