package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"photoscan/internal/config"
	"photoscan/internal/ingest"
	"photoscan/internal/logging"
	"photoscan/internal/services"
	"photoscan/internal/services/colmap"
	"photoscan/internal/services/rembg"
	"photoscan/internal/store"
	"photoscan/internal/workqueue"
	"photoscan/internal/workspace"
)

// Registry records session lifecycle changes. *store.Store satisfies it.
type Registry interface {
	Create(ctx context.Context, sess store.Session) (*store.Session, error)
	Delete(ctx context.Context, title string) error
}

// Deps are the collaborators a Manager wires into each session.
type Deps struct {
	Config    *config.Config
	Remover   *rembg.Client
	Registrar *colmap.Client
	Registry  Registry
	Logger    *slog.Logger
	// Limiter bounds registrations across sessions; nil means unbounded.
	Limiter *workqueue.Limiter
	// Now overrides the clock used for session titles.
	Now func() time.Time
}

// Manager tracks live sessions by title.
type Manager struct {
	ctx  context.Context
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager returns a manager whose sessions run on ctx.
func NewManager(ctx context.Context, deps Deps) (*Manager, error) {
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	if deps.Remover == nil || deps.Registrar == nil {
		return nil, errors.New("rembg and colmap clients are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{ctx: ctx, deps: deps, sessions: make(map[string]*Session)}, nil
}

// Create provisions a new session directory for name and starts ingestion.
func (m *Manager) Create(ctx context.Context, name string, flow ingest.Flow, capture ingest.Capture) (*Session, error) {
	if flow == ingest.FlowUpload {
		capture = ingest.CaptureSubject
	}
	title := workspace.NewTitle(name, m.deps.Now())
	layout, err := workspace.New(m.deps.Config.Paths.UploadsDir, title)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "session", "create", "invalid session name", err)
	}
	if err := layout.Provision(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if _, exists := m.sessions[title]; exists {
		return nil, fmt.Errorf("session %s already exists", title)
	}

	sess, err := m.start(layout, flow, capture)
	if err != nil {
		return nil, err
	}
	m.sessions[title] = sess

	if m.deps.Registry != nil {
		if _, err := m.deps.Registry.Create(ctx, store.Session{Title: title, Flow: string(flow), Capture: string(capture)}); err != nil {
			logging.WarnWithContext(sess.logger, "session registry update failed", "registry_write_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the state database under paths.state_dir"),
				logging.String(logging.FieldImpact, "the session will be missing from 'photoscan sessions list'"),
			)
		}
	}
	sess.logger.Info("session created",
		logging.String(logging.FieldEventType, "session_created"),
		logging.String("capture", string(capture)),
	)
	return sess, nil
}

func (m *Manager) start(layout workspace.Layout, flow ingest.Flow, capture ingest.Capture) (*Session, error) {
	cfg := m.deps.Config
	ctx, cancel := context.WithCancel(m.ctx)
	logger := m.deps.Logger.With(logging.String(logging.FieldSession, layout.Title()), logging.String("flow", string(flow)))

	sess := &Session{
		layout:      layout,
		flow:        flow,
		capture:     capture,
		incremental: flow == ingest.FlowScan || cfg.Pipeline.UploadIncremental,
		created:     m.deps.Now(),
		logger:      logger,
		cancel:      cancel,
		closed:      make(chan struct{}),
	}
	sess.registration = workqueue.New(workqueue.KindRegistration, m.deps.Registrar.Runner(string(capture)),
		workqueue.WithLimiter(m.deps.Limiter),
		workqueue.WithLogger(logger),
	)

	opts := ingest.Options{
		Layout:       layout,
		Flow:         flow,
		Capture:      capture,
		Registration: sess.registration,
		Settle:       cfg.Pipeline.SettleDelay(),
		Logger:       logger,
	}
	switch flow {
	case ingest.FlowUpload:
		sess.removal = workqueue.New(workqueue.KindSubjectRemoval, m.deps.Remover, workqueue.WithLogger(logger))
		opts.Removal = sess.removal
		opts.RegisterAfterRemoval = sess.incremental
	case ingest.FlowScan:
		if capture.NeedsRemoval() {
			sess.folder = m.deps.Remover.StartFolder(ctx, layout.ImagesDir(), layout.NoBackgroundDir())
			opts.Helper = sess.folder
		}
	}

	watcher, err := ingest.New(opts)
	if err != nil {
		cancel()
		return nil, err
	}
	sess.watcher = watcher

	if sess.removal != nil {
		sess.removal.Start(ctx)
	}
	sess.registration.Start(ctx)
	if err := watcher.Start(ctx); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

// Attach returns the live session for title or, when none is running, a
// passive session over the existing directory with an idle registration
// queue. A passive subject session whose raw images are not all
// background-removed gets a removal queue for the missing ones. Passive
// sessions are not tracked and must be released by the caller.
func (m *Manager) Attach(title string) (*Session, error) {
	layout, err := workspace.New(m.deps.Config.Paths.UploadsDir, title)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[title]; ok {
		return sess, nil
	}
	capture := ingest.CaptureSubject
	if layout.Exists() {
		if n, _ := workspace.CountImages(layout.NoBackgroundDir()); n == 0 {
			if raw, _ := workspace.CountImages(layout.ImagesDir()); raw > 0 {
				capture = ingest.CaptureSurrounding
			}
		}
	}
	logger := m.deps.Logger.With(logging.String(logging.FieldSession, title))
	sess := &Session{
		layout:       layout,
		flow:         ingest.FlowUpload,
		capture:      capture,
		created:      m.deps.Now(),
		logger:       logger,
		registration: workqueue.New(workqueue.KindRegistration, m.deps.Registrar.Runner(string(capture)), workqueue.WithLogger(logger)),
		closed:       make(chan struct{}),
	}
	if capture.NeedsRemoval() {
		names := pendingRemovals(layout)
		if len(names) == 0 && removalShort(layout) {
			sess.halt(services.Wrap(services.ErrRemovalFailed, "removal", "resume", "removed images do not match the images folder", nil))
		}
		m.resumeRemoval(sess, names)
	}
	return sess, nil
}

// resumeRemoval queues background removal for names on a passive session.
func (m *Manager) resumeRemoval(sess *Session, names []string) {
	if len(names) == 0 {
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	sess.cancel = cancel
	sess.removal = workqueue.New(workqueue.KindSubjectRemoval, m.deps.Remover, workqueue.WithLogger(sess.logger))
	sess.removal.Start(ctx)
	for _, name := range names {
		if _, err := sess.removal.Enqueue(workqueue.Item{ID: name, SessionDir: sess.layout.Dir()}); err != nil {
			sess.halt(err)
			return
		}
	}
	go sess.watchRemoval()
	sess.logger.Info("background removal resumed",
		logging.String(logging.FieldEventType, "removal_resumed"),
		logging.Int("images", len(names)),
	)
}

func removalShort(layout workspace.Layout) bool {
	raw, _ := workspace.CountImages(layout.ImagesDir())
	removed, _ := workspace.CountImages(layout.NoBackgroundDir())
	return removed < raw
}

// pendingRemovals lists the raw images in layout without a removed-background
// copy.
func pendingRemovals(layout workspace.Layout) []string {
	raw, err := workspace.ListImages(layout.ImagesDir())
	if err != nil {
		return nil
	}
	removed, _ := workspace.ListImages(layout.NoBackgroundDir())
	have := make(map[string]struct{}, len(removed))
	for _, name := range removed {
		have[name] = struct{}{}
	}
	var missing []string
	for _, name := range raw {
		if _, ok := have[rembg.OutputName(name)]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Get returns the live session for title.
func (m *Manager) Get(title string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[title]
	return sess, ok
}

// Active returns the live sessions ordered by title.
func (m *Manager) Active() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	slices.SortFunc(out, func(a, b *Session) int { return strings.Compare(a.Title(), b.Title()) })
	return out
}

// Release closes sess and forgets it. The session directory is kept.
func (m *Manager) Release(sess *Session) {
	if sess == nil {
		return
	}
	m.mu.Lock()
	if current, ok := m.sessions[sess.Title()]; ok && current == sess {
		delete(m.sessions, sess.Title())
	}
	m.mu.Unlock()
	sess.Close()
}

// Delete closes any live session for title and removes its directory tree
// and registry entry. A batch reconstruction already running for the
// session is not interrupted.
func (m *Manager) Delete(ctx context.Context, title string) error {
	layout, err := workspace.New(m.deps.Config.Paths.UploadsDir, title)
	if err != nil {
		return services.Wrap(services.ErrValidation, "session", "delete", "invalid title", err)
	}
	m.mu.Lock()
	sess, ok := m.sessions[title]
	delete(m.sessions, title)
	m.mu.Unlock()
	if ok {
		sess.Close()
	}

	if err := layout.Remove(); err != nil {
		return err
	}
	if m.deps.Registry != nil {
		if err := m.deps.Registry.Delete(ctx, title); err != nil {
			return fmt.Errorf("delete registry entry: %w", err)
		}
	}
	m.deps.Logger.Info("session deleted",
		logging.String(logging.FieldSession, title),
		logging.String(logging.FieldEventType, "session_deleted"),
	)
	return nil
}

// Close releases every live session. Later Create calls fail.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for title, sess := range m.sessions {
		sessions = append(sessions, sess)
		delete(m.sessions, title)
	}
	m.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}
