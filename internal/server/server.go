package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"photoscan/internal/api"
	"photoscan/internal/config"
	"photoscan/internal/deps"
	"photoscan/internal/logging"
	"photoscan/internal/pipeline"
	"photoscan/internal/preflight"
	"photoscan/internal/services"
	"photoscan/internal/session"
	"photoscan/internal/store"
)

// Registry is the read side of the session store.
type Registry interface {
	List(ctx context.Context) ([]store.Session, error)
	Get(ctx context.Context, title string) (*store.Session, error)
	Events(ctx context.Context, title string, limit int) ([]store.Event, error)
}

// Options wires a Server.
type Options struct {
	Config     *config.Config
	Manager    *session.Manager
	Controller *pipeline.Controller
	Registry   Registry
	// Dependencies and Preflight feed /api/status; nil skips the section.
	Dependencies func() []deps.Status
	Preflight    func() []preflight.Result
	StartedAt    time.Time
	Logger       *slog.Logger
}

// Server is the daemon's HTTP front end.
type Server struct {
	opts   Options
	cfg    *config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	listener net.Listener
	http     *http.Server
}

// New validates opts and registers every route.
func New(opts Options) (*Server, error) {
	if opts.Config == nil || opts.Manager == nil || opts.Controller == nil {
		return nil, errors.New("server requires config, session manager and controller")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = time.Now()
	}
	s := &Server{
		opts:   opts,
		cfg:    opts.Config,
		logger: logging.NewComponentLogger(opts.Logger, "server"),
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /scan", s.handleScan)
	s.mux.HandleFunc("GET /upload", s.handleUpload)
	s.mux.HandleFunc("GET /process", s.handleProcess)
	s.mux.HandleFunc("POST /scan/delete/{title}", s.handleDelete)
	s.mux.HandleFunc("POST /upload/delete/{title}", s.handleDelete)
	s.mux.HandleFunc("GET /process/ongoingply/{title}", s.handleSparseSnapshot)
	s.mux.HandleFunc("POST /process/ongoingply/{title}", s.handleSparseSnapshot)
	s.mux.HandleFunc("GET /modelview/check/{title}", s.handleModelCheck)
	s.mux.HandleFunc("GET /modelview/download/mesh/{title}", s.handleMeshDownload)
	s.mux.HandleFunc("GET /modelview/download/texture/{title}", s.handleTextureDownload)
	s.mux.HandleFunc("GET /modelview/download/{title}", s.handleModelArchive)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/sessions/{title}", s.handleSession)

	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the routed handler with request ids attached.
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.mux)
}

// Start listens on paths.api_bind and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	bind := strings.TrimSpace(s.cfg.Paths.APIBind)
	if bind == "" {
		return errors.New("paths.api_bind is empty")
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.http.BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "server_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that paths.api_bind is free"),
			)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "server_listening"),
	)
	return nil
}

// Addr is the bound listener address once Start succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the HTTP server down. Hijacked WebSocket connections are
// closed by their handlers when the daemon context ends.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.http.Shutdown(shutdownCtx)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := services.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	return logging.WithContext(r.Context(), s.logger).With(
		logging.String("method", r.Method),
		logging.String("path", r.URL.Path),
	)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	body := api.ErrorResponse{Error: err.Error()}
	if kind := services.KindOf(err); kind != services.KindUnknown {
		body.Kind = string(kind)
	}
	s.writeJSON(w, status, body)
}
