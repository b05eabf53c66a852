package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"photoscan/internal/logging"
	"photoscan/internal/services"
)

// handleProcess runs the pipeline controller for ?title= and streams its
// events until the run ends.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	sess, err := s.opts.Manager.Attach(title)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, services.Wrap(services.ErrValidation, "process", "attach", "invalid title", err))
		return
	}
	logger := s.requestLogger(r).With(logging.String(logging.FieldSession, title))

	conn, err := s.accept(w, r)
	if err != nil {
		logger.Warn("websocket upgrade failed", logging.Error(err))
		if !sess.Live() {
			s.opts.Manager.Release(sess)
		}
		return
	}
	sink := newWSSink(conn, s.cfg.Server.SendBuffer, s.cfg.Server.WriteTimeout(), logger)

	// CloseRead discards client messages and cancels ctx when the client
	// goes away.
	ctx := conn.CloseRead(r.Context())
	run, err := s.opts.Controller.Process(ctx, sess, sink)

	// A run cancelled before the dense stage leaves a live session in place
	// so the client can retry.
	if run.State.Terminal() || !sess.Live() {
		s.opts.Manager.Release(sess)
	}
	if err != nil && !errors.Is(err, ctx.Err()) {
		logger.Info("process request ended with failure",
			logging.String("run_id", run.ID),
			logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
		)
	}
	sink.Close(websocket.StatusNormalClosure, "")
}
