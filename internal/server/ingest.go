package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"photoscan/internal/ingest"
	"photoscan/internal/logging"
	"photoscan/internal/protocol"
	"photoscan/internal/services"
	"photoscan/internal/session"
)

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	capture, err := ingest.ParseCapture(r.URL.Query().Get("type"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.serveIngest(w, r, ingest.FlowScan, capture, "Received %d Frames.")
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.serveIngest(w, r, ingest.FlowUpload, ingest.CaptureSubject, "Received %d Images.")
}

// serveIngest creates a session, then saves every text frame the client
// sends until the socket closes or ingestion aborts.
func (s *Server) serveIngest(w http.ResponseWriter, r *http.Request, flow ingest.Flow, capture ingest.Capture, receivedFormat string) {
	name := strings.TrimSpace(r.URL.Query().Get("title"))
	if name == "" {
		s.writeError(w, http.StatusBadRequest, services.Wrap(services.ErrValidation, "session", "create", "title is required", nil))
		return
	}
	logger := s.requestLogger(r).With(logging.String("flow", string(flow)))

	conn, err := s.accept(w, r)
	if err != nil {
		logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	sink := newWSSink(conn, s.cfg.Server.SendBuffer, s.cfg.Server.WriteTimeout(), logger)

	sess, err := s.opts.Manager.Create(r.Context(), name, flow, capture)
	if err != nil {
		logging.ErrorWithContext(logger, "session create failed", "session_create_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
			logging.String(logging.FieldErrorHint, "check that paths.uploads_dir is writable"),
		)
		sink.Send(protocol.Event{
			Status:  protocol.StatusFailed,
			Stage:   protocol.StageFailed,
			Step:    "session",
			Message: "Could not create session, please try again.",
		}.With("error", string(services.KindOf(err))))
		sink.Close(websocket.StatusInternalError, "session create failed")
		return
	}
	title := sess.Title()
	logger = logger.With(logging.String(logging.FieldSession, title))

	sink.Send(protocol.Event{Status: protocol.StatusConnected, Message: "Ready to receive images."}.With("title", title))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	aborted := make(chan struct{})
	go func() {
		defer close(aborted)
		select {
		case <-sess.Done():
		case <-ctx.Done():
			return
		}
		cause := sess.Err()
		if errors.Is(cause, session.ErrClosed) {
			return
		}
		sink.Send(abortEvent(cause))
		// Cancelling a pending Read closes the connection, so the failure
		// must be written first.
		sink.Flush()
		cancel()
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				logger.Debug("socket read ended", logging.Error(err))
			}
			break
		}
		if typ != websocket.MessageText {
			continue
		}
		frame, err := ingest.DecodeFrame(string(data))
		if err != nil {
			logging.WarnWithContext(logger, "frame rejected", "frame_rejected",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "send frames as data:image/<type>;base64,<payload>"),
				logging.String(logging.FieldImpact, "the frame is skipped"),
			)
			continue
		}
		count, err := sess.SaveFrame(frame)
		if err != nil {
			if sess.Err() != nil {
				break
			}
			logging.WarnWithContext(logger, "frame not saved", "frame_save_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check free space under paths.uploads_dir"),
				logging.String(logging.FieldImpact, "the frame is missing from the reconstruction"),
			)
			continue
		}
		sink.Send(protocol.Event{
			Status:  protocol.StatusReceiving,
			Message: fmt.Sprintf(receivedFormat, count),
		}.With("title", title).With("count", count))
	}

	cancel()
	<-aborted
	if err := sess.Err(); err != nil && !errors.Is(err, session.ErrClosed) {
		s.opts.Manager.Release(sess)
		sink.Close(websocket.StatusInternalError, "ingestion aborted")
		return
	}
	logSessionDisconnect(logger, sess)
	sink.Close(websocket.StatusNormalClosure, "")
}

func logSessionDisconnect(logger *slog.Logger, sess *session.Session) {
	logger.Info("client disconnected",
		logging.String(logging.FieldEventType, "session_disconnected"),
		logging.Int("frames", sess.Frames()),
		logging.Int("registered", sess.Registration().Processed),
	)
}

// abortEvent reports a queue failure that stopped ingestion.
func abortEvent(cause error) protocol.Event {
	kind := services.KindOf(cause)
	e := protocol.Event{
		Status:  protocol.StatusFailed,
		Stage:   protocol.StageFailed,
		Step:    "registration",
		Message: "Colmap failed, please try again.",
	}
	if kind == services.KindRemovalFailed {
		e.Step = "Removing background"
		e.Message = "Background removal failed, please try again."
	}
	return e.With("error", string(kind))
}
