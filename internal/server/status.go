package server

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"photoscan/internal/api"
	"photoscan/internal/ingest"
	"photoscan/internal/store"
)

const sessionHistoryLimit = 50

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := api.DaemonStatus{
		Running:       true,
		PID:           os.Getpid(),
		StartedAt:     api.FormatTime(s.opts.StartedAt),
		UptimeSeconds: int64(time.Since(s.opts.StartedAt).Seconds()),
		DatabasePath:  s.cfg.DatabasePath(),
		LockFilePath:  s.cfg.LockPath(),
		Sessions:      []api.LiveSession{},
		Runs:          []api.Run{},
	}
	for _, sess := range s.opts.Manager.Active() {
		live := api.LiveSession{
			Title:        sess.Title(),
			Flow:         string(sess.Flow()),
			Capture:      string(sess.Capture()),
			Frames:       sess.Frames(),
			Registration: api.FromQueueStatus(sess.Registration()),
			CreatedAt:    api.FormatTime(sess.CreatedAt()),
		}
		if sess.Flow() == ingest.FlowUpload {
			removal := api.FromQueueStatus(sess.Removal())
			live.Removal = &removal
		}
		payload.Sessions = append(payload.Sessions, live)
	}
	for _, run := range s.opts.Controller.Active() {
		payload.Runs = append(payload.Runs, api.FromRun(run))
	}
	if s.opts.Dependencies != nil {
		payload.Dependencies = api.FromDependencies(s.opts.Dependencies())
	}
	if s.opts.Preflight != nil {
		payload.Preflight = api.FromPreflight(s.opts.Preflight())
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.opts.Registry == nil {
		s.writeJSON(w, http.StatusOK, api.SessionListResponse{Sessions: []api.Session{}})
		return
	}
	rows, err := s.opts.Registry.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]api.Session, 0, len(rows))
	for i := range rows {
		_, live := s.opts.Manager.Get(rows[i].Title)
		out = append(out, api.FromStoreSession(&rows[i], live))
	}
	s.writeJSON(w, http.StatusOK, api.SessionListResponse{Sessions: out})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.opts.Registry == nil {
		s.writeError(w, http.StatusNotFound, store.ErrNotFound)
		return
	}
	title := r.PathValue("title")
	row, err := s.opts.Registry.Get(r.Context(), title)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	limit := sessionHistoryLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	events, err := s.opts.Registry.Events(r.Context(), title, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	_, live := s.opts.Manager.Get(title)
	resp := api.SessionResponse{Session: api.FromStoreSession(row, live), Events: make([]api.SessionEvent, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, api.FromStoreEvent(e))
	}
	s.writeJSON(w, http.StatusOK, resp)
}
