package server

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"photoscan/internal/api"
	"photoscan/internal/logging"
	"photoscan/internal/services"
	"photoscan/internal/workspace"
)

func (s *Server) layout(w http.ResponseWriter, r *http.Request) (workspace.Layout, bool) {
	layout, err := workspace.New(s.cfg.Paths.UploadsDir, r.PathValue("title"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, services.Wrap(services.ErrValidation, "session", "resolve", "invalid title", err))
		return workspace.Layout{}, false
	}
	return layout, true
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	title := r.PathValue("title")
	err := s.opts.Manager.Delete(r.Context(), title)
	switch {
	case err == nil:
		s.requestLogger(r).Info("session deleted on request", logging.String(logging.FieldSession, title))
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err)
	default:
		logging.ErrorWithContext(s.requestLogger(r), "session delete failed", "session_delete_failed",
			logging.String(logging.FieldSession, title),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions under paths.uploads_dir"),
		)
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleSparseSnapshot(w http.ResponseWriter, r *http.Request) {
	layout, ok := s.layout(w, r)
	if !ok {
		return
	}
	path, err := layout.SparseSnapshot()
	if err != nil {
		http.Error(w, "Cannot find model / yet to create", http.StatusNotFound)
		return
	}
	s.serveAttachment(w, r, path, filepath.Base(path))
}

func (s *Server) handleModelCheck(w http.ResponseWriter, r *http.Request) {
	layout, ok := s.layout(w, r)
	if !ok {
		return
	}
	if !layout.ModelReady() {
		s.writeJSON(w, http.StatusNotFound, api.ModelStatus{Ready: false})
		return
	}
	s.writeJSON(w, http.StatusOK, api.ModelStatus{Ready: true})
}

func (s *Server) handleMeshDownload(w http.ResponseWriter, r *http.Request) {
	if layout, ok := s.layout(w, r); ok {
		s.serveAttachment(w, r, layout.MeshPath(), filepath.Base(layout.MeshPath()))
	}
}

func (s *Server) handleTextureDownload(w http.ResponseWriter, r *http.Request) {
	if layout, ok := s.layout(w, r); ok {
		s.serveAttachment(w, r, layout.TexturePath(), filepath.Base(layout.TexturePath()))
	}
}

// handleModelArchive streams the mesh and texture as one zip.
func (s *Server) handleModelArchive(w http.ResponseWriter, r *http.Request) {
	layout, ok := s.layout(w, r)
	if !ok {
		return
	}
	if !layout.ModelReady() {
		s.writeError(w, http.StatusNotFound, services.Wrap(services.ErrModelNotFound, "modelview", "download", "model not ready", nil))
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", layout.Title()+".zip"))

	zw := zip.NewWriter(w)
	for _, path := range []string{layout.MeshPath(), layout.TexturePath()} {
		if err := addToZip(zw, path); err != nil {
			s.requestLogger(r).Warn("model archive incomplete", logging.Error(err))
			return
		}
	}
	if err := zw.Close(); err != nil {
		s.requestLogger(r).Warn("model archive incomplete", logging.Error(err))
	}
}

func addToZip(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dst, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, f)
	return err
}

func (s *Server) serveAttachment(w http.ResponseWriter, r *http.Request, path, name string) {
	f, err := os.Open(path)
	if err != nil {
		s.writeError(w, http.StatusNotFound, services.Wrap(services.ErrModelNotFound, "modelview", "open", name, nil))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		s.writeError(w, http.StatusNotFound, services.Wrap(services.ErrModelNotFound, "modelview", "stat", name, nil))
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}
