package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"photoscan/internal/ingest"
	"photoscan/internal/logging"
	"photoscan/internal/services/rembg"
	"photoscan/internal/workqueue"
	"photoscan/internal/workspace"
)

// ErrClosed is reported by a session that was released or deleted.
var ErrClosed = errors.New("session closed")

// Session is one capture session with its queues and ingest watcher.
type Session struct {
	layout      workspace.Layout
	flow        ingest.Flow
	capture     ingest.Capture
	incremental bool
	created     time.Time
	logger      *slog.Logger

	removal      *workqueue.Queue
	registration *workqueue.Queue
	watcher      *ingest.Watcher
	folder       *rembg.FolderProcess
	cancel       context.CancelFunc

	frames    atomic.Int64
	closing   atomic.Bool
	closeOnce sync.Once
	haltOnce  sync.Once
	haltErr   error
	closed    chan struct{}
}

// Title is the session's unique title.
func (s *Session) Title() string { return s.layout.Title() }

// Layout resolves the session's paths.
func (s *Session) Layout() workspace.Layout { return s.layout }

// Flow reports how images reach the session.
func (s *Session) Flow() ingest.Flow { return s.flow }

// Capture reports the capture type.
func (s *Session) Capture() ingest.Capture { return s.capture }

// CreatedAt is when the session was created or attached.
func (s *Session) CreatedAt() time.Time { return s.created }

// Live reports whether the session is ingesting images.
func (s *Session) Live() bool { return s.watcher != nil }

// NeedsRemoval reports whether images are background-removed before
// registration.
func (s *Session) NeedsRemoval() bool { return s.capture.NeedsRemoval() }

// Incremental reports whether images are registered one by one as they
// arrive. When false the batch pipeline reconstructs from scratch.
func (s *Session) Incremental() bool { return s.incremental }

// Registration returns a status snapshot of the registration queue.
func (s *Session) Registration() workqueue.Status { return s.registration.Status() }

// Removal returns a status snapshot of the removal queue. Sessions without a
// removal queue report a zero Status.
func (s *Session) Removal() workqueue.Status {
	if s.removal == nil {
		return workqueue.Status{}
	}
	return s.removal.Status()
}

// Frames is the number of frames saved through SaveFrame.
func (s *Session) Frames() int { return int(s.frames.Load()) }

// Done is closed once ingestion stops, either because a queue failed or the
// session was closed.
func (s *Session) Done() <-chan struct{} {
	if s.watcher != nil {
		return s.watcher.Done()
	}
	return s.closed
}

// Err reports why ingestion stopped: a queue failure, ErrClosed, or nil
// while the session is still running.
func (s *Session) Err() error {
	select {
	case <-s.Done():
	default:
		return nil
	}
	if s.watcher != nil {
		if err := s.watcher.Err(); err != nil {
			return err
		}
	}
	if s.haltErr != nil {
		return s.haltErr
	}
	return ErrClosed
}

// halt closes Done, recording err as the reason when it is the first call.
func (s *Session) halt(err error) {
	s.haltOnce.Do(func() {
		s.haltErr = err
		close(s.closed)
	})
}

// watchRemoval halts a passive session when its removal queue fails.
func (s *Session) watchRemoval() {
	select {
	case <-s.removal.Failed():
		if s.closing.Load() {
			return
		}
		s.halt(s.removal.Status().Failure)
	case <-s.closed:
	}
}

// SaveFrame writes one received frame into images/ and, in the upload flow,
// queues it for background removal. It returns the running frame count.
func (s *Session) SaveFrame(frame ingest.Frame) (int, error) {
	select {
	case <-s.Done():
		if err := s.Err(); err != nil {
			return s.Frames(), err
		}
		return s.Frames(), ErrClosed
	default:
	}
	n := int(s.frames.Add(1))
	name := ingest.FrameName(s.Title(), n, frame.Ext)
	if _, err := s.layout.SaveImage(name, frame.Data); err != nil {
		s.frames.Add(-1)
		return s.Frames(), err
	}
	if s.flow == ingest.FlowUpload && s.watcher != nil {
		if err := s.watcher.Push(name); err != nil {
			return n, fmt.Errorf("queue %s: %w", name, err)
		}
	}
	s.logger.Debug("frame saved", logging.String("image", name), logging.Int("count", n))
	return n, nil
}

// Close stops ingestion, the folder process and both queues, cancelling any
// running or pending item. Close is idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		if s.watcher != nil {
			s.watcher.Stop()
		}
		if s.folder != nil {
			s.folder.Stop()
		}
		if s.removal != nil {
			s.removal.Close()
		}
		s.registration.Close()
		if s.cancel != nil {
			s.cancel()
		}
		s.halt(nil)
		s.logger.Info("session closed", logging.String(logging.FieldEventType, "session_closed"))
	})
}
