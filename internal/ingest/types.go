package ingest

import (
	"errors"
	"fmt"
	"strings"

	"photoscan/internal/services"
)

// Flow names how images reach a session.
type Flow string

const (
	FlowScan   Flow = "scan"
	FlowUpload Flow = "upload"
)

// Capture is the capture type chosen by the client.
type Capture string

const (
	// CaptureSubject photographs an object; backgrounds are removed before
	// registration.
	CaptureSubject Capture = "subject"
	// CaptureSurrounding photographs a scene; raw images are registered.
	CaptureSurrounding Capture = "surrounding"
)

// ParseCapture validates a client-supplied capture type. An empty value
// selects CaptureSubject.
func ParseCapture(raw string) (Capture, error) {
	switch Capture(strings.ToLower(strings.TrimSpace(raw))) {
	case "", CaptureSubject:
		return CaptureSubject, nil
	case CaptureSurrounding:
		return CaptureSurrounding, nil
	}
	return "", services.Wrap(services.ErrValidation, "ingest", "capture", fmt.Sprintf("unknown capture type %q", raw), nil)
}

// NeedsRemoval reports whether images of this capture type have their
// background removed.
func (c Capture) NeedsRemoval() bool { return c != CaptureSurrounding }

// ErrStopped is returned by Push once the watcher has stopped or aborted.
var ErrStopped = errors.New("ingest stopped")
