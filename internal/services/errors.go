package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the stable, client-facing classification of a failure.
type ErrorKind string

const (
	KindImagesMissing       ErrorKind = "IMAGES_MISSING"
	KindImagesEmpty         ErrorKind = "IMAGES_EMPTY"
	KindRemovalFailed       ErrorKind = "REMOVAL_FAILED"
	KindRegistrationFailed  ErrorKind = "REGISTRATION_FAILED"
	KindBatchPipelineFailed ErrorKind = "BATCH_PIPELINE_FAILED"
	KindModelNotFound       ErrorKind = "MODEL_NOT_FOUND"
	KindExternalTool        ErrorKind = "EXTERNAL_TOOL"
	KindValidation          ErrorKind = "VALIDATION"
	KindConfiguration       ErrorKind = "CONFIGURATION"
	KindUnknown             ErrorKind = "UNKNOWN"
)

var (
	ErrImagesMissing       = errors.New("images missing")
	ErrImagesEmpty         = errors.New("images empty")
	ErrRemovalFailed       = errors.New("background removal failed")
	ErrRegistrationFailed  = errors.New("incremental registration failed")
	ErrBatchPipelineFailed = errors.New("batch pipeline failed")
	ErrModelNotFound       = errors.New("model not found")
	ErrExternalTool        = errors.New("external tool error")
	ErrValidation          = errors.New("validation error")
	ErrConfiguration       = errors.New("configuration error")
)

var kindMarkers = []struct {
	marker error
	kind   ErrorKind
}{
	{ErrImagesMissing, KindImagesMissing},
	{ErrImagesEmpty, KindImagesEmpty},
	{ErrRemovalFailed, KindRemovalFailed},
	{ErrRegistrationFailed, KindRegistrationFailed},
	{ErrBatchPipelineFailed, KindBatchPipelineFailed},
	{ErrModelNotFound, KindModelNotFound},
	{ErrExternalTool, KindExternalTool},
	{ErrValidation, KindValidation},
	{ErrConfiguration, KindConfiguration},
}

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf reports the classification for err. Markers earlier in the list win
// when an error chain carries more than one, so a registration failure caused
// by an external tool error is still reported as REGISTRATION_FAILED.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, entry := range kindMarkers {
		if errors.Is(err, entry.marker) {
			return entry.kind
		}
	}
	return KindUnknown
}

// MarkerFor returns the sentinel error for kind, or nil when kind is unknown.
func MarkerFor(kind ErrorKind) error {
	for _, entry := range kindMarkers {
		if entry.kind == kind {
			return entry.marker
		}
	}
	return nil
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{stage, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
