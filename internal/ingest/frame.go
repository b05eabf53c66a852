package ingest

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"photoscan/internal/services"
	"photoscan/internal/workspace"
)

var dataURIPrefix = regexp.MustCompile(`^data:image/(\w+);base64,`)

// Frame is one decoded image received from a client.
type Frame struct {
	Data []byte
	// Ext is the image subtype from the data URI, e.g. "jpeg".
	Ext string
}

// DecodeFrame parses a base64 image data URI such as
// "data:image/jpeg;base64,...".
func DecodeFrame(message string) (Frame, error) {
	match := dataURIPrefix.FindStringSubmatch(message)
	if match == nil {
		return Frame{}, services.Wrap(services.ErrValidation, "ingest", "decode", "frame is not a base64 image data URI", nil)
	}
	ext := strings.ToLower(match[1])
	if !workspace.IsImage("frame." + ext) {
		return Frame{}, services.Wrap(services.ErrValidation, "ingest", "decode", fmt.Sprintf("unsupported image type %q", ext), nil)
	}
	payload := strings.TrimSpace(message[len(match[0]):])
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Frame{}, services.Wrap(services.ErrValidation, "ingest", "decode", "invalid base64 payload", err)
	}
	if len(data) == 0 {
		return Frame{}, services.Wrap(services.ErrValidation, "ingest", "decode", "empty frame", nil)
	}
	return Frame{Data: data, Ext: ext}, nil
}

// FrameName is the file name of the n-th frame received for a session.
func FrameName(title string, n int, ext string) string {
	return fmt.Sprintf("%s-%d.%s", title, n, ext)
}
