package ingest

import (
	"encoding/base64"
	"errors"
	"testing"

	"photoscan/internal/services"
)

func TestDecodeFrame(t *testing.T) {
	payload := []byte{0xff, 0xd8, 0xff, 0xe0}
	msg := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(payload)
	frame, err := DecodeFrame(msg)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if frame.Ext != "jpeg" || string(frame.Data) != string(payload) {
		t.Fatalf("unexpected frame %+v", frame)
	}
	if got := FrameName("mug2024", 3, frame.Ext); got != "mug2024-3.jpeg" {
		t.Fatalf("FrameName = %q", got)
	}
}

func TestDecodeFrameRejects(t *testing.T) {
	cases := map[string]string{
		"not a data uri": "hello",
		"bad base64":     "data:image/png;base64,***",
		"empty payload":  "data:image/png;base64,",
		"unsupported":    "data:image/gif;base64," + base64.StdEncoding.EncodeToString([]byte("GIF89a")),
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeFrame(msg); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestParseCapture(t *testing.T) {
	for raw, want := range map[string]Capture{"": CaptureSubject, "Subject": CaptureSubject, "surrounding": CaptureSurrounding} {
		got, err := ParseCapture(raw)
		if err != nil || got != want {
			t.Fatalf("ParseCapture(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseCapture("panorama"); err == nil {
		t.Fatal("expected error for unknown capture")
	}
	if CaptureSurrounding.NeedsRemoval() || !CaptureSubject.NeedsRemoval() {
		t.Fatal("only subject captures need background removal")
	}
}
