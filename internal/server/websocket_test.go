package server

import (
	"testing"
	"time"

	"photoscan/internal/logging"
	"photoscan/internal/protocol"
)

func TestSinkSendDropsWhenBufferFull(t *testing.T) {
	// No writer goroutine runs, so the buffer never drains.
	sink := &wsSink{
		events:  make(chan protocol.Event, 1),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
		timeout: time.Second,
		logger:  logging.NewNop(),
	}

	returned := make(chan struct{})
	go func() {
		defer close(returned)
		sink.Send(protocol.Event{Status: protocol.StatusProcessing, Stage: protocol.StageSparse})
		sink.Send(protocol.Event{Status: protocol.StatusProcessing, Stage: protocol.StageBundleAdjust})
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked with a full buffer")
	}
	if got := len(sink.events); got != 1 {
		t.Fatalf("expected 1 buffered event, got %d", got)
	}
	if e := <-sink.events; e.Stage != protocol.StageSparse {
		t.Fatalf("expected the first event to be kept, got stage %q", e.Stage)
	}
}

func TestSinkSendAfterFlushIsIgnored(t *testing.T) {
	sink := &wsSink{
		events:  make(chan protocol.Event, 1),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
		timeout: time.Second,
		logger:  logging.NewNop(),
	}
	close(sink.stopped)
	sink.Send(protocol.Event{Status: protocol.StatusCompleted, Stage: protocol.StageCompleted})
	if got := len(sink.events); got != 0 {
		t.Fatalf("expected no buffered events after stop, got %d", got)
	}
}
