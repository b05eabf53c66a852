package session_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"photoscan/internal/pipeline"
	"photoscan/internal/protocol"
	"photoscan/internal/reconstruct"
	"photoscan/internal/services"
	"photoscan/internal/testsupport"
	"photoscan/internal/workspace"
)

const restoredTitle = "mug2023-01-01T00-00-00.000Z"

// provisionRestored lays out a session left behind by an earlier daemon:
// raw images mug-1..mug-n with removed copies for the first removed of them.
func provisionRestored(t *testing.T, h *harness, raw, removed int) workspace.Layout {
	t.Helper()
	layout, err := workspace.New(h.cfg.Paths.UploadsDir, restoredTitle)
	if err != nil {
		t.Fatal(err)
	}
	if err := layout.Provision(); err != nil {
		t.Fatal(err)
	}
	testsupport.WriteImages(t, layout.ImagesDir(), "mug", raw)
	for i := 1; i <= removed; i++ {
		testsupport.WriteFile(t, filepath.Join(layout.NoBackgroundDir(), fmt.Sprintf("mug-%d.png", i)), 32)
	}
	return layout
}

// writeRembgOutput makes the stub behave like "rembg i": it writes the output
// path, the last argument.
func writeRembgOutput(_ context.Context, cmd services.Command) error {
	if len(cmd.Args) == 0 || cmd.Args[0] != "i" {
		return nil
	}
	return os.WriteFile(cmd.Args[len(cmd.Args)-1], []byte{0x89, 'P', 'N', 'G'}, 0o644)
}

func TestAttachResumesPartialRemoval(t *testing.T) {
	h := newHarness(t)
	h.rembgExec.OnRun = writeRembgOutput
	layout := provisionRestored(t, h, 3, 1)

	sess, err := h.manager.Attach(restoredTitle)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer h.manager.Release(sess)
	if !sess.NeedsRemoval() {
		t.Fatal("a partly removed session is a subject capture")
	}

	waitFor(t, "resumed removal", func() bool {
		n, _ := workspace.CountImages(layout.NoBackgroundDir())
		return n == 3
	})
	calls := h.rembgExec.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected removal for the 2 missing images, got %d calls", len(calls))
	}
	for _, call := range calls {
		if filepath.Base(call.Args[len(call.Args)-2]) == "mug-1.jpeg" {
			t.Fatalf("image with an existing copy was removed again: %v", call.Args)
		}
	}
	if err := sess.Err(); err != nil {
		t.Fatalf("session should still be running, got %v", err)
	}
}

func TestAttachRemovalFailureEndsSession(t *testing.T) {
	h := newHarness(t)
	h.rembgExec.Stderr = []string{"onnxruntime: model not found"}
	provisionRestored(t, h, 2, 1)

	sess, err := h.manager.Attach(restoredTitle)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer h.manager.Release(sess)
	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop after the removal failure")
	}
	if services.KindOf(sess.Err()) != services.KindRemovalFailed {
		t.Fatalf("expected REMOVAL_FAILED, got %v", sess.Err())
	}
}

func TestAttachMismatchedRemovalFails(t *testing.T) {
	h := newHarness(t)
	layout := provisionRestored(t, h, 1, 1)
	// mug-1.jpeg and mug-1.png share the removed copy mug-1.png.
	testsupport.WriteFile(t, filepath.Join(layout.ImagesDir(), "mug-1.png"), 64)

	sess, err := h.manager.Attach(restoredTitle)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer h.manager.Release(sess)
	select {
	case <-sess.Done():
	default:
		t.Fatal("a session that can never finish removal should stop at once")
	}
	if services.KindOf(sess.Err()) != services.KindRemovalFailed {
		t.Fatalf("expected REMOVAL_FAILED, got %v", sess.Err())
	}
	if len(h.rembgExec.Calls()) != 0 {
		t.Fatalf("nothing to remove, got %v", h.rembgExec.Calls())
	}
}

type completingBatch struct{}

func (completingBatch) Run(_ context.Context, _ workspace.Layout, _ reconstruct.Mode, sink protocol.Sink) (reconstruct.Result, error) {
	sink.Send(protocol.Event{Status: protocol.StatusProcessing, Stage: protocol.StageTexture, Step: "openMVS", Message: "Texture the mesh"})
	return reconstruct.Result{LastStage: protocol.StageTexture}, nil
}

func TestProcessRestoredSessionWithPartialRemoval(t *testing.T) {
	h := newHarness(t)
	h.rembgExec.OnRun = writeRembgOutput
	provisionRestored(t, h, 3, 1)

	sess, err := h.manager.Attach(restoredTitle)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer h.manager.Release(sess)

	ctrl := pipeline.New(completingBatch{}, pipeline.Options{
		RemovalPoll:      5 * time.Millisecond,
		RegistrationPoll: 5 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	run, err := ctrl.Process(ctx, sess, testsupport.NewEventRecorder())
	if err != nil {
		t.Fatalf("Process: state=%s err=%v", run.State, err)
	}
	if run.State != pipeline.StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", run.State)
	}
}
