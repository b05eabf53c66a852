package rembg_test

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"photoscan/internal/services"
	"photoscan/internal/services/rembg"
	"photoscan/internal/testsupport"
	"photoscan/internal/workqueue"
)

func TestNewRequiresBinary(t *testing.T) {
	if _, err := rembg.New("  ", ""); err == nil {
		t.Fatal("expected error for empty binary")
	}
}

func TestRunRemovesSingleImage(t *testing.T) {
	exec := &testsupport.StubExecutor{}
	client, err := rembg.New("rembg", "", rembg.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	item := workqueue.Item{ID: "mug-3.jpeg", SessionDir: "/uploads/mug", Kind: workqueue.KindSubjectRemoval}
	if err := client.Run(context.Background(), item); err != nil {
		t.Fatalf("Run: %v", err)
	}
	calls := exec.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one invocation, got %d", len(calls))
	}
	want := []string{"i", "-m", "u2net",
		filepath.Join("/uploads/mug", "images", "mug-3.jpeg"),
		filepath.Join("/uploads/mug", "images_without_bg", "mug-3.png"),
	}
	if calls[0].Binary != "rembg" || !slices.Equal(calls[0].Args, want) {
		t.Fatalf("unexpected command %v", calls[0])
	}
}

func TestRemoveImageTreatsStderrAsFailure(t *testing.T) {
	exec := &testsupport.StubExecutor{Stderr: []string{"onnxruntime: model file not found"}}
	client, _ := rembg.New("rembg", "u2net", rembg.WithExecutor(exec))
	err := client.RemoveImage(context.Background(), "in.jpeg", "out.png")
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestRemoveImagePropagatesExitError(t *testing.T) {
	exec := &testsupport.StubExecutor{Err: testsupport.ExitError{Code: 2}}
	client, _ := rembg.New("rembg", "u2net", rembg.WithExecutor(exec))
	err := client.RemoveImage(context.Background(), "in.jpeg", "out.png")
	if services.ExitCode(err) != 2 {
		t.Fatalf("expected exit code 2 in %v", err)
	}
}

func TestRunRejectsPathItems(t *testing.T) {
	client, _ := rembg.New("rembg", "", rembg.WithExecutor(&testsupport.StubExecutor{}))
	err := client.Run(context.Background(), workqueue.Item{ID: "../x.jpeg", SessionDir: "/uploads/mug"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOutputName(t *testing.T) {
	if got := rembg.OutputName("mug-1.jpeg"); got != "mug-1.png" {
		t.Fatalf("OutputName = %q", got)
	}
}

func TestFolderProcessStops(t *testing.T) {
	started := make(chan services.Command, 1)
	exec := &testsupport.StubExecutor{OnRun: func(ctx context.Context, cmd services.Command) error {
		started <- cmd
		<-ctx.Done()
		return ctx.Err()
	}}
	client, _ := rembg.New("rembg", "u2net", rembg.WithExecutor(exec))
	proc := client.StartFolder(context.Background(), "/s/images", "/s/images_without_bg")

	select {
	case cmd := <-started:
		want := []string{"p", "-m", "u2net", "-w", "/s/images/", "/s/images_without_bg/"}
		if !slices.Equal(cmd.Args, want) {
			t.Fatalf("unexpected folder args %v", cmd.Args)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("folder process never started")
	}
	proc.Stop()
	if proc.Err() != nil {
		t.Fatalf("requested stop should not report an error, got %v", proc.Err())
	}
}

func TestFolderProcessReportsUnexpectedExit(t *testing.T) {
	exec := &testsupport.StubExecutor{Err: errors.New("model download failed")}
	client, _ := rembg.New("rembg", "u2net", rembg.WithExecutor(exec))
	proc := client.StartFolder(context.Background(), "/s/images", "/s/out")
	select {
	case <-proc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected process to exit")
	}
	if !errors.Is(proc.Err(), services.ErrRemovalFailed) {
		t.Fatalf("expected REMOVAL_FAILED, got %v", proc.Err())
	}
}
