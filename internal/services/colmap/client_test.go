package colmap_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"photoscan/internal/services"
	"photoscan/internal/services/colmap"
	"photoscan/internal/testsupport"
	"photoscan/internal/workqueue"
)

func TestNewValidatesArguments(t *testing.T) {
	if _, err := colmap.New("", "script.py"); err == nil {
		t.Fatal("expected error for missing python")
	}
	if _, err := colmap.New("python3", " "); err == nil {
		t.Fatal("expected error for missing script")
	}
}

func TestRunnerBuildsIncrementalCommand(t *testing.T) {
	exec := &testsupport.StubExecutor{Stdout: []string{"Registering image", "done"}}
	client, err := colmap.New("python3", "/opt/ColmapIncremental-web.py", colmap.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	item := workqueue.Item{ID: "mug-1.png", SessionDir: "/uploads/mug", Kind: workqueue.KindRegistration}
	if err := client.Runner("subject").Run(context.Background(), item); err != nil {
		t.Fatalf("Run: %v", err)
	}
	calls := exec.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one call, got %d", len(calls))
	}
	want := []string{"/opt/ColmapIncremental-web.py", "--imagename", "mug-1.png", "--workspace", "/uploads/mug/", "--type", "subject"}
	if calls[0].Binary != "python3" || !slices.Equal(calls[0].Args, want) {
		t.Fatalf("unexpected command %+v", calls[0])
	}
	if calls[0].Dir != "/uploads/mug" {
		t.Fatalf("unexpected working directory %q", calls[0].Dir)
	}
}

func TestRegisterFailsOnStderr(t *testing.T) {
	exec := &testsupport.StubExecutor{Stderr: []string{"Traceback (most recent call last):", "RuntimeError: could not register"}}
	client, _ := colmap.New("python3", "inc.py", colmap.WithExecutor(exec))
	err := client.Register(context.Background(), "/uploads/mug", "a.png", "surrounding")
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestRegisterFailureBecomesRegistrationFailedInQueue(t *testing.T) {
	exec := &testsupport.StubExecutor{Stderr: []string{"boom"}}
	client, _ := colmap.New("python3", "inc.py", colmap.WithExecutor(exec))
	q := workqueue.New(workqueue.KindRegistration, client.Runner("subject"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	ticket, err := q.Enqueue(workqueue.Item{ID: "a.png", SessionDir: "/uploads/mug"})
	if err != nil {
		t.Fatal(err)
	}
	if err := ticket.Wait(ctx); services.KindOf(err) != services.KindRegistrationFailed {
		t.Fatalf("expected REGISTRATION_FAILED, got %v", err)
	}
}

func TestRegisterRejectsPaths(t *testing.T) {
	client, _ := colmap.New("python3", "inc.py", colmap.WithExecutor(&testsupport.StubExecutor{}))
	if err := client.Register(context.Background(), "/uploads/mug", "../../etc/passwd", "subject"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
