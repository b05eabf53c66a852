package daemon_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"photoscan/internal/daemon"
	"photoscan/internal/logging"
	"photoscan/internal/services"
	"photoscan/internal/testsupport"
)

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithScripts(), testsupport.WithStubbedBinaries())
	st := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, st, logging.NewNop(), daemon.WithExecutor(&testsupport.StubExecutor{}))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status()
	if !status.Running || status.Address == "" {
		t.Fatalf("expected daemon to report running with an address, got %+v", status)
	}

	resp, err := http.Get("http://" + status.Address + "/api/status")
	if err != nil {
		t.Fatalf("status endpoint: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /api/status, got %d", resp.StatusCode)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithScripts(), testsupport.WithStubbedBinaries())
	first, err := daemon.New(cfg, testsupport.MustOpenStore(t, cfg), logging.NewNop(), daemon.WithExecutor(&testsupport.StubExecutor{}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { first.Close() })
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	second, err := daemon.New(cfg, testsupport.MustOpenStore(t, cfg), logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	err = second.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "another photoscan daemon is already running") {
		t.Fatalf("expected lock contention error, got %v", err)
	}
}

func TestStartRequiresTools(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithScripts())
	cfg.Tools.RembgBinary = "clearly-not-present-rembg"
	d, err := daemon.New(cfg, testsupport.MustOpenStore(t, cfg), logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })

	err = d.Start(context.Background())
	if !errors.Is(err, services.ErrConfiguration) || !strings.Contains(err.Error(), "rembg") {
		t.Fatalf("expected a configuration error naming rembg, got %v", err)
	}
	if d.Status().Running {
		t.Fatal("daemon must not run without its tools")
	}
}

type fakeNotifier struct {
	mu     sync.Mutex
	failed []string
}

func (f *fakeNotifier) NotifyReconstructionCompleted(context.Context, string, int) error { return nil }

func (f *fakeNotifier) NotifyReconstructionFailed(_ context.Context, title, step, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, title+":"+step)
	return nil
}

func (f *fakeNotifier) TestNotification(context.Context) error { return nil }

func (f *fakeNotifier) failures() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.failed...)
}

func TestFailedRunIsNotified(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithScripts(), testsupport.WithStubbedBinaries())
	notifier := &fakeNotifier{}
	d, err := daemon.New(cfg, testsupport.MustOpenStore(t, cfg), logging.NewNop(),
		daemon.WithExecutor(&testsupport.StubExecutor{}), daemon.WithNotifier(notifier))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn, _, err := websocket.Dial(ctx, "ws://"+d.Status().Address+"/process?title=ghost", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()
	for {
		var msg map[string]any
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg["status"] == "FAILED" {
			break
		}
	}

	// The event reaches the socket before the run history is recorded.
	deadline := time.Now().Add(2 * time.Second)
	for len(notifier.failures()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := notifier.failures(); len(got) != 1 || got[0] != "ghost:get-images" {
		t.Fatalf("expected one failure notification, got %v", got)
	}
}
