package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"photoscan/internal/config"
	"photoscan/internal/notifications"
	"photoscan/internal/store"
)

type capturedRequest struct {
	title    string
	tags     string
	priority string
	body     string
}

func newNtfyServer(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var got []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, capturedRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), got...)
	}
}

func configFor(topic string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = topic
	return &cfg
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	svc := notifications.NewService(configFor(""))
	if notifications.Enabled(svc) {
		t.Fatal("expected notifications to be disabled")
	}
	if err := svc.NotifyReconstructionCompleted(context.Background(), "mug", 3); err != nil {
		t.Fatalf("noop notifier returned %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, requests := newNtfyServer(t, http.StatusOK)
	svc := notifications.NewService(configFor(srv.URL))
	if !notifications.Enabled(svc) {
		t.Fatal("expected notifications to be enabled")
	}
	ctx := context.Background()

	if err := svc.NotifyReconstructionCompleted(ctx, "mug-1", 42); err != nil {
		t.Fatalf("completed: %v", err)
	}
	if err := svc.NotifyReconstructionFailed(ctx, "mug-2", "reconstruct", "Dense reconstruction failed"); err != nil {
		t.Fatalf("failed: %v", err)
	}
	if err := svc.TestNotification(ctx); err != nil {
		t.Fatalf("test: %v", err)
	}

	got := requests()
	if len(got) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(got))
	}
	tests := []capturedRequest{
		{title: "photoscan - Reconstruction Complete", tags: "photoscan,reconstruction,completed", priority: "high", body: "Model ready: mug-1 (42 images)"},
		{title: "photoscan - Reconstruction Failed", tags: "photoscan,reconstruction,error", priority: "high", body: "Reconstruction failed: mug-2 during reconstruct\nDense reconstruction failed"},
		{title: "photoscan - Test", tags: "photoscan,test", priority: "low", body: "Notification system test"},
	}
	for i, want := range tests {
		if got[i] != want {
			t.Fatalf("request %d = %+v, want %+v", i, got[i], want)
		}
	}
}

func TestFailureNotificationsCanBeDisabled(t *testing.T) {
	srv, requests := newNtfyServer(t, http.StatusOK)
	cfg := configFor(srv.URL)
	cfg.Notifications.OnFailure = false
	svc := notifications.NewService(cfg)
	if err := svc.NotifyReconstructionFailed(context.Background(), "mug", "registration", "Colmap failed"); err != nil {
		t.Fatal(err)
	}
	if n := len(requests()); n != 0 {
		t.Fatalf("expected no requests, got %d", n)
	}
}

func TestNtfyErrorStatusIsReported(t *testing.T) {
	srv, _ := newNtfyServer(t, http.StatusForbidden)
	svc := notifications.NewService(configFor(srv.URL))
	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}

type memRecorder struct {
	events []store.Event
	counts map[string]int
	err    error
}

func (m *memRecorder) RecordEvent(_ context.Context, ev store.Event) error {
	m.events = append(m.events, ev)
	return m.err
}

func (m *memRecorder) SetImageCount(_ context.Context, title string, count int) error {
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[title] = count
	return nil
}

func TestNotifierSendsOnTerminalEventsOnly(t *testing.T) {
	srv, requests := newNtfyServer(t, http.StatusOK)
	next := &memRecorder{}
	n := notifications.NewNotifier(next, notifications.NewService(configFor(srv.URL)), time.Second, nil)
	ctx := context.Background()

	if err := n.SetImageCount(ctx, "vase", 12); err != nil {
		t.Fatal(err)
	}
	for _, status := range []string{"PROCESSING", "PROCESSING", "COMPLETED"} {
		if err := n.RecordEvent(ctx, store.Event{Title: "vase", Status: status}); err != nil {
			t.Fatal(err)
		}
	}

	if len(next.events) != 3 || next.counts["vase"] != 12 {
		t.Fatalf("expected events forwarded, got %d events, counts %v", len(next.events), next.counts)
	}
	got := requests()
	if len(got) != 1 || got[0].body != "Model ready: vase (12 images)" {
		t.Fatalf("expected one completion notification, got %+v", got)
	}
}

func TestNotifierReturnsRecorderErrorAndStillNotifies(t *testing.T) {
	srv, requests := newNtfyServer(t, http.StatusOK)
	next := &memRecorder{err: errors.New("db locked")}
	n := notifications.NewNotifier(next, notifications.NewService(configFor(srv.URL)), time.Second, nil)

	err := n.RecordEvent(context.Background(), store.Event{Title: "box", Status: "FAILED", Step: "get-images", Message: "No images found"})
	if err == nil || err.Error() != "db locked" {
		t.Fatalf("expected recorder error, got %v", err)
	}
	if got := requests(); len(got) != 1 || !strings.Contains(got[0].body, "box during get-images") {
		t.Fatalf("expected failure notification, got %+v", got)
	}
}
