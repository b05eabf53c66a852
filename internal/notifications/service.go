package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"photoscan/internal/config"
)

const userAgent = "photoscan/0.1.0"

// Service defines the notification surface used by the daemon.
type Service interface {
	NotifyReconstructionCompleted(ctx context.Context, title string, images int) error
	NotifyReconstructionFailed(ctx context.Context, title, step, message string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: cfg.Notifications.Timeout()},
		onFailure: cfg.Notifications.OnFailure,
	}
}

// Enabled reports whether svc sends anything.
func Enabled(svc Service) bool {
	_, noop := svc.(noopService)
	return svc != nil && !noop
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	onFailure bool
}

func (n *ntfyService) NotifyReconstructionCompleted(ctx context.Context, title string, images int) error {
	message := fmt.Sprintf("Model ready: %s", strings.TrimSpace(title))
	if images > 0 {
		message = fmt.Sprintf("%s (%d images)", message, images)
	}
	return n.send(ctx, payload{
		title:    "photoscan - Reconstruction Complete",
		message:  message,
		tags:     []string{"photoscan", "reconstruction", "completed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyReconstructionFailed(ctx context.Context, title, step, message string) error {
	if !n.onFailure {
		return nil
	}
	var b strings.Builder
	b.WriteString("Reconstruction failed: ")
	b.WriteString(strings.TrimSpace(title))
	if step = strings.TrimSpace(step); step != "" {
		b.WriteString(" during ")
		b.WriteString(step)
	}
	if message = strings.TrimSpace(message); message != "" {
		b.WriteString("\n")
		b.WriteString(message)
	}
	return n.send(ctx, payload{
		title:    "photoscan - Reconstruction Failed",
		message:  b.String(),
		tags:     []string{"photoscan", "reconstruction", "error"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "photoscan - Test",
		message:  "Notification system test",
		tags:     []string{"photoscan", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyReconstructionCompleted(context.Context, string, int) error { return nil }
func (noopService) NotifyReconstructionFailed(context.Context, string, string, string) error {
	return nil
}
func (noopService) TestNotification(context.Context) error { return nil }
