package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnavailable reports that no daemon API is configured or reachable.
var ErrUnavailable = errors.New("daemon API unavailable")

// Client calls the daemon HTTP API.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient returns a client for bind, an address such as
// "127.0.0.1:4000" or a full URL. An empty bind yields a nil client.
func NewClient(bind string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &Client{base: base, http: &http.Client{Timeout: 10 * time.Second}}, nil
}

// Status fetches GET /api/status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", &out)
	return out, err
}

// Sessions fetches GET /api/sessions.
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	var out SessionListResponse
	if err := c.do(ctx, http.MethodGet, "/api/sessions", &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// DeleteSession removes a session through POST /<flow>/delete/<title>.
func (c *Client) DeleteSession(ctx context.Context, flow, title string) error {
	if flow == "" {
		flow = "scan"
	}
	return c.do(ctx, http.MethodPost, "/"+flow+"/delete/"+url.PathEscape(title), nil)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	if c == nil {
		return ErrUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var body ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error != "" {
			return fmt.Errorf("%s %s returned status %d: %s", method, path, resp.StatusCode, body.Error)
		}
		return fmt.Errorf("%s %s returned status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// IsUnavailable reports whether err means the daemon could not be reached.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrUnavailable) || errors.As(err, &opErr)
}
