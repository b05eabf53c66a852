package colmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"photoscan/internal/logging"
	"photoscan/internal/services"
	"photoscan/internal/workqueue"
)

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec services.Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client invokes the incremental registration script.
type Client struct {
	python string
	script string
	exec   services.Executor
	logger *slog.Logger
}

// New constructs a registration client.
func New(python, script string, opts ...Option) (*Client, error) {
	python = strings.TrimSpace(python)
	script = strings.TrimSpace(script)
	if python == "" {
		return nil, errors.New("python binary required")
	}
	if script == "" {
		return nil, errors.New("incremental registration script required")
	}
	c := &Client{python: python, script: script, exec: services.CommandExecutor{}, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Register adds imageName to the reconstruction in workspace. mode is the
// capture type ("subject" or "surrounding") and selects which image folder
// the script reads. Non-empty stderr is treated as failure.
func (c *Client) Register(ctx context.Context, workspace, imageName, mode string) error {
	if imageName == "" || imageName != filepath.Base(imageName) {
		return services.Wrap(services.ErrValidation, "registration", "colmap", fmt.Sprintf("bad image name %q", imageName), nil)
	}
	var stderr services.StderrCollector
	cmd := services.Command{
		Binary: c.python,
		Args: []string{
			c.script,
			"--imagename", imageName,
			"--workspace", withSlash(workspace),
			"--type", mode,
		},
		Dir: workspace,
	}
	err := c.exec.Run(ctx, cmd, services.Output{
		Stdout: func(line string) {
			c.logger.Debug("registration output", logging.String("image", imageName), logging.String("line", line))
		},
		Stderr: stderr.Line,
	})
	switch {
	case err != nil:
		return services.Wrap(services.ErrExternalTool, "registration", imageName, stderr.Tail(5), err)
	case !stderr.Empty():
		return services.Wrap(services.ErrExternalTool, "registration", imageName, stderr.Tail(5), nil)
	}
	return nil
}

// Runner binds the client to a capture mode for use in a registration queue.
func (c *Client) Runner(mode string) workqueue.Runner {
	return workqueue.RunnerFunc(func(ctx context.Context, item workqueue.Item) error {
		return c.Register(ctx, item.SessionDir, item.ID, mode)
	})
}

func withSlash(dir string) string {
	if strings.HasSuffix(dir, string(filepath.Separator)) {
		return dir
	}
	return dir + string(filepath.Separator)
}
