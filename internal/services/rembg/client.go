package rembg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"photoscan/internal/logging"
	"photoscan/internal/services"
	"photoscan/internal/workqueue"
	"photoscan/internal/workspace"
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

// Client wraps rembg CLI interactions.
type Client struct {
	binary string
	model  string
	exec   services.Executor
	logger *slog.Logger
}

// New constructs a rembg client. An empty model selects u2net.
func New(binary, model string, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("rembg binary required")
	}
	if strings.TrimSpace(model) == "" {
		model = "u2net"
	}
	c := &Client{binary: binary, model: model, exec: services.CommandExecutor{}, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// OutputName is the removed-background file name rembg writes for an input
// image: the same stem with a .png extension.
func OutputName(imageName string) string {
	return strings.TrimSuffix(imageName, filepath.Ext(imageName)) + ".png"
}

// RemoveImage strips the background from one image. rembg reports problems
// on stderr while still exiting zero, so any stderr output counts as failure.
func (c *Client) RemoveImage(ctx context.Context, input, output string) error {
	var stderr services.StderrCollector
	cmd := services.Command{Binary: c.binary, Args: []string{"i", "-m", c.model, input, output}}
	err := c.exec.Run(ctx, cmd, services.Output{Stderr: stderr.Line})
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "removal", "rembg i", stderr.Tail(5), err)
	}
	if !stderr.Empty() {
		return services.Wrap(services.ErrExternalTool, "removal", "rembg i", stderr.Tail(5), nil)
	}
	return nil
}

// Run implements workqueue.Runner for removal items: item.ID names a file in
// the session's images directory.
func (c *Client) Run(ctx context.Context, item workqueue.Item) error {
	if item.ID != filepath.Base(item.ID) {
		return services.Wrap(services.ErrValidation, "removal", "rembg i", fmt.Sprintf("bad image name %q", item.ID), nil)
	}
	input := filepath.Join(item.SessionDir, workspace.ImagesDirName, item.ID)
	output := filepath.Join(item.SessionDir, workspace.NoBackgroundDirName, OutputName(item.ID))
	return c.RemoveImage(ctx, input, output)
}

// FolderProcess is a running "rembg p -w" watcher.
type FolderProcess struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// StartFolder launches whole-folder watch mode, writing a removed-background
// copy of every image that appears in input into output. The process runs
// until Stop is called or ctx is cancelled.
func (c *Client) StartFolder(ctx context.Context, input, output string) *FolderProcess {
	runCtx, cancel := context.WithCancel(ctx)
	proc := &FolderProcess{cancel: cancel, done: make(chan struct{})}
	cmd := services.Command{
		Binary: c.binary,
		Args:   []string{"p", "-m", c.model, "-w", ensureSlash(input), ensureSlash(output)},
	}
	logger := c.logger.With(logging.String("input", input))

	go func() {
		defer close(proc.done)
		logger.Info("folder background removal started", logging.String(logging.FieldEventType, "rembg_folder_started"))
		err := c.exec.Run(runCtx, cmd, services.Output{
			Stdout: func(line string) { logger.Debug("rembg", logging.String("line", line)) },
			Stderr: func(line string) { logger.Debug("rembg stderr", logging.String("line", line)) },
		})
		if err != nil && runCtx.Err() == nil {
			err = services.Wrap(services.ErrRemovalFailed, "removal", "rembg p", "folder watcher exited", err)
			logging.WarnWithContext(logger, "folder background removal exited", "rembg_folder_exited",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that rembg and the "+c.model+" model are installed"),
				logging.String(logging.FieldImpact, "new frames will not have their background removed"),
			)
			proc.setErr(err)
			return
		}
		logger.Info("folder background removal stopped", logging.String(logging.FieldEventType, "rembg_folder_stopped"))
	}()
	return proc
}

func ensureSlash(dir string) string {
	if strings.HasSuffix(dir, string(filepath.Separator)) {
		return dir
	}
	return dir + string(filepath.Separator)
}

func (p *FolderProcess) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Done is closed once the process has exited.
func (p *FolderProcess) Done() <-chan struct{} { return p.done }

// Err reports an unexpected exit. It is nil after a requested Stop.
func (p *FolderProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop terminates the watcher and waits for it to exit.
func (p *FolderProcess) Stop() {
	if p == nil {
		return
	}
	p.cancel()
	<-p.done
}

var _ workqueue.Runner = (*Client)(nil)
