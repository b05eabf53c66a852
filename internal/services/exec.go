package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	maxLineBytes = 1 << 20
	killWaitTime = 5 * time.Second
)

// Command describes one external tool invocation.
type Command struct {
	Binary string
	Args   []string
	Dir    string
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Output receives subprocess output line by line as it arrives. Either
// callback may be nil.
type Output struct {
	Stdout func(string)
	Stderr func(string)
}

// Executor runs an external command, streaming its output.
type Executor interface {
	Run(ctx context.Context, cmd Command, out Output) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, cmd Command, out Output) error

func (f ExecutorFunc) Run(ctx context.Context, cmd Command, out Output) error {
	return f(ctx, cmd, out)
}

// CommandExecutor runs commands with os/exec. Each command gets its own
// process group so cancellation also stops the tools the command spawns.
type CommandExecutor struct{}

func (CommandExecutor) Run(ctx context.Context, command Command, out Output) error {
	cmd := exec.CommandContext(ctx, command.Binary, command.Args...) //nolint:gosec
	cmd.Dir = command.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = killWaitTime

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", command.Binary, err)
	}

	var (
		wg      sync.WaitGroup
		once    sync.Once
		scanErr error
	)
	scan := func(r io.Reader, forward func(string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			if forward != nil {
				forward(scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
				_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
			})
			_, _ = io.Copy(io.Discard, r)
		}
	}

	wg.Add(2)
	go scan(stdout, out.Stdout)
	go scan(stderr, out.Stderr)
	wg.Wait()

	waitErr := cmd.Wait()
	if scanErr != nil {
		return fmt.Errorf("read output: %w", scanErr)
	}
	if ctxErr := ctx.Err(); ctxErr != nil && waitErr != nil {
		return fmt.Errorf("%s: %w", command.Binary, ctxErr)
	}
	if waitErr != nil {
		return fmt.Errorf("%s: %w", command.Binary, waitErr)
	}
	return nil
}

// ExitCode extracts the process exit status from an Executor error. It
// returns 0 for nil and -1 when err does not carry an exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return -1
}

// StderrCollector accumulates stderr lines. Tools that report failures only
// on stderr are judged by whether anything was collected.
type StderrCollector struct {
	mu    sync.Mutex
	lines []string
}

// Line appends one line; blank lines are ignored.
func (c *StderrCollector) Line(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

// Empty reports whether no stderr output was collected.
func (c *StderrCollector) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines) == 0
}

// Tail returns up to n trailing lines joined by newlines.
func (c *StderrCollector) Tail(n int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := c.lines
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
