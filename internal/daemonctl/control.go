package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"photoscan/internal/api"
	"photoscan/internal/config"
	"photoscan/internal/daemonrun"
)

const probeInterval = 100 * time.Millisecond

// ErrNotRunning indicates no daemon process is recorded or alive.
var ErrNotRunning = errors.New("daemon not running")

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

// StartState describes what EnsureStarted found or did.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State StartState
	PID   int
}

// StopResult captures daemon stop outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// Launch starts a detached `photoscan serve` process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return errors.New("resolve executable: executable path is empty")
	}
	args := []string{"serve"}
	if path := strings.TrimSpace(opts.ConfigPath); path != "" {
		args = append(args, "--config", path)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// Probe asks the daemon API for its status.
func Probe(ctx context.Context, cfg *config.Config) (api.DaemonStatus, error) {
	client, err := api.NewClient(cfg.Paths.APIBind)
	if err != nil {
		return api.DaemonStatus{}, err
	}
	return client.Status(ctx)
}

// WaitForAPI polls the daemon API until it answers or timeout passes.
func WaitForAPI(ctx context.Context, cfg *config.Config, timeout time.Duration) (api.DaemonStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		status, err := Probe(ctx, cfg)
		if err == nil && status.Running {
			return status, nil
		}
		select {
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
			return api.DaemonStatus{}, fmt.Errorf("daemon failed to start: %w", err)
		case <-ticker.C:
		}
	}
}

// EnsureStarted launches the daemon unless its API already answers.
func EnsureStarted(ctx context.Context, cfg *config.Config, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if status, err := Probe(ctx, cfg); err == nil && status.Running {
		return StartResult{State: StartStateAlreadyRunning, PID: status.PID}, nil
	} else if err != nil && !api.IsUnavailable(err) {
		return StartResult{}, err
	}

	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	status, err := WaitForAPI(ctx, cfg, waitTimeout)
	if err != nil {
		return StartResult{}, fmt.Errorf("%w; see %s", err, daemonrun.CurrentLogPath(cfg))
	}
	return StartResult{State: StartStateStarted, PID: status.PID}, nil
}

// Stop sends SIGTERM to the recorded daemon pid and SIGKILL if the process
// is still alive after gracePeriod. A stale pid file is removed.
func Stop(ctx context.Context, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	pidPath := daemonrun.PIDFilePath(cfg)
	pid, err := daemonrun.ReadPID(cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StopResult{}, ErrNotRunning
		}
		return StopResult{}, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	if pid <= 0 || pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal pid %d from %s", pid, pidPath)
	}

	result := StopResult{PID: pid}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return result, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
			_ = os.Remove(pidPath)
			return result, ErrNotRunning
		}
		return result, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}

	if waitForExit(ctx, proc, gracePeriod) {
		_ = os.Remove(pidPath)
		return result, nil
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return result, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	result.ForcedKill = true
	waitForExit(ctx, proc, gracePeriod)
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	return result, nil
}

// waitForExit reports whether proc exited within timeout.
func waitForExit(ctx context.Context, proc *os.Process, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if err := proc.Signal(syscall.Signal(0)); err != nil {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		time.Sleep(probeInterval / 2)
	}
}
