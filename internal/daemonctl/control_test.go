package daemonctl_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"photoscan/internal/api"
	"photoscan/internal/daemonctl"
	"photoscan/internal/daemonrun"
	"photoscan/internal/testsupport"
)

func startChild(t *testing.T, script string) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", script)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start child: %v", err)
	}
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		<-exited
	})
	return cmd
}

func writePID(t *testing.T, path string, pid int) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
}

func TestStopWithoutPIDFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemonctl.Stop(context.Background(), cfg, 50*time.Millisecond); !errors.Is(err, daemonctl.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestStopTerminatesProcess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	child := startChild(t, "exec sleep 30")
	writePID(t, daemonrun.PIDFilePath(cfg), child.Process.Pid)

	result, err := daemonctl.Stop(context.Background(), cfg, 2*time.Second)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if result.PID != child.Process.Pid || result.ForcedKill {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, err := os.Stat(daemonrun.PIDFilePath(cfg)); !os.IsNotExist(err) {
		t.Fatalf("expected pid file to be removed, got %v", err)
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	child := startChild(t, "trap '' TERM; while :; do sleep 0.05; done")
	// Give the shell time to install the trap.
	time.Sleep(100 * time.Millisecond)
	writePID(t, daemonrun.PIDFilePath(cfg), child.Process.Pid)

	result, err := daemonctl.Stop(context.Background(), cfg, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !result.ForcedKill {
		t.Fatalf("expected a forced kill, got %+v", result)
	}
}

func TestStopRefusesOwnPID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	writePID(t, daemonrun.PIDFilePath(cfg), os.Getpid())
	if _, err := daemonctl.Stop(context.Background(), cfg, time.Millisecond); err == nil || !strings.Contains(err.Error(), "refusing") {
		t.Fatalf("expected refusal, got %v", err)
	}
}

func TestEnsureStartedDetectsRunningDaemon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(api.DaemonStatus{Running: true, PID: 4242})
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = srv.Listener.Addr().String()

	result, err := daemonctl.EnsureStarted(context.Background(), cfg, "/nonexistent/photoscan", daemonctl.LaunchOptions{}, time.Second)
	if err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	if result.State != daemonctl.StartStateAlreadyRunning || result.PID != 4242 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestEnsureStartedReportsLaunchFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:1"
	exe := filepath.Join(t.TempDir(), "missing-photoscan")

	_, err := daemonctl.EnsureStarted(context.Background(), cfg, exe, daemonctl.LaunchOptions{}, 100*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "launch daemon") {
		t.Fatalf("expected launch failure, got %v", err)
	}
}
