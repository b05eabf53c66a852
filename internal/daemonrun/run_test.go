package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"photoscan/internal/testsupport"
)

func TestPIDFileRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := writePIDFile(PIDFilePath(cfg)); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := ReadPID(cfg)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("pid = %d, want %d", pid, os.Getpid())
	}
}

func TestLogPaths(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	got := LogFilePath(cfg, "20240501T100000.000Z")
	if got != filepath.Join(cfg.Paths.LogDir, "photoscan-20240501T100000.000Z.log") {
		t.Fatalf("unexpected log path %q", got)
	}
	if filepath.Base(CurrentLogPath(cfg)) != "photoscan.log" {
		t.Fatalf("unexpected pointer %q", CurrentLogPath(cfg))
	}
}

func TestRunFailsWithoutTools(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Tools.PythonBinary = "clearly-not-present-python"

	err := Run(context.Background(), cfg, Options{})
	if err == nil || !strings.Contains(err.Error(), "Python") {
		t.Fatalf("expected a missing tool error, got %v", err)
	}
	if _, statErr := os.Stat(PIDFilePath(cfg)); !os.IsNotExist(statErr) {
		t.Fatal("pid file should not exist when startup fails")
	}
	if _, statErr := os.Lstat(CurrentLogPath(cfg)); statErr != nil {
		t.Fatalf("expected the current log pointer: %v", statErr)
	}
}
