package main

import (
	"context"
	"testing"

	"photoscan/internal/daemon"
	"photoscan/internal/logging"
	"photoscan/internal/testsupport"
)

func TestStatusWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "not running")
	requireContains(t, out, "== Dependencies ==")
	requireContains(t, out, "Python:")
	requireContains(t, out, "== Directories ==")
	requireContains(t, out, "Uploads directory:")
	requireNotContains(t, out, ansiReset)
}

func TestStatusWithDaemon(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t, testsupport.WithScripts(), testsupport.WithStubbedBinaries())
	d, err := daemon.New(cfg, testsupport.MustOpenStore(t, cfg), logging.NewNop(), daemon.WithExecutor(&testsupport.StubExecutor{}))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cfg.Paths.APIBind = d.Status().Address
	configPath := writeTestConfig(t, cfg)

	out, _, err := runCLI(t, []string{"status"}, configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "[OK] pid")
	requireContains(t, out, "Live sessions:")
	requireNotContains(t, out, "not running")
}

func TestStateLabel(t *testing.T) {
	cases := map[string]string{
		"REMOVING_BACKGROUND": "Removing Background",
		"COMPLETED":           "Completed",
		"":                    "-",
	}
	for in, want := range cases {
		if got := stateLabel(in); got != want {
			t.Fatalf("stateLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
