package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"photoscan/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test
// and fast pipeline timings. It applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.UploadsDir = filepath.Join(base, "uploads")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Tools.IncrementalScript = filepath.Join(base, "scripts", "ColmapIncremental-web.py")
	cfgVal.Tools.BatchScript = filepath.Join(base, "scripts", "MvgMvsPipeline.py")
	cfgVal.Pipeline.RemovalPollInterval = 5
	cfgVal.Pipeline.RegistrationPollInterval = 5
	cfgVal.Pipeline.RegistrationStartTimeout = 1
	cfgVal.Pipeline.SettleInterval = 20
	cfgVal.Server.WriteTimeoutSeconds = 2

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithUploadIncremental toggles per-image registration in the upload flow.
func WithUploadIncremental(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.UploadIncremental = enabled
	}
}

// WithScripts writes placeholder pipeline scripts at the configured paths.
func WithScripts() ConfigOption {
	return func(b *configBuilder) {
		for _, path := range []string{b.cfg.Tools.IncrementalScript, b.cfg.Tools.BatchScript} {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				b.t.Fatalf("mkdir scripts: %v", err)
			}
			if err := os.WriteFile(path, []byte("print('stub')\n"), 0o644); err != nil {
				b.t.Fatalf("write script %s: %v", path, err)
			}
		}
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, python3, rembg and colmap are
// stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"python3", "rembg", "colmap"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(binDir, name), script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.UploadsDir)
}
