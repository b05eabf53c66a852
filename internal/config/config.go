package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	UploadsDir string `toml:"uploads_dir"`
	LogDir     string `toml:"log_dir"`
	StateDir   string `toml:"state_dir"`
	APIBind    string `toml:"api_bind"`
}

// Tools locates the external reconstruction executables.
type Tools struct {
	PythonBinary      string `toml:"python_binary"`
	IncrementalScript string `toml:"incremental_script"`
	BatchScript       string `toml:"batch_script"`
	RembgBinary       string `toml:"rembg_binary"`
	RembgModel        string `toml:"rembg_model"`
	ColmapBinary      string `toml:"colmap_binary"`
}

// Pipeline tunes the orchestration of queues and the batch run. Intervals are
// in milliseconds, timeouts in seconds.
type Pipeline struct {
	CameraModel              string `toml:"camera_model"`
	RemovalPollInterval      int    `toml:"removal_poll_interval_ms"`
	RegistrationPollInterval int    `toml:"registration_poll_interval_ms"`
	RegistrationStartTimeout int    `toml:"registration_start_timeout"`
	SettleInterval           int    `toml:"settle_interval_ms"`
	CancelOnDisconnect       bool   `toml:"cancel_on_disconnect"`
	UploadIncremental        bool   `toml:"upload_incremental"`
	GlobalRegistrationLimit  int    `toml:"global_registration_limit"`
}

// Server contains WebSocket and HTTP transport settings.
type Server struct {
	MaxFrameBytes       int64    `toml:"max_frame_bytes"`
	AllowedOrigins      []string `toml:"allowed_origins"`
	WriteTimeoutSeconds int      `toml:"write_timeout_seconds"`
	SendBuffer          int      `toml:"send_buffer"`
}

// Notifications configures ntfy alerts for finished reconstructions. An
// empty topic disables them.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	OnFailure      bool   `toml:"on_failure"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for photoscan.
//
// Configuration sections by subsystem:
//   - Paths: session uploads root, state database, logs and API bind address
//   - Tools: python, the COLMAP/OpenMVS scripts and rembg
//   - Pipeline: camera model, poll intervals and disconnect policy
//   - Server: WebSocket frame limits and origins
//   - Notifications: ntfy topic for finished reconstructions
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Tools         Tools         `toml:"tools"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Server        Server        `toml:"server"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file).DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strict.String())
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("photoscan.toml")
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{projectPath, defaultPath} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true, nil
		}
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.UploadsDir, c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the sqlite registry location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "photoscan.db")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "photoscan.lock")
}

// RemovalPollEvery is how often the controller compares raw and
// background-free image counts.
func (p Pipeline) RemovalPollEvery() time.Duration {
	return time.Duration(p.RemovalPollInterval) * time.Millisecond
}

// RegistrationPollEvery is how often the controller samples the registration
// queue.
func (p Pipeline) RegistrationPollEvery() time.Duration {
	return time.Duration(p.RegistrationPollInterval) * time.Millisecond
}

// RegistrationStartGrace bounds how long an incremental session may show an
// idle registration queue before the batch run rebuilds the sparse model.
func (p Pipeline) RegistrationStartGrace() time.Duration {
	return time.Duration(p.RegistrationStartTimeout) * time.Second
}

// SettleDelay is the quiet period before a newly written image is queued.
func (p Pipeline) SettleDelay() time.Duration {
	return time.Duration(p.SettleInterval) * time.Millisecond
}

// Timeout is the ntfy request timeout.
func (n Notifications) Timeout() time.Duration {
	return time.Duration(n.RequestTimeout) * time.Second
}

// WriteTimeout bounds a single WebSocket write.
func (s Server) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if pathValue[1] == '/' {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
