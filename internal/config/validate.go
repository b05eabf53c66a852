package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
)

var supportedCameraModels = []string{
	"SIMPLE_PINHOLE", "PINHOLE", "SIMPLE_RADIAL", "RADIAL", "OPENCV", "FULL_OPENCV",
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.validatePaths,
		c.validateTools,
		c.validatePipeline,
		c.validateServer,
		c.validateNotifications,
		c.validateLogging,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.UploadsDir == "" {
		return errors.New("paths.uploads_dir must be set")
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind %q is not host:port: %w", c.Paths.APIBind, err)
	}
	return nil
}

func (c *Config) validateTools() error {
	switch {
	case c.Tools.PythonBinary == "":
		return errors.New("tools.python_binary must be set")
	case c.Tools.IncrementalScript == "":
		return errors.New("tools.incremental_script must be set")
	case c.Tools.BatchScript == "":
		return errors.New("tools.batch_script must be set")
	case c.Tools.RembgBinary == "":
		return errors.New("tools.rembg_binary must be set")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if !slices.Contains(supportedCameraModels, p.CameraModel) {
		return fmt.Errorf("pipeline.camera_model %q is not a supported COLMAP camera model", p.CameraModel)
	}
	if p.RemovalPollInterval <= 0 {
		return errors.New("pipeline.removal_poll_interval_ms must be positive")
	}
	if p.RegistrationPollInterval <= 0 {
		return errors.New("pipeline.registration_poll_interval_ms must be positive")
	}
	if p.RegistrationStartTimeout < 0 {
		return errors.New("pipeline.registration_start_timeout must be >= 0")
	}
	if p.SettleInterval < 0 {
		return errors.New("pipeline.settle_interval_ms must be >= 0")
	}
	if p.GlobalRegistrationLimit < 0 {
		return errors.New("pipeline.global_registration_limit must be >= 0")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.MaxFrameBytes <= 0 {
		return errors.New("server.max_frame_bytes must be positive")
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		return errors.New("server.write_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic != "" && !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic %q must be an http(s) URL", topic)
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognised", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}
