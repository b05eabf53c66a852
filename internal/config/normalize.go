package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if value, ok := os.LookupEnv("PHOTOSCAN_UPLOADS_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.UploadsDir = value
	}
	if value, ok := os.LookupEnv("PHOTOSCAN_API_BIND"); ok && strings.TrimSpace(value) != "" {
		c.Paths.APIBind = value
	}

	if value, ok := os.LookupEnv("PHOTOSCAN_NTFY_TOPIC"); ok {
		c.Notifications.NtfyTopic = value
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)

	var err error
	for _, target := range []*string{
		&c.Paths.UploadsDir,
		&c.Paths.LogDir,
		&c.Paths.StateDir,
		&c.Tools.IncrementalScript,
		&c.Tools.BatchScript,
	} {
		if *target, err = expandPath(strings.TrimSpace(*target)); err != nil {
			return fmt.Errorf("normalize path: %w", err)
		}
	}

	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Tools.PythonBinary = strings.TrimSpace(c.Tools.PythonBinary)
	c.Tools.RembgBinary = strings.TrimSpace(c.Tools.RembgBinary)
	c.Tools.RembgModel = strings.TrimSpace(c.Tools.RembgModel)
	c.Tools.ColmapBinary = strings.TrimSpace(c.Tools.ColmapBinary)
	c.Pipeline.CameraModel = strings.ToUpper(strings.TrimSpace(c.Pipeline.CameraModel))
	if c.Pipeline.CameraModel == "" {
		c.Pipeline.CameraModel = defaultCameraModel
	}
	if c.Tools.RembgModel == "" {
		c.Tools.RembgModel = defaultRembgModel
	}

	origins := c.Server.AllowedOrigins[:0]
	for _, origin := range c.Server.AllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	c.Server.AllowedOrigins = origins
	if c.Server.SendBuffer <= 0 {
		c.Server.SendBuffer = defaultSendBuffer
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}
