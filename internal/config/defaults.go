package config

const (
	defaultConfigPath               = "~/.config/photoscan/config.toml"
	defaultUploadsDir               = "~/.local/share/photoscan/uploads"
	defaultLogDir                   = "~/.local/share/photoscan/logs"
	defaultStateDir                 = "~/.local/share/photoscan/state"
	defaultAPIBind                  = "127.0.0.1:5000"
	defaultPythonBinary             = "python3"
	defaultIncrementalScript        = "~/.local/share/photoscan/scripts/ColmapIncremental-web.py"
	defaultBatchScript              = "~/.local/share/photoscan/scripts/MvgMvsPipeline.py"
	defaultRembgBinary              = "rembg"
	defaultRembgModel               = "u2net"
	defaultColmapBinary             = "colmap"
	defaultCameraModel              = "PINHOLE"
	defaultRemovalPollInterval      = 500
	defaultRegistrationPollInterval = 1000
	defaultRegistrationStartTimeout = 30
	defaultSettleInterval           = 250
	defaultMaxFrameBytes            = 32 << 20
	defaultWriteTimeoutSeconds      = 10
	defaultSendBuffer               = 256
	defaultNtfyRequestTimeout       = 10
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultLogRetentionDays         = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			UploadsDir: defaultUploadsDir,
			LogDir:     defaultLogDir,
			StateDir:   defaultStateDir,
			APIBind:    defaultAPIBind,
		},
		Tools: Tools{
			PythonBinary:      defaultPythonBinary,
			IncrementalScript: defaultIncrementalScript,
			BatchScript:       defaultBatchScript,
			RembgBinary:       defaultRembgBinary,
			RembgModel:        defaultRembgModel,
			ColmapBinary:      defaultColmapBinary,
		},
		Pipeline: Pipeline{
			CameraModel:              defaultCameraModel,
			RemovalPollInterval:      defaultRemovalPollInterval,
			RegistrationPollInterval: defaultRegistrationPollInterval,
			RegistrationStartTimeout: defaultRegistrationStartTimeout,
			SettleInterval:           defaultSettleInterval,
		},
		Server: Server{
			MaxFrameBytes:       defaultMaxFrameBytes,
			AllowedOrigins:      []string{"localhost:*", "127.0.0.1:*"},
			WriteTimeoutSeconds: defaultWriteTimeoutSeconds,
			SendBuffer:          defaultSendBuffer,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
			OnFailure:      true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
