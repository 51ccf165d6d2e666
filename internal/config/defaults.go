package config

const (
	defaultListenAddr   = ":8080"
	defaultMaxUploadMB  = 256
	defaultDBPath       = "stillreel.db"
	defaultLogLevel     = "info"
	defaultLogFormat    = "json"
	defaultEngine       = "ffmpeg"
	defaultLoadTimeoutS = 300
	defaultJobTimeoutS  = 600
	defaultQueueSize    = 16
	defaultCanvasWidth  = 1080
	defaultCanvasHeight = 1920
	defaultFFmpegBinary = "ffmpeg"
	defaultDuration     = 3.0
	defaultFPS          = 5
	defaultFormat       = "mp4"

	defaultConfigPath  = "~/.config/stillreel/config.toml"
	projectConfigName  = "stillreel.toml"
	defaultCacheSubdir = "stillreel"
)

// Environment overrides, applied after the config file.
const (
	envConfig     = "STILLREEL_CONFIG"
	envListenAddr = "STILLREEL_LISTEN_ADDR"
	envDBPath     = "STILLREEL_DB_PATH"
	envLogLevel   = "STILLREEL_LOG_LEVEL"
	envLogFormat  = "STILLREEL_LOG_FORMAT"
	envEngine     = "STILLREEL_ENGINE"
	envFFmpegBin  = "STILLREEL_FFMPEG_BIN"
	envWorkDir    = "STILLREEL_WORK_DIR"
)

// Default returns the configuration used when no file or environment
// override is present.
func Default() Config {
	return Config{
		Server: Server{
			ListenAddr:  defaultListenAddr,
			MaxUploadMB: defaultMaxUploadMB,
		},
		Store: Store{DBPath: defaultDBPath},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Engine: Engine{
			Name:         defaultEngine,
			LoadTimeoutS: defaultLoadTimeoutS,
			JobTimeoutS:  defaultJobTimeoutS,
			QueueSize:    defaultQueueSize,
			CanvasWidth:  defaultCanvasWidth,
			CanvasHeight: defaultCanvasHeight,
		},
		FFmpeg: FFmpeg{Binary: defaultFFmpegBinary},
		Defaults: Defaults{
			Duration: defaultDuration,
			FPS:      defaultFPS,
			Format:   defaultFormat,
		},
	}
}
