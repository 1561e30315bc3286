package config

import (
	"errors"
	"time"
)

// StorageBackend selects the output storage adapter.
type StorageBackend string

const (
	StorageLocal StorageBackend = "local"
	StorageS3    StorageBackend = "s3"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Config{} and override only what they need.
type Config struct {
	// Worker pool controls.
	WorkerCount int           `toml:"worker_count"` // default: runtime.NumCPU()
	QueueSize   int           `toml:"queue_size"`   // max queued jobs before backpressure; default: 256
	JobTimeout  time.Duration `toml:"job_timeout"`

	// Retry of transient stage failures.
	MaxRetries int           `toml:"max_retries"`
	RetryDelay time.Duration `toml:"retry_delay"`

	// Native tool invocation.
	GifsicleBinary string        `toml:"gifsicle_binary"` // default "gifsicle"
	FFmpegBinary   string        `toml:"ffmpeg_binary"`   // default "ffmpeg"
	ProbeTimeout   time.Duration `toml:"probe_timeout"`   // version check; default 3s
	ToolTimeout    time.Duration `toml:"tool_timeout"`    // per transform call; default 60s

	// Defaults applied when a caller policy leaves fields zero.
	Search SearchConfig `toml:"search"`

	// Step sizes for the adaptive ladder.  Only monotone progress and bound
	// respect are contractual; these control how fast each rung descends.
	Tuning StepTuning `toml:"tuning"`

	// Streaming / memory limits.
	MaxInputBytes int64 `toml:"max_input_bytes"` // 0 = no limit
	ChunkSize     int   `toml:"chunk_size"`      // streaming chunk size in bytes; default 32 KiB

	// Storage.
	Storage StorageBackend `toml:"storage"`
	Local   LocalConfig    `toml:"local"`
	S3      S3Config       `toml:"s3"`

	// Logging.
	LogLevel string `toml:"log_level"` // "debug", "info", "warn", "error"
}

// SearchConfig holds default policy bounds for the adaptive search.
type SearchConfig struct {
	TargetMB     float64 `toml:"target_mb"`    // decimal megabytes; default 1.0
	MaxAttempts  int     `toml:"max_attempts"` // default 10
	MinColors    int     `toml:"min_colors"`   // floor for palette reduction; default 32
	MinScale     float64 `toml:"min_scale"`    // floor for downscaling; default 0.4
	ForceScaling bool    `toml:"force_scaling"`
}

// StepTuning controls parameter decrements between attempts.
type StepTuning struct {
	ColorDivisor   float64 `toml:"color_divisor"`    // palette divided by this per rung; default 2
	LossyStep      int     `toml:"lossy_step"`       // lossy strength increment; default 40
	LossyMax       int     `toml:"lossy_max"`        // lossy ceiling; default 200
	ScaleStep      float64 `toml:"scale_step"`       // scale decrement; default 0.1
	FrameRateStep  float64 `toml:"frame_rate_step"`  // frame-keep fraction decrement; default 0.25
	FrameRateFloor float64 `toml:"frame_rate_floor"` // minimum frame-keep fraction; default 0.5
}

// LocalConfig configures the local filesystem storage adapter.
type LocalConfig struct {
	RootDir     string `toml:"root_dir"`
	Permissions uint32 `toml:"permissions"` // default 0644
}

// S3Config configures the S3-compatible storage adapter.
type S3Config struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"` // optional custom endpoint (MinIO, etc.)
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		WorkerCount:    0, // resolved at runtime to NumCPU
		QueueSize:      256,
		JobTimeout:     5 * time.Minute,
		MaxRetries:     2,
		RetryDelay:     200 * time.Millisecond,
		GifsicleBinary: "gifsicle",
		FFmpegBinary:   "ffmpeg",
		ProbeTimeout:   3 * time.Second,
		ToolTimeout:    60 * time.Second,
		Search: SearchConfig{
			TargetMB:    1.0,
			MaxAttempts: 10,
			MinColors:   32,
			MinScale:    0.4,
		},
		Tuning: StepTuning{
			ColorDivisor:   2,
			LossyStep:      40,
			LossyMax:       200,
			ScaleStep:      0.1,
			FrameRateStep:  0.25,
			FrameRateFloor: 0.5,
		},
		ChunkSize: 32 * 1024,
		Storage:   StorageLocal,
		LogLevel:  "info",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.Search.MinColors < 2 || c.Search.MinColors > 256 {
		return errors.New("config: Search.MinColors must be between 2 and 256")
	}
	if c.Search.MinScale <= 0 || c.Search.MinScale > 1 {
		return errors.New("config: Search.MinScale must be in (0,1]")
	}
	if c.Search.MaxAttempts < 1 {
		return errors.New("config: Search.MaxAttempts must be at least 1")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: ChunkSize must be positive")
	}
	if c.Tuning.ColorDivisor <= 1 {
		return errors.New("config: Tuning.ColorDivisor must be greater than 1")
	}
	if c.Tuning.LossyStep <= 0 || c.Tuning.LossyMax <= 0 {
		return errors.New("config: Tuning lossy step and max must be positive")
	}
	if c.Tuning.ScaleStep <= 0 || c.Tuning.ScaleStep >= 1 {
		return errors.New("config: Tuning.ScaleStep must be in (0,1)")
	}
	if c.Tuning.FrameRateStep <= 0 || c.Tuning.FrameRateStep >= 1 {
		return errors.New("config: Tuning.FrameRateStep must be in (0,1)")
	}
	if c.Tuning.FrameRateFloor <= 0 || c.Tuning.FrameRateFloor > 1 {
		return errors.New("config: Tuning.FrameRateFloor must be in (0,1]")
	}
	return nil
}
