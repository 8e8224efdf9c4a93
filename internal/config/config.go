// Package config provides configuration helpers for go-binaural commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults for the player daemon.
const (
	DefaultPort          = "8090"
	DefaultTracksFile    = "tracks.toml"
	DefaultAssetsDir     = "assets"
	DefaultFilterBaseURL = "http://localhost:8090/assets/hrirs"
	DefaultOrder         = 4
	DefaultSampleRate    = 48000
	DefaultBlockSize     = 512
	DefaultFacemeshURL   = "ws://localhost:8765/facemesh"
	DefaultLoadTimeout   = 10 * time.Second
)

// Config holds runtime configuration, loaded from BINAURAL_* environment
// variables. Command-line flags override individual fields.
type Config struct {
	// Server
	Port string

	// Content
	TracksFile    string
	AssetsDir     string
	FilterBaseURL string
	Order         int
	ReverbURL     string

	// Audio output
	SinkBackend string
	AudioDevice string
	SampleRate  int
	BlockSize   int
	LoadTimeout time.Duration

	// Head tracking
	CameraDevice int
	FacemeshURL  string

	// Remote listener over WebRTC
	WebRTC bool

	LogLevel string
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port: envStr("BINAURAL_PORT", DefaultPort),

		TracksFile:    envStr("BINAURAL_TRACKS", DefaultTracksFile),
		AssetsDir:     envStr("BINAURAL_ASSETS", DefaultAssetsDir),
		FilterBaseURL: envStr("BINAURAL_FILTERS", DefaultFilterBaseURL),
		Order:         envInt("BINAURAL_ORDER", DefaultOrder),
		ReverbURL:     envStr("BINAURAL_REVERB", ""),

		SinkBackend: envStr("BINAURAL_SINK", "auto"),
		AudioDevice: envStr("BINAURAL_AUDIO_DEVICE", ""),
		SampleRate:  envInt("BINAURAL_SAMPLE_RATE", DefaultSampleRate),
		BlockSize:   envInt("BINAURAL_BLOCK_SIZE", DefaultBlockSize),
		LoadTimeout: envDuration("BINAURAL_LOAD_TIMEOUT", DefaultLoadTimeout),

		CameraDevice: envInt("BINAURAL_CAMERA", 0),
		FacemeshURL:  envStr("BINAURAL_FACEMESH", DefaultFacemeshURL),

		WebRTC: envBool("BINAURAL_WEBRTC", false),

		LogLevel: envStr("BINAURAL_LOG_LEVEL", "info"),
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.Order < 1 || c.Order > 7 {
		errs = append(errs, fmt.Errorf("order must be between 1 and 7, got %d", c.Order))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("block size must be positive, got %d", c.BlockSize))
	}
	if c.LoadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("load timeout must be positive, got %v", c.LoadTimeout))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
