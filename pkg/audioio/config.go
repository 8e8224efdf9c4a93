// Package audioio provides audio playback for the rendered binaural mix.
//
// This package supports two backends:
//   - ALSA (Linux) - playback through aplay
//   - Mock - CI/Testing without hardware
//
// The backend is selected automatically based on the platform,
// or can be explicitly specified via configuration.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendALSA uses Linux ALSA for audio output.
	BackendALSA Backend = "alsa"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto" (selects best available for platform)
	Backend Backend `json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 48000
	SampleRate int `json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 2 (left and right ear)
	Channels int `json:"channels"`

	// BlockFrames is the number of frames rendered per block.
	// Default: 512 (10.7ms at 48kHz)
	BlockFrames int `json:"block_frames"`

	// Device is the platform-specific device identifier.
	// Examples:
	//   - ALSA: "hw:0,0", "default", "plughw:1,0"
	//   - Mock: ignored
	Device string `json:"device"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:     BackendAuto,
		SampleRate:  48000,
		Channels:    2,
		BlockFrames: 512,
		Device:      "", // Use system default
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BlockFrames <= 0 {
		return fmt.Errorf("block_frames must be positive, got %d", c.BlockFrames)
	}
	return nil
}

// BlockDuration returns how long one block plays.
func (c *Config) BlockDuration() time.Duration {
	return time.Duration(c.BlockFrames) * time.Second / time.Duration(c.SampleRate)
}

// BlockBytes returns the size of a block in bytes (int16 samples).
func (c *Config) BlockBytes() int {
	return c.BlockFrames * c.Channels * 2
}
