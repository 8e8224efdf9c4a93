package pose

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-binaural/pkg/orientation"
)

// Config holds estimator parameters.
type Config struct {
	// ConfidenceThreshold below which a face recentres to 0/0/0.
	ConfidenceThreshold float64 `json:"confidence_threshold"`

	// ClampDegrees limits every axis to [-ClampDegrees, ClampDegrees].
	ClampDegrees float64 `json:"clamp_degrees"`

	// InferenceInterval is the minimum time between processed frames.
	InferenceInterval time.Duration `json:"inference_interval"`

	// PollInterval is how often the frame loop wakes up. Frames arriving
	// inside InferenceInterval are skipped.
	PollInterval time.Duration `json:"poll_interval"`

	// Filters for the camera-rate bank.
	YawFilter   orientation.FilterConfig `json:"yaw_filter"`
	PitchFilter orientation.FilterConfig `json:"pitch_filter"`
	RollFilter  orientation.FilterConfig `json:"roll_filter"`
}

// DefaultConfig returns production defaults: 15 Hz inference polled at
// display rate, τ=0.35, ±75°.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.35,
		ClampDegrees:        orientation.DefaultClampDegrees,
		InferenceInterval:   time.Second / 15,
		PollInterval:        16 * time.Millisecond,
		YawFilter:           orientation.CaptureYaw,
		PitchFilter:         orientation.CapturePitch,
		RollFilter:          orientation.CaptureRoll,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %v", c.ConfidenceThreshold)
	}
	if c.ClampDegrees <= 0 || c.ClampDegrees > 180 {
		return fmt.Errorf("clamp must be in (0,180], got %v", c.ClampDegrees)
	}
	if c.InferenceInterval <= 0 || c.PollInterval <= 0 {
		return fmt.Errorf("intervals must be positive")
	}
	for _, f := range []orientation.FilterConfig{c.YawFilter, c.PitchFilter, c.RollFilter} {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}
