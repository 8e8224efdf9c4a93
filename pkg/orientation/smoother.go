package orientation

import "time"

// Filter presets.
var (
	// CaptureYaw and CapturePitch smooth raw pose samples at camera rate.
	CaptureYaw   = FilterConfig{Frequency: 30, MinCutoff: 1.0, Beta: 0.01, DerivativeCutoff: 0.1}
	CapturePitch = FilterConfig{Frequency: 30, MinCutoff: 1.0, Beta: 0.01, DerivativeCutoff: 0.1}
	// CaptureRoll adapts slightly faster than yaw and pitch.
	CaptureRoll = FilterConfig{Frequency: 30, MinCutoff: 1.0, Beta: 0.015, DerivativeCutoff: 0.1}

	// Render smooths the rotation pushed into the audio graph.
	Render = FilterConfig{Frequency: 120, MinCutoff: 1.5, Beta: 0.02, DerivativeCutoff: 0.3}
)

// DefaultStep is the synthetic clock advance per Smooth call (40 Hz).
const DefaultStep = time.Second / 40

// Bank is one filter per axis. Not safe for concurrent use; every consumer
// owns its own bank.
type Bank struct {
	yaw, pitch, roll *Filter
}

// NewBank creates a bank with a configuration per axis.
func NewBank(yaw, pitch, roll FilterConfig) *Bank {
	return &Bank{
		yaw:   NewFilter(yaw),
		pitch: NewFilter(pitch),
		roll:  NewFilter(roll),
	}
}

// NewCaptureBank returns the camera-rate bank.
func NewCaptureBank() *Bank {
	return NewBank(CaptureYaw, CapturePitch, CaptureRoll)
}

// Apply filters every axis at timestamp t (seconds).
func (b *Bank) Apply(o Orientation, t float64) Orientation {
	return Orientation{
		Yaw:   b.yaw.Filter(o.Yaw, t),
		Pitch: b.pitch.Filter(o.Pitch, t),
		Roll:  b.roll.Filter(o.Roll, t),
	}
}

// Reset resets all three filters.
func (b *Bank) Reset() {
	b.yaw.Reset()
	b.pitch.Reset()
	b.roll.Reset()
}

// Smoother runs a Bank on a synthetic clock that advances a fixed step per
// call, independent of when the caller actually runs. Replaying the same
// input after Reset yields the same output.
type Smoother struct {
	bank  *Bank
	step  float64
	count uint64
}

// NewSmoother creates a smoother with the same config on every axis.
func NewSmoother(cfg FilterConfig, step time.Duration) *Smoother {
	if step <= 0 {
		step = DefaultStep
	}
	return &Smoother{
		bank: NewBank(cfg, cfg, cfg),
		step: step.Seconds(),
	}
}

// NewRenderSmoother returns the 40 Hz render-rate smoother.
func NewRenderSmoother() *Smoother {
	return NewSmoother(Render, DefaultStep)
}

// Smooth filters raw at the current synthetic time and advances the clock.
func (s *Smoother) Smooth(raw Orientation) Orientation {
	t := float64(s.count) * s.step
	s.count++
	return s.bank.Apply(raw, t)
}

// Reset clears the filters and rewinds the clock to zero.
func (s *Smoother) Reset() {
	s.bank.Reset()
	s.count = 0
}

// Samples returns how many samples have been smoothed since the last reset.
func (s *Smoother) Samples() uint64 {
	return s.count
}
