package orientation

import (
	"fmt"
	"math"
)

// FilterConfig configures a 1€ filter.
type FilterConfig struct {
	// Frequency is the assumed sample rate in Hz until two timestamps
	// have been seen.
	Frequency float64 `json:"frequency"`

	// MinCutoff is the cutoff in Hz when the signal is still.
	// Lower = less jitter, more lag.
	MinCutoff float64 `json:"min_cutoff"`

	// Beta scales how fast the cutoff rises with speed.
	// Higher = less lag during fast motion.
	Beta float64 `json:"beta"`

	// DerivativeCutoff smooths the speed estimate itself.
	DerivativeCutoff float64 `json:"derivative_cutoff"`
}

// Validate checks that the configuration is usable.
func (c FilterConfig) Validate() error {
	if c.Frequency <= 0 {
		return fmt.Errorf("frequency must be positive, got %v", c.Frequency)
	}
	if c.MinCutoff <= 0 {
		return fmt.Errorf("min cutoff must be positive, got %v", c.MinCutoff)
	}
	if c.Beta < 0 {
		return fmt.Errorf("beta must not be negative, got %v", c.Beta)
	}
	if c.DerivativeCutoff <= 0 {
		return fmt.Errorf("derivative cutoff must be positive, got %v", c.DerivativeCutoff)
	}
	return nil
}

// lowPass is a first-order exponential smoother with a per-call alpha.
type lowPass struct {
	raw, smoothed float64
	initialized   bool
}

func (lp *lowPass) apply(value, alpha float64) float64 {
	if !lp.initialized {
		lp.smoothed = value
		lp.initialized = true
	} else {
		lp.smoothed = alpha*value + (1-alpha)*lp.smoothed
	}
	lp.raw = value
	return lp.smoothed
}

// Filter is a 1€ adaptive low-pass filter: its cutoff rises with the
// estimated rate of change, so fast motion lags less and a still signal
// jitters less. Not safe for concurrent use.
type Filter struct {
	cfg FilterConfig

	freq     float64
	x, dx    lowPass
	lastTime float64
	hasTime  bool
}

// NewFilter creates a filter in its reset state.
func NewFilter(cfg FilterConfig) *Filter {
	f := &Filter{cfg: cfg}
	f.Reset()
	return f
}

// Config returns the static configuration.
func (f *Filter) Config() FilterConfig {
	return f.cfg
}

// Filter smooths value observed at timestamp (seconds).
func (f *Filter) Filter(value, timestamp float64) float64 {
	if f.hasTime && timestamp > f.lastTime {
		f.freq = 1 / (timestamp - f.lastTime)
	}
	f.lastTime = timestamp
	f.hasTime = true

	var derivative float64
	if f.x.initialized {
		derivative = (value - f.x.raw) * f.freq
	}
	speed := f.dx.apply(derivative, smoothingFactor(f.freq, f.cfg.DerivativeCutoff))

	cutoff := f.cfg.MinCutoff + f.cfg.Beta*math.Abs(speed)
	return f.x.apply(value, smoothingFactor(f.freq, cutoff))
}

// Reset clears the previous value, derivative and timestamp.
// The configuration is kept.
func (f *Filter) Reset() {
	f.freq = f.cfg.Frequency
	f.x = lowPass{}
	f.dx = lowPass{}
	f.lastTime = 0
	f.hasTime = false
}

func smoothingFactor(rate, cutoff float64) float64 {
	tau := 1 / (2 * math.Pi * cutoff)
	te := 1 / rate
	return 1 / (1 + tau/te)
}
