// Package orientation holds the head-orientation sample type, the single-slot
// exchange between the pose loop and the spatial scheduler, and the adaptive
// smoothing filters applied to both.
package orientation

import (
	"fmt"
	"sync/atomic"

	"github.com/cwbudde/algo-dsp/dsp/core"
)

// DefaultClampDegrees is the widest angle any axis may report.
const DefaultClampDegrees = 75.0

// Orientation is a head pose in degrees.
type Orientation struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// Zero is the recentred orientation.
var Zero = Orientation{}

// IsZero reports whether all three axes are exactly zero.
func (o Orientation) IsZero() bool {
	return o == Zero
}

// Clamp limits every axis to [-limit, limit].
func (o Orientation) Clamp(limit float64) Orientation {
	return Orientation{
		Yaw:   core.Clamp(o.Yaw, -limit, limit),
		Pitch: core.Clamp(o.Pitch, -limit, limit),
		Roll:  core.Clamp(o.Roll, -limit, limit),
	}
}

func (o Orientation) String() string {
	return fmt.Sprintf("yaw=%.1f pitch=%.1f roll=%.1f", o.Yaw, o.Pitch, o.Roll)
}

// Slot is a last-write-wins container for the latest raw orientation.
// One goroutine stores, another loads; intermediate samples are dropped.
// The zero value is ready to use and reads as Zero.
type Slot struct {
	v atomic.Pointer[Orientation]
}

// Store replaces the current sample.
func (s *Slot) Store(o Orientation) {
	s.v.Store(&o)
}

// Load returns a snapshot of the current sample.
func (s *Slot) Load() Orientation {
	if p := s.v.Load(); p != nil {
		return *p
	}
	return Zero
}
