package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelMismatch is returned by ConnectSource when the source does
	// not carry (order+1)² channels.
	ErrChannelMismatch = errors.New("graph: source channel count does not match ambisonic order")

	// ErrReverbSuperseded is returned by a SetReverb call that a later call
	// overtook. The route is left to the later call.
	ErrReverbSuperseded = errors.New("graph: reverb load superseded")

	// ErrGraphClosed is returned after Close.
	ErrGraphClosed = errors.New("graph: closed")

	// ErrNoImpulse is returned for an impulse file without samples.
	ErrNoImpulse = errors.New("graph: impulse response is empty")
)

// ReverbLoadError reports a failed reverb install. The graph is on the
// dry-only route when this is returned.
type ReverbLoadError struct {
	Locator string
	Err     error
}

func (e *ReverbLoadError) Error() string {
	return fmt.Sprintf("graph: load reverb %q: %v", e.Locator, e.Err)
}

func (e *ReverbLoadError) Unwrap() error {
	return e.Err
}

// FilterLoadError reports a failed decoding-filter install.
type FilterLoadError struct {
	URL string
	Err error
}

func (e *FilterLoadError) Error() string {
	return fmt.Sprintf("graph: load decoding filters %q: %v", e.URL, e.Err)
}

func (e *FilterLoadError) Unwrap() error {
	return e.Err
}
