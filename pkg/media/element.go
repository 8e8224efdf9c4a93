package media

import (
	"context"
	"errors"
)

var (
	// ErrNoSource is returned by operations that need an attached source.
	ErrNoSource = errors.New("media: no source attached")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("media: element closed")

	// ErrNoAudio is reported when a decoder exits without producing audio.
	ErrNoAudio = errors.New("media: decoder produced no audio")
)

// Element plays one streamed source at a time and reports progress through
// events. It is also the ambisonic source the graph reads from.
type Element interface {
	// AttachSource stops the current source and starts loading locator.
	// It returns once loading has begun, with the attempt number stamped
	// on every event this load produces. The outcome is reported as
	// EventLoadedMetadata/EventCanPlay or EventError. ctx bounds the
	// metadata phase.
	AttachSource(ctx context.Context, locator string) (uint64, error)

	// Subscribe registers an event listener; call the returned func to
	// remove it.
	Subscribe() (<-chan Event, func())

	Play() error
	Pause()
	Paused() bool

	// Seek moves the playhead to seconds.
	Seek(seconds float64) error
	// Position returns the playhead in seconds.
	Position() float64
	// Duration returns the source duration and whether it is known.
	Duration() (float64, bool)

	// Channels returns the number of channels ReadFrames delivers.
	Channels() int
	// ReadFrames copies up to n decoded frames into dst while playing and
	// returns how many were written. It never blocks.
	ReadFrames(dst [][]float64, n int) int

	Close() error
}
