package player

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTracks is returned when an engine is built without tracks.
	ErrNoTracks = errors.New("player: no tracks")

	// ErrTrackIndex is returned for an index outside the track list.
	ErrTrackIndex = errors.New("player: track index out of range")

	// ErrDisposed is returned after Dispose.
	ErrDisposed = errors.New("player: disposed")

	// ErrTrackingInterrupted is returned by EnableTracking when tracking
	// was disabled before the scheduler could start.
	ErrTrackingInterrupted = errors.New("player: tracking disabled while enabling")

	// ErrLoadTimeout is the cause of a LoadTimeout failure.
	ErrLoadTimeout = errors.New("player: timed out waiting for track metadata")
)

// LoadErrorKind says why a track load failed.
type LoadErrorKind int

const (
	// LoadTimeout means neither metadata nor playable audio arrived in time.
	LoadTimeout LoadErrorKind = iota
	// LoadElement means the element reported an error.
	LoadElement
	// LoadSuperseded means a newer load replaced this one.
	LoadSuperseded
	// LoadCanceled means the caller's context ended.
	LoadCanceled
)

func (k LoadErrorKind) String() string {
	switch k {
	case LoadTimeout:
		return "timeout"
	case LoadElement:
		return "element"
	case LoadSuperseded:
		return "superseded"
	case LoadCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// StreamLoadError reports a failed track load. The player stays usable.
type StreamLoadError struct {
	Kind    LoadErrorKind
	LoadID  string
	Locator string
	Err     error
}

func (e *StreamLoadError) Error() string {
	return fmt.Sprintf("player: load %q (%s): %v", e.Locator, e.Kind, e.Err)
}

func (e *StreamLoadError) Unwrap() error {
	return e.Err
}

// IsSuperseded reports whether err is a load replaced by a newer one.
func IsSuperseded(err error) bool {
	var sle *StreamLoadError
	return errors.As(err, &sle) && sle.Kind == LoadSuperseded
}
