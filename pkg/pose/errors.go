package pose

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrUnsupportedEnvironment means a required capability (camera or
	// landmark model) does not exist. Tracking stays off for the session.
	ErrUnsupportedEnvironment = errors.New("pose: unsupported environment")

	// ErrBusy is returned by Enable while a disable is tearing down.
	ErrBusy = errors.New("pose: tracking is shutting down")

	// Camera causes. Camera implementations wrap these.
	ErrCameraNotFound   = errors.New("pose: camera not found")
	ErrPermissionDenied = errors.New("pose: camera permission denied")
	ErrCameraBusy       = errors.New("pose: camera in use")
)

// UnsupportedError names the missing capability.
type UnsupportedError struct {
	Missing string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("pose: unsupported environment: no %s", e.Missing)
}

func (e *UnsupportedError) Unwrap() error {
	return ErrUnsupportedEnvironment
}

// Reason classifies an acquisition failure.
type Reason string

const (
	ReasonNotFound         Reason = "not_found"
	ReasonPermissionDenied Reason = "permission_denied"
	ReasonBusy             Reason = "busy"
	ReasonModel            Reason = "model_unavailable"
	ReasonUnknown          Reason = "unknown"
)

// AcquisitionError is returned by Enable when the camera or model could not
// be acquired. The caller may retry.
type AcquisitionError struct {
	Reason Reason
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("pose: acquisition failed (%s): %v", e.Reason, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// Message is a short explanation suitable for showing to the listener.
func (e *AcquisitionError) Message() string {
	switch e.Reason {
	case ReasonNotFound:
		return "No camera was found. Connect a camera and try again."
	case ReasonPermissionDenied:
		return "Camera access was denied. Allow camera access and try again."
	case ReasonBusy:
		return "The camera is being used by another application."
	case ReasonModel:
		return "The face tracking model could not be loaded."
	default:
		return "Head tracking could not start."
	}
}

// IsAcquisitionFailure reports whether err is a recoverable acquisition error.
func IsAcquisitionFailure(err error) bool {
	var ae *AcquisitionError
	return errors.As(err, &ae)
}

func classifyCamera(err error) *AcquisitionError {
	reason := ReasonUnknown
	switch {
	case errors.Is(err, ErrCameraNotFound):
		reason = ReasonNotFound
	case errors.Is(err, ErrPermissionDenied):
		reason = ReasonPermissionDenied
	case errors.Is(err, ErrCameraBusy):
		reason = ReasonBusy
	}
	return &AcquisitionError{Reason: reason, Err: err}
}
