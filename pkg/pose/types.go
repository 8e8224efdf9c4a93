// Package pose turns a camera feed of the listener's face into head
// orientation samples.
//
// The Estimator polls a Camera, throttles inference to a fixed rate, runs a
// LandmarkModel on each processed frame and converts four anchor landmarks
// into yaw, pitch and roll. Samples are confidence gated, clamped, smoothed
// with a camera-rate filter bank and handed to a registered callback.
package pose

import "context"

// Face mesh landmark indices used as orientation anchors.
const (
	LandmarkForehead   = 10
	LandmarkChin       = 152
	LandmarkLeftCheek  = 234
	LandmarkRightCheek = 454
)

// Point3 is a landmark position in model space.
type Point3 struct {
	X, Y, Z float64
}

// Face is one detected face.
type Face struct {
	// Keypoints indexed by landmark ID.
	Keypoints []Point3 `json:"keypoints"`

	// Confidence is the model's face score (0-1).
	Confidence float64 `json:"confidence"`
}

// Camera is the video source.
type Camera interface {
	// Open acquires the device. Errors should wrap ErrCameraNotFound,
	// ErrPermissionDenied or ErrCameraBusy where the cause is known.
	Open(ctx context.Context) error

	// CaptureJPEG returns the latest frame.
	CaptureJPEG() ([]byte, error)

	// Close stops the stream and releases the device.
	// It is safe to call on a camera that never opened.
	Close() error
}

// LandmarkModel estimates face landmarks in a frame.
type LandmarkModel interface {
	EstimateFaces(ctx context.Context, frame []byte) ([]Face, error)
	Close() error
}

// ModelLoader acquires a LandmarkModel.
type ModelLoader interface {
	Load(ctx context.Context) (LandmarkModel, error)
}

// FrameSink displays camera frames while tracking runs.
type FrameSink interface {
	ShowFrame(jpeg []byte)
	Clear()
}
