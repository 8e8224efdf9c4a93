package pose

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
)

// MockCamera implements Camera for testing.
type MockCamera struct {
	// OpenFunc is called by Open. Nil succeeds.
	OpenFunc func(ctx context.Context) error

	// Frame is returned by CaptureJPEG.
	Frame []byte

	// CaptureErr, if set, is returned by CaptureJPEG.
	CaptureErr error

	// CloseErr, if set, is returned by Close.
	CloseErr error

	opens  atomic.Int32
	closes atomic.Int32
	open   atomic.Bool
}

// NewMockCamera returns a camera that always yields a tiny frame.
func NewMockCamera() *MockCamera {
	return &MockCamera{Frame: []byte{0xff, 0xd8, 0xff, 0xd9}}
}

func (m *MockCamera) Open(ctx context.Context) error {
	m.opens.Add(1)
	if m.OpenFunc != nil {
		if err := m.OpenFunc(ctx); err != nil {
			return err
		}
	}
	m.open.Store(true)
	return nil
}

func (m *MockCamera) CaptureJPEG() ([]byte, error) {
	if m.CaptureErr != nil {
		return nil, m.CaptureErr
	}
	return m.Frame, nil
}

func (m *MockCamera) Close() error {
	m.closes.Add(1)
	m.open.Store(false)
	return m.CloseErr
}

// Opens returns how many times Open was called.
func (m *MockCamera) Opens() int { return int(m.opens.Load()) }

// Closes returns how many times Close was called.
func (m *MockCamera) Closes() int { return int(m.closes.Load()) }

// IsOpen reports whether the camera is currently held.
func (m *MockCamera) IsOpen() bool { return m.open.Load() }

// MockModel implements LandmarkModel and ModelLoader for testing.
type MockModel struct {
	// LoadFunc is called by Load. Nil succeeds.
	LoadFunc func(ctx context.Context) error

	mu       sync.Mutex
	faces    []Face
	err      error
	estimate func(ctx context.Context, frame []byte) ([]Face, error)
	loads    int
	closes   int
	calls    int
}

// NewMockModel returns a model that detects nothing.
func NewMockModel() *MockModel {
	return &MockModel{}
}

// SetFaces sets the result of subsequent EstimateFaces calls.
func (m *MockModel) SetFaces(faces []Face, err error) {
	m.mu.Lock()
	m.faces, m.err = faces, err
	m.mu.Unlock()
}

// SetEstimateFunc replaces EstimateFaces entirely.
func (m *MockModel) SetEstimateFunc(fn func(ctx context.Context, frame []byte) ([]Face, error)) {
	m.mu.Lock()
	m.estimate = fn
	m.mu.Unlock()
}

func (m *MockModel) Load(ctx context.Context) (LandmarkModel, error) {
	m.mu.Lock()
	m.loads++
	fn := m.LoadFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MockModel) EstimateFaces(ctx context.Context, frame []byte) ([]Face, error) {
	m.mu.Lock()
	m.calls++
	fn, faces, err := m.estimate, m.faces, m.err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, frame)
	}
	return faces, err
}

func (m *MockModel) Close() error {
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
	return nil
}

// Loads returns how many times Load was called.
func (m *MockModel) Loads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

// Closes returns how many times Close was called.
func (m *MockModel) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// Calls returns how many times EstimateFaces was called.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// FaceAt builds a face whose anchors produce roughly the given yaw, pitch
// and roll in degrees.
func FaceAt(yaw, pitch, roll, confidence float64) Face {
	return Face{Keypoints: anchorKeypoints(yaw, pitch, roll), Confidence: confidence}
}

// MeshSize is the number of landmarks in a face mesh.
const MeshSize = 468

func anchorKeypoints(yaw, pitch, roll float64) []Point3 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }

	sp, sr := math.Sin(rad(pitch)), math.Sin(rad(roll))
	vy := -math.Sqrt(math.Max(0, 1-sp*sp-sr*sr))
	vertical := Point3{X: sr, Y: vy, Z: sp}
	horizontal := Point3{X: math.Cos(rad(yaw)), Z: math.Sin(rad(yaw))}

	kp := make([]Point3, MeshSize)
	center := Point3{X: 0.5, Y: 0.5}
	kp[LandmarkChin] = center
	kp[LandmarkForehead] = Point3{X: center.X + 0.2*vertical.X, Y: center.Y + 0.2*vertical.Y, Z: 0.2 * vertical.Z}
	kp[LandmarkRightCheek] = center
	kp[LandmarkLeftCheek] = Point3{X: center.X + 0.15*horizontal.X, Y: center.Y, Z: 0.15 * horizontal.Z}
	return kp
}

var (
	_ Camera        = (*MockCamera)(nil)
	_ LandmarkModel = (*MockModel)(nil)
	_ ModelLoader   = (*MockModel)(nil)
)
