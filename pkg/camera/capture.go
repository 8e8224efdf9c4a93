package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-binaural/pkg/pose"
)

var (
	// ErrNotOpen is returned by CaptureJPEG before Open.
	ErrNotOpen = errors.New("camera: not open")

	// ErrNoFrame is returned when the device delivers an empty frame.
	ErrNoFrame = errors.New("camera: no frame")
)

// Option configures a Capture.
type Option func(*Capture)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Capture) { c.logger = logger }
}

// Capture reads frames from a V4L2 webcam through OpenCV and hands them
// out as JPEG. It implements pose.Camera.
type Capture struct {
	manager *Manager
	logger  *slog.Logger
	probe   func(device int) error

	mu    sync.Mutex
	vc    *gocv.VideoCapture
	frame gocv.Mat
	cfg   Config
}

// New creates a capture driven by manager's configuration. Configuration
// changes reopen the device when it is open.
func New(manager *Manager, opts ...Option) *Capture {
	c := &Capture{
		manager: manager,
		logger:  slog.Default(),
		probe:   probeDevice,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "camera")
	manager.OnConfigChange = c.reconfigure
	return c
}

// Open acquires the device. Failures wrap pose.ErrCameraNotFound,
// pose.ErrPermissionDenied or pose.ErrCameraBusy when the cause is known.
func (c *Capture) Open(ctx context.Context) error {
	// The manager lock is taken before ours on reconfigure; never nest the
	// other way round.
	cfg := c.manager.GetConfig()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc != nil {
		return nil
	}
	return c.openLocked(ctx, cfg)
}

func (c *Capture) openLocked(ctx context.Context, cfg Config) error {
	if err := c.probe(cfg.Device); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	vc, err := gocv.VideoCaptureDevice(cfg.Device)
	if err != nil {
		return fmt.Errorf("%w: device %d: %v", pose.ErrCameraNotFound, cfg.Device, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return fmt.Errorf("%w: device %d", pose.ErrCameraNotFound, cfg.Device)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
	// Keep only the newest frame queued.
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	frame := gocv.NewMat()

	// A device that opens but streams nothing is held by another process.
	if ok := vc.Read(&frame); !ok || frame.Empty() {
		_ = frame.Close()
		_ = vc.Close()
		return fmt.Errorf("%w: device %d delivers no frames", pose.ErrCameraBusy, cfg.Device)
	}

	c.vc, c.frame, c.cfg = vc, frame, cfg
	c.logger.Info("camera opened",
		"device", cfg.Device,
		"width", frame.Cols(),
		"height", frame.Rows(),
	)
	return nil
}

// CaptureJPEG grabs the newest frame and encodes it.
func (c *Capture) CaptureJPEG() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return nil, ErrNotOpen
	}
	if ok := c.vc.Read(&c.frame); !ok || c.frame.Empty() {
		return nil, ErrNoFrame
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.frame, []int{gocv.IMWriteJpegQuality, c.cfg.Quality})
	if err != nil {
		return nil, fmt.Errorf("camera: encode: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases native memory that Close frees.
	return append([]byte(nil), buf.GetBytes()...), nil
}

// Close releases the device. It is safe on a closed capture.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Capture) closeLocked() error {
	if c.vc == nil {
		return nil
	}
	err := errors.Join(c.frame.Close(), c.vc.Close())
	c.vc = nil
	c.logger.Info("camera closed")
	return err
}

// IsOpen reports whether the device is held.
func (c *Capture) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vc != nil
}

func (c *Capture) reconfigure(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return nil
	}
	if err := c.closeLocked(); err != nil {
		c.logger.Warn("close before reconfigure failed", "error", err)
	}
	return c.openLocked(context.Background(), cfg)
}

var _ pose.Camera = (*Capture)(nil)
