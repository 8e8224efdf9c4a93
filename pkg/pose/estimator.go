package pose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-binaural/pkg/orientation"
)

// State is the tracking lifecycle.
type State int

const (
	StateDisabled State = iota
	StateEnabling
	StateEnabled
	StateDisabling
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateEnabling:
		return "enabling"
	case StateEnabled:
		return "enabled"
	case StateDisabling:
		return "disabling"
	default:
		return "unknown"
	}
}

// Stats counts frame loop activity since construction.
type Stats struct {
	FramesProcessed int64 `json:"frames_processed"`
	FramesFailed    int64 `json:"frames_failed"`
	Emitted         int64 `json:"emitted"`
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Estimator) { e.logger = logger }
}

// WithFrameSink mirrors processed frames to a preview.
func WithFrameSink(sink FrameSink) Option {
	return func(e *Estimator) { e.sink = sink }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) { e.now = now }
}

type attempt struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// Estimator owns the camera, the landmark model and the frame loop.
type Estimator struct {
	cfg    Config
	camera Camera
	loader ModelLoader
	sink   FrameSink
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	unsupported error
	attempt     *attempt
	handler     func(orientation.Orientation)
	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	model       LandmarkModel

	// Frame loop only.
	bank      *orientation.Bank
	lastFrame time.Time
	epoch     time.Time

	processed atomic.Int64
	failed    atomic.Int64
	emitted   atomic.Int64
}

// New creates an estimator. A nil camera or loader makes every Enable fail
// with ErrUnsupportedEnvironment.
func New(cfg Config, camera Camera, loader ModelLoader, opts ...Option) *Estimator {
	e := &Estimator{
		cfg:    cfg,
		camera: camera,
		loader: loader,
		logger: slog.Default(),
		now:    time.Now,
		bank:   orientation.NewBank(cfg.YawFilter, cfg.PitchFilter, cfg.RollFilter),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "pose")

	switch {
	case camera == nil:
		e.unsupported = &UnsupportedError{Missing: "camera"}
	case loader == nil:
		e.unsupported = &UnsupportedError{Missing: "landmark model"}
	}
	return e
}

// OnOrientation registers the callback receiving every emitted sample.
// It runs on the frame loop goroutine and must not block.
func (e *Estimator) OnOrientation(fn func(orientation.Orientation)) {
	e.mu.Lock()
	e.handler = fn
	e.mu.Unlock()
}

// State returns the current lifecycle state.
func (e *Estimator) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Supported reports whether Enable can ever succeed.
func (e *Estimator) Supported() bool {
	return e.unsupported == nil
}

// Stats returns frame loop counters.
func (e *Estimator) Stats() Stats {
	return Stats{
		FramesProcessed: e.processed.Load(),
		FramesFailed:    e.failed.Load(),
		Emitted:         e.emitted.Load(),
	}
}

// Enable acquires the camera and model and starts the frame loop.
// A call made while another Enable is in flight waits for that attempt and
// returns its result. Enabling an enabled estimator is a no-op.
func (e *Estimator) Enable(ctx context.Context) error {
	e.mu.Lock()
	if e.unsupported != nil {
		e.mu.Unlock()
		return e.unsupported
	}

	switch e.state {
	case StateEnabled:
		e.mu.Unlock()
		return nil
	case StateEnabling:
		a := e.attempt
		e.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	case StateDisabling:
		e.mu.Unlock()
		return ErrBusy
	}

	actx, cancel := context.WithCancel(ctx)
	a := &attempt{done: make(chan struct{}), cancel: cancel}
	e.attempt = a
	e.state = StateEnabling
	e.mu.Unlock()

	model, err := e.acquire(actx)
	cancel()

	if err != nil {
		if terr := e.teardown(model); terr != nil {
			e.logger.Warn("teardown after failed enable", "error", terr)
		}
		e.logger.Warn("head tracking unavailable", "error", err)
	}

	e.mu.Lock()
	if err == nil {
		e.start(model)
		e.state = StateEnabled
		e.logger.Info("head tracking enabled")
	} else {
		e.state = StateDisabled
	}
	a.err = err
	e.attempt = nil
	close(a.done)
	e.mu.Unlock()

	return err
}

func (e *Estimator) acquire(ctx context.Context) (LandmarkModel, error) {
	if err := e.camera.Open(ctx); err != nil {
		return nil, classifyCamera(err)
	}

	model, err := e.loader.Load(ctx)
	if err != nil {
		return nil, &AcquisitionError{Reason: ReasonModel, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return model, err
	}
	return model, nil
}

// start launches the frame loop. Caller holds mu.
func (e *Estimator) start(model LandmarkModel) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.model = model
	e.loopCancel = cancel
	e.loopDone = done
	e.bank.Reset()
	e.lastFrame = time.Time{}
	e.epoch = e.now()

	go e.run(ctx, model, done)
}

// Disable stops the frame loop, releases the camera and model, and emits a
// final 0/0/0. Every teardown step runs even if an earlier one fails; the
// failures are joined into the returned error. An Enable in flight is
// canceled first.
func (e *Estimator) Disable() error {
	e.mu.Lock()
	for e.state == StateEnabling {
		a := e.attempt
		a.cancel()
		e.mu.Unlock()
		<-a.done
		e.mu.Lock()
	}
	if e.state != StateEnabled {
		e.mu.Unlock()
		return nil
	}

	e.state = StateDisabling
	cancel, done, model := e.loopCancel, e.loopDone, e.model
	e.loopCancel, e.loopDone, e.model = nil, nil, nil
	e.mu.Unlock()

	cancel()
	<-done

	err := e.teardown(model)

	e.mu.Lock()
	e.state = StateDisabled
	e.mu.Unlock()

	e.logger.Info("head tracking disabled")
	return err
}

// teardown stops media tracks, clears the preview and releases the model.
func (e *Estimator) teardown(model LandmarkModel) error {
	var errs []error

	if err := safely(e.camera.Close); err != nil {
		errs = append(errs, fmt.Errorf("stop camera: %w", err))
	}
	if e.sink != nil {
		if err := safely(func() error { e.sink.Clear(); return nil }); err != nil {
			errs = append(errs, fmt.Errorf("clear preview: %w", err))
		}
	}
	if model != nil {
		if err := safely(model.Close); err != nil {
			errs = append(errs, fmt.Errorf("release model: %w", err))
		}
	}

	e.bank.Reset()
	e.emit(orientation.Zero)

	return errors.Join(errs...)
}

func (e *Estimator) run(ctx context.Context, model LandmarkModel, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.processFrame(ctx, model, e.now())
		}
	}
}

// processFrame runs one loop iteration. It reports whether the frame was
// processed rather than throttled.
func (e *Estimator) processFrame(ctx context.Context, model LandmarkModel, now time.Time) bool {
	if !e.lastFrame.IsZero() && now.Sub(e.lastFrame) < e.cfg.InferenceInterval {
		return false
	}
	e.lastFrame = now
	e.processed.Add(1)

	if err := safely(func() error { return e.detect(ctx, model, now) }); err != nil {
		e.failed.Add(1)
		e.logger.Debug("frame skipped", "error", err)
	}
	return true
}

func (e *Estimator) detect(ctx context.Context, model LandmarkModel, now time.Time) error {
	frame, err := e.camera.CaptureJPEG()
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if e.sink != nil {
		e.sink.ShowFrame(frame)
	}

	faces, err := model.EstimateFaces(ctx, frame)
	if err != nil {
		return fmt.Errorf("estimate faces: %w", err)
	}
	if ctx.Err() != nil || len(faces) == 0 {
		return nil
	}

	face := faces[0]
	if face.Confidence < e.cfg.ConfidenceThreshold {
		e.emit(orientation.Zero)
		return nil
	}

	raw, ok := FromKeypoints(face.Keypoints)
	if !ok {
		e.emit(orientation.Zero)
		return nil
	}

	t := now.Sub(e.epoch).Seconds()
	e.emit(e.bank.Apply(raw.Clamp(e.cfg.ClampDegrees), t))
	return nil
}

func (e *Estimator) emit(o orientation.Orientation) {
	e.mu.Lock()
	fn := e.handler
	e.mu.Unlock()

	if fn != nil {
		fn(o)
		e.emitted.Add(1)
	}
}

// safely runs fn, converting a panic into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
