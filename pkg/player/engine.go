// Package player owns the track list and playback lifecycle of the binaural
// player. It ties a media element, the ambisonic signal graph, the audio
// output and the head-tracking pipeline together behind one Engine.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-binaural/internal/httpc"
	"github.com/teslashibe/go-binaural/pkg/audioio"
	"github.com/teslashibe/go-binaural/pkg/graph"
	"github.com/teslashibe/go-binaural/pkg/media"
	"github.com/teslashibe/go-binaural/pkg/orientation"
	"github.com/teslashibe/go-binaural/pkg/pose"
	"github.com/teslashibe/go-binaural/pkg/spatial"
)

// State is the engine lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateLoadingTrack
	StatePlaying
	StatePaused
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateLoadingTrack:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Track is one entry of the play list.
type Track struct {
	Index         int     `json:"index"`
	Title         string  `json:"title,omitempty"`
	Locator       string  `json:"locator"`
	Duration      float64 `json:"duration"`
	DurationKnown bool    `json:"duration_known"`
}

// Tracker is the head-tracking pipeline. *pose.Estimator implements it.
type Tracker interface {
	Enable(ctx context.Context) error
	Disable() error
	State() pose.State
	Supported() bool
	OnOrientation(fn func(orientation.Orientation))
}

// Tap receives every rendered block. It must not retain the slices.
type Tap interface {
	WriteBlock(left, right []float64)
}

// DurationFunc resolves a track's duration from its locator.
type DurationFunc func(ctx context.Context, locator string) (float64, error)

// Status is a point-in-time snapshot of the engine.
type Status struct {
	State         State                   `json:"state"`
	Track         Track                   `json:"track"`
	TrackCount    int                     `json:"track_count"`
	Position      float64                 `json:"position"`
	Paused        bool                    `json:"paused"`
	Route         graph.Route             `json:"route"`
	Reverb        string                  `json:"reverb"`
	FiltersLoaded bool                    `json:"filters_loaded"`
	Tracking      string                  `json:"tracking"`
	Orientation   orientation.Orientation `json:"orientation"`
	Smoothed      orientation.Orientation `json:"smoothed"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTracker enables head tracking. Without one, EnableTracking reports an
// unsupported environment.
func WithTracker(t Tracker) Option {
	return func(e *Engine) { e.tracker = t }
}

// WithLoadTimeout overrides the track load timeout.
func WithLoadTimeout(d time.Duration) Option {
	return func(e *Engine) { e.loadTimeout = d }
}

// WithDurationFunc overrides how track durations are preloaded.
func WithDurationFunc(fn DurationFunc) Option {
	return func(e *Engine) { e.duration = fn }
}

// WithHTTPClient sets the client used to preload manifest durations.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) { e.client = client }
}

// WithSchedulerInterval overrides the rotation update interval.
func WithSchedulerInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// Engine is the player.
type Engine struct {
	graph     *graph.Graph
	element   media.Element
	audio     *audioio.Context
	scheduler *spatial.Scheduler
	tracker   Tracker
	session   *Session
	logger    *slog.Logger

	client      *http.Client
	duration    DurationFunc
	loadTimeout time.Duration
	interval    time.Duration

	mu          sync.Mutex
	state       State
	initialized bool
	tracks      []Track
	current     int
	loaded      bool
	wantPlay    bool
	reverb      string

	// trackMu orders scheduler start/stop against the tracker state.
	trackMu  sync.Mutex
	tracking atomic.Bool
	tap      atomic.Pointer[tapRef]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type tapRef struct{ t Tap }

// NewEngine wires element into g as its source. tracks must not be empty.
func NewEngine(g *graph.Graph, element media.Element, audio *audioio.Context, tracks []Track, opts ...Option) (*Engine, error) {
	if len(tracks) == 0 {
		return nil, ErrNoTracks
	}

	e := &Engine{
		graph:       g,
		element:     element,
		audio:       audio,
		logger:      slog.Default(),
		loadTimeout: DefaultLoadTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "player")

	if e.client == nil {
		e.client = httpc.Client
	}
	if e.duration == nil {
		e.duration = e.manifestDuration
	}

	e.tracks = make([]Track, len(tracks))
	for i, tr := range tracks {
		tr.Index = i
		e.tracks[i] = tr
	}

	if err := g.ConnectSource(element); err != nil {
		return nil, fmt.Errorf("player: connect element: %w", err)
	}

	schedOpts := []spatial.Option{spatial.WithLogger(e.logger)}
	if e.interval > 0 {
		schedOpts = append(schedOpts, spatial.WithInterval(e.interval))
	}
	e.scheduler = spatial.New(g, schedOpts...)
	e.session = NewSession(element, audio, WithSessionLoadTimeout(e.loadTimeout), WithSessionLogger(e.logger))

	if e.tracker != nil {
		e.tracker.OnOrientation(func(o orientation.Orientation) {
			if e.tracking.Load() {
				e.scheduler.Store(o)
			}
		})
	}

	return e, nil
}

// Init loads the decoding filters, starts the background loops and loads
// the first track paused. A filter failure is logged; Play retries it.
// Only the first call does anything.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateDisposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	if e.initialized {
		e.mu.Unlock()
		return nil
	}
	e.initialized = true
	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.mu.Unlock()

	if err := e.graph.LoadDecodingFilters(ctx); err != nil {
		e.logger.Warn("decoding filters unavailable", "error", err)
	}

	events, unsubscribe := e.element.Subscribe()
	e.wg.Add(3)
	go e.watch(loopCtx, events, unsubscribe)
	go e.render(loopCtx)
	go e.preloadDurations(loopCtx)

	err := e.changeTrack(ctx, 0, false)

	e.mu.Lock()
	if e.state != StateDisposed {
		e.state = StateReady
	}
	e.mu.Unlock()
	return err
}

// Tracks returns a copy of the track list.
func (e *Engine) Tracks() []Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Track(nil), e.tracks...)
}

// Current returns the current track.
func (e *Engine) Current() Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracks[e.current]
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Scheduler exposes the rotation scheduler.
func (e *Engine) Scheduler() *spatial.Scheduler {
	return e.scheduler
}

// Play resumes the audio output, loads the decoding filters if they are
// missing and starts the current track.
func (e *Engine) Play(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateDisposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	e.wantPlay = true
	loaded, current := e.loaded, e.current
	e.mu.Unlock()

	if err := e.audio.Resume(ctx); err != nil {
		return fmt.Errorf("player: resume audio: %w", err)
	}
	if !e.graph.FiltersLoaded() {
		if err := e.graph.LoadDecodingFilters(ctx); err != nil {
			return err
		}
	}
	if !loaded {
		return e.changeTrack(ctx, current, true)
	}
	return e.start()
}

func (e *Engine) start() error {
	if err := e.element.Play(); err != nil {
		return fmt.Errorf("player: play: %w", err)
	}
	e.mu.Lock()
	if e.state != StateDisposed {
		e.state = StatePlaying
	}
	e.mu.Unlock()
	return nil
}

// Pause stops playback.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateDisposed {
		return
	}
	e.wantPlay = false
	e.element.Pause()
	if e.state == StatePlaying {
		e.state = StatePaused
	}
}

// TogglePlayback plays when paused and pauses when playing.
func (e *Engine) TogglePlayback(ctx context.Context) error {
	if e.element.Paused() {
		return e.Play(ctx)
	}
	e.Pause()
	return nil
}

// Seek moves the playhead, clamped to [0, duration]. It does nothing when
// seconds is not finite or the duration is unknown.
func (e *Engine) Seek(seconds float64) error {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return nil
	}
	duration, ok := e.element.Duration()
	if !ok {
		e.mu.Lock()
		tr := e.tracks[e.current]
		e.mu.Unlock()
		if !tr.DurationKnown {
			return nil
		}
		duration = tr.Duration
	}
	return e.element.Seek(math.Max(0, math.Min(seconds, duration)))
}

// SelectTrack loads track index, continuing playback if the listener last
// asked to play.
func (e *Engine) SelectTrack(ctx context.Context, index int) error {
	e.mu.Lock()
	n := len(e.tracks)
	e.mu.Unlock()
	if index < 0 || index >= n {
		return fmt.Errorf("%w: %d", ErrTrackIndex, index)
	}
	return e.changeTrack(ctx, index, true)
}

// Next moves to the following track, wrapping to the first.
func (e *Engine) Next(ctx context.Context) error {
	e.mu.Lock()
	index := (e.current + 1) % len(e.tracks)
	e.mu.Unlock()
	return e.changeTrack(ctx, index, true)
}

// Previous moves to the preceding track, wrapping to the last.
func (e *Engine) Previous(ctx context.Context) error {
	e.mu.Lock()
	n := len(e.tracks)
	index := (e.current - 1 + n) % n
	e.mu.Unlock()
	return e.changeTrack(ctx, index, true)
}

func (e *Engine) changeTrack(ctx context.Context, index int, autoplay bool) error {
	e.mu.Lock()
	if e.state == StateDisposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	e.current = index
	e.loaded = false
	e.state = StateLoadingTrack
	track := e.tracks[index]
	e.mu.Unlock()

	loaded, err := e.session.Load(ctx, track)

	e.mu.Lock()
	if err != nil {
		if !IsSuperseded(err) && e.state == StateLoadingTrack {
			e.state = StatePaused
		}
		e.mu.Unlock()
		return err
	}
	if e.current == index {
		e.loaded = true
		if loaded.DurationKnown {
			e.tracks[index].Duration = loaded.Duration
			e.tracks[index].DurationKnown = true
		}
	}
	play := autoplay && e.wantPlay
	if !play && e.state == StateLoadingTrack {
		e.state = StatePaused
	}
	e.mu.Unlock()

	if play {
		return e.start()
	}
	return nil
}

func (e *Engine) handleEnded(ctx context.Context, locator string) {
	e.mu.Lock()
	if e.state == StateDisposed || e.tracks[e.current].Locator != locator {
		e.mu.Unlock()
		return
	}
	last := e.current == len(e.tracks)-1
	next := e.current + 1
	if last {
		next = 0
		e.wantPlay = false
	}
	e.mu.Unlock()

	e.logger.Info("track ended", "locator", locator, "next", next)
	if err := e.changeTrack(ctx, next, !last); err != nil && !IsSuperseded(err) {
		e.logger.Warn("advance after end failed", "error", err)
	}
}

// SetReverb selects an impulse response, or none with "". On a load
// failure the graph is dry and the selection reverts to none.
func (e *Engine) SetReverb(ctx context.Context, locator string) error {
	e.mu.Lock()
	e.reverb = locator
	e.mu.Unlock()

	err := e.graph.SetReverb(ctx, locator)
	var rle *graph.ReverbLoadError
	if errors.As(err, &rle) {
		e.mu.Lock()
		if e.reverb == locator {
			e.reverb = ""
		}
		e.mu.Unlock()
	}
	return err
}

// Reverb returns the selected impulse response.
func (e *Engine) Reverb() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reverb
}

// EnableTracking acquires the camera and model and starts the rotation
// scheduler. On failure the scheduler is left stopped.
func (e *Engine) EnableTracking(ctx context.Context) error {
	if e.tracker == nil {
		return &pose.UnsupportedError{Missing: "camera"}
	}
	if e.State() == StateDisposed {
		return ErrDisposed
	}

	if err := e.tracker.Enable(ctx); err != nil {
		e.trackMu.Lock()
		e.tracking.Store(false)
		e.scheduler.Stop()
		e.trackMu.Unlock()
		return err
	}

	e.trackMu.Lock()
	defer e.trackMu.Unlock()
	// A DisableTracking that finished while Enable was returning wins.
	if e.tracker.State() != pose.StateEnabled {
		return ErrTrackingInterrupted
	}
	e.tracking.Store(true)
	e.scheduler.Start()
	e.logger.Info("head tracking enabled")
	return nil
}

// DisableTracking releases the camera and model, stops the scheduler and
// recenters the scene.
func (e *Engine) DisableTracking() error {
	e.tracking.Store(false)

	var err error
	if e.tracker != nil {
		err = e.tracker.Disable()
	}
	e.trackMu.Lock()
	e.tracking.Store(false)
	e.scheduler.Stop()
	e.trackMu.Unlock()
	e.ResetOrientation()
	e.logger.Info("head tracking disabled")
	return err
}

// Tracking reports the tracker state; disabled without a tracker.
func (e *Engine) Tracking() pose.State {
	if e.tracker == nil {
		return pose.StateDisabled
	}
	return e.tracker.State()
}

// TrackingSupported reports whether head tracking can be enabled.
func (e *Engine) TrackingSupported() bool {
	return e.tracker != nil && e.tracker.Supported()
}

// ResetOrientation zeroes the stored pose and the scene rotation now.
func (e *Engine) ResetOrientation() {
	e.scheduler.Reset()
	e.graph.ResetRotation()
}

// SetTap attaches t to the render loop; nil detaches.
func (e *Engine) SetTap(t Tap) {
	if t == nil {
		e.tap.Store(nil)
		return
	}
	e.tap.Store(&tapRef{t: t})
}

// Status returns a snapshot.
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{
		State:      e.state,
		Track:      e.tracks[e.current],
		TrackCount: len(e.tracks),
		Reverb:     e.reverb,
	}
	e.mu.Unlock()

	st.Position = e.element.Position()
	st.Paused = e.element.Paused()
	st.Route = e.graph.Route()
	st.FiltersLoaded = e.graph.FiltersLoaded()
	st.Tracking = e.Tracking().String()
	st.Orientation = e.scheduler.Raw()
	st.Smoothed = e.scheduler.Smoothed()
	return st
}

// Dispose disables tracking, stops the background loops and closes the
// element, the audio output and the graph. Every step runs even if an
// earlier one fails.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	if e.state == StateDisposed {
		e.mu.Unlock()
		return nil
	}
	e.state = StateDisposed
	cancel := e.cancel
	e.mu.Unlock()

	var errs []error
	e.tracking.Store(false)
	if e.tracker != nil && e.tracker.State() != pose.StateDisabled {
		errs = append(errs, e.tracker.Disable())
	}
	e.trackMu.Lock()
	e.tracking.Store(false)
	e.scheduler.Stop()
	e.trackMu.Unlock()
	e.session.Cancel()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	errs = append(errs, e.element.Close(), e.audio.Close(), e.graph.Close())
	e.logger.Info("player disposed")
	return errors.Join(errs...)
}

func (e *Engine) watch(ctx context.Context, events <-chan media.Event, unsubscribe func()) {
	defer e.wg.Done()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Type {
			case media.EventEnded:
				e.wg.Add(1)
				go func() {
					defer e.wg.Done()
					e.handleEnded(ctx, ev.Locator)
				}()
			case media.EventLoadedMetadata:
				e.updateDuration(ev.Locator)
			}
		}
	}
}

func (e *Engine) updateDuration(locator string) {
	d, ok := e.element.Duration()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if tr := &e.tracks[e.current]; tr.Locator == locator {
		tr.Duration, tr.DurationKnown = d, true
	}
}

func (e *Engine) render(ctx context.Context) {
	defer e.wg.Done()

	cfg := e.audio.Config()
	left := make([]float64, cfg.BlockFrames)
	right := make([]float64, cfg.BlockFrames)
	var pcm []int16

	ticker := time.NewTicker(cfg.BlockDuration())
	defer ticker.Stop()

	var writeErrors uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pcm = e.renderBlock(ctx, left, right, cfg.SampleRate, pcm, &writeErrors)
		}
	}
}

func (e *Engine) renderBlock(ctx context.Context, left, right []float64, rate int, pcm []int16, writeErrors *uint64) []int16 {
	e.graph.Process(left, right)

	chunk := audioio.StereoChunk(left, right, rate, pcm)
	if err := e.audio.Write(ctx, chunk); err != nil {
		*writeErrors++
		if *writeErrors == 1 || *writeErrors%1000 == 0 {
			e.logger.Warn("audio write failed", "error", err, "count", *writeErrors)
		}
	}

	if ref := e.tap.Load(); ref != nil {
		ref.t.WriteBlock(left, right)
	}
	return chunk.Samples
}

func (e *Engine) preloadDurations(ctx context.Context) {
	defer e.wg.Done()

	for _, tr := range e.Tracks() {
		if ctx.Err() != nil {
			return
		}
		if tr.DurationKnown || !media.IsManifest(tr.Locator) {
			continue
		}
		d, err := e.duration(ctx, tr.Locator)
		if err != nil {
			e.logger.Warn("duration preload failed", "track", tr.Index, "error", err)
			continue
		}
		e.mu.Lock()
		if !e.tracks[tr.Index].DurationKnown {
			e.tracks[tr.Index].Duration = d
			e.tracks[tr.Index].DurationKnown = true
		}
		e.mu.Unlock()
	}
}

func (e *Engine) manifestDuration(ctx context.Context, locator string) (float64, error) {
	return media.ManifestDuration(ctx, e.client, locator)
}
