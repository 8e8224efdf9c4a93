// Package spatial drives the rotator from the latest head pose at a fixed
// cadence.
//
// The pose loop stores raw samples in a Slot whenever it has one. The
// scheduler ticks every 25 ms, smooths the most recent sample on a synthetic
// 40 Hz clock and hands the result to the graph. The two loops never wait on
// each other.
package spatial

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-binaural/pkg/orientation"
)

// DefaultInterval is the rotation update period.
const DefaultInterval = orientation.DefaultStep

// Graph receives rotation updates.
type Graph interface {
	FiltersLoaded() bool
	SetRotation(o orientation.Orientation)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithInterval overrides the tick period. The smoother clock still advances
// by DefaultInterval per tick.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// Scheduler applies smoothed orientation to a Graph on a ticker.
type Scheduler struct {
	graph    Graph
	interval time.Duration
	logger   *slog.Logger

	slot orientation.Slot

	mu       sync.Mutex // guards smoother and last
	smoother *orientation.Smoother
	last     orientation.Orientation

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	ticks   atomic.Uint64
	applied atomic.Uint64
}

// New creates a stopped scheduler for graph.
func New(graph Graph, opts ...Option) *Scheduler {
	s := &Scheduler{
		graph:    graph,
		interval: DefaultInterval,
		logger:   slog.Default(),
		smoother: orientation.NewRenderSmoother(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "spatial")
	return s
}

// Store records the latest raw orientation. Safe from any goroutine; it is
// meant to be the pose estimator's callback.
func (s *Scheduler) Store(o orientation.Orientation) {
	s.slot.Store(o)
}

// Raw returns the latest stored raw orientation.
func (s *Scheduler) Raw() orientation.Orientation {
	return s.slot.Load()
}

// Smoothed returns the orientation produced by the last tick.
func (s *Scheduler) Smoothed() orientation.Orientation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Start begins ticking. Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)

	s.logger.Debug("scheduler started", "interval", s.interval)
}

// Stop cancels the ticker, waits for the loop to exit and resets the
// smoother. Calling Stop on a stopped scheduler does nothing.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel == nil {
		return
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.mu.Lock()
	s.smoother.Reset()
	s.last = orientation.Zero
	s.mu.Unlock()

	s.logger.Debug("scheduler stopped")
}

// Running reports whether the ticker is active.
func (s *Scheduler) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.cancel != nil
}

// Reset recentres: the slot reads zero and the smoother starts over.
func (s *Scheduler) Reset() {
	s.slot.Store(orientation.Zero)
	s.mu.Lock()
	s.smoother.Reset()
	s.last = orientation.Zero
	s.mu.Unlock()
}

// Ticks returns how many ticks have run, including skipped ones.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks.Load()
}

// Applied returns how many ticks reached the graph.
func (s *Scheduler) Applied() uint64 {
	return s.applied.Load()
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs one update. Before the decoding filters are loaded it does
// nothing. Otherwise the slot is smoothed and sent to the graph with yaw
// negated: the rotator turns the scene, so a head turned left needs the
// scene turned right.
func (s *Scheduler) Tick() {
	s.ticks.Add(1)

	if !s.graph.FiltersLoaded() {
		return
	}

	raw := s.slot.Load()

	s.mu.Lock()
	smoothed := s.smoother.Smooth(raw)
	s.last = smoothed
	s.mu.Unlock()

	s.graph.SetRotation(orientation.Orientation{
		Yaw:   -smoothed.Yaw,
		Pitch: smoothed.Pitch,
		Roll:  smoothed.Roll,
	})
	s.applied.Add(1)
}
