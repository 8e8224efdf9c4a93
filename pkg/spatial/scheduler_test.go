package spatial

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-binaural/internal/log"
	"github.com/teslashibe/go-binaural/pkg/orientation"
)

type fakeGraph struct {
	mu     sync.Mutex
	loaded bool
	calls  []orientation.Orientation
}

func (g *fakeGraph) FiltersLoaded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loaded
}

func (g *fakeGraph) SetRotation(o orientation.Orientation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, o)
}

func (g *fakeGraph) setLoaded(v bool) {
	g.mu.Lock()
	g.loaded = v
	g.mu.Unlock()
}

func (g *fakeGraph) snapshot() []orientation.Orientation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]orientation.Orientation(nil), g.calls...)
}

func newTestScheduler(g Graph, opts ...Option) *Scheduler {
	return New(g, append([]Option{WithLogger(log.Discard())}, opts...)...)
}

func TestTick_NoopBeforeFiltersLoaded(t *testing.T) {
	g := &fakeGraph{}
	s := newTestScheduler(g)
	s.Store(orientation.Orientation{Yaw: 20})

	for i := 0; i < 10; i++ {
		s.Tick()
	}

	if calls := g.snapshot(); len(calls) != 0 {
		t.Errorf("SetRotation called %d times before filters loaded", len(calls))
	}
	if s.Ticks() != 10 || s.Applied() != 0 {
		t.Errorf("ticks=%d applied=%d, want 10/0", s.Ticks(), s.Applied())
	}
	if !s.Smoothed().IsZero() {
		t.Errorf("smoother advanced while skipping: %v", s.Smoothed())
	}
}

func TestTick_NegatesYawOnly(t *testing.T) {
	g := &fakeGraph{loaded: true}
	s := newTestScheduler(g)
	raw := orientation.Orientation{Yaw: 30, Pitch: -10, Roll: 5}
	s.Store(raw)

	// The first sample passes through the filters unchanged.
	s.Tick()

	calls := g.snapshot()
	if len(calls) != 1 {
		t.Fatalf("SetRotation called %d times, want 1", len(calls))
	}
	want := orientation.Orientation{Yaw: -30, Pitch: -10, Roll: 5}
	if calls[0] != want {
		t.Errorf("SetRotation(%v), want %v", calls[0], want)
	}
	if s.Smoothed() != raw {
		t.Errorf("Smoothed() = %v, want %v", s.Smoothed(), raw)
	}
}

func TestTick_ConvergesOnConstantInput(t *testing.T) {
	g := &fakeGraph{loaded: true}
	s := newTestScheduler(g)

	s.Tick()
	target := orientation.Orientation{Yaw: 60, Pitch: -45, Roll: 12}
	s.Store(target)
	for i := 0; i < 400; i++ {
		s.Tick()
	}

	got := s.Smoothed()
	if math.Abs(got.Yaw-target.Yaw) > 1e-3 || math.Abs(got.Pitch-target.Pitch) > 1e-3 ||
		math.Abs(got.Roll-target.Roll) > 1e-3 {
		t.Errorf("Smoothed() = %v, want ≈ %v", got, target)
	}
}

func TestStartStop(t *testing.T) {
	g := &fakeGraph{loaded: true}
	s := newTestScheduler(g, WithInterval(time.Millisecond))
	s.Store(orientation.Orientation{Yaw: 10})

	s.Start()
	s.Start()
	if !s.Running() {
		t.Fatal("Running() = false after Start")
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Applied() < 5 {
		if time.Now().After(deadline) {
			t.Fatal("scheduler did not tick")
		}
		time.Sleep(time.Millisecond)
	}

	s.Stop()
	s.Stop()
	if s.Running() {
		t.Fatal("Running() = true after Stop")
	}

	after := s.Ticks()
	time.Sleep(10 * time.Millisecond)
	if s.Ticks() != after {
		t.Error("ticks continued after Stop")
	}
	if !s.Smoothed().IsZero() {
		t.Errorf("Stop must reset the smoother, last = %v", s.Smoothed())
	}
}

func TestStop_ResetsSmootherClock(t *testing.T) {
	run := func(s *Scheduler) []orientation.Orientation {
		inputs := []float64{0, 15, 40, 40, 38, 55}
		var out []orientation.Orientation
		for _, yaw := range inputs {
			s.Store(orientation.Orientation{Yaw: yaw})
			s.Tick()
			out = append(out, s.Smoothed())
		}
		return out
	}

	g := &fakeGraph{loaded: true}
	s := newTestScheduler(g, WithInterval(time.Hour))
	first := run(s)

	s.Start()
	s.Stop()
	second := run(s)

	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("sample %d differs after restart: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestReset(t *testing.T) {
	g := &fakeGraph{loaded: true}
	s := newTestScheduler(g)
	s.Store(orientation.Orientation{Yaw: 50})
	s.Tick()

	s.Reset()

	if !s.Raw().IsZero() || !s.Smoothed().IsZero() {
		t.Errorf("after Reset raw=%v smoothed=%v, want zero", s.Raw(), s.Smoothed())
	}
}

func TestFiltersLoadedMidway(t *testing.T) {
	g := &fakeGraph{}
	s := newTestScheduler(g)
	s.Store(orientation.Orientation{Pitch: 8})

	s.Tick()
	g.setLoaded(true)
	s.Tick()

	calls := g.snapshot()
	if len(calls) != 1 || calls[0].Pitch != 8 {
		t.Errorf("calls = %v, want one call with pitch 8", calls)
	}
}
