// Package graph owns the ambisonic processing chain of the player:
//
//	source → rotator → binaural decoder → output gain ─┬─ dry gain ─────────────────────────┬─ destination
//	                                                   └─ convolver → wet gain → reverb gain ┘
//
// The wet branch exists only on the dry-plus-wet route. Route changes are a
// single pointer swap, so the render goroutine always sees one complete
// topology.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cwbudde/algo-dsp/dsp/core"

	"github.com/teslashibe/go-binaural/internal/httpc"
	"github.com/teslashibe/go-binaural/pkg/ambisonic"
	"github.com/teslashibe/go-binaural/pkg/orientation"
)

// Source supplies ambisonic frames to the graph.
type Source interface {
	// Channels returns the number of ACN channels per frame.
	Channels() int
	// ReadFrames fills up to n frames of every channel in dst and returns
	// the number written. Missing frames are rendered as silence.
	ReadFrames(dst [][]float64, n int) int
}

// Fetcher retrieves a remote file.
type Fetcher func(ctx context.Context, url string) ([]byte, error)

// Config holds graph parameters.
type Config struct {
	Order         int
	SampleRate    int
	BlockSize     int
	FilterBaseURL string

	OutputGain float64
	DryGain    float64
	WetGain    float64
	ReverbGain float64
}

// DefaultConfig returns the stock mix. The wet and reverb gains keep the
// room subtle rather than loudness-matched.
func DefaultConfig() Config {
	return Config{
		Order:         ambisonic.DefaultOrder,
		SampleRate:    48000,
		BlockSize:     512,
		FilterBaseURL: "/filters",
		OutputGain:    0.42,
		DryGain:       1.0,
		WetGain:       1.90,
		ReverbGain:    0.90,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Order < 1 {
		return fmt.Errorf("graph: order must be at least 1, got %d", c.Order)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("graph: sample rate must be positive, got %d", c.SampleRate)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("graph: block size must be positive, got %d", c.BlockSize)
	}
	if c.OutputGain < 0 || c.DryGain < 0 || c.WetGain < 0 || c.ReverbGain < 0 {
		return fmt.Errorf("graph: gains must be non-negative")
	}
	return nil
}

// FilterURL is the location of the decoding filter set for the order.
func (c Config) FilterURL() string {
	return fmt.Sprintf("%s/mls_o%d.wav", strings.TrimRight(c.FilterBaseURL, "/"), c.Order)
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) { g.logger = logger }
}

// WithHTTPClient fetches filters and impulses with client.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Graph) {
		g.fetch = func(ctx context.Context, url string) ([]byte, error) {
			return httpc.Fetch(ctx, client, url)
		}
	}
}

// WithFetcher replaces the HTTP fetch entirely.
func WithFetcher(f Fetcher) Option {
	return func(g *Graph) { g.fetch = f }
}

type routing struct {
	route   Route
	locator string
	wet     *wetPath
}

var dryRouting = &routing{route: RouteDryOnly}

type sourceRef struct {
	src Source
}

// Status is a snapshot of the graph.
type Status struct {
	Route             Route  `json:"route"`
	Reverb            string `json:"reverb,omitempty"`
	FiltersLoaded     bool   `json:"filters_loaded"`
	SourceConnected   bool   `json:"source_connected"`
	ConvolutionErrors uint64 `json:"convolution_errors"`
}

// Graph is the ambisonic processing chain.
type Graph struct {
	cfg    Config
	logger *slog.Logger
	fetch  Fetcher

	rotator *ambisonic.Rotator
	decoder *ambisonic.BinauralDecoder

	loadMu        sync.Mutex
	filtersLoaded atomic.Bool

	routeMu   sync.Mutex
	routing   atomic.Pointer[routing]
	reverbGen atomic.Uint64

	source atomic.Pointer[sourceRef]
	closed atomic.Bool

	convErrors atomic.Uint64

	// render scratch, render goroutine only
	in, rot    [][]float64
	decL, decR []float64
}

// New creates a graph on the dry-only route with no source and no filters.
func New(cfg Config, opts ...Option) (*Graph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Graph{
		cfg:     cfg,
		logger:  slog.Default(),
		rotator: ambisonic.NewRotator(cfg.Order),
		decoder: ambisonic.NewBinauralDecoder(cfg.Order),
	}
	g.fetch = func(ctx context.Context, url string) ([]byte, error) {
		return httpc.Fetch(ctx, nil, url)
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "graph")
	g.routing.Store(dryRouting)

	channels := ambisonic.ChannelCount(cfg.Order)
	g.in = make([][]float64, channels)
	g.rot = make([][]float64, channels)
	for ch := range g.in {
		g.in[ch] = make([]float64, cfg.BlockSize)
		g.rot[ch] = make([]float64, cfg.BlockSize)
	}
	g.decL = make([]float64, cfg.BlockSize)
	g.decR = make([]float64, cfg.BlockSize)

	return g, nil
}

// Config returns the graph configuration.
func (g *Graph) Config() Config {
	return g.cfg
}

// Channels returns the channel count sources must carry.
func (g *Graph) Channels() int {
	return ambisonic.ChannelCount(g.cfg.Order)
}

// FiltersLoaded reports whether the decoding filters are installed.
func (g *Graph) FiltersLoaded() bool {
	return g.filtersLoaded.Load()
}

// Route returns the current route.
func (g *Graph) Route() Route {
	return g.routing.Load().route
}

// Reverb returns the installed impulse locator, or "" on the dry route.
func (g *Graph) Reverb() string {
	return g.routing.Load().locator
}

// Status returns a snapshot.
func (g *Graph) Status() Status {
	r := g.routing.Load()
	return Status{
		Route:             r.route,
		Reverb:            r.locator,
		FiltersLoaded:     g.filtersLoaded.Load(),
		SourceConnected:   g.source.Load() != nil,
		ConvolutionErrors: g.convErrors.Load(),
	}
}

// Edges returns the current connections.
func (g *Graph) Edges() []Edge {
	return edges(g.routing.Load().route, g.source.Load() != nil)
}

// WetConnections counts connections into or out of the convolution stage.
func (g *Graph) WetConnections() int {
	n := 0
	for _, e := range g.Edges() {
		if e.From == NodeConvolver || e.To == NodeConvolver {
			n++
		}
	}
	return n
}

// SetRotation points the rotator at o and recomputes its matrix. It does
// nothing until the decoding filters are loaded.
func (g *Graph) SetRotation(o orientation.Orientation) {
	if !g.filtersLoaded.Load() {
		return
	}
	g.rotator.SetRotation(o.Yaw, o.Pitch, o.Roll)
	g.rotator.UpdateMatrix()
}

// ResetRotation returns the rotator to identity whether or not filters are
// loaded.
func (g *Graph) ResetRotation() {
	g.rotator.SetRotation(0, 0, 0)
	g.rotator.UpdateMatrix()
}

// Rotation returns the angles last applied to the rotator.
func (g *Graph) Rotation() orientation.Orientation {
	y, p, r := g.rotator.Rotation()
	return orientation.Orientation{Yaw: y, Pitch: p, Roll: r}
}

// LoadDecodingFilters fetches and installs the filter set for the configured
// order. Once loaded it returns nil immediately; concurrent callers wait for
// the first.
func (g *Graph) LoadDecodingFilters(ctx context.Context) error {
	g.loadMu.Lock()
	defer g.loadMu.Unlock()

	if g.filtersLoaded.Load() {
		return nil
	}
	if g.closed.Load() {
		return ErrGraphClosed
	}

	url := g.cfg.FilterURL()
	data, err := g.fetch(ctx, url)
	if err != nil {
		return &FilterLoadError{URL: url, Err: err}
	}

	filters, rate, err := ambisonic.DecodeWAV(data)
	if err != nil {
		return &FilterLoadError{URL: url, Err: err}
	}
	if rate != g.cfg.SampleRate {
		g.logger.Info("resampling decoding filters", "from", rate, "to", g.cfg.SampleRate)
		if filters, err = resampleChannels(filters, rate, g.cfg.SampleRate); err != nil {
			return &FilterLoadError{URL: url, Err: err}
		}
	}

	if err := g.installFilters(filters); err != nil {
		return &FilterLoadError{URL: url, Err: err}
	}
	g.logger.Info("decoding filters loaded", "url", url, "channels", len(filters))
	return nil
}

// InstallFilters installs an in-memory filter set, one impulse per ACN
// channel at the graph sample rate.
func (g *Graph) InstallFilters(filters [][]float64) error {
	g.loadMu.Lock()
	defer g.loadMu.Unlock()
	return g.installFilters(filters)
}

func (g *Graph) installFilters(filters [][]float64) error {
	if err := g.decoder.UpdateFilters(filters); err != nil {
		return err
	}
	g.filtersLoaded.Store(true)
	return nil
}

// ConnectSource wires src in front of the rotator, replacing any previous
// source. src must carry exactly (order+1)² channels.
func (g *Graph) ConnectSource(src Source) error {
	if g.closed.Load() {
		return ErrGraphClosed
	}
	if got, want := src.Channels(), g.Channels(); got != want {
		return fmt.Errorf("%w: got %d, want %d", ErrChannelMismatch, got, want)
	}
	g.source.Store(&sourceRef{src: src})
	return nil
}

// DisconnectSource removes the source; the graph renders silence.
func (g *Graph) DisconnectSource() {
	g.source.Store(nil)
}

// SetReverb switches the route. An empty locator selects the dry-only
// route. Otherwise the impulse is fetched, decoded and installed, and the
// graph switches to dry-plus-wet. On any failure the graph is left dry-only
// and a *ReverbLoadError is returned. When a later SetReverb call starts
// before this one finishes, this one leaves the route alone and returns
// ErrReverbSuperseded.
func (g *Graph) SetReverb(ctx context.Context, locator string) error {
	gen := g.reverbGen.Add(1)

	if locator == "" {
		return g.install(gen, dryRouting)
	}
	if g.closed.Load() {
		return g.fail(gen, locator, ErrGraphClosed)
	}

	data, err := g.fetch(ctx, locator)
	if err != nil {
		return g.fail(gen, locator, err)
	}
	wet, err := buildWetPath(data, g.cfg.SampleRate, g.cfg.BlockSize)
	if err != nil {
		return g.fail(gen, locator, err)
	}

	return g.install(gen, &routing{route: RouteDryPlusWet, locator: locator, wet: wet})
}

func (g *Graph) install(gen uint64, r *routing) error {
	g.routeMu.Lock()
	defer g.routeMu.Unlock()

	if gen != g.reverbGen.Load() {
		return ErrReverbSuperseded
	}
	if g.closed.Load() && r.wet != nil {
		g.routing.Store(dryRouting)
		return &ReverbLoadError{Locator: r.locator, Err: ErrGraphClosed}
	}
	g.routing.Store(r)
	g.logger.Info("route changed", "route", r.route.String(), "reverb", r.locator)
	return nil
}

func (g *Graph) fail(gen uint64, locator string, err error) error {
	g.routeMu.Lock()
	defer g.routeMu.Unlock()

	if gen != g.reverbGen.Load() {
		return ErrReverbSuperseded
	}
	g.routing.Store(dryRouting)
	g.logger.Warn("reverb load failed, dry only", "reverb", locator, "error", err)
	return &ReverbLoadError{Locator: locator, Err: err}
}

// Process renders one stereo block. left and right must have equal length.
// It never fails: with no source or no filters the block is silent, and a
// convolution failure drops the wet signal for that block.
func (g *Graph) Process(left, right []float64) {
	n := len(left)
	ref := g.source.Load()
	if ref == nil || g.closed.Load() {
		clear(left)
		clear(right[:n])
		return
	}

	g.ensureScratch(n)

	got := ref.src.ReadFrames(g.in, n)
	if got < 0 {
		got = 0
	}
	if got < n {
		for ch := range g.in {
			clear(g.in[ch][got:n])
		}
	}

	g.rotator.Process(g.in, g.rot, n)
	g.decoder.Process(g.rot, g.decL, g.decR, n)

	out, dry := g.cfg.OutputGain, g.cfg.DryGain
	for i := 0; i < n; i++ {
		g.decL[i] *= out
		g.decR[i] *= out
		left[i] = g.decL[i] * dry
		right[i] = g.decR[i] * dry
	}

	if r := g.routing.Load(); r.wet != nil {
		if err := r.wet.process(g.decL, g.decR, left[:n], right[:n], g.cfg.WetGain*g.cfg.ReverbGain); err != nil {
			g.convErrors.Add(1)
		}
	}
}

func (g *Graph) ensureScratch(n int) {
	for ch := range g.in {
		g.in[ch] = core.EnsureLen(g.in[ch], n)
		g.rot[ch] = core.EnsureLen(g.rot[ch], n)
	}
	g.decL = core.EnsureLen(g.decL, n)
	g.decR = core.EnsureLen(g.decR, n)
}

// Close disconnects the source and drops the reverb. Further loads fail
// with ErrGraphClosed.
func (g *Graph) Close() error {
	if g.closed.Swap(true) {
		return nil
	}
	g.reverbGen.Add(1)
	g.routeMu.Lock()
	g.routing.Store(dryRouting)
	g.routeMu.Unlock()
	g.source.Store(nil)
	return nil
}
