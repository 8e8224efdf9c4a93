package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// FFmpegConfig configures an FFmpegElement.
type FFmpegConfig struct {
	// Binary is the ffmpeg executable.
	Binary string
	// Channels is the channel count requested from the decoder.
	Channels int
	// SampleRate is the output rate in Hz.
	SampleRate int
	// ChunkFrames is how many frames the reader hands over at a time.
	ChunkFrames int
	// BufferChunks bounds decoded audio held ahead of the playhead.
	BufferChunks int
}

// DefaultFFmpegConfig decodes fourth-order ambisonics at 48 kHz.
func DefaultFFmpegConfig() FFmpegConfig {
	return FFmpegConfig{
		Binary:       "ffmpeg",
		Channels:     25,
		SampleRate:   48000,
		ChunkFrames:  1024,
		BufferChunks: 64,
	}
}

// Validate checks the configuration.
func (c FFmpegConfig) Validate() error {
	if c.Binary == "" {
		return fmt.Errorf("media: ffmpeg binary is required")
	}
	if c.Channels <= 0 {
		return fmt.Errorf("media: channels must be positive, got %d", c.Channels)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("media: sample rate must be positive, got %d", c.SampleRate)
	}
	if c.ChunkFrames <= 0 || c.BufferChunks <= 0 {
		return fmt.Errorf("media: chunk frames and buffer chunks must be positive")
	}
	return nil
}

// FFmpegOption configures an FFmpegElement.
type FFmpegOption func(*FFmpegElement)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FFmpegOption {
	return func(e *FFmpegElement) { e.logger = logger }
}

// WithHTTPClient sets the client used for manifest requests.
func WithHTTPClient(client *http.Client) FFmpegOption {
	return func(e *FFmpegElement) { e.client = client }
}

// decodeProc is one ffmpeg run from a start position.
type decodeProc struct {
	ctx     context.Context
	cancel  context.CancelFunc
	cmd     *exec.Cmd
	locator string
	attempt uint64
	chunks  chan []float32

	waitOnce sync.Once
	waitErr  error
	failed   atomic.Bool
	ended    atomic.Bool

	// render goroutine only
	cur []float32
	off int
}

func (p *decodeProc) wait() error {
	p.waitOnce.Do(func() { p.waitErr = p.cmd.Wait() })
	return p.waitErr
}

// FFmpegElement streams a source through an ffmpeg subprocess that emits
// interleaved float32 PCM. DASH manifests are read once up front for the
// duration.
type FFmpegElement struct {
	Emitter

	cfg    FFmpegConfig
	logger *slog.Logger
	client *http.Client

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	closed        bool
	locator       string
	attempt       uint64
	duration      float64
	durationKnown bool
	paused        bool
	startSec      float64
	proc          *decodeProc
	loadCancel    context.CancelFunc

	played    atomic.Int64 // frames since startSec
	underruns atomic.Int64
}

// NewFFmpegElement creates an element with no source.
func NewFFmpegElement(cfg FFmpegConfig, opts ...FFmpegOption) (*FFmpegElement, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &FFmpegElement{
		cfg:    cfg,
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
		paused: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "media")
	return e, nil
}

// AttachSource implements Element.
func (e *FFmpegElement) AttachSource(ctx context.Context, locator string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, ErrClosed
	}
	if locator == "" {
		return 0, ErrNoSource
	}

	e.stopLocked()
	e.attempt++
	attempt := e.attempt
	e.locator = locator
	e.duration, e.durationKnown = 0, false
	e.paused = true
	e.startSec = 0
	e.played.Store(0)

	loadCtx, cancel := context.WithCancel(e.ctx)
	e.loadCancel = cancel

	go e.load(ctx, loadCtx, locator, attempt)
	return attempt, nil
}

func (e *FFmpegElement) load(ctx, loadCtx context.Context, locator string, attempt uint64) {
	if IsManifest(locator) {
		probeCtx, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(loadCtx, cancel)
		d, err := ManifestDuration(probeCtx, e.client, locator)
		stop()
		cancel()

		if loadCtx.Err() != nil {
			return
		}
		if err != nil {
			e.logger.Warn("manifest probe failed", "locator", locator, "error", err)
			e.Emit(Event{Type: EventError, Locator: locator, Attempt: attempt, Err: err})
			return
		}

		e.mu.Lock()
		if loadCtx.Err() == nil {
			e.duration, e.durationKnown = d, true
		}
		e.mu.Unlock()
	}

	if loadCtx.Err() != nil {
		return
	}
	e.Emit(Event{Type: EventLoadedMetadata, Locator: locator, Attempt: attempt})

	e.mu.Lock()
	if loadCtx.Err() != nil {
		e.mu.Unlock()
		return
	}
	err := e.startLocked(e.startSec)
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("decoder start failed", "locator", locator, "error", err)
		e.Emit(Event{Type: EventError, Locator: locator, Attempt: attempt, Err: err})
	}
}

// startLocked launches ffmpeg at startSec. Caller holds mu.
func (e *FFmpegElement) startLocked(startSec float64) error {
	ctx, cancel := context.WithCancel(e.ctx)

	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if startSec > 0 {
		args = append(args, "-ss", strconv.FormatFloat(startSec, 'f', 3, 64))
	}
	args = append(args,
		"-i", e.locator,
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ar", strconv.Itoa(e.cfg.SampleRate),
		"-ac", strconv.Itoa(e.cfg.Channels),
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, e.cfg.Binary, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("media: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("media: start %s: %w", e.cfg.Binary, err)
	}

	p := &decodeProc{
		ctx:     ctx,
		cancel:  cancel,
		cmd:     cmd,
		locator: e.locator,
		attempt: e.attempt,
		chunks:  make(chan []float32, e.cfg.BufferChunks),
	}
	e.proc = p
	e.startSec = startSec
	e.played.Store(0)

	go e.decode(p, stdout, stderr)

	e.logger.Debug("decoder started", "locator", e.locator, "start", startSec)
	return nil
}

// stopLocked ends any load or decode in progress. Caller holds mu.
func (e *FFmpegElement) stopLocked() {
	if e.loadCancel != nil {
		e.loadCancel()
		e.loadCancel = nil
	}
	if e.proc != nil {
		e.proc.cancel()
		e.proc = nil
	}
}

func (e *FFmpegElement) decode(p *decodeProc, stdout io.Reader, stderr *bytes.Buffer) {
	defer close(p.chunks)

	frameBytes := 4 * e.cfg.Channels
	buf := make([]byte, e.cfg.ChunkFrames*frameBytes)
	produced := false

	for {
		n, rerr := io.ReadFull(stdout, buf)
		if whole := n - n%frameBytes; whole > 0 {
			samples := make([]float32, whole/4)
			for i := range samples {
				samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
			}
			select {
			case p.chunks <- samples:
			case <-p.ctx.Done():
				_ = p.wait()
				return
			}
			if !produced {
				produced = true
				e.emitIfCurrent(p, Event{Type: EventCanPlay, Locator: p.locator, Attempt: p.attempt})
			}
		}

		if rerr != nil {
			werr := p.wait()
			if !produced && p.ctx.Err() == nil {
				err := ErrNoAudio
				if werr != nil {
					err = fmt.Errorf("media: ffmpeg: %w: %s", werr, strings.TrimSpace(stderr.String()))
				}
				p.failed.Store(true)
				e.logger.Warn("decode failed", "locator", p.locator, "error", err)
				e.emitIfCurrent(p, Event{Type: EventError, Locator: p.locator, Attempt: p.attempt, Err: err})
			}
			return
		}
	}
}

func (e *FFmpegElement) emitIfCurrent(p *decodeProc, ev Event) {
	e.mu.Lock()
	current := e.proc == p
	e.mu.Unlock()
	if current {
		e.Emit(ev)
	}
}

// Play implements Element. Playing an ended source restarts it.
func (e *FFmpegElement) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.locator == "" {
		return ErrNoSource
	}
	if e.proc != nil && e.proc.ended.Load() {
		e.proc.cancel()
		e.proc = nil
		if err := e.startLocked(0); err != nil {
			return err
		}
	}
	e.paused = false
	return nil
}

// Pause implements Element.
func (e *FFmpegElement) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

// Paused implements Element.
func (e *FFmpegElement) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Seek implements Element. Before a decoder runs the position is only
// recorded and used as the start point.
func (e *FFmpegElement) Seek(seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	if e.durationKnown && seconds > e.duration {
		seconds = e.duration
	}

	if e.proc == nil {
		e.startSec = seconds
		e.played.Store(0)
		return nil
	}

	e.proc.cancel()
	e.proc = nil
	return e.startLocked(seconds)
}

// Position implements Element.
func (e *FFmpegElement) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos := e.startSec + float64(e.played.Load())/float64(e.cfg.SampleRate)
	if e.durationKnown && pos > e.duration {
		pos = e.duration
	}
	return pos
}

// Duration implements Element.
func (e *FFmpegElement) Duration() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration, e.durationKnown
}

// Channels implements Element.
func (e *FFmpegElement) Channels() int {
	return e.cfg.Channels
}

// Underruns returns how many reads found no decoded audio while playing.
func (e *FFmpegElement) Underruns() int64 {
	return e.underruns.Load()
}

// ReadFrames implements Element.
func (e *FFmpegElement) ReadFrames(dst [][]float64, n int) int {
	e.mu.Lock()
	p, paused := e.proc, e.paused
	e.mu.Unlock()

	if p == nil || paused || p.ended.Load() {
		return 0
	}

	ch := e.cfg.Channels
	written := 0
	for written < n {
		if p.off >= len(p.cur) {
			select {
			case c, ok := <-p.chunks:
				if !ok {
					e.finish(p)
					e.played.Add(int64(written))
					return written
				}
				p.cur, p.off = c, 0
			default:
				e.underruns.Add(1)
				e.played.Add(int64(written))
				return written
			}
		}

		frames := min((len(p.cur)-p.off)/ch, n-written)
		for i := 0; i < frames; i++ {
			base := p.off + i*ch
			for c := 0; c < ch && c < len(dst); c++ {
				dst[c][written+i] = float64(p.cur[base+c])
			}
		}
		p.off += frames * ch
		written += frames
	}

	e.played.Add(int64(written))
	return written
}

// finish marks p ended and reports it once.
func (e *FFmpegElement) finish(p *decodeProc) {
	if !p.ended.CompareAndSwap(false, true) || p.failed.Load() {
		return
	}

	e.mu.Lock()
	current := e.proc == p
	if current {
		e.paused = true
	}
	e.mu.Unlock()

	if current {
		e.Emit(Event{Type: EventEnded, Locator: p.locator, Attempt: p.attempt})
	}
}

// Close stops decoding. The element cannot be reused.
func (e *FFmpegElement) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stopLocked()
	e.mu.Unlock()

	e.cancel()
	return nil
}

var _ Element = (*FFmpegElement)(nil)
