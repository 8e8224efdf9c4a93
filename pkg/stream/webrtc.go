// Package stream sends the rendered binaural mix to one remote listener over
// WebRTC. Blocks from the render loop are regrouped into 20 ms frames,
// Opus-encoded and written as RTP. A new offer replaces the current peer.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"gopkg.in/hraban/opus.v2"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("stream: closed")

	// ErrInvalidOffer is returned for offers that are not SDP offers.
	ErrInvalidOffer = errors.New("stream: invalid offer")
)

// Config holds the encoder and transport settings.
type Config struct {
	SampleRate    int           `json:"sample_rate"`
	FrameDuration time.Duration `json:"frame_duration"`
	Bitrate       int           `json:"bitrate"`
	// QueueFrames bounds encoded-but-unsent audio; older frames are dropped
	// when the listener falls behind.
	QueueFrames int      `json:"queue_frames"`
	ICEServers  []string `json:"ice_servers"`
}

// DefaultConfig returns 48 kHz stereo Opus at 128 kbit/s in 20 ms frames.
func DefaultConfig() Config {
	return Config{
		SampleRate:    48000,
		FrameDuration: 20 * time.Millisecond,
		Bitrate:       128000,
		QueueFrames:   50,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch c.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("stream: opus does not support %d Hz", c.SampleRate)
	}
	switch c.FrameDuration {
	case 10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond:
	default:
		return fmt.Errorf("stream: unsupported frame duration %v", c.FrameDuration)
	}
	if c.Bitrate <= 0 {
		return fmt.Errorf("stream: bitrate must be positive, got %d", c.Bitrate)
	}
	if c.QueueFrames <= 0 {
		return fmt.Errorf("stream: queue_frames must be positive, got %d", c.QueueFrames)
	}
	return nil
}

// FrameSize returns samples per channel in one frame.
func (c Config) FrameSize() int {
	return int(int64(c.SampleRate) * int64(c.FrameDuration) / int64(time.Second))
}

// Stats reports transport counters.
type Stats struct {
	PeerID  string `json:"peer_id,omitempty"`
	State   string `json:"state"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// Option configures an Output.
type Option func(*Output)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Output) { o.logger = logger }
}

type peer struct {
	id    string
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticRTP
	state atomic.Value // webrtc.PeerConnectionState
}

// Output is the WebRTC listener output. WriteBlock is called from the
// render loop; everything else may be called from any goroutine.
type Output struct {
	cfg    Config
	logger *slog.Logger

	framer *Framer // render goroutine only
	frames chan []int16
	pool   sync.Pool

	mu     sync.Mutex
	peer   *peer
	closed bool

	active  atomic.Bool
	sent    atomic.Uint64
	dropped atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an output and starts its sender.
func New(cfg Config, opts ...Option) (*Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	enc, err := opus.NewEncoder(cfg.SampleRate, 2, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("stream: opus encoder: %w", err)
	}
	if err := enc.SetBitrate(cfg.Bitrate); err != nil {
		return nil, fmt.Errorf("stream: opus bitrate: %w", err)
	}

	o := &Output{
		cfg:    cfg,
		logger: slog.Default(),
		framer: NewFramer(cfg.FrameSize()),
		frames: make(chan []int16, cfg.QueueFrames),
		done:   make(chan struct{}),
	}
	size := 2 * cfg.FrameSize()
	o.pool.New = func() any { return make([]int16, size) }
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "stream")

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	go o.send(ctx, enc)
	return o, nil
}

// WriteBlock queues one rendered block. It never blocks: without a peer the
// block is ignored, and a full queue drops the frame.
func (o *Output) WriteBlock(left, right []float64) {
	if !o.active.Load() {
		o.framer.Reset()
		return
	}
	o.framer.Push(left, right, func(frame []int16) {
		buf := o.pool.Get().([]int16)
		copy(buf, frame)
		select {
		case o.frames <- buf:
		default:
			o.pool.Put(buf)
			o.dropped.Add(1)
		}
	})
}

func (o *Output) send(ctx context.Context, enc *opus.Encoder) {
	defer close(o.done)

	packet := make([]byte, 4000)
	seq := uint16(rand.Uint32())
	ts := rand.Uint32()
	step := uint32(o.cfg.FrameSize())

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-o.frames:
			p := o.current()
			if p == nil {
				o.pool.Put(frame)
				continue
			}

			n, err := enc.Encode(frame, packet)
			o.pool.Put(frame)
			if err != nil {
				o.logger.Warn("opus encode failed", "error", err)
				continue
			}

			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					Marker:         false,
					SequenceNumber: seq,
					Timestamp:      ts,
				},
				Payload: packet[:n],
			}
			seq++
			ts += step

			if err := p.track.WriteRTP(pkt); err != nil {
				o.dropped.Add(1)
				continue
			}
			o.sent.Add(1)
		}
	}
}

func (o *Output) current() *peer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.peer
}

// Offer answers a browser's SDP offer, replacing any current listener.
// It returns the answer after ICE gathering completes.
func (o *Output) Offer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, string, error) {
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, "", ErrInvalidOffer
	}

	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return nil, "", ErrClosed
	}

	var ice []webrtc.ICEServer
	if len(o.cfg.ICEServers) > 0 {
		ice = []webrtc.ICEServer{{URLs: o.cfg.ICEServers}}
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: ice})
	if err != nil {
		return nil, "", fmt.Errorf("stream: peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: uint32(o.cfg.SampleRate), Channels: 2},
		"audio",
		"binaural",
	)
	if err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("stream: track: %w", err)
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("stream: add track: %w", err)
	}
	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	if err := pc.SetRemoteDescription(offer); err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("stream: create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("stream: set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		_ = pc.Close()
		return nil, "", ctx.Err()
	}

	p := &peer{id: uuid.NewString(), pc: pc, track: track}
	p.state.Store(webrtc.PeerConnectionStateNew)
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.state.Store(s)
		o.logger.Info("peer state", "peer", p.id, "state", s.String())
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			o.drop(p)
		}
	})

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		_ = pc.Close()
		return nil, "", ErrClosed
	}
	old := o.peer
	o.peer = p
	o.active.Store(true)
	o.mu.Unlock()

	if old != nil {
		o.logger.Info("replacing listener", "old", old.id, "new", p.id)
		_ = old.pc.Close()
	}

	return pc.LocalDescription(), p.id, nil
}

// drop forgets p if it is still the current peer.
func (o *Output) drop(p *peer) {
	o.mu.Lock()
	if o.peer != p {
		o.mu.Unlock()
		return
	}
	o.peer = nil
	o.active.Store(false)
	o.mu.Unlock()

	// Called from pion's state callback, which Close would wait on.
	go func() { _ = p.pc.Close() }()
}

// Disconnect closes the current listener, if any.
func (o *Output) Disconnect() {
	if p := o.current(); p != nil {
		o.drop(p)
	}
}

// Stats returns transport counters.
func (o *Output) Stats() Stats {
	st := Stats{
		State:   "idle",
		Sent:    o.sent.Load(),
		Dropped: o.dropped.Load(),
	}
	if p := o.current(); p != nil {
		st.PeerID = p.id
		st.State = p.state.Load().(webrtc.PeerConnectionState).String()
	}
	return st
}

// Close disconnects the listener and stops the sender.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	p := o.peer
	o.peer = nil
	o.active.Store(false)
	o.mu.Unlock()

	o.cancel()
	<-o.done

	if p != nil {
		return p.pc.Close()
	}
	return nil
}
