//go:build linux

package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
)

// ALSASink plays audio using Linux ALSA through an aplay subprocess.
type ALSASink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser

	// Stats
	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	underruns      atomic.Int64

	device string
}

// newALSASink creates a new ALSA audio sink.
func newALSASink(cfg Config, logger *slog.Logger) (*ALSASink, error) {
	if _, err := exec.LookPath(aplayBinary); err != nil {
		return nil, fmt.Errorf("alsa sink: %w", err)
	}

	device := cfg.Device
	if device == "" {
		device = "default"
	}

	s := &ALSASink{
		cfg:    cfg,
		logger: logger,
		device: device,
	}

	logger.Info("ALSA sink created",
		"device", device,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)

	return s, nil
}

// Start begins audio playback.
func (s *ALSASink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	if err := s.spawnLocked(); err != nil {
		return err
	}
	s.running = true
	s.logger.Info("ALSA audio sink started", "device", s.device)

	return nil
}

// spawnLocked starts aplay reading raw interleaved S16_LE from stdin.
func (s *ALSASink) spawnLocked() error {
	// Four blocks of device buffer keeps latency low without underruns.
	bufferUS := 4 * s.cfg.BlockDuration().Microseconds()

	cmd := exec.Command(aplayBinary,
		"-q",
		"-D", s.device,
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
		"-B", strconv.FormatInt(bufferUS, 10),
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("alsa sink: stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("alsa sink: start aplay: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	return nil
}

// killLocked ends the aplay process, discarding whatever it buffered.
func (s *ALSASink) killLocked() {
	if s.cmd == nil {
		return
	}
	_ = s.stdin.Close()
	_ = s.cmd.Process.Kill()
	_ = s.cmd.Wait()
	s.cmd = nil
	s.stdin = nil
}

// Stop halts audio playback.
func (s *ALSASink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.killLocked()
	s.running = false
	s.logger.Info("ALSA audio sink stopped")

	return nil
}

// Write sends audio to the output device.
func (s *ALSASink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if !s.running {
		return fmt.Errorf("sink not running")
	}
	if chunk.Channels != s.cfg.Channels || chunk.SampleRate != s.cfg.SampleRate {
		return fmt.Errorf("alsa sink: chunk format %dHz/%dch, want %dHz/%dch",
			chunk.SampleRate, chunk.Channels, s.cfg.SampleRate, s.cfg.Channels)
	}

	if _, err := s.stdin.Write(chunk.Bytes()); err != nil {
		s.underruns.Add(1)
		return fmt.Errorf("alsa sink: write: %w", err)
	}
	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))

	return nil
}

// Flush waits for buffered audio to play. aplay drains its device buffer
// continuously, so there is nothing to wait for on this side of the pipe.
func (s *ALSASink) Flush(ctx context.Context) error {
	return ctx.Err()
}

// Clear discards buffered audio by restarting aplay.
func (s *ALSASink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.killLocked()
	if err := s.spawnLocked(); err != nil {
		s.running = false
		return err
	}
	s.logger.Debug("ALSA sink cleared")
	return nil
}

// Config returns the audio configuration.
func (s *ALSASink) Config() Config {
	return s.cfg
}

// Name returns "alsa".
func (s *ALSASink) Name() string {
	return "alsa"
}

// Close releases resources.
func (s *ALSASink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.Stop()
}

// Stats returns sink statistics.
func (s *ALSASink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SinkStats{
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Underruns:      s.underruns.Load(),
		Running:        running,
		Backend:        "alsa",
	}
}

var _ Sink = (*ALSASink)(nil)
