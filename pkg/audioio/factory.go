package audioio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
)

// aplayBinary is the ALSA playback tool the sink pipes raw PCM into.
var aplayBinary = "aplay"

// ParseBackend maps a configuration string to a Backend. Empty means auto.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendAuto, nil
	case BackendAuto, BackendALSA, BackendMock:
		return b, nil
	default:
		return "", fmt.Errorf("audioio: unknown backend %q (want auto, alsa or mock)", s)
	}
}

// NewSink creates the sink for cfg.Backend. Auto picks ALSA when aplay is
// installed and falls back to the mock sink, so the player still runs (and
// can stream over WebRTC) on a headless box.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("audioio: invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBackend()
		if backend == BackendMock {
			logger.Warn("no ALSA playback available, rendering to the mock sink")
		}
	}

	logger.Info("creating audio sink",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"block", cfg.BlockDuration(),
	)

	switch backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	case BackendALSA:
		// Returned through a variable so a failed constructor yields a nil
		// interface, not a typed nil.
		sink, err := newALSASink(cfg, logger)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("audioio: unsupported backend %q", backend)
	}
}

func detectBackend() Backend {
	if runtime.GOOS != "linux" {
		return BackendMock
	}
	if _, err := exec.LookPath(aplayBinary); err != nil {
		return BackendMock
	}
	return BackendALSA
}
