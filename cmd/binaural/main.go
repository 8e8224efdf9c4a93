// binaural plays head-tracked ambisonic tracks over headphones.
//
// A camera watches the listener's face; the estimated head orientation
// rotates the sound field so sources stay put when the head turns. The
// player is driven over HTTP (see pkg/web) and can stream the binaural mix
// to a browser over WebRTC.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-binaural/internal/config"
	"github.com/teslashibe/go-binaural/internal/log"
)

func main() {
	cfg := parseFlags()

	log.Init(cfg.LogLevel)
	logger := log.L()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runErr := app.Run(ctx)
	if err := app.Shutdown(); err != nil {
		logger.Error("shutdown", "error", err)
	}
	if runErr != nil {
		logger.Error("server stopped", "error", runErr)
		os.Exit(1)
	}
}

// parseFlags loads the environment configuration and applies flag
// overrides.
func parseFlags() config.Config {
	cfg := config.Load()

	flag.StringVar(&cfg.TracksFile, "tracks", cfg.TracksFile, "TOML track list")
	flag.StringVar(&cfg.FilterBaseURL, "filters", cfg.FilterBaseURL, "base URL of the decoding filter sets")
	flag.IntVar(&cfg.Order, "order", cfg.Order, "ambisonic order of the tracks")
	flag.StringVar(&cfg.ReverbURL, "reverb", cfg.ReverbURL, "impulse response to start with (empty for none)")
	flag.StringVar(&cfg.Port, "port", cfg.Port, "control API port")
	flag.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "directory served under /assets")
	flag.IntVar(&cfg.CameraDevice, "camera", cfg.CameraDevice, "camera index (/dev/videoN), -1 to disable head tracking")
	flag.StringVar(&cfg.FacemeshURL, "facemesh", cfg.FacemeshURL, "face mesh sidecar websocket URL")
	flag.StringVar(&cfg.SinkBackend, "sink", cfg.SinkBackend, "audio output: auto, alsa or mock")
	flag.StringVar(&cfg.AudioDevice, "device", cfg.AudioDevice, "ALSA device")
	flag.BoolVar(&cfg.WebRTC, "webrtc", cfg.WebRTC, "stream the mix to a browser over WebRTC")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		cfg.LogLevel = "debug"
	}
	return cfg
}
