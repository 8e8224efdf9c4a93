package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/teslashibe/go-binaural/internal/config"
	"github.com/teslashibe/go-binaural/internal/httpc"
	"github.com/teslashibe/go-binaural/pkg/ambisonic"
	"github.com/teslashibe/go-binaural/pkg/audioio"
	"github.com/teslashibe/go-binaural/pkg/camera"
	"github.com/teslashibe/go-binaural/pkg/facemesh"
	"github.com/teslashibe/go-binaural/pkg/graph"
	"github.com/teslashibe/go-binaural/pkg/media"
	"github.com/teslashibe/go-binaural/pkg/player"
	"github.com/teslashibe/go-binaural/pkg/pose"
	"github.com/teslashibe/go-binaural/pkg/stream"
	"github.com/teslashibe/go-binaural/pkg/web"
)

// App owns every long-lived component of the daemon.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	engine  *player.Engine
	output  *stream.Output
	capture *camera.Capture
	server  *web.Server
}

// NewApp builds the component graph. Nothing runs until Run.
func NewApp(cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	entries, err := config.LoadTracks(cfg.TracksFile)
	if err != nil {
		return nil, err
	}
	tracks := make([]player.Track, len(entries))
	for i, e := range entries {
		tracks[i] = player.Track{Title: e.Title, Locator: e.Locator}
	}

	gcfg := graph.DefaultConfig()
	gcfg.Order = cfg.Order
	gcfg.SampleRate = cfg.SampleRate
	gcfg.BlockSize = cfg.BlockSize
	gcfg.FilterBaseURL = cfg.FilterBaseURL
	g, err := graph.New(gcfg, graph.WithLogger(logger), graph.WithHTTPClient(httpc.Client))
	if err != nil {
		return nil, err
	}

	mcfg := media.DefaultFFmpegConfig()
	mcfg.Channels = ambisonic.ChannelCount(cfg.Order)
	mcfg.SampleRate = cfg.SampleRate
	element, err := media.NewFFmpegElement(mcfg, media.WithLogger(logger), media.WithHTTPClient(httpc.Client))
	if err != nil {
		return nil, errors.Join(err, g.Close())
	}

	backend, err := audioio.ParseBackend(cfg.SinkBackend)
	if err != nil {
		return nil, errors.Join(err, element.Close(), g.Close())
	}
	acfg := audioio.DefaultConfig()
	acfg.Backend = backend
	acfg.SampleRate = cfg.SampleRate
	acfg.BlockFrames = cfg.BlockSize
	acfg.Device = cfg.AudioDevice
	sink, err := audioio.NewSink(acfg, logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("audio output: %w", err), element.Close(), g.Close())
	}
	audio := audioio.NewContext(sink, logger)

	// The preview needs the server, which needs the engine, which needs
	// the tracker; relay closes the loop.
	relay := &previewRelay{}
	opts := []player.Option{
		player.WithLogger(logger),
		player.WithLoadTimeout(cfg.LoadTimeout),
		player.WithHTTPClient(httpc.Client),
	}
	var cameras *camera.Manager
	if cfg.CameraDevice >= 0 {
		ccfg := camera.DefaultConfig()
		ccfg.Device = cfg.CameraDevice
		cameras = camera.NewManager(ccfg)
		a.capture = camera.New(cameras, camera.WithLogger(logger))
		loader := facemesh.NewLoader(cfg.FacemeshURL, facemesh.WithLogger(logger))
		estimator := pose.New(pose.DefaultConfig(), a.capture, loader,
			pose.WithLogger(logger), pose.WithFrameSink(relay))
		opts = append(opts, player.WithTracker(estimator))
	} else {
		logger.Info("head tracking disabled by configuration")
	}

	a.engine, err = player.NewEngine(g, element, audio, tracks, opts...)
	if err != nil {
		return nil, errors.Join(err, element.Close(), audio.Close(), g.Close())
	}

	sopts := []web.Option{web.WithLogger(logger), web.WithAssets(cfg.AssetsDir)}
	if cameras != nil {
		sopts = append(sopts, web.WithCameraManager(cameras))
	}
	if cfg.WebRTC {
		scfg := stream.DefaultConfig()
		scfg.SampleRate = cfg.SampleRate
		a.output, err = stream.New(scfg, stream.WithLogger(logger))
		if err != nil {
			return nil, errors.Join(err, a.engine.Dispose())
		}
		a.engine.SetTap(a.output)
		sopts = append(sopts, web.WithListener(a.output))
	}

	a.server = web.NewServer(":"+cfg.Port, a.engine, sopts...)
	relay.target = a.server.Preview()
	return a, nil
}

// Run serves the control API and loads the first track. It returns when ctx
// is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	// Bind before Init: the decoding filters may be served from /assets.
	ln, err := net.Listen("tcp", ":"+a.cfg.Port)
	if err != nil {
		return err
	}

	served := make(chan error, 1)
	go func() { served <- a.server.Serve(ctx, ln) }()

	if err := a.engine.Init(ctx); err != nil {
		a.logger.Warn("first track failed to load", "error", err)
	}
	if a.cfg.ReverbURL != "" {
		if err := a.engine.SetReverb(ctx, a.cfg.ReverbURL); err != nil {
			a.logger.Warn("initial reverb failed", "url", a.cfg.ReverbURL, "error", err)
		}
	}

	return <-served
}

// Shutdown releases everything NewApp built.
func (a *App) Shutdown() error {
	var errs []error
	errs = append(errs, a.engine.Dispose())
	if a.output != nil {
		errs = append(errs, a.output.Close())
	}
	if a.capture != nil {
		errs = append(errs, a.capture.Close())
	}
	return errors.Join(errs...)
}

type previewRelay struct {
	target pose.FrameSink
}

func (p *previewRelay) ShowFrame(jpeg []byte) {
	if p.target != nil {
		p.target.ShowFrame(jpeg)
	}
}

func (p *previewRelay) Clear() {
	if p.target != nil {
		p.target.Clear()
	}
}
