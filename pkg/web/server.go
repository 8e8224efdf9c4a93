// Package web serves the player's control API and its live websocket feeds.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-binaural/pkg/camera"
	"github.com/teslashibe/go-binaural/pkg/graph"
	"github.com/teslashibe/go-binaural/pkg/hub"
	"github.com/teslashibe/go-binaural/pkg/orientation"
	"github.com/teslashibe/go-binaural/pkg/player"
	"github.com/teslashibe/go-binaural/pkg/pose"
	"github.com/teslashibe/go-binaural/pkg/stream"
)

// Feed intervals.
const (
	DefaultStatusInterval      = 250 * time.Millisecond
	DefaultOrientationInterval = 50 * time.Millisecond
)

// Controller is the part of the player the API drives. *player.Engine
// implements it.
type Controller interface {
	Status() player.Status
	Tracks() []player.Track
	Play(ctx context.Context) error
	Pause()
	TogglePlayback(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	SelectTrack(ctx context.Context, index int) error
	Seek(seconds float64) error
	SetReverb(ctx context.Context, locator string) error
	EnableTracking(ctx context.Context) error
	DisableTracking() error
	ResetOrientation()
}

// Listener is the remote listener output. *stream.Output implements it.
type Listener interface {
	Offer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, string, error)
	Disconnect()
	Stats() stream.Stats
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithCameraManager exposes camera settings under /api/camera.
func WithCameraManager(m *camera.Manager) Option {
	return func(s *Server) { s.cameras = m }
}

// WithListener exposes the WebRTC output under /api/stream.
func WithListener(l Listener) Option {
	return func(s *Server) { s.listener = l }
}

// WithAssets serves dir under /assets (decoding filters, impulses).
func WithAssets(dir string) Option {
	return func(s *Server) { s.assets = dir }
}

// WithIntervals overrides how often the status and orientation feeds
// publish.
func WithIntervals(status, orientation time.Duration) Option {
	return func(s *Server) {
		s.statusInterval = status
		s.orientationInterval = orientation
	}
}

// Server is the control API.
type Server struct {
	app    *fiber.App
	addr   string
	ctrl   Controller
	logger *slog.Logger

	cameras  *camera.Manager
	listener Listener
	assets   string

	statusInterval      time.Duration
	orientationInterval time.Duration

	statusHub      *hub.Hub
	orientationHub *hub.Hub
	previewHub     *hub.Hub
}

// NewServer creates the server for ctrl listening on addr (":8090").
func NewServer(addr string, ctrl Controller, opts ...Option) *Server {
	s := &Server{
		addr:                addr,
		ctrl:                ctrl,
		logger:              slog.Default(),
		statusInterval:      DefaultStatusInterval,
		orientationInterval: DefaultOrientationInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web")

	hubLogger := hub.WithLogger(s.logger)
	s.statusHub = hub.New("status", hubLogger, hub.WithReplay())
	s.orientationHub = hub.New("orientation", hubLogger)
	s.previewHub = hub.New("preview", hubLogger)

	app := fiber.New(fiber.Config{
		AppName:               "binaural",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(cors.New())

	if s.assets != "" {
		app.Static("/assets", s.assets)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/tracks", s.handleTracks)
	api.Post("/tracks/:index", s.handleSelectTrack)
	api.Post("/play", s.handlePlay)
	api.Post("/pause", s.handlePause)
	api.Post("/toggle", s.handleToggle)
	api.Post("/next", s.handleNext)
	api.Post("/previous", s.handlePrevious)
	api.Post("/seek", s.handleSeek)
	api.Put("/reverb", s.handleSetReverb)
	api.Post("/tracking/enable", s.handleEnableTracking)
	api.Post("/tracking/disable", s.handleDisableTracking)
	api.Post("/orientation/reset", s.handleResetOrientation)

	if s.cameras != nil {
		api.Get("/camera", s.handleGetCamera)
		api.Put("/camera", s.handleUpdateCamera)
	}
	if s.listener != nil {
		api.Get("/stream", s.handleStreamStats)
		api.Post("/stream/offer", s.handleOffer)
		api.Delete("/stream", s.handleDisconnect)
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.serveHub(s.statusHub)))
	app.Get("/ws/orientation", websocket.New(s.serveHub(s.orientationHub)))
	app.Get("/ws/preview", websocket.New(s.serveHub(s.previewHub)))

	s.app = app
	return s
}

// App returns the fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the hubs and feeds and serves on ln until ctx is done, then
// shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, h := range []*hub.Hub{s.statusHub, s.orientationHub, s.previewHub} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Run(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.publish(ctx)
	}()

	errc := make(chan error, 1)
	go func() { errc <- s.app.Listener(ln) }()
	s.logger.Info("control API listening", "addr", ln.Addr().String())

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		err = s.app.ShutdownWithContext(shutdownCtx)
		stop()
	}
	cancel()
	wg.Wait()
	return err
}

func (s *Server) serveHub(h *hub.Hub) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		hub.NewClient(h, conn).Run()
	}
}

type orientationFrame struct {
	Raw      orientation.Orientation `json:"raw"`
	Smoothed orientation.Orientation `json:"smoothed"`
}

// publish pushes status on change and orientation while tracking runs.
func (s *Server) publish(ctx context.Context) {
	statusTick := time.NewTicker(s.statusInterval)
	defer statusTick.Stop()
	orientTick := time.NewTicker(s.orientationInterval)
	defer orientTick.Stop()

	var last []byte
	for {
		select {
		case <-ctx.Done():
			return

		case <-statusTick.C:
			data, err := json.Marshal(s.ctrl.Status())
			if err != nil {
				s.logger.Warn("encode status failed", "error", err)
				continue
			}
			if string(data) == string(last) {
				continue
			}
			last = data
			s.statusHub.Broadcast(hub.NewJSONMessage(data))

		case <-orientTick.C:
			if s.orientationHub.ClientCount() == 0 {
				continue
			}
			st := s.ctrl.Status()
			if st.Tracking != pose.StateEnabled.String() {
				continue
			}
			_ = s.orientationHub.BroadcastJSON(orientationFrame{Raw: st.Orientation, Smoothed: st.Smoothed})
		}
	}
}

// Preview returns a frame sink that mirrors tracking frames to
// /ws/preview.
func (s *Server) Preview() pose.FrameSink {
	return preview{h: s.previewHub}
}

type preview struct{ h *hub.Hub }

func (p preview) ShowFrame(jpeg []byte) {
	p.h.BroadcastBinary(jpeg)
}

func (p preview) Clear() {
	_ = p.h.BroadcastJSON(fiber.Map{"type": "clear"})
}

// handleError renders every error as {"error": ...}.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code, body := classify(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(body)
}

// ErrorBody is the JSON error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func classify(err error) (int, ErrorBody) {
	body := ErrorBody{Error: err.Error()}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, body
	}

	var acq *pose.AcquisitionError
	var unsupported *pose.UnsupportedError
	var load *player.StreamLoadError
	var reverb *graph.ReverbLoadError
	switch {
	case errors.As(err, &acq):
		body.Reason = string(acq.Reason)
		body.Message = acq.Message()
		return fiber.StatusConflict, body
	case errors.As(err, &unsupported):
		body.Reason = "unsupported"
		body.Message = "Head tracking is not available on this machine."
		return fiber.StatusNotImplemented, body
	case errors.Is(err, pose.ErrBusy), errors.Is(err, graph.ErrReverbSuperseded),
		errors.Is(err, player.ErrTrackingInterrupted):
		return fiber.StatusConflict, body
	case errors.Is(err, player.ErrTrackIndex):
		return fiber.StatusNotFound, body
	case errors.Is(err, player.ErrDisposed), errors.Is(err, stream.ErrClosed):
		return fiber.StatusServiceUnavailable, body
	case errors.Is(err, stream.ErrInvalidOffer):
		return fiber.StatusBadRequest, body
	case errors.As(err, &load):
		body.Reason = load.Kind.String()
		return fiber.StatusBadGateway, body
	case errors.As(err, &reverb):
		body.Reason = "reverb"
		return fiber.StatusBadGateway, body
	}
	return fiber.StatusInternalServerError, body
}
