// Package facemesh talks to a face-landmark sidecar over WebSocket.
//
// The sidecar runs a 468-point face mesh model. After connecting, the client
// asks it to load the model and waits for "ready"; each frame is then one
// request/response pair:
//
//	-> {"type":"load","max_faces":1}
//	<- {"type":"ready","model":"face_mesh"}
//	-> {"type":"estimate","id":7,"image":"<base64 jpeg>"}
//	<- {"type":"faces","id":7,"faces":[{"confidence":0.97,"keypoints":[[x,y,z],...]}]}
//
// Failures come back as {"type":"error","id":7,"message":"..."}.
package facemesh

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-binaural/pkg/pose"
)

// Defaults.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultRequestTimeout   = 2 * time.Second
	DefaultMaxFaces         = 1
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("facemesh: closed")

	// ErrProtocol is returned for unexpected sidecar messages.
	ErrProtocol = errors.New("facemesh: protocol error")
)

// RemoteError is an error reported by the sidecar.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "facemesh: sidecar: " + e.Message
}

type request struct {
	Type     string `json:"type"`
	ID       uint64 `json:"id,omitempty"`
	Image    string `json:"image,omitempty"`
	MaxFaces int    `json:"max_faces,omitempty"`
}

type wireFace struct {
	Confidence float64      `json:"confidence"`
	Keypoints  [][3]float64 `json:"keypoints"`
}

type response struct {
	Type    string     `json:"type"`
	ID      uint64     `json:"id"`
	Model   string     `json:"model"`
	Faces   []wireFace `json:"faces"`
	Message string     `json:"message"`
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithRequestTimeout bounds each estimate round trip.
func WithRequestTimeout(d time.Duration) Option {
	return func(l *Loader) { l.requestTimeout = d }
}

// WithMaxFaces sets how many faces the sidecar returns.
func WithMaxFaces(n int) Option {
	return func(l *Loader) { l.maxFaces = n }
}

// Loader connects to the sidecar. It implements pose.ModelLoader.
type Loader struct {
	url            string
	dialer         websocket.Dialer
	requestTimeout time.Duration
	maxFaces       int
	logger         *slog.Logger
}

// NewLoader creates a loader for the sidecar at url (ws:// or wss://).
func NewLoader(url string, opts ...Option) *Loader {
	l := &Loader{
		url:            url,
		dialer:         websocket.Dialer{HandshakeTimeout: DefaultHandshakeTimeout},
		requestTimeout: DefaultRequestTimeout,
		maxFaces:       DefaultMaxFaces,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "facemesh")
	return l
}

// Load dials the sidecar and waits until the model is ready.
func (l *Loader) Load(ctx context.Context) (pose.LandmarkModel, error) {
	ws, _, err := l.dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("facemesh: connect %s: %w", l.url, err)
	}

	m := &Model{ws: ws, timeout: l.requestTimeout, logger: l.logger}

	if err := m.handshake(ctx, l.maxFaces); err != nil {
		_ = ws.Close()
		return nil, err
	}
	l.logger.Info("face mesh model ready", "url", l.url, "model", m.name)
	return m, nil
}

// Model is a connected sidecar. It implements pose.LandmarkModel.
// Requests are serialized; one frame is in flight at a time.
type Model struct {
	ws      *websocket.Conn
	timeout time.Duration
	logger  *slog.Logger
	name    string

	mu     sync.Mutex
	nextID uint64
	closed bool
	broken error
}

func (m *Model) handshake(ctx context.Context, maxFaces int) error {
	deadline := time.Now().Add(DefaultHandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = m.ws.SetWriteDeadline(deadline)
	if err := m.ws.WriteJSON(request{Type: "load", MaxFaces: maxFaces}); err != nil {
		return fmt.Errorf("facemesh: send load: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = m.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	_ = m.ws.SetReadDeadline(deadline)
	var resp response
	if err := m.ws.ReadJSON(&resp); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("facemesh: await ready: %w", err)
	}
	switch resp.Type {
	case "ready":
		m.name = resp.Model
		return nil
	case "error":
		return &RemoteError{Message: resp.Message}
	default:
		return fmt.Errorf("%w: expected ready, got %q", ErrProtocol, resp.Type)
	}
}

// EstimateFaces sends one JPEG frame and returns the faces found in it.
func (m *Model) EstimateFaces(ctx context.Context, frame []byte) ([]pose.Face, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	// A failed read leaves the websocket unusable.
	if m.broken != nil {
		return nil, m.broken
	}

	m.nextID++
	id := m.nextID

	deadline := time.Now().Add(m.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	_ = m.ws.SetWriteDeadline(deadline)
	req := request{Type: "estimate", ID: id, Image: base64.StdEncoding.EncodeToString(frame)}
	if err := m.ws.WriteJSON(req); err != nil {
		m.broken = fmt.Errorf("facemesh: send frame: %w", err)
		return nil, m.broken
	}

	stop := context.AfterFunc(ctx, func() {
		_ = m.ws.SetReadDeadline(time.Now())
	})
	defer stop()
	_ = m.ws.SetReadDeadline(deadline)

	for {
		var resp response
		if err := m.ws.ReadJSON(&resp); err != nil {
			m.broken = fmt.Errorf("facemesh: read faces: %w", err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, m.broken
		}
		if resp.ID != id {
			m.logger.Debug("dropping stale response", "id", resp.ID, "want", id)
			continue
		}
		switch resp.Type {
		case "faces":
			return convertFaces(resp.Faces), nil
		case "error":
			return nil, &RemoteError{Message: resp.Message}
		default:
			return nil, fmt.Errorf("%w: unexpected %q", ErrProtocol, resp.Type)
		}
	}
}

// Close says goodbye and drops the connection.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = m.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return m.ws.Close()
}

func convertFaces(in []wireFace) []pose.Face {
	faces := make([]pose.Face, 0, len(in))
	for _, f := range in {
		kp := make([]pose.Point3, len(f.Keypoints))
		for i, p := range f.Keypoints {
			kp[i] = pose.Point3{X: p[0], Y: p[1], Z: p[2]}
		}
		faces = append(faces, pose.Face{Keypoints: kp, Confidence: f.Confidence})
	}
	return faces
}

var (
	_ pose.ModelLoader   = (*Loader)(nil)
	_ pose.LandmarkModel = (*Model)(nil)
)
