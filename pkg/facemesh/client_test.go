package facemesh

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-binaural/internal/log"
)

// sidecar is a fake landmark server. handle answers each estimate request.
type sidecar struct {
	ready  response
	handle func(req request) []response
	frames chan []byte
}

func (s *sidecar) serve(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		var load request
		if err := ws.ReadJSON(&load); err != nil || load.Type != "load" {
			return
		}
		if err := ws.WriteJSON(s.ready); err != nil {
			return
		}

		for {
			var req request
			if err := ws.ReadJSON(&req); err != nil {
				return
			}
			if s.frames != nil {
				frame, _ := base64.StdEncoding.DecodeString(req.Image)
				s.frames <- frame
			}
			for _, resp := range s.handle(req) {
				if err := ws.WriteJSON(resp); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestLoader(url string, opts ...Option) *Loader {
	return NewLoader(url, append([]Option{WithLogger(log.Discard())}, opts...)...)
}

func TestLoader_EstimateFaces(t *testing.T) {
	s := &sidecar{
		ready:  response{Type: "ready", Model: "face_mesh"},
		frames: make(chan []byte, 1),
		handle: func(req request) []response {
			return []response{
				// A stale answer first; it must be skipped.
				{Type: "faces", ID: req.ID - 1},
				{Type: "faces", ID: req.ID, Faces: []wireFace{{
					Confidence: 0.93,
					Keypoints:  [][3]float64{{1, 2, 3}, {4, 5, 6}},
				}}},
			}
		},
	}
	url := s.serve(t)

	model, err := newTestLoader(url).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer model.Close()

	faces, err := model.EstimateFaces(context.Background(), []byte{0xff, 0xd8})
	if err != nil {
		t.Fatalf("EstimateFaces() error = %v", err)
	}
	if got := <-s.frames; string(got) != "\xff\xd8" {
		t.Errorf("sidecar got frame %x", got)
	}
	if len(faces) != 1 || faces[0].Confidence != 0.93 {
		t.Fatalf("faces = %+v", faces)
	}
	if kp := faces[0].Keypoints; len(kp) != 2 || kp[1].X != 4 || kp[1].Z != 6 {
		t.Errorf("keypoints = %+v", kp)
	}
}

func TestLoader_NoFaces(t *testing.T) {
	s := &sidecar{
		ready: response{Type: "ready"},
		handle: func(req request) []response {
			return []response{{Type: "faces", ID: req.ID}}
		},
	}
	model, err := newTestLoader(s.serve(t)).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer model.Close()

	faces, err := model.EstimateFaces(context.Background(), []byte{1})
	if err != nil || len(faces) != 0 {
		t.Errorf("EstimateFaces() = %v, %v; want no faces", faces, err)
	}
}

func TestLoader_RemoteErrors(t *testing.T) {
	t.Run("load refused", func(t *testing.T) {
		s := &sidecar{ready: response{Type: "error", Message: "no GPU"}}
		_, err := newTestLoader(s.serve(t)).Load(context.Background())
		var re *RemoteError
		if !errors.As(err, &re) || re.Message != "no GPU" {
			t.Errorf("Load() error = %v, want RemoteError", err)
		}
	})

	t.Run("unexpected handshake", func(t *testing.T) {
		s := &sidecar{ready: response{Type: "faces"}}
		_, err := newTestLoader(s.serve(t)).Load(context.Background())
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("Load() error = %v, want ErrProtocol", err)
		}
	})

	t.Run("frame rejected", func(t *testing.T) {
		s := &sidecar{
			ready: response{Type: "ready"},
			handle: func(req request) []response {
				return []response{{Type: "error", ID: req.ID, Message: "bad jpeg"}}
			},
		}
		model, err := newTestLoader(s.serve(t)).Load(context.Background())
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		defer model.Close()

		_, err = model.EstimateFaces(context.Background(), []byte{1})
		var re *RemoteError
		if !errors.As(err, &re) {
			t.Fatalf("EstimateFaces() error = %v, want RemoteError", err)
		}
		// The connection is still usable after a remote error.
		_, err = model.EstimateFaces(context.Background(), []byte{1})
		if !errors.As(err, &re) {
			t.Errorf("second EstimateFaces() error = %v, want RemoteError", err)
		}
	})
}

func TestLoader_Unreachable(t *testing.T) {
	_, err := newTestLoader("ws://127.0.0.1:1/facemesh").Load(context.Background())
	if err == nil {
		t.Fatal("Load() against a closed port should fail")
	}
}

func TestModel_Timeout(t *testing.T) {
	s := &sidecar{
		ready:  response{Type: "ready"},
		handle: func(request) []response { return nil },
	}
	model, err := newTestLoader(s.serve(t), WithRequestTimeout(50*time.Millisecond)).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer model.Close()

	start := time.Now()
	if _, err := model.EstimateFaces(context.Background(), []byte{1}); err == nil {
		t.Fatal("EstimateFaces() should time out")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout not honored")
	}
	if _, err := model.EstimateFaces(context.Background(), []byte{1}); err == nil {
		t.Error("broken connection should keep failing")
	}
}

func TestModel_Close(t *testing.T) {
	s := &sidecar{
		ready:  response{Type: "ready"},
		handle: func(req request) []response { return nil },
	}
	model, err := newTestLoader(s.serve(t)).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := model.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := model.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := model.EstimateFaces(context.Background(), []byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("EstimateFaces() after Close = %v, want ErrClosed", err)
	}
}
