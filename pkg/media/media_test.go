package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/teslashibe/go-binaural/internal/httpc"
	"github.com/teslashibe/go-binaural/internal/log"
)

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"PT1H2M3.5S", 3723.5, false},
		{"PT4M", 240, false},
		{"PT12.25S", 12.25, false},
		{"PT2H", 7200, false},
		{"PT", 0, false},
		{"PT0H3M59.960S", 239.96, false},
		{"P1D", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseISODuration(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseISODuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDuration) {
					t.Errorf("expected ErrInvalidDuration, got %v", err)
				}
				return
			}
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("ParseISODuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

const manifest = `<?xml version="1.0" encoding="utf-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static"
     mediaPresentationDuration="PT3M12.4S" minBufferTime="PT2S">
  <Period id="0"/>
</MPD>`

func TestManifestDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/track.mpd":
			w.Header().Set("Content-Type", "application/dash+xml")
			fmt.Fprint(w, manifest)
		case "/nodur.mpd":
			fmt.Fprint(w, `<MPD type="dynamic"></MPD>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	got, err := ManifestDuration(context.Background(), nil, srv.URL+"/track.mpd")
	if err != nil {
		t.Fatalf("ManifestDuration failed: %v", err)
	}
	if diff := got - 192.4; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("duration = %v, want 192.4", got)
	}

	if _, err := ManifestDuration(context.Background(), nil, srv.URL+"/nodur.mpd"); !errors.Is(err, ErrNoDuration) {
		t.Errorf("expected ErrNoDuration, got %v", err)
	}

	var se *httpc.StatusError
	if _, err := ManifestDuration(context.Background(), nil, srv.URL+"/gone.mpd"); !errors.As(err, &se) {
		t.Errorf("expected StatusError, got %v", err)
	}
}

func TestIsManifest(t *testing.T) {
	tests := map[string]bool{
		"https://cdn.example.com/a/track.mpd":         true,
		"https://cdn.example.com/a/TRACK.MPD?token=1": true,
		"file:///music/track.wav":                     false,
		"https://cdn.example.com/mpd/track.mp4":       false,
	}
	for in, want := range tests {
		if got := IsManifest(in); got != want {
			t.Errorf("IsManifest(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestEmitter_SubscribeUnsubscribe(t *testing.T) {
	var em Emitter
	ch1, cancel1 := em.Subscribe()
	ch2, cancel2 := em.Subscribe()

	em.Emit(Event{Type: EventCanPlay})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != EventCanPlay {
				t.Errorf("subscriber %d got %v", i, ev.Type)
			}
		default:
			t.Errorf("subscriber %d got nothing", i)
		}
	}

	cancel1()
	cancel1()
	if n := em.Subscribers(); n != 1 {
		t.Errorf("Subscribers() = %d, want 1", n)
	}
	cancel2()
	if n := em.Subscribers(); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
}

func TestEmitter_NeverBlocks(t *testing.T) {
	var em Emitter
	_, cancel := em.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*4; i++ {
			em.Emit(Event{Type: EventError})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full subscriber")
	}
}

func TestMockElement(t *testing.T) {
	m := NewMockElement(4)
	if err := m.Play(); !errors.Is(err, ErrNoSource) {
		t.Errorf("Play without source = %v, want ErrNoSource", err)
	}

	m.OnAttach = func(m *MockElement, locator string) {
		m.SetDuration(42)
		m.Emit(Event{Type: EventLoadedMetadata, Locator: locator})
	}
	events, cancel := m.Subscribe()
	defer cancel()

	attempt, err := m.AttachSource(context.Background(), "a.mpd")
	if err != nil {
		t.Fatalf("AttachSource failed: %v", err)
	}
	if ev := <-events; ev.Type != EventLoadedMetadata || ev.Locator != "a.mpd" || ev.Attempt != attempt {
		t.Errorf("event = %+v, want attempt %d", ev, attempt)
	}
	if again, _ := m.AttachSource(context.Background(), "a.mpd"); again <= attempt {
		t.Errorf("reattach attempt = %d, want > %d", again, attempt)
	}
	<-events
	if d, ok := m.Duration(); !ok || d != 42 {
		t.Errorf("Duration() = %v, %v", d, ok)
	}

	dst := [][]float64{make([]float64, 8), make([]float64, 8), make([]float64, 8), make([]float64, 8)}
	if n := m.ReadFrames(dst, 8); n != 0 {
		t.Errorf("paused ReadFrames = %d, want 0", n)
	}
	m.SetValue(0.5)
	if err := m.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if n := m.ReadFrames(dst, 8); n != 8 || dst[0][7] != 0.5 {
		t.Errorf("ReadFrames = %d, dst[0][7] = %v", n, dst[0][7])
	}
}

// fakeFFmpeg writes a shell script standing in for ffmpeg.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script decoder stand-in needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func newTestElement(t *testing.T, binary string) *FFmpegElement {
	t.Helper()
	cfg := DefaultFFmpegConfig()
	cfg.Binary = binary
	cfg.Channels = 4
	cfg.ChunkFrames = 256
	e, err := NewFFmpegElement(cfg, WithLogger(log.Discard()))
	if err != nil {
		t.Fatalf("NewFFmpegElement failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func waitEvent(t *testing.T, events <-chan Event, want EventType) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return ev
			}
			if ev.Type == EventError && want != EventError {
				t.Fatalf("unexpected error event: %v", ev.Err)
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v", want)
		}
	}
}

func TestFFmpegElement_PlaysToEnd(t *testing.T) {
	// 1024 frames of 4 float32 zeros.
	e := newTestElement(t, fakeFFmpeg(t, "head -c 16384 /dev/zero"))
	events, cancel := e.Subscribe()
	defer cancel()

	attempt, err := e.AttachSource(context.Background(), "file:///music/track.wav")
	if err != nil {
		t.Fatalf("AttachSource failed: %v", err)
	}
	if ev := waitEvent(t, events, EventLoadedMetadata); ev.Attempt != attempt {
		t.Errorf("metadata attempt = %d, want %d", ev.Attempt, attempt)
	}
	if ev := waitEvent(t, events, EventCanPlay); ev.Attempt != attempt {
		t.Errorf("canplay attempt = %d, want %d", ev.Attempt, attempt)
	}

	if _, known := e.Duration(); known {
		t.Error("duration should be unknown without a manifest")
	}
	if err := e.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	dst := make([][]float64, 4)
	for ch := range dst {
		dst[ch] = make([]float64, 128)
	}

	total := 0
	deadline := time.Now().Add(5 * time.Second)
	for !e.Paused() {
		if time.Now().After(deadline) {
			t.Fatal("element never ended")
		}
		n := e.ReadFrames(dst, 128)
		total += n
		if n == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	waitEvent(t, events, EventEnded)
	if total != 1024 {
		t.Errorf("read %d frames, want 1024", total)
	}
	if pos := e.Position(); pos < 1024.0/48000-1e-9 || pos > 1024.0/48000+1e-9 {
		t.Errorf("Position() = %v, want %v", pos, 1024.0/48000)
	}
}

func TestFFmpegElement_DecoderFailure(t *testing.T) {
	e := newTestElement(t, fakeFFmpeg(t, "echo 'no such stream' >&2; exit 1"))
	events, cancel := e.Subscribe()
	defer cancel()

	if _, err := e.AttachSource(context.Background(), "file:///missing.wav"); err != nil {
		t.Fatalf("AttachSource failed: %v", err)
	}

	ev := waitEvent(t, events, EventError)
	if ev.Err == nil || ev.Locator != "file:///missing.wav" {
		t.Errorf("error event = %+v", ev)
	}
}

func TestFFmpegElement_ManifestDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, manifest)
	}))
	defer srv.Close()

	e := newTestElement(t, fakeFFmpeg(t, "head -c 1600 /dev/zero"))
	events, cancel := e.Subscribe()
	defer cancel()

	if _, err := e.AttachSource(context.Background(), srv.URL+"/track.mpd"); err != nil {
		t.Fatalf("AttachSource failed: %v", err)
	}
	waitEvent(t, events, EventLoadedMetadata)

	d, known := e.Duration()
	if !known || d < 192.4-1e-9 || d > 192.4+1e-9 {
		t.Errorf("Duration() = %v, %v, want 192.4", d, known)
	}
}

func TestFFmpegElement_Closed(t *testing.T) {
	e := newTestElement(t, "ffmpeg")
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := e.AttachSource(context.Background(), "x.wav"); !errors.Is(err, ErrClosed) {
		t.Errorf("AttachSource after Close = %v, want ErrClosed", err)
	}
}
