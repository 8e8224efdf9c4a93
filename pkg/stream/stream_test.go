package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-binaural/internal/log"
)

func TestFramer(t *testing.T) {
	f := NewFramer(4)
	var frames [][]int16
	emit := func(frame []int16) {
		frames = append(frames, append([]int16(nil), frame...))
	}

	f.Push([]float64{0.5, -0.5, 1}, []float64{0, 0, 0}, emit)
	if len(frames) != 0 || f.Pending() != 3 {
		t.Fatalf("frames=%d pending=%d after 3 samples", len(frames), f.Pending())
	}

	f.Push([]float64{-1, 0, 0, 0, 0, 0}, []float64{1, 0, 0, 0, 0, 0}, emit)
	if len(frames) != 2 || f.Pending() != 1 {
		t.Fatalf("frames=%d pending=%d after 9 samples", len(frames), f.Pending())
	}

	want := []int16{16384, 0, -16384, 0, 32767, 0, -32767, 32767}
	for i, v := range want {
		if frames[0][i] != v {
			t.Errorf("frame[0][%d] = %d, want %d", i, frames[0][i], v)
		}
	}

	f.Reset()
	if f.Pending() != 0 {
		t.Errorf("Pending() = %d after Reset", f.Pending())
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"44.1k", func(c *Config) { c.SampleRate = 44100 }, true},
		{"15ms frames", func(c *Config) { c.FrameDuration = 15 * time.Millisecond }, true},
		{"zero bitrate", func(c *Config) { c.Bitrate = 0 }, true},
		{"no queue", func(c *Config) { c.QueueFrames = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if got := DefaultConfig().FrameSize(); got != 960 {
		t.Errorf("FrameSize() = %d, want 960", got)
	}
}

func newTestOutput(t *testing.T) *Output {
	t.Helper()
	o, err := New(DefaultConfig(), WithLogger(log.Discard()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestOutput_IdleIgnoresBlocks(t *testing.T) {
	o := newTestOutput(t)
	block := make([]float64, 2048)

	for i := 0; i < 100; i++ {
		o.WriteBlock(block, block)
	}

	st := o.Stats()
	if st.State != "idle" || st.Sent != 0 || st.Dropped != 0 {
		t.Errorf("Stats() = %+v, want idle with no traffic", st)
	}
}

func TestOutput_InvalidOffer(t *testing.T) {
	o := newTestOutput(t)

	_, _, err := o.Offer(context.Background(), webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	if !errors.Is(err, ErrInvalidOffer) {
		t.Errorf("Offer(answer) error = %v, want ErrInvalidOffer", err)
	}
	_, _, err = o.Offer(context.Background(), webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "garbage"})
	if !errors.Is(err, ErrInvalidOffer) {
		t.Errorf("Offer(garbage) error = %v, want ErrInvalidOffer", err)
	}
}

// listener is a receive-only pion peer standing in for the browser.
func newListener(t *testing.T) (*webrtc.PeerConnection, webrtc.SessionDescription, chan struct{}) {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection failed: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		t.Fatalf("AddTransceiverFromKind failed: %v", err)
	}

	got := make(chan struct{}, 1)
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if _, _, err := track.ReadRTP(); err == nil {
			select {
			case got <- struct{}{}:
			default:
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription failed: %v", err)
	}
	<-gathered
	return pc, *pc.LocalDescription(), got
}

func TestOutput_StreamsToListener(t *testing.T) {
	o := newTestOutput(t)
	pc, offer, got := newListener(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	answer, id, err := o.Offer(ctx, offer)
	if err != nil {
		t.Fatalf("Offer() error = %v", err)
	}
	if id == "" || answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("Offer() = %v, %q", answer.Type, id)
	}
	if err := pc.SetRemoteDescription(*answer); err != nil {
		t.Fatalf("SetRemoteDescription failed: %v", err)
	}

	block := make([]float64, 480)
	for i := range block {
		block[i] = 0.1
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-got:
			if o.Stats().PeerID != id {
				t.Errorf("PeerID = %q, want %q", o.Stats().PeerID, id)
			}
			return
		case <-ticker.C:
			o.WriteBlock(block, block)
		case <-ctx.Done():
			t.Fatalf("no RTP reached the listener; stats %+v", o.Stats())
		}
	}
}

func TestOutput_NewOfferReplacesPeer(t *testing.T) {
	o := newTestOutput(t)
	ctx := context.Background()

	_, offer1, _ := newListener(t)
	_, first, err := o.Offer(ctx, offer1)
	if err != nil {
		t.Fatalf("first Offer() error = %v", err)
	}

	_, offer2, _ := newListener(t)
	_, second, err := o.Offer(ctx, offer2)
	if err != nil {
		t.Fatalf("second Offer() error = %v", err)
	}

	if first == second {
		t.Fatal("peer ids should differ")
	}
	if got := o.Stats().PeerID; got != second {
		t.Errorf("PeerID = %q, want the newest peer %q", got, second)
	}

	o.Disconnect()
	if o.Stats().State != "idle" {
		t.Errorf("State = %q after Disconnect, want idle", o.Stats().State)
	}
}

func TestOutput_Close(t *testing.T) {
	o := newTestOutput(t)

	if err := o.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	_, offer, _ := newListener(t)
	if _, _, err := o.Offer(context.Background(), offer); !errors.Is(err, ErrClosed) {
		t.Errorf("Offer() after Close = %v, want ErrClosed", err)
	}
}
