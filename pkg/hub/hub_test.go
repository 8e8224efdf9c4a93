package hub

import (
	"context"
	"testing"
	"time"

	"github.com/teslashibe/go-binaural/internal/log"
)

func startHub(t *testing.T, opts ...Option) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", append([]Option{WithLogger(log.Discard())}, opts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func newTestClient(h *Hub, queue int) *Client {
	return &Client{hub: h, send: make(chan Message, queue)}
}

func receive(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		return msg, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}, false
	}
}

func waitClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", h.ClientCount(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHub_Broadcast(t *testing.T) {
	h, _ := startHub(t)
	a, b := newTestClient(h, 4), newTestClient(h, 4)
	h.join(a)
	h.join(b)

	waitClients(t, h, 2)

	if err := h.BroadcastJSON(map[string]float64{"yaw": 12.5}); err != nil {
		t.Fatalf("BroadcastJSON() error = %v", err)
	}
	for _, c := range []*Client{a, b} {
		msg, ok := receive(t, c)
		if !ok || msg.Type != JSONMessage || string(msg.Data) != `{"yaw":12.5}` {
			t.Errorf("got %v %q, want the yaw message", ok, msg.Data)
		}
	}

	h.BroadcastBinary([]byte{0xff, 0xd8})
	if msg, _ := receive(t, a); msg.Type != BinaryMessage {
		t.Errorf("Type = %v, want BinaryMessage", msg.Type)
	}
}

func TestHub_Leave(t *testing.T) {
	h, _ := startHub(t)
	c := newTestClient(h, 1)
	h.join(c)
	h.leave(c)

	if _, ok := receive(t, c); ok {
		t.Error("send queue should be closed after leave")
	}
	if got := h.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	h, _ := startHub(t)
	slow, fast := newTestClient(h, 1), newTestClient(h, 8)
	h.join(slow)
	h.join(fast)

	for i := 0; i < 3; i++ {
		h.Broadcast(NewJSONMessage([]byte(`{}`)))
		receive(t, fast)
	}

	if got := h.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want the slow client dropped", got)
	}
	receive(t, slow)
	if _, ok := receive(t, slow); ok {
		t.Error("slow client queue should be closed")
	}
}

func TestHub_Replay(t *testing.T) {
	h, _ := startHub(t, WithReplay())
	first := newTestClient(h, 4)
	h.join(first)

	h.Broadcast(NewJSONMessage([]byte(`{"state":"playing"}`)))
	receive(t, first)

	late := newTestClient(h, 4)
	h.join(late)
	msg, ok := receive(t, late)
	if !ok || string(msg.Data) != `{"state":"playing"}` {
		t.Errorf("late client got %q, want the last status", msg.Data)
	}
}

func TestHub_Stop(t *testing.T) {
	h, cancel := startHub(t)
	c := newTestClient(h, 1)
	h.join(c)

	cancel()
	if _, ok := receive(t, c); ok {
		t.Error("send queue should be closed when the hub stops")
	}
	if h.IsRunning() {
		t.Error("IsRunning() = true after stop")
	}
	if h.join(newTestClient(h, 1)) {
		t.Error("join should fail on a stopped hub")
	}
}
