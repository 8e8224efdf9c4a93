package media

import (
	"context"
	"sync"
)

// MockElement is an in-memory Element for tests. It never emits on its own;
// use OnAttach or Emit to script outcomes. Emit stamps events that carry no
// attempt with the current one.
type MockElement struct {
	Emitter

	// OnAttach runs inside AttachSource after the locator is recorded.
	OnAttach func(m *MockElement, locator string)
	// AttachErr is returned by AttachSource when set.
	AttachErr error

	mu            sync.Mutex
	channels      int
	value         float64
	attached      []string
	attempt       uint64
	plays         int
	paused        bool
	position      float64
	duration      float64
	durationKnown bool
	closed        bool
}

// NewMockElement creates a paused mock delivering channels channels.
func NewMockElement(channels int) *MockElement {
	return &MockElement{channels: channels, paused: true}
}

// AttachSource implements Element.
func (m *MockElement) AttachSource(ctx context.Context, locator string) (uint64, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	if m.AttachErr != nil {
		err := m.AttachErr
		m.mu.Unlock()
		return 0, err
	}
	m.attempt++
	attempt := m.attempt
	m.attached = append(m.attached, locator)
	m.position = 0
	m.durationKnown = false
	hook := m.OnAttach
	m.mu.Unlock()

	if hook != nil {
		hook(m, locator)
	}
	return attempt, nil
}

// Attempt returns the number of the latest successful AttachSource.
func (m *MockElement) Attempt() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Emit delivers ev, stamped with the current attempt if it has none.
func (m *MockElement) Emit(ev Event) {
	if ev.Attempt == 0 {
		ev.Attempt = m.Attempt()
	}
	m.Emitter.Emit(ev)
}

// Play implements Element.
func (m *MockElement) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if len(m.attached) == 0 {
		return ErrNoSource
	}
	m.plays++
	m.paused = false
	return nil
}

// Pause implements Element.
func (m *MockElement) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

// Paused implements Element.
func (m *MockElement) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Seek implements Element.
func (m *MockElement) Seek(seconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.position = seconds
	return nil
}

// Position implements Element.
func (m *MockElement) Position() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// Duration implements Element.
func (m *MockElement) Duration() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration, m.durationKnown
}

// SetDuration sets the reported duration.
func (m *MockElement) SetDuration(seconds float64) {
	m.mu.Lock()
	m.duration, m.durationKnown = seconds, true
	m.mu.Unlock()
}

// SetValue sets the sample written to channel 0 while playing.
func (m *MockElement) SetValue(v float64) {
	m.mu.Lock()
	m.value = v
	m.mu.Unlock()
}

// Channels implements Element.
func (m *MockElement) Channels() int {
	return m.channels
}

// ReadFrames implements Element. While playing, channel 0 carries the
// configured value and the rest silence.
func (m *MockElement) ReadFrames(dst [][]float64, n int) int {
	m.mu.Lock()
	paused, v := m.paused, m.value
	m.mu.Unlock()

	if paused {
		return 0
	}
	for ch := range dst {
		clear(dst[ch][:n])
	}
	if len(dst) > 0 {
		for i := 0; i < n; i++ {
			dst[0][i] = v
		}
	}
	return n
}

// Attached returns every locator passed to AttachSource.
func (m *MockElement) Attached() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.attached...)
}

// Plays returns how many times Play succeeded.
func (m *MockElement) Plays() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plays
}

// Finish pauses and emits EventEnded for the last attached locator.
func (m *MockElement) Finish() {
	m.mu.Lock()
	m.paused = true
	var locator string
	if len(m.attached) > 0 {
		locator = m.attached[len(m.attached)-1]
	}
	m.mu.Unlock()
	m.Emit(Event{Type: EventEnded, Locator: locator})
}

// Close implements Element.
func (m *MockElement) Close() error {
	m.mu.Lock()
	m.closed = true
	m.paused = true
	m.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (m *MockElement) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ Element = (*MockElement)(nil)
