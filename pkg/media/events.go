// Package media provides the streaming playback element the player attaches
// tracks to, and helpers for reading DASH manifest metadata.
package media

import "sync"

// EventType identifies an element event.
type EventType int

const (
	// EventLoadedMetadata fires once the duration is known (or known to be
	// unknown).
	EventLoadedMetadata EventType = iota
	// EventCanPlay fires once the first decoded audio is buffered.
	EventCanPlay
	// EventError fires when the source cannot be loaded or decoded.
	EventError
	// EventEnded fires when playback reaches the end of the source.
	EventEnded
)

func (t EventType) String() string {
	switch t {
	case EventLoadedMetadata:
		return "loadedmetadata"
	case EventCanPlay:
		return "canplay"
	case EventError:
		return "error"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers.
type Event struct {
	Type    EventType
	Locator string
	// Attempt is the AttachSource call the event belongs to. Reattaching
	// the same locator yields a new attempt.
	Attempt uint64
	Err     error
}

// subscriberBuffer bounds each subscriber channel. Events beyond it are
// dropped for that subscriber.
const subscriberBuffer = 16

// Emitter fans events out to subscribers. The zero value is ready to use.
type Emitter struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// Subscribe registers a listener. The returned func removes it and may be
// called any number of times.
func (em *Emitter) Subscribe() (<-chan Event, func()) {
	em.mu.Lock()
	defer em.mu.Unlock()

	if em.subs == nil {
		em.subs = make(map[int]chan Event)
	}
	id := em.next
	em.next++
	ch := make(chan Event, subscriberBuffer)
	em.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			em.mu.Lock()
			delete(em.subs, id)
			em.mu.Unlock()
		})
	}
}

// Emit delivers ev to every subscriber without blocking.
func (em *Emitter) Emit(ev Event) {
	em.mu.Lock()
	defer em.mu.Unlock()

	for _, ch := range em.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of registered listeners.
func (em *Emitter) Subscribers() int {
	em.mu.Lock()
	defer em.mu.Unlock()
	return len(em.subs)
}
