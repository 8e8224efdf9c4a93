package player

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-binaural/pkg/media"
)

// DefaultLoadTimeout bounds how long a track load waits for the element.
const DefaultLoadTimeout = 10 * time.Second

// Resumer is the audio output that must be running before playback.
type Resumer interface {
	Resume(ctx context.Context) error
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLoadTimeout overrides DefaultLoadTimeout.
func WithSessionLoadTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// Session loads tracks into one media element. Only the most recent load
// can succeed; starting a load supersedes any load still waiting.
type Session struct {
	element media.Element
	audio   Resumer
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// Cancel supersedes any load in progress.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// NewSession creates a session for element. audio may be nil.
func NewSession(element media.Element, audio Resumer, opts ...SessionOption) *Session {
	s := &Session{
		element: element,
		audio:   audio,
		timeout: DefaultLoadTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")
	return s
}

// Load stops playback, rewinds, resumes the audio output and attaches
// track.Locator, then waits for the first of: metadata, playable audio, an
// element error, the timeout, a newer Load, or ctx ending. The listener and
// timer are released whichever wins. On failure the element is left paused
// at 0 and a *StreamLoadError is returned. On success the returned track
// carries the element's duration when it is known.
func (s *Session) Load(ctx context.Context, track Track) (Track, error) {
	locator := track.Locator
	id := uuid.NewString()
	logger := s.logger.With("load_id", id, "locator", locator)

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.gen == gen {
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	s.element.Pause()
	if err := s.element.Seek(0); err != nil {
		logger.Debug("rewind before load failed", "error", err)
	}

	if s.audio != nil {
		if err := s.audio.Resume(ctx); err != nil {
			logger.Warn("audio resume failed", "error", err)
		}
	}

	events, unsubscribe := s.element.Subscribe()
	defer unsubscribe()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	fail := func(kind LoadErrorKind, err error) error {
		if kind != LoadSuperseded {
			s.element.Pause()
			if serr := s.element.Seek(0); serr != nil {
				logger.Debug("rewind after failed load failed", "error", serr)
			}
		}
		logger.Warn("track load failed", "kind", kind.String(), "error", err)
		return &StreamLoadError{Kind: kind, LoadID: id, Locator: locator, Err: err}
	}

	attempt, err := s.element.AttachSource(loadCtx, locator)
	if err != nil {
		return track, fail(LoadElement, err)
	}

	for {
		select {
		case ev := <-events:
			// A reload of the same locator must not resolve on the
			// previous attempt's events.
			if ev.Attempt != attempt || ev.Locator != locator {
				continue
			}
			switch ev.Type {
			case media.EventLoadedMetadata, media.EventCanPlay:
				if d, ok := s.element.Duration(); ok {
					track.Duration, track.DurationKnown = d, true
				}
				logger.Info("track loaded", "via", ev.Type.String(), "duration", track.Duration)
				return track, nil
			case media.EventError:
				err := ev.Err
				if err == nil {
					err = errors.New("unknown media element error")
				}
				return track, fail(LoadElement, err)
			}

		case <-timer.C:
			return track, fail(LoadTimeout, ErrLoadTimeout)

		case <-loadCtx.Done():
			if err := ctx.Err(); err != nil {
				return track, fail(LoadCanceled, err)
			}
			return track, fail(LoadSuperseded, context.Canceled)
		}
	}
}
