// Package media provides the local capture sources a call sends from and the
// remote stream handle it receives into.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrAccessDenied means capture devices were refused or are unavailable.
var ErrAccessDenied = errors.New("camera/microphone access denied")

// Constraints selects which kinds of track to capture.
type Constraints struct {
	Audio bool
	Video bool
}

// Source acquires local media.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (*LocalStream, error)
}

// CodecConfigurer is implemented by sources whose encoders must be
// registered with the peer connection's media engine.
type CodecConfigurer interface {
	ConfigureCodecs(m *webrtc.MediaEngine) error
}

// LocalStream is the set of captured tracks owned by one call.
type LocalStream struct {
	tracks []webrtc.TrackLocal
	stop   func()

	mu      sync.Mutex
	enabled map[webrtc.RTPCodecType]bool
	stopped bool
}

// NewLocalStream wraps tracks; stop releases the underlying devices and is
// called at most once.
func NewLocalStream(tracks []webrtc.TrackLocal, stop func()) *LocalStream {
	enabled := make(map[webrtc.RTPCodecType]bool)
	for _, t := range tracks {
		enabled[t.Kind()] = true
	}
	return &LocalStream{tracks: tracks, stop: stop, enabled: enabled}
}

func (s *LocalStream) Tracks() []webrtc.TrackLocal {
	return s.tracks
}

// Track returns the first track of the given kind, or nil.
func (s *LocalStream) Track(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// SetEnabled records whether a kind is being sent. It reports false if the
// stream has no track of that kind.
func (s *LocalStream) SetEnabled(kind webrtc.RTPCodecType, on bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enabled[kind]; !ok {
		return false
	}
	s.enabled[kind] = on
	return true
}

func (s *LocalStream) Enabled(kind webrtc.RTPCodecType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled[kind]
}

// Stop releases the capture devices. Safe to call more than once.
func (s *LocalStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	if s.stop != nil {
		s.stop()
	}
}

func (s *LocalStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
