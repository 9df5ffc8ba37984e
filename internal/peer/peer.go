// Package peer wraps a single WebRTC peer connection for a call.
package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rehaani/mediconnect/internal/media"
)

var ErrClosed = errors.New("peer connection closed")

// Conn owns one *webrtc.PeerConnection.
type Conn struct {
	pc *webrtc.PeerConnection

	mu        sync.Mutex
	senders   map[webrtc.RTPCodecType]*webrtc.RTPSender
	tracks    map[webrtc.RTPCodecType]webrtc.TrackLocal
	connected bool
	hasRemote bool
	pending   []webrtc.ICECandidateInit
	closed    bool
	closeErr  error

	stateFn func(webrtc.PeerConnectionState)
}

// New creates a connection. codecs, when non-nil, registers the encoders of
// the capture source; otherwise pion's default codecs are used.
func New(cfg ICEConfig, codecs media.CodecConfigurer) (*Conn, error) {
	m := &webrtc.MediaEngine{}
	if codecs != nil {
		if err := codecs.ConfigureCodecs(m); err != nil {
			return nil, fmt.Errorf("register codecs: %w", err)
		}
	} else if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(cfg.settingEngine()),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         cfg.servers(),
		ICETransportPolicy: cfg.policy(),
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	c := &Conn{
		pc:      pc,
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
		tracks:  make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
	}
	pc.OnConnectionStateChange(c.handleState)
	return c, nil
}

func (c *Conn) handleState(s webrtc.PeerConnectionState) {
	c.mu.Lock()
	if s == webrtc.PeerConnectionStateConnected {
		c.connected = true
	}
	fn := c.stateFn
	c.mu.Unlock()

	slog.Debug("peer connection state", "state", s.String())
	if fn != nil {
		fn(s)
	}
}

// AddLocalTracks attaches every track of the stream and starts reading RTCP
// from each sender so interceptors keep working.
func (c *Conn) AddLocalTracks(s *media.LocalStream) error {
	for _, t := range s.Tracks() {
		sender, err := c.pc.AddTrack(t)
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		c.mu.Lock()
		c.senders[t.Kind()] = sender
		c.tracks[t.Kind()] = t
		c.mu.Unlock()

		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

// OnRemoteTrack is called for each track the other party sends.
func (c *Conn) OnRemoteTrack(fn func(kind webrtc.RTPCodecType, r media.RTPReader)) {
	c.pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		slog.Debug("remote track", "kind", t.Kind().String(), "codec", t.Codec().MimeType)
		fn(t.Kind(), t)
	})
}

func (c *Conn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.stateFn = fn
	c.mu.Unlock()
}

// OnLocalCandidate is called for each gathered local candidate.
func (c *Conn) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(ic *webrtc.ICECandidate) {
		if ic == nil {
			return
		}
		fn(ic.ToJSON())
	})
}

// CreateOffer creates an offer and sets it as the local description.
func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return offer, nil
}

// CreateAnswer applies offer as the remote description, then creates and
// sets the local answer.
func (c *Conn) CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.setRemote(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return answer, nil
}

// SetRemoteAnswer applies the answer unless a remote description is already
// set. It reports whether the answer was applied.
func (c *Conn) SetRemoteAnswer(answer webrtc.SessionDescription) (bool, error) {
	c.mu.Lock()
	already := c.hasRemote
	c.mu.Unlock()
	if already {
		return false, nil
	}
	if err := c.setRemote(answer); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Conn) setRemote(d webrtc.SessionDescription) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.hasRemote {
		c.mu.Unlock()
		return nil
	}
	c.hasRemote = true
	c.mu.Unlock()

	if err := c.pc.SetRemoteDescription(d); err != nil {
		c.mu.Lock()
		c.hasRemote = false
		c.mu.Unlock()
		return fmt.Errorf("set remote description: %w", err)
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			slog.Warn("buffered candidate rejected", "err", err)
		}
	}
	return nil
}

// AddRemoteCandidate applies a candidate from the other party. Candidates
// that arrive before the remote description are held until it is set.
func (c *Conn) AddRemoteCandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.hasRemote || c.pc.RemoteDescription() == nil {
		c.pending = append(c.pending, cand)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.pc.AddICECandidate(cand); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

// SetTrackEnabled stops or resumes sending a kind of track without
// renegotiating, by swapping the sender's track.
func (c *Conn) SetTrackEnabled(kind webrtc.RTPCodecType, on bool) error {
	c.mu.Lock()
	sender, ok := c.senders[kind]
	track := c.tracks[kind]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no local %s track", kind)
	}
	if !on {
		track = nil
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("replace %s track: %w", kind, err)
	}
	return nil
}

// ReachedConnected reports whether the connection was ever connected.
func (c *Conn) ReachedConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears the connection down. Later calls return the first result.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return err
	}
	c.closed = true
	c.pending = nil
	c.mu.Unlock()

	err := c.pc.Close()

	c.mu.Lock()
	c.closeErr = err
	c.mu.Unlock()
	return err
}

// Ended reports whether a state seen after the connection was established
// means the other side is gone.
func Ended(s webrtc.PeerConnectionState) bool {
	switch s {
	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		return true
	}
	return false
}
