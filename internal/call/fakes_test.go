package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rehaani/mediconnect/internal/media"
	"github.com/rehaani/mediconnect/internal/rtdb"
	"github.com/stretchr/testify/require"
)

const hostCandidate = "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host"

type fakePeer struct {
	mu          sync.Mutex
	stateFn     func(webrtc.PeerConnectionState)
	candFn      func(webrtc.ICECandidateInit)
	hasRemote   bool
	answerCalls int
	applied     int
	remote      []webrtc.ICECandidateInit
	enabled     map[webrtc.RTPCodecType]bool
	connected   bool
	closes      int
}

func (p *fakePeer) AddLocalTracks(*media.LocalStream) error { return nil }

func (p *fakePeer) OnRemoteTrack(func(webrtc.RTPCodecType, media.RTPReader)) {}

func (p *fakePeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.stateFn = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.candFn = fn
	p.mu.Unlock()
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakePeer) CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	p.hasRemote = true
	p.mu.Unlock()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakePeer) SetRemoteAnswer(webrtc.SessionDescription) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answerCalls++
	if p.hasRemote {
		return false, nil
	}
	p.hasRemote = true
	p.applied++
	return true, nil
}

func (p *fakePeer) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	p.remote = append(p.remote, c)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) SetTrackEnabled(kind webrtc.RTPCodecType, on bool) error {
	p.mu.Lock()
	if p.enabled == nil {
		p.enabled = make(map[webrtc.RTPCodecType]bool)
	}
	p.enabled[kind] = on
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) ReachedConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return nil
}

// fire reports a connection state change as the real connection would.
func (p *fakePeer) fire(st webrtc.PeerConnectionState) {
	p.mu.Lock()
	if st == webrtc.PeerConnectionStateConnected {
		p.connected = true
	}
	fn := p.stateFn
	p.mu.Unlock()
	fn(st)
}

func (p *fakePeer) gather(candidate string) {
	p.mu.Lock()
	fn := p.candFn
	p.mu.Unlock()
	fn(webrtc.ICECandidateInit{Candidate: candidate})
}

func (p *fakePeer) stats() (answerCalls, applied, remote, closes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.answerCalls, p.applied, len(p.remote), p.closes
}

type peerFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
}

func (f *peerFactory) New() (PeerConn, error) {
	p := &fakePeer{}
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

func (f *peerFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *peerFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[len(f.peers)-1]
}

type fakeSource struct {
	mu       sync.Mutex
	deny     bool
	acquired int
	stopped  int

	// When gate is set, Acquire closes entered and blocks until gate is closed.
	gate    chan struct{}
	entered chan struct{}
}

// hold makes the next Acquire block. It returns a channel closed once
// Acquire is waiting and a func that lets it continue.
func (s *fakeSource) hold() (entered <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	s.entered = make(chan struct{})
	gate := s.gate
	return s.entered, func() { close(gate) }
}

func (s *fakeSource) Acquire(ctx context.Context, c media.Constraints) (*media.LocalStream, error) {
	s.mu.Lock()
	gate, entered := s.gate, s.entered
	s.gate, s.entered = nil, nil
	s.mu.Unlock()
	if gate != nil {
		close(entered)
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deny {
		return nil, media.ErrAccessDenied
	}
	s.acquired++
	return media.NewLocalStream(nil, func() {
		s.mu.Lock()
		s.stopped++
		s.mu.Unlock()
	}), nil
}

func (s *fakeSource) counts() (acquired, stopped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired, s.stopped
}

type harness struct {
	*Session
	src   *fakeSource
	peers *peerFactory
}

func newHarness(t *testing.T, store rtdb.Store, role Role, tweak ...func(*Options)) *harness {
	t.Helper()
	h := &harness{src: &fakeSource{}, peers: &peerFactory{}}
	opts := Options{
		Role:        role,
		Store:       store,
		Media:       h.src,
		NewPeer:     h.peers.New,
		ReturnDelay: time.Hour,
		Landing:     "/home",
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	h.Session = s
	t.Cleanup(func() {
		s.HangUp()
		s.Wait()
	})
	return h
}

func (h *harness) reason() Reason {
	return h.Summary().Reason
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
