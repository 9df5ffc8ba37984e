// Package call runs one side of a two-party video consultation: it owns the
// state machine, the local and remote media, the peer connection and the
// room subscriptions, and tears all of them down exactly once.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rehaani/mediconnect/internal/media"
	"github.com/rehaani/mediconnect/internal/room"
	"github.com/rehaani/mediconnect/internal/rtdb"
)

const (
	DefaultReturnDelay = 3 * time.Second
	DefaultOpTimeout   = 10 * time.Second
	cleanupTimeout     = 5 * time.Second
	eventBuffer        = 128
)

// PeerConn is the part of a peer connection the session drives.
type PeerConn interface {
	AddLocalTracks(*media.LocalStream) error
	OnRemoteTrack(func(kind webrtc.RTPCodecType, r media.RTPReader))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnLocalCandidate(func(webrtc.ICECandidateInit))
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	SetRemoteAnswer(answer webrtc.SessionDescription) (bool, error)
	AddRemoteCandidate(webrtc.ICECandidateInit) error
	SetTrackEnabled(kind webrtc.RTPCodecType, on bool) error
	ReachedConnected() bool
	Close() error
}

// PeerFactory builds a fresh peer connection for each call attempt.
type PeerFactory func() (PeerConn, error)

// Options configures a Session.
type Options struct {
	Role        Role
	Store       rtdb.Store
	Media       media.Source
	NewPeer     PeerFactory
	Constraints media.Constraints

	// ReturnDelay is how long the ended state is shown before EventNavigate.
	// Zero means DefaultReturnDelay.
	ReturnDelay time.Duration
	// WaitTimeout ends an unconnected call after this long. Zero waits forever.
	WaitTimeout time.Duration
	// OpTimeout bounds each signaling store operation. Zero means DefaultOpTimeout.
	OpTimeout time.Duration
	IDLength  int
	Landing   string
}

// resources is everything one call attempt owns.
type resources struct {
	pc     PeerConn
	local  *media.LocalStream
	remote *media.RemoteStream
	unsubs []rtdb.Unsubscribe
	done   chan struct{}
}

// Session is a reusable call controller for one user.
type Session struct {
	opts   Options
	events chan Event

	mu       sync.Mutex
	state    State
	gen      uint64
	roomID   string
	res      *resources
	seen     map[string]struct{}
	reason   Reason
	lastErr  error
	muted    bool
	videoOff bool

	startedAt   time.Time
	connectedAt time.Time
	endedAt     time.Time
	packets     uint64
	bytes       uint64

	navTimer  *time.Timer
	waitTimer *time.Timer

	cleanup sync.WaitGroup
}

// New validates opts and returns an idle session.
func New(opts Options) (*Session, error) {
	if !opts.Role.Valid() {
		return nil, NewError("new session", ErrWrongRole)
	}
	if opts.Store == nil || opts.Media == nil || opts.NewPeer == nil {
		return nil, WrapError("new session", errors.New("missing dependency"), "store, media and peer factory are required")
	}
	if opts.ReturnDelay == 0 {
		opts.ReturnDelay = DefaultReturnDelay
	}
	if opts.OpTimeout == 0 {
		opts.OpTimeout = DefaultOpTimeout
	}
	if opts.IDLength == 0 {
		opts.IDLength = room.DefaultIDLength
	}
	if !opts.Constraints.Audio && !opts.Constraints.Video {
		opts.Constraints = media.Constraints{Audio: true, Video: true}
	}
	return &Session{
		opts:   opts,
		events: make(chan Event, eventBuffer),
		state:  StateIdle,
	}, nil
}

func (s *Session) Role() Role { return s.opts.Role }

// Events delivers state changes and notifications. Slow readers lose events
// rather than stall the call.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Err is the failure that ended or aborted the last call, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) LocalStream() *media.LocalStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.res == nil {
		return nil
	}
	return s.res.local
}

func (s *Session) RemoteStream() *media.RemoteStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.res == nil {
		return nil
	}
	return s.res.remote
}

func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	default:
		slog.Warn("call event dropped", "kind", e.Kind, "state", e.State)
	}
}

func (s *Session) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opts.OpTimeout)
}

// begin moves an idle session into a new attempt and returns its generation.
func (s *Session) begin(t trigger, roomID string) (uint64, error) {
	s.mu.Lock()
	next, ok := transition(s.state, t)
	if !ok {
		s.mu.Unlock()
		return 0, NewError(t.String(), ErrBusy)
	}
	if s.navTimer != nil {
		s.navTimer.Stop()
		s.navTimer = nil
	}
	s.gen++
	gen := s.gen
	s.state = next
	s.roomID = roomID
	s.res = &resources{done: make(chan struct{})}
	s.seen = make(map[string]struct{})
	s.reason = ReasonNone
	s.lastErr = nil
	s.muted, s.videoOff = false, false
	s.startedAt = time.Now()
	s.connectedAt, s.endedAt = time.Time{}, time.Time{}
	s.packets, s.bytes = 0, 0
	s.mu.Unlock()

	slog.Info("call starting", "role", s.opts.Role, "trigger", t, "room", roomID)
	s.emit(Event{Kind: EventState, State: next, RoomID: roomID})
	return gen, nil
}

// advance applies a non-terminal trigger for the current attempt.
func (s *Session) advance(gen uint64, t trigger) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	next, ok := transition(s.state, t)
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.state = next
	id := s.roomID
	s.mu.Unlock()

	slog.Debug("call state", "state", next, "trigger", t, "room", id)
	s.emit(Event{Kind: EventState, State: next, RoomID: id})
	return true
}

// alive reports whether gen is still the running, non-terminal attempt.
func (s *Session) alive(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.state != StateEnded && s.state != StateIdle
}

// attach hands acquired resources to the attempt. It returns false if the
// attempt was torn down meanwhile, in which case the caller still owns them.
func (s *Session) attach(gen uint64, fn func(r *resources)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state == StateEnded || s.state == StateIdle {
		return false
	}
	fn(s.res)
	return true
}

// subscribe registers a store listener that is ignored once the attempt is over.
func (s *Session) subscribe(ctx context.Context, gen uint64, path string, fn func(rtdb.Snapshot)) error {
	unsub, err := s.opts.Store.Subscribe(ctx, path, func(snap rtdb.Snapshot) {
		if s.alive(gen) {
			fn(snap)
		}
	})
	if err != nil {
		return err
	}
	if !s.attach(gen, func(r *resources) { r.unsubs = append(r.unsubs, unsub) }) {
		unsub()
		return ErrHungUp
	}
	return nil
}

// HangUp ends the current call. It is a no-op when no call is running.
func (s *Session) HangUp() {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.end(gen, trHangUp, nil)
}

// end applies a terminal trigger. Only the first terminal trigger of an
// attempt changes state, so teardown runs once.
func (s *Session) end(gen uint64, t trigger, cause error) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	next, ok := transition(s.state, t)
	if !ok {
		s.mu.Unlock()
		return false
	}
	prev := s.state
	s.state = next
	s.reason = t.reason()
	s.lastErr = cause
	s.endedAt = time.Now()
	res := s.res
	s.res = nil
	id := s.roomID
	if s.waitTimer != nil {
		s.waitTimer.Stop()
		s.waitTimer = nil
	}
	if res != nil && res.remote != nil {
		s.packets, s.bytes = res.remote.Packets(), res.remote.Bytes()
	}
	s.mu.Unlock()

	slog.Info("call ending", "room", id, "from", prev, "to", next, "reason", t.reason(), "err", cause)

	s.release(res)
	if s.opts.Role == RoleOfferer && id != "" && t != trRemoteGone && t != trRoomNotFound {
		s.closeRoom(id)
	}

	if cause != nil {
		s.emit(Event{Kind: EventError, State: next, RoomID: id, Err: cause, Message: UserMessage(cause)})
	}
	s.emit(Event{Kind: EventState, State: next, RoomID: id, Reason: t.reason()})

	if next == StateEnded {
		s.scheduleReturn(gen)
	}
	return true
}

// release stops everything an attempt holds. Safe with a nil or partial set.
func (s *Session) release(res *resources) {
	if res == nil {
		return
	}
	close(res.done)
	for _, u := range res.unsubs {
		u()
	}
	if res.pc != nil {
		if err := res.pc.Close(); err != nil {
			slog.Warn("closing peer connection", "err", err)
		}
	}
	if res.local != nil {
		res.local.Stop()
	}
	if res.remote != nil {
		res.remote.Stop()
	}
}

// closeRoom marks the room ended and deletes it in the background.
func (s *Session) closeRoom(id string) {
	s.cleanup.Add(1)
	go func() {
		defer s.cleanup.Done()
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := room.Close(ctx, s.opts.Store, id); err != nil {
			slog.Warn("room cleanup failed", "room", id, "err", err)
			return
		}
		slog.Debug("room removed", "room", id)
	}()
}

func (s *Session) scheduleReturn(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navTimer = time.AfterFunc(s.opts.ReturnDelay, func() {
		s.mu.Lock()
		next, ok := transition(s.state, trReset)
		if s.gen != gen || !ok {
			s.mu.Unlock()
			return
		}
		s.state = next
		s.navTimer = nil
		s.mu.Unlock()

		s.emit(Event{Kind: EventNavigate, State: next, Landing: s.opts.Landing})
		s.emit(Event{Kind: EventState, State: next})
	})
}

// Wait blocks until background room cleanup has finished.
func (s *Session) Wait() {
	s.cleanup.Wait()
}

// ToggleMute flips the microphone and returns true when it is now muted.
func (s *Session) ToggleMute() (bool, error) {
	return s.toggle(webrtc.RTPCodecTypeAudio, &s.muted)
}

// ToggleVideo flips the camera and returns true when it is now off.
func (s *Session) ToggleVideo() (bool, error) {
	return s.toggle(webrtc.RTPCodecTypeVideo, &s.videoOff)
}

func (s *Session) toggle(kind webrtc.RTPCodecType, flag *bool) (bool, error) {
	s.mu.Lock()
	if s.res == nil || s.res.local == nil {
		s.mu.Unlock()
		return false, NewError("toggle "+kind.String(), ErrNoCall)
	}
	off := !*flag
	*flag = off
	local, pc := s.res.local, s.res.pc
	s.mu.Unlock()

	local.SetEnabled(kind, !off)
	if pc != nil {
		if err := pc.SetTrackEnabled(kind, !off); err != nil {
			slog.Warn("toggle track", "kind", kind, "err", err)
		}
	}
	return off, nil
}

// Summary describes the last call.
type Summary struct {
	Role      Role
	RoomID    string
	State     State
	Reason    Reason
	Err       error
	Started   time.Time
	Connected time.Time
	Ended     time.Time
	Packets   uint64
	Bytes     uint64
}

// Duration is the time spent connected, zero if the parties never connected.
func (m Summary) Duration() time.Duration {
	if m.Connected.IsZero() || m.Ended.IsZero() {
		return 0
	}
	return m.Ended.Sub(m.Connected)
}

func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := Summary{
		Role:      s.opts.Role,
		RoomID:    s.roomID,
		State:     s.state,
		Reason:    s.reason,
		Err:       s.lastErr,
		Started:   s.startedAt,
		Connected: s.connectedAt,
		Ended:     s.endedAt,
		Packets:   s.packets,
		Bytes:     s.bytes,
	}
	if s.res != nil && s.res.remote != nil {
		m.Packets, m.Bytes = s.res.remote.Packets(), s.res.remote.Bytes()
	}
	return m
}
