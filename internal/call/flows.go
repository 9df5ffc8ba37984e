package call

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rehaani/mediconnect/internal/media"
	"github.com/rehaani/mediconnect/internal/peer"
	"github.com/rehaani/mediconnect/internal/room"
	"github.com/rehaani/mediconnect/internal/rtdb"
)

// StartCall picks a room id, prepares media and the peer connection,
// claims the room, publishes an offer and waits for the answer in the
// background. Nothing is written to the store until media is available. It
// returns the room id to share with the other party once the session is
// active.
func (s *Session) StartCall(ctx context.Context) (string, error) {
	if s.opts.Role != RoleOfferer {
		return "", NewError("start call", ErrWrongRole)
	}
	gen, err := s.begin(trStart, "")
	if err != nil {
		return "", err
	}

	id, err := room.Propose(ctx, s.opts.Store, s.opts.IDLength)
	if err != nil {
		return "", s.abort(gen, "pick room id", err)
	}
	s.advance(gen, trRoomReady)

	pc, err := s.prepare(ctx, gen, room.Offer)
	if err != nil {
		return "", err
	}

	id, err = s.claimRoom(ctx, id)
	if err != nil {
		return "", s.abort(gen, "reserve room", err)
	}
	if !s.attach(gen, func(*resources) { s.roomID = id }) {
		s.closeRoom(id)
		return "", NewError("start call", ErrHungUp)
	}
	s.emit(Event{Kind: EventRoom, RoomID: id})
	slog.Info("room reserved", "room", id)

	if err := s.opts.Store.OnDisconnectRemove(ctx, room.Path(id)); err != nil {
		return "", s.abort(gen, "register room cleanup", err)
	}

	offer, err := pc.CreateOffer()
	if err != nil {
		return "", s.fail(gen, trPeerFailed, classify("create offer", ErrPeerConnection, err))
	}
	if err := room.PublishDescription(ctx, s.opts.Store, id, room.Offer, room.FromSDP(offer)); err != nil {
		return "", s.abort(gen, "publish offer", err)
	}

	if err := s.subscribe(ctx, gen, room.DescriptionPath(id, room.Answer), s.onAnswer(gen)); err != nil {
		return "", s.abort(gen, "watch answer", err)
	}
	if err := s.listen(ctx, gen, id, room.Answer); err != nil {
		return "", err
	}

	s.activate(gen)
	return id, nil
}

// claimRoom takes the proposed room, or a fresh one if it was taken meanwhile.
func (s *Session) claimRoom(ctx context.Context, id string) (string, error) {
	err := room.Claim(ctx, s.opts.Store, id)
	if errors.Is(err, rtdb.ErrExists) {
		slog.Debug("proposed room taken", "room", id)
		return room.Reserve(ctx, s.opts.Store, s.opts.IDLength)
	}
	return id, err
}

// abort ends the attempt after a failed store operation. A cancelled
// context is the user backing out, and a room that vanished under a write
// means the other side already tore it down.
func (s *Session) abort(gen uint64, op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		s.end(gen, trHangUp, nil)
		return NewError(op, ErrHungUp)
	case errors.Is(err, room.ErrNotFound):
		s.end(gen, trRemoteGone, nil)
		return NewError(op, ErrHungUp)
	}
	return s.fail(gen, trChannelLost, classify(op, ErrSignalingChannel, err))
}

// JoinCall answers the offer waiting in room id.
func (s *Session) JoinCall(ctx context.Context, id string) error {
	if s.opts.Role != RoleAnswerer {
		return NewError("join call", ErrWrongRole)
	}
	gen, err := s.begin(trJoin, id)
	if err != nil {
		return err
	}
	s.emit(Event{Kind: EventRoom, RoomID: id})

	offer, err := s.awaitOffer(ctx, id)
	if err != nil {
		if errors.Is(err, room.ErrNotFound) || errors.Is(err, room.ErrInvalidID) {
			return s.fail(gen, trRoomNotFound, WrapError("join call", ErrRoomNotFound, id))
		}
		return s.abort(gen, "read room", err)
	}

	pc, err := s.prepare(ctx, gen, room.Answer)
	if err != nil {
		return err
	}

	answer, err := pc.CreateAnswer(offer.ToSDP())
	if err != nil {
		return s.fail(gen, trPeerFailed, classify("create answer", ErrPeerConnection, err))
	}
	if err := room.PublishDescription(ctx, s.opts.Store, id, room.Answer, room.FromSDP(answer)); err != nil {
		return s.abort(gen, "publish answer", err)
	}

	if err := s.listen(ctx, gen, id, room.Offer); err != nil {
		return err
	}

	s.activate(gen)
	return nil
}

// awaitOffer reads the room and, if the offerer has reserved it but not yet
// published its offer, waits for the offer to appear.
func (s *Session) awaitOffer(ctx context.Context, id string) (*room.SessionDescription, error) {
	r, err := room.Load(ctx, s.opts.Store, id)
	if err != nil {
		return nil, err
	}
	if r.Ended {
		return nil, room.ErrNotFound
	}
	if r.Offer != nil {
		return r.Offer, nil
	}

	slog.Info("waiting for offer", "room", id)
	type result struct {
		offer *room.SessionDescription
		err   error
	}
	found := make(chan result, 1)
	deliver := func(res result) {
		select {
		case found <- res:
		default:
		}
	}
	unsub, err := s.opts.Store.Subscribe(ctx, room.Path(id), func(snap rtdb.Snapshot) {
		if !snap.Exists() {
			deliver(result{err: room.ErrNotFound})
			return
		}
		var r room.Room
		if err := snap.Decode(&r); err != nil {
			deliver(result{err: err})
			return
		}
		switch {
		case r.Ended:
			deliver(result{err: room.ErrNotFound})
		case r.Offer != nil:
			deliver(result{offer: r.Offer})
		}
	})
	if err != nil {
		return nil, err
	}
	defer unsub()

	select {
	case res := <-found:
		return res.offer, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// prepare acquires media, builds the peer connection and wires its
// callbacks. side is the half of the room this session writes.
func (s *Session) prepare(ctx context.Context, gen uint64, side room.Side) (PeerConn, error) {
	local, err := s.opts.Media.Acquire(ctx, s.opts.Constraints)
	if errors.Is(err, context.Canceled) {
		return nil, s.abort(gen, "acquire media", err)
	}
	if err != nil {
		return nil, s.fail(gen, trMediaDenied, classify("acquire media", ErrMediaAccessDenied, err))
	}
	if !s.attach(gen, func(r *resources) { r.local = local }) {
		local.Stop()
		return nil, NewError("acquire media", ErrHungUp)
	}

	pc, err := s.opts.NewPeer()
	if err != nil {
		return nil, s.fail(gen, trPeerFailed, classify("create peer connection", ErrPeerConnection, err))
	}
	remote := media.NewRemoteStream()
	if !s.attach(gen, func(r *resources) { r.pc, r.remote = pc, remote }) {
		pc.Close()
		return nil, NewError("create peer connection", ErrHungUp)
	}

	if err := pc.AddLocalTracks(local); err != nil {
		return nil, s.fail(gen, trPeerFailed, classify("add local tracks", ErrPeerConnection, err))
	}
	pc.OnRemoteTrack(func(kind webrtc.RTPCodecType, r media.RTPReader) {
		if !s.alive(gen) {
			return
		}
		remote.AttachReader(kind, r)
		s.emit(Event{Kind: EventRemoteTrack, TrackKind: kind, State: s.State()})
	})
	pc.OnConnectionStateChange(s.onPeerState(gen, pc))
	pc.OnLocalCandidate(s.onLocalCandidate(gen, side))

	if d, ok := s.opts.Store.(interface{ Done() <-chan struct{} }); ok {
		s.watchChannel(gen, d.Done())
	}
	return pc, nil
}

// listen subscribes to the other party's candidates and to the room itself.
func (s *Session) listen(ctx context.Context, gen uint64, id string, remote room.Side) error {
	path := room.CandidatesPath(id, remote)
	if err := s.subscribe(ctx, gen, path, s.onCandidates(gen, path)); err != nil {
		return s.abort(gen, "watch candidates", err)
	}
	if err := s.subscribe(ctx, gen, room.Path(id), s.onRoom(gen)); err != nil {
		return s.abort(gen, "watch room", err)
	}
	return nil
}

func (s *Session) activate(gen uint64) {
	if !s.advance(gen, trSignaled) {
		return
	}
	if s.opts.WaitTimeout <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.res == nil || s.res.pc == nil {
		return
	}
	pc := s.res.pc
	s.waitTimer = time.AfterFunc(s.opts.WaitTimeout, func() {
		if pc.ReachedConnected() {
			return
		}
		s.end(gen, trWaitTimeout, NewError("wait for peer", ErrWaitTimeout))
	})
}

// fail ends the attempt with t and returns err for the caller. If the
// attempt already ended, ErrHungUp is returned instead.
func (s *Session) fail(gen uint64, t trigger, err *Error) error {
	if s.end(gen, t, err) {
		return err
	}
	return NewError(err.Op, ErrHungUp)
}

func (s *Session) watchChannel(gen uint64, lost <-chan struct{}) {
	s.mu.Lock()
	if s.gen != gen || s.res == nil {
		s.mu.Unlock()
		return
	}
	done := s.res.done
	s.mu.Unlock()

	go func() {
		select {
		case <-lost:
			s.end(gen, trChannelLost, NewError("signaling", ErrSignalingChannel))
		case <-done:
		}
	}()
}

func (s *Session) onLocalCandidate(gen uint64, side room.Side) func(webrtc.ICECandidateInit) {
	return func(c webrtc.ICECandidateInit) {
		if !s.alive(gen) {
			return
		}
		id := s.RoomID()
		ctx, cancel := s.opCtx()
		defer cancel()
		if err := room.PublishCandidate(ctx, s.opts.Store, id, side, room.FromICE(c)); err != nil {
			switch {
			case !s.alive(gen):
			case errors.Is(err, room.ErrNotFound):
				s.end(gen, trRemoteGone, nil)
			default:
				s.end(gen, trChannelLost, classify("publish candidate", ErrSignalingChannel, err))
			}
			return
		}
		slog.Debug("candidate published", "room", id, "side", side)
	}
}

// onAnswer applies the first answer that appears. Later snapshots of the
// same answer are ignored by the peer connection.
func (s *Session) onAnswer(gen uint64) func(rtdb.Snapshot) {
	return func(snap rtdb.Snapshot) {
		if !snap.Exists() {
			return
		}
		var d room.SessionDescription
		if err := snap.Decode(&d); err != nil {
			slog.Warn("undecodable answer", "path", snap.Path, "err", err)
			return
		}
		pc := s.peer(gen)
		if pc == nil {
			return
		}
		applied, err := pc.SetRemoteAnswer(d.ToSDP())
		if err != nil {
			s.end(gen, trPeerFailed, classify("apply answer", ErrPeerConnection, err))
			return
		}
		if applied {
			slog.Info("answer applied", "room", s.RoomID())
		}
	}
}

// onCandidates applies every candidate it has not seen yet and deletes it
// from the room.
func (s *Session) onCandidates(gen uint64, path string) func(rtdb.Snapshot) {
	return func(snap rtdb.Snapshot) {
		cands, err := room.DecodeCandidates(snap)
		if err != nil {
			slog.Warn("undecodable candidates", "path", path, "err", err)
			return
		}
		keys := make([]string, 0, len(cands))
		for k := range cands {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			pc, fresh := s.claim(gen, k)
			if pc == nil {
				return
			}
			if !fresh {
				continue
			}
			if err := pc.AddRemoteCandidate(cands[k].ToICE()); err != nil {
				slog.Warn("remote candidate rejected", "key", k, "err", err)
			}
			ctx, cancel := s.opCtx()
			err := s.opts.Store.Delete(ctx, rtdb.Join(path, k))
			cancel()
			if err != nil {
				s.end(gen, trChannelLost, classify("consume candidate", ErrSignalingChannel, err))
				return
			}
		}
	}
}

// claim marks a candidate key as consumed. pc is nil if the attempt is over.
func (s *Session) claim(gen uint64, key string) (pc PeerConn, fresh bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.res == nil || s.res.pc == nil {
		return nil, false
	}
	if _, ok := s.seen[key]; ok {
		return s.res.pc, false
	}
	s.seen[key] = struct{}{}
	return s.res.pc, true
}

func (s *Session) peer(gen uint64) PeerConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.res == nil {
		return nil
	}
	return s.res.pc
}

// onRoom ends the call when the room is deleted or marked ended.
func (s *Session) onRoom(gen uint64) func(rtdb.Snapshot) {
	return func(snap rtdb.Snapshot) {
		if !snap.Exists() {
			s.end(gen, trRemoteGone, nil)
			return
		}
		var ended bool
		if err := snap.Child("ended").Decode(&ended); err == nil && ended {
			s.end(gen, trRemoteGone, nil)
		}
	}
}

// onPeerState ends the call once an established connection drops, or when
// negotiation fails outright.
func (s *Session) onPeerState(gen uint64, pc PeerConn) func(webrtc.PeerConnectionState) {
	return func(st webrtc.PeerConnectionState) {
		if !s.alive(gen) {
			return
		}
		slog.Debug("peer connection state", "state", st, "room", s.RoomID())
		s.emit(Event{Kind: EventConnection, Connection: st, State: s.State()})

		switch {
		case st == webrtc.PeerConnectionStateConnected:
			s.mu.Lock()
			if s.gen == gen && s.connectedAt.IsZero() {
				s.connectedAt = time.Now()
			}
			if s.gen == gen && s.waitTimer != nil {
				s.waitTimer.Stop()
				s.waitTimer = nil
			}
			s.mu.Unlock()
		case peer.Ended(st) && pc.ReachedConnected():
			s.end(gen, trPeerLeft, nil)
		case st == webrtc.PeerConnectionStateFailed:
			s.end(gen, trPeerFailed, NewError("connect", ErrPeerConnection))
		}
	}
}
