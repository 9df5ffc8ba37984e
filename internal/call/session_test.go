package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rehaani/mediconnect/internal/media"
	"github.com/rehaani/mediconnect/internal/room"
	"github.com/rehaani/mediconnect/internal/rtdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from State
		on   trigger
		to   State
		ok   bool
	}{
		{StateIdle, trStart, StateCreating, true},
		{StateIdle, trJoin, StateLoading, true},
		{StateCreating, trRoomReady, StateLoading, true},
		{StateLoading, trSignaled, StateActive, true},
		{StateActive, trHangUp, StateEnded, true},
		{StateLoading, trRoomNotFound, StateEnded, true},
		{StateCreating, trMediaDenied, StateIdle, true},
		{StateLoading, trMediaDenied, StateIdle, true},
		{StateEnded, trReset, StateIdle, true},
		{StateActive, trWaitTimeout, StateEnded, true},

		{StateEnded, trHangUp, StateEnded, false},
		{StateEnded, trRemoteGone, StateEnded, false},
		{StateEnded, trPeerLeft, StateEnded, false},
		{StateEnded, trChannelLost, StateEnded, false},
		{StateIdle, trHangUp, StateIdle, false},
		{StateActive, trStart, StateActive, false},
		{StateActive, trMediaDenied, StateActive, false},
		{StateLoading, trWaitTimeout, StateLoading, false},
		{StateIdle, trReset, StateIdle, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.on.String(), func(t *testing.T) {
			to, ok := transition(tt.from, tt.on)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.to, to)
		})
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(Options{Role: "admin"})
	assert.ErrorIs(t, err, ErrWrongRole)

	_, err = New(Options{Role: RoleOfferer})
	assert.Error(t, err)
}

func TestStartCallPublishesOffer(t *testing.T) {
	mem := rtdb.NewMemory()
	off := newHarness(t, mem.Session(), RoleOfferer)

	id, err := off.StartCall(context.Background())
	require.NoError(t, err)
	assert.Len(t, id, room.DefaultIDLength)
	assert.Equal(t, StateActive, off.State())
	assert.Equal(t, id, off.RoomID())

	r, err := room.Load(context.Background(), mem.Session(), id)
	require.NoError(t, err)
	require.NotNil(t, r.Offer)
	assert.Equal(t, "offer", r.Offer.Type)
	assert.Equal(t, "v=0 offer", r.Offer.SDP)
	assert.False(t, r.Ended)

	acquired, _ := off.src.counts()
	assert.Equal(t, 1, acquired)
	assert.Equal(t, 1, off.peers.count())
}

func TestStartCallTwiceIsBusy(t *testing.T) {
	off := newHarness(t, rtdb.NewMemory().Session(), RoleOfferer)
	_, err := off.StartCall(context.Background())
	require.NoError(t, err)

	_, err = off.StartCall(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, off.JoinCall(context.Background(), "abc"), ErrWrongRole)
}

func TestJoinExchangesAnswerAndCandidates(t *testing.T) {
	ctx := context.Background()
	mem := rtdb.NewMemory()
	off := newHarness(t, mem.Session(), RoleOfferer)
	ans := newHarness(t, mem.Session(), RoleAnswerer)

	id, err := off.StartCall(ctx)
	require.NoError(t, err)
	op := off.peers.last()

	// Gathered before the answerer shows up; it must still be delivered.
	op.gather(hostCandidate)

	require.NoError(t, ans.JoinCall(ctx, id))
	assert.Equal(t, StateActive, ans.State())
	ap := ans.peers.last()

	eventually(t, func() bool {
		_, applied, _, _ := op.stats()
		return applied == 1
	}, "answer applied by offerer")
	eventually(t, func() bool {
		_, _, remote, _ := ap.stats()
		return remote == 1
	}, "offer candidate applied by answerer")

	ap.gather(hostCandidate)
	eventually(t, func() bool {
		_, _, remote, _ := op.stats()
		return remote == 1
	}, "answer candidate applied by offerer")

	// Consumed candidates are removed from the room.
	eventually(t, func() bool {
		a, _ := mem.Get(room.CandidatesPath(id, room.Answer))
		o, _ := mem.Get(room.CandidatesPath(id, room.Offer))
		return !a.Exists() && !o.Exists()
	}, "candidates deleted after use")
}

func TestDuplicateAnswerAppliedOnce(t *testing.T) {
	ctx := context.Background()
	mem := rtdb.NewMemory()
	off := newHarness(t, mem.Session(), RoleOfferer)
	ans := newHarness(t, mem.Session(), RoleAnswerer)

	id, err := off.StartCall(ctx)
	require.NoError(t, err)
	require.NoError(t, ans.JoinCall(ctx, id))
	op := off.peers.last()

	eventually(t, func() bool {
		calls, _, _, _ := op.stats()
		return calls == 1
	}, "first answer seen")

	again := room.SessionDescription{Type: "answer", SDP: "v=0 answer again"}
	require.NoError(t, room.PublishDescription(ctx, mem.Session(), id, room.Answer, again))

	eventually(t, func() bool {
		calls, _, _, _ := op.stats()
		return calls == 2
	}, "second answer seen")
	_, applied, _, _ := op.stats()
	assert.Equal(t, 1, applied)
	assert.Equal(t, StateActive, off.State())
}

func TestJoinMissingRoom(t *testing.T) {
	ans := newHarness(t, rtdb.NewMemory().Session(), RoleAnswerer, func(o *Options) {
		o.ReturnDelay = 20 * time.Millisecond
		o.Landing = "/patient/dashboard"
	})

	id, err := room.GenerateID(0)
	require.NoError(t, err)
	err = ans.JoinCall(context.Background(), id)
	require.ErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, ReasonRoomNotFound, ans.reason())

	acquired, _ := ans.src.counts()
	assert.Zero(t, acquired, "no media for a missing room")
	assert.Zero(t, ans.peers.count(), "no peer connection for a missing room")

	var landing string
	timeout := time.After(2 * time.Second)
	for landing == "" {
		select {
		case e := <-ans.Events():
			if e.Kind == EventNavigate {
				landing = e.Landing
			}
		case <-timeout:
			t.Fatal("no navigation event")
		}
	}
	assert.Equal(t, "/patient/dashboard", landing)
	assert.Equal(t, StateIdle, ans.State())
}

func TestJoinInvalidIDIsNotFound(t *testing.T) {
	ans := newHarness(t, rtdb.NewMemory().Session(), RoleAnswerer)
	err := ans.JoinCall(context.Background(), "../x")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinWaitsForOffer(t *testing.T) {
	ctx := context.Background()
	mem := rtdb.NewMemory()
	id, err := room.Reserve(ctx, mem.Session(), 0)
	require.NoError(t, err)

	ans := newHarness(t, mem.Session(), RoleAnswerer)
	joined := make(chan error, 1)
	go func() { joined <- ans.JoinCall(ctx, id) }()

	time.Sleep(20 * time.Millisecond)
	offer := room.SessionDescription{Type: "offer", SDP: "v=0 late offer"}
	require.NoError(t, room.PublishDescription(ctx, mem.Session(), id, room.Offer, offer))

	select {
	case err := <-joined:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("join did not finish")
	}
	assert.Equal(t, StateActive, ans.State())
}

func TestHangUpTearsDownOnce(t *testing.T) {
	mem := rtdb.NewMemory()
	off := newHarness(t, mem.Session(), RoleOfferer)

	id, err := off.StartCall(context.Background())
	require.NoError(t, err)
	op := off.peers.last()

	off.HangUp()
	off.HangUp()
	off.Wait()

	_, _, _, closes := op.stats()
	assert.Equal(t, 1, closes)
	_, stopped := off.src.counts()
	assert.Equal(t, 1, stopped)
	assert.Equal(t, StateEnded, off.State())
	assert.Equal(t, ReasonHangUp, off.reason())
	assert.Nil(t, off.LocalStream())

	snap, err := mem.Get(room.Path(id))
	require.NoError(t, err)
	assert.False(t, snap.Exists(), "room deleted on hang up")
}

func TestRemoteHangUpEndsAnswerer(t *testing.T) {
	ctx := context.Background()
	mem := rtdb.NewMemory()
	off := newHarness(t, mem.Session(), RoleOfferer)
	ans := newHarness(t, mem.Session(), RoleAnswerer)

	id, err := off.StartCall(ctx)
	require.NoError(t, err)
	require.NoError(t, ans.JoinCall(ctx, id))

	off.HangUp()

	eventually(t, func() bool { return ans.State() == StateEnded }, "answerer ended")
	assert.Equal(t, ReasonRemoteHangUp, ans.reason())
	_, _, _, closes := ans.peers.last().stats()
	assert.Equal(t, 1, closes)
}

func TestPeerLeavingEndsCallAndRemovesRoom(t *testing.T) {
	ctx := context.Background()
	mem := rtdb.NewMemory()
	off := newHarness(t, mem.Session(), RoleOfferer)
	ans := newHarness(t, mem.Session(), RoleAnswerer)

	id, err := off.StartCall(ctx)
	require.NoError(t, err)
	require.NoError(t, ans.JoinCall(ctx, id))
	op := off.peers.last()

	op.fire(webrtc.PeerConnectionStateConnected)
	op.fire(webrtc.PeerConnectionStateDisconnected)
	op.fire(webrtc.PeerConnectionStateClosed)

	assert.Equal(t, StateEnded, off.State())
	assert.Equal(t, ReasonRemoteHangUp, off.reason())
	assert.Nil(t, off.Err())
	_, _, _, closes := op.stats()
	assert.Equal(t, 1, closes)

	off.Wait()
	snap, err := mem.Get(room.Path(id))
	require.NoError(t, err)
	assert.False(t, snap.Exists())
	eventually(t, func() bool { return ans.State() == StateEnded }, "answerer follows")
}

func TestNegotiationFailure(t *testing.T) {
	off := newHarness(t, rtdb.NewMemory().Session(), RoleOfferer)
	_, err := off.StartCall(context.Background())
	require.NoError(t, err)

	off.peers.last().fire(webrtc.PeerConnectionStateFailed)
	assert.Equal(t, ReasonPeerFailure, off.reason())
	assert.ErrorIs(t, off.Err(), ErrPeerConnection)
}

func TestMediaDeniedReturnsToIdle(t *testing.T) {
	mem := rtdb.NewMemory()
	off := newHarness(t, mem.Session(), RoleOfferer)
	off.src.deny = true

	_, err := off.StartCall(context.Background())
	require.ErrorIs(t, err, ErrMediaAccessDenied)
	assert.Equal(t, StateIdle, off.State())
	assert.Zero(t, off.peers.count())
	assert.Equal(t, ReasonMediaDenied, off.reason())

	off.Wait()
	snap, err := mem.Get(room.Root)
	require.NoError(t, err)
	assert.False(t, snap.Exists(), "nothing written before media")
}

func TestChannelLossEndsCall(t *testing.T) {
	mem := rtdb.NewMemory()
	sess := mem.Session()
	off := newHarness(t, sess, RoleOfferer)

	id, err := off.StartCall(context.Background())
	require.NoError(t, err)

	sess.Drop()

	eventually(t, func() bool { return off.State() == StateEnded }, "call ended")
	assert.Equal(t, ReasonChannelError, off.reason())
	assert.True(t, errors.Is(off.Err(), ErrSignalingChannel))

	snap, err := mem.Get(room.Path(id))
	require.NoError(t, err)
	assert.False(t, snap.Exists(), "room removed on disconnect")
}

func TestWaitTimeout(t *testing.T) {
	off := newHarness(t, rtdb.NewMemory().Session(), RoleOfferer, func(o *Options) {
		o.WaitTimeout = 30 * time.Millisecond
	})
	_, err := off.StartCall(context.Background())
	require.NoError(t, err)

	eventually(t, func() bool { return off.State() == StateEnded }, "timed out")
	assert.Equal(t, ReasonWaitTimeout, off.reason())
	assert.ErrorIs(t, off.Err(), ErrWaitTimeout)
}

func TestWaitTimeoutCancelledByConnect(t *testing.T) {
	off := newHarness(t, rtdb.NewMemory().Session(), RoleOfferer, func(o *Options) {
		o.WaitTimeout = 30 * time.Millisecond
	})
	_, err := off.StartCall(context.Background())
	require.NoError(t, err)
	off.peers.last().fire(webrtc.PeerConnectionStateConnected)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, StateActive, off.State())
}

func TestToggles(t *testing.T) {
	off := newHarness(t, rtdb.NewMemory().Session(), RoleOfferer)

	_, err := off.ToggleMute()
	assert.ErrorIs(t, err, ErrNoCall)

	_, err = off.StartCall(context.Background())
	require.NoError(t, err)
	op := off.peers.last()

	muted, err := off.ToggleMute()
	require.NoError(t, err)
	assert.True(t, muted)
	assert.False(t, op.enabled[webrtc.RTPCodecTypeAudio])

	muted, err = off.ToggleMute()
	require.NoError(t, err)
	assert.False(t, muted)
	assert.True(t, op.enabled[webrtc.RTPCodecTypeAudio])

	off.ToggleVideo()
	assert.False(t, op.enabled[webrtc.RTPCodecTypeVideo])
}

func TestSessionIsReusableAfterReturn(t *testing.T) {
	off := newHarness(t, rtdb.NewMemory().Session(), RoleOfferer, func(o *Options) {
		o.ReturnDelay = 10 * time.Millisecond
	})
	first, err := off.StartCall(context.Background())
	require.NoError(t, err)
	off.HangUp()

	eventually(t, func() bool { return off.State() == StateIdle }, "back to idle")

	second, err := off.StartCall(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, off.peers.count())
	assert.Equal(t, ReasonNone, off.reason())
}

func TestUserMessage(t *testing.T) {
	err := WrapError("join call", ErrRoomNotFound, "abc")
	assert.Contains(t, UserMessage(err), "does not exist")
	assert.Equal(t, "join call: room not found (abc)", err.Error())
	assert.Empty(t, UserMessage(nil))
}

func TestClassifyKeepsCause(t *testing.T) {
	err := classify("acquire media", ErrMediaAccessDenied, media.ErrAccessDenied)
	assert.ErrorIs(t, err, ErrMediaAccessDenied)
	assert.ErrorIs(t, err, media.ErrAccessDenied)

	err = classify("publish offer", ErrSignalingChannel, fmt.Errorf("write: %w", rtdb.ErrDisconnected))
	assert.ErrorIs(t, err, ErrSignalingChannel)
	assert.ErrorIs(t, err, rtdb.ErrDisconnected)
	assert.Contains(t, UserMessage(err), "Lost connection")

	assert.Equal(t, "create offer: peer connection failure", classify("create offer", ErrPeerConnection, nil).Error())
}

func TestLateAnswerDoesNotRecreateRoom(t *testing.T) {
	ctx := context.Background()
	mem := rtdb.NewMemory()
	off := newHarness(t, mem.Session(), RoleOfferer)
	ans := newHarness(t, mem.Session(), RoleAnswerer)

	id, err := off.StartCall(ctx)
	require.NoError(t, err)

	entered, release := ans.src.hold()
	joined := make(chan error, 1)
	go func() { joined <- ans.JoinCall(ctx, id) }()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("answerer never asked for media")
	}
	off.HangUp()
	off.Wait()
	release()

	select {
	case err := <-joined:
		assert.ErrorIs(t, err, ErrHungUp)
	case <-time.After(2 * time.Second):
		t.Fatal("join did not finish")
	}
	assert.Equal(t, StateEnded, ans.State())
	assert.Equal(t, ReasonRemoteHangUp, ans.reason())
	_, _, _, closes := ans.peers.last().stats()
	assert.Equal(t, 1, closes)
	_, stopped := ans.src.counts()
	assert.Equal(t, 1, stopped)

	snap, err := mem.Get(room.Path(id))
	require.NoError(t, err)
	assert.False(t, snap.Exists(), "room stays deleted")

	late := newHarness(t, mem.Session(), RoleAnswerer)
	assert.ErrorIs(t, late.JoinCall(ctx, id), ErrRoomNotFound)
}

func TestOffererDisconnectEndsAnswerer(t *testing.T) {
	ctx := context.Background()
	mem := rtdb.NewMemory()
	offStore := mem.Session()
	off := newHarness(t, offStore, RoleOfferer)
	ans := newHarness(t, mem.Session(), RoleAnswerer)

	id, err := off.StartCall(ctx)
	require.NoError(t, err)
	require.NoError(t, ans.JoinCall(ctx, id))

	offStore.Drop()

	eventually(t, func() bool { return ans.State() == StateEnded }, "answerer ended")
	assert.Equal(t, ReasonRemoteHangUp, ans.reason())
	assert.Nil(t, ans.Err())
	_, _, _, closes := ans.peers.last().stats()
	assert.Equal(t, 1, closes)
	_, stopped := ans.src.counts()
	assert.Equal(t, 1, stopped)

	snap, err := mem.Get(room.Path(id))
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestHangUpRacingPeerLeftTearsDownOnce(t *testing.T) {
	for range 20 {
		off := newHarness(t, rtdb.NewMemory().Session(), RoleOfferer)
		_, err := off.StartCall(context.Background())
		require.NoError(t, err)
		op := off.peers.last()
		op.fire(webrtc.PeerConnectionStateConnected)

		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			off.HangUp()
		}()
		go func() {
			defer wg.Done()
			<-start
			op.fire(webrtc.PeerConnectionStateDisconnected)
		}()
		close(start)
		wg.Wait()
		off.Wait()

		assert.Equal(t, StateEnded, off.State())
		assert.Contains(t, []Reason{ReasonHangUp, ReasonRemoteHangUp}, off.reason())
		_, _, _, closes := op.stats()
		assert.Equal(t, 1, closes)
		_, stopped := off.src.counts()
		assert.Equal(t, 1, stopped)
	}
}

func TestJoinCancelledWhileWaitingIsHangUp(t *testing.T) {
	mem := rtdb.NewMemory()
	id, err := room.Reserve(context.Background(), mem.Session(), 0)
	require.NoError(t, err)

	ans := newHarness(t, mem.Session(), RoleAnswerer)
	ctx, cancel := context.WithCancel(context.Background())
	joined := make(chan error, 1)
	go func() { joined <- ans.JoinCall(ctx, id) }()

	eventually(t, func() bool { return ans.State() == StateLoading }, "joining")
	cancel()

	select {
	case err := <-joined:
		assert.ErrorIs(t, err, ErrHungUp)
		assert.Equal(t, "The call ended before it was set up.", UserMessage(err))
	case <-time.After(2 * time.Second):
		t.Fatal("join did not finish")
	}
	assert.Equal(t, ReasonHangUp, ans.reason())
	assert.Nil(t, ans.Err())
	acquired, _ := ans.src.counts()
	assert.Zero(t, acquired)
}

func TestStartCallMovesToLoadingBeforeMedia(t *testing.T) {
	mem := rtdb.NewMemory()
	off := newHarness(t, mem.Session(), RoleOfferer)

	entered, release := off.src.hold()
	started := make(chan error, 1)
	go func() {
		_, err := off.StartCall(context.Background())
		started <- err
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("offerer never asked for media")
	}
	assert.Equal(t, StateLoading, off.State())
	snap, err := mem.Get(room.Root)
	require.NoError(t, err)
	assert.False(t, snap.Exists(), "no room before media")

	release()
	require.NoError(t, <-started)
	assert.Equal(t, StateActive, off.State())
}
