package cmd

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rehaani/mediconnect/internal/call"
	"github.com/rehaani/mediconnect/internal/config"
	"github.com/rehaani/mediconnect/internal/identity"
	"github.com/rehaani/mediconnect/internal/media"
	"github.com/rehaani/mediconnect/internal/peer"
	"github.com/rehaani/mediconnect/internal/room"
	"github.com/rehaani/mediconnect/internal/rtdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoomInput(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "Ab3dE9x", want: "Ab3dE9x"},
		{in: "  Ab3dE9x ", want: "Ab3dE9x"},
		{in: "https://consult.mediconnect.app/consult/Ab3dE9x", want: "Ab3dE9x"},
		{in: "https://consult.mediconnect.app/consult/Ab3dE9x/", want: "Ab3dE9x"},
		{in: "consult.mediconnect.app/consult/Ab3dE9x", want: "Ab3dE9x"},
		{in: "https://old.example/r/xyz", want: "xyz"},
		{in: "https://consult.mediconnect.app/dashboard", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseRoomInput(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestICEConfig(t *testing.T) {
	cfg := &config.Config{
		STUNServer: "stun:stun.example:3478",
		TURNServer: "turn.example",
		TURNUser:   "u",
		TURNPass:   "p",
		Relay:      config.RelayAlways,
	}
	ice := iceConfig(cfg)
	assert.Equal(t, []string{"stun:stun.example:3478"}, ice.STUN)
	assert.Len(t, ice.TURN, 3)
	assert.Equal(t, "u", ice.TURNUser)
	assert.True(t, ice.ForceRelay)
	assert.False(t, ice.AutoRelay)

	cfg.Relay = config.RelayAuto
	assert.True(t, iceConfig(cfg).AutoRelay)
}

func TestMediaSource(t *testing.T) {
	src, err := mediaSource(mediaSynthetic)
	require.NoError(t, err)
	assert.IsType(t, media.Synthetic{}, src)

	src, err = mediaSource(mediaAuto)
	require.NoError(t, err)
	assert.NotNil(t, src)

	_, err = mediaSource("webcam")
	assert.Error(t, err)
}

func TestResolveIdentity(t *testing.T) {
	cfg := &config.Config{UserID: "dr-1"}
	id, err := resolveIdentity(cfg, identity.Provider, call.RoleOfferer)
	require.NoError(t, err)
	assert.Equal(t, identity.Provider, id.Role)

	cfg.Role = "patient"
	_, err = resolveIdentity(cfg, identity.Provider, call.RoleOfferer)
	assert.Error(t, err)

	cfg.Role = "admin"
	_, err = resolveIdentity(cfg, identity.Patient, call.RoleAnswerer)
	assert.ErrorIs(t, err, identity.ErrNoCallRole)
}

func TestListRooms(t *testing.T) {
	ctx := context.Background()
	store := rtdb.NewMemory().Session()

	rooms, err := listRooms(ctx, store)
	require.NoError(t, err)
	assert.Empty(t, rooms)

	id, err := room.Reserve(ctx, store, 0)
	require.NoError(t, err)
	require.NoError(t, room.PublishDescription(ctx, store, id, room.Offer,
		room.SessionDescription{Type: "offer", SDP: "v=0"}))

	rooms, err = listRooms(ctx, store)
	require.NoError(t, err)
	require.Contains(t, rooms, id)
	assert.NotNil(t, rooms[id].Offer)
}

func TestCallOverSignalingServer(t *testing.T) {
	if testing.Short() {
		t.Skip("establishes a real ICE session")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := rtdb.NewHub(nil)
	go hub.Run(ctx)
	srv := httptest.NewServer(rtdb.NewServeMux(hub))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	ice := peer.ICEConfig{IncludeLoopback: true}
	newCall := func(role call.Role) *call.Session {
		client, err := rtdb.Dial(ctx, wsURL)
		require.NoError(t, err)
		t.Cleanup(func() { client.Close() })
		s, err := call.New(call.Options{
			Role:        role,
			Store:       client,
			Media:       media.Synthetic{},
			NewPeer:     peerFactory(ice, media.Synthetic{}),
			ReturnDelay: time.Hour,
		})
		require.NoError(t, err)
		return s
	}

	provider := newCall(call.RoleOfferer)
	patient := newCall(call.RoleAnswerer)

	id, err := provider.StartCall(ctx)
	require.NoError(t, err)
	require.NoError(t, patient.JoinCall(ctx, id))

	require.Eventually(t, func() bool {
		r := patient.RemoteStream()
		return r != nil && r.Packets() > 0
	}, 20*time.Second, 50*time.Millisecond, "patient receives media")
	require.Eventually(t, func() bool {
		r := provider.RemoteStream()
		return r != nil && r.Packets() > 0
	}, 20*time.Second, 50*time.Millisecond, "provider receives media")

	provider.HangUp()
	provider.Wait()

	require.Eventually(t, func() bool { return patient.State() == call.StateEnded },
		10*time.Second, 20*time.Millisecond, "patient sees the call end")
	assert.Equal(t, call.ReasonRemoteHangUp, patient.Summary().Reason)

	snap, err := hub.Memory().Get(room.Path(id))
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}
