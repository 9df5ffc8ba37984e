package call

import (
	"github.com/pion/webrtc/v4"
)

type EventKind int

const (
	// EventState reports a state change.
	EventState EventKind = iota
	// EventRoom reports the room id once it is known.
	EventRoom
	// EventConnection reports a peer connection state change.
	EventConnection
	// EventRemoteTrack reports a track from the other party.
	EventRemoteTrack
	// EventError carries a failure and its user-facing message.
	EventError
	// EventNavigate asks the UI to leave the call view for Landing.
	EventNavigate
)

// Event is what the session publishes to the UI.
type Event struct {
	Kind    EventKind
	State   State
	RoomID  string
	Reason  Reason
	Err     error
	Message string

	Connection webrtc.PeerConnectionState
	TrackKind  webrtc.RTPCodecType
	Landing    string
}
