package call

import "fmt"

// State is the lifecycle state of a call session.
type State int

const (
	StateIdle State = iota
	StateCreating
	StateLoading
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCreating:
		return "creating"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Role decides which half of the handshake a session performs.
type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

func (r Role) Valid() bool {
	return r == RoleOfferer || r == RoleAnswerer
}

// Reason records why a call ended.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonHangUp       Reason = "hung up"
	ReasonRemoteHangUp Reason = "remote party left"
	ReasonRoomNotFound Reason = "room not found"
	ReasonMediaDenied  Reason = "media access denied"
	ReasonChannelError Reason = "signaling channel lost"
	ReasonPeerFailure  Reason = "connection failed"
	ReasonWaitTimeout  Reason = "no one joined in time"
)

// trigger is an input to the state machine.
type trigger int

const (
	trStart trigger = iota
	trRoomReady
	trJoin
	trSignaled
	trMediaDenied
	trHangUp
	trRemoteGone
	trPeerLeft
	trRoomNotFound
	trChannelLost
	trPeerFailed
	trWaitTimeout
	trReset
)

func (t trigger) String() string {
	return [...]string{
		"start", "room-ready", "join", "signaled", "media-denied", "hang-up",
		"remote-gone", "peer-left", "room-not-found", "channel-lost", "peer-failed", "wait-timeout", "reset",
	}[t]
}

// reason maps a terminal trigger to the reason reported to the user.
func (t trigger) reason() Reason {
	switch t {
	case trHangUp:
		return ReasonHangUp
	case trRemoteGone, trPeerLeft:
		return ReasonRemoteHangUp
	case trRoomNotFound:
		return ReasonRoomNotFound
	case trMediaDenied:
		return ReasonMediaDenied
	case trChannelLost:
		return ReasonChannelError
	case trPeerFailed:
		return ReasonPeerFailure
	case trWaitTimeout:
		return ReasonWaitTimeout
	}
	return ReasonNone
}

// transition is the complete transition table. ok is false when the
// trigger does not apply in the current state, which makes every terminal
// trigger a no-op once the call has ended.
func transition(cur State, t trigger) (next State, ok bool) {
	switch t {
	case trStart:
		if cur == StateIdle {
			return StateCreating, true
		}
	case trRoomReady:
		if cur == StateCreating {
			return StateLoading, true
		}
	case trJoin:
		if cur == StateIdle {
			return StateLoading, true
		}
	case trSignaled:
		if cur == StateLoading {
			return StateActive, true
		}
	case trMediaDenied:
		if cur == StateCreating || cur == StateLoading {
			return StateIdle, true
		}
	case trRoomNotFound:
		if cur == StateLoading {
			return StateEnded, true
		}
	case trWaitTimeout:
		if cur == StateActive {
			return StateEnded, true
		}
	case trHangUp, trRemoteGone, trPeerLeft, trChannelLost, trPeerFailed:
		if cur == StateCreating || cur == StateLoading || cur == StateActive {
			return StateEnded, true
		}
	case trReset:
		if cur == StateEnded {
			return StateIdle, true
		}
	}
	return cur, false
}
