package peer

import (
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rehaani/mediconnect/internal/netutil"
)

// ICEConfig is the STUN/TURN setup for a connection.
type ICEConfig struct {
	STUN     []string
	TURN     []string
	TURNUser string
	TURNPass string

	// ForceRelay restricts candidates to TURN relays. It only applies when
	// TURN servers are configured.
	ForceRelay bool
	// AutoRelay turns on ForceRelay when the host looks like it is behind a VPN or CGNAT.
	AutoRelay bool

	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration

	// IncludeLoopback gathers 127.0.0.1 candidates. Only useful for local testing.
	IncludeLoopback bool
}

const (
	defaultDisconnectedTimeout = 5 * time.Second
	defaultFailedTimeout       = 25 * time.Second
	keepAliveInterval          = 2 * time.Second
)

func (c ICEConfig) servers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(c.STUN) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUN})
	}
	if len(c.TURN) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       c.TURN,
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}

func (c ICEConfig) policy() webrtc.ICETransportPolicy {
	if len(c.TURN) == 0 {
		return webrtc.ICETransportPolicyAll
	}
	if c.ForceRelay || (c.AutoRelay && netutil.ShouldForceRelay()) {
		return webrtc.ICETransportPolicyRelay
	}
	return webrtc.ICETransportPolicyAll
}

func (c ICEConfig) settingEngine() webrtc.SettingEngine {
	disconnected := c.DisconnectedTimeout
	if disconnected <= 0 {
		disconnected = defaultDisconnectedTimeout
	}
	failed := c.FailedTimeout
	if failed <= 0 {
		failed = defaultFailedTimeout
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(disconnected, failed, keepAliveInterval)
	if c.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}
	return se
}
