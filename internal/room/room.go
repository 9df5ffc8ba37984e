// Package room describes the shared room document two parties use to
// exchange session descriptions and ICE candidates.
package room

import (
	"github.com/pion/webrtc/v4"
)

// Room is the document stored at rooms/{id}.
type Room struct {
	Offer            *SessionDescription  `msgpack:"offer,omitempty"`
	Answer           *SessionDescription  `msgpack:"answer,omitempty"`
	OfferCandidates  map[string]Candidate `msgpack:"offerCandidates,omitempty"`
	AnswerCandidates map[string]Candidate `msgpack:"answerCandidates,omitempty"`
	Ended            bool                 `msgpack:"ended"`
}

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string `msgpack:"type"`
	SDP  string `msgpack:"sdp"`
}

func FromSDP(d webrtc.SessionDescription) SessionDescription {
	return SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func (d SessionDescription) ToSDP() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}

// Candidate is one ICE candidate record.
type Candidate struct {
	Candidate        string  `msgpack:"candidate"`
	SDPMid           *string `msgpack:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `msgpack:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `msgpack:"usernameFragment,omitempty"`
}

func FromICE(c webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func (c Candidate) ToICE() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
