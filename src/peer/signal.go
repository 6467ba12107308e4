package peer

import (
	"encoding/json"
	"fmt"

	"github.com/mosaicnetworks/callrelay/src/common"
	"github.com/mosaicnetworks/callrelay/src/crypto"
)

// SignalType discriminates handshake signals on the wire.
type SignalType string

const (
	// SignalOffer is an SDP offer.
	SignalOffer SignalType = "offer"
	// SignalAnswer is an SDP answer.
	SignalAnswer SignalType = "answer"
	// SignalCandidate is an ICE candidate.
	SignalCandidate SignalType = "candidate"
)

// Candidate is an ICE candidate in its JSON wire form.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Signal is one handshake message: an offer, an answer or a candidate,
// selected by Type.
type Signal struct {
	Type      SignalType `json:"type"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`
}

// NewOffer ...
func NewOffer(sdp string) Signal {
	return Signal{Type: SignalOffer, SDP: sdp}
}

// NewAnswer ...
func NewAnswer(sdp string) Signal {
	return Signal{Type: SignalAnswer, SDP: sdp}
}

// NewCandidate ...
func NewCandidate(c Candidate) Signal {
	return Signal{Type: SignalCandidate, Candidate: &c}
}

// Validate checks that the fields required by Type are present.
func (s Signal) Validate() error {
	switch s.Type {
	case SignalOffer, SignalAnswer:
		if s.SDP == "" {
			return common.NewCallErr("peer", common.DecodeError, fmt.Sprintf("%s without sdp", s.Type), nil)
		}
	case SignalCandidate:
		if s.Candidate == nil {
			return common.NewCallErr("peer", common.DecodeError, "candidate without body", nil)
		}
	default:
		return common.NewCallErr("peer", common.DecodeError, fmt.Sprintf("unknown signal type %q", s.Type), nil)
	}
	return nil
}

// Marshal ...
func (s Signal) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal decodes and validates a signal.
func (s *Signal) Unmarshal(data []byte) error {
	if err := json.Unmarshal(data, s); err != nil {
		return common.NewCallErr("peer", common.DecodeError, "signal json", err)
	}
	return s.Validate()
}

// Seal encrypts a signal with the session key into mailbox content.
func Seal(key []byte, s Signal) (string, error) {
	data, err := s.Marshal()
	if err != nil {
		return "", err
	}
	return crypto.EncryptPayload(key, data)
}

// Open decrypts mailbox content into a signal.
func Open(key []byte, content string) (Signal, error) {
	var s Signal

	data, err := crypto.DecryptPayload(key, content)
	if err != nil {
		return s, err
	}

	err = s.Unmarshal(data)

	return s, err
}
