package call

import (
	"github.com/mosaicnetworks/callrelay/src/mailbox"
	"github.com/mosaicnetworks/callrelay/src/peer"
)

// recordType maps a handshake signal to the mailbox type carrying it.
func recordType(t peer.SignalType) mailbox.Type {
	switch t {
	case peer.SignalOffer:
		return mailbox.TypeOffer
	case peer.SignalAnswer:
		return mailbox.TypeAnswer
	default:
		return mailbox.TypeICE
	}
}

// signalType is the handshake signal type expected in a mailbox type.
func signalType(t mailbox.Type) peer.SignalType {
	switch t {
	case mailbox.TypeOffer:
		return peer.SignalOffer
	case mailbox.TypeAnswer:
		return peer.SignalAnswer
	default:
		return peer.SignalCandidate
	}
}

// handshakeTypes are the mailbox types whose presence means a call is alive.
var handshakeTypes = []mailbox.Type{mailbox.TypeOffer, mailbox.TypeAnswer, mailbox.TypeICE}
