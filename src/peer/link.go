package peer

import "net"

// ConnState is the connectivity of a Link.
type ConnState int

const (
	// Connecting is the initial state.
	Connecting ConnState = iota
	// Connected means media can flow.
	Connected
	// Disconnected may recover.
	Disconnected
	// Failed does not recover.
	Failed
	// Closed means Close was called.
	Closed
)

// String ...
func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	case Failed:
		return "Failed"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Track is an outgoing media track handle. The pion link requires the
// concrete value to be a webrtc.TrackLocal.
type Track interface {
	ID() string
	StreamID() string
}

// Stopper is implemented by tracks that hold a capture device.
type Stopper interface {
	Stop() error
}

// StopTrack stops t if it can be stopped.
func StopTrack(t Track) error {
	if s, ok := t.(Stopper); ok {
		return s.Stop()
	}
	return nil
}

// LocalMedia is the set of outgoing tracks a link starts with. Either may be
// nil.
type LocalMedia struct {
	Audio Track
	Video Track
}

// Stop stops both tracks and returns the first error.
func (m LocalMedia) Stop() error {
	err := StopTrack(m.Audio)
	if verr := StopTrack(m.Video); err == nil {
		err = verr
	}
	return err
}

// RemoteTrack is an inbound media track surfaced by a link. Handle is the
// underlying implementation's track object, for example a *webrtc.TrackRemote.
type RemoteTrack struct {
	From   string
	ID     string
	Kind   string
	Handle interface{}
}

// Handlers receive a link's events. Any of them may be nil. They are called
// from the link's own goroutines.
type Handlers struct {
	// OnSignal is called with every local handshake signal that must be sent
	// to the remote identity.
	OnSignal func(Signal)
	OnTrack  func(RemoteTrack)
	OnState  func(ConnState)
	// OnConn is called once the control data channel is open.
	OnConn func(net.Conn)
}

// Link is one peer connection bound to one remote identity.
type Link interface {
	// Remote returns the remote identity.
	Remote() string
	// Initiate produces the offer through OnSignal. Only the originating side
	// calls it.
	Initiate() error
	// Apply consumes a remote signal. Applying an offer produces an answer
	// through OnSignal. Candidates received before the remote description are
	// queued.
	Apply(sig Signal) error
	// ReplaceVideoTrack swaps the outgoing video track in place, without a
	// new offer/answer round. A nil track stops sending video.
	ReplaceVideoTrack(track Track) error
	Close() error
}

// Factory creates links.
type Factory interface {
	NewLink(remote string, media LocalMedia, h Handlers) (Link, error)
}
