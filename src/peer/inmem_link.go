package peer

import (
	"fmt"
	"net"
	"sync"

	"github.com/mosaicnetworks/callrelay/src/common"
)

type pairKey struct {
	a, b string
}

func newPairKey(x, y string) pairKey {
	if x < y {
		return pairKey{x, y}
	}
	return pairKey{y, x}
}

// InmemNetwork is a registry of in-memory links. It stands in for the media
// plane in tests: links connect as soon as both descriptions are set, and
// each connected pair shares a net.Pipe as control channel.
type InmemNetwork struct {
	sync.Mutex
	links   map[string][]*InmemLink
	pipes   map[pairKey][2]net.Conn
	trickle bool
	perLink int
}

// NewInmemNetwork ...
func NewInmemNetwork(trickle bool) *InmemNetwork {
	return &InmemNetwork{
		links:   make(map[string][]*InmemLink),
		pipes:   make(map[pairKey][2]net.Conn),
		trickle: trickle,
		perLink: 1,
	}
}

// SetCandidates sets how many candidates each link trickles.
func (n *InmemNetwork) SetCandidates(count int) {
	n.Lock()
	defer n.Unlock()

	n.perLink = count
}

func (n *InmemNetwork) candidates() int {
	n.Lock()
	defer n.Unlock()

	if !n.trickle {
		return 0
	}
	return n.perLink
}

// Factory returns a Factory creating links owned by me.
func (n *InmemNetwork) Factory(me string) Factory {
	return &inmemFactory{net: n, me: me}
}

// Links returns every link ever created by me, in creation order.
func (n *InmemNetwork) Links(me string) []*InmemLink {
	n.Lock()
	defer n.Unlock()

	return append([]*InmemLink(nil), n.links[me]...)
}

// LinksTo returns the links me created towards remote.
func (n *InmemNetwork) LinksTo(me, remote string) []*InmemLink {
	res := []*InmemLink{}
	for _, l := range n.Links(me) {
		if l.remote == remote {
			res = append(res, l)
		}
	}
	return res
}

func (n *InmemNetwork) register(l *InmemLink) {
	n.Lock()
	defer n.Unlock()

	n.links[l.me] = append(n.links[l.me], l)
}

// pipeEnd returns me's end of the control pipe shared with remote.
func (n *InmemNetwork) pipeEnd(me, remote string) net.Conn {
	n.Lock()
	defer n.Unlock()

	k := newPairKey(me, remote)
	p, ok := n.pipes[k]
	if !ok {
		c1, c2 := net.Pipe()
		p = [2]net.Conn{c1, c2}
		n.pipes[k] = p
	}

	if me == k.a {
		return p[0]
	}
	return p[1]
}

type inmemFactory struct {
	net *InmemNetwork
	me  string
}

// NewLink implements Factory
func (f *inmemFactory) NewLink(remote string, media LocalMedia, h Handlers) (Link, error) {
	l := &InmemLink{
		net:      f.net,
		me:       f.me,
		remote:   remote,
		handlers: h,
		video:    media.Video,
		state:    Connecting,
	}
	f.net.register(l)
	return l, nil
}

// InmemLink implements Link without any network. Descriptions are opaque
// strings naming the two sides.
type InmemLink struct {
	sync.Mutex

	net      *InmemNetwork
	me       string
	remote   string
	handlers Handlers

	localDesc  bool
	remoteDesc bool
	remoteSDP  string
	candidates int
	pending    int
	video      Track
	state      ConnState
}

// Remote implements Link
func (l *InmemLink) Remote() string {
	return l.remote
}

// Initiate implements Link
func (l *InmemLink) Initiate() error {
	l.Lock()
	if l.localDesc {
		l.Unlock()
		return common.NewCallErr("peer", common.ProtocolViolation, "offer already created", nil)
	}
	l.localDesc = true
	l.Unlock()

	l.emit(NewOffer(fmt.Sprintf("inmem offer %s->%s", l.me, l.remote)))
	l.trickleCandidate()

	return nil
}

// Apply implements Link
func (l *InmemLink) Apply(sig Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}

	switch sig.Type {
	case SignalOffer:
		l.Lock()
		if l.remoteDesc {
			l.Unlock()
			return common.NewCallErr("peer", common.ProtocolViolation, "second offer", nil)
		}
		l.remoteDesc = true
		l.remoteSDP = sig.SDP
		l.localDesc = true
		l.flushPending()
		l.Unlock()

		l.emit(NewAnswer(fmt.Sprintf("inmem answer %s->%s", l.me, l.remote)))
		l.trickleCandidate()
		l.maybeConnect()

	case SignalAnswer:
		l.Lock()
		if l.remoteDesc {
			l.Unlock()
			return common.NewCallErr("peer", common.ProtocolViolation, "answer after remote description", nil)
		}
		l.remoteDesc = true
		l.remoteSDP = sig.SDP
		l.flushPending()
		l.Unlock()

		l.maybeConnect()

	case SignalCandidate:
		l.Lock()
		if l.remoteDesc {
			l.candidates++
		} else {
			l.pending++
		}
		l.Unlock()
	}

	return nil
}

// flushPending must be called with the lock held.
func (l *InmemLink) flushPending() {
	l.candidates += l.pending
	l.pending = 0
}

func (l *InmemLink) trickleCandidate() {
	for i := 0; i < l.net.candidates(); i++ {
		l.emit(NewCandidate(Candidate{
			Candidate: fmt.Sprintf("candidate:%d inmem %s", i, l.me),
		}))
	}
}

func (l *InmemLink) maybeConnect() {
	l.Lock()
	if l.state != Connecting || !l.localDesc || !l.remoteDesc {
		l.Unlock()
		return
	}
	l.state = Connected
	l.Unlock()

	if l.handlers.OnState != nil {
		l.handlers.OnState(Connected)
	}
	if l.handlers.OnTrack != nil {
		l.handlers.OnTrack(RemoteTrack{
			From: l.remote,
			ID:   "video-" + l.remote,
			Kind: "video",
		})
	}
	if l.handlers.OnConn != nil {
		l.handlers.OnConn(l.net.pipeEnd(l.me, l.remote))
	}
}

func (l *InmemLink) emit(sig Signal) {
	if l.handlers.OnSignal != nil {
		l.handlers.OnSignal(sig)
	}
}

// ReplaceVideoTrack implements Link
func (l *InmemLink) ReplaceVideoTrack(track Track) error {
	l.Lock()
	defer l.Unlock()

	if l.state == Closed {
		return common.NewCallErr("peer", common.ProtocolViolation, "link closed", nil)
	}
	l.video = track

	return nil
}

// Close implements Link
func (l *InmemLink) Close() error {
	l.Lock()
	if l.state == Closed {
		l.Unlock()
		return nil
	}
	l.state = Closed
	l.Unlock()

	if l.handlers.OnState != nil {
		l.handlers.OnState(Closed)
	}

	return nil
}

// State ...
func (l *InmemLink) State() ConnState {
	l.Lock()
	defer l.Unlock()

	return l.state
}

// Candidates returns the number of remote candidates applied.
func (l *InmemLink) Candidates() int {
	l.Lock()
	defer l.Unlock()

	return l.candidates
}

// RemoteSDP returns the remote description.
func (l *InmemLink) RemoteSDP() string {
	l.Lock()
	defer l.Unlock()

	return l.remoteSDP
}

// VideoTrack returns the current outgoing video track.
func (l *InmemLink) VideoTrack() Track {
	l.Lock()
	defer l.Unlock()

	return l.video
}
