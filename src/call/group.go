package call

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/mosaicnetworks/callrelay/src/bootstrap"
	"github.com/mosaicnetworks/callrelay/src/common"
	"github.com/mosaicnetworks/callrelay/src/crypto"
	"github.com/mosaicnetworks/callrelay/src/mailbox"
	"github.com/mosaicnetworks/callrelay/src/peer"
	"github.com/sirupsen/logrus"
)

// GroupObserver receives the events of a Group. Any field may be nil. The same
// rules as for DirectObserver apply.
type GroupObserver struct {
	OnRoster func(roster []string)
	OnTrack  func(peer.RemoteTrack)
	OnConn   func(from string, conn net.Conn)
	OnSharer func(sharer string)
	OnCamera func(user string, off bool)
}

type groupLink struct {
	link          peer.Link
	initiator     bool
	offerApplied  bool
	answerApplied bool
	// ids of the offer and answer records applied to the link
	offerID  int64
	answerID int64
}

// current reports whether the link was negotiated after the hello record
// with id hello.
func (gl *groupLink) current(hello int64) bool {
	if gl.initiator {
		return gl.answerApplied && gl.answerID > hello
	}
	return gl.offerApplied && gl.offerID > hello
}

// CreateGroup generates a session key and registers a group call with the
// relay for the given members, handing it the key material for late joiners.
// The caller adopts the returned key in its Bootstrap and distributes it.
func CreateGroup(ctx context.Context, client *mailbox.Client, members []string) (string, []byte, error) {
	key, err := crypto.GenerateSessionKey()
	if err != nil {
		return "", nil, err
	}

	callID, err := client.CreateGroup(ctx, members, crypto.ExportSessionKey(key))
	if err != nil {
		return "", nil, err
	}

	return callID, key, nil
}

// Group coordinates the local participant's links in a group call: a full
// mesh where, for each pair, the lexicographically smaller identity sends the
// offer. All links share the group session key.
type Group struct {
	state

	conf     Config
	callID   string
	me       string
	boot     *bootstrap.Bootstrap
	mailbox  *mailbox.Client
	factory  peer.Factory
	media    peer.LocalMedia
	observer GroupObserver

	mtx         sync.Mutex
	links       map[string]*groupLink
	seen        *mailbox.Seen
	watermark   int64
	hellos      map[string]int64
	roster      []string
	sharer      string
	cameraOff   map[string]bool
	screen      peer.Track
	myCameraOff bool

	keyTimer    *ControlTimer
	rosterTimer *ControlTimer
	signalTimer *ControlTimer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	logger *logrus.Entry
}

// NewGroup ...
func NewGroup(conf Config,
	callID string,
	me string,
	boot *bootstrap.Bootstrap,
	client *mailbox.Client,
	factory peer.Factory,
	media peer.LocalMedia,
	observer GroupObserver,
	logger *logrus.Entry) (*Group, error) {

	if !mailbox.IsGroupCall(callID) {
		return nil, fmt.Errorf("%s is not a group call", callID)
	}

	return &Group{
		conf:      conf,
		callID:    callID,
		me:        me,
		boot:      boot,
		mailbox:   client,
		factory:   factory,
		media:     media,
		observer:  observer,
		links:     make(map[string]*groupLink),
		seen:      mailbox.NewSeen(),
		cameraOff: make(map[string]bool),
		hellos:    make(map[string]int64),
		done:      make(chan struct{}),
		logger:    logger.WithField("call_id", callID),
	}, nil
}

// State ...
func (g *Group) State() GroupState {
	return GroupState(g.state.get())
}

// Done is closed once the local participant has left.
func (g *Group) Done() <-chan struct{} {
	return g.done
}

// CallID ...
func (g *Group) CallID() string {
	return g.callID
}

// Roster returns the last polled participant list.
func (g *Group) Roster() []string {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	return append([]string(nil), g.roster...)
}

// Linked returns the identities the local participant has a link with.
func (g *Group) Linked() []string {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	res := []string{}
	for u := range g.links {
		res = append(res, u)
	}

	return res
}

// Sharer returns the identity currently sharing its screen, or "".
func (g *Group) Sharer() string {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	return g.sharer
}

// CameraOff reports whether user announced its camera as off.
func (g *Group) CameraOff(user string) bool {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	return g.cameraOff[user]
}

// Join enters the call and starts the key, roster and signal loops.
func (g *Group) Join(ctx context.Context) error {
	if g.State() != Idle {
		return fmt.Errorf("cannot join in state %s", g.State())
	}

	g.ctx, g.cancel = context.WithCancel(ctx)

	// Handshake records addressed to us before we joined belong to an
	// earlier session of ours.
	types := append([]mailbox.Type{mailbox.TypeHello}, handshakeTypes...)
	before := g.mailbox.Poll(g.ctx, g.callID, g.me, types...)
	for _, t := range handshakeTypes {
		for _, r := range before.Records[t] {
			if r.ID > g.watermark {
				g.watermark = r.ID
			}
		}
	}
	// Earlier join announcements only date the others' current sessions
	for _, r := range before.Records[mailbox.TypeHello] {
		g.seen.Add(r.ID)
		g.hellos[r.Sender] = r.ID
	}

	if err := g.mailbox.Join(g.ctx, g.callID); err != nil {
		g.cancel()
		return err
	}

	if err := g.mailbox.Send(g.ctx, g.callID, mailbox.TypeHello, "", ""); err != nil {
		g.logger.WithError(err).Warn("Announcing join")
	}

	g.state.set(uint32(Joined))

	g.keyTimer = NewPollTimer(g.conf.PollInterval)
	g.rosterTimer = NewPollTimer(g.conf.RosterInterval)
	g.signalTimer = NewPollTimer(g.conf.GroupPollInterval)

	if g.boot.State() != bootstrap.KeyReady {
		g.goFunc(func() { g.keyTimer.Run(0) })
		g.goFunc(g.keyLoop)
	}
	g.goFunc(func() { g.rosterTimer.Run(0) })
	g.goFunc(g.rosterLoop)
	g.goFunc(func() { g.signalTimer.Run(g.conf.GroupPollInterval) })
	g.goFunc(g.signalLoop)

	return nil
}

// Nudge forces an immediate poll of every loop.
func (g *Group) Nudge() {
	if g.State() != Joined {
		return
	}
	g.keyTimer.Reset(0)
	g.rosterTimer.Reset(0)
	g.signalTimer.Reset(0)
}

func (g *Group) keyLoop() {
	for {
		select {
		case <-g.keyTimer.Ticks():
			if g.boot.Poll(g.ctx) {
				g.keyTimer.Shutdown()
				g.rosterTimer.Reset(0)
				g.signalTimer.Reset(0)
				return
			}
		case <-g.ctx.Done():
			return
		}
	}
}

func (g *Group) rosterLoop() {
	for {
		select {
		case <-g.rosterTimer.Ticks():
			g.refreshRoster()
		case <-g.ctx.Done():
			return
		}
	}
}

func (g *Group) signalLoop() {
	for {
		select {
		case <-g.signalTimer.Ticks():
			g.poll()
		case <-g.ctx.Done():
			return
		}
	}
}

// refreshRoster polls the participant list, drops the links of participants
// who left and originates the links this side is responsible for.
func (g *Group) refreshRoster() {
	roster, err := g.mailbox.Participants(g.ctx, g.callID)
	if err != nil {
		g.logger.WithError(err).Debug("Polling roster")
		return
	}

	present := make(map[string]bool, len(roster))
	for _, u := range roster {
		present[u] = true
	}

	g.mtx.Lock()

	g.roster = roster

	for u, gl := range g.links {
		if present[u] {
			continue
		}
		g.logger.WithField("remote", u).Debug("Participant left")
		if err := gl.link.Close(); err != nil {
			g.logger.WithError(err).Warn("Closing link")
		}
		delete(g.links, u)
		delete(g.cameraOff, u)
		if g.sharer == u {
			g.setSharer("")
		}
	}

	if g.boot.State() == bootstrap.KeyReady {
		for _, u := range roster {
			if u == g.me || !Initiates(g.me, u) || g.links[u] != nil {
				continue
			}
			gl, err := g.newLink(u, true)
			if err != nil {
				g.logger.WithError(err).WithField("remote", u).Error("Creating link")
				continue
			}
			if err := gl.link.Initiate(); err != nil {
				g.logger.WithError(err).WithField("remote", u).Error("Initiating link")
			}
		}
	}

	g.mtx.Unlock()

	if g.observer.OnRoster != nil {
		g.observer.OnRoster(roster)
	}
}

// newLink must be called with mtx held. There is never more than one link per
// identity; a second creation returns the existing one.
func (g *Group) newLink(remote string, initiator bool) (*groupLink, error) {
	if gl, ok := g.links[remote]; ok {
		g.logger.WithField("remote", remote).Debug("Link already exists")
		return gl, nil
	}

	media := g.media
	switch {
	case g.screen != nil:
		media.Video = g.screen
	case g.myCameraOff:
		media.Video = nil
	}

	link, err := g.factory.NewLink(remote, media, peer.Handlers{
		OnSignal: func(sig peer.Signal) {
			g.sendSignal(remote, sig)
		},
		OnTrack: g.observer.OnTrack,
		OnState: func(s peer.ConnState) {
			g.logger.WithFields(logrus.Fields{
				"remote": remote,
				"link":   s.String(),
			}).Debug("Link state")
		},
		OnConn: func(c net.Conn) {
			if g.observer.OnConn != nil {
				g.observer.OnConn(remote, c)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	gl := &groupLink{link: link, initiator: initiator}
	g.links[remote] = gl

	return gl, nil
}

func (g *Group) sendSignal(remote string, sig peer.Signal) {
	content, err := peer.Seal(g.boot.Key(), sig)
	if err != nil {
		g.logger.WithError(err).Error("Sealing signal")
		return
	}

	if err := g.mailbox.SendSignal(g.ctx, g.callID, recordType(sig.Type), content, remote); err != nil {
		g.logger.WithError(err).WithFields(logrus.Fields{
			"remote": remote,
			"type":   sig.Type,
		}).Error("Sending signal")
	}
}

// poll runs one cycle of the signal loop.
func (g *Group) poll() {
	key := g.boot.Key()
	if key == nil {
		return
	}

	batch := g.mailbox.Poll(g.ctx, g.callID, g.me,
		mailbox.TypeHello,
		mailbox.TypeOffer,
		mailbox.TypeAnswer,
		mailbox.TypeICE,
		mailbox.TypeScreenShare,
		mailbox.TypeCamera,
	)

	g.mtx.Lock()
	defer g.mtx.Unlock()

	if g.State() != Joined {
		return
	}

	for _, r := range batch.Records[mailbox.TypeHello] {
		if g.seen.Add(r.ID) {
			g.applyHello(r)
		}
	}

	for _, t := range handshakeTypes {
		for _, r := range batch.Records[t] {
			if r.ID <= g.watermark || g.seen.Has(r.ID) {
				continue
			}
			if g.stale(r) {
				g.seen.Add(r.ID)
				continue
			}
			g.applyHandshake(key, r)
		}
	}

	for _, r := range batch.Records[mailbox.TypeScreenShare] {
		if !g.seen.Add(r.ID) || g.stale(r) {
			continue
		}
		switch r.Content {
		case mailbox.ScreenShareStart:
			g.setSharer(r.Sender)
		case mailbox.ScreenShareStop:
			// A stop only clears the share of its own sender
			if g.sharer == r.Sender {
				g.setSharer("")
			}
		}
	}

	for _, r := range batch.Records[mailbox.TypeCamera] {
		if !g.seen.Add(r.ID) || g.stale(r) {
			continue
		}
		off := r.Content == mailbox.CameraOff
		g.cameraOff[r.Sender] = off
		if g.observer.OnCamera != nil {
			g.observer.OnCamera(r.Sender, off)
		}
	}
}

// stale reports whether r was sent before its sender's latest join. It must
// be called with mtx held.
func (g *Group) stale(r mailbox.Record) bool {
	return r.ID < g.hellos[r.Sender]
}

// applyHello clears the screen share and camera state of a participant that
// joined. When it joined before, a link left over from its previous session
// is dropped, to be rebuilt by whichever side initiates the pair. It must be
// called with mtx held.
func (g *Group) applyHello(r mailbox.Record) {
	from := r.Sender
	prev := g.hellos[from]
	g.hellos[from] = r.ID

	if gl, ok := g.links[from]; ok && prev != 0 && !gl.current(r.ID) {
		g.logger.WithField("remote", from).Debug("Participant rejoined, dropping link")
		if err := gl.link.Close(); err != nil {
			g.logger.WithError(err).Warn("Closing link")
		}
		delete(g.links, from)
	}

	if g.cameraOff[from] {
		delete(g.cameraOff, from)
		if g.observer.OnCamera != nil {
			g.observer.OnCamera(from, false)
		}
	}
	if g.sharer == from {
		g.setSharer("")
	}

	if Initiates(g.me, from) {
		g.rosterTimer.Reset(0)
	}
}

// applyHandshake routes one unseen handshake record to the link of its
// sender. It must be called with mtx held. Records that cannot be used yet
// stay unseen.
func (g *Group) applyHandshake(key []byte, r mailbox.Record) {
	from := r.Sender
	gl := g.links[from]
	entry := g.logger.WithFields(logrus.Fields{
		"remote": from,
		"id":     r.ID,
		"type":   r.Type,
	})

	switch r.Type {
	case mailbox.TypeOffer:
		if Initiates(g.me, from) || (gl != nil && gl.offerApplied && r.ID < gl.offerID) {
			entry.Debug("Ignoring offer")
			g.seen.Add(r.ID)
			return
		}
	case mailbox.TypeAnswer:
		if gl == nil || !gl.initiator || gl.answerApplied {
			entry.Debug("Ignoring answer")
			g.seen.Add(r.ID)
			return
		}
	case mailbox.TypeICE:
		if gl == nil {
			return
		}
	}

	sig, err := peer.Open(key, r.Content)
	if err != nil {
		entry.WithError(err).Warn("Opening signal")
		return
	}

	g.seen.Add(r.ID)

	if sig.Type != signalType(r.Type) {
		entry.Warn("Signal does not match record type")
		return
	}

	if r.Type == mailbox.TypeOffer && gl != nil && gl.offerApplied {
		// A new offer on an established link starts a new session
		entry.Debug("Renegotiating link")
		if err := gl.link.Close(); err != nil {
			entry.WithError(err).Warn("Closing link")
		}
		delete(g.links, from)
		gl = nil
	}

	if gl == nil {
		gl, err = g.newLink(from, false)
		if err != nil {
			entry.WithError(err).Error("Creating link")
			return
		}
	}

	if err := gl.link.Apply(sig); err != nil {
		entry.WithError(err).Warn("Applying signal")
		return
	}

	switch r.Type {
	case mailbox.TypeOffer:
		gl.offerApplied = true
		gl.offerID = r.ID
	case mailbox.TypeAnswer:
		gl.answerApplied = true
		gl.answerID = r.ID
	}
}

// setSharer must be called with mtx held.
func (g *Group) setSharer(s string) {
	if g.sharer == s {
		return
	}
	g.sharer = s
	if g.observer.OnSharer != nil {
		g.observer.OnSharer(s)
	}
}

// ShareScreen sends track instead of the camera on every link and announces
// it. It fails while another participant is sharing.
func (g *Group) ShareScreen(ctx context.Context, track peer.Track) error {
	g.mtx.Lock()
	if g.sharer != "" && g.sharer != g.me {
		sharer := g.sharer
		g.mtx.Unlock()
		return common.NewCallErr("group", common.ProtocolViolation, sharer+" is already sharing", nil)
	}
	g.screen = track
	g.replaceVideo(track)
	g.setSharer(g.me)
	g.mtx.Unlock()

	return g.mailbox.Send(ctx, g.callID, mailbox.TypeScreenShare, mailbox.ScreenShareStart, "")
}

// StopScreen restores the camera on every link and announces it.
func (g *Group) StopScreen(ctx context.Context) error {
	g.mtx.Lock()
	if g.sharer != g.me {
		g.mtx.Unlock()
		return nil
	}
	g.screen = nil
	g.replaceVideo(g.cameraTrack())
	g.setSharer("")
	g.mtx.Unlock()

	return g.mailbox.Send(ctx, g.callID, mailbox.TypeScreenShare, mailbox.ScreenShareStop, "")
}

// SetCamera turns the outgoing camera on or off and announces it.
func (g *Group) SetCamera(ctx context.Context, on bool) error {
	g.mtx.Lock()
	g.myCameraOff = !on
	if g.screen == nil {
		g.replaceVideo(g.cameraTrack())
	}
	g.mtx.Unlock()

	content := mailbox.CameraOn
	if !on {
		content = mailbox.CameraOff
	}

	return g.mailbox.Send(ctx, g.callID, mailbox.TypeCamera, content, "")
}

// cameraTrack must be called with mtx held.
func (g *Group) cameraTrack() peer.Track {
	if g.myCameraOff {
		return nil
	}
	return g.media.Video
}

// replaceVideo must be called with mtx held.
func (g *Group) replaceVideo(track peer.Track) {
	for u, gl := range g.links {
		if err := gl.link.ReplaceVideoTrack(track); err != nil {
			g.logger.WithError(err).WithField("remote", u).Warn("Replacing video track")
		}
	}
}

// Leave destroys every link, stops the local tracks that implement
// peer.Stopper, leaves the roster and purges the mailbox if nobody else
// remains in the call.
func (g *Group) Leave(ctx context.Context) error {
	if _, ok := g.state.swapUnless(uint32(Left), uint32(Left)); !ok {
		return nil
	}
	defer close(g.done)

	if g.cancel != nil {
		g.cancel()
	}
	for _, t := range []*ControlTimer{g.keyTimer, g.rosterTimer, g.signalTimer} {
		if t != nil {
			t.Shutdown()
		}
	}
	g.waitRoutines()

	g.mtx.Lock()
	wasSharing := g.sharer == g.me
	for u, gl := range g.links {
		if err := gl.link.Close(); err != nil {
			g.logger.WithError(err).WithField("remote", u).Warn("Closing link")
		}
	}
	g.links = make(map[string]*groupLink)
	screen := g.screen
	g.screen = nil
	g.mtx.Unlock()

	if serr := g.media.Stop(); serr != nil {
		g.logger.WithError(serr).Warn("Stopping local media")
	}
	if serr := peer.StopTrack(screen); serr != nil {
		g.logger.WithError(serr).Warn("Stopping screen track")
	}

	if wasSharing {
		if err := g.mailbox.Send(ctx, g.callID, mailbox.TypeScreenShare, mailbox.ScreenShareStop, ""); err != nil {
			g.logger.WithError(err).Warn("Announcing screen share stop")
		}
	}

	err := g.mailbox.Leave(ctx, g.callID)

	roster, rerr := g.mailbox.Participants(ctx, g.callID)
	switch {
	case rerr != nil:
		g.logger.WithError(rerr).Warn("Reading roster after leave")
	case len(others(roster, g.me)) == 0:
		g.logger.Debug("Last one out, purging mailbox")
		if perr := g.mailbox.Purge(ctx, g.callID); perr != nil && err == nil {
			err = perr
		}
	}

	if ferr := g.boot.Forget(); ferr != nil {
		g.logger.WithError(ferr).Debug("Forgetting session key")
	}

	g.logger.Info("Left group call")

	return err
}

func others(roster []string, me string) []string {
	res := []string{}
	for _, u := range roster {
		if u != me {
			res = append(res, u)
		}
	}
	return res
}
