package call

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mosaicnetworks/callrelay/src/bootstrap"
	"github.com/mosaicnetworks/callrelay/src/common"
	"github.com/mosaicnetworks/callrelay/src/mailbox"
	"github.com/mosaicnetworks/callrelay/src/peer"
	"github.com/sirupsen/logrus"
)

// DirectObserver receives the events of a Direct call. Any field may be nil.
// Callbacks run on the call's goroutines, sometimes with internal locks held;
// they must not block or call back into the Direct.
type DirectObserver struct {
	OnState        func(DirectState)
	OnCanAccept    func()
	OnTrack        func(peer.RemoteTrack)
	OnConn         func(net.Conn)
	OnRemoteScreen func(sharing bool)
	OnRemoteCamera func(off bool)
}

// Direct is the state machine of a 1:1 call. The caller (first half of the
// call id) is the initiator: it owns the session key and originates the single
// link. The callee rings until it has the key and the user accepted.
type Direct struct {
	state

	conf      Config
	callID    string
	me        string
	remote    string
	initiator bool

	boot     *bootstrap.Bootstrap
	mailbox  *mailbox.Client
	factory  peer.Factory
	media    peer.LocalMedia
	observer DirectObserver

	mtx             sync.Mutex
	link            peer.Link
	seen            *mailbox.Seen
	offerApplied    bool
	answerApplied   bool
	observed        bool
	pendingAccept   bool
	canAccept       bool
	sharing         bool
	cameraOff       bool
	remoteSharing   bool
	remoteCameraOff bool

	signalTimer *ControlTimer
	keyTimer    *ControlTimer

	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time
	done      chan struct{}

	logger *logrus.Entry
}

// NewDirect prepares the 1:1 call callID for the local identity me. It does
// not touch the mailbox until Start.
func NewDirect(conf Config,
	callID string,
	me string,
	boot *bootstrap.Bootstrap,
	client *mailbox.Client,
	factory peer.Factory,
	media peer.LocalMedia,
	observer DirectObserver,
	logger *logrus.Entry) (*Direct, error) {

	caller, callee, err := ParseDirectCallID(callID)
	if err != nil {
		return nil, err
	}

	var remote string
	switch me {
	case caller:
		remote = callee
	case callee:
		remote = caller
	default:
		return nil, fmt.Errorf("%s is not a participant of %s", me, callID)
	}

	d := &Direct{
		conf:      conf,
		callID:    callID,
		me:        me,
		remote:    remote,
		initiator: me == caller,
		boot:      boot,
		mailbox:   client,
		factory:   factory,
		media:     media,
		observer:  observer,
		seen:      mailbox.NewSeen(),
		done:      make(chan struct{}),
		logger: logger.WithFields(logrus.Fields{
			"call_id": callID,
			"remote":  remote,
		}),
	}

	if d.initiator {
		d.state.set(uint32(Dialing))
	} else {
		d.state.set(uint32(Ringing))
	}

	return d, nil
}

// State ...
func (d *Direct) State() DirectState {
	return DirectState(d.state.get())
}

// CallID ...
func (d *Direct) CallID() string {
	return d.callID
}

// Remote ...
func (d *Direct) Remote() string {
	return d.remote
}

// Initiator ...
func (d *Direct) Initiator() bool {
	return d.initiator
}

// Done is closed when the call reaches Ended.
func (d *Direct) Done() <-chan struct{} {
	return d.done
}

// CanAccept reports whether the callee holds the session key.
func (d *Direct) CanAccept() bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return d.canAccept
}

// RemoteSharing reports whether the remote side is sharing its screen.
func (d *Direct) RemoteSharing() bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return d.remoteSharing
}

// RemoteCameraOff reports whether the remote side disabled its camera.
func (d *Direct) RemoteCameraOff() bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return d.remoteCameraOff
}

func (d *Direct) setState(s DirectState) {
	if _, ok := d.state.swapUnless(uint32(Ended), uint32(s)); !ok {
		return
	}
	d.logger.WithField("state", s.String()).Debug("Call state")
	if d.observer.OnState != nil {
		d.observer.OnState(s)
	}
}

// Start begins the call. The initiator clears any leftover records of a
// previous call with the same id, establishes and distributes the session key
// and sends its offer; failures to reach the relay are returned. The callee
// starts waiting for the key. Both then poll the mailbox until the call ends.
func (d *Direct) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.startedAt = time.Now()

	if d.initiator {
		if err := d.mailbox.Purge(d.ctx, d.callID); err != nil {
			d.cancel()
			return err
		}

		if _, err := d.boot.Establish(d.ctx, []string{d.remote}); err != nil {
			d.cancel()
			return err
		}

		d.mtx.Lock()
		link, err := d.newLink()
		d.mtx.Unlock()
		if err != nil {
			d.cancel()
			return err
		}

		if err := link.Initiate(); err != nil {
			d.end("initiate failed")
			return err
		}
	}

	d.signalTimer = NewPollTimer(d.conf.PollInterval)
	if !d.initiator {
		d.keyTimer = NewPollTimer(d.conf.PollInterval)
		d.goFunc(func() { d.keyTimer.Run(0) })
		d.goFunc(d.keyLoop)
	}

	d.goFunc(func() { d.signalTimer.Run(d.conf.PollInterval) })
	d.goFunc(d.signalLoop)

	return nil
}

// Nudge forces an immediate poll, for example on a push notification.
func (d *Direct) Nudge() {
	if d.signalTimer != nil {
		d.signalTimer.Reset(0)
	}
	if d.keyTimer != nil {
		d.keyTimer.Reset(0)
	}
}

// newLink creates the single link of the call. It must be called with mtx
// held. A second creation is a protocol violation and returns the existing
// link.
func (d *Direct) newLink() (peer.Link, error) {
	if d.link != nil {
		d.logger.Debug("Link already exists")
		return d.link, nil
	}

	media := d.media
	if d.sharing || d.cameraOff {
		media.Video = nil
	}

	link, err := d.factory.NewLink(d.remote, media, peer.Handlers{
		OnSignal: d.sendSignal,
		OnTrack:  d.observer.OnTrack,
		OnState: func(s peer.ConnState) {
			d.logger.WithField("link", s.String()).Debug("Link state")
		},
		OnConn: d.observer.OnConn,
	})
	if err != nil {
		return nil, err
	}

	d.link = link

	return link, nil
}

// sendSignal seals a local handshake signal and sends it to the remote side.
func (d *Direct) sendSignal(sig peer.Signal) {
	content, err := peer.Seal(d.boot.Key(), sig)
	if err != nil {
		d.logger.WithError(err).Error("Sealing signal")
		return
	}

	if err := d.mailbox.SendSignal(d.ctx, d.callID, recordType(sig.Type), content, d.remote); err != nil {
		d.logger.WithError(err).WithField("type", sig.Type).Error("Sending signal")
	}
}

func (d *Direct) keyLoop() {
	for {
		select {
		case <-d.keyTimer.Ticks():
			if d.boot.Poll(d.ctx) {
				d.keyTimer.Shutdown()
				d.onKeyReady()
				return
			}
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Direct) onKeyReady() {
	d.mtx.Lock()
	d.canAccept = true
	pending := d.pendingAccept
	d.mtx.Unlock()

	d.logger.Debug("Can accept")

	if d.observer.OnCanAccept != nil {
		d.observer.OnCanAccept()
	}

	if pending {
		d.signalTimer.Reset(0)
	}
}

// Accept answers the call. If the session key or the offer has not arrived
// yet, the acceptance is remembered and completed by the poll loop as soon as
// both are available.
func (d *Direct) Accept(ctx context.Context) error {
	if d.initiator || d.State() != Ringing {
		return fmt.Errorf("cannot accept a call in state %s", d.State())
	}

	d.mtx.Lock()
	d.pendingAccept = true
	d.mtx.Unlock()

	if d.boot.State() != bootstrap.KeyReady {
		d.logger.Debug("Accept deferred until key is ready")
		return nil
	}

	offers, err := d.mailbox.ReceiveSignals(ctx, d.callID, mailbox.TypeOffer, d.me)
	if err != nil {
		d.logger.WithError(err).Debug("Accept deferred")
		return nil
	}

	d.tryAccept(offers)

	return nil
}

// tryAccept applies the lowest pending offer from the remote side.
func (d *Direct) tryAccept(offers []mailbox.Record) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if !d.pendingAccept || d.offerApplied {
		return
	}

	key := d.boot.Key()
	if key == nil {
		return
	}

	for _, r := range offers {
		if r.Sender != d.remote || d.seen.Has(r.ID) {
			continue
		}

		sig, err := peer.Open(key, r.Content)
		if err != nil {
			d.logger.WithError(err).WithField("id", r.ID).Warn("Opening offer")
			continue
		}
		if sig.Type != peer.SignalOffer {
			d.seen.Add(r.ID)
			d.logger.WithField("id", r.ID).Warn("Offer record without an offer")
			continue
		}

		link, err := d.newLink()
		if err != nil {
			d.logger.WithError(err).Error("Creating link")
			return
		}

		d.seen.Add(r.ID)
		if err := link.Apply(sig); err != nil {
			d.logger.WithError(err).Error("Applying offer")
			return
		}

		d.offerApplied = true
		d.pendingAccept = false
		d.setState(Connected)

		return
	}
}

// Decline refuses a ringing call. An end record is left for the caller, who
// purges the mailbox when it sees it.
func (d *Direct) Decline(ctx context.Context) error {
	if d.initiator || d.State() != Ringing {
		return fmt.Errorf("cannot decline a call in state %s", d.State())
	}

	err := d.mailbox.Send(ctx, d.callID, mailbox.TypeEnd, "", d.remote)

	d.end("declined")
	d.waitRoutines()

	return err
}

// Hangup ends the call: it announces the end, purges the mailbox and closes
// the link. The local side always ends, even when the relay is unreachable;
// the first failure is returned.
func (d *Direct) Hangup(ctx context.Context) error {
	if d.State() == Ended {
		return nil
	}

	err := d.mailbox.Send(ctx, d.callID, mailbox.TypeEnd, "", d.remote)
	if perr := d.mailbox.Purge(ctx, d.callID); err == nil {
		err = perr
	}

	d.end("hangup")
	d.waitRoutines()

	return err
}

// Close ends the call locally without touching the mailbox.
func (d *Direct) Close() error {
	d.end("closed")
	d.waitRoutines()
	return nil
}

// end tears down the call once. It does not wait for the loops, so it is safe
// to call from them.
func (d *Direct) end(reason string) {
	if _, ok := d.state.swapUnless(uint32(Ended), uint32(Ended)); !ok {
		return
	}

	d.logger.WithField("reason", reason).Info("Call ended")

	if d.cancel != nil {
		d.cancel()
	}
	if d.signalTimer != nil {
		d.signalTimer.Shutdown()
	}
	if d.keyTimer != nil {
		d.keyTimer.Shutdown()
	}

	d.mtx.Lock()
	if d.link != nil {
		if err := d.link.Close(); err != nil {
			d.logger.WithError(err).Warn("Closing link")
		}
		d.link = nil
	}
	d.mtx.Unlock()

	if err := d.boot.Forget(); err != nil {
		d.logger.WithError(err).Debug("Forgetting session key")
	}

	close(d.done)

	if d.observer.OnState != nil {
		d.observer.OnState(Ended)
	}
}

func (d *Direct) signalLoop() {
	for {
		select {
		case <-d.signalTimer.Ticks():
			if d.poll() {
				return
			}
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Direct) timedOut() bool {
	if d.conf.HandshakeTimeout <= 0 {
		return false
	}
	s := d.State()
	return (s == Dialing || s == Ringing) && time.Since(d.startedAt) > d.conf.HandshakeTimeout
}

// poll runs one cycle of the signal loop and reports whether the call ended.
func (d *Direct) poll() bool {
	if d.timedOut() {
		ctx, cancel := context.WithTimeout(context.Background(), d.conf.PollInterval)
		defer cancel()
		if err := d.mailbox.Send(ctx, d.callID, mailbox.TypeEnd, "", d.remote); err != nil {
			d.logger.WithError(err).Warn("Announcing timeout")
		}
		if d.initiator {
			if err := d.mailbox.Purge(ctx, d.callID); err != nil {
				d.logger.WithError(err).Warn("Purging after timeout")
			}
		}
		d.end("handshake timeout")
		return true
	}

	batch := d.mailbox.Poll(d.ctx, d.callID, "",
		mailbox.TypeOffer,
		mailbox.TypeAnswer,
		mailbox.TypeICE,
		mailbox.TypeEnd,
		mailbox.TypeScreenShare,
		mailbox.TypeCamera,
	)

	if d.State() == Ended {
		return true
	}

	for _, r := range batch.Records[mailbox.TypeEnd] {
		if r.Sender != d.me {
			if err := d.mailbox.Purge(d.ctx, d.callID); err != nil {
				d.logger.WithError(err).Debug("Purging after remote end")
			}
			d.end("remote end")
			return true
		}
	}

	live := batch.Count(handshakeTypes...)

	d.mtx.Lock()
	if live > 0 {
		d.observed = true
	}
	gone := d.observed && batch.Complete && live == 0
	d.mtx.Unlock()

	if gone {
		d.end("mailbox purged")
		return true
	}

	if d.initiator {
		d.applyAnswer(mailbox.Filter(batch.Records[mailbox.TypeAnswer], d.me))
	} else {
		d.tryAccept(mailbox.Filter(batch.Records[mailbox.TypeOffer], d.me))
	}

	d.applyICE(mailbox.Filter(batch.Records[mailbox.TypeICE], d.me))
	d.applyAux(mailbox.Filter(batch.Records[mailbox.TypeScreenShare], d.me),
		mailbox.Filter(batch.Records[mailbox.TypeCamera], d.me))

	return false
}

// applyAnswer applies the lowest unseen answer, once.
func (d *Direct) applyAnswer(answers []mailbox.Record) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if d.answerApplied || d.link == nil {
		return
	}

	key := d.boot.Key()

	for _, r := range answers {
		if r.Sender != d.remote || d.seen.Has(r.ID) {
			continue
		}

		sig, err := peer.Open(key, r.Content)
		if err != nil {
			d.logger.WithError(err).WithField("id", r.ID).Warn("Opening answer")
			continue
		}

		d.seen.Add(r.ID)

		if sig.Type != peer.SignalAnswer {
			d.logger.WithField("id", r.ID).Warn("Answer record without an answer")
			continue
		}

		if err := d.link.Apply(sig); err != nil {
			d.logger.WithError(err).Error("Applying answer")
			continue
		}

		d.answerApplied = true
		d.setState(Connected)

		return
	}
}

// applyICE applies every unseen candidate, in id order. Candidates wait in
// the mailbox until the link exists.
func (d *Direct) applyICE(candidates []mailbox.Record) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if d.link == nil {
		return
	}

	key := d.boot.Key()

	for _, r := range candidates {
		if r.Sender != d.remote || d.seen.Has(r.ID) {
			continue
		}

		sig, err := peer.Open(key, r.Content)
		if err != nil {
			d.logger.WithError(err).WithField("id", r.ID).Warn("Opening candidate")
			continue
		}

		d.seen.Add(r.ID)

		if sig.Type != peer.SignalCandidate {
			d.logger.WithField("id", r.ID).Warn("ICE record without a candidate")
			continue
		}

		if err := d.link.Apply(sig); err != nil {
			d.logger.WithError(err).Warn("Applying candidate")
		}
	}
}

func (d *Direct) applyAux(screens, cameras []mailbox.Record) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	for _, r := range screens {
		if r.Sender != d.remote || !d.seen.Add(r.ID) {
			continue
		}
		d.remoteSharing = r.Content == mailbox.ScreenShareStart
		if d.observer.OnRemoteScreen != nil {
			d.observer.OnRemoteScreen(d.remoteSharing)
		}
	}

	for _, r := range cameras {
		if r.Sender != d.remote || !d.seen.Add(r.ID) {
			continue
		}
		d.remoteCameraOff = r.Content == mailbox.CameraOff
		if d.observer.OnRemoteCamera != nil {
			d.observer.OnRemoteCamera(d.remoteCameraOff)
		}
	}
}

// ShareScreen replaces the outgoing video with track and tells the remote
// side. No renegotiation takes place.
func (d *Direct) ShareScreen(ctx context.Context, track peer.Track) error {
	d.mtx.Lock()
	if d.link == nil {
		d.mtx.Unlock()
		return common.NewCallErr("direct", common.NotReady, "no link", nil)
	}
	if err := d.link.ReplaceVideoTrack(track); err != nil {
		d.mtx.Unlock()
		return err
	}
	d.sharing = true
	d.mtx.Unlock()

	return d.mailbox.Send(ctx, d.callID, mailbox.TypeScreenShare, mailbox.ScreenShareStart, d.remote)
}

// StopScreen restores the camera track, or no video if the camera is off.
func (d *Direct) StopScreen(ctx context.Context) error {
	d.mtx.Lock()
	if d.link == nil {
		d.mtx.Unlock()
		return common.NewCallErr("direct", common.NotReady, "no link", nil)
	}
	if err := d.link.ReplaceVideoTrack(d.cameraTrack()); err != nil {
		d.mtx.Unlock()
		return err
	}
	d.sharing = false
	d.mtx.Unlock()

	return d.mailbox.Send(ctx, d.callID, mailbox.TypeScreenShare, mailbox.ScreenShareStop, d.remote)
}

// SetCamera turns the outgoing camera on or off and tells the remote side.
// While sharing, only the flag changes.
func (d *Direct) SetCamera(ctx context.Context, on bool) error {
	d.mtx.Lock()
	d.cameraOff = !on
	if d.link != nil && !d.sharing {
		if err := d.link.ReplaceVideoTrack(d.cameraTrack()); err != nil {
			d.mtx.Unlock()
			return err
		}
	}
	d.mtx.Unlock()

	content := mailbox.CameraOn
	if !on {
		content = mailbox.CameraOff
	}

	return d.mailbox.Send(ctx, d.callID, mailbox.TypeCamera, content, d.remote)
}

// cameraTrack must be called with mtx held.
func (d *Direct) cameraTrack() peer.Track {
	if d.cameraOff {
		return nil
	}
	return d.media.Video
}
