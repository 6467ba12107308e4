package peer

import (
	"fmt"
	"sync"

	"github.com/mosaicnetworks/callrelay/src/common"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

const controlChannel = "control"

// PionFactory creates links backed by pion/webrtc peer connections.
type PionFactory struct {
	api     *webrtc.API
	config  webrtc.Configuration
	trickle bool
	logger  *logrus.Entry
}

// NewPionFactory returns a factory using the given ICE servers. With trickle,
// candidates are signaled one by one; otherwise each side waits for gathering
// to complete and sends a single description carrying every candidate.
func NewPionFactory(iceServers []webrtc.ICEServer, trickle bool, logger *logrus.Entry) (*PionFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{
		LoggerFactory: NewLoggerFactory(logger.WithField("ns", "pion")),
	}
	se.DetachDataChannels()

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(se),
	)

	return &PionFactory{
		api:     api,
		config:  webrtc.Configuration{ICEServers: iceServers},
		trickle: trickle,
		logger:  logger,
	}, nil
}

// NewLink implements Factory
func (f *PionFactory) NewLink(remote string, media LocalMedia, h Handlers) (Link, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}

	l := &PionLink{
		pc:       pc,
		remote:   remote,
		handlers: h,
		trickle:  f.trickle,
		logger:   f.logger.WithField("remote", remote),
	}

	if err := l.setup(media); err != nil {
		pc.Close()
		return nil, err
	}

	return l, nil
}

// PionLink implements Link with a pion PeerConnection.
type PionLink struct {
	sync.Mutex

	pc          *webrtc.PeerConnection
	remote      string
	handlers    Handlers
	trickle     bool
	videoSender *webrtc.RTPSender
	pending     []webrtc.ICECandidateInit
	closed      bool

	logger *logrus.Entry
}

func (l *PionLink) setup(media LocalMedia) error {
	if l.trickle {
		l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil {
				return
			}
			ci := c.ToJSON()
			l.emit(NewCandidate(Candidate{
				Candidate:        ci.Candidate,
				SDPMid:           ci.SDPMid,
				SDPMLineIndex:    ci.SDPMLineIndex,
				UsernameFragment: ci.UsernameFragment,
			}))
		})
	}

	l.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		l.logger.WithField("state", s.String()).Debug("Peer connection state")
		if l.handlers.OnState == nil {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnected:
			l.handlers.OnState(Connected)
		case webrtc.PeerConnectionStateDisconnected:
			l.handlers.OnState(Disconnected)
		case webrtc.PeerConnectionStateFailed:
			l.handlers.OnState(Failed)
		case webrtc.PeerConnectionStateClosed:
			l.handlers.OnState(Closed)
		}
	})

	l.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		l.logger.WithFields(logrus.Fields{
			"track": track.ID(),
			"kind":  track.Kind().String(),
		}).Debug("Remote track")
		if l.handlers.OnTrack != nil {
			l.handlers.OnTrack(RemoteTrack{
				From:   l.remote,
				ID:     track.ID(),
				Kind:   track.Kind().String(),
				Handle: track,
			})
		}
	})

	l.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() == controlChannel {
			l.attach(dc)
		}
	})

	if media.Audio != nil {
		if _, err := l.addTrack(media.Audio); err != nil {
			return err
		}
	}

	if media.Video != nil {
		sender, err := l.addTrack(media.Video)
		if err != nil {
			return err
		}
		l.videoSender = sender
	} else {
		// Keep a video transceiver so the track can be replaced later
		tr, err := l.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv})
		if err != nil {
			return err
		}
		l.videoSender = tr.Sender()
	}

	return nil
}

func (l *PionLink) addTrack(t Track) (*webrtc.RTPSender, error) {
	local, ok := t.(webrtc.TrackLocal)
	if !ok {
		return nil, fmt.Errorf("track %s is not a webrtc.TrackLocal", t.ID())
	}

	sender, err := l.pc.AddTrack(local)
	if err != nil {
		return nil, err
	}

	// Drain RTCP so interceptors keep working
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(rtcpBuf); err != nil {
				return
			}
		}
	}()

	return sender, nil
}

func (l *PionLink) attach(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		raw, err := dc.Detach()
		if err != nil {
			l.logger.WithError(err).Error("Detaching data channel")
			return
		}
		if l.handlers.OnConn != nil {
			l.handlers.OnConn(NewDataConn(raw, l.remote))
		}
	})
}

func (l *PionLink) emit(sig Signal) {
	if l.handlers.OnSignal != nil {
		l.handlers.OnSignal(sig)
	}
}

// Remote implements Link
func (l *PionLink) Remote() string {
	return l.remote
}

// Initiate implements Link
func (l *PionLink) Initiate() error {
	dc, err := l.pc.CreateDataChannel(controlChannel, nil)
	if err != nil {
		return err
	}
	l.attach(dc)

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return err
	}

	sdp, err := l.setLocal(offer)
	if err != nil {
		return err
	}

	l.emit(NewOffer(sdp))

	return nil
}

// setLocal sets the local description and returns the SDP to signal. Without
// trickle it waits for ICE gathering to finish.
func (l *PionLink) setLocal(desc webrtc.SessionDescription) (string, error) {
	var gathered <-chan struct{}
	if !l.trickle {
		gathered = webrtc.GatheringCompletePromise(l.pc)
	}

	if err := l.pc.SetLocalDescription(desc); err != nil {
		return "", err
	}

	if gathered == nil {
		return desc.SDP, nil
	}

	<-gathered

	return l.pc.LocalDescription().SDP, nil
}

// Apply implements Link
func (l *PionLink) Apply(sig Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}

	switch sig.Type {
	case SignalOffer:
		if err := l.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.SDP}); err != nil {
			return err
		}

		answer, err := l.pc.CreateAnswer(nil)
		if err != nil {
			return err
		}

		sdp, err := l.setLocal(answer)
		if err != nil {
			return err
		}

		l.emit(NewAnswer(sdp))

	case SignalAnswer:
		if l.pc.RemoteDescription() != nil {
			return common.NewCallErr("peer", common.ProtocolViolation, "answer after remote description", nil)
		}
		return l.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP})

	case SignalCandidate:
		ci := webrtc.ICECandidateInit{
			Candidate:        sig.Candidate.Candidate,
			SDPMid:           sig.Candidate.SDPMid,
			SDPMLineIndex:    sig.Candidate.SDPMLineIndex,
			UsernameFragment: sig.Candidate.UsernameFragment,
		}

		l.Lock()
		if l.pc.RemoteDescription() == nil {
			l.pending = append(l.pending, ci)
			l.Unlock()
			return nil
		}
		l.Unlock()

		return l.pc.AddICECandidate(ci)
	}

	return nil
}

// setRemote sets the remote description and flushes queued candidates.
func (l *PionLink) setRemote(desc webrtc.SessionDescription) error {
	l.Lock()
	defer l.Unlock()

	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	for _, c := range l.pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			l.logger.WithError(err).Warn("Adding queued candidate")
		}
	}
	l.pending = nil

	return nil
}

// ReplaceVideoTrack implements Link
func (l *PionLink) ReplaceVideoTrack(track Track) error {
	if track == nil {
		return l.videoSender.ReplaceTrack(nil)
	}

	local, ok := track.(webrtc.TrackLocal)
	if !ok {
		return fmt.Errorf("track %s is not a webrtc.TrackLocal", track.ID())
	}

	return l.videoSender.ReplaceTrack(local)
}

// Close implements Link
func (l *PionLink) Close() error {
	l.Lock()
	if l.closed {
		l.Unlock()
		return nil
	}
	l.closed = true
	l.Unlock()

	return l.pc.Close()
}
