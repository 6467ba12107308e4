package peer

import (
	"io/ioutil"
	"strings"
	"sync"
	"testing"

	"github.com/mosaicnetworks/callrelay/src/common"
	"github.com/mosaicnetworks/callrelay/src/crypto"
	"github.com/sirupsen/logrus"
)

func TestSealOpen(t *testing.T) {
	key, err := crypto.GenerateSessionKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	mid := "0"
	idx := uint16(0)
	signals := []Signal{
		NewOffer("v=0 offer"),
		NewAnswer("v=0 answer"),
		NewCandidate(Candidate{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx}),
	}

	for _, s := range signals {
		content, err := Seal(key, s)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if strings.ContainsAny(content, "/:") {
			t.Fatalf("sealed content must not look like a chunk piece: %s", content)
		}

		got, err := Open(key, content)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if got.Type != s.Type || got.SDP != s.SDP {
			t.Fatalf("opened signal differs: %#v vs %#v", got, s)
		}
		if s.Candidate != nil && (got.Candidate == nil || got.Candidate.Candidate != s.Candidate.Candidate || *got.Candidate.SDPMid != mid) {
			t.Fatalf("opened candidate differs: %#v", got.Candidate)
		}
	}

	other, _ := crypto.GenerateSessionKey()
	content, _ := Seal(key, NewOffer("sdp"))
	if _, err := Open(other, content); !common.IsCall(err, common.CryptoError) {
		t.Fatalf("wrong key should be a CryptoError, got %v", err)
	}
}

func TestSignalValidate(t *testing.T) {
	bad := [][]byte{
		[]byte(`{"type":"offer"}`),
		[]byte(`{"type":"candidate"}`),
		[]byte(`{"type":"bye","sdp":"x"}`),
		[]byte(`not json`),
	}

	for _, b := range bad {
		var s Signal
		if err := s.Unmarshal(b); !common.IsCall(err, common.DecodeError) {
			t.Fatalf("%s should be a DecodeError, got %v", b, err)
		}
	}
}

type signalBox struct {
	sync.Mutex
	signals []Signal
	states  []ConnState
	tracks  []RemoteTrack
}

func (b *signalBox) handlers() Handlers {
	return Handlers{
		OnSignal: func(s Signal) {
			b.Lock()
			defer b.Unlock()
			b.signals = append(b.signals, s)
		},
		OnState: func(s ConnState) {
			b.Lock()
			defer b.Unlock()
			b.states = append(b.states, s)
		},
		OnTrack: func(t RemoteTrack) {
			b.Lock()
			defer b.Unlock()
			b.tracks = append(b.tracks, t)
		},
	}
}

func (b *signalBox) take() []Signal {
	b.Lock()
	defer b.Unlock()
	s := b.signals
	b.signals = nil
	return s
}

func TestInmemHandshake(t *testing.T) {
	network := NewInmemNetwork(true)

	var aBox, bBox signalBox
	a, _ := network.Factory("alice").NewLink("bob", LocalMedia{}, aBox.handlers())
	b, _ := network.Factory("bob").NewLink("alice", LocalMedia{}, bBox.handlers())

	if err := a.Initiate(); err != nil {
		t.Fatalf("err: %v", err)
	}

	fromAlice := aBox.take()
	if len(fromAlice) != 2 || fromAlice[0].Type != SignalOffer || fromAlice[1].Type != SignalCandidate {
		t.Fatalf("alice should emit an offer then a candidate, got %v", fromAlice)
	}

	// Candidate first: it must be queued until the offer is applied
	if err := b.Apply(fromAlice[1]); err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := b.Apply(fromAlice[0]); err != nil {
		t.Fatalf("err: %v", err)
	}

	fromBob := bBox.take()
	if len(fromBob) != 2 || fromBob[0].Type != SignalAnswer {
		t.Fatalf("bob should emit an answer then a candidate, got %v", fromBob)
	}
	for _, s := range fromBob {
		if err := a.Apply(s); err != nil {
			t.Fatalf("err: %v", err)
		}
	}

	al := network.LinksTo("alice", "bob")[0]
	bl := network.LinksTo("bob", "alice")[0]
	if al.State() != Connected || bl.State() != Connected {
		t.Fatalf("both links should be connected: %v %v", al.State(), bl.State())
	}
	if al.Candidates() != 1 || bl.Candidates() != 1 {
		t.Fatalf("each side should have applied one candidate: %d %d", al.Candidates(), bl.Candidates())
	}
	if len(aBox.tracks) != 1 || aBox.tracks[0].From != "bob" {
		t.Fatalf("alice should receive bob's track, got %v", aBox.tracks)
	}

	if err := a.Apply(fromBob[0]); !common.IsCall(err, common.ProtocolViolation) {
		t.Fatalf("second answer should be a ProtocolViolation, got %v", err)
	}

	a.Close()
	if al.State() != Closed {
		t.Fatalf("closed link should report Closed")
	}
}

type fakeTrack string

func (f fakeTrack) ID() string       { return string(f) }
func (f fakeTrack) StreamID() string { return "stream" }

func TestInmemReplaceVideoTrack(t *testing.T) {
	network := NewInmemNetwork(false)
	l, _ := network.Factory("alice").NewLink("bob", LocalMedia{Video: fakeTrack("camera")}, Handlers{})

	if err := l.ReplaceVideoTrack(fakeTrack("screen")); err != nil {
		t.Fatalf("err: %v", err)
	}
	if got := network.Links("alice")[0].VideoTrack().ID(); got != "screen" {
		t.Fatalf("video track should be screen, got %s", got)
	}
}

func TestPionOfferAnswer(t *testing.T) {
	// pion logs from its own goroutines, possibly after the test returns
	quiet := logrus.New()
	quiet.Out = ioutil.Discard
	logger := quiet.WithField("component", "peer")

	fa, err := NewPionFactory(nil, false, logger)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	fb, err := NewPionFactory(nil, false, logger)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	var aBox, bBox signalBox
	a, err := fa.NewLink("bob", LocalMedia{}, aBox.handlers())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer a.Close()
	b, err := fb.NewLink("alice", LocalMedia{}, bBox.handlers())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer b.Close()

	if err := a.Initiate(); err != nil {
		t.Fatalf("err: %v", err)
	}
	offer := aBox.take()
	if len(offer) != 1 || offer[0].Type != SignalOffer || !strings.Contains(offer[0].SDP, "m=video") {
		t.Fatalf("expected one offer with a video section, got %v", offer)
	}

	if err := b.Apply(offer[0]); err != nil {
		t.Fatalf("err: %v", err)
	}
	answer := bBox.take()
	if len(answer) != 1 || answer[0].Type != SignalAnswer {
		t.Fatalf("expected one answer, got %v", answer)
	}

	if err := a.Apply(answer[0]); err != nil {
		t.Fatalf("err: %v", err)
	}
}
