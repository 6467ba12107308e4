package callrelay

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mosaicnetworks/callrelay/src/bootstrap"
	"github.com/mosaicnetworks/callrelay/src/call"
	"github.com/mosaicnetworks/callrelay/src/config"
	"github.com/mosaicnetworks/callrelay/src/crypto/keys"
	"github.com/mosaicnetworks/callrelay/src/mailbox"
	"github.com/mosaicnetworks/callrelay/src/net/signal"
	"github.com/mosaicnetworks/callrelay/src/peer"
	"github.com/sirupsen/logrus"
)

type fakeTrack string

func (f fakeTrack) ID() string       { return string(f) }
func (f fakeTrack) StreamID() string { return "stream-" + string(f) }

func media(name string) peer.LocalMedia {
	return peer.LocalMedia{Audio: fakeTrack("mic-" + name), Video: fakeTrack("cam-" + name)}
}

// recordingNotifier is a Subscriber that remembers its subscriptions and
// lets tests fire events.
type recordingNotifier struct {
	sync.Mutex
	handlers     map[string]func(signal.Event)
	unsubscribed []string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{handlers: make(map[string]func(signal.Event))}
}

func (n *recordingNotifier) Subscribe(topic string, handler func(signal.Event)) error {
	n.Lock()
	defer n.Unlock()
	n.handlers[topic] = handler
	return nil
}

func (n *recordingNotifier) Unsubscribe(topic string) error {
	n.Lock()
	defer n.Unlock()
	delete(n.handlers, topic)
	n.unsubscribed = append(n.unsubscribed, topic)
	return nil
}

func (n *recordingNotifier) subscribed(topic string) bool {
	n.Lock()
	defer n.Unlock()
	_, ok := n.handlers[topic]
	return ok
}

func (n *recordingNotifier) wasUnsubscribed(topic string) bool {
	n.Lock()
	defer n.Unlock()
	for _, u := range n.unsubscribed {
		if u == topic {
			return true
		}
	}
	return false
}

func testConfig(t *testing.T) *config.Config {
	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.SetDataDir(t.TempDir())
	conf.PollInterval = 10 * time.Millisecond
	conf.GroupPollInterval = 10 * time.Millisecond
	conf.RosterInterval = 10 * time.Millisecond
	return conf
}

func newTestClient(t *testing.T, board mailbox.Board, network *peer.InmemNetwork, name string) *Callrelay {
	key, err := keys.GenerateRSAKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	engine := NewCallrelay(testConfig(t))
	engine.Me = name
	engine.Key = key
	engine.Relay = mailbox.NewInmemRelay(board, name)
	engine.Factory = network.Factory(name)

	if err := engine.Init(); err != nil {
		t.Fatalf("err: %v", err)
	}

	return engine
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitDone(t *testing.T, what string, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
	}
}

func TestIdentity(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "alice"}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	me, err := Identity(token)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if me != "alice" {
		t.Fatalf("identity should be alice, not %s", me)
	}

	anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	for _, bad := range []string{"", "not.a.token", anonymous} {
		if _, err := Identity(bad); err == nil {
			t.Fatalf("Identity(%q) should fail", bad)
		}
	}
}

func TestKeygen(t *testing.T) {
	dir := t.TempDir()
	privFile := filepath.Join(dir, "priv_key")
	pubFile := filepath.Join(dir, "key.pub")

	priv, err := Keygen(privFile, pubFile)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	pubPEM, err := ioutil.ReadFile(pubFile)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	pub, err := keys.PublicKeyFromPEM(pubPEM)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if keys.Fingerprint(pub) != keys.Fingerprint(&priv.PublicKey) {
		t.Fatalf("public key file does not match the private key")
	}

	if _, err := Keygen(privFile, pubFile); err == nil {
		t.Fatalf("Keygen should not overwrite an existing key")
	}
}

func TestInitKeepsKey(t *testing.T) {
	board := mailbox.NewInmemBoard()
	network := peer.NewInmemNetwork(true)

	conf := testConfig(t)

	first := NewCallrelay(conf)
	first.Me = "alice"
	first.Relay = mailbox.NewInmemRelay(board, "alice")
	first.Factory = network.Factory("alice")
	if err := first.Init(); err != nil {
		t.Fatalf("err: %v", err)
	}
	defer first.Close()

	if _, err := os.Stat(conf.Keyfile()); err != nil {
		t.Fatalf("Init should write a new key: %v", err)
	}

	second := NewCallrelay(conf)
	second.Me = "alice"
	second.Relay = mailbox.NewInmemRelay(board, "alice")
	second.Factory = network.Factory("alice")
	if err := second.Init(); err != nil {
		t.Fatalf("err: %v", err)
	}
	defer second.Close()

	if keys.Fingerprint(&first.Key.PublicKey) != keys.Fingerprint(&second.Key.PublicKey) {
		t.Fatalf("second Init should reuse the key on disk")
	}

	registered, err := board.PublicKey(context.Background(), "alice")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if pub, err := keys.PublicKeyFromPEM([]byte(registered)); err != nil || keys.Fingerprint(pub) != keys.Fingerprint(&first.Key.PublicKey) {
		t.Fatalf("Init should register the public key with the relay")
	}
}

func TestDialAnswer(t *testing.T) {
	ctx := context.Background()
	board := mailbox.NewInmemBoard()
	network := peer.NewInmemNetwork(true)

	alice := newTestClient(t, board, network, "alice")
	defer alice.Close()
	bob := newTestClient(t, board, network, "bob")
	defer bob.Close()

	notifier := newRecordingNotifier()
	alice.Notifier = notifier

	incoming := make(chan string, 4)
	watchCtx, stopWatch := context.WithCancel(ctx)
	watched := make(chan struct{})
	go func() {
		bob.WatchIncoming(watchCtx, func(callID string) { incoming <- callID })
		close(watched)
	}()
	defer func() {
		stopWatch()
		<-watched
	}()

	out, err := alice.Dial(ctx, "bob", media("alice"), call.DirectObserver{})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer out.Close()

	if !notifier.subscribed(signal.CallTopic("alice_bob")) {
		t.Fatalf("Dial should subscribe to the call topic")
	}

	var callID string
	select {
	case callID = <-incoming:
	case <-time.After(5 * time.Second):
		t.Fatalf("bob never saw the incoming call")
	}
	if callID != "alice_bob" {
		t.Fatalf("incoming call should be alice_bob, not %s", callID)
	}

	in, err := bob.Answer(ctx, callID, media("bob"), call.DirectObserver{})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer in.Close()

	waitFor(t, "bob can accept", in.CanAccept)
	if err := in.Accept(ctx); err != nil {
		t.Fatalf("err: %v", err)
	}
	waitFor(t, "alice connected", func() bool { return out.State() == call.Connected })

	// The call keeps ringing the inbox; it is reported only once
	time.Sleep(50 * time.Millisecond)
	select {
	case id := <-incoming:
		t.Fatalf("%s reported twice", id)
	default:
	}

	if err := out.Hangup(ctx); err != nil {
		t.Fatalf("err: %v", err)
	}
	waitDone(t, "bob ends", in.Done())

	waitFor(t, "call topic released", func() bool {
		return notifier.wasUnsubscribed(signal.CallTopic("alice_bob"))
	})
}

func TestAnswerForeignCall(t *testing.T) {
	board := mailbox.NewInmemBoard()
	network := peer.NewInmemNetwork(true)

	bob := newTestClient(t, board, network, "bob")
	defer bob.Close()

	for _, id := range []string{"alice_carol", "bob_alice", "group_1234"} {
		if _, err := bob.Answer(context.Background(), id, media("bob"), call.DirectObserver{}); err == nil {
			t.Fatalf("bob should not answer %s", id)
		}
	}
}

func TestWatchIncomingNotified(t *testing.T) {
	board := mailbox.NewInmemBoard()
	network := peer.NewInmemNetwork(true)

	bob := newTestClient(t, board, network, "bob")
	defer bob.Close()
	bob.Config.PollInterval = time.Hour

	notifier := newRecordingNotifier()
	bob.Notifier = notifier

	incoming := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	watched := make(chan struct{})
	go func() {
		bob.WatchIncoming(ctx, func(callID string) { incoming <- callID })
		close(watched)
	}()

	topic := signal.UserTopic("bob")
	waitFor(t, "user topic subscription", func() bool { return notifier.subscribed(topic) })

	// The first scan runs right away, so the offer has to wait for a push
	time.Sleep(20 * time.Millisecond)

	carol := mailbox.NewClient(mailbox.NewInmemRelay(board, "carol"), "carol", 0, bob.logger)
	if err := carol.Send(context.Background(), "carol_bob", mailbox.TypeOffer, "sealed", ""); err != nil {
		t.Fatalf("err: %v", err)
	}

	notifier.Lock()
	handler := notifier.handlers[topic]
	notifier.Unlock()
	handler(signal.Event{CallID: "carol_bob", Sender: "carol", Type: string(mailbox.TypeOffer), Target: "bob"})

	select {
	case id := <-incoming:
		if id != "carol_bob" {
			t.Fatalf("incoming call should be carol_bob, not %s", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("push notification did not trigger a scan")
	}

	cancel()
	<-watched

	if !notifier.wasUnsubscribed(topic) {
		t.Fatalf("WatchIncoming should release the user topic")
	}
}

func TestGroupCall(t *testing.T) {
	ctx := context.Background()
	board := mailbox.NewInmemBoard()
	network := peer.NewInmemNetwork(true)

	names := []string{"alice", "bob", "carol"}
	engines := make(map[string]*Callrelay)
	for _, n := range names {
		engines[n] = newTestClient(t, board, network, n)
		defer engines[n].Close()
	}

	alice, err := engines["alice"].CreateGroup(ctx, []string{"bob", "carol"}, media("alice"), call.GroupObserver{})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	groups := map[string]*call.Group{"alice": alice}

	for _, n := range []string{"bob", "carol"} {
		invitations, err := engines[n].Invitations(ctx)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if len(invitations) != 1 || invitations[0] != alice.CallID() {
			t.Fatalf("%s should be invited to %s, got %v", n, alice.CallID(), invitations)
		}

		g, err := engines[n].JoinGroup(ctx, invitations[0], media(n), call.GroupObserver{})
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		groups[n] = g
	}

	waitFor(t, "full mesh", func() bool {
		for _, n := range names {
			if len(groups[n].Linked()) != 2 {
				return false
			}
		}
		return true
	})

	for _, n := range names {
		if err := groups[n].Leave(ctx); err != nil {
			t.Fatalf("err: %v", err)
		}
		waitDone(t, n+" left", groups[n].Done())
	}

	for _, typ := range []mailbox.Type{mailbox.TypeSessionKey, mailbox.TypeOffer, mailbox.TypeAnswer} {
		records, err := board.List(ctx, alice.CallID(), typ, "")
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if len(records) != 0 {
			t.Fatalf("last one out should purge the mailbox, %d %s records left", len(records), typ)
		}
	}
}

func TestStoreUsesBadger(t *testing.T) {
	board := mailbox.NewInmemBoard()
	network := peer.NewInmemNetwork(true)

	key, err := keys.GenerateRSAKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	conf := testConfig(t)
	conf.Store = true

	engine := NewCallrelay(conf)
	engine.Me = "alice"
	engine.Key = key
	engine.Relay = mailbox.NewInmemRelay(board, "alice")
	engine.Factory = network.Factory("alice")
	if err := engine.Init(); err != nil {
		t.Fatalf("err: %v", err)
	}
	defer engine.Close()

	if _, ok := engine.Cache.(*bootstrap.BadgerKeyCache); !ok {
		t.Fatalf("Store should select the badger key cache, got %T", engine.Cache)
	}
}
