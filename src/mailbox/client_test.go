package mailbox

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/mosaicnetworks/callrelay/src/common"
	"github.com/mosaicnetworks/callrelay/src/crypto/keys"
)

func newTestClients(t *testing.T, chunkSize int, users ...string) (*InmemBoard, map[string]*Client) {
	board := NewInmemBoard()
	clients := make(map[string]*Client)
	for _, u := range users {
		clients[u] = NewClient(NewInmemRelay(board, u), u, chunkSize, common.NewTestEntry(t, "mailbox"))
	}
	return board, clients
}

func TestReceiveFilter(t *testing.T) {
	ctx := context.Background()
	_, c := newTestClients(t, 0, "alice", "bob", "carol")

	c["alice"].Send(ctx, "g", TypeICE, "a-broadcast", "")
	c["alice"].Send(ctx, "g", TypeICE, "a-to-bob", "bob")
	c["alice"].Send(ctx, "g", TypeICE, "a-to-carol", "carol")
	c["bob"].Send(ctx, "g", TypeICE, "b-broadcast", "")

	contents := func(records []Record) []string {
		res := []string{}
		for _, r := range records {
			res = append(res, r.Content)
		}
		return res
	}

	forBob, err := c["bob"].Receive(ctx, "g", TypeICE, "bob")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	expected := []string{"a-broadcast", "a-to-bob"}
	if got := contents(forBob); !reflect.DeepEqual(got, expected) {
		t.Fatalf("bob should see %v, not %v", expected, got)
	}

	all, err := c["carol"].Receive(ctx, "g", TypeICE, "")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("empty for_user should return all 4 records, not %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].ID >= all[i].ID {
			t.Fatalf("records should be ordered by id: %v", all)
		}
	}
}

func TestSessionKeySentOnce(t *testing.T) {
	ctx := context.Background()
	board, c := newTestClients(t, 0, "alice", "bob")

	sk := NewSentKeys()
	alice := c["alice"].WithSentKeys(sk)

	for i := 0; i < 3; i++ {
		if err := alice.Send(ctx, "alice_bob", TypeSessionKey, "wrapped", "bob"); err != nil {
			t.Fatalf("err: %v", err)
		}
	}

	if err := alice.Send(ctx, "alice_carol", TypeSessionKey, "wrapped", "carol"); err != nil {
		t.Fatalf("err: %v", err)
	}

	records, _ := board.List(ctx, "alice_bob", TypeSessionKey, "bob")
	if len(records) != 1 {
		t.Fatalf("session key should be sent once per pair, got %d records", len(records))
	}
	if !sk.Sent("alice_carol", "carol") {
		t.Fatalf("alice_carol/carol should be marked sent")
	}

	// Other record types are not guarded
	alice.Send(ctx, "alice_bob", TypeEnd, "", "")
	alice.Send(ctx, "alice_bob", TypeEnd, "", "")
	records, _ = board.List(ctx, "alice_bob", TypeEnd, "")
	if len(records) != 2 {
		t.Fatalf("end records should not be guarded, got %d", len(records))
	}
}

type failingRelay struct {
	*InmemRelay
	failSend    bool
	failReceive bool
}

var errDown = errors.New("relay down")

func (f *failingRelay) Send(ctx context.Context, callID string, t Type, content string, target string) error {
	if f.failSend {
		return errDown
	}
	return f.InmemRelay.Send(ctx, callID, t, content, target)
}

func (f *failingRelay) Receive(ctx context.Context, callID string, t Type, forUser string) ([]Record, error) {
	if f.failReceive {
		return nil, errDown
	}
	return f.InmemRelay.Receive(ctx, callID, t, forUser)
}

func TestSendFailureReleasesGuard(t *testing.T) {
	ctx := context.Background()
	board := NewInmemBoard()
	relay := &failingRelay{InmemRelay: NewInmemRelay(board, "alice"), failSend: true}
	sk := NewSentKeys()
	alice := NewClient(relay, "alice", 0, common.NewTestEntry(t, "mailbox")).WithSentKeys(sk)

	err := alice.Send(ctx, "alice_bob", TypeSessionKey, "wrapped", "bob")
	if !common.IsCall(err, common.TransportError) {
		t.Fatalf("send failure should be a TransportError, got %v", err)
	}
	if sk.Sent("alice_bob", "bob") {
		t.Fatalf("failed send should not mark the pair as sent")
	}

	relay.failSend = false
	if err := alice.Send(ctx, "alice_bob", TypeSessionKey, "wrapped", "bob"); err != nil {
		t.Fatalf("err: %v", err)
	}
	records, _ := board.List(ctx, "alice_bob", TypeSessionKey, "")
	if len(records) != 1 {
		t.Fatalf("retry should send the key, got %d records", len(records))
	}
}

func TestPollFailOpen(t *testing.T) {
	ctx := context.Background()
	board := NewInmemBoard()
	NewInmemRelay(board, "alice").Send(ctx, "alice_bob", TypeOffer, "sdp", "bob")

	relay := &failingRelay{InmemRelay: NewInmemRelay(board, "bob"), failReceive: true}
	bob := NewClient(relay, "bob", 0, common.NewTestEntry(t, "mailbox"))

	batch := bob.Poll(ctx, "alice_bob", "bob", TypeOffer, TypeICE)
	if batch.Complete {
		t.Fatalf("batch should be incomplete when reads fail")
	}
	if batch.Count(TypeOffer, TypeICE) != 0 {
		t.Fatalf("failed reads should yield no records")
	}

	relay.failReceive = false
	batch = bob.Poll(ctx, "alice_bob", "bob", TypeOffer, TypeICE)
	if !batch.Complete {
		t.Fatalf("batch should be complete")
	}
	if batch.Count(TypeOffer) != 1 {
		t.Fatalf("expected 1 offer, got %d", batch.Count(TypeOffer))
	}
}

func TestChunkedSignal(t *testing.T) {
	ctx := context.Background()
	board, c := newTestClients(t, 16, "alice", "bob", "carol")

	long := strings.Repeat("abcdefgh", 10)
	if err := c["alice"].SendSignal(ctx, "g", TypeOffer, long, "bob"); err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := c["carol"].SendSignal(ctx, "g", TypeOffer, strings.Repeat("xyz", 20), "bob"); err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := c["alice"].SendSignal(ctx, "g", TypeOffer, "short", "carol"); err != nil {
		t.Fatalf("err: %v", err)
	}

	raw, _ := board.List(ctx, "g", TypeOffer, "bob")
	if len(raw) != 5+4 {
		t.Fatalf("expected 9 raw pieces for bob, got %d", len(raw))
	}

	records, err := c["bob"].ReceiveSignals(ctx, "g", TypeOffer, "bob")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 merged records, got %d", len(records))
	}
	if records[0].Sender != "alice" || records[0].Content != long {
		t.Fatalf("first merged record should be alice's offer, got %#v", records[0])
	}
	if records[1].Sender != "carol" || records[1].Content != strings.Repeat("xyz", 20) {
		t.Fatalf("second merged record should be carol's offer, got %#v", records[1])
	}

	metas, _ := board.List(ctx, "g", TypeOffer.Meta(), "bob")
	if records[0].ID != metas[0].ID {
		t.Fatalf("merged record should carry the meta id")
	}

	short, err := c["carol"].ReceiveSignals(ctx, "g", TypeOffer, "carol")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(short) != 1 || short[0].Content != "short" {
		t.Fatalf("carol should get the short offer unchunked, got %v", short)
	}
}

func TestChunkedSignalsSameSender(t *testing.T) {
	ctx := context.Background()
	_, c := newTestClients(t, 8, "alice", "bob")

	first := strings.Repeat("A", 20)
	second := strings.Repeat("B", 20)
	for _, content := range []string{first, second} {
		if err := c["alice"].SendSignal(ctx, "alice_bob", TypeICE, content, "bob"); err != nil {
			t.Fatalf("err: %v", err)
		}
	}

	records, err := c["bob"].ReceiveSignals(ctx, "alice_bob", TypeICE, "bob")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("both chunked candidates should arrive, got %d", len(records))
	}
	if records[0].Content != first || records[1].Content != second {
		t.Fatalf("chunk sets should not mix, got %q and %q", records[0].Content, records[1].Content)
	}
}

func TestChunkSetOwnsItsPieces(t *testing.T) {
	ctx := context.Background()
	board, c := newTestClients(t, 0, "alice", "bob")
	alice := NewInmemRelay(board, "alice")

	// A stray piece before any meta, then a set that never completes, then
	// a complete set reusing the same indices
	alice.Send(ctx, "alice_bob", TypeICE, "0/2:zz", "bob")
	alice.Send(ctx, "alice_bob", TypeICE.Meta(), "2", "bob")
	alice.Send(ctx, "alice_bob", TypeICE, "0/2:xx", "bob")
	alice.Send(ctx, "alice_bob", TypeICE.Meta(), "2", "bob")
	alice.Send(ctx, "alice_bob", TypeICE, "1/2:cd", "bob")
	alice.Send(ctx, "alice_bob", TypeICE, "0/2:ab", "bob")

	records, err := c["bob"].ReceiveSignals(ctx, "alice_bob", TypeICE, "bob")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(records) != 1 || records[0].Content != "abcd" {
		t.Fatalf("only the second set should merge, as \"abcd\", got %v", records)
	}

	metas, _ := board.List(ctx, "alice_bob", TypeICE.Meta(), "bob")
	if records[0].ID != metas[1].ID {
		t.Fatalf("merged record should carry the id of its own meta")
	}
}

func TestChunkedSignalIncomplete(t *testing.T) {
	ctx := context.Background()
	board, c := newTestClients(t, 0, "alice", "bob")
	alice := NewInmemRelay(board, "alice")

	alice.Send(ctx, "alice_bob", TypeOffer.Meta(), "3", "bob")
	alice.Send(ctx, "alice_bob", TypeOffer, "2/3:c", "bob")
	alice.Send(ctx, "alice_bob", TypeOffer, "0/3:a", "bob")

	records, err := c["bob"].ReceiveSignals(ctx, "alice_bob", TypeOffer, "bob")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("incomplete chunk set should not surface, got %v", records)
	}

	alice.Send(ctx, "alice_bob", TypeOffer, "1/3:b", "bob")

	records, err = c["bob"].ReceiveSignals(ctx, "alice_bob", TypeOffer, "bob")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(records) != 1 || records[0].Content != "abc" {
		t.Fatalf("expected merged \"abc\", got %v", records)
	}
}

func TestGroupDirectory(t *testing.T) {
	ctx := context.Background()
	_, c := newTestClients(t, 0, "alice", "bob", "carol")

	callID, err := c["alice"].CreateGroup(ctx, []string{"bob", "carol", "bob"}, "material")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !IsGroupCall(callID) {
		t.Fatalf("group call id should carry the group prefix: %s", callID)
	}

	inv, err := c["bob"].Invitations(ctx)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !reflect.DeepEqual(inv, []string{callID}) {
		t.Fatalf("bob should be invited to %s, got %v", callID, inv)
	}
	if inv, _ := c["alice"].Invitations(ctx); len(inv) != 0 {
		t.Fatalf("creator should not be invited, got %v", inv)
	}

	c["bob"].Join(ctx, callID)
	c["alice"].Join(ctx, callID)

	if inv, _ := c["bob"].Invitations(ctx); len(inv) != 0 {
		t.Fatalf("joining should consume the invitation, got %v", inv)
	}

	roster, err := c["carol"].Participants(ctx, callID)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !reflect.DeepEqual(roster, []string{"alice", "bob"}) {
		t.Fatalf("roster should be [alice bob], got %v", roster)
	}

	c["bob"].Leave(ctx, callID)
	roster, _ = c["carol"].Participants(ctx, callID)
	if !reflect.DeepEqual(roster, []string{"alice"}) {
		t.Fatalf("roster should be [alice], got %v", roster)
	}

	material, err := c["carol"].SessionKeyMaterial(ctx, callID)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if material != "material" {
		t.Fatalf("material should be returned unchanged, got %s", material)
	}

	if _, err := c["carol"].SessionKeyMaterial(ctx, "group_unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown group should be ErrNotFound, got %v", err)
	}
}

func TestInboxAndPublicKeys(t *testing.T) {
	ctx := context.Background()
	_, c := newTestClients(t, 0, "alice", "bob")

	priv, err := keys.GenerateRSAKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := c["bob"].RegisterPublicKey(ctx, &priv.PublicKey); err != nil {
		t.Fatalf("err: %v", err)
	}

	pub, err := c["alice"].PublicKey(ctx, "bob")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if pub.N.Cmp(priv.PublicKey.N) != 0 {
		t.Fatalf("fetched public key differs")
	}

	if _, err := c["alice"].PublicKey(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown user should be ErrNotFound, got %v", err)
	}

	c["alice"].Send(ctx, "alice_bob", TypeSessionKey, "wrapped", "bob")
	c["alice"].Send(ctx, "alice_bob", TypeOffer, "sdp", "bob")
	c["alice"].Send(ctx, "alice_bob", TypeICE, "cand", "bob")
	c["alice"].Send(ctx, "alice_carol", TypeOffer, "sdp", "carol")

	inbox, err := c["bob"].Inbox(ctx)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(inbox) != 2 {
		t.Fatalf("bob's inbox should hold the key and the offer, got %v", inbox)
	}
	if inbox, _ := c["alice"].Inbox(ctx); len(inbox) != 0 {
		t.Fatalf("alice's inbox should be empty, got %v", inbox)
	}
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	board, c := newTestClients(t, 0, "alice", "bob")

	c["alice"].Send(ctx, "alice_bob", TypeOffer, "sdp", "bob")
	c["alice"].Send(ctx, "alice_carol", TypeOffer, "sdp", "carol")

	if err := c["bob"].Purge(ctx, "alice_bob"); err != nil {
		t.Fatalf("err: %v", err)
	}

	if records, _ := board.List(ctx, "alice_bob", TypeOffer, ""); len(records) != 0 {
		t.Fatalf("purged call should be empty, got %v", records)
	}
	if records, _ := board.List(ctx, "alice_carol", TypeOffer, ""); len(records) != 1 {
		t.Fatalf("other calls should survive a purge, got %v", records)
	}
}

func TestSeen(t *testing.T) {
	s := NewSeen()
	if !s.Add(3) {
		t.Fatalf("first Add should report new")
	}
	if s.Add(3) {
		t.Fatalf("second Add should report seen")
	}
	if !s.Has(3) || s.Has(4) || s.Len() != 1 {
		t.Fatalf("unexpected Seen state")
	}
}
