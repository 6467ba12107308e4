package mailbox

import (
	"context"
	"crypto/rsa"
	"sort"
	"strconv"
	"sync"

	"github.com/mosaicnetworks/callrelay/src/chunk"
	"github.com/mosaicnetworks/callrelay/src/common"
	"github.com/mosaicnetworks/callrelay/src/crypto/keys"
	"github.com/sirupsen/logrus"
)

// Client is the typed mailbox client used by the bootstrap and call layers.
//
// Write paths return their errors, wrapped as TransportError. Read paths used
// by polling loops (Poll) are fail-open: a failed read yields no records for
// that cycle and marks the batch incomplete.
type Client struct {
	relay       Relay
	me          string
	chunkSize   int
	sentKeys    *SentKeys
	reassembler *chunk.Reassembler
	// chunkMtx keeps the meta record and the pieces of one chunk set
	// contiguous among this client's records.
	chunkMtx *sync.Mutex
	logger   *logrus.Entry
}

// NewClient returns a Client acting as me. Signals whose content is longer
// than chunkSize bytes are sent as chunk sets; 0 disables chunking.
func NewClient(relay Relay, me string, chunkSize int, logger *logrus.Entry) *Client {
	return &Client{
		relay:       relay,
		me:          me,
		chunkSize:   chunkSize,
		reassembler: chunk.NewReassembler(logger),
		chunkMtx:    &sync.Mutex{},
		logger:      logger,
	}
}

// WithSentKeys returns a copy of the client whose session-key sends are
// guarded by sk.
func (c *Client) WithSentKeys(sk *SentKeys) *Client {
	cp := *c
	cp.sentKeys = sk
	return &cp
}

// Me returns the identity the client acts as.
func (c *Client) Me() string {
	return c.me
}

// Send appends one record. A session-key record already sent by this client
// for the same (callID, target) pair is silently skipped.
func (c *Client) Send(ctx context.Context, callID string, t Type, content string, target string) error {
	if t == TypeSessionKey && c.sentKeys != nil {
		if !c.sentKeys.reserve(callID, target) {
			c.logger.WithFields(logrus.Fields{
				"call_id": callID,
				"target":  target,
			}).Debug("Session key already sent")
			return nil
		}
	}

	if err := c.relay.Send(ctx, callID, t, content, target); err != nil {
		if t == TypeSessionKey && c.sentKeys != nil {
			c.sentKeys.release(callID, target)
		}
		return common.NewCallErr("mailbox", common.TransportError, "send "+string(t), err)
	}

	return nil
}

// SendSignal sends content as one record, or as a chunk set when it exceeds
// the chunk size. The meta record is written before the pieces, and no other
// chunk set of this client is interleaved with them.
func (c *Client) SendSignal(ctx context.Context, callID string, t Type, content string, target string) error {
	if c.chunkSize <= 0 || len(content) <= c.chunkSize {
		return c.Send(ctx, callID, t, content, target)
	}

	pieces := chunk.Split(content, c.chunkSize)

	c.chunkMtx.Lock()
	defer c.chunkMtx.Unlock()

	c.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"type":    t,
		"pieces":  len(pieces),
	}).Debug("Sending chunked signal")

	if err := c.Send(ctx, callID, t.Meta(), strconv.Itoa(len(pieces)), target); err != nil {
		return err
	}

	for _, p := range pieces {
		if err := c.Send(ctx, callID, t, p, target); err != nil {
			return err
		}
	}

	return nil
}

// Receive returns every record of type t in the call visible to forUser,
// ordered by ID. It returns the full set on every call; deduplication is the
// caller's job.
func (c *Client) Receive(ctx context.Context, callID string, t Type, forUser string) ([]Record, error) {
	records, err := c.relay.Receive(ctx, callID, t, forUser)
	if err != nil {
		return nil, common.NewCallErr("mailbox", common.TransportError, "receive "+string(t), err)
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	return records, nil
}

type chunkKey struct {
	sender string
	target string
}

// ReceiveSignals is Receive with chunk sets merged. Each complete chunk set
// becomes one record carrying the meta record's ID, sender and target. Raw
// pieces and incomplete sets are left out.
//
// A chunk set owns the pieces with the same sender and target whose ids lie
// between its meta record and the next meta record of that pair. Pieces
// older than any meta record are ignored.
func (c *Client) ReceiveSignals(ctx context.Context, callID string, t Type, forUser string) ([]Record, error) {
	records, err := c.Receive(ctx, callID, t, forUser)
	if err != nil {
		return nil, err
	}

	res := []Record{}
	pieces := make(map[chunkKey][]Record)
	for _, r := range records {
		if chunk.IsPiece(r.Content) {
			k := chunkKey{r.Sender, r.TargetUser}
			pieces[k] = append(pieces[k], r)
			continue
		}
		res = append(res, r)
	}

	if c.chunkSize > 0 || len(pieces) > 0 {
		metas, err := c.Receive(ctx, callID, t.Meta(), forUser)
		if err != nil {
			return nil, err
		}

		sets := make(map[chunkKey][]Record)
		for _, m := range metas {
			k := chunkKey{m.Sender, m.TargetUser}
			sets[k] = append(sets[k], m)
		}

		for k, ms := range sets {
			for i, m := range ms {
				next := int64(-1)
				if i+1 < len(ms) {
					next = ms[i+1].ID
				}

				if merged, ok := c.mergeSet(m, piecesBetween(pieces[k], m.ID, next), t); ok {
					res = append(res, merged)
				}
			}
		}
	}

	sort.SliceStable(res, func(i, j int) bool { return res[i].ID < res[j].ID })

	return res, nil
}

// piecesBetween returns the contents of the pieces with from < id < to, in id
// order. A negative to means no upper bound.
func piecesBetween(pieces []Record, from, to int64) []string {
	res := []string{}
	for _, p := range pieces {
		if p.ID <= from || (to >= 0 && p.ID >= to) {
			continue
		}
		res = append(res, p.Content)
	}
	return res
}

func (c *Client) mergeSet(meta Record, pieces []string, t Type) (Record, bool) {
	content, err := c.reassembler.Reassemble(meta.Content, pieces)
	if err != nil {
		entry := c.logger.WithError(err).WithFields(logrus.Fields{
			"sender": meta.Sender,
			"meta":   meta.ID,
		})
		if common.IsCall(err, common.NotReady) {
			entry.Debug("Chunk set incomplete")
		} else {
			entry.Warn("Chunk set rejected")
		}
		return Record{}, false
	}

	return Record{
		ID:         meta.ID,
		CallID:     meta.CallID,
		Sender:     meta.Sender,
		Type:       t,
		Content:    content,
		TargetUser: meta.TargetUser,
	}, true
}

// Batch is the result of one Poll.
type Batch struct {
	Records map[Type][]Record
	// Complete is false when at least one read failed. An incomplete batch
	// must not be read as "the mailbox is empty".
	Complete bool
}

// Count returns the number of records of the given types in the batch.
func (b Batch) Count(types ...Type) int {
	n := 0
	for _, t := range types {
		n += len(b.Records[t])
	}
	return n
}

// Poll receives several types in one cycle with chunk sets merged. Failed reads
// are logged and skipped.
func (c *Client) Poll(ctx context.Context, callID string, forUser string, types ...Type) Batch {
	batch := Batch{
		Records:  make(map[Type][]Record, len(types)),
		Complete: true,
	}

	for _, t := range types {
		records, err := c.ReceiveSignals(ctx, callID, t, forUser)
		if err != nil {
			c.logger.WithError(err).WithField("type", t).Warn("Receive failed")
			batch.Complete = false
			continue
		}
		batch.Records[t] = records
	}

	return batch
}

// Inbox returns the records ringing this client's identity.
func (c *Client) Inbox(ctx context.Context) ([]Record, error) {
	records, err := c.relay.Inbox(ctx)
	if err != nil {
		return nil, common.NewCallErr("mailbox", common.TransportError, "inbox", err)
	}
	return records, nil
}

// Purge deletes every record of the call.
func (c *Client) Purge(ctx context.Context, callID string) error {
	if err := c.relay.Purge(ctx, callID); err != nil {
		return common.NewCallErr("mailbox", common.TransportError, "purge", err)
	}
	return nil
}

// Join ...
func (c *Client) Join(ctx context.Context, callID string) error {
	if err := c.relay.Join(ctx, callID); err != nil {
		return common.NewCallErr("mailbox", common.TransportError, "join", err)
	}
	return nil
}

// Leave ...
func (c *Client) Leave(ctx context.Context, callID string) error {
	if err := c.relay.Leave(ctx, callID); err != nil {
		return common.NewCallErr("mailbox", common.TransportError, "leave", err)
	}
	return nil
}

// Participants ...
func (c *Client) Participants(ctx context.Context, callID string) ([]string, error) {
	roster, err := c.relay.Participants(ctx, callID)
	if err != nil {
		return nil, common.NewCallErr("mailbox", common.TransportError, "participants", err)
	}
	return roster, nil
}

// SessionKeyMaterial fetches the server-held key material of a group call.
func (c *Client) SessionKeyMaterial(ctx context.Context, callID string) (string, error) {
	material, err := c.relay.SessionKeyMaterial(ctx, callID)
	if err != nil {
		return "", common.NewCallErr("mailbox", common.TransportError, "session key material", err)
	}
	return material, nil
}

// CreateGroup registers a group call and returns its id.
func (c *Client) CreateGroup(ctx context.Context, members []string, material string) (string, error) {
	callID, err := c.relay.CreateGroup(ctx, members, material)
	if err != nil {
		return "", common.NewCallErr("mailbox", common.TransportError, "create group", err)
	}
	return callID, nil
}

// Invitations ...
func (c *Client) Invitations(ctx context.Context) ([]string, error) {
	callIDs, err := c.relay.Invitations(ctx)
	if err != nil {
		return nil, common.NewCallErr("mailbox", common.TransportError, "invitations", err)
	}
	return callIDs, nil
}

// PublicKey fetches and imports the public key of user.
func (c *Client) PublicKey(ctx context.Context, user string) (*rsa.PublicKey, error) {
	pemData, err := c.relay.PublicKey(ctx, user)
	if err != nil {
		return nil, common.NewCallErr("mailbox", common.TransportError, "public key of "+user, err)
	}
	return keys.PublicKeyFromPEM([]byte(pemData))
}

// RegisterPublicKey publishes this client's public key.
func (c *Client) RegisterPublicKey(ctx context.Context, pub *rsa.PublicKey) error {
	pemData, err := keys.PublicKeyToPEM(pub)
	if err != nil {
		return err
	}
	if err := c.relay.RegisterPublicKey(ctx, pemData); err != nil {
		return common.NewCallErr("mailbox", common.TransportError, "register public key", err)
	}
	return nil
}
