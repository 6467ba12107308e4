package bootstrap

import (
	"context"
	"crypto/rsa"
	"sync"
	"time"

	"github.com/mosaicnetworks/callrelay/src/common"
	"github.com/mosaicnetworks/callrelay/src/crypto"
	"github.com/mosaicnetworks/callrelay/src/crypto/keys"
	"github.com/mosaicnetworks/callrelay/src/mailbox"
	"github.com/sirupsen/logrus"
)

// Options ...
type Options struct {
	// ServerFallback lets a group participant with no wrapped key record use
	// the key material held by the relay for the call.
	ServerFallback bool
}

// Bootstrap drives the session key of one call for the local participant.
//
// The initiator calls Establish, which generates the key, caches it and wraps
// one copy per recipient. A group creator that already generated the key
// calls Adopt then Distribute. Everyone else calls Poll (or Await) until the
// state is KeyReady.
type Bootstrap struct {
	state

	mtx sync.Mutex

	callID   string
	priv     *rsa.PrivateKey
	mailbox  *mailbox.Client
	sentKeys *mailbox.SentKeys
	cache    KeyCache
	opts     Options
	key      []byte

	wakeCh chan struct{}

	logger *logrus.Entry
}

// New returns a Bootstrap for callID. The mailbox client is rebound to a
// SentKeys set owned by this Bootstrap.
func New(callID string,
	priv *rsa.PrivateKey,
	client *mailbox.Client,
	cache KeyCache,
	opts Options,
	logger *logrus.Entry) *Bootstrap {

	sentKeys := mailbox.NewSentKeys()

	return &Bootstrap{
		callID:   callID,
		priv:     priv,
		mailbox:  client.WithSentKeys(sentKeys),
		sentKeys: sentKeys,
		cache:    cache,
		opts:     opts,
		wakeCh:   make(chan struct{}, 1),
		logger:   logger.WithField("call_id", callID),
	}
}

// State returns the current key state.
func (b *Bootstrap) State() State {
	return b.getState()
}

// Key returns the session key, or nil before KeyReady.
func (b *Bootstrap) Key() []byte {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.key
}

// SentKeys returns the idempotence set guarding this call's key sends.
func (b *Bootstrap) SentKeys() *mailbox.SentKeys {
	return b.sentKeys
}

func (b *Bootstrap) ready(key []byte, source string) {
	b.mtx.Lock()
	b.key = key
	b.mtx.Unlock()

	if err := b.cache.Set(b.callID, key); err != nil {
		b.logger.WithError(err).Warn("Caching session key")
	}

	b.setState(KeyReady)

	b.logger.WithField("source", source).Debug("Session key ready")
}

// Establish makes the local participant the key owner. A group call reuses a
// cached key. A 1:1 call id is reused for every call between the same pair,
// so a 1:1 call always gets a fresh key. One wrapped copy goes to each
// recipient. Send failures are returned.
func (b *Bootstrap) Establish(ctx context.Context, recipients []string) ([]byte, error) {
	if b.getState() != KeyReady {
		b.setState(AwaitingLocalCache)
		key, err := b.cachedKey()
		if err != nil {
			key, err = crypto.GenerateSessionKey()
			if err != nil {
				b.setState(NoKey)
				return nil, err
			}
			b.ready(key, "generated")
		} else {
			b.ready(key, "cache")
		}
	}

	if err := b.Distribute(ctx, recipients); err != nil {
		return nil, err
	}

	return b.Key(), nil
}

// Adopt installs a key generated elsewhere, for example by a group creator
// before the call id existed.
func (b *Bootstrap) Adopt(key []byte) {
	b.ready(key, "adopted")
}

// Distribute wraps the session key for every recipient, with each recipient's
// own public key, and sends it addressed to them. Pairs already served by this
// Bootstrap are skipped.
func (b *Bootstrap) Distribute(ctx context.Context, recipients []string) error {
	key := b.Key()
	if key == nil {
		return common.NewCallErr("bootstrap", common.NotReady, "no session key to distribute", nil)
	}

	for _, r := range recipients {
		if r == b.mailbox.Me() || b.sentKeys.Sent(b.callID, r) {
			continue
		}

		pub, err := b.mailbox.PublicKey(ctx, r)
		if err != nil {
			return err
		}

		wrapped, err := keys.WrapSessionKey(pub, key)
		if err != nil {
			return err
		}

		if err := b.mailbox.Send(ctx, b.callID, mailbox.TypeSessionKey, wrapped, r); err != nil {
			return err
		}

		b.logger.WithField("recipient", r).Debug("Sent wrapped session key")
	}

	return nil
}

// Poll runs one step of the receiving side and reports whether the key is
// ready. Missing, undecryptable or unreadable keys are logged and leave the
// state in AwaitingWrappedKey; they are never fatal.
func (b *Bootstrap) Poll(ctx context.Context) bool {
	switch b.getState() {
	case KeyReady:
		return true
	case NoKey:
		b.setState(AwaitingLocalCache)
	}

	if b.getState() == AwaitingLocalCache {
		key, err := b.cachedKey()
		if err == nil {
			b.ready(key, "cache")
			return true
		}
		b.setState(AwaitingWrappedKey)
	}

	records, err := b.mailbox.Receive(ctx, b.callID, mailbox.TypeSessionKey, b.mailbox.Me())
	if err != nil {
		b.logger.WithError(err).Debug("Polling session key")
	}

	// Newest first: a re-established call supersedes older copies.
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.TargetUser != b.mailbox.Me() {
			continue
		}

		key, err := keys.UnwrapSessionKey(b.priv, r.Content)
		if err != nil {
			b.logger.WithError(err).WithField("id", r.ID).Warn("Unwrapping session key")
			continue
		}

		b.ready(key, "wrapped")
		return true
	}

	if b.opts.ServerFallback && mailbox.IsGroupCall(b.callID) {
		material, err := b.mailbox.SessionKeyMaterial(ctx, b.callID)
		if err != nil {
			b.logger.WithError(err).Debug("Fetching key material")
			return false
		}

		key, err := crypto.ImportSessionKey(material)
		if err != nil {
			b.logger.WithError(err).Warn("Importing key material")
			return false
		}

		b.ready(key, "server")
		return true
	}

	return false
}

// cachedKey reads the key cache. Only group calls use it: the key of a 1:1
// call id may belong to an earlier call between the same pair, and the
// initiator's wrapped record stays in the mailbox for as long as the call
// does.
func (b *Bootstrap) cachedKey() ([]byte, error) {
	if !mailbox.IsGroupCall(b.callID) {
		return nil, ErrCacheMiss
	}

	key, err := b.cache.Get(b.callID)
	if err != nil && err != ErrCacheMiss {
		b.logger.WithError(err).Warn("Reading key cache")
	}

	return key, err
}

// Wake makes a pending Await poll immediately.
func (b *Bootstrap) Wake() {
	select {
	case b.wakeCh <- struct{}{}:
	default:
	}
}

// Await polls every interval, or on Wake, until the key is ready or ctx is
// done.
func (b *Bootstrap) Await(ctx context.Context, interval time.Duration) ([]byte, error) {
	for {
		if b.Poll(ctx) {
			return b.Key(), nil
		}

		select {
		case <-time.After(interval):
		case <-b.wakeCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Forget drops the cached key of the call.
func (b *Bootstrap) Forget() error {
	return b.cache.Delete(b.callID)
}
