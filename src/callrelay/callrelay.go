// Package callrelay wires the call library into a client: identity key,
// relay connection, session key cache, push notifications and peer links.
package callrelay

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io/ioutil"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mosaicnetworks/callrelay/src/bootstrap"
	"github.com/mosaicnetworks/callrelay/src/call"
	"github.com/mosaicnetworks/callrelay/src/config"
	"github.com/mosaicnetworks/callrelay/src/crypto/keys"
	"github.com/mosaicnetworks/callrelay/src/mailbox"
	"github.com/mosaicnetworks/callrelay/src/net/signal"
	"github.com/mosaicnetworks/callrelay/src/net/signal/wamp"
	"github.com/mosaicnetworks/callrelay/src/peer"
	"github.com/sirupsen/logrus"
)

// Callrelay is a call client. Fields that are set before Init are kept, which
// lets tests and embedding applications supply their own relay, key or
// peer factory.
type Callrelay struct {
	Config   *config.Config
	Me       string
	Key      *rsa.PrivateKey
	Relay    mailbox.Relay
	Mailbox  *mailbox.Client
	Cache    bootstrap.KeyCache
	Factory  peer.Factory
	Notifier signal.Subscriber

	logger *logrus.Entry
}

// NewCallrelay ...
func NewCallrelay(conf *config.Config) *Callrelay {
	engine := &Callrelay{
		Config: conf,
		logger: conf.Logger(),
	}

	return engine
}

func (c *Callrelay) initKey() error {
	if c.Key != nil {
		return nil
	}

	privKey, err := keys.NewPemKeyfile(c.Config.Keyfile()).ReadKey()
	if err != nil {
		c.logger.WithError(err).Warn("Cannot read private key from file")

		privKey, err = Keygen(c.Config.Keyfile(), c.Config.PublicKeyfile())
		if err != nil {
			c.logger.WithError(err).Error("Cannot generate a new private key")
			return err
		}

		c.logger.WithField("fingerprint", keys.Fingerprint(&privKey.PublicKey)).Info("Created a new key")
	}

	c.Key = privKey

	return nil
}

func (c *Callrelay) initIdentity() error {
	if c.Me != "" {
		return nil
	}

	me, err := Identity(c.Config.Token)
	if err != nil {
		return err
	}

	c.Me = me
	c.logger = c.logger.WithField("me", me)

	return nil
}

func (c *Callrelay) initMailbox() error {
	if c.Relay == nil {
		c.Relay = mailbox.NewHTTPRelay(c.Config.RelayAddr, c.Config.Token, c.Config.Timeout)
	}

	c.Mailbox = mailbox.NewClient(c.Relay,
		c.Me,
		c.Config.ChunkSize,
		c.logger.WithField("component", "mailbox"))

	ctx, cancel := context.WithTimeout(context.Background(), c.Config.Timeout)
	defer cancel()

	return c.Mailbox.RegisterPublicKey(ctx, &c.Key.PublicKey)
}

func (c *Callrelay) initCache() error {
	if c.Cache != nil {
		return nil
	}

	if !c.Config.Store {
		c.Cache = bootstrap.NewInmemKeyCache()
		c.logger.Debug("created new in-mem key cache")
		return nil
	}

	c.logger.WithField("path", c.Config.DatabaseDir).Debug("Attempting to load or create key cache")

	cache, err := bootstrap.NewBadgerKeyCache(c.Config.DatabaseDir, c.logger.WithField("component", "badger"))
	if err != nil {
		return err
	}

	c.Cache = cache

	return nil
}

func (c *Callrelay) initFactory() error {
	if c.Factory != nil {
		return nil
	}

	factory, err := peer.NewPionFactory(c.Config.ICEServers(),
		c.Config.Trickle,
		c.logger.WithField("component", "peer"))
	if err != nil {
		return err
	}

	c.Factory = factory

	return nil
}

// initNotifier connects to the notification router. Push is an optimisation
// only, so a failure leaves the client polling.
func (c *Callrelay) initNotifier() error {
	if c.Notifier != nil || !c.Config.Notify {
		return nil
	}

	client, err := wamp.NewClient(c.Config.NotifyAddr,
		c.Config.NotifyRealm,
		c.Config.CertFile(),
		c.Config.NotifySkipVerify,
		c.Config.Timeout,
		c.logger.WithField("component", "notify"))
	if err != nil {
		c.logger.WithError(err).Warn("Cannot connect to notification router, polling only")
		return nil
	}

	c.Notifier = client

	return nil
}

// Init prepares every component. Nothing is dialled yet.
func (c *Callrelay) Init() error {
	if c.logger == nil {
		c.logger = logrus.NewEntry(logrus.New())
	}

	if err := c.initKey(); err != nil {
		return err
	}

	if err := c.initIdentity(); err != nil {
		return err
	}

	if err := c.initMailbox(); err != nil {
		return err
	}

	if err := c.initCache(); err != nil {
		return err
	}

	if err := c.initFactory(); err != nil {
		return err
	}

	if err := c.initNotifier(); err != nil {
		return err
	}

	return nil
}

// Close releases the key cache and the notifier connection.
func (c *Callrelay) Close() error {
	if closer, ok := c.Notifier.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			c.logger.WithError(err).Warn("Closing notifier")
		}
	}

	if c.Cache != nil {
		return c.Cache.Close()
	}

	return nil
}

func (c *Callrelay) callConfig() call.Config {
	return call.Config{
		PollInterval:      c.Config.PollInterval,
		GroupPollInterval: c.Config.GroupPollInterval,
		RosterInterval:    c.Config.RosterInterval,
		HandshakeTimeout:  c.Config.HandshakeTimeout,
	}
}

func (c *Callrelay) newBootstrap(callID string) *bootstrap.Bootstrap {
	return bootstrap.New(callID,
		c.Key,
		c.Mailbox,
		c.Cache,
		bootstrap.Options{ServerFallback: c.Config.KeyFallback},
		c.logger.WithField("component", "bootstrap"))
}

// watch nudges a call's loops on every notification for its mailbox, until
// done is closed.
func (c *Callrelay) watch(callID string, nudge func(), done <-chan struct{}) {
	if c.Notifier == nil {
		return
	}

	topic := signal.CallTopic(callID)

	err := c.Notifier.Subscribe(topic, func(signal.Event) { nudge() })
	if err != nil {
		c.logger.WithError(err).WithField("call_id", callID).Warn("Cannot subscribe, polling only")
		return
	}

	go func() {
		<-done
		if err := c.Notifier.Unsubscribe(topic); err != nil {
			c.logger.WithError(err).WithField("call_id", callID).Debug("Unsubscribing")
		}
	}()
}

// Dial places a 1:1 call to callee.
func (c *Callrelay) Dial(ctx context.Context, callee string, media peer.LocalMedia, observer call.DirectObserver) (*call.Direct, error) {
	callID, err := call.DirectCallID(c.Me, callee)
	if err != nil {
		return nil, err
	}

	return c.startDirect(ctx, callID, media, observer)
}

// Answer picks up the incoming 1:1 call callID. The returned call rings until
// Accept or Decline.
func (c *Callrelay) Answer(ctx context.Context, callID string, media peer.LocalMedia, observer call.DirectObserver) (*call.Direct, error) {
	_, callee, err := call.ParseDirectCallID(callID)
	if err != nil {
		return nil, err
	}
	if callee != c.Me {
		return nil, fmt.Errorf("%s is not a call to %s", callID, c.Me)
	}

	return c.startDirect(ctx, callID, media, observer)
}

func (c *Callrelay) startDirect(ctx context.Context, callID string, media peer.LocalMedia, observer call.DirectObserver) (*call.Direct, error) {
	d, err := call.NewDirect(c.callConfig(),
		callID,
		c.Me,
		c.newBootstrap(callID),
		c.Mailbox,
		c.Factory,
		media,
		observer,
		c.logger.WithField("component", "direct"))
	if err != nil {
		return nil, err
	}

	if err := d.Start(ctx); err != nil {
		return nil, err
	}

	c.watch(callID, d.Nudge, d.Done())

	return d, nil
}

// CreateGroup starts a group call with members, distributes its session key
// and joins it.
func (c *Callrelay) CreateGroup(ctx context.Context, members []string, media peer.LocalMedia, observer call.GroupObserver) (*call.Group, error) {
	callID, key, err := call.CreateGroup(ctx, c.Mailbox, members)
	if err != nil {
		return nil, err
	}

	boot := c.newBootstrap(callID)
	boot.Adopt(key)

	if err := boot.Distribute(ctx, members); err != nil {
		c.logger.WithError(err).WithField("call_id", callID).Warn("Distributing session key")
	}

	return c.joinGroup(ctx, callID, boot, media, observer)
}

// JoinGroup joins the group call callID, typically one of Invitations.
func (c *Callrelay) JoinGroup(ctx context.Context, callID string, media peer.LocalMedia, observer call.GroupObserver) (*call.Group, error) {
	return c.joinGroup(ctx, callID, c.newBootstrap(callID), media, observer)
}

func (c *Callrelay) joinGroup(ctx context.Context, callID string, boot *bootstrap.Bootstrap, media peer.LocalMedia, observer call.GroupObserver) (*call.Group, error) {
	g, err := call.NewGroup(c.callConfig(),
		callID,
		c.Me,
		boot,
		c.Mailbox,
		c.Factory,
		media,
		observer,
		c.logger.WithField("component", "group"))
	if err != nil {
		return nil, err
	}

	if err := g.Join(ctx); err != nil {
		return nil, err
	}

	c.watch(callID, g.Nudge, g.Done())

	return g, nil
}

// Invitations lists the group calls this client was invited to.
func (c *Callrelay) Invitations(ctx context.Context) ([]string, error) {
	return c.Mailbox.Invitations(ctx)
}

// Identity returns the user id a relay token was issued for. The signature
// is not checked: only the relay can do that.
func Identity(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("no relay token configured")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parsing relay token: %v", err)
	}

	me, _ := claims["user_id"].(string)
	if me == "" {
		return "", fmt.Errorf("relay token has no user_id")
	}

	return me, nil
}

// Keygen creates a new identity key and writes both halves to disk. It
// refuses to overwrite an existing key.
func Keygen(privFile, pubFile string) (*rsa.PrivateKey, error) {
	pemKey := keys.NewPemKeyfile(privFile)

	if _, err := pemKey.ReadKey(); err == nil {
		return nil, fmt.Errorf("Another key already lives under %s", privFile)
	}

	privKey, err := keys.GenerateRSAKey()
	if err != nil {
		return nil, err
	}

	if err := pemKey.WriteKey(privKey); err != nil {
		return nil, err
	}

	pub, err := keys.PublicKeyToPEM(&privKey.PublicKey)
	if err != nil {
		return nil, err
	}

	if err := ioutil.WriteFile(pubFile, []byte(pub), 0644); err != nil {
		return nil, err
	}

	return privKey, nil
}
