package wamp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/mosaicnetworks/callrelay/src/net/signal"
	"github.com/sirupsen/logrus"
)

// Client publishes and subscribes to mailbox events through a WAMP router. It
// implements signal.Publisher and signal.Subscriber.
type Client struct {
	routerURL string
	config    client.Config
	client    *client.Client
	logger    *logrus.Entry
}

// NewClient instantiates a new Client, and opens a connection to the WAMP
// router at url (ws:// or wss://).
func NewClient(
	url string,
	realm string,
	caFile string,
	insecureSkipVerify bool,
	responseTimeout time.Duration,
	logger *logrus.Entry,
) (*Client, error) {

	cfg := client.Config{
		Realm:           realm,
		ResponseTimeout: responseTimeout,
		Logger:          logger,
	}

	if strings.HasPrefix(url, "wss://") {
		tlscfg, err := tlsConfig(caFile, insecureSkipVerify, logger)
		if err != nil {
			return nil, err
		}
		cfg.TlsCfg = tlscfg
	}

	res := &Client{
		routerURL: url,
		config:    cfg,
		logger:    logger,
	}

	err := res.Connect()
	if err != nil {
		return nil, err
	}

	return res, nil
}

func tlsConfig(caFile string, insecureSkipVerify bool, logger *logrus.Entry) (*tls.Config, error) {
	tlscfg := &tls.Config{}

	if insecureSkipVerify {
		logger.Debug("Skip Verify. Accepting any certificate provided by notify server.")
		tlscfg.InsecureSkipVerify = true
		return tlscfg, nil
	}

	if _, err := os.Stat(caFile); caFile == "" || os.IsNotExist(err) {
		logger.Debugf("No certificate file found. Relying on platform trusted certificates.")
		return tlscfg, nil
	}

	certPEM, err := ioutil.ReadFile(caFile)
	if err != nil {
		return nil, err
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(certPEM) {
		return nil, errors.New("Failed to import certificate to trust")
	}
	tlscfg.RootCAs = roots

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("Failed to decode certificate to trust")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}

	logger.Debugf("Trusting certificate %s with CN: %s", caFile, cert.Subject.CommonName)

	// The CN of a self-signed certificate rarely matches the DNS name
	tlscfg.ServerName = cert.Subject.CommonName

	return tlscfg, nil
}

// Connect creates a new WAMP client connected to the router. If a WAMP client
// already exists and is already connected, it does nothing.
func (c *Client) Connect() error {
	if c.client != nil && c.client.Connected() {
		return nil
	}

	cli, err := client.ConnectNet(
		context.Background(),
		c.routerURL,
		c.config,
	)
	if err != nil {
		return err
	}

	c.client = cli

	return nil
}

// Publish implements signal.Publisher
func (c *Client) Publish(topic string, ev signal.Event) error {
	kwargs := wamp.Dict{
		"call_id": ev.CallID,
		"sender":  ev.Sender,
		"type":    ev.Type,
		"target":  ev.Target,
	}

	if err := c.client.Publish(topic, nil, nil, kwargs); err != nil {
		c.logger.WithError(err).WithField("topic", topic).Debug("Publishing event")
		return err
	}

	return nil
}

// Subscribe implements signal.Subscriber. The handler runs on the client's
// event goroutine and must not block.
func (c *Client) Subscribe(topic string, handler func(signal.Event)) error {
	err := c.client.Subscribe(topic, func(event *wamp.Event) {
		handler(decodeEvent(event.ArgumentsKw))
	}, nil)
	if err != nil {
		c.logger.WithError(err).WithField("topic", topic).Error("Failed to subscribe")
		return err
	}

	c.logger.WithField("topic", topic).Debug("Subscribed")

	return nil
}

// Unsubscribe implements signal.Subscriber
func (c *Client) Unsubscribe(topic string) error {
	return c.client.Unsubscribe(topic)
}

// Done is closed when the connection to the router is lost.
func (c *Client) Done() <-chan struct{} {
	return c.client.Done()
}

// Close closes the connection to the WAMP router
func (c *Client) Close() error {
	return c.client.Close()
}

func decodeEvent(kwargs wamp.Dict) signal.Event {
	str := func(k string) string {
		s, _ := wamp.AsString(kwargs[k])
		return s
	}
	return signal.Event{
		CallID: str("call_id"),
		Sender: str("sender"),
		Type:   str("type"),
		Target: str("target"),
	}
}
