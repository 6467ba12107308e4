package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/callrelay/src/common"
	webrtc "github.com/pion/webrtc/v4"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the identity
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultPublicKeyfile is the default name of the file containing the
	// identity public key, in PEM
	DefaultPublicKeyfile = "key.pub"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// session key cache
	DefaultBadgerFile = "badger_db"

	// DefaultCertFile is the default name of the file containing the TLS
	// certificate of the notification server.
	DefaultCertFile = "cert.pem"

	// DefaultCertKeyFile is the default name of the file containing the
	// private key matching DefaultCertFile. Only the relay needs it.
	DefaultCertKeyFile = "key.pem"
)

// Default configuration values.
const (
	DefaultLogLevel          = "debug"
	DefaultRelayAddr         = "http://127.0.0.1:8000"
	DefaultListen            = "127.0.0.1:8000"
	DefaultJWTSecret         = "change-me-in-production"
	DefaultStoreBackend      = "inmem"
	DefaultRedisAddr         = "127.0.0.1:6379"
	DefaultNotify            = false
	DefaultNotifyAddr        = "ws://127.0.0.1:2443"
	DefaultNotifyListen      = "127.0.0.1:2443"
	DefaultNotifyRealm       = "callrelay"
	DefaultNotifySkipVerify  = false
	DefaultICEAddress        = "stun:stun.l.google.com:19302"
	DefaultICEUsername       = ""
	DefaultICEPassword       = ""
	DefaultPollInterval      = 2 * time.Second
	DefaultGroupPollInterval = 1200 * time.Millisecond
	DefaultRosterInterval    = 2 * time.Second
	DefaultChunkSize         = 0
	DefaultTrickle           = true
	DefaultStore             = false
	DefaultTimeout           = 10 * time.Second
	DefaultKeyFallback       = true
)

// Config contains all the configuration properties of a callrelay client or
// relay.
type Config struct {
	// DataDir is the top-level directory containing the identity key, the
	// session key cache and the configuration file
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, receives a copy of every log entry.
	LogFile string `mapstructure:"log-file"`

	// RelayAddr is the base URL of the relay service used by clients.
	RelayAddr string `mapstructure:"relay-addr"`

	// Token is the bearer JWT clients present to the relay. It names the
	// local identity.
	Token string `mapstructure:"token"`

	// Listen is the address:port the relay service listens on.
	Listen string `mapstructure:"listen"`

	// JWTSecret is the HS256 secret the relay verifies tokens with.
	JWTSecret string `mapstructure:"jwt-secret"`

	// StoreBackend selects where the relay keeps its mailbox: inmem, redis
	// or postgres.
	StoreBackend string `mapstructure:"store-backend"`

	RedisAddr     string `mapstructure:"redis-addr"`
	RedisPassword string `mapstructure:"redis-password"`
	RedisDB       int    `mapstructure:"redis-db"`
	PostgresDSN   string `mapstructure:"postgres-dsn"`

	// Notify enables WAMP push notifications. The relay publishes mailbox
	// changes and clients poll as soon as they are told. Polling continues
	// at the configured intervals regardless.
	Notify bool `mapstructure:"notify"`

	// NotifyAddr is the ws:// or wss:// URL of the WAMP router clients
	// connect to. For wss://, a self-signed certificate may be placed in a
	// file called cert.pem in the datadir.
	NotifyAddr string `mapstructure:"notify-addr"`

	// NotifyListen is the address:port the relay's WAMP router listens on.
	NotifyListen string `mapstructure:"notify-listen"`

	// NotifyRealm is the WAMP realm events are routed in.
	NotifyRealm string `mapstructure:"notify-realm"`

	// NotifySkipVerify controls whether clients verify the router's
	// certificate chain and host name. This should be used only for testing.
	NotifySkipVerify bool `mapstructure:"notify-skip-verify"`

	// ICE address is the URI of a server providing services for ICE, such as
	// STUN and TURN. Username and password can be empty if the ICE server does
	// not use authentication.
	// https://developer.mozilla.org/en-US/docs/Web/API/RTCIceServer/urls
	ICEAddress string `mapstructure:"ice-addr"`

	// ICEUsername is the username that will be used to authenticate with the
	// ICE server defined in ICEAddress.
	ICEUsername string `mapstructure:"ice-username"`

	// ICEPassword is the password that will be used to authenticate with the
	// ICE server defined in ICEAddress.
	ICEPassword string `mapstructure:"ice-password"`

	// PollInterval is the period of the 1:1 signal and key loops.
	PollInterval time.Duration `mapstructure:"poll-interval"`

	// GroupPollInterval is the period of the group signal loop.
	GroupPollInterval time.Duration `mapstructure:"group-poll-interval"`

	// RosterInterval is the period of the group roster loop.
	RosterInterval time.Duration `mapstructure:"roster-interval"`

	// HandshakeTimeout ends a 1:1 call that does not connect in time. Zero
	// waits forever.
	HandshakeTimeout time.Duration `mapstructure:"handshake-timeout"`

	// ChunkSize is the largest signal content sent as a single record. Zero
	// disables chunking.
	ChunkSize int `mapstructure:"chunk-size"`

	// Trickle sends ICE candidates as they are gathered instead of waiting
	// for gathering to complete.
	Trickle bool `mapstructure:"trickle"`

	// KeyFallback lets a group participant that was not sent a wrapped
	// session key use the key material the creator left with the relay.
	KeyFallback bool `mapstructure:"key-fallback"`

	// Store keeps session keys in a badger database so that a call survives
	// a restart.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing the badger files.
	DatabaseDir string `mapstructure:"db"`

	// Timeout is the timeout of HTTP requests to the relay and of WAMP
	// calls.
	Timeout time.Duration `mapstructure:"timeout"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:           DefaultDataDir(),
		LogLevel:          DefaultLogLevel,
		RelayAddr:         DefaultRelayAddr,
		Listen:            DefaultListen,
		JWTSecret:         DefaultJWTSecret,
		StoreBackend:      DefaultStoreBackend,
		RedisAddr:         DefaultRedisAddr,
		Notify:            DefaultNotify,
		NotifyAddr:        DefaultNotifyAddr,
		NotifyListen:      DefaultNotifyListen,
		NotifyRealm:       DefaultNotifyRealm,
		NotifySkipVerify:  DefaultNotifySkipVerify,
		ICEAddress:        DefaultICEAddress,
		ICEUsername:       DefaultICEUsername,
		ICEPassword:       DefaultICEPassword,
		PollInterval:      DefaultPollInterval,
		GroupPollInterval: DefaultGroupPollInterval,
		RosterInterval:    DefaultRosterInterval,
		ChunkSize:         DefaultChunkSize,
		Trickle:           DefaultTrickle,
		Store:             DefaultStore,
		DatabaseDir:       DefaultDatabaseDir(),
		Timeout:           DefaultTimeout,
		KeyFallback:       DefaultKeyFallback,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// PublicKeyfile returns the full path of the file containing the public key.
func (c *Config) PublicKeyfile() string {
	return filepath.Join(c.DataDir, DefaultPublicKeyfile)
}

// CertFile returns the full path of the file containing the notification
// server's TLS certificate.
func (c *Config) CertFile() string {
	return filepath.Join(c.DataDir, DefaultCertFile)
}

// CertKeyFile returns the full path of the notification server's TLS key.
func (c *Config) CertKeyFile() string {
	return filepath.Join(c.DataDir, DefaultCertKeyFile)
}

// ICEServers returns the ICE servers peer links gather candidates with. The
// list contains a single server, with password-based authentication when a
// username is set.
func (c *Config) ICEServers() []webrtc.ICEServer {
	if c.ICEAddress == "" {
		return nil
	}

	server := webrtc.ICEServer{
		URLs: []string{c.ICEAddress},
	}
	if c.ICEUsername != "" {
		server.Username = c.ICEUsername
		server.Credential = c.ICEPassword
	}

	return []webrtc.ICEServer{server}
}

// Logger returns a formatted logrus Entry, with prefix set to "callrelay".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.addFileHook()
		}
	}
	return c.logger.WithField("prefix", "callrelay")
}

// addFileHook mirrors every level to LogFile.
func (c *Config) addFileHook() {
	f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		c.logger.WithError(err).Warnf("Failed to open %s, logging to stderr only", c.LogFile)
		return
	}
	f.Close()

	pathMap := lfshook.PathMap{}
	for _, l := range logrus.AllLevels {
		pathMap[l] = c.LogFile
	}

	c.logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Callrelay")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Callrelay")
		} else {
			return filepath.Join(home, ".callrelay")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
