// Package config defines the configuration of callrelay clients and of the
// relay service.
//
// Regardless of how callrelay is started, directly from Go code or from the
// command line, it uses the Config object defined in this package to store
// and forward configuration options. On top of these options, it relies on a
// data directory, defined by Config.DataDir, where it expects to find a few
// additional files:
//
//  priv_key // the PEM-encoded RSA identity key (cf. callrelay keygen).
//  key.pub // the matching PEM public key.
//  badger_db // (optional) the session key cache, when store is enabled.
//  cert.pem // (optional) an x509 certificate for a wss:// notification router.
//  callrelay.toml // (optional) configuration file, also .json or .yaml.
package config
