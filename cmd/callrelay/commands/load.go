package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// AddCommonFlags adds the flags every command reads
func AddCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.Callrelay.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Callrelay.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.Callrelay.LogFile, "Also write logs to this file")
}

// AddClientFlags adds the flags of the commands that place or join calls
func AddClientFlags(cmd *cobra.Command) {
	AddCommonFlags(cmd)

	// Relay
	cmd.Flags().StringP("relay-addr", "r", _config.Callrelay.RelayAddr, "Base URL of the relay service")
	cmd.Flags().String("token", _config.Callrelay.Token, "Bearer token issued by the relay")
	cmd.Flags().DurationP("timeout", "t", _config.Callrelay.Timeout, "Relay request timeout")
	cmd.Flags().Int("chunk-size", _config.Callrelay.ChunkSize, "Split signals larger than this many bytes, 0 to disable")

	// Push
	cmd.Flags().Bool("notify", _config.Callrelay.Notify, "Subscribe to relay push notifications")
	cmd.Flags().String("notify-addr", _config.Callrelay.NotifyAddr, "ws:// or wss:// URL of the notification router")
	cmd.Flags().String("notify-realm", _config.Callrelay.NotifyRealm, "WAMP realm")
	cmd.Flags().Bool("notify-skip-verify", _config.Callrelay.NotifySkipVerify, "Accept any certificate from the notification router")

	// ICE
	cmd.Flags().String("ice-addr", _config.Callrelay.ICEAddress, "URL of a STUN or TURN server")
	cmd.Flags().String("ice-username", _config.Callrelay.ICEUsername, "ICE server username")
	cmd.Flags().String("ice-password", _config.Callrelay.ICEPassword, "ICE server password")
	cmd.Flags().Bool("trickle", _config.Callrelay.Trickle, "Send ICE candidates as they are gathered")

	// Call
	cmd.Flags().Duration("poll-interval", _config.Callrelay.PollInterval, "Period of the 1:1 poll loops")
	cmd.Flags().Duration("group-poll-interval", _config.Callrelay.GroupPollInterval, "Period of the group signal loop")
	cmd.Flags().Duration("roster-interval", _config.Callrelay.RosterInterval, "Period of the group roster loop")
	cmd.Flags().Duration("handshake-timeout", _config.Callrelay.HandshakeTimeout, "End unconnected 1:1 calls after this long, 0 to wait forever")
	cmd.Flags().Bool("key-fallback", _config.Callrelay.KeyFallback, "Let group calls use the key material held by the relay")

	// Store
	cmd.Flags().Bool("store", _config.Callrelay.Store, "Keep session keys in badgerDB")
	cmd.Flags().String("db", _config.Callrelay.DatabaseDir, "Database directory")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.Callrelay.SetDataDir(_config.Callrelay.DataDir)

	logFields := logrus.Fields{
		"callrelay.DataDir":      _config.Callrelay.DataDir,
		"callrelay.LogLevel":     _config.Callrelay.LogLevel,
		"callrelay.RelayAddr":    _config.Callrelay.RelayAddr,
		"callrelay.Listen":       _config.Callrelay.Listen,
		"callrelay.StoreBackend": _config.Callrelay.StoreBackend,
		"callrelay.Notify":       _config.Callrelay.Notify,
		"callrelay.ICEAddress":   _config.Callrelay.ICEAddress,
		"callrelay.PollInterval": _config.Callrelay.PollInterval,
		"callrelay.ChunkSize":    _config.Callrelay.ChunkSize,
		"callrelay.Trickle":      _config.Callrelay.Trickle,
		"callrelay.Store":        _config.Callrelay.Store,
		"callrelay.Timeout":      _config.Callrelay.Timeout,
	}

	if _config.Callrelay.Notify {
		logFields["callrelay.NotifyAddr"] = _config.Callrelay.NotifyAddr
		logFields["callrelay.NotifyRealm"] = _config.Callrelay.NotifyRealm
	}

	if _config.Callrelay.Store {
		logFields["callrelay.DatabaseDir"] = _config.Callrelay.DatabaseDir
	}

	_config.Callrelay.Logger().WithFields(logFields).Debug("CONFIG")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/callrelay.toml (.json, .yaml also work)
	viper.SetConfigName("callrelay")
	viper.AddConfigPath(_config.Callrelay.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Callrelay.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Callrelay.Logger().Debugf("No config file found in: %s", _config.Callrelay.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
