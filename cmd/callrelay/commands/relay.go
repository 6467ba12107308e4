package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/callrelay/src/net/signal/wamp"
	"github.com/mosaicnetworks/callrelay/src/service"
	"github.com/spf13/cobra"

	csignal "github.com/mosaicnetworks/callrelay/src/net/signal"
)

//NewRelayCmd returns the command that starts the relay service
func NewRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "relay",
		Short:   "Run the signaling relay",
		PreRunE: loadConfig,
		RunE:    runRelay,
	}
	AddRelayFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runRelay(cmd *cobra.Command, args []string) error {
	conf := &_config.Callrelay
	logger := conf.Logger()

	board, closer, err := service.OpenBoard(context.Background(), service.StoreConfig{
		Backend:       conf.StoreBackend,
		RedisAddr:     conf.RedisAddr,
		RedisPassword: conf.RedisPassword,
		RedisDB:       conf.RedisDB,
		PostgresDSN:   conf.PostgresDSN,
	})
	if err != nil {
		logger.WithError(err).Error("Cannot open store")
		return err
	}
	defer closer.Close()

	var publisher csignal.Publisher

	if conf.Notify {
		certFile, keyFile := "", ""
		if fileExists(conf.CertFile()) && fileExists(conf.CertKeyFile()) {
			certFile, keyFile = conf.CertFile(), conf.CertKeyFile()
		}

		server, err := wamp.NewServer(conf.NotifyListen,
			conf.NotifyRealm,
			certFile,
			keyFile,
			logger.WithField("component", "wamp-server"))
		if err != nil {
			logger.WithError(err).Error("Cannot start notification router")
			return err
		}

		go func() {
			if err := server.Run(); err != nil {
				logger.WithError(err).Error("Notification router stopped")
			}
		}()
		defer server.Shutdown()

		// The relay publishes through its own router like any other client
		pub, err := wamp.NewClient(server.URL(),
			conf.NotifyRealm,
			certFile,
			true,
			conf.Timeout,
			logger.WithField("component", "wamp-publisher"))
		if err != nil {
			logger.WithError(err).Error("Cannot connect publisher")
			return err
		}
		defer pub.Close()

		publisher = pub

		logger.WithField("url", server.URL()).Info("Notification router listening")
	}

	svc := service.NewService(conf.Listen,
		board,
		publisher,
		conf.JWTSecret,
		logger.WithField("component", "service"))

	go func() {
		if err := svc.Serve(); err != nil {
			logger.WithError(err).Error("Relay service stopped")
		}
	}()

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), conf.Timeout)
	defer cancel()

	return svc.Shutdown(ctx)
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRelayFlags adds flags to the relay command
func AddRelayFlags(cmd *cobra.Command) {
	AddCommonFlags(cmd)

	cmd.Flags().StringP("listen", "l", _config.Callrelay.Listen, "Listen IP:Port for the relay HTTP service")
	cmd.Flags().String("jwt-secret", _config.Callrelay.JWTSecret, "Secret tokens are verified with")
	cmd.Flags().DurationP("timeout", "t", _config.Callrelay.Timeout, "Shutdown and notification timeout")

	// Store
	cmd.Flags().String("store-backend", _config.Callrelay.StoreBackend, "inmem, redis or postgres")
	cmd.Flags().String("redis-addr", _config.Callrelay.RedisAddr, "Redis IP:Port")
	cmd.Flags().String("redis-password", _config.Callrelay.RedisPassword, "Redis password")
	cmd.Flags().Int("redis-db", _config.Callrelay.RedisDB, "Redis database number")
	cmd.Flags().String("postgres-dsn", _config.Callrelay.PostgresDSN, "PostgreSQL connection string")

	// Push
	cmd.Flags().Bool("notify", _config.Callrelay.Notify, "Run a WAMP router and publish mailbox changes")
	cmd.Flags().String("notify-listen", _config.Callrelay.NotifyListen, "Listen IP:Port for the WAMP router")
	cmd.Flags().String("notify-realm", _config.Callrelay.NotifyRealm, "WAMP realm")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
