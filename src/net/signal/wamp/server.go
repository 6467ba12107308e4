package wamp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/sirupsen/logrus"
)

// Server runs a WAMP router behind a websocket endpoint. Mailbox events are
// published and subscribed to through it.
type Server struct {
	listener   net.Listener
	router     router.Router
	httpServer *http.Server
	tls        bool
	logger     *logrus.Entry
}

// NewServer binds address and prepares the router. certFile and keyFile are
// optional; when both are set the endpoint uses TLS.
func NewServer(address string,
	realm string,
	certFile string,
	keyFile string,
	logger *logrus.Entry) (*Server, error) {

	routerConfig := &router.Config{
		RealmConfigs: []*router.RealmConfig{
			{
				URI:           wamp.URI(realm),
				AnonymousAuth: true,
			},
		},
	}

	nxr, err := router.NewRouter(routerConfig, logger)
	if err != nil {
		return nil, err
	}

	wss := router.NewWebsocketServer(nxr)

	httpServer := &http.Server{
		Handler: wss,
	}

	useTLS := certFile != "" && keyFile != ""
	if useTLS {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			nxr.Close()
			return nil, fmt.Errorf("error loading X509 key pair: %s", err)
		}
		httpServer.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	ln, err := net.Listen("tcp", address)
	if err != nil {
		nxr.Close()
		return nil, err
	}

	res := &Server{
		listener:   ln,
		router:     nxr,
		httpServer: httpServer,
		tls:        useTLS,
		logger:     logger,
	}

	return res, nil
}

// Run serves the websocket endpoint until Shutdown.
func (s *Server) Run() error {
	var err error
	if s.tls {
		// The certificates are already loaded in the TLSConfig
		err = s.httpServer.ServeTLS(s.listener, "", "")
	} else {
		err = s.httpServer.Serve(s.listener)
	}
	if err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("Run")
		return err
	}
	return nil
}

// Shutdown stops the websocket server, and the wamp router
func (s *Server) Shutdown() {
	defer s.router.Close()

	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		s.logger.WithError(err).Error("Shutting down http server")
	}
	// Already closed if Run was called
	s.listener.Close()
}

// Addr returns the bound address of the server
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// URL returns the websocket URL clients connect to.
func (s *Server) URL() string {
	if s.tls {
		return "wss://" + s.Addr()
	}
	return "ws://" + s.Addr()
}
