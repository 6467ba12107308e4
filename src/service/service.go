package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mosaicnetworks/callrelay/src/mailbox"
	"github.com/mosaicnetworks/callrelay/src/net/signal"
	"github.com/sirupsen/logrus"
)

// Service is the relay: a store-and-forward mailbox over HTTP. Every route but
// /health requires a bearer JWT naming the acting user. Appended records are
// announced through the Publisher so that subscribed clients poll early.
type Service struct {
	bindAddress string
	board       mailbox.Board
	publisher   signal.Publisher
	secret      string
	engine      *gin.Engine
	httpServer  *http.Server
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string,
	board mailbox.Board,
	publisher signal.Publisher,
	jwtSecret string,
	logger *logrus.Entry) *Service {

	if publisher == nil {
		publisher = signal.NoopPublisher{}
	}

	service := Service{
		bindAddress: bindAddress,
		board:       board,
		publisher:   publisher,
		secret:      jwtSecret,
		engine:      gin.New(),
		logger:      logger,
	}

	service.registerHandlers()

	service.httpServer = &http.Server{
		Addr:    bindAddress,
		Handler: service.engine,
	}

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering relay API handlers")

	s.engine.Use(gin.Recovery(), s.requestLogger())

	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.engine.Group("/", JWTAuth(s.secret))
	{
		api.POST("/signaling/send", s.Send)
		api.GET("/signaling/:call/:type", s.Receive)
		api.DELETE("/signaling/:call", s.Purge)

		api.POST("/calls/group", s.CreateGroup)
		api.GET("/calls/invitations", s.Invitations)
		api.POST("/calls/:call/join", s.Join)
		api.POST("/calls/:call/leave", s.Leave)
		api.GET("/calls/:call/participants", s.Participants)
		api.GET("/calls/:call/session_key", s.SessionKey)

		api.POST("/users/key", s.RegisterKey)
		api.GET("/users/:user", s.GetUser)

		api.GET("/inbox", s.Inbox)
	}
}

// requestLogger logs every request at debug level and enables CORS.
func (s *Service) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Header("Access-Control-Allow-Origin", "*")

		c.Next()

		s.logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"user":     c.GetString(userIDKey),
			"duration": time.Since(start),
		}).Debug("Request")
	}
}

// Handler returns the HTTP handler of the service, for embedding or tests.
func (s *Service) Handler() http.Handler {
	return s.engine
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() error {
	s.logger.WithField("bind_address", s.bindAddress).Info("Serving relay API")

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("Serving relay API")
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// announce publishes a record on its call's topic, and on the topic of the
// user it rings, if any. Failures are only logged: clients fall back on
// polling.
func (s *Service) announce(rec mailbox.Record) {
	ev := signal.Event{
		CallID: rec.CallID,
		Sender: rec.Sender,
		Type:   string(rec.Type),
		Target: rec.TargetUser,
	}

	s.publish(signal.CallTopic(rec.CallID), ev)

	if callee := rings(rec); callee != "" {
		s.publish(signal.UserTopic(callee), ev)
	}
}

func (s *Service) publish(topic string, ev signal.Event) {
	if err := s.publisher.Publish(topic, ev); err != nil {
		s.logger.WithError(err).WithField("topic", topic).Debug("Publishing event")
	}
}

// rings returns the user whose inbox rec lands in, or "".
func rings(rec mailbox.Record) string {
	user := rec.TargetUser
	if user == "" && !mailbox.IsGroupCall(rec.CallID) {
		if i := strings.LastIndex(rec.CallID, "_"); i >= 0 {
			user = rec.CallID[i+1:]
		}
	}
	if user == "" || !mailbox.InboxMatch(rec, user) {
		return ""
	}
	return user
}
