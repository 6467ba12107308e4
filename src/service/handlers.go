package service

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mosaicnetworks/callrelay/src/crypto/keys"
	"github.com/mosaicnetworks/callrelay/src/mailbox"
	"github.com/mosaicnetworks/callrelay/src/net/signal"
)

func (s *Service) fail(c *gin.Context, err error) {
	if err == mailbox.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Relay store")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// Send appends a record sent by the authenticated user.
func (s *Service) Send(c *gin.Context) {
	var req mailbox.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.CallID == "" || req.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "call_id and type are required"})
		return
	}

	rec, err := s.board.Append(c.Request.Context(), mailbox.Record{
		CallID:     req.CallID,
		Sender:     c.GetString(userIDKey),
		Type:       req.Type,
		Content:    req.Content,
		TargetUser: req.TargetUser,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	s.announce(rec)

	c.JSON(http.StatusCreated, rec)
}

// Receive lists the records of one type in a call, optionally filtered for
// a user.
func (s *Service) Receive(c *gin.Context) {
	records, err := s.board.List(c.Request.Context(),
		c.Param("call"),
		mailbox.Type(c.Param("type")),
		c.Query("for_user"))
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, records)
}

// Purge deletes every record of a call.
func (s *Service) Purge(c *gin.Context) {
	if err := s.board.Purge(c.Request.Context(), c.Param("call")); err != nil {
		s.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Inbox lists the records ringing the authenticated user.
func (s *Service) Inbox(c *gin.Context) {
	records, err := s.board.Inbox(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, records)
}

// Join adds the authenticated user to a call's roster.
func (s *Service) Join(c *gin.Context) {
	if err := s.board.Join(c.Request.Context(), c.Param("call"), c.GetString(userIDKey)); err != nil {
		s.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Leave removes the authenticated user from a call's roster.
func (s *Service) Leave(c *gin.Context) {
	if err := s.board.Leave(c.Request.Context(), c.Param("call"), c.GetString(userIDKey)); err != nil {
		s.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Participants returns a call's roster.
func (s *Service) Participants(c *gin.Context) {
	roster, err := s.board.Participants(c.Request.Context(), c.Param("call"))
	if err != nil {
		s.fail(c, err)
		return
	}

	res := make([]mailbox.Participant, len(roster))
	for i, u := range roster {
		res[i] = mailbox.Participant{UserID: u}
	}

	c.JSON(http.StatusOK, res)
}

// SessionKey returns the key material a group creator left with the relay.
func (s *Service) SessionKey(c *gin.Context) {
	material, err := s.board.SessionKey(c.Request.Context(), c.Param("call"))
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, mailbox.SessionKeyResponse{SessionKey: material})
}

// CreateGroup registers a group call created by the authenticated user and
// notifies the invited members.
func (s *Service) CreateGroup(c *gin.Context) {
	var req mailbox.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	me := c.GetString(userIDKey)

	callID, err := s.board.CreateGroup(c.Request.Context(), me, req.Participants, req.SessionKey)
	if err != nil {
		s.fail(c, err)
		return
	}

	s.logger.WithField("call_id", callID).WithField("creator", me).Info("Group call created")

	for _, m := range mailbox.UniqueMembers(me, req.Participants) {
		if m == me {
			continue
		}
		s.publish(signal.UserTopic(m), signal.Event{
			CallID: callID,
			Sender: me,
			Target: m,
		})
	}

	c.JSON(http.StatusCreated, mailbox.CallResponse{CallID: callID})
}

// Invitations lists the group calls the authenticated user has not joined.
func (s *Service) Invitations(c *gin.Context) {
	calls, err := s.board.Invitations(c.Request.Context(), c.GetString(userIDKey))
	if err != nil {
		s.fail(c, err)
		return
	}

	res := make([]mailbox.CallResponse, len(calls))
	for i, id := range calls {
		res[i] = mailbox.CallResponse{CallID: id}
	}

	c.JSON(http.StatusOK, res)
}

// RegisterKey stores the authenticated user's public key.
func (s *Service) RegisterKey(c *gin.Context) {
	var req mailbox.PublicKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := keys.PublicKeyFromPEM([]byte(req.PublicKey)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid public key"})
		return
	}

	if err := s.board.SetPublicKey(c.Request.Context(), c.GetString(userIDKey), req.PublicKey); err != nil {
		s.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetUser returns a user's public key.
func (s *Service) GetUser(c *gin.Context) {
	user := c.Param("user")

	pem, err := s.board.PublicKey(c.Request.Context(), user)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, mailbox.UserResponse{UserID: user, PublicKey: pem})
}
