package mailbox

import "context"

// Relay is the mailbox as seen by one authenticated identity. Implementations
// act on behalf of that identity: Send stamps it as sender, Join adds it to the
// roster, and so on.
type Relay interface {
	Send(ctx context.Context, callID string, t Type, content string, target string) error
	Receive(ctx context.Context, callID string, t Type, forUser string) ([]Record, error)
	Inbox(ctx context.Context) ([]Record, error)
	Purge(ctx context.Context, callID string) error

	Join(ctx context.Context, callID string) error
	Leave(ctx context.Context, callID string) error
	Participants(ctx context.Context, callID string) ([]string, error)

	SessionKeyMaterial(ctx context.Context, callID string) (string, error)
	CreateGroup(ctx context.Context, members []string, material string) (string, error)
	Invitations(ctx context.Context) ([]string, error)

	PublicKey(ctx context.Context, user string) (string, error)
	RegisterPublicKey(ctx context.Context, pem string) error
}

// InmemRelay implements Relay directly on top of a Board, for one identity.
// Several InmemRelays sharing a Board behave like several clients of one
// relay service.
type InmemRelay struct {
	board Board
	me    string
}

// NewInmemRelay ...
func NewInmemRelay(board Board, me string) *InmemRelay {
	return &InmemRelay{
		board: board,
		me:    me,
	}
}

// Send implements Relay
func (r *InmemRelay) Send(ctx context.Context, callID string, t Type, content string, target string) error {
	_, err := r.board.Append(ctx, Record{
		CallID:     callID,
		Sender:     r.me,
		Type:       t,
		Content:    content,
		TargetUser: target,
	})
	return err
}

// Receive implements Relay
func (r *InmemRelay) Receive(ctx context.Context, callID string, t Type, forUser string) ([]Record, error) {
	return r.board.List(ctx, callID, t, forUser)
}

// Inbox implements Relay
func (r *InmemRelay) Inbox(ctx context.Context) ([]Record, error) {
	return r.board.Inbox(ctx, r.me)
}

// Purge implements Relay
func (r *InmemRelay) Purge(ctx context.Context, callID string) error {
	return r.board.Purge(ctx, callID)
}

// Join implements Relay
func (r *InmemRelay) Join(ctx context.Context, callID string) error {
	return r.board.Join(ctx, callID, r.me)
}

// Leave implements Relay
func (r *InmemRelay) Leave(ctx context.Context, callID string) error {
	return r.board.Leave(ctx, callID, r.me)
}

// Participants implements Relay
func (r *InmemRelay) Participants(ctx context.Context, callID string) ([]string, error) {
	return r.board.Participants(ctx, callID)
}

// SessionKeyMaterial implements Relay
func (r *InmemRelay) SessionKeyMaterial(ctx context.Context, callID string) (string, error) {
	return r.board.SessionKey(ctx, callID)
}

// CreateGroup implements Relay
func (r *InmemRelay) CreateGroup(ctx context.Context, members []string, material string) (string, error) {
	return r.board.CreateGroup(ctx, r.me, members, material)
}

// Invitations implements Relay
func (r *InmemRelay) Invitations(ctx context.Context) ([]string, error) {
	return r.board.Invitations(ctx, r.me)
}

// PublicKey implements Relay
func (r *InmemRelay) PublicKey(ctx context.Context, user string) (string, error) {
	return r.board.PublicKey(ctx, user)
}

// RegisterPublicKey implements Relay
func (r *InmemRelay) RegisterPublicKey(ctx context.Context, pem string) error {
	return r.board.SetPublicKey(ctx, r.me, pem)
}
