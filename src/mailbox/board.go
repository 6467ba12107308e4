package mailbox

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Board when a call, group or user is unknown.
var ErrNotFound = errors.New("not found")

// Board is the storage side of the relay: the append-only message board plus
// the group rosters, invitations and public-key directory. Unlike Relay, every
// method takes the acting identity explicitly. The relay service exposes a
// Board over HTTP; InmemRelay exposes it in process.
type Board interface {
	// Append stores rec, assigning its ID, and returns the stored record.
	Append(ctx context.Context, rec Record) (Record, error)
	// List returns the records of one type in a call visible to forUser,
	// ordered by ID ascending. An empty forUser returns every record.
	List(ctx context.Context, callID string, t Type, forUser string) ([]Record, error)
	// Inbox returns the records matching InboxMatch for user, by ID.
	Inbox(ctx context.Context, user string) ([]Record, error)
	// Purge deletes every record of a call.
	Purge(ctx context.Context, callID string) error

	Join(ctx context.Context, callID, user string) error
	Leave(ctx context.Context, callID, user string) error
	// Participants returns the sorted roster of a call.
	Participants(ctx context.Context, callID string) ([]string, error)

	// CreateGroup registers a group call with its members and server-held
	// key material, and invites every member but the creator.
	CreateGroup(ctx context.Context, creator string, members []string, material string) (string, error)
	// SessionKey returns the server-held key material of a group call.
	SessionKey(ctx context.Context, callID string) (string, error)
	// Invitations returns the group calls user was invited to and has not
	// joined.
	Invitations(ctx context.Context, user string) ([]string, error)

	SetPublicKey(ctx context.Context, user, pem string) error
	PublicKey(ctx context.Context, user string) (string, error)
}
