// Package wamp carries mailbox notifications over WAMP publish/subscribe.
//
// The relay publishes an event on a call's topic whenever a record is added
// to its mailbox, and on a user's topic when a call is offered to that user.
// Clients subscribe to the topics they care about and poll immediately on an
// event instead of waiting for their next timer tick.
//
// If the server is given a certificate and key it serves wss://, otherwise
// ws://. Clients connecting to a wss:// router trust the CA file when it
// exists, and the platform roots otherwise. There is also an option to skip
// certificate verification, but this should only be used for testing.
package wamp

const (
	// DefaultRealm is the realm used when none is configured
	DefaultRealm = "callrelay"
)
