// Package signal defines push notifications of mailbox activity.
//
// Notifications only tell a client that a mailbox changed; the records
// themselves are always read from the relay. A client that misses a
// notification catches up on its next poll.
package signal

import "strings"

const (
	// CallTopicPrefix prefixes the topic of a call's mailbox
	CallTopicPrefix = "callrelay.call."
	// UserTopicPrefix prefixes the topic of a user's inbox
	UserTopicPrefix = "callrelay.user."
)

// Event describes one change of a mailbox.
type Event struct {
	CallID string
	Sender string
	Type   string
	Target string
}

// CallTopic returns the topic announcing changes of callID's mailbox. WAMP
// URIs are dot-separated, so dots in the id are replaced.
func CallTopic(callID string) string {
	return CallTopicPrefix + escape(callID)
}

// UserTopic returns the topic announcing new calls for user.
func UserTopic(user string) string {
	return UserTopicPrefix + escape(user)
}

func escape(s string) string {
	return strings.Replace(s, ".", "_", -1)
}

// Publisher announces mailbox changes.
type Publisher interface {
	Publish(topic string, ev Event) error
}

// Subscriber delivers the events of a topic to a handler until unsubscribed.
type Subscriber interface {
	Subscribe(topic string, handler func(Event)) error
	Unsubscribe(topic string) error
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

// Publish implements Publisher
func (NoopPublisher) Publish(topic string, ev Event) error {
	return nil
}
