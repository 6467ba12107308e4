package call

import "time"

// Config holds the timing of the call loops.
type Config struct {
	// PollInterval paces the 1:1 signal loop and every session-key loop.
	PollInterval time.Duration
	// GroupPollInterval paces the group signal loop.
	GroupPollInterval time.Duration
	// RosterInterval paces the group roster loop.
	RosterInterval time.Duration
	// HandshakeTimeout ends a 1:1 call still Dialing or Ringing after this
	// long. 0 disables it.
	HandshakeTimeout time.Duration
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		PollInterval:      2 * time.Second,
		GroupPollInterval: 1200 * time.Millisecond,
		RosterInterval:    2 * time.Second,
	}
}
