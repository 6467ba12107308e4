package bootstrap

import "sync/atomic"

// State is the session-key state of one participant in one call.
type State uint32

const (
	// NoKey is the initial state.
	NoKey State = iota
	// AwaitingLocalCache is checking the per-device key cache.
	AwaitingLocalCache
	// AwaitingWrappedKey is polling for a session-key record addressed to us.
	AwaitingWrappedKey
	// KeyReady means the session key is known and cached.
	KeyReady
)

// String ...
func (s State) String() string {
	switch s {
	case NoKey:
		return "NoKey"
	case AwaitingLocalCache:
		return "AwaitingLocalCache"
	case AwaitingWrappedKey:
		return "AwaitingWrappedKey"
	case KeyReady:
		return "KeyReady"
	default:
		return "Unknown"
	}
}

type state struct {
	state State
}

func (s *state) getState() State {
	stateAddr := (*uint32)(&s.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (s *state) setState(st State) {
	stateAddr := (*uint32)(&s.state)
	atomic.StoreUint32(stateAddr, uint32(st))
}
