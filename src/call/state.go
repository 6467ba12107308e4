package call

import (
	"sync"
	"sync/atomic"
)

// DirectState is the state of a 1:1 call.
type DirectState uint32

const (
	// Dialing is the initiator waiting for an answer.
	Dialing DirectState = iota
	// Ringing is the callee waiting to accept.
	Ringing
	// Connected means offer and answer were exchanged.
	Connected
	// Ended is terminal.
	Ended
)

// String ...
func (s DirectState) String() string {
	switch s {
	case Dialing:
		return "Dialing"
	case Ringing:
		return "Ringing"
	case Connected:
		return "Connected"
	case Ended:
		return "Ended"
	default:
		return "Unknown"
	}
}

// GroupState is the state of the local participant in a group call.
type GroupState uint32

const (
	// Idle is before Join.
	Idle GroupState = iota
	// Joined is in the call.
	Joined
	// Left is terminal.
	Left
)

// String ...
func (s GroupState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Joined:
		return "Joined"
	case Left:
		return "Left"
	default:
		return "Unknown"
	}
}

type state struct {
	state uint32
	wg    sync.WaitGroup
}

func (s *state) get() uint32 {
	return atomic.LoadUint32(&s.state)
}

func (s *state) set(v uint32) {
	atomic.StoreUint32(&s.state, v)
}

// swap sets the state to v unless it is already final, and returns the
// previous state.
func (s *state) swapUnless(final uint32, v uint32) (uint32, bool) {
	for {
		old := atomic.LoadUint32(&s.state)
		if old == final {
			return old, false
		}
		if atomic.CompareAndSwapUint32(&s.state, old, v) {
			return old, true
		}
	}
}

// Start a goroutine and add it to waitgroup
func (s *state) goFunc(f func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		f()
	}()
}

func (s *state) waitRoutines() {
	s.wg.Wait()
}
