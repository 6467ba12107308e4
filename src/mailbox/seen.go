package mailbox

import "sync"

// Seen is the set of record ids already processed by one call session. The
// relay returns the full unread set on every poll, so every consumer checks
// Seen before applying a record.
type Seen struct {
	sync.Mutex
	ids map[int64]struct{}
}

// NewSeen ...
func NewSeen() *Seen {
	return &Seen{
		ids: make(map[int64]struct{}),
	}
}

// Add records id and reports whether it was new.
func (s *Seen) Add(id int64) bool {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Has ...
func (s *Seen) Has(id int64) bool {
	s.Lock()
	defer s.Unlock()

	_, ok := s.ids[id]
	return ok
}

// Len ...
func (s *Seen) Len() int {
	s.Lock()
	defer s.Unlock()

	return len(s.ids)
}

// SentKeys remembers which (call, recipient) pairs already received a session
// key from this process, so that a repeated send is a silent no-op. It is
// owned by a session bootstrap and handed to the mailbox client explicitly.
type SentKeys struct {
	sync.Mutex
	sent map[string]bool
}

// NewSentKeys ...
func NewSentKeys() *SentKeys {
	return &SentKeys{
		sent: make(map[string]bool),
	}
}

func sentKey(callID, target string) string {
	return callID + "\x00" + target
}

// Sent reports whether a key was already sent for the pair.
func (s *SentKeys) Sent(callID, target string) bool {
	s.Lock()
	defer s.Unlock()

	return s.sent[sentKey(callID, target)]
}

// reserve claims the pair. It returns false if it was already claimed.
func (s *SentKeys) reserve(callID, target string) bool {
	s.Lock()
	defer s.Unlock()

	k := sentKey(callID, target)
	if s.sent[k] {
		return false
	}
	s.sent[k] = true
	return true
}

// release undoes a reservation after a failed send.
func (s *SentKeys) release(callID, target string) {
	s.Lock()
	defer s.Unlock()

	delete(s.sent, sentKey(callID, target))
}
