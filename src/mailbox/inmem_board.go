package mailbox

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type inmemGroup struct {
	material string
	members  []string
}

// InmemBoard implements Board in memory.
type InmemBoard struct {
	sync.RWMutex

	lastID      int64
	records     []Record
	rosters     map[string]map[string]bool
	groups      map[string]*inmemGroup
	invitations map[string]map[string]bool
	keys        map[string]string
}

// NewInmemBoard ...
func NewInmemBoard() *InmemBoard {
	return &InmemBoard{
		rosters:     make(map[string]map[string]bool),
		groups:      make(map[string]*inmemGroup),
		invitations: make(map[string]map[string]bool),
		keys:        make(map[string]string),
	}
}

// Append implements Board
func (b *InmemBoard) Append(ctx context.Context, rec Record) (Record, error) {
	b.Lock()
	defer b.Unlock()

	b.lastID++
	rec.ID = b.lastID
	b.records = append(b.records, rec)

	return rec, nil
}

// List implements Board
func (b *InmemBoard) List(ctx context.Context, callID string, t Type, forUser string) ([]Record, error) {
	b.RLock()
	defer b.RUnlock()

	res := []Record{}
	for _, r := range b.records {
		if r.CallID != callID || r.Type != t {
			continue
		}
		if forUser != "" && !r.IsFor(forUser) {
			continue
		}
		res = append(res, r)
	}

	return res, nil
}

// Inbox implements Board
func (b *InmemBoard) Inbox(ctx context.Context, user string) ([]Record, error) {
	b.RLock()
	defer b.RUnlock()

	res := []Record{}
	for _, r := range b.records {
		if InboxMatch(r, user) {
			res = append(res, r)
		}
	}

	return res, nil
}

// Purge implements Board
func (b *InmemBoard) Purge(ctx context.Context, callID string) error {
	b.Lock()
	defer b.Unlock()

	kept := b.records[:0]
	for _, r := range b.records {
		if r.CallID != callID {
			kept = append(kept, r)
		}
	}
	b.records = kept

	return nil
}

// Join implements Board
func (b *InmemBoard) Join(ctx context.Context, callID, user string) error {
	b.Lock()
	defer b.Unlock()

	roster, ok := b.rosters[callID]
	if !ok {
		roster = make(map[string]bool)
		b.rosters[callID] = roster
	}
	roster[user] = true

	delete(b.invitations[user], callID)

	return nil
}

// Leave implements Board
func (b *InmemBoard) Leave(ctx context.Context, callID, user string) error {
	b.Lock()
	defer b.Unlock()

	delete(b.rosters[callID], user)

	return nil
}

// Participants implements Board
func (b *InmemBoard) Participants(ctx context.Context, callID string) ([]string, error) {
	b.RLock()
	defer b.RUnlock()

	res := []string{}
	for u := range b.rosters[callID] {
		res = append(res, u)
	}
	sort.Strings(res)

	return res, nil
}

// CreateGroup implements Board
func (b *InmemBoard) CreateGroup(ctx context.Context, creator string, members []string, material string) (string, error) {
	b.Lock()
	defer b.Unlock()

	callID := GroupPrefix + uuid.New().String()

	all := UniqueMembers(creator, members)
	b.groups[callID] = &inmemGroup{
		material: material,
		members:  all,
	}

	for _, m := range all {
		if m == creator {
			continue
		}
		inv, ok := b.invitations[m]
		if !ok {
			inv = make(map[string]bool)
			b.invitations[m] = inv
		}
		inv[callID] = true
	}

	return callID, nil
}

// SessionKey implements Board
func (b *InmemBoard) SessionKey(ctx context.Context, callID string) (string, error) {
	b.RLock()
	defer b.RUnlock()

	g, ok := b.groups[callID]
	if !ok || g.material == "" {
		return "", ErrNotFound
	}

	return g.material, nil
}

// Invitations implements Board
func (b *InmemBoard) Invitations(ctx context.Context, user string) ([]string, error) {
	b.RLock()
	defer b.RUnlock()

	res := []string{}
	for callID := range b.invitations[user] {
		res = append(res, callID)
	}
	sort.Strings(res)

	return res, nil
}

// SetPublicKey implements Board
func (b *InmemBoard) SetPublicKey(ctx context.Context, user, pem string) error {
	b.Lock()
	defer b.Unlock()

	b.keys[user] = pem

	return nil
}

// PublicKey implements Board
func (b *InmemBoard) PublicKey(ctx context.Context, user string) (string, error) {
	b.RLock()
	defer b.RUnlock()

	pem, ok := b.keys[user]
	if !ok {
		return "", ErrNotFound
	}

	return pem, nil
}

// UniqueMembers returns creator followed by the distinct non-empty members.
func UniqueMembers(creator string, members []string) []string {
	seen := map[string]bool{creator: true}
	res := []string{creator}
	for _, m := range members {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		res = append(res, m)
	}
	return res
}
