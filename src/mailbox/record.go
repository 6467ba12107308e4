package mailbox

import "strings"

// Type discriminates signaling records.
type Type string

const (
	// TypeOffer carries an encrypted SDP offer.
	TypeOffer Type = "offer"
	// TypeAnswer carries an encrypted SDP answer.
	TypeAnswer Type = "answer"
	// TypeICE carries an encrypted ICE candidate.
	TypeICE Type = "ice"
	// TypeEnd announces that the sender hung up.
	TypeEnd Type = "end"
	// TypeScreenShare carries "start" or "stop".
	TypeScreenShare Type = "screen-share"
	// TypeCamera carries "on" or "off".
	TypeCamera Type = "camera"
	// TypeHello is broadcast by a participant each time it joins a group
	// call.
	TypeHello Type = "hello"
	// TypeSessionKey carries a session key wrapped for the target user.
	TypeSessionKey Type = "session-key"
)

// Auxiliary signal values.
const (
	ScreenShareStart = "start"
	ScreenShareStop  = "stop"
	CameraOn         = "on"
	CameraOff        = "off"
)

// GroupPrefix marks server-assigned group call ids.
const GroupPrefix = "group_"

// Meta returns the type of the record announcing a chunked message of type t.
func (t Type) Meta() Type {
	return t + "-meta"
}

// Record is one entry of the relay's message board. Records are append-only;
// ID increases monotonically across the whole board.
type Record struct {
	ID         int64  `json:"id"`
	CallID     string `json:"call_id"`
	Sender     string `json:"sender"`
	Type       Type   `json:"type"`
	Content    string `json:"content"`
	TargetUser string `json:"target_user,omitempty"`
}

// IsFor reports whether the record is visible to user: either addressed to
// them, or broadcast by someone else.
func (r Record) IsFor(user string) bool {
	if r.TargetUser != "" {
		return r.TargetUser == user
	}
	return r.Sender != user
}

// IsGroupCall reports whether callID names a group call.
func IsGroupCall(callID string) bool {
	return strings.HasPrefix(callID, GroupPrefix)
}

// InboxMatch reports whether a record belongs in user's inbox: a call offer or
// a session key that rings user.
func InboxMatch(r Record, user string) bool {
	if r.Type != TypeOffer && r.Type != TypeSessionKey && r.Type != TypeOffer.Meta() {
		return false
	}
	if r.TargetUser != "" {
		return r.TargetUser == user
	}
	if r.Sender == user || IsGroupCall(r.CallID) {
		return false
	}
	return strings.HasSuffix(r.CallID, "_"+user)
}

// Filter returns the records visible to forUser. An empty forUser keeps all.
func Filter(records []Record, forUser string) []Record {
	if forUser == "" {
		return records
	}
	res := []Record{}
	for _, r := range records {
		if r.IsFor(forUser) {
			res = append(res, r)
		}
	}
	return res
}
