package call

import (
	"fmt"
	"strings"

	"github.com/mosaicnetworks/callrelay/src/mailbox"
)

// DirectCallID returns the id of a 1:1 call placed by caller to callee. Both
// sides derive it independently. Identities containing '_' are rejected since
// they would make the id ambiguous.
func DirectCallID(caller, callee string) (string, error) {
	if err := checkIdentity(caller); err != nil {
		return "", err
	}
	if err := checkIdentity(callee); err != nil {
		return "", err
	}
	if mailbox.IsGroupCall(caller + "_") {
		return "", fmt.Errorf("identity %q is reserved", caller)
	}
	if caller == callee {
		return "", fmt.Errorf("cannot call yourself")
	}
	return caller + "_" + callee, nil
}

// ParseDirectCallID splits a 1:1 call id into caller and callee.
func ParseDirectCallID(callID string) (string, string, error) {
	if mailbox.IsGroupCall(callID) {
		return "", "", fmt.Errorf("%s is a group call", callID)
	}
	parts := strings.Split(callID, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed call id %q", callID)
	}
	return parts[0], parts[1], nil
}

func checkIdentity(id string) error {
	if id == "" {
		return fmt.Errorf("empty identity")
	}
	if strings.Contains(id, "_") {
		return fmt.Errorf("identity %q contains '_'", id)
	}
	return nil
}

// Initiates reports whether me originates the pairwise link with other in a
// group call. Exactly one of Initiates(a, b) and Initiates(b, a) holds for
// a != b.
func Initiates(me, other string) bool {
	return me < other
}
