package common

import (
	"errors"
	"fmt"
)

// CallErrType enumerates the failure classes of the signaling core.
type CallErrType uint32

const (
	// DecodeError is malformed base64, JSON or chunk framing.
	DecodeError CallErrType = iota
	// CryptoError is an unwrap, decrypt or signature failure.
	CryptoError
	// TransportError is a failed call to the mailbox relay.
	TransportError
	// ProtocolViolation is a well-formed but illegal message sequence, such as
	// a chunk total mismatch or a second link for the same identity.
	ProtocolViolation
	// NotReady means the awaited data has not arrived yet.
	NotReady
)

// String ...
func (t CallErrType) String() string {
	switch t {
	case DecodeError:
		return "Decode Error"
	case CryptoError:
		return "Crypto Error"
	case TransportError:
		return "Transport Error"
	case ProtocolViolation:
		return "Protocol Violation"
	case NotReady:
		return "Not Ready"
	default:
		return "Unknown"
	}
}

// CallErr ...
type CallErr struct {
	component string
	errType   CallErrType
	detail    string
	cause     error
}

// NewCallErr ...
func NewCallErr(component string, errType CallErrType, detail string, cause error) CallErr {
	return CallErr{
		component: component,
		errType:   errType,
		detail:    detail,
		cause:     cause,
	}
}

// Error ...
func (e CallErr) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s, %s, %s: %v", e.component, e.detail, e.errType, e.cause)
	}
	return fmt.Sprintf("%s, %s, %s", e.component, e.detail, e.errType)
}

// Unwrap returns the underlying cause, if any.
func (e CallErr) Unwrap() error {
	return e.cause
}

// Type ...
func (e CallErr) Type() CallErrType {
	return e.errType
}

// IsCall checks that err is, or wraps, a CallErr whose code matches the
// provided CallErrType.
func IsCall(err error, t CallErrType) bool {
	var callErr CallErr
	return errors.As(err, &callErr) && callErr.errType == t
}
