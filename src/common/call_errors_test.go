package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsCall(t *testing.T) {
	cause := errors.New("boom")
	err := NewCallErr("mailbox", TransportError, "send offer", cause)

	if !IsCall(err, TransportError) {
		t.Fatalf("IsCall should match TransportError")
	}
	if IsCall(err, CryptoError) {
		t.Fatalf("IsCall should not match CryptoError")
	}
	if IsCall(fmt.Errorf("plain"), TransportError) {
		t.Fatalf("IsCall should not match a plain error")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("CallErr should unwrap to its cause")
	}

	expected := "mailbox, send offer, Transport Error: boom"
	if err.Error() != expected {
		t.Fatalf("Error() should be %q, not %q", expected, err.Error())
	}
}
