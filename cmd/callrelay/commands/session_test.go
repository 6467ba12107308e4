package commands

import (
	"bufio"
	"context"
	"net"
	"testing"

	"github.com/mosaicnetworks/callrelay/src/common"
	"github.com/mosaicnetworks/callrelay/src/peer"
)

type fakeControls struct {
	shared  []string
	stopped int
	camera  []bool
}

func (f *fakeControls) ShareScreen(ctx context.Context, track peer.Track) error {
	f.shared = append(f.shared, track.ID())
	return nil
}

func (f *fakeControls) StopScreen(ctx context.Context) error {
	f.stopped++
	return nil
}

func (f *fakeControls) SetCamera(ctx context.Context, on bool) error {
	f.camera = append(f.camera, on)
	return nil
}

func TestSessionCommands(t *testing.T) {
	ctx := context.Background()
	ctl := &fakeControls{}
	accepted := false

	s := &session{
		me:   "alice",
		ctl:  ctl,
		chat: newChat(common.NewTestEntry(t, "chat")),
		extra: map[string]func() error{
			"/accept": func() error { accepted = true; return nil },
		},
	}

	for _, line := range []string{"", "/camera off", "/camera on", "/share", "/unshare", "/accept"} {
		quit, err := s.handle(ctx, line)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if quit {
			t.Fatalf("%q should not end the session", line)
		}
	}

	if len(ctl.camera) != 2 || ctl.camera[0] || !ctl.camera[1] {
		t.Fatalf("camera toggles should be [false true], got %v", ctl.camera)
	}
	if len(ctl.shared) != 1 || ctl.shared[0] != "screen" {
		t.Fatalf("one screen track should be shared, got %v", ctl.shared)
	}
	if ctl.stopped != 1 {
		t.Fatalf("screen share should be stopped once, not %d", ctl.stopped)
	}
	if !accepted {
		t.Fatalf("/accept should run the extra command")
	}

	for _, bad := range []string{"/camera", "/camera maybe", "/nope"} {
		if _, err := s.handle(ctx, bad); err == nil {
			t.Fatalf("%q should fail", bad)
		}
	}

	for _, line := range []string{"/hangup", "/quit"} {
		quit, err := s.handle(ctx, line)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if !quit {
			t.Fatalf("%q should end the session", line)
		}
	}
}

func TestChat(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	ch := newChat(common.NewTestEntry(t, "chat"))
	ch.attach("bob", local)
	defer ch.close()

	got := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(remote)
		if scanner.Scan() {
			got <- scanner.Text()
		}
	}()

	ch.say("hello bob")

	if line := <-got; line != "hello bob" {
		t.Fatalf("bob should read %q, not %q", "hello bob", line)
	}
}
