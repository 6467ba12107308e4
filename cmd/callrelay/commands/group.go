package commands

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/mosaicnetworks/callrelay/src/call"
	"github.com/mosaicnetworks/callrelay/src/peer"
	"github.com/spf13/cobra"
)

var joinGroup bool

//NewGroupCmd returns the command that creates or joins a group call
func NewGroupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group [members...]",
		Short: "Start a group call with members, or join one with --join [call-id]",
		Long: `Start a group call with members, or join one with --join [call-id].
Without a call id, --join picks the first pending invitation.`,
		PreRunE: loadConfig,
		RunE:    runGroup,
	}
	AddClientFlags(cmd)
	cmd.Flags().BoolVar(&joinGroup, "join", false, "Join an existing group call")
	return cmd
}

func groupObserver(ch *chat) call.GroupObserver {
	return call.GroupObserver{
		OnRoster: func(roster []string) {
			fmt.Printf("* in the call: %s\n", strings.Join(roster, ", "))
		},
		OnTrack: func(t peer.RemoteTrack) {
			fmt.Printf("* receiving %s from %s\n", t.Kind, t.From)
		},
		OnConn: func(from string, conn net.Conn) {
			ch.attach(from, conn)
		},
		OnSharer: func(sharer string) {
			if sharer == "" {
				fmt.Println("* nobody is sharing a screen")
				return
			}
			fmt.Printf("* %s is sharing a screen\n", sharer)
		},
		OnCamera: func(user string, off bool) {
			fmt.Printf("* %s camera off: %v\n", user, off)
		},
	}
}

func runGroup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if !joinGroup && len(args) == 0 {
		return fmt.Errorf("a group call needs at least one member")
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	media, err := localMedia(engine.Me)
	if err != nil {
		return err
	}

	ch := newChat(_config.Callrelay.Logger().WithField("component", "chat"))

	var g *call.Group

	if joinGroup {
		var callID string
		if len(args) > 0 {
			callID = args[0]
		} else {
			invitations, err := engine.Invitations(ctx)
			if err != nil {
				return err
			}
			if len(invitations) == 0 {
				return fmt.Errorf("no pending invitations")
			}
			callID = invitations[0]
		}

		g, err = engine.JoinGroup(ctx, callID, media, groupObserver(ch))
	} else {
		g, err = engine.CreateGroup(ctx, args, media, groupObserver(ch))
	}
	if err != nil {
		return err
	}

	fmt.Printf("* joined %s, /hangup to leave\n", g.CallID())

	s := &session{
		me:     engine.Me,
		ctl:    g,
		hangup: func() error { return g.Leave(ctx) },
		done:   g.Done(),
		chat:   ch,
	}

	return s.run(ctx)
}
