package commands

import (
	"context"
	"fmt"
	"net"

	"github.com/mosaicnetworks/callrelay/src/call"
	"github.com/mosaicnetworks/callrelay/src/peer"
	"github.com/spf13/cobra"
)

//NewDialCmd returns the command that places a 1:1 call
func NewDialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dial [user]",
		Short:   "Call a user",
		Args:    cobra.ExactArgs(1),
		PreRunE: loadConfig,
		RunE:    runDial,
	}
	AddClientFlags(cmd)
	return cmd
}

//NewAnswerCmd returns the command that waits for, or picks up, a 1:1 call
func NewAnswerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "answer [call-id]",
		Short:   "Answer an incoming call, waiting for one if no id is given",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: loadConfig,
		RunE:    runAnswer,
	}
	AddClientFlags(cmd)
	cmd.Flags().Bool("auto-accept", _config.AutoAccept, "Accept as soon as the call can be accepted")
	return cmd
}

func directObserver(remote string, ch *chat) call.DirectObserver {
	return call.DirectObserver{
		OnState: func(s call.DirectState) {
			fmt.Printf("* %s\n", s)
		},
		OnCanAccept: func() {
			fmt.Println("* session key received, the call can be accepted")
		},
		OnTrack: func(t peer.RemoteTrack) {
			fmt.Printf("* receiving %s from %s\n", t.Kind, t.From)
		},
		OnConn: func(conn net.Conn) {
			ch.attach(remote, conn)
		},
		OnRemoteScreen: func(sharing bool) {
			fmt.Printf("* %s screen sharing: %v\n", remote, sharing)
		},
		OnRemoteCamera: func(off bool) {
			fmt.Printf("* %s camera off: %v\n", remote, off)
		},
	}
}

func runDial(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

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

	d, err := engine.Dial(ctx, args[0], media, directObserver(args[0], ch))
	if err != nil {
		return err
	}
	defer d.Close()

	fmt.Printf("* calling %s (%s), /hangup to cancel\n", args[0], d.CallID())

	s := &session{
		me:     engine.Me,
		ctl:    d,
		hangup: func() error { return d.Hangup(ctx) },
		done:   d.Done(),
		chat:   ch,
	}

	return s.run(ctx)
}

func runAnswer(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	engine, err := newEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	var callID string
	if len(args) == 1 {
		callID = args[0]
	} else {
		fmt.Println("* waiting for a call")

		watchCtx, cancel := context.WithCancel(ctx)
		engine.WatchIncoming(watchCtx, func(id string) {
			if callID == "" {
				callID = id
				cancel()
			}
		})
		cancel()
	}

	caller, _, err := call.ParseDirectCallID(callID)
	if err != nil {
		return err
	}

	media, err := localMedia(engine.Me)
	if err != nil {
		return err
	}

	ch := newChat(_config.Callrelay.Logger().WithField("component", "chat"))

	d, err := engine.Answer(ctx, callID, media, directObserver(caller, ch))
	if err != nil {
		return err
	}
	defer d.Close()

	fmt.Printf("* %s is calling (%s), /accept or /decline\n", caller, callID)

	// Accepting early is fine: the call completes it once the key arrives
	if _config.AutoAccept {
		if err := d.Accept(ctx); err != nil {
			return err
		}
	}

	s := &session{
		me:     engine.Me,
		ctl:    d,
		hangup: func() error { return d.Hangup(ctx) },
		done:   d.Done(),
		chat:   ch,
		extra: map[string]func() error{
			"/accept":  func() error { return d.Accept(ctx) },
			"/decline": func() error { return d.Decline(ctx) },
		},
	}

	return s.run(ctx)
}
