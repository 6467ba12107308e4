package commands

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/mosaicnetworks/callrelay/src/callrelay"
	"github.com/mosaicnetworks/callrelay/src/peer"
	webrtc "github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// controls is what a running call, 1:1 or group, offers the console.
type controls interface {
	ShareScreen(ctx context.Context, track peer.Track) error
	StopScreen(ctx context.Context) error
	SetCamera(ctx context.Context, on bool) error
}

func newEngine() (*callrelay.Callrelay, error) {
	engine := callrelay.NewCallrelay(&_config.Callrelay)

	if err := engine.Init(); err != nil {
		_config.Callrelay.Logger().WithError(err).Error("Cannot initialize engine")
		return nil, err
	}

	return engine, nil
}

// localMedia returns the outgoing tracks of the CLI. The console has no
// capture devices: tracks are negotiated but carry no samples.
func localMedia(me string) (peer.LocalMedia, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", me)
	if err != nil {
		return peer.LocalMedia{}, err
	}

	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", me)
	if err != nil {
		return peer.LocalMedia{}, err
	}

	return peer.LocalMedia{Audio: audio, Video: video}, nil
}

func screenTrack(me string) (peer.Track, error) {
	return webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", me)
}

// chat relays text lines over the control data channels of a call.
type chat struct {
	sync.Mutex
	conns  map[string]net.Conn
	logger *logrus.Entry
}

func newChat(logger *logrus.Entry) *chat {
	return &chat{
		conns:  make(map[string]net.Conn),
		logger: logger,
	}
}

func (c *chat) attach(from string, conn net.Conn) {
	c.Lock()
	if old, ok := c.conns[from]; ok {
		old.Close()
	}
	c.conns[from] = conn
	c.Unlock()

	fmt.Printf("* chat open with %s\n", from)

	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			fmt.Printf("%s: %s\n", from, scanner.Text())
		}

		c.Lock()
		if c.conns[from] == conn {
			delete(c.conns, from)
		}
		c.Unlock()
	}()
}

func (c *chat) say(text string) {
	c.Lock()
	defer c.Unlock()

	if len(c.conns) == 0 {
		fmt.Println("* nobody to talk to yet")
		return
	}

	for from, conn := range c.conns {
		if _, err := conn.Write([]byte(text + "\n")); err != nil {
			c.logger.WithError(err).WithField("remote", from).Debug("Writing chat")
		}
	}
}

func (c *chat) close() {
	c.Lock()
	defer c.Unlock()

	for from, conn := range c.conns {
		conn.Close()
		delete(c.conns, from)
	}
}

// session runs the console of a call until the call ends, the user hangs up
// or the process is interrupted. Lines starting with "/" are commands; any
// other line goes to the chat. extra adds call-specific commands.
type session struct {
	me     string
	ctl    controls
	hangup func() error
	done   <-chan struct{}
	chat   *chat
	extra  map[string]func() error
}

func (s *session) run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	defer s.chat.close()

	for {
		select {
		case <-s.done:
			fmt.Println("* call ended")
			return nil
		case <-sigCh:
			return s.hangup()
		case line, ok := <-lines:
			if !ok {
				return s.hangup()
			}
			quit, err := s.handle(ctx, strings.TrimSpace(line))
			if err != nil {
				fmt.Printf("* %v\n", err)
			}
			if quit {
				return s.hangup()
			}
		}
	}
}

func (s *session) handle(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}

	if !strings.HasPrefix(line, "/") {
		s.chat.say(line)
		return false, nil
	}

	fields := strings.Fields(line)

	switch fields[0] {
	case "/hangup", "/quit":
		return true, nil
	case "/share":
		track, err := screenTrack(s.me)
		if err != nil {
			return false, err
		}
		return false, s.ctl.ShareScreen(ctx, track)
	case "/unshare":
		return false, s.ctl.StopScreen(ctx)
	case "/camera":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			return false, fmt.Errorf("usage: /camera on|off")
		}
		return false, s.ctl.SetCamera(ctx, fields[1] == "on")
	}

	if f, ok := s.extra[fields[0]]; ok {
		return false, f()
	}

	return false, fmt.Errorf("unknown command %s", fields[0])
}
