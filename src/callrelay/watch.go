package callrelay

import (
	"context"

	"github.com/mosaicnetworks/callrelay/src/call"
	"github.com/mosaicnetworks/callrelay/src/net/signal"
)

// WatchIncoming scans the inbox until ctx is done and calls handler once for
// every 1:1 call ringing this client. A call id is reported again only after
// its records have left the inbox, i.e. once the call has been purged and
// placed anew. Push notifications on the user topic trigger an early scan.
func (c *Callrelay) WatchIncoming(ctx context.Context, handler func(callID string)) {
	timer := call.NewPollTimer(c.Config.PollInterval)
	go timer.Run(0)
	defer timer.Shutdown()

	if c.Notifier != nil {
		topic := signal.UserTopic(c.Me)
		err := c.Notifier.Subscribe(topic, func(signal.Event) { timer.Reset(0) })
		if err != nil {
			c.logger.WithError(err).Warn("Cannot subscribe to user topic, polling only")
		} else {
			defer c.Notifier.Unsubscribe(topic)
		}
	}

	reported := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Ticks():
			for _, callID := range c.scanInbox(ctx, reported) {
				handler(callID)
			}
		}
	}
}

// scanInbox returns the ringing 1:1 calls not reported yet and updates
// reported in place.
func (c *Callrelay) scanInbox(ctx context.Context, reported map[string]bool) []string {
	records, err := c.Mailbox.Inbox(ctx)
	if err != nil {
		c.logger.WithError(err).Debug("Reading inbox")
		return nil
	}

	present := make(map[string]bool)
	res := []string{}

	for _, r := range records {
		_, callee, err := call.ParseDirectCallID(r.CallID)
		if err != nil || callee != c.Me {
			continue
		}
		present[r.CallID] = true
		if !reported[r.CallID] {
			reported[r.CallID] = true
			res = append(res, r.CallID)
		}
	}

	for id := range reported {
		if !present[id] {
			delete(reported, id)
		}
	}

	return res
}
