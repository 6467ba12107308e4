package call

import (
	"sync"
	"time"
)

type timerFactory func(time.Duration) <-chan time.Time

// ControlTimer drives a polling loop. It ticks on tickCh every interval; Reset
// moves the next tick, and Reset(0) forces an immediate one.
type ControlTimer struct {
	timerFactory timerFactory
	interval     time.Duration
	tickCh       chan struct{}      //sends a signal to listening process
	resetCh      chan time.Duration //receives instruction to reset the timer
	stopCh       chan struct{}      //receives instruction to stop the timer
	shutdownCh   chan struct{}      //receives instruction to exit Run loop
	shutdownOnce sync.Once
}

// NewControlTimer ...
func NewControlTimer(timerFactory timerFactory, interval time.Duration) *ControlTimer {
	return &ControlTimer{
		timerFactory: timerFactory,
		interval:     interval,
		tickCh:       make(chan struct{}),
		resetCh:      make(chan time.Duration, 1),
		stopCh:       make(chan struct{}, 1),
		shutdownCh:   make(chan struct{}),
	}
}

// NewPollTimer returns a ControlTimer based on time.After.
func NewPollTimer(interval time.Duration) *ControlTimer {
	return NewControlTimer(time.After, interval)
}

// Run is the timer loop. It starts with a tick after init and re-arms with
// the interval after every tick.
func (c *ControlTimer) Run(init time.Duration) {
	timer := c.timerFactory(init)
	for {
		select {
		case <-timer:
			select {
			case c.tickCh <- struct{}{}:
			case <-c.shutdownCh:
				return
			}
			timer = c.timerFactory(c.interval)
		case t := <-c.resetCh:
			timer = c.timerFactory(t)
		case <-c.stopCh:
			timer = nil
		case <-c.shutdownCh:
			return
		}
	}
}

// Ticks ...
func (c *ControlTimer) Ticks() <-chan struct{} {
	return c.tickCh
}

// Reset schedules the next tick after d. It never blocks; if a reset is
// already pending, the new one is dropped.
func (c *ControlTimer) Reset(d time.Duration) {
	select {
	case c.resetCh <- d:
	default:
	}
}

// Stop suspends ticking until the next Reset.
func (c *ControlTimer) Stop() {
	select {
	case c.stopCh <- struct{}{}:
	default:
	}
}

// Shutdown exits the Run loop. It is safe to call more than once.
func (c *ControlTimer) Shutdown() {
	c.shutdownOnce.Do(func() {
		close(c.shutdownCh)
	})
}
